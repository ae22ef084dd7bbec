package publish

import (
	"context"

	"go.uber.org/zap"

	"github.com/RPG812/debridge-token-analytics/pkg/types"
)

// EventSink persists accepted events
type EventSink interface {
	InsertEvents(ctx context.Context, events []types.TransferEvent) error
}

// Publisher sends events downstream
type Publisher interface {
	Publish(ctx context.Context, events []types.TransferEvent) error
}

// Sink persists events and then publishes them. The store stays the source
// of truth: a publish failure is logged and does not fail the insert.
type Sink struct {
	store     EventSink
	publisher Publisher
	logger    *zap.Logger
}

// NewSink wraps store so every persisted batch is also published
func NewSink(store EventSink, publisher Publisher, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{store: store, publisher: publisher, logger: logger}
}

// InsertEvents stores the events, then publishes them
func (s *Sink) InsertEvents(ctx context.Context, events []types.TransferEvent) error {
	if err := s.store.InsertEvents(ctx, events); err != nil {
		return err
	}
	if err := s.publisher.Publish(ctx, events); err != nil {
		s.logger.Warn("Failed to publish events",
			zap.Int("events", len(events)),
			zap.Error(err))
	}
	return nil
}
