// Package liveness reports pipeline progress so a supervisor can tell a
// slow run from a stuck one.
package liveness

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/RPG812/debridge-token-analytics/pkg/types"
)

// Log writes heartbeats to a logger. At most one line per interval is
// written at Info level; the rest go to Debug.
type Log struct {
	logger   *zap.Logger
	interval time.Duration

	mu   sync.Mutex
	last time.Time
}

// NewLog creates a log heartbeat
func NewLog(logger *zap.Logger, interval time.Duration) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger, interval: interval}
}

// Heartbeat logs the beat
func (l *Log) Heartbeat(_ context.Context, beat types.Beat) {
	l.mu.Lock()
	info := beat.At.Sub(l.last) >= l.interval
	if info {
		l.last = beat.At
	}
	l.mu.Unlock()

	fields := []zap.Field{
		zap.String("step", beat.Step),
		zap.Int("processed", beat.Processed),
	}
	if beat.Cursor >= 0 {
		fields = append(fields, zap.Int64("cursor", beat.Cursor))
	}
	if beat.Total > 0 {
		fields = append(fields, zap.Int("total", beat.Total))
	}

	if info {
		l.logger.Info("Heartbeat", fields...)
		return
	}
	l.logger.Debug("Heartbeat", fields...)
}

// Nop discards heartbeats
type Nop struct{}

// Heartbeat does nothing
func (Nop) Heartbeat(context.Context, types.Beat) {}

// Multi fans a heartbeat out to several receivers
type Multi []interface {
	Heartbeat(ctx context.Context, beat types.Beat)
}

// Heartbeat forwards the beat to every receiver
func (m Multi) Heartbeat(ctx context.Context, beat types.Beat) {
	for _, l := range m {
		l.Heartbeat(ctx, beat)
	}
}
