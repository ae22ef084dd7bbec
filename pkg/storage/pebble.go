package storage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"github.com/RPG812/debridge-token-analytics/pkg/analytics"
	"github.com/RPG812/debridge-token-analytics/pkg/types"
)

var _ Store = (*PebbleStore)(nil)

// PebbleStore implements Store on an embedded PebbleDB.
// Daily metrics are aggregated in Go by the analytics package.
type PebbleStore struct {
	db     *pebble.DB
	config *Config
	logger *zap.Logger
	closed atomic.Bool

	// writeMu serializes writers that read-modify-write the event counter
	writeMu    sync.Mutex
	eventCount atomic.Uint64
}

// NewPebbleStore opens or creates a database at cfg.Path
func NewPebbleStore(cfg *Config) (*PebbleStore, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	opts := &pebble.Options{
		Cache:        pebble.NewCache(int64(cfg.Cache) << 20),
		MaxOpenFiles: cfg.MaxOpenFiles,
		MemTableSize: uint64(cfg.WriteBuffer) << 20,
		DisableWAL:   cfg.DisableWAL,
	}
	defer opts.Cache.Unref()

	db, err := pebble.Open(cfg.Path, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &PebbleStore{
		db:     db,
		config: cfg,
		logger: zap.NewNop(),
	}

	if err := s.loadEventCount(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to load event count: %w", err)
	}

	return s, nil
}

func (s *PebbleStore) loadEventCount() error {
	value, closer, err := s.db.Get(EventCountKey())
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			s.eventCount.Store(0)
			return nil
		}
		return fmt.Errorf("failed to get event count: %w", err)
	}
	defer closer.Close()

	count, err := DecodeUint64(value)
	if err != nil {
		return fmt.Errorf("failed to decode event count: %w", err)
	}
	s.eventCount.Store(count)
	return nil
}

// SetLogger sets the logger for the storage
func (s *PebbleStore) SetLogger(logger *zap.Logger) {
	s.logger = logger
}

func (s *PebbleStore) ensureNotClosed() error {
	if s.closed.Load() {
		return ErrClosed
	}
	return nil
}

// Close closes the storage and releases resources
func (s *PebbleStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// Ping reports the on-disk format of the open database
func (s *PebbleStore) Ping(ctx context.Context) (string, error) {
	if err := s.ensureNotClosed(); err != nil {
		return "", err
	}
	return fmt.Sprintf("pebble format %s", s.db.FormatMajorVersion()), nil
}

// has reports whether key exists
func (s *PebbleStore) has(key []byte) (bool, error) {
	_, closer, err := s.db.Get(key)
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	closer.Close()
	return true, nil
}

func (s *PebbleStore) prefixIter(prefix []byte) (*pebble.Iterator, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: incrementPrefix(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create iterator: %w", err)
	}
	return iter, nil
}

// ============================================================================
// Events
// ============================================================================

// GetProgress returns the lowest and highest stored block and the event count
func (s *PebbleStore) GetProgress(ctx context.Context) (types.CollectionProgress, error) {
	if err := s.ensureNotClosed(); err != nil {
		return types.CollectionProgress{}, err
	}

	iter, err := s.prefixIter(EventKeyPrefix())
	if err != nil {
		return types.CollectionProgress{}, err
	}
	defer iter.Close()

	progress := types.CollectionProgress{Count: s.eventCount.Load()}
	if !iter.First() {
		return progress, iter.Error()
	}
	minBlock, _, err := ParseEventKey(iter.Key())
	if err != nil {
		return progress, err
	}
	if !iter.Last() {
		return progress, iter.Error()
	}
	maxBlock, _, err := ParseEventKey(iter.Key())
	if err != nil {
		return progress, err
	}

	progress.MinBlock = &minBlock
	progress.MaxBlock = &maxBlock
	return progress, nil
}

// InsertEvents stores events in one atomic batch. Replayed events overwrite
// their previous copy and are not counted twice.
func (s *PebbleStore) InsertEvents(ctx context.Context, events []types.TransferEvent) error {
	if err := s.ensureNotClosed(); err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	batch := s.db.NewBatch()
	defer batch.Close()

	seen := make(map[string]struct{}, len(events))
	var added uint64
	for i := range events {
		e := &events[i]
		key := EventKey(e.BlockNumber, e.TxHash, e.LogIndex)

		if _, dup := seen[string(key)]; !dup {
			seen[string(key)] = struct{}{}
			exists, err := s.has(key)
			if err != nil {
				return fmt.Errorf("failed to check event %s: %w", e.Key(), err)
			}
			if !exists {
				added++
			}
		}

		data, err := EncodeEvent(e)
		if err != nil {
			return err
		}
		if err := batch.Set(key, data, nil); err != nil {
			return fmt.Errorf("failed to set event: %w", err)
		}
	}

	count := s.eventCount.Load() + added
	if err := batch.Set(EventCountKey(), EncodeUint64(count), nil); err != nil {
		return fmt.Errorf("failed to set event count: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit events: %w", err)
	}
	s.eventCount.Store(count)

	s.logger.Debug("Inserted events",
		zap.Int("batch", len(events)),
		zap.Uint64("new", added),
		zap.Uint64("total", count))
	return nil
}

// ============================================================================
// Transaction metadata
// ============================================================================

// GetHashesMissingMetadata walks events in block order and returns the
// first limit distinct tx hashes without metadata
func (s *PebbleStore) GetHashesMissingMetadata(ctx context.Context, limit int) ([]string, error) {
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, nil
	}

	iter, err := s.prefixIter(EventKeyPrefix())
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	seen := make(map[string]struct{})
	var missing []string
	for iter.First(); iter.Valid() && len(missing) < limit; iter.Next() {
		_, hash, err := ParseEventKey(iter.Key())
		if err != nil {
			return nil, err
		}
		if _, ok := seen[hash]; ok {
			continue
		}
		seen[hash] = struct{}{}

		exists, err := s.has(TxMetaKey(hash))
		if err != nil {
			return nil, fmt.Errorf("failed to check metadata of %s: %w", hash, err)
		}
		if !exists {
			missing = append(missing, hash)
		}
	}
	return missing, iter.Error()
}

// InsertMetadata stores metadata rows and indexes them by block time
func (s *PebbleStore) InsertMetadata(ctx context.Context, metas []types.TxMeta) error {
	if err := s.ensureNotClosed(); err != nil {
		return err
	}
	if len(metas) == 0 {
		return nil
	}

	batch := s.db.NewBatch()
	defer batch.Close()

	for i := range metas {
		m := &metas[i]
		data, err := EncodeTxMeta(m)
		if err != nil {
			return err
		}
		if err := batch.Set(TxMetaKey(m.TxHash), data, nil); err != nil {
			return fmt.Errorf("failed to set metadata: %w", err)
		}
		if err := batch.Set(TxTimeIndexKey(m.BlockTime.Unix(), m.TxHash), nil, nil); err != nil {
			return fmt.Errorf("failed to set time index: %w", err)
		}
	}

	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit metadata: %w", err)
	}
	return nil
}

func (s *PebbleStore) getTxMeta(hash string) (*types.TxMeta, error) {
	value, closer, err := s.db.Get(TxMetaKey(hash))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get metadata: %w", err)
	}
	defer closer.Close()
	return DecodeTxMeta(value)
}

// ============================================================================
// Daily metrics
// ============================================================================

// ResetDailyMetrics deletes every daily row
func (s *PebbleStore) ResetDailyMetrics(ctx context.Context) error {
	if err := s.ensureNotClosed(); err != nil {
		return err
	}
	prefix := DailyMetricKeyPrefix()
	if err := s.db.DeleteRange(prefix, incrementPrefix(prefix), pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete daily metrics: %w", err)
	}
	return nil
}

// ComputeDailyMetrics joins every event with its transaction metadata,
// skipping events not enriched yet, and writes one row per UTC day
func (s *PebbleStore) ComputeDailyMetrics(ctx context.Context) (int, error) {
	if err := s.ensureNotClosed(); err != nil {
		return 0, err
	}

	rows, err := s.joinedRows(ctx)
	if err != nil {
		return 0, err
	}
	daily := analytics.ComputeDaily(rows)

	batch := s.db.NewBatch()
	defer batch.Close()
	for i := range daily {
		data, err := EncodeDailyMetric(&daily[i])
		if err != nil {
			return 0, err
		}
		if err := batch.Set(DailyMetricKey(daily[i].Date), data, nil); err != nil {
			return 0, fmt.Errorf("failed to set daily metric: %w", err)
		}
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return 0, fmt.Errorf("failed to commit daily metrics: %w", err)
	}

	s.logger.Info("Computed daily metrics",
		zap.Int("rows", len(rows)),
		zap.Int("days", len(daily)))
	return len(daily), nil
}

// joinedRows returns the metadata of every event's transaction, once per event
func (s *PebbleStore) joinedRows(ctx context.Context) ([]types.TxMeta, error) {
	iter, err := s.prefixIter(EventKeyPrefix())
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	metas := make(map[string]*types.TxMeta)
	var rows []types.TxMeta
	for iter.First(); iter.Valid(); iter.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		_, hash, err := ParseEventKey(iter.Key())
		if err != nil {
			return nil, err
		}

		meta, ok := metas[hash]
		if !ok {
			meta, err = s.getTxMeta(hash)
			if err != nil && !errors.Is(err, ErrNotFound) {
				return nil, err
			}
			metas[hash] = meta
		}
		if meta != nil {
			rows = append(rows, *meta)
		}
	}
	return rows, iter.Error()
}

// DailyMetrics returns every daily row ordered by date
func (s *PebbleStore) DailyMetrics(ctx context.Context) ([]types.DailyMetric, error) {
	if err := s.ensureNotClosed(); err != nil {
		return nil, err
	}

	iter, err := s.prefixIter(DailyMetricKeyPrefix())
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []types.DailyMetric
	for iter.First(); iter.Valid(); iter.Next() {
		m, err := DecodeDailyMetric(iter.Value())
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, iter.Error()
}

// Summary combines collection progress with the block time span of the
// enriched transactions
func (s *PebbleStore) Summary(ctx context.Context) (types.Summary, error) {
	progress, err := s.GetProgress(ctx)
	if err != nil {
		return types.Summary{}, err
	}
	summary := types.Summary{
		EventsCollected: progress.Count,
		StartBlock:      progress.MinBlock,
		EndBlock:        progress.MaxBlock,
	}

	iter, err := s.prefixIter(TxTimeIndexKeyPrefix())
	if err != nil {
		return summary, err
	}
	defer iter.Close()

	if !iter.First() {
		return summary, iter.Error()
	}
	start, err := ParseTxTimeIndexKey(iter.Key())
	if err != nil {
		return summary, err
	}
	if !iter.Last() {
		return summary, iter.Error()
	}
	end, err := ParseTxTimeIndexKey(iter.Key())
	if err != nil {
		return summary, err
	}

	periodStart := time.Unix(start, 0).UTC()
	periodEnd := time.Unix(end, 0).UTC()
	summary.PeriodStart = &periodStart
	summary.PeriodEnd = &periodEnd
	return summary, nil
}
