package enrich

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/RPG812/debridge-token-analytics/pkg/metrics"
	"github.com/RPG812/debridge-token-analytics/pkg/retry"
	"github.com/RPG812/debridge-token-analytics/pkg/types"
)

// ReceiptSource provides receipts and block times
type ReceiptSource interface {
	GetTransactionReceipt(ctx context.Context, hash string) (*types.Receipt, error)
	GetBlockTimestamp(ctx context.Context, number uint64) (time.Time, error)
}

// MetaStore lists collected transactions that have no metadata yet
type MetaStore interface {
	GetHashesMissingMetadata(ctx context.Context, limit int) ([]string, error)
}

// MetaSink persists transaction metadata
type MetaSink interface {
	InsertMetadata(ctx context.Context, metas []types.TxMeta) error
}

// Liveness receives a heartbeat after every page
type Liveness interface {
	Heartbeat(ctx context.Context, beat types.Beat)
}

// Config holds enrichment configuration
type Config struct {
	PageSize    int
	Concurrency int
	PageDelay   time.Duration
	// MaxHashAttempts bounds the failures tolerated per hash within one run
	MaxHashAttempts int
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.PageSize <= 0 {
		return fmt.Errorf("page size must be positive")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	if c.MaxHashAttempts <= 0 {
		return fmt.Errorf("max hash attempts must be positive")
	}
	return nil
}

// Result summarizes one enrichment run
type Result struct {
	Processed int
	Failures  int
	Pages     int
	GaveUp    int
}

// Engine fills in receipt data for collected transactions, one page of
// missing hashes at a time.
type Engine struct {
	config   *Config
	source   ReceiptSource
	store    MetaStore
	sink     MetaSink
	liveness Liveness
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// New creates an enrichment engine
func New(cfg *Config, source ReceiptSource, store MetaStore, sink MetaSink, liveness Liveness, logger *zap.Logger, m *metrics.Metrics) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if source == nil || store == nil || sink == nil {
		return nil, fmt.Errorf("source, store and sink are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.Nop()
	}
	if liveness == nil {
		liveness = nopLiveness{}
	}

	return &Engine{
		config:   cfg,
		source:   source,
		store:    store,
		sink:     sink,
		liveness: liveness,
		logger:   logger,
		metrics:  m,
	}, nil
}

// run holds the state scoped to one Run call
type run struct {
	cache    *TimestampCache
	emitted  map[string]struct{}
	attempts map[string]int
	// skipped holds hashes the store still reports that this run will not
	// request again: given up on, or already emitted.
	skipped map[string]struct{}
	result  Result
}

// Run enriches pages of missing hashes until the store reports none.
// A hash that fails stays missing and is retried on a later page, up to
// MaxHashAttempts times. Each fetch asks for PageSize extra hashes beyond the
// skipped ones so that work behind them is still reached. When only skipped
// hashes remain the run ends without error.
func (e *Engine) Run(ctx context.Context) (Result, error) {
	r := &run{
		cache:    NewTimestampCache(),
		emitted:  make(map[string]struct{}),
		attempts: make(map[string]int),
		skipped:  make(map[string]struct{}),
	}

	for {
		limit := e.config.PageSize + len(r.skipped)
		hashes, err := e.store.GetHashesMissingMetadata(ctx, limit)
		if err != nil {
			return r.result, fmt.Errorf("%w: failed to list missing hashes: %w", types.ErrStorage, err)
		}
		if len(hashes) == 0 {
			e.logger.Info("No missing transactions",
				zap.Int("processed", r.result.Processed),
				zap.Int("failures", r.result.Failures),
				zap.Int("cached_blocks", r.cache.Len()))
			return r.result, nil
		}

		work := r.pending(hashes, e.config.MaxHashAttempts, e.config.PageSize)
		if len(work) == 0 {
			if len(hashes) == limit {
				// the page was all newly skipped hashes; widen and look again
				continue
			}
			e.logger.Warn("Only skipped transactions remain",
				zap.Int("remaining", len(hashes)),
				zap.Int("gave_up", r.result.GaveUp),
				zap.Int("processed", r.result.Processed),
				zap.Int("failures", r.result.Failures))
			return r.result, nil
		}

		if err := e.page(ctx, r, work); err != nil {
			return r.result, err
		}

		e.liveness.Heartbeat(ctx, types.Beat{
			Step:      "enrich",
			Cursor:    -1,
			Processed: r.result.Processed,
			At:        time.Now(),
		})
		if err := retry.Sleep(ctx, e.config.PageDelay); err != nil {
			return r.result, err
		}
	}
}

// pending drops hashes that were already emitted or given up on, recording
// them as skipped, and returns at most pageSize of the rest
func (r *run) pending(hashes []string, maxAttempts, pageSize int) []string {
	work := make([]string, 0, pageSize)
	for _, h := range hashes {
		if _, ok := r.emitted[h]; ok {
			r.skipped[h] = struct{}{}
			continue
		}
		if r.attempts[h] >= maxAttempts {
			r.skipped[h] = struct{}{}
			continue
		}
		if len(work) < pageSize {
			work = append(work, h)
		}
	}
	return work
}

func (e *Engine) page(ctx context.Context, r *run, hashes []string) error {
	metas := make([]*types.TxMeta, len(hashes))
	errs := make([]error, len(hashes))

	var g errgroup.Group
	g.SetLimit(e.config.Concurrency)
	for i, hash := range hashes {
		g.Go(func() error {
			metas[i], errs[i] = e.enrichOne(ctx, r.cache, hash)
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}

	batch := make([]types.TxMeta, 0, len(hashes))
	for i, hash := range hashes {
		if errs[i] != nil {
			r.result.Failures++
			r.attempts[hash]++
			e.metrics.EnrichmentFailures.Inc()
			e.logger.Warn("Failed to enrich transaction",
				zap.String("tx_hash", hash),
				zap.Int("attempt", r.attempts[hash]),
				zap.Error(errs[i]))
			if r.attempts[hash] == e.config.MaxHashAttempts {
				r.result.GaveUp++
				e.logger.Warn("Giving up on transaction for this run",
					zap.String("tx_hash", hash),
					zap.Int("attempts", r.attempts[hash]))
			}
			continue
		}
		batch = append(batch, *metas[i])
	}

	r.result.Pages++
	e.metrics.EnrichmentPages.Inc()

	if len(batch) == 0 {
		return nil
	}
	if err := e.sink.InsertMetadata(ctx, batch); err != nil {
		return fmt.Errorf("%w: failed to insert %d tx_meta rows: %w", types.ErrStorage, len(batch), err)
	}
	for _, m := range batch {
		r.emitted[m.TxHash] = struct{}{}
	}
	r.result.Processed += len(batch)
	e.metrics.MetadataInserted.Add(float64(len(batch)))

	e.logger.Info("Page enriched",
		zap.Int("tx_meta_inserted", len(batch)),
		zap.Int("failed", len(hashes)-len(batch)),
		zap.Int("total", r.result.Processed))
	return nil
}

func (e *Engine) enrichOne(ctx context.Context, cache *TimestampCache, hash string) (*types.TxMeta, error) {
	receipt, err := e.source.GetTransactionReceipt(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("failed to get receipt: %w", err)
	}
	if receipt == nil {
		return nil, fmt.Errorf("receipt not found")
	}

	blockTime, err := e.blockTime(ctx, cache, receipt.BlockNumber)
	if err != nil {
		return nil, err
	}

	return &types.TxMeta{
		TxHash:            hash,
		BlockNumber:       receipt.BlockNumber,
		BlockTime:         blockTime,
		GasUsed:           receipt.GasUsed,
		EffectiveGasPrice: receipt.EffectiveGasPrice,
	}, nil
}

func (e *Engine) blockTime(ctx context.Context, cache *TimestampCache, block uint64) (time.Time, error) {
	if at, ok := cache.Get(block); ok {
		e.metrics.TimestampCacheHits.WithLabelValues("hit").Inc()
		return at, nil
	}
	e.metrics.TimestampCacheHits.WithLabelValues("miss").Inc()

	at, err := e.source.GetBlockTimestamp(ctx, block)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to get timestamp of block %d: %w", block, err)
	}
	cache.Put(block, at)
	return at, nil
}

type nopLiveness struct{}

func (nopLiveness) Heartbeat(context.Context, types.Beat) {}
