package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/RPG812/debridge-token-analytics/pkg/metrics"
	"github.com/RPG812/debridge-token-analytics/pkg/retry"
	"github.com/RPG812/debridge-token-analytics/pkg/types"
)

// ChainSource is the log source plus the chain head, used for a fresh start
type ChainSource interface {
	LogSource
	GetLatestBlockNumber(ctx context.Context) (uint64, error)
}

// ProgressStore reports what has already been collected
type ProgressStore interface {
	GetProgress(ctx context.Context) (types.CollectionProgress, error)
}

// EventSink persists accepted events
type EventSink interface {
	InsertEvents(ctx context.Context, events []types.TransferEvent) error
}

// Liveness receives a heartbeat after every unit of progress
type Liveness interface {
	Heartbeat(ctx context.Context, beat types.Beat)
}

// Config holds collector configuration
type Config struct {
	// Target is the total number of events wanted, including already stored ones
	Target int
	// Address is the tracked address; events must have it as sender or receiver
	Address common.Address
	// InitialStep is the starting number of blocks per range
	InitialStep uint64
	// Concurrency is the number of ranges per batch and the fetch pool size
	Concurrency    int
	RateLimitDelay time.Duration
	BatchDelay     time.Duration
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Target <= 0 {
		return fmt.Errorf("target must be positive")
	}
	if c.Address == (common.Address{}) {
		return fmt.Errorf("address cannot be empty")
	}
	if c.InitialStep == 0 {
		return fmt.Errorf("initial step must be positive")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	return nil
}

// Result summarizes one collector run
type Result struct {
	Collected   int
	Remaining   int
	Batches     int
	RateLimited int
	FinalStep   uint64
	// ScannedFrom and ScannedTo bound the blocks covered by accepted batches
	ScannedFrom uint64
	ScannedTo   uint64
	Scanned     bool
	// ReachedGenesis is set when block 0 was scanned before the target was met
	ReachedGenesis bool
}

// Collector walks the chain backwards from the newest unscanned block,
// adapting the range size to the provider's throttling.
type Collector struct {
	config   *Config
	source   ChainSource
	fetcher  *Fetcher
	progress ProgressStore
	sink     EventSink
	liveness Liveness
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// New creates a collector
func New(cfg *Config, source ChainSource, progress ProgressStore, sink EventSink, liveness Liveness, logger *zap.Logger, m *metrics.Metrics) (*Collector, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if source == nil || progress == nil || sink == nil {
		return nil, fmt.Errorf("source, progress store and sink are required")
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

	return &Collector{
		config:   cfg,
		source:   source,
		fetcher:  NewFetcher(source, cfg.Address, cfg.Concurrency, logger, m),
		progress: progress,
		sink:     sink,
		liveness: liveness,
		logger:   logger,
		metrics:  m,
	}, nil
}

// scanState is threaded through the collection loop
type scanState struct {
	cursor      int64
	collected   int
	rate        RateState
	batches     int
	rateLimited int
	scannedFrom uint64
	scannedTo   uint64
	scanned     bool
}

func (s scanState) result(remaining int) Result {
	return Result{
		Collected:   s.collected,
		Remaining:   remaining,
		Batches:     s.batches,
		RateLimited: s.rateLimited,
		FinalStep:   s.rate.Current,
		ScannedFrom: s.scannedFrom,
		ScannedTo:   s.scannedTo,
		Scanned:     s.scanned,
	}
}

// Run collects events until the target is met or block 0 has been scanned
func (c *Collector) Run(ctx context.Context) (Result, error) {
	progress, err := c.progress.GetProgress(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read collection progress: %w", err)
	}
	if progress.Count > 0 {
		c.logger.Info("Already collected events", zap.Uint64("count", progress.Count))
	}

	remaining := c.config.Target - int(progress.Count)
	if remaining <= 0 {
		c.logger.Info("Already have enough events",
			zap.Uint64("count", progress.Count),
			zap.Int("target", c.config.Target))
		return Result{}, nil
	}

	start, err := c.startCursor(ctx, progress)
	if err != nil {
		return Result{}, err
	}

	st := scanState{
		cursor: start,
		rate:   NewRateState(c.config.InitialStep),
	}
	c.logger.Info("Starting collection",
		zap.Int64("cursor", st.cursor),
		zap.Int("remaining", remaining),
		zap.Uint64("step", st.rate.Current))

	for st.collected < remaining {
		ranges := Schedule(st.cursor, st.rate.Current, c.config.Concurrency)
		if len(ranges) == 0 {
			break
		}

		outcome, err := c.fetcher.FetchBatch(ctx, ranges)
		if err != nil {
			return st.result(remaining), fmt.Errorf("failed to fetch batch at cursor %d: %w", st.cursor, err)
		}

		if outcome.RateLimited {
			st, err = c.onRateLimited(ctx, st)
			if err != nil {
				return st.result(remaining), err
			}
			continue
		}

		st, err = c.onAccepted(ctx, st, ranges, outcome.Events)
		if err != nil {
			return st.result(remaining), err
		}

		if st.collected >= remaining || st.cursor < 0 {
			break
		}
		if err := retry.Sleep(ctx, c.config.BatchDelay); err != nil {
			return st.result(remaining), err
		}
	}

	res := st.result(remaining)
	res.ReachedGenesis = st.cursor < 0 && st.collected < remaining
	if res.ReachedGenesis {
		c.logger.Warn("Reached genesis before target",
			zap.Int("collected", st.collected),
			zap.Int("remaining", remaining))
	}

	c.logger.Info("Collection done",
		zap.Int("collected", res.Collected),
		zap.Uint64("scanned_from", res.ScannedFrom),
		zap.Uint64("scanned_to", res.ScannedTo),
		zap.Int("batches", res.Batches),
		zap.Int("rate_limited", res.RateLimited))

	return res, nil
}

func (c *Collector) startCursor(ctx context.Context, progress types.CollectionProgress) (int64, error) {
	if progress.MinBlock != nil {
		return int64(*progress.MinBlock) - 1, nil
	}
	head, err := c.source.GetLatestBlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest block: %w", err)
	}
	return int64(head), nil
}

func (c *Collector) onRateLimited(ctx context.Context, st scanState) (scanState, error) {
	st.rate = st.rate.OnRateLimited()
	st.rateLimited++

	c.metrics.RateLimits.Inc()
	c.metrics.Batches.WithLabelValues("rate_limited").Inc()
	c.metrics.BlockStep.Set(float64(st.rate.Current))
	c.logger.Warn("Rate limited, shrinking block step",
		zap.Int64("cursor", st.cursor),
		zap.Uint64("step", st.rate.Current),
		zap.Duration("delay", c.config.RateLimitDelay))

	c.liveness.Heartbeat(ctx, c.beat(st))
	return st, retry.Sleep(ctx, c.config.RateLimitDelay)
}

func (c *Collector) onAccepted(ctx context.Context, st scanState, ranges []types.BlockRange, events []types.TransferEvent) (scanState, error) {
	if len(events) > 0 {
		if err := c.sink.InsertEvents(ctx, events); err != nil {
			return st, fmt.Errorf("%w: failed to insert %d events: %w", types.ErrStorage, len(events), err)
		}
		st.collected += len(events)
		c.metrics.EventsInserted.Add(float64(len(events)))
	}

	lowest := ranges[len(ranges)-1].From
	highest := ranges[0].To
	if !st.scanned || highest > st.scannedTo {
		st.scannedTo = highest
	}
	st.scannedFrom = lowest
	st.scanned = true

	st.rate = st.rate.OnBatchAccepted(len(events))
	st.cursor = int64(lowest) - 1
	st.batches++

	c.metrics.Batches.WithLabelValues("accepted").Inc()
	c.metrics.BlocksScanned.Add(float64(highest - lowest + 1))
	c.metrics.BlockStep.Set(float64(st.rate.Current))
	c.metrics.Cursor.Set(float64(st.cursor))
	c.liveness.Heartbeat(ctx, c.beat(st))

	c.logger.Info("Batch accepted",
		zap.Int("events_inserted", len(events)),
		zap.Int("total", st.collected),
		zap.Uint64("from", lowest),
		zap.Uint64("to", highest),
		zap.Uint64("next_step", st.rate.Current))

	return st, nil
}

func (c *Collector) beat(st scanState) types.Beat {
	return types.Beat{
		Step:      "collect",
		Cursor:    st.cursor,
		Processed: st.collected,
		Total:     c.config.Target,
		At:        time.Now(),
	}
}

type nopLiveness struct{}

func (nopLiveness) Heartbeat(context.Context, types.Beat) {}
