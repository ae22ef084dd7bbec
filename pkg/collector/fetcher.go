package collector

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/RPG812/debridge-token-analytics/pkg/metrics"
	"github.com/RPG812/debridge-token-analytics/pkg/types"
)

// LogSource returns the token's Transfer logs for a block range.
// Throttling must be reported as an error matching types.ErrRateLimited.
type LogSource interface {
	GetLogs(ctx context.Context, r types.BlockRange) ([]ethtypes.Log, error)
}

// BatchOutcome is the result of one batch of ranges. When RateLimited is set
// Events is empty: partial results of a throttled batch are discarded.
type BatchOutcome struct {
	Events      []types.TransferEvent
	RateLimited bool
	// Dispatched counts ranges whose request actually went out
	Dispatched int
}

// Fetcher fetches a batch of ranges over a bounded pool of workers
type Fetcher struct {
	source      LogSource
	target      common.Address
	concurrency int
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// NewFetcher creates a fetcher for events involving target
func NewFetcher(source LogSource, target common.Address, concurrency int, logger *zap.Logger, m *metrics.Metrics) *Fetcher {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if m == nil {
		m = metrics.Nop()
	}
	return &Fetcher{
		source:      source,
		target:      target,
		concurrency: concurrency,
		logger:      logger,
		metrics:     m,
	}
}

// FetchBatch fetches every range and concatenates the decoded events.
//
// The batch shares one cancellation: the first worker that is throttled (or
// fails) cancels it, and workers that have not sent their request yet return
// without calling the source. Requests already in flight run on ctx and are
// left to finish. A throttled batch is reported through BatchOutcome, any
// other failure as an error.
func (f *Fetcher) FetchBatch(ctx context.Context, ranges []types.BlockRange) (BatchOutcome, error) {
	if len(ranges) == 0 {
		return BatchOutcome{}, nil
	}

	results := make([][]types.TransferEvent, len(ranges))
	failures := make([]error, len(ranges))
	var (
		rateLimited atomic.Bool
		dispatched  atomic.Int32
		malformed   atomic.Int32
	)

	g, batchCtx := errgroup.WithContext(ctx)
	g.SetLimit(f.concurrency)

	for i, r := range ranges {
		g.Go(func() error {
			if batchCtx.Err() != nil {
				return nil
			}
			dispatched.Add(1)

			logs, err := f.source.GetLogs(ctx, r)
			if err != nil {
				if errors.Is(err, types.ErrRateLimited) {
					rateLimited.Store(true)
					f.logger.Debug("Range rate limited", zap.Stringer("range", r))
					return err
				}
				failures[i] = fmt.Errorf("failed to fetch logs for range %s: %w", r, err)
				return failures[i]
			}

			events, skipped := DecodeTransfers(logs, f.target)
			malformed.Add(int32(skipped))
			results[i] = events
			return nil
		})
	}

	err := g.Wait()
	if skipped := malformed.Load(); skipped > 0 {
		f.metrics.MalformedLogs.Add(float64(skipped))
	}

	outcome := BatchOutcome{Dispatched: int(dispatched.Load())}
	if rateLimited.Load() {
		// the batch is retried at the same cursor; other failures go with it
		for _, failure := range failures {
			if failure != nil {
				f.logger.Warn("Dropping range failure from throttled batch", zap.Error(failure))
			}
		}
		outcome.RateLimited = true
		return outcome, nil
	}
	if err != nil {
		return outcome, err
	}
	if err := ctx.Err(); err != nil {
		return outcome, err
	}

	total := 0
	for _, events := range results {
		total += len(events)
	}
	outcome.Events = make([]types.TransferEvent, 0, total)
	for _, events := range results {
		outcome.Events = append(outcome.Events, events...)
	}
	return outcome, nil
}
