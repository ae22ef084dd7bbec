package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/RPG812/debridge-token-analytics/pkg/types"
)

// funcSource adapts a function to LogSource
type funcSource func(ctx context.Context, r types.BlockRange) ([]ethtypes.Log, error)

func (f funcSource) GetLogs(ctx context.Context, r types.BlockRange) ([]ethtypes.Log, error) {
	return f(ctx, r)
}

func TestFetchBatch_ConcatenatesInRangeOrder(t *testing.T) {
	src := newMockSource(0)
	src.addTransfer(95, tracked, other)
	src.addTransfer(85, other, tracked)
	src.addTransfer(75, other, other)

	f := NewFetcher(src, tracked, 3, nil, nil)
	out, err := f.FetchBatch(context.Background(), Schedule(99, 10, 3))

	require.NoError(t, err)
	assert.False(t, out.RateLimited)
	assert.Equal(t, 3, out.Dispatched)
	require.Len(t, out.Events, 2)
	assert.Equal(t, uint64(95), out.Events[0].BlockNumber)
	assert.Equal(t, uint64(85), out.Events[1].BlockNumber)
}

func TestFetchBatch_EmptyRanges(t *testing.T) {
	out, err := NewFetcher(newMockSource(0), tracked, 2, nil, nil).FetchBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, out.Events)
}

func TestFetchBatch_RateLimitSkipsUndispatchedRanges(t *testing.T) {
	var calls atomic.Int32
	src := funcSource(func(context.Context, types.BlockRange) ([]ethtypes.Log, error) {
		calls.Add(1)
		return nil, fmt.Errorf("eth_getLogs: %w", types.ErrRateLimited)
	})

	f := NewFetcher(src, tracked, 1, nil, nil)
	out, err := f.FetchBatch(context.Background(), Schedule(1000, 10, 5))

	require.NoError(t, err)
	assert.True(t, out.RateLimited)
	assert.Empty(t, out.Events)
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, 1, out.Dispatched)
}

func TestFetchBatch_RateLimitDiscardsPartialResults(t *testing.T) {
	src := newMockSource(0)
	for b := uint64(0); b <= 100; b++ {
		src.addTransfer(b, tracked, other)
	}
	src.throttle = func(_ int, r types.BlockRange) bool { return r.To == 79 }

	out, err := NewFetcher(src, tracked, 5, nil, nil).FetchBatch(context.Background(), Schedule(99, 10, 3))

	require.NoError(t, err)
	assert.True(t, out.RateLimited)
	assert.Empty(t, out.Events)
}

func TestFetchBatch_InFlightRequestsAreNotPreempted(t *testing.T) {
	slowStarted := make(chan struct{})
	throttled := make(chan struct{})
	var slowCtxErr error
	var mu sync.Mutex

	src := funcSource(func(ctx context.Context, r types.BlockRange) ([]ethtypes.Log, error) {
		if r.To == 99 {
			close(slowStarted)
			<-throttled
			time.Sleep(20 * time.Millisecond)
			mu.Lock()
			slowCtxErr = ctx.Err()
			mu.Unlock()
			return nil, nil
		}
		<-slowStarted
		defer close(throttled)
		return nil, types.ErrRateLimited
	})

	out, err := NewFetcher(src, tracked, 2, nil, nil).FetchBatch(context.Background(), Schedule(99, 10, 2))

	require.NoError(t, err)
	assert.True(t, out.RateLimited)
	assert.Equal(t, 2, out.Dispatched)
	mu.Lock()
	defer mu.Unlock()
	assert.NoError(t, slowCtxErr, "in-flight request must keep its context")
}

func TestFetchBatch_FatalError(t *testing.T) {
	boom := errors.New("retries exhausted")
	src := funcSource(func(context.Context, types.BlockRange) ([]ethtypes.Log, error) {
		return nil, boom
	})

	out, err := NewFetcher(src, tracked, 2, nil, nil).FetchBatch(context.Background(), Schedule(99, 10, 4))

	assert.ErrorIs(t, err, boom)
	assert.False(t, out.RateLimited)
	assert.Empty(t, out.Events)
}

func TestFetchBatch_RateLimitLogsDroppedFailure(t *testing.T) {
	boom := errors.New("retries exhausted")
	var started sync.WaitGroup
	started.Add(2)
	src := funcSource(func(_ context.Context, r types.BlockRange) ([]ethtypes.Log, error) {
		started.Done()
		started.Wait()
		if r.To == 99 {
			return nil, types.ErrRateLimited
		}
		return nil, boom
	})

	core, logs := observer.New(zapcore.WarnLevel)
	out, err := NewFetcher(src, tracked, 2, zap.New(core), nil).FetchBatch(context.Background(), Schedule(99, 10, 2))

	require.NoError(t, err)
	assert.True(t, out.RateLimited)
	assert.Equal(t, 2, out.Dispatched)

	dropped := logs.FilterMessage("Dropping range failure from throttled batch").All()
	require.Len(t, dropped, 1)
	assert.Contains(t, dropped[0].ContextMap()["error"], "retries exhausted")
}

func TestFetchBatch_BoundedConcurrency(t *testing.T) {
	var inFlight, peak atomic.Int32
	src := funcSource(func(context.Context, types.BlockRange) ([]ethtypes.Log, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		inFlight.Add(-1)
		return nil, nil
	})

	_, err := NewFetcher(src, tracked, 3, nil, nil).FetchBatch(context.Background(), Schedule(10_000, 10, 12))

	require.NoError(t, err)
	assert.LessOrEqual(t, peak.Load(), int32(3))
}
