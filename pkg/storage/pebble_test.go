package storage

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RPG812/debridge-token-analytics/internal/testutil"
	"github.com/RPG812/debridge-token-analytics/pkg/types"
)

func setupTestStore(t *testing.T) (*PebbleStore, string) {
	t.Helper()

	dir := t.TempDir()
	store, err := NewPebbleStore(DefaultConfig(dir))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store, dir
}

func event(block uint64, n int, logIndex uint) types.TransferEvent {
	return types.TransferEvent{
		TxHash:      testutil.TxHash(n),
		LogIndex:    logIndex,
		BlockNumber: block,
		From:        "0x1111111111111111111111111111111111111111",
		To:          "0xef4fb24ad0916217251f553c0596f8edc630eb66",
		Value:       big.NewInt(int64(n) * 1_000_000),
	}
}

func meta(n int, block uint64, at time.Time, gasUsed uint64, priceGwei int64) types.TxMeta {
	return types.TxMeta{
		TxHash:            testutil.TxHash(n),
		BlockNumber:       block,
		BlockTime:         at,
		GasUsed:           gasUsed,
		EffectiveGasPrice: new(big.Int).Mul(big.NewInt(priceGwei), big.NewInt(1_000_000_000)),
	}
}

func TestNewPebbleStore_InvalidConfig(t *testing.T) {
	_, err := NewPebbleStore(nil)
	assert.Error(t, err)

	_, err = NewPebbleStore(&Config{})
	assert.EqualError(t, err, "invalid config: path cannot be empty")
}

func TestPebbleStore_Closed(t *testing.T) {
	store, _ := setupTestStore(t)
	require.NoError(t, store.Close())
	require.NoError(t, store.Close())

	_, err := store.GetProgress(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, store.InsertEvents(context.Background(), []types.TransferEvent{event(1, 1, 0)}), ErrClosed)
}

func TestPebbleStore_Progress(t *testing.T) {
	store, dir := setupTestStore(t)
	ctx := context.Background()

	progress, err := store.GetProgress(ctx)
	require.NoError(t, err)
	assert.Nil(t, progress.MinBlock)
	assert.Nil(t, progress.MaxBlock)
	assert.Zero(t, progress.Count)

	batch := []types.TransferEvent{event(900, 1, 0), event(1000, 2, 3), event(950, 3, 1)}
	require.NoError(t, store.InsertEvents(ctx, batch))

	progress, err = store.GetProgress(ctx)
	require.NoError(t, err)
	require.NotNil(t, progress.MinBlock)
	assert.Equal(t, uint64(900), *progress.MinBlock)
	assert.Equal(t, uint64(1000), *progress.MaxBlock)
	assert.Equal(t, uint64(3), progress.Count)

	// replaying a batch overwrites instead of duplicating
	require.NoError(t, store.InsertEvents(ctx, append(batch, event(850, 4, 0), event(850, 4, 0))))
	progress, err = store.GetProgress(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), progress.Count)
	assert.Equal(t, uint64(850), *progress.MinBlock)

	require.NoError(t, store.Close())
	reopened, err := NewPebbleStore(DefaultConfig(dir))
	require.NoError(t, err)
	defer reopened.Close()

	progress, err = reopened.GetProgress(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), progress.Count)
}

func TestPebbleStore_HashesMissingMetadata(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertEvents(ctx, []types.TransferEvent{
		event(10, 1, 0),
		event(10, 1, 1),
		event(11, 2, 0),
		event(12, 3, 0),
	}))

	missing, err := store.GetHashesMissingMetadata(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{testutil.TxHash(1), testutil.TxHash(2), testutil.TxHash(3)}, missing)

	missing, err = store.GetHashesMissingMetadata(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, missing, 2)

	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.InsertMetadata(ctx, []types.TxMeta{meta(1, 10, at, 21000, 10)}))

	missing, err = store.GetHashesMissingMetadata(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{testutil.TxHash(2), testutil.TxHash(3)}, missing)

	got, err := store.getTxMeta(testutil.TxHash(1))
	require.NoError(t, err)
	assert.Equal(t, at, got.BlockTime)
	assert.Equal(t, uint64(21000), got.GasUsed)
}

func TestPebbleStore_DailyMetricsAndSummary(t *testing.T) {
	store, _ := setupTestStore(t)
	ctx := context.Background()

	day1 := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	day2 := time.Date(2024, 5, 2, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.InsertEvents(ctx, []types.TransferEvent{
		event(100, 1, 0),
		event(100, 1, 1),
		event(200, 2, 0),
		event(300, 3, 0),
	}))
	require.NoError(t, store.InsertMetadata(ctx, []types.TxMeta{
		meta(1, 100, day1, 21000, 10),
		meta(2, 200, day2, 50000, 20),
	}))

	days, err := store.ComputeDailyMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, days)

	rows, err := store.DailyMetrics(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "2024-05-01", rows[0].Date)
	// tx 1 has two transfers, so it is counted twice
	assert.Equal(t, "420000000000000", rows[0].GasCostWei.String())
	assert.Equal(t, "2024-05-02", rows[1].Date)
	assert.Equal(t, "1000000000000000", rows[1].GasCostWei.String())
	assert.Equal(t, "15000000000", rows[1].MA7Wei.String())
	assert.InDelta(t, 15.0, rows[1].MA7Gwei, 1e-9)
	assert.InDelta(t, 0.00142, rows[1].CumulativeGasCostEth, 1e-12)

	summary, err := store.Summary(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), summary.EventsCollected)
	assert.Equal(t, uint64(100), *summary.StartBlock)
	assert.Equal(t, uint64(300), *summary.EndBlock)
	require.NotNil(t, summary.PeriodStart)
	assert.Equal(t, day1, *summary.PeriodStart)
	assert.Equal(t, day2, *summary.PeriodEnd)

	require.NoError(t, store.ResetDailyMetrics(ctx))
	rows, err = store.DailyMetrics(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestPebbleStore_SummaryEmpty(t *testing.T) {
	store, _ := setupTestStore(t)

	summary, err := store.Summary(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.Summary{}, summary)
}

func TestPebbleStore_Ping(t *testing.T) {
	store, _ := setupTestStore(t)

	version, err := store.Ping(context.Background())
	require.NoError(t, err)
	assert.Contains(t, version, "pebble")
}
