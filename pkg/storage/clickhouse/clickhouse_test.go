package clickhouse

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RPG812/debridge-token-analytics/pkg/types"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{"valid", Config{Addr: []string{"localhost:9000"}, Database: "analytics"}, ""},
		{"no address", Config{Database: "analytics"}, "at least one address is required"},
		{"no database", Config{Addr: []string{"localhost:9000"}}, "database cannot be empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}

func TestProgressFrom(t *testing.T) {
	empty := progressFrom(0, 0, 0)
	assert.Nil(t, empty.MinBlock)
	assert.Nil(t, empty.MaxBlock)

	p := progressFrom(12, 100, 200)
	require.NotNil(t, p.MinBlock)
	assert.Equal(t, uint64(100), *p.MinBlock)
	assert.Equal(t, uint64(200), *p.MaxBlock)
	assert.Equal(t, uint64(12), p.Count)
}

func TestSchema_TablesKeyedByNaturalKey(t *testing.T) {
	require.Len(t, schema, 3)
	assert.Contains(t, schema[0].ddl, "ORDER BY (tx_hash, log_index)")
	assert.Contains(t, schema[1].ddl, "ORDER BY tx_hash")
	assert.True(t, strings.Contains(computeDailyMetricsQuery, "ROWS BETWEEN 6 PRECEDING AND CURRENT ROW"))
}

// TestStore_Integration runs against a real server when
// ANALYTICS_TEST_CLICKHOUSE_ADDR is set.
func TestStore_Integration(t *testing.T) {
	addr := os.Getenv("ANALYTICS_TEST_CLICKHOUSE_ADDR")
	if addr == "" {
		t.Skip("ANALYTICS_TEST_CLICKHOUSE_ADDR not set")
	}
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	store, err := Open(ctx, &Config{
		Addr:        []string{addr},
		Database:    "default",
		Username:    "default",
		DialTimeout: 5 * time.Second,
	}, nil)
	require.NoError(t, err)
	defer store.Close()

	for _, table := range []string{"raw_events", "tx_meta", "daily_metrics"} {
		require.NoError(t, store.conn.Exec(ctx, "TRUNCATE TABLE "+table))
	}

	version, err := store.Ping(ctx)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(version, "clickhouse "))

	hash := func(n int) string { return fmt.Sprintf("0x%064x", n) }
	require.NoError(t, store.InsertEvents(ctx, []types.TransferEvent{
		{TxHash: hash(1), LogIndex: 0, BlockNumber: 10, From: "0xa", To: "0xb", Value: big.NewInt(5)},
		{TxHash: hash(2), LogIndex: 1, BlockNumber: 20, From: "0xa", To: "0xb", Value: big.NewInt(6)},
	}))

	progress, err := store.GetProgress(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), progress.Count)
	assert.Equal(t, uint64(10), *progress.MinBlock)

	missing, err := store.GetHashesMissingMetadata(ctx, 10)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{hash(1), hash(2)}, missing)

	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, store.InsertMetadata(ctx, []types.TxMeta{
		{TxHash: hash(1), BlockNumber: 10, BlockTime: at, GasUsed: 21000, EffectiveGasPrice: big.NewInt(10_000_000_000)},
	}))

	missing, err = store.GetHashesMissingMetadata(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{hash(2)}, missing)

	require.NoError(t, store.ResetDailyMetrics(ctx))
	days, err := store.ComputeDailyMetrics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, days)

	rows, err := store.DailyMetrics(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "2024-05-01", rows[0].Date)
	assert.Equal(t, "210000000000000", rows[0].GasCostWei.String())

	summary, err := store.Summary(ctx)
	require.NoError(t, err)
	require.NotNil(t, summary.PeriodStart)
	assert.Equal(t, at, *summary.PeriodStart)
}
