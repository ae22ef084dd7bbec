// Package clickhouse implements the pipeline store on ClickHouse, where the
// daily aggregation runs as a single INSERT ... SELECT with window functions.
package clickhouse

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"

	"github.com/RPG812/debridge-token-analytics/pkg/storage"
	"github.com/RPG812/debridge-token-analytics/pkg/types"
)

var _ storage.Store = (*Store)(nil)

// Config holds connection settings
type Config struct {
	Addr        []string
	Database    string
	Username    string
	Password    string
	DialTimeout time.Duration
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if len(c.Addr) == 0 {
		return errors.New("at least one address is required")
	}
	if c.Database == "" {
		return errors.New("database cannot be empty")
	}
	return nil
}

// Store implements storage.Store on a ClickHouse connection
type Store struct {
	conn   driver.Conn
	logger *zap.Logger
}

// Open connects to ClickHouse, checks the connection and creates missing tables
func Open(ctx context.Context, cfg *Config, logger *zap.Logger) (*Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addr,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: cfg.DialTimeout,
		Compression: &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open clickhouse: %w", err)
	}

	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}
	if err := Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, err
	}

	return New(conn, logger), nil
}

// New wraps an existing connection. The tables must already exist.
func New(conn driver.Conn, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{conn: conn, logger: logger}
}

// Close closes the connection
func (s *Store) Close() error {
	return s.conn.Close()
}

// Ping checks the connection and returns the server version
func (s *Store) Ping(ctx context.Context) (string, error) {
	var version string
	if err := s.conn.QueryRow(ctx, "SELECT version()").Scan(&version); err != nil {
		return "", fmt.Errorf("failed to query version: %w", err)
	}
	return "clickhouse " + version, nil
}

// GetProgress returns the block bounds and the number of stored events
func (s *Store) GetProgress(ctx context.Context) (types.CollectionProgress, error) {
	var count, minBlock, maxBlock uint64
	err := s.conn.QueryRow(ctx, `
		SELECT count(), min(block_number), max(block_number)
		FROM raw_events FINAL
	`).Scan(&count, &minBlock, &maxBlock)
	if err != nil {
		return types.CollectionProgress{}, fmt.Errorf("failed to read events progress: %w", err)
	}
	return progressFrom(count, minBlock, maxBlock), nil
}

// progressFrom maps aggregate results to progress. ClickHouse returns 0 for
// min/max over an empty table, so the count decides whether bounds exist.
func progressFrom(count, minBlock, maxBlock uint64) types.CollectionProgress {
	progress := types.CollectionProgress{Count: count}
	if count > 0 {
		progress.MinBlock = &minBlock
		progress.MaxBlock = &maxBlock
	}
	return progress
}

// InsertEvents appends events in one batch
func (s *Store) InsertEvents(ctx context.Context, events []types.TransferEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO raw_events (tx_hash, log_index, block_number, from_address, to_address, value, block_time)`)
	if err != nil {
		return fmt.Errorf("failed to prepare events batch: %w", err)
	}
	defer func(batch driver.Batch) {
		_ = batch.Abort()
	}(batch)

	for i := range events {
		e := &events[i]
		err = batch.Append(
			e.TxHash,
			uint32(e.LogIndex),
			e.BlockNumber,
			e.From,
			e.To,
			valueOrZero(e.Value),
			e.BlockTime,
		)
		if err != nil {
			return fmt.Errorf("failed to append event %s: %w", e.Key(), err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send events batch: %w", err)
	}
	return nil
}

// GetHashesMissingMetadata returns up to limit distinct tx hashes without metadata
func (s *Store) GetHashesMissingMetadata(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := s.conn.Query(ctx, missingHashesQuery, uint64(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to select missing tx hashes: %w", err)
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var hash string
		if err := rows.Scan(&hash); err != nil {
			return nil, fmt.Errorf("failed to scan tx hash: %w", err)
		}
		hashes = append(hashes, hash)
	}
	return hashes, rows.Err()
}

// InsertMetadata appends metadata rows in one batch
func (s *Store) InsertMetadata(ctx context.Context, metas []types.TxMeta) error {
	if len(metas) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO tx_meta (tx_hash, block_number, block_time, gas_used, effective_gas_price)`)
	if err != nil {
		return fmt.Errorf("failed to prepare tx_meta batch: %w", err)
	}
	defer func(batch driver.Batch) {
		_ = batch.Abort()
	}(batch)

	for i := range metas {
		m := &metas[i]
		err = batch.Append(
			m.TxHash,
			m.BlockNumber,
			m.BlockTime.UTC(),
			m.GasUsed,
			valueOrZero(m.EffectiveGasPrice),
		)
		if err != nil {
			return fmt.Errorf("failed to append tx_meta %s: %w", m.TxHash, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send tx_meta batch: %w", err)
	}
	s.logger.Debug("Inserted tx_meta rows", zap.Int("rows", len(metas)))
	return nil
}

// ResetDailyMetrics truncates daily_metrics
func (s *Store) ResetDailyMetrics(ctx context.Context) error {
	if err := s.conn.Exec(ctx, "TRUNCATE TABLE daily_metrics"); err != nil {
		return fmt.Errorf("failed to truncate daily_metrics: %w", err)
	}
	return nil
}

// ComputeDailyMetrics aggregates into daily_metrics and returns the number of days
func (s *Store) ComputeDailyMetrics(ctx context.Context) (int, error) {
	if err := s.conn.Exec(ctx, computeDailyMetricsQuery); err != nil {
		return 0, fmt.Errorf("failed to compute daily metrics: %w", err)
	}

	var days uint64
	if err := s.conn.QueryRow(ctx, "SELECT count() FROM daily_metrics").Scan(&days); err != nil {
		return 0, fmt.Errorf("failed to count daily metrics: %w", err)
	}
	s.logger.Info("Inserted aggregated metrics into daily_metrics", zap.Uint64("days", days))
	return int(days), nil
}

// DailyMetrics returns every daily row ordered by date
func (s *Store) DailyMetrics(ctx context.Context) ([]types.DailyMetric, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT
			toString(date),
			gas_cost_wei,
			gas_cost_eth,
			ma7_wei,
			ma7_gwei,
			cumulative_gas_cost_eth
		FROM daily_metrics
		ORDER BY date
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to select daily_metrics: %w", err)
	}
	defer rows.Close()

	var out []types.DailyMetric
	for rows.Next() {
		m := types.DailyMetric{
			GasCostWei: new(big.Int),
			MA7Wei:     new(big.Int),
		}
		if err := rows.Scan(&m.Date, m.GasCostWei, &m.GasCostEth, m.MA7Wei, &m.MA7Gwei, &m.CumulativeGasCostEth); err != nil {
			return nil, fmt.Errorf("failed to scan daily metric: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// Summary combines event bounds with the block time span of tx_meta
func (s *Store) Summary(ctx context.Context) (types.Summary, error) {
	progress, err := s.GetProgress(ctx)
	if err != nil {
		return types.Summary{}, err
	}
	summary := types.Summary{
		EventsCollected: progress.Count,
		StartBlock:      progress.MinBlock,
		EndBlock:        progress.MaxBlock,
	}

	var (
		metas      uint64
		start, end time.Time
	)
	err = s.conn.QueryRow(ctx, `
		SELECT count(), min(block_time), max(block_time)
		FROM tx_meta FINAL
	`).Scan(&metas, &start, &end)
	if err != nil {
		return summary, fmt.Errorf("failed to select period summary: %w", err)
	}
	if metas > 0 {
		start, end = start.UTC(), end.UTC()
		summary.PeriodStart = &start
		summary.PeriodEnd = &end
	}
	return summary, nil
}

func valueOrZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}
