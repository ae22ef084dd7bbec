package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

// Tables are ReplacingMergeTree ordered by their natural key, so a batch
// replayed after a crash collapses into the existing rows on merge. Reads
// that must not see duplicates use FINAL.
var schema = []struct {
	table string
	ddl   string
}{
	{
		table: "raw_events",
		ddl: `
			CREATE TABLE IF NOT EXISTS raw_events (
				tx_hash String CODEC(ZSTD(1)),
				log_index UInt32,
				block_number UInt64 CODEC(DoubleDelta, LZ4),
				from_address LowCardinality(String),
				to_address LowCardinality(String),
				value UInt256,
				block_time Nullable(DateTime('UTC')),
				inserted_at DateTime('UTC') DEFAULT now()
			) ENGINE = ReplacingMergeTree(inserted_at)
			ORDER BY (tx_hash, log_index)
		`,
	},
	{
		table: "tx_meta",
		ddl: `
			CREATE TABLE IF NOT EXISTS tx_meta (
				tx_hash String CODEC(ZSTD(1)),
				block_number UInt64 CODEC(DoubleDelta, LZ4),
				block_time DateTime('UTC'),
				gas_used UInt64,
				effective_gas_price UInt256
			) ENGINE = ReplacingMergeTree
			ORDER BY tx_hash
		`,
	},
	{
		table: "daily_metrics",
		ddl: `
			CREATE TABLE IF NOT EXISTS daily_metrics (
				date Date,
				gas_cost_wei UInt256,
				gas_cost_eth Float64,
				ma7_wei UInt256,
				ma7_gwei Float64,
				cumulative_gas_cost_eth Float64
			) ENGINE = MergeTree
			ORDER BY date
		`,
	},
}

// Migrate creates the pipeline tables when they do not exist
func Migrate(ctx context.Context, db driver.Conn) error {
	for _, t := range schema {
		if err := db.Exec(ctx, t.ddl); err != nil {
			return fmt.Errorf("failed to create table %s: %w", t.table, err)
		}
	}
	return nil
}

// Aggregates per UTC day over every event joined with its transaction's
// metadata. The moving average spans the current and six preceding days
// with data; the cumulative cost runs over all previous days.
const computeDailyMetricsQuery = `
	INSERT INTO daily_metrics (
		date,
		gas_cost_wei,
		gas_cost_eth,
		ma7_wei,
		ma7_gwei,
		cumulative_gas_cost_eth
	)
	SELECT
		date,
		gas_cost_wei,
		gas_cost_eth,
		toUInt256(avg(avg_gas_price_wei) OVER (ORDER BY date ROWS BETWEEN 6 PRECEDING AND CURRENT ROW)) AS ma7_wei,
		(avg(avg_gas_price_wei) OVER (ORDER BY date ROWS BETWEEN 6 PRECEDING AND CURRENT ROW)) / 1e9 AS ma7_gwei,
		sum(gas_cost_eth) OVER (ORDER BY date ROWS BETWEEN UNBOUNDED PRECEDING AND CURRENT ROW) AS cumulative_gas_cost_eth
	FROM (
		SELECT
			toDate(m.block_time) AS date,
			sum(toUInt256(m.gas_used) * m.effective_gas_price) AS gas_cost_wei,
			sum((toUInt256(m.gas_used) * m.effective_gas_price) / 1e18) AS gas_cost_eth,
			avg(m.effective_gas_price) AS avg_gas_price_wei
		FROM raw_events AS e FINAL
		INNER JOIN tx_meta AS m FINAL USING (tx_hash)
		GROUP BY date
	) AS daily_base
	ORDER BY date
`

// A LEFT JOIN fills unmatched String columns with '' rather than NULL unless
// join_use_nulls is set, so missing rows are selected with NOT IN.
const missingHashesQuery = `
	SELECT DISTINCT tx_hash
	FROM raw_events
	WHERE tx_hash NOT IN (SELECT tx_hash FROM tx_meta)
	LIMIT ?
`
