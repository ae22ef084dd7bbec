package constants

import "time"

// Ops Server Constants
const (
	// DefaultOpsListen is the default listen address of the ops HTTP server
	DefaultOpsListen = ":9090"

	// DefaultReadTimeout is the default HTTP read timeout
	DefaultReadTimeout = 15 * time.Second

	// DefaultWriteTimeout is the default HTTP write timeout
	DefaultWriteTimeout = 15 * time.Second

	// DefaultIdleTimeout is the default HTTP idle timeout
	DefaultIdleTimeout = 60 * time.Second

	// DefaultShutdownTimeout is the default graceful shutdown timeout
	DefaultShutdownTimeout = 30 * time.Second
)

// RPC Constants
const (
	// DefaultRPCTimeout is the default per-call JSON-RPC timeout
	DefaultRPCTimeout = 30 * time.Second

	// DefaultRetryAttempts is the default number of attempts per RPC call
	DefaultRetryAttempts = 5

	// DefaultRetryBaseDelay is the first backoff delay
	DefaultRetryBaseDelay = 300 * time.Millisecond

	// DefaultRetryMaxDelay caps the exponential backoff
	DefaultRetryMaxDelay = 5 * time.Second
)

// Collector Constants
const (
	// DefaultTargetEvents is the number of transfer events to collect
	DefaultTargetEvents = 5000

	// DefaultBlockStep is the initial number of blocks per getLogs range
	DefaultBlockStep = 100

	// DefaultConcurrency is the number of ranges fetched in parallel
	DefaultConcurrency = 5

	// MinBlockStep is the smallest step the rate controller will shrink to
	MinBlockStep = 1

	// MaxStepMultiplier bounds the step at this multiple of the initial step
	MaxStepMultiplier = 2

	// SparseBatchThreshold is the event count below which a batch counts as sparse
	SparseBatchThreshold = 10

	// DefaultRateLimitDelay is the pause after a rate-limited batch
	DefaultRateLimitDelay = time.Second

	// DefaultBatchDelay is the pause after an accepted batch
	DefaultBatchDelay = 500 * time.Millisecond
)

// Enrichment Constants
const (
	// DefaultPageSize is the number of missing hashes requested per page
	DefaultPageSize = 50

	// DefaultPageDelay is the pause after each enrichment page
	DefaultPageDelay = 300 * time.Millisecond

	// DefaultMaxHashAttempts bounds failed attempts per hash within one run
	DefaultMaxHashAttempts = 5
)

// Pipeline Constants
const (
	// DefaultStepAttempts is how many times a failed pipeline step is re-run
	DefaultStepAttempts = 3

	// DefaultStepRetryDelay is the first delay between step attempts
	DefaultStepRetryDelay = 5 * time.Second
)

// Token Constants
const (
	// DefaultTokenSymbol is the tracked token symbol
	DefaultTokenSymbol = "USDC"

	// DefaultTokenDecimals is the tracked token decimals
	DefaultTokenDecimals = 6

	// DefaultNetwork is the network label written to reports
	DefaultNetwork = "ethereum-mainnet"

	// DefaultTokenContract is USDC on Ethereum mainnet
	DefaultTokenContract = "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48"
)

// Storage Constants
const (
	// DefaultClickHouseAddr is the default ClickHouse native protocol address
	DefaultClickHouseAddr = "localhost:9000"

	// DefaultClickHouseDatabase is the default ClickHouse database
	DefaultClickHouseDatabase = "analytics"

	// DefaultPebblePath is the default embedded database directory
	DefaultPebblePath = "./data"

	// DefaultDialTimeout is the default dial timeout for storage and cache backends
	DefaultDialTimeout = 5 * time.Second
)

// Liveness Constants
const (
	// DefaultHeartbeatKeyPrefix is the redis key prefix for heartbeats
	DefaultHeartbeatKeyPrefix = "analytics:heartbeat"

	// DefaultHeartbeatTTL is how long a heartbeat stays visible
	DefaultHeartbeatTTL = 2 * time.Minute

	// HeartbeatLogInterval is the minimum gap between info-level heartbeat logs
	HeartbeatLogInterval = 30 * time.Second

	// HealthCheckTimeout bounds one dependency probe of the ops server
	HealthCheckTimeout = 5 * time.Second
)

// Export Constants
const (
	// DefaultOutputDir is where the analytics report is written
	DefaultOutputDir = "./output"

	// DefaultOutputFile is the analytics report file name
	DefaultOutputFile = "analytics.json"
)

// Kafka Constants
const (
	// DefaultKafkaTopic receives accepted transfer batches
	DefaultKafkaTopic = "token-transfers"

	// DefaultKafkaClientID identifies the producer
	DefaultKafkaClientID = "token-analytics"
)
