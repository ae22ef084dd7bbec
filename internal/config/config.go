package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/RPG812/debridge-token-analytics/internal/constants"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the analytics pipeline
type Config struct {
	RPC        RPCConfig        `yaml:"rpc"`
	Token      TokenConfig      `yaml:"token"`
	Collector  CollectorConfig  `yaml:"collector"`
	Enrichment EnrichmentConfig `yaml:"enrichment"`
	Storage    StorageConfig    `yaml:"storage"`
	Liveness   LivenessConfig   `yaml:"liveness"`
	Publish    PublishConfig    `yaml:"publish"`
	Export     ExportConfig     `yaml:"export"`
	Pipeline   PipelineConfig   `yaml:"pipeline"`
	Log        LogConfig        `yaml:"log"`
	Ops        OpsConfig        `yaml:"ops"`
}

// RPCConfig holds JSON-RPC client configuration.
// Endpoints are tried in order; the last healthy one is preferred.
type RPCConfig struct {
	Endpoints         []string      `yaml:"endpoints"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	Retry             RetryConfig   `yaml:"retry"`
}

// RetryConfig holds per-call backoff settings
type RetryConfig struct {
	Attempts  int           `yaml:"attempts"`
	BaseDelay time.Duration `yaml:"base_delay"`
	MaxDelay  time.Duration `yaml:"max_delay"`
	Jitter    *bool         `yaml:"jitter"`
}

// JitterEnabled reports whether backoff delays are randomized (default true)
func (r RetryConfig) JitterEnabled() bool {
	return r.Jitter == nil || *r.Jitter
}

// TokenConfig describes the tracked ERC-20 token
type TokenConfig struct {
	Contract string `yaml:"contract"`
	Symbol   string `yaml:"symbol"`
	Decimals int    `yaml:"decimals"`
	Network  string `yaml:"network"`
}

// CollectorConfig holds transfer collection settings
type CollectorConfig struct {
	Address        string        `yaml:"address"`
	TargetEvents   int           `yaml:"target_events"`
	BlockStep      uint64        `yaml:"block_step"`
	Concurrency    int           `yaml:"concurrency"`
	RateLimitDelay time.Duration `yaml:"rate_limit_delay"`
	BatchDelay     time.Duration `yaml:"batch_delay"`
}

// EnrichmentConfig holds receipt enrichment settings
type EnrichmentConfig struct {
	PageSize        int           `yaml:"page_size"`
	Concurrency     int           `yaml:"concurrency"`
	PageDelay       time.Duration `yaml:"page_delay"`
	MaxHashAttempts int           `yaml:"max_hash_attempts"`
}

// StorageConfig selects and configures the event store
type StorageConfig struct {
	// Backend is "clickhouse" or "pebble"
	Backend    string           `yaml:"backend"`
	ClickHouse ClickHouseConfig `yaml:"clickhouse"`
	Pebble     PebbleConfig     `yaml:"pebble"`
}

// ClickHouseConfig holds ClickHouse connection settings
type ClickHouseConfig struct {
	Addr        []string      `yaml:"addr"`
	Database    string        `yaml:"database"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// PebbleConfig holds embedded store settings
type PebbleConfig struct {
	Path string `yaml:"path"`
}

// LivenessConfig selects where heartbeats go
type LivenessConfig struct {
	// Backend is "log", "redis" or "none"
	Backend string      `yaml:"backend"`
	Redis   RedisConfig `yaml:"redis"`
}

// RedisConfig holds redis heartbeat settings
type RedisConfig struct {
	Addr      string        `yaml:"addr"`
	Password  string        `yaml:"password"`
	DB        int           `yaml:"db"`
	KeyPrefix string        `yaml:"key_prefix"`
	TTL       time.Duration `yaml:"ttl"`
}

// PublishConfig holds optional downstream fan-out settings
type PublishConfig struct {
	Kafka KafkaConfig `yaml:"kafka"`
}

// KafkaConfig holds Kafka producer settings
type KafkaConfig struct {
	Enabled  bool     `yaml:"enabled"`
	Brokers  []string `yaml:"brokers"`
	Topic    string   `yaml:"topic"`
	ClientID string   `yaml:"client_id"`
}

// ExportConfig holds report output settings
type ExportConfig struct {
	OutputDir string `yaml:"output_dir"`
	FileName  string `yaml:"file_name"`
}

// PipelineConfig holds step retry settings
type PipelineConfig struct {
	StepAttempts   int           `yaml:"step_attempts"`
	StepRetryDelay time.Duration `yaml:"step_retry_delay"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// OpsConfig holds the health/metrics HTTP server configuration
type OpsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// NewConfig creates a new configuration with default values
func NewConfig() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults sets default values for any unset configuration fields
func (c *Config) SetDefaults() {
	// RPC defaults
	if c.RPC.Timeout == 0 {
		c.RPC.Timeout = constants.DefaultRPCTimeout
	}
	if c.RPC.RequestsPerSecond > 0 && c.RPC.Burst == 0 {
		c.RPC.Burst = int(c.RPC.RequestsPerSecond)
		if c.RPC.Burst < 1 {
			c.RPC.Burst = 1
		}
	}
	if c.RPC.Retry.Attempts == 0 {
		c.RPC.Retry.Attempts = constants.DefaultRetryAttempts
	}
	if c.RPC.Retry.BaseDelay == 0 {
		c.RPC.Retry.BaseDelay = constants.DefaultRetryBaseDelay
	}
	if c.RPC.Retry.MaxDelay == 0 {
		c.RPC.Retry.MaxDelay = constants.DefaultRetryMaxDelay
	}

	// Token defaults
	if c.Token.Contract == "" {
		c.Token.Contract = constants.DefaultTokenContract
	}
	if c.Token.Symbol == "" {
		c.Token.Symbol = constants.DefaultTokenSymbol
	}
	if c.Token.Decimals == 0 {
		c.Token.Decimals = constants.DefaultTokenDecimals
	}
	if c.Token.Network == "" {
		c.Token.Network = constants.DefaultNetwork
	}

	// Collector defaults
	if c.Collector.TargetEvents == 0 {
		c.Collector.TargetEvents = constants.DefaultTargetEvents
	}
	if c.Collector.BlockStep == 0 {
		c.Collector.BlockStep = constants.DefaultBlockStep
	}
	if c.Collector.Concurrency == 0 {
		c.Collector.Concurrency = constants.DefaultConcurrency
	}
	if c.Collector.RateLimitDelay == 0 {
		c.Collector.RateLimitDelay = constants.DefaultRateLimitDelay
	}
	if c.Collector.BatchDelay == 0 {
		c.Collector.BatchDelay = constants.DefaultBatchDelay
	}

	// Enrichment defaults
	if c.Enrichment.PageSize == 0 {
		c.Enrichment.PageSize = constants.DefaultPageSize
	}
	if c.Enrichment.Concurrency == 0 {
		c.Enrichment.Concurrency = c.Collector.Concurrency
	}
	if c.Enrichment.PageDelay == 0 {
		c.Enrichment.PageDelay = constants.DefaultPageDelay
	}
	if c.Enrichment.MaxHashAttempts == 0 {
		c.Enrichment.MaxHashAttempts = constants.DefaultMaxHashAttempts
	}

	// Storage defaults
	if c.Storage.Backend == "" {
		c.Storage.Backend = "clickhouse"
	}
	if len(c.Storage.ClickHouse.Addr) == 0 {
		c.Storage.ClickHouse.Addr = []string{constants.DefaultClickHouseAddr}
	}
	if c.Storage.ClickHouse.Database == "" {
		c.Storage.ClickHouse.Database = constants.DefaultClickHouseDatabase
	}
	if c.Storage.ClickHouse.Username == "" {
		c.Storage.ClickHouse.Username = "default"
	}
	if c.Storage.ClickHouse.DialTimeout == 0 {
		c.Storage.ClickHouse.DialTimeout = constants.DefaultDialTimeout
	}
	if c.Storage.Pebble.Path == "" {
		c.Storage.Pebble.Path = constants.DefaultPebblePath
	}

	// Liveness defaults
	if c.Liveness.Backend == "" {
		c.Liveness.Backend = "log"
	}
	if c.Liveness.Redis.KeyPrefix == "" {
		c.Liveness.Redis.KeyPrefix = constants.DefaultHeartbeatKeyPrefix
	}
	if c.Liveness.Redis.TTL == 0 {
		c.Liveness.Redis.TTL = constants.DefaultHeartbeatTTL
	}

	// Publish defaults
	if c.Publish.Kafka.Topic == "" {
		c.Publish.Kafka.Topic = constants.DefaultKafkaTopic
	}
	if c.Publish.Kafka.ClientID == "" {
		c.Publish.Kafka.ClientID = constants.DefaultKafkaClientID
	}

	// Export defaults
	if c.Export.OutputDir == "" {
		c.Export.OutputDir = constants.DefaultOutputDir
	}
	if c.Export.FileName == "" {
		c.Export.FileName = constants.DefaultOutputFile
	}

	// Pipeline defaults
	if c.Pipeline.StepAttempts == 0 {
		c.Pipeline.StepAttempts = constants.DefaultStepAttempts
	}
	if c.Pipeline.StepRetryDelay == 0 {
		c.Pipeline.StepRetryDelay = constants.DefaultStepRetryDelay
	}

	// Log defaults
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}

	// Ops defaults
	if c.Ops.Listen == "" {
		c.Ops.Listen = constants.DefaultOpsListen
	}
}

// LoadFromEnv loads configuration from ANALYTICS_* environment variables
func (c *Config) LoadFromEnv() error {
	// RPC configuration
	if endpoints := os.Getenv("ANALYTICS_RPC_ENDPOINTS"); endpoints != "" {
		c.RPC.Endpoints = splitList(endpoints)
	}
	if timeout := os.Getenv("ANALYTICS_RPC_TIMEOUT"); timeout != "" {
		duration, err := time.ParseDuration(timeout)
		if err != nil {
			return fmt.Errorf("invalid ANALYTICS_RPC_TIMEOUT: %w", err)
		}
		c.RPC.Timeout = duration
	}
	if rps := os.Getenv("ANALYTICS_RPC_REQUESTS_PER_SECOND"); rps != "" {
		val, err := strconv.ParseFloat(rps, 64)
		if err != nil {
			return fmt.Errorf("invalid ANALYTICS_RPC_REQUESTS_PER_SECOND: %w", err)
		}
		c.RPC.RequestsPerSecond = val
	}
	if attempts := os.Getenv("ANALYTICS_RPC_RETRY_ATTEMPTS"); attempts != "" {
		val, err := strconv.Atoi(attempts)
		if err != nil {
			return fmt.Errorf("invalid ANALYTICS_RPC_RETRY_ATTEMPTS: %w", err)
		}
		c.RPC.Retry.Attempts = val
	}

	// Token configuration
	if contract := os.Getenv("ANALYTICS_TOKEN_CONTRACT"); contract != "" {
		c.Token.Contract = contract
	}
	if symbol := os.Getenv("ANALYTICS_TOKEN_SYMBOL"); symbol != "" {
		c.Token.Symbol = symbol
	}
	if decimals := os.Getenv("ANALYTICS_TOKEN_DECIMALS"); decimals != "" {
		val, err := strconv.Atoi(decimals)
		if err != nil {
			return fmt.Errorf("invalid ANALYTICS_TOKEN_DECIMALS: %w", err)
		}
		c.Token.Decimals = val
	}

	// Collector configuration
	if address := os.Getenv("ANALYTICS_ADDRESS"); address != "" {
		c.Collector.Address = address
	}
	if target := os.Getenv("ANALYTICS_TARGET_EVENTS"); target != "" {
		val, err := strconv.Atoi(target)
		if err != nil {
			return fmt.Errorf("invalid ANALYTICS_TARGET_EVENTS: %w", err)
		}
		c.Collector.TargetEvents = val
	}
	if step := os.Getenv("ANALYTICS_BLOCK_STEP"); step != "" {
		val, err := strconv.ParseUint(step, 10, 64)
		if err != nil {
			return fmt.Errorf("invalid ANALYTICS_BLOCK_STEP: %w", err)
		}
		c.Collector.BlockStep = val
	}
	if concurrency := os.Getenv("ANALYTICS_RPC_CONCURRENCY"); concurrency != "" {
		val, err := strconv.Atoi(concurrency)
		if err != nil {
			return fmt.Errorf("invalid ANALYTICS_RPC_CONCURRENCY: %w", err)
		}
		c.Collector.Concurrency = val
	}

	// Enrichment configuration
	if pageSize := os.Getenv("ANALYTICS_BATCH_SIZE"); pageSize != "" {
		val, err := strconv.Atoi(pageSize)
		if err != nil {
			return fmt.Errorf("invalid ANALYTICS_BATCH_SIZE: %w", err)
		}
		c.Enrichment.PageSize = val
	}

	// Storage configuration
	if backend := os.Getenv("ANALYTICS_STORAGE_BACKEND"); backend != "" {
		c.Storage.Backend = backend
	}
	if addr := os.Getenv("ANALYTICS_CLICKHOUSE_ADDR"); addr != "" {
		c.Storage.ClickHouse.Addr = splitList(addr)
	}
	if db := os.Getenv("ANALYTICS_CLICKHOUSE_DATABASE"); db != "" {
		c.Storage.ClickHouse.Database = db
	}
	if user := os.Getenv("ANALYTICS_CLICKHOUSE_USER"); user != "" {
		c.Storage.ClickHouse.Username = user
	}
	if password := os.Getenv("ANALYTICS_CLICKHOUSE_PASSWORD"); password != "" {
		c.Storage.ClickHouse.Password = password
	}
	if path := os.Getenv("ANALYTICS_PEBBLE_PATH"); path != "" {
		c.Storage.Pebble.Path = path
	}

	// Liveness configuration
	if backend := os.Getenv("ANALYTICS_LIVENESS_BACKEND"); backend != "" {
		c.Liveness.Backend = backend
	}
	if addr := os.Getenv("ANALYTICS_REDIS_ADDR"); addr != "" {
		c.Liveness.Redis.Addr = addr
	}
	if password := os.Getenv("ANALYTICS_REDIS_PASSWORD"); password != "" {
		c.Liveness.Redis.Password = password
	}

	// Publish configuration
	if enabled := os.Getenv("ANALYTICS_KAFKA_ENABLED"); enabled != "" {
		val, err := strconv.ParseBool(enabled)
		if err != nil {
			return fmt.Errorf("invalid ANALYTICS_KAFKA_ENABLED: %w", err)
		}
		c.Publish.Kafka.Enabled = val
	}
	if brokers := os.Getenv("ANALYTICS_KAFKA_BROKERS"); brokers != "" {
		c.Publish.Kafka.Brokers = splitList(brokers)
	}
	if topic := os.Getenv("ANALYTICS_KAFKA_TOPIC"); topic != "" {
		c.Publish.Kafka.Topic = topic
	}

	// Export configuration
	if dir := os.Getenv("ANALYTICS_OUTPUT_DIR"); dir != "" {
		c.Export.OutputDir = dir
	}

	// Log configuration
	if level := os.Getenv("ANALYTICS_LOG_LEVEL"); level != "" {
		c.Log.Level = level
	}
	if format := os.Getenv("ANALYTICS_LOG_FORMAT"); format != "" {
		c.Log.Format = format
	}

	// Ops configuration
	if enabled := os.Getenv("ANALYTICS_OPS_ENABLED"); enabled != "" {
		val, err := strconv.ParseBool(enabled)
		if err != nil {
			return fmt.Errorf("invalid ANALYTICS_OPS_ENABLED: %w", err)
		}
		c.Ops.Enabled = val
	}
	if listen := os.Getenv("ANALYTICS_OPS_LISTEN"); listen != "" {
		c.Ops.Listen = listen
	}

	return nil
}

// LoadFromFile loads configuration from a YAML file
func (c *Config) LoadFromFile(filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	// Validate RPC configuration
	if len(c.RPC.Endpoints) == 0 {
		return fmt.Errorf("at least one RPC endpoint is required")
	}
	for _, endpoint := range c.RPC.Endpoints {
		if strings.TrimSpace(endpoint) == "" {
			return fmt.Errorf("RPC endpoint cannot be empty")
		}
	}
	if c.RPC.Timeout <= 0 {
		return fmt.Errorf("RPC timeout must be positive")
	}
	if c.RPC.RequestsPerSecond < 0 {
		return fmt.Errorf("RPC requests per second cannot be negative")
	}
	if c.RPC.Retry.Attempts <= 0 {
		return fmt.Errorf("RPC retry attempts must be positive")
	}
	if c.RPC.Retry.MaxDelay < c.RPC.Retry.BaseDelay {
		return fmt.Errorf("RPC retry max delay must not be below base delay")
	}

	// Validate token configuration
	if !common.IsHexAddress(c.Token.Contract) {
		return fmt.Errorf("invalid token contract %q", c.Token.Contract)
	}
	if c.Token.Decimals < 0 || c.Token.Decimals > 36 {
		return fmt.Errorf("token decimals must be between 0 and 36")
	}

	// Validate collector configuration
	if c.Collector.Address == "" {
		return fmt.Errorf("tracked address is required")
	}
	if !common.IsHexAddress(c.Collector.Address) {
		return fmt.Errorf("invalid tracked address %q", c.Collector.Address)
	}
	if c.Collector.TargetEvents <= 0 {
		return fmt.Errorf("target events must be positive")
	}
	if c.Collector.BlockStep == 0 {
		return fmt.Errorf("block step must be positive")
	}
	if c.Collector.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be positive")
	}
	if c.Collector.RateLimitDelay < 0 || c.Collector.BatchDelay < 0 {
		return fmt.Errorf("collector delays cannot be negative")
	}

	// Validate enrichment configuration
	if c.Enrichment.PageSize <= 0 {
		return fmt.Errorf("enrichment page size must be positive")
	}
	if c.Enrichment.Concurrency <= 0 {
		return fmt.Errorf("enrichment concurrency must be positive")
	}
	if c.Enrichment.MaxHashAttempts <= 0 {
		return fmt.Errorf("enrichment max hash attempts must be positive")
	}

	// Validate storage configuration
	switch c.Storage.Backend {
	case "clickhouse":
		if len(c.Storage.ClickHouse.Addr) == 0 {
			return fmt.Errorf("clickhouse address is required")
		}
		if c.Storage.ClickHouse.Database == "" {
			return fmt.Errorf("clickhouse database is required")
		}
	case "pebble":
		if c.Storage.Pebble.Path == "" {
			return fmt.Errorf("pebble path is required")
		}
	default:
		return fmt.Errorf("invalid storage backend %q, must be one of: clickhouse, pebble", c.Storage.Backend)
	}

	// Validate liveness configuration
	switch c.Liveness.Backend {
	case "log", "none":
	case "redis":
		if c.Liveness.Redis.Addr == "" {
			return fmt.Errorf("redis liveness enabled but no address configured")
		}
		if c.Liveness.Redis.TTL <= 0 {
			return fmt.Errorf("redis heartbeat TTL must be positive")
		}
	default:
		return fmt.Errorf("invalid liveness backend %q, must be one of: log, redis, none", c.Liveness.Backend)
	}

	// Validate Kafka configuration if enabled
	if c.Publish.Kafka.Enabled {
		if len(c.Publish.Kafka.Brokers) == 0 {
			return fmt.Errorf("kafka publishing enabled but no brokers configured")
		}
		if c.Publish.Kafka.Topic == "" {
			return fmt.Errorf("kafka topic is required when kafka is enabled")
		}
	}

	// Validate export configuration
	if c.Export.OutputDir == "" || c.Export.FileName == "" {
		return fmt.Errorf("export output dir and file name are required")
	}

	// Validate pipeline configuration
	if c.Pipeline.StepAttempts <= 0 {
		return fmt.Errorf("pipeline step attempts must be positive")
	}

	// Validate log configuration
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level %q, must be one of: debug, info, warn, error", c.Log.Level)
	}

	validLogFormats := map[string]bool{
		"json":    true,
		"console": true,
	}
	if !validLogFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format %q, must be one of: json, console", c.Log.Format)
	}

	return nil
}

// MaxBlockStep is the upper bound the rate controller may grow the step to
func (c *Config) MaxBlockStep() uint64 {
	return c.Collector.BlockStep * constants.MaxStepMultiplier
}

// Load is a convenience method that loads configuration in the following order:
// 1. Load from file (if provided)
// 2. Load from environment variables (override file)
// 3. Set defaults for anything still unset
// 4. Validate
func Load(configFile string) (*Config, error) {
	cfg := &Config{}

	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return nil, fmt.Errorf("failed to load config from environment: %w", err)
	}

	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
