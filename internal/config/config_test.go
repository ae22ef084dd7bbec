package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const testAddress = "0xef4fb24ad0916217251f553c0596f8edc630eb66"

func validConfig() *Config {
	cfg := NewConfig()
	cfg.RPC.Endpoints = []string{"http://localhost:8545"}
	cfg.Collector.Address = testAddress
	return cfg
}

// TestNewConfig tests creating a config with defaults
func TestNewConfig(t *testing.T) {
	cfg := NewConfig()
	if cfg == nil {
		t.Fatal("NewConfig() returned nil")
	}

	if cfg.Log.Level != "info" {
		t.Errorf("Expected default log level 'info', got %q", cfg.Log.Level)
	}
	if cfg.Collector.TargetEvents != 5000 {
		t.Errorf("Expected default target 5000, got %d", cfg.Collector.TargetEvents)
	}
	if cfg.Collector.BlockStep != 100 {
		t.Errorf("Expected default block step 100, got %d", cfg.Collector.BlockStep)
	}
	if cfg.Collector.Concurrency != 5 {
		t.Errorf("Expected default concurrency 5, got %d", cfg.Collector.Concurrency)
	}
	if cfg.Enrichment.PageSize != 50 {
		t.Errorf("Expected default page size 50, got %d", cfg.Enrichment.PageSize)
	}
	if cfg.Enrichment.Concurrency != cfg.Collector.Concurrency {
		t.Errorf("Expected enrichment concurrency to follow collector, got %d", cfg.Enrichment.Concurrency)
	}
	if cfg.Token.Symbol != "USDC" || cfg.Token.Decimals != 6 {
		t.Errorf("Unexpected token defaults: %+v", cfg.Token)
	}
	if !cfg.RPC.Retry.JitterEnabled() {
		t.Error("Expected jitter enabled by default")
	}
	if cfg.MaxBlockStep() != 200 {
		t.Errorf("Expected max block step 200, got %d", cfg.MaxBlockStep())
	}
}

// TestConfigValidation tests configuration validation
func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:   "missing RPC endpoint",
			mutate: func(c *Config) { c.RPC.Endpoints = nil },
			errMsg: "at least one RPC endpoint is required",
		},
		{
			name:   "blank RPC endpoint",
			mutate: func(c *Config) { c.RPC.Endpoints = []string{" "} },
			errMsg: "RPC endpoint cannot be empty",
		},
		{
			name:   "missing address",
			mutate: func(c *Config) { c.Collector.Address = "" },
			errMsg: "tracked address is required",
		},
		{
			name:   "malformed address",
			mutate: func(c *Config) { c.Collector.Address = "0x1234" },
			errMsg: "invalid tracked address",
		},
		{
			name:   "malformed contract",
			mutate: func(c *Config) { c.Token.Contract = "usdc" },
			errMsg: "invalid token contract",
		},
		{
			name:   "zero concurrency",
			mutate: func(c *Config) { c.Collector.Concurrency = 0 },
			errMsg: "concurrency must be positive",
		},
		{
			name:   "zero block step",
			mutate: func(c *Config) { c.Collector.BlockStep = 0 },
			errMsg: "block step must be positive",
		},
		{
			name:   "unknown storage backend",
			mutate: func(c *Config) { c.Storage.Backend = "sqlite" },
			errMsg: "invalid storage backend",
		},
		{
			name:   "redis liveness without address",
			mutate: func(c *Config) { c.Liveness.Backend = "redis" },
			errMsg: "redis liveness enabled but no address configured",
		},
		{
			name:   "kafka without brokers",
			mutate: func(c *Config) { c.Publish.Kafka.Enabled = true },
			errMsg: "kafka publishing enabled but no brokers configured",
		},
		{
			name:   "invalid log level",
			mutate: func(c *Config) { c.Log.Level = "trace" },
			errMsg: "invalid log level",
		},
		{
			name: "retry max below base",
			mutate: func(c *Config) {
				c.RPC.Retry.BaseDelay = time.Second
				c.RPC.Retry.MaxDelay = time.Millisecond
			},
			errMsg: "RPC retry max delay must not be below base delay",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.errMsg == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want %q", tt.errMsg)
			}
			if !strings.Contains(err.Error(), tt.errMsg) {
				t.Errorf("Validate() error = %q, want %q", err.Error(), tt.errMsg)
			}
		})
	}
}

// TestLoadFromEnv tests loading configuration from environment variables
func TestLoadFromEnv(t *testing.T) {
	t.Setenv("ANALYTICS_RPC_ENDPOINTS", "http://infura:8545, http://alchemy:8545")
	t.Setenv("ANALYTICS_RPC_TIMEOUT", "10s")
	t.Setenv("ANALYTICS_ADDRESS", testAddress)
	t.Setenv("ANALYTICS_TARGET_EVENTS", "250")
	t.Setenv("ANALYTICS_BLOCK_STEP", "40")
	t.Setenv("ANALYTICS_RPC_CONCURRENCY", "3")
	t.Setenv("ANALYTICS_BATCH_SIZE", "20")
	t.Setenv("ANALYTICS_STORAGE_BACKEND", "pebble")
	t.Setenv("ANALYTICS_KAFKA_ENABLED", "true")
	t.Setenv("ANALYTICS_KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg := &Config{}
	if err := cfg.LoadFromEnv(); err != nil {
		t.Fatalf("LoadFromEnv() error = %v", err)
	}

	if len(cfg.RPC.Endpoints) != 2 || cfg.RPC.Endpoints[1] != "http://alchemy:8545" {
		t.Errorf("unexpected endpoints %v", cfg.RPC.Endpoints)
	}
	if cfg.RPC.Timeout != 10*time.Second {
		t.Errorf("Expected timeout 10s, got %v", cfg.RPC.Timeout)
	}
	if cfg.Collector.TargetEvents != 250 || cfg.Collector.BlockStep != 40 || cfg.Collector.Concurrency != 3 {
		t.Errorf("unexpected collector config %+v", cfg.Collector)
	}
	if cfg.Enrichment.PageSize != 20 {
		t.Errorf("Expected page size 20, got %d", cfg.Enrichment.PageSize)
	}
	if cfg.Storage.Backend != "pebble" {
		t.Errorf("Expected pebble backend, got %q", cfg.Storage.Backend)
	}
	if !cfg.Publish.Kafka.Enabled || len(cfg.Publish.Kafka.Brokers) != 2 {
		t.Errorf("unexpected kafka config %+v", cfg.Publish.Kafka)
	}
}

// TestLoadFromEnvInvalid tests parse errors are reported with the variable name
func TestLoadFromEnvInvalid(t *testing.T) {
	t.Setenv("ANALYTICS_TARGET_EVENTS", "many")

	err := (&Config{}).LoadFromEnv()
	if err == nil || !strings.Contains(err.Error(), "ANALYTICS_TARGET_EVENTS") {
		t.Errorf("LoadFromEnv() error = %v, want ANALYTICS_TARGET_EVENTS parse error", err)
	}
}

// TestLoadFromFile tests loading configuration from a YAML file
func TestLoadFromFile(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	configContent := `
rpc:
  endpoints:
    - http://localhost:8545
  timeout: 15s
  retry:
    attempts: 3
    jitter: false
collector:
  address: ` + testAddress + `
  target_events: 100
  block_step: 50
storage:
  backend: pebble
  pebble:
    path: /tmp/analytics
`
	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg := &Config{}
	if err := cfg.LoadFromFile(configFile); err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.RPC.Timeout != 15*time.Second {
		t.Errorf("Expected timeout 15s, got %v", cfg.RPC.Timeout)
	}
	if cfg.RPC.Retry.JitterEnabled() {
		t.Error("Expected jitter disabled from file")
	}
	if cfg.Collector.TargetEvents != 100 || cfg.Collector.BlockStep != 50 {
		t.Errorf("unexpected collector config %+v", cfg.Collector)
	}
	if cfg.Storage.Pebble.Path != "/tmp/analytics" {
		t.Errorf("Expected pebble path /tmp/analytics, got %q", cfg.Storage.Pebble.Path)
	}
}

func TestLoadFromFileNotFound(t *testing.T) {
	cfg := &Config{}
	if err := cfg.LoadFromFile("/nonexistent/config.yaml"); err == nil {
		t.Error("LoadFromFile() should fail for a missing file")
	}
}

func TestLoadFromFileInvalidYAML(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(configFile, []byte("rpc: [unclosed"), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	if err := (&Config{}).LoadFromFile(configFile); err == nil {
		t.Error("LoadFromFile() should fail for invalid YAML")
	}
}

// TestConfigPriority tests that environment variables override the file
func TestConfigPriority(t *testing.T) {
	configFile := filepath.Join(t.TempDir(), "config.yaml")
	configContent := `
rpc:
  endpoints: [http://file:8545]
collector:
  address: ` + testAddress + `
  target_events: 100
`
	if err := os.WriteFile(configFile, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}
	t.Setenv("ANALYTICS_RPC_ENDPOINTS", "http://env:8545")

	cfg, err := Load(configFile)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.RPC.Endpoints[0] != "http://env:8545" {
		t.Errorf("Expected env endpoint to win, got %v", cfg.RPC.Endpoints)
	}
	if cfg.Collector.TargetEvents != 100 {
		t.Errorf("Expected file target 100, got %d", cfg.Collector.TargetEvents)
	}
	if cfg.Collector.BlockStep != 100 {
		t.Errorf("Expected default block step 100, got %d", cfg.Collector.BlockStep)
	}
}
