package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/RPG812/debridge-token-analytics/internal/config"
	"github.com/RPG812/debridge-token-analytics/internal/logger"
	"github.com/RPG812/debridge-token-analytics/pkg/pipeline"
)

var (
	// Version information (injected at build time)
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// stepCheck verifies connectivity to every backend without running the pipeline
const stepCheck = "check"

// flagOverrides carries command-line values that take precedence over file and env
type flagOverrides struct {
	rpc         string
	address     string
	contract    string
	target      int
	stepSize    uint64
	concurrency int
	pageSize    int
	logLevel    string
	logFormat   string
}

func main() {
	var (
		configFile  = flag.String("config", "", "Path to configuration file (YAML)")
		showVersion = flag.Bool("version", false, "Show version information and exit")
		overrides   flagOverrides
	)
	flag.StringVar(&overrides.rpc, "rpc", "", "Comma-separated Ethereum RPC endpoint URLs")
	flag.StringVar(&overrides.address, "address", "", "Tracked address")
	flag.StringVar(&overrides.contract, "contract", "", "ERC-20 token contract")
	flag.IntVar(&overrides.target, "target", 0, "Number of transfer events to collect")
	flag.Uint64Var(&overrides.stepSize, "step-size", 0, "Initial number of blocks per getLogs range")
	flag.IntVar(&overrides.concurrency, "concurrency", 0, "Parallel getLogs requests per batch")
	flag.IntVar(&overrides.pageSize, "page-size", 0, "Missing hashes enriched per page")
	flag.StringVar(&overrides.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	flag.StringVar(&overrides.logFormat, "log-format", "", "Log format (json, console)")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(),
			"Usage: %s [flags] [all|collect|enrich|metrics|export|check]\n", os.Args[0])
		flag.PrintDefaults()
	}

	flag.Parse()

	if *showVersion {
		fmt.Printf("token-analytics version %s\n", version)
		fmt.Printf("  commit: %s\n", commit)
		fmt.Printf("  built:  %s\n", buildTime)
		os.Exit(0)
	}

	step := pipeline.All
	if flag.NArg() > 0 {
		step = flag.Arg(0)
	}
	if flag.NArg() > 1 {
		fmt.Fprintf(os.Stderr, "Expected at most one step, got %d\n", flag.NArg())
		os.Exit(2)
	}

	cfg, err := loadConfig(*configFile, overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting token analytics",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("build_time", buildTime),
		zap.String("step", step),
		zap.String("address", cfg.Collector.Address),
		zap.String("token", cfg.Token.Contract),
		zap.String("storage", cfg.Storage.Backend),
		zap.Int("target_events", cfg.Collector.TargetEvents),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		select {
		case sig := <-sigChan:
			log.Info("Received shutdown signal", zap.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	if err := run(ctx, cfg, log, step); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Info("Run cancelled")
			return
		}
		log.Error("Run failed", zap.Error(err))
		log.Sync()
		os.Exit(1)
	}

	log.Info("Token analytics stopped")
}

// loadConfig resolves configuration in order: file, environment, flags, defaults
func loadConfig(configFile string, overrides flagOverrides) (*config.Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	cfg := &config.Config{}
	if configFile != "" {
		if err := cfg.LoadFromFile(configFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}

	applyFlags(cfg, overrides)
	cfg.SetDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// loadDotEnv loads environment variables from a .env file if it exists.
func loadDotEnv() error {
	info, err := os.Stat(".env")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to stat .env: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf(".env exists but is a directory")
	}
	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("failed to load .env: %w", err)
	}
	return nil
}

// applyFlags applies command-line flags to configuration
func applyFlags(cfg *config.Config, o flagOverrides) {
	if o.rpc != "" {
		cfg.RPC.Endpoints = splitEndpoints(o.rpc)
	}
	if o.address != "" {
		cfg.Collector.Address = o.address
	}
	if o.contract != "" {
		cfg.Token.Contract = o.contract
	}
	if o.target > 0 {
		cfg.Collector.TargetEvents = o.target
	}
	if o.stepSize > 0 {
		cfg.Collector.BlockStep = o.stepSize
	}
	if o.concurrency > 0 {
		cfg.Collector.Concurrency = o.concurrency
	}
	if o.pageSize > 0 {
		cfg.Enrichment.PageSize = o.pageSize
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	if o.logFormat != "" {
		cfg.Log.Format = o.logFormat
	}
}

func splitEndpoints(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
