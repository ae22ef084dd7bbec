package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/RPG812/debridge-token-analytics/internal/config"
	"github.com/RPG812/debridge-token-analytics/internal/constants"
	"github.com/RPG812/debridge-token-analytics/internal/logger"
	"github.com/RPG812/debridge-token-analytics/pkg/api"
	"github.com/RPG812/debridge-token-analytics/pkg/client"
	"github.com/RPG812/debridge-token-analytics/pkg/collector"
	"github.com/RPG812/debridge-token-analytics/pkg/enrich"
	"github.com/RPG812/debridge-token-analytics/pkg/export"
	"github.com/RPG812/debridge-token-analytics/pkg/liveness"
	"github.com/RPG812/debridge-token-analytics/pkg/metrics"
	"github.com/RPG812/debridge-token-analytics/pkg/pipeline"
	"github.com/RPG812/debridge-token-analytics/pkg/publish"
	"github.com/RPG812/debridge-token-analytics/pkg/retry"
	"github.com/RPG812/debridge-token-analytics/pkg/storage"
	"github.com/RPG812/debridge-token-analytics/pkg/storage/clickhouse"
)

// heartbeat is what the collector and the enrichment engine report progress to
type heartbeat interface {
	collector.Liveness
	enrich.Liveness
}

// app holds the wired backends of one run
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics

	store     storage.Store
	rpc       *client.Client
	heartbeat heartbeat
	redis     *liveness.Redis
	publisher *publish.KafkaPublisher

	closers []io.Closer
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger, step string) error {
	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()

	if step == stepCheck {
		return a.check(ctx, os.Stdout)
	}

	if cfg.Ops.Enabled {
		stop, err := a.startOps()
		if err != nil {
			return err
		}
		defer stop()
	}

	runner, err := a.runner()
	if err != nil {
		return err
	}
	return runner.Run(ctx, step)
}

func newApp(ctx context.Context, cfg *config.Config, log *zap.Logger) (*app, error) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	a := &app{
		cfg:      cfg,
		log:      log,
		registry: registry,
		metrics:  metrics.New(registry),
	}

	if err := a.openStore(ctx); err != nil {
		a.close()
		return nil, err
	}
	if err := a.openLiveness(ctx); err != nil {
		a.close()
		return nil, err
	}
	if err := a.openRPC(ctx); err != nil {
		a.close()
		return nil, err
	}
	if err := a.openPublisher(); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	log := logger.WithComponent(a.log, "storage")

	switch a.cfg.Storage.Backend {
	case "clickhouse":
		ch := a.cfg.Storage.ClickHouse
		store, err := clickhouse.Open(ctx, &clickhouse.Config{
			Addr:        ch.Addr,
			Database:    ch.Database,
			Username:    ch.Username,
			Password:    ch.Password,
			DialTimeout: ch.DialTimeout,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to open clickhouse: %w", err)
		}
		a.store = store

	case "pebble":
		store, err := storage.NewPebbleStore(storage.DefaultConfig(a.cfg.Storage.Pebble.Path))
		if err != nil {
			return fmt.Errorf("failed to open pebble store: %w", err)
		}
		store.SetLogger(log)
		a.store = store

	default:
		return fmt.Errorf("unknown storage backend %q", a.cfg.Storage.Backend)
	}

	a.closers = append(a.closers, a.store)
	log.Info("Storage initialized", zap.String("backend", a.cfg.Storage.Backend))
	return nil
}

func (a *app) openLiveness(ctx context.Context) error {
	logBeat := liveness.NewLog(logger.WithComponent(a.log, "liveness"), constants.HeartbeatLogInterval)

	switch a.cfg.Liveness.Backend {
	case "none":
		a.heartbeat = liveness.Nop{}
	case "log":
		a.heartbeat = logBeat
	case "redis":
		rc := a.cfg.Liveness.Redis
		r, err := liveness.NewRedis(ctx, &liveness.RedisConfig{
			Addr:      rc.Addr,
			Password:  rc.Password,
			DB:        rc.DB,
			KeyPrefix: rc.KeyPrefix,
			TTL:       rc.TTL,
		}, a.log)
		if err != nil {
			return fmt.Errorf("failed to open redis liveness: %w", err)
		}
		a.redis = r
		a.closers = append(a.closers, r)
		a.heartbeat = liveness.Multi{logBeat, r}
	default:
		return fmt.Errorf("unknown liveness backend %q", a.cfg.Liveness.Backend)
	}
	return nil
}

func (a *app) openRPC(ctx context.Context) error {
	rc := a.cfg.RPC
	rpc, err := client.NewClient(ctx, &client.Config{
		Endpoints:         rc.Endpoints,
		Timeout:           rc.Timeout,
		Contract:          common.HexToAddress(a.cfg.Token.Contract),
		Topic:             collector.TransferTopic,
		RequestsPerSecond: rc.RequestsPerSecond,
		Burst:             rc.Burst,
		Retry: retry.Policy{
			Attempts:  rc.Retry.Attempts,
			BaseDelay: rc.Retry.BaseDelay,
			MaxDelay:  rc.Retry.MaxDelay,
			Jitter:    rc.Retry.JitterEnabled(),
		},
		Logger:  logger.WithComponent(a.log, "rpc"),
		Metrics: a.metrics,
	})
	if err != nil {
		return err
	}
	a.rpc = rpc
	a.closers = append(a.closers, closerFunc(func() error {
		rpc.Close()
		return nil
	}))
	return nil
}

func (a *app) openPublisher() error {
	kc := a.cfg.Publish.Kafka
	if !kc.Enabled {
		return nil
	}

	p, err := publish.NewKafkaPublisher(&publish.Config{
		Brokers:  kc.Brokers,
		Topic:    kc.Topic,
		ClientID: kc.ClientID,
	}, logger.WithComponent(a.log, "publish"), a.metrics)
	if err != nil {
		return fmt.Errorf("failed to create kafka publisher: %w", err)
	}
	a.publisher = p
	a.closers = append(a.closers, p)
	return nil
}

// eventSink is where the collector persists accepted batches
func (a *app) eventSink() collector.EventSink {
	if a.publisher == nil {
		return a.store
	}
	return publish.NewSink(a.store, a.publisher, a.log)
}

func (a *app) runner() (*pipeline.Runner, error) {
	cfg := a.cfg

	steps := []pipeline.Step{
		{Name: pipeline.StepCollect, Run: func(ctx context.Context, log *zap.Logger) error {
			c, err := collector.New(&collector.Config{
				Target:         cfg.Collector.TargetEvents,
				Address:        common.HexToAddress(cfg.Collector.Address),
				InitialStep:    cfg.Collector.BlockStep,
				Concurrency:    cfg.Collector.Concurrency,
				RateLimitDelay: cfg.Collector.RateLimitDelay,
				BatchDelay:     cfg.Collector.BatchDelay,
			}, a.rpc, a.store, a.eventSink(), a.heartbeat, log, a.metrics)
			if err != nil {
				return err
			}
			res, err := c.Run(ctx)
			if err != nil {
				return err
			}
			log.Info("Collection finished",
				zap.Int("collected", res.Collected),
				zap.Int("remaining", res.Remaining),
				zap.Int("batches", res.Batches),
				zap.Int("rate_limited", res.RateLimited),
				zap.Uint64("final_step", res.FinalStep),
				zap.Bool("reached_genesis", res.ReachedGenesis))
			return nil
		}},
		{Name: pipeline.StepEnrich, Run: func(ctx context.Context, log *zap.Logger) error {
			e, err := enrich.New(&enrich.Config{
				PageSize:        cfg.Enrichment.PageSize,
				Concurrency:     cfg.Enrichment.Concurrency,
				PageDelay:       cfg.Enrichment.PageDelay,
				MaxHashAttempts: cfg.Enrichment.MaxHashAttempts,
			}, a.rpc, a.store, a.store, a.heartbeat, log, a.metrics)
			if err != nil {
				return err
			}
			res, err := e.Run(ctx)
			if err != nil {
				return err
			}
			log.Info("Enrichment finished",
				zap.Int("processed", res.Processed),
				zap.Int("failures", res.Failures),
				zap.Int("pages", res.Pages),
				zap.Int("gave_up", res.GaveUp))
			return nil
		}},
		{Name: pipeline.StepMetrics, Run: func(ctx context.Context, log *zap.Logger) error {
			if err := a.store.ResetDailyMetrics(ctx); err != nil {
				return err
			}
			days, err := a.store.ComputeDailyMetrics(ctx)
			if err != nil {
				return err
			}
			log.Info("Daily metrics computed", zap.Int("days", days))
			return nil
		}},
		{Name: pipeline.StepExport, Run: func(ctx context.Context, log *zap.Logger) error {
			e, err := export.New(&export.Config{
				Address:   strings.ToLower(cfg.Collector.Address),
				Network:   cfg.Token.Network,
				Token:     strings.ToLower(cfg.Token.Contract),
				OutputDir: cfg.Export.OutputDir,
				FileName:  cfg.Export.FileName,
			}, a.store, log)
			if err != nil {
				return err
			}
			_, err = e.Run(ctx)
			return err
		}},
	}

	return pipeline.New(&pipeline.Config{
		StepAttempts:   cfg.Pipeline.StepAttempts,
		StepRetryDelay: cfg.Pipeline.StepRetryDelay,
	}, steps, a.log, a.metrics)
}

// startOps serves /health, /ready and /metrics until the returned stop is called
func (a *app) startOps() (func(), error) {
	hc := api.NewHealthChecker(version, constants.HealthCheckTimeout)
	hc.AddCheck("storage", func(ctx context.Context) error {
		_, err := a.store.Ping(ctx)
		return err
	})
	hc.AddCheck("rpc", a.rpc.Ping)

	opsCfg := api.DefaultConfig(a.cfg.Ops.Listen)
	opsCfg.ReadTimeout = constants.DefaultReadTimeout
	opsCfg.WriteTimeout = constants.DefaultWriteTimeout
	opsCfg.ShutdownTimeout = constants.DefaultShutdownTimeout

	srv, err := api.NewServer(opsCfg, logger.WithComponent(a.log, "ops"), hc, a.registry)
	if err != nil {
		return nil, fmt.Errorf("failed to create ops server: %w", err)
	}

	go func() {
		if err := srv.Start(); err != nil {
			a.log.Error("Ops server failed", zap.Error(err))
		}
	}()

	return func() {
		if err := srv.Stop(context.Background()); err != nil {
			a.log.Error("Failed to stop ops server gracefully", zap.Error(err))
		}
	}, nil
}

// check prints what every backend reports and fails on the first unreachable one
func (a *app) check(ctx context.Context, w io.Writer) error {
	storeVersion, err := a.store.Ping(ctx)
	if err != nil {
		return fmt.Errorf("storage check failed: %w", err)
	}
	fmt.Fprintf(w, "storage (%s): %s\n", a.cfg.Storage.Backend, storeVersion)

	chainID, err := a.rpc.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("rpc check failed: %w", err)
	}
	head, err := a.rpc.GetLatestBlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("rpc check failed: %w", err)
	}
	fmt.Fprintf(w, "rpc: chain %s, head %d\n", chainID, head)

	progress, err := a.store.GetProgress(ctx)
	if err != nil {
		return fmt.Errorf("progress check failed: %w", err)
	}
	fmt.Fprintf(w, "events stored: %d\n", progress.Count)

	if a.redis != nil {
		for _, step := range []string{pipeline.StepCollect, pipeline.StepEnrich} {
			beat, err := a.redis.Last(ctx, step)
			switch {
			case errors.Is(err, liveness.ErrNoHeartbeat):
				fmt.Fprintf(w, "heartbeat %s: none\n", step)
			case err != nil:
				return fmt.Errorf("redis check failed: %w", err)
			default:
				fmt.Fprintf(w, "heartbeat %s: %s processed=%d\n", step, beat.At.UTC().Format("2006-01-02T15:04:05Z"), beat.Processed)
			}
		}
	}
	return nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			a.log.Warn("Failed to close component", zap.Error(err))
		}
	}
	a.closers = nil
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }
