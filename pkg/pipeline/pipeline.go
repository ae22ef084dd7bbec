// Package pipeline runs the analytics steps in order, each with its own retry budget
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/RPG812/debridge-token-analytics/internal/logger"
	"github.com/RPG812/debridge-token-analytics/pkg/metrics"
	"github.com/RPG812/debridge-token-analytics/pkg/retry"
)

// Step names in execution order
const (
	StepCollect = "collect"
	StepEnrich  = "enrich"
	StepMetrics = "metrics"
	StepExport  = "export"

	// All runs every registered step
	All = "all"
)

// ErrUnknownStep is returned when Run is asked for a step that is not registered
var ErrUnknownStep = errors.New("unknown step")

// StepFunc performs one step. The logger is already tagged with the step name.
type StepFunc func(ctx context.Context, log *zap.Logger) error

// Step is a named unit of the pipeline
type Step struct {
	Name string
	Run  StepFunc
}

// Config holds the per-step retry budget
type Config struct {
	StepAttempts   int
	StepRetryDelay time.Duration
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.StepAttempts <= 0 {
		return fmt.Errorf("step attempts must be positive")
	}
	if c.StepRetryDelay < 0 {
		return fmt.Errorf("step retry delay cannot be negative")
	}
	return nil
}

// Runner executes registered steps
type Runner struct {
	config  *Config
	steps   []Step
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// New creates a runner. Step names must be unique and non-empty.
func New(cfg *Config, steps []Step, log *zap.Logger, m *metrics.Metrics) (*Runner, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	seen := make(map[string]struct{}, len(steps))
	for _, s := range steps {
		if s.Name == "" || s.Name == All {
			return nil, fmt.Errorf("invalid step name %q", s.Name)
		}
		if s.Run == nil {
			return nil, fmt.Errorf("step %s has no function", s.Name)
		}
		if _, dup := seen[s.Name]; dup {
			return nil, fmt.Errorf("duplicate step %s", s.Name)
		}
		seen[s.Name] = struct{}{}
	}

	if log == nil {
		log = zap.NewNop()
	}
	if m == nil {
		m = metrics.Nop()
	}

	return &Runner{config: cfg, steps: steps, logger: log, metrics: m}, nil
}

// Steps returns the registered step names in order
func (r *Runner) Steps() []string {
	names := make([]string, len(r.steps))
	for i, s := range r.steps {
		names[i] = s.Name
	}
	return names
}

// Run executes the named step, or every step in order for All.
// The first step that exhausts its retries stops the pipeline.
func (r *Runner) Run(ctx context.Context, name string) error {
	if name == All {
		started := time.Now()
		for _, s := range r.steps {
			if err := r.runStep(ctx, s); err != nil {
				return err
			}
		}
		r.logger.Info("Pipeline completed",
			zap.Strings("steps", r.Steps()),
			zap.Duration("duration", time.Since(started)))
		return nil
	}

	for _, s := range r.steps {
		if s.Name == name {
			return r.runStep(ctx, s)
		}
	}
	return fmt.Errorf("%w: %s", ErrUnknownStep, name)
}

func (r *Runner) runStep(ctx context.Context, s Step) error {
	log := logger.WithStep(r.logger, s.Name)

	policy := retry.Policy{
		Attempts:  r.config.StepAttempts,
		BaseDelay: r.config.StepRetryDelay,
		MaxDelay:  r.config.StepRetryDelay * 8,
		Classify:  classify,
		OnRetry: func(attempt int, wait time.Duration, err error) {
			log.Warn("Step failed, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("wait", wait),
				zap.Error(err))
		},
	}

	attempt := 0
	err := retry.Do(ctx, policy, func(ctx context.Context) error {
		attempt++
		log.Info("Starting", zap.Int("attempt", attempt))
		started := time.Now()

		err := s.Run(ctx, log)
		r.metrics.StepDuration.WithLabelValues(s.Name).Observe(time.Since(started).Seconds())
		if err != nil {
			r.metrics.StepRuns.WithLabelValues(s.Name, "error").Inc()
			return err
		}
		r.metrics.StepRuns.WithLabelValues(s.Name, "ok").Inc()
		log.Info("Completed", zap.Duration("duration", time.Since(started)))
		return nil
	})
	if err != nil {
		log.Error("Step failed", zap.Int("attempts", attempt), zap.Error(err))
		return fmt.Errorf("step %s failed: %w", s.Name, err)
	}
	return nil
}

// classify stops retrying once the run itself is cancelled
func classify(err error) retry.Class {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return retry.Fatal
	}
	return retry.Retryable
}
