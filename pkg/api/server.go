// Package api serves the operational endpoints of a running pipeline:
// liveness, readiness and Prometheus metrics
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	apimiddleware "github.com/RPG812/debridge-token-analytics/pkg/api/middleware"
)

// Config holds ops server settings
type Config struct {
	Listen          string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// DefaultConfig returns settings for the given listen address
func DefaultConfig(listen string) *Config {
	return &Config{
		Listen:          listen,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 10 * time.Second,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if _, _, err := net.SplitHostPort(c.Listen); err != nil {
		return fmt.Errorf("invalid listen address %q: %w", c.Listen, err)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("shutdown timeout must be positive")
	}
	return nil
}

// Server is the ops HTTP server
type Server struct {
	config *Config
	logger *zap.Logger
	health *HealthChecker
	router *chi.Mux
	server *http.Server
}

// NewServer creates the ops server. Metrics are served from gatherer.
func NewServer(cfg *Config, logger *zap.Logger, health *HealthChecker, gatherer prometheus.Gatherer) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if health == nil {
		health = NewHealthChecker("", 0)
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		config: cfg,
		logger: logger,
		health: health,
		router: chi.NewRouter(),
	}

	s.router.Use(apimiddleware.Recovery(logger))
	s.router.Use(middleware.RequestID)
	s.router.Use(apimiddleware.Logger(logger))

	s.router.Get("/health", health.LivenessHandler())
	s.router.Get("/ready", health.ReadinessHandler())
	s.router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.server = &http.Server{
		Addr:         cfg.Listen,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Start serves until Stop is called
func (s *Server) Start() error {
	s.logger.Info("starting ops server", zap.String("address", s.config.Listen))

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Stop gracefully stops the server
func (s *Server) Stop(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, s.config.ShutdownTimeout)
	defer cancel()

	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	s.logger.Info("ops server stopped")
	return nil
}

// Router returns the underlying chi router (for testing)
func (s *Server) Router() *chi.Mux {
	return s.router
}
