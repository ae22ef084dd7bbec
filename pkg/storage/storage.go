package storage

import (
	"context"
	"errors"

	"github.com/RPG812/debridge-token-analytics/pkg/types"
)

// Common errors
var (
	// ErrNotFound is returned when a key is not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidData is returned when data cannot be decoded
	ErrInvalidData = errors.New("invalid data")

	// ErrClosed is returned when operating on a closed storage
	ErrClosed = errors.New("storage closed")
)

// EventStore holds collected transfer events
type EventStore interface {
	// GetProgress returns the block bounds and the number of stored events
	GetProgress(ctx context.Context) (types.CollectionProgress, error)

	// InsertEvents stores events; an event already stored under the same
	// (tx hash, log index) is overwritten
	InsertEvents(ctx context.Context, events []types.TransferEvent) error
}

// MetaStore holds per-transaction metadata
type MetaStore interface {
	// GetHashesMissingMetadata returns up to limit distinct tx hashes of
	// stored events that have no metadata yet
	GetHashesMissingMetadata(ctx context.Context, limit int) ([]string, error)

	// InsertMetadata stores metadata rows keyed by tx hash
	InsertMetadata(ctx context.Context, metas []types.TxMeta) error
}

// MetricsStore aggregates and reads the daily gas metrics
type MetricsStore interface {
	// ResetDailyMetrics removes every computed daily row
	ResetDailyMetrics(ctx context.Context) error

	// ComputeDailyMetrics aggregates events joined with metadata into daily
	// rows and returns the number of days written
	ComputeDailyMetrics(ctx context.Context) (int, error)

	// DailyMetrics returns the computed rows ordered by date
	DailyMetrics(ctx context.Context) ([]types.DailyMetric, error)

	// Summary describes the collected data set
	Summary(ctx context.Context) (types.Summary, error)
}

// Store is a complete pipeline backend
type Store interface {
	EventStore
	MetaStore
	MetricsStore

	// Ping checks the backend is reachable and returns a version string
	Ping(ctx context.Context) (string, error)

	// Close releases resources
	Close() error
}

// Config holds pebble configuration
type Config struct {
	// Path to the database directory
	Path string

	// Cache size in MB (default: 64)
	Cache int

	// MaxOpenFiles is the maximum number of open files (default: 500)
	MaxOpenFiles int

	// WriteBuffer size in MB (default: 32)
	WriteBuffer int

	// DisableWAL disables write-ahead log (not recommended)
	DisableWAL bool
}

// DefaultConfig returns a default configuration
func DefaultConfig(path string) *Config {
	return &Config{
		Path:         path,
		Cache:        64,
		MaxOpenFiles: 500,
		WriteBuffer:  32,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Path == "" {
		return errors.New("path cannot be empty")
	}
	if c.Cache < 0 {
		return errors.New("cache size cannot be negative")
	}
	if c.MaxOpenFiles < 0 {
		return errors.New("max open files cannot be negative")
	}
	if c.WriteBuffer < 0 {
		return errors.New("write buffer size cannot be negative")
	}
	return nil
}
