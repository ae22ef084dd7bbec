package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "analytics"

// Metrics holds all Prometheus collectors of the pipeline
type Metrics struct {
	// Collector
	EventsInserted prometheus.Counter
	Batches        *prometheus.CounterVec
	RateLimits     prometheus.Counter
	BlockStep      prometheus.Gauge
	Cursor         prometheus.Gauge
	MalformedLogs  prometheus.Counter
	BlocksScanned  prometheus.Counter

	// Enrichment
	MetadataInserted   prometheus.Counter
	EnrichmentFailures prometheus.Counter
	EnrichmentPages    prometheus.Counter
	TimestampCacheHits *prometheus.CounterVec

	// RPC
	RPCRequests *prometheus.CounterVec
	RPCDuration *prometheus.HistogramVec

	// Pipeline
	StepRuns        *prometheus.CounterVec
	StepDuration    *prometheus.HistogramVec
	EventsPublished prometheus.Counter
}

// New creates the collectors and registers them on reg.
// A nil registerer leaves them unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		EventsInserted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "events_inserted_total",
			Help:      "Transfer events persisted",
		}),
		Batches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "batches_total",
			Help:      "Fetch batches by outcome",
		}, []string{"outcome"}),
		RateLimits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "rate_limited_total",
			Help:      "Batches abandoned because the provider throttled",
		}),
		BlockStep: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "block_step",
			Help:      "Current number of blocks per getLogs range",
		}),
		Cursor: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "cursor_block",
			Help:      "Highest block not yet scanned",
		}),
		MalformedLogs: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "malformed_logs_total",
			Help:      "Logs skipped because they could not be decoded",
		}),
		BlocksScanned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collector",
			Name:      "blocks_scanned_total",
			Help:      "Blocks covered by accepted batches",
		}),
		MetadataInserted: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "tx_meta_inserted_total",
			Help:      "Transaction metadata rows persisted",
		}),
		EnrichmentFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "failures_total",
			Help:      "Per-hash enrichment failures",
		}),
		EnrichmentPages: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "pages_total",
			Help:      "Pages of missing hashes processed",
		}),
		TimestampCacheHits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrichment",
			Name:      "timestamp_cache_lookups_total",
			Help:      "Block timestamp cache lookups by result",
		}, []string{"result"}),
		RPCRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "requests_total",
			Help:      "JSON-RPC requests by method and outcome",
		}, []string{"method", "outcome"}),
		RPCDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rpc",
			Name:      "request_duration_seconds",
			Help:      "JSON-RPC request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		StepRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "step_runs_total",
			Help:      "Pipeline step attempts by step and outcome",
		}, []string{"step", "outcome"}),
		StepDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "step_duration_seconds",
			Help:      "Pipeline step duration",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		}, []string{"step"}),
		EventsPublished: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "publish",
			Name:      "events_total",
			Help:      "Transfer events written to Kafka",
		}),
	}
}

// Nop returns unregistered collectors
func Nop() *Metrics {
	return New(nil)
}
