// Package export writes the analytics report consumed downstream
package export

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/RPG812/debridge-token-analytics/pkg/analytics"
	"github.com/RPG812/debridge-token-analytics/pkg/types"
)

// Source provides the data of the report
type Source interface {
	Summary(ctx context.Context) (types.Summary, error)
	DailyMetrics(ctx context.Context) ([]types.DailyMetric, error)
}

// Config describes the report and where it is written
type Config struct {
	Address   string
	Network   string
	Token     string
	OutputDir string
	FileName  string
}

// Report is the analytics.json document
type Report struct {
	Address              string          `json:"address"`
	Network              string          `json:"network"`
	Token                string          `json:"token"`
	Summary              ReportSummary   `json:"summary"`
	DailyGasCost         []DailyGasCost  `json:"daily_gas_cost"`
	MA7EffectiveGasPrice []MA7GasPrice   `json:"ma7_effective_gas_price"`
	CumulativeGasCostEth []CumulativeEth `json:"cumulative_gas_cost_eth"`
}

// ReportSummary holds the scanned range. Unknown bounds are null.
type ReportSummary struct {
	EventsCollected uint64     `json:"events_collected"`
	BlocksScanned   [2]*uint64 `json:"blocks_scanned"`
	PeriodUTC       [2]*string `json:"period_utc"`
}

// DailyGasCost is the gas spent on one day
type DailyGasCost struct {
	Date       string  `json:"date"`
	GasCostWei string  `json:"gas_cost_wei"`
	GasCostEth float64 `json:"gas_cost_eth"`
}

// MA7GasPrice is the 7-day moving average of the effective gas price
type MA7GasPrice struct {
	Date    string  `json:"date"`
	MA7Wei  string  `json:"ma7_wei"`
	MA7Gwei float64 `json:"ma7_gwei"`
}

// CumulativeEth is the running total of gas cost
type CumulativeEth struct {
	Date   string  `json:"date"`
	CumEth float64 `json:"cum_eth"`
}

// Build assembles the report
func Build(cfg *Config, summary types.Summary, daily []types.DailyMetric) Report {
	report := Report{
		Address: cfg.Address,
		Network: cfg.Network,
		Token:   cfg.Token,
		Summary: ReportSummary{
			EventsCollected: summary.EventsCollected,
			BlocksScanned:   [2]*uint64{summary.StartBlock, summary.EndBlock},
		},
		DailyGasCost:         make([]DailyGasCost, 0, len(daily)),
		MA7EffectiveGasPrice: make([]MA7GasPrice, 0, len(daily)),
		CumulativeGasCostEth: make([]CumulativeEth, 0, len(daily)),
	}
	if summary.PeriodStart != nil {
		start := analytics.UTCDate(*summary.PeriodStart)
		report.Summary.PeriodUTC[0] = &start
	}
	if summary.PeriodEnd != nil {
		end := analytics.UTCDate(*summary.PeriodEnd)
		report.Summary.PeriodUTC[1] = &end
	}

	for _, d := range daily {
		report.DailyGasCost = append(report.DailyGasCost, DailyGasCost{
			Date:       d.Date,
			GasCostWei: decimal(d.GasCostWei),
			GasCostEth: d.GasCostEth,
		})
		report.MA7EffectiveGasPrice = append(report.MA7EffectiveGasPrice, MA7GasPrice{
			Date:    d.Date,
			MA7Wei:  decimal(d.MA7Wei),
			MA7Gwei: d.MA7Gwei,
		})
		report.CumulativeGasCostEth = append(report.CumulativeGasCostEth, CumulativeEth{
			Date:   d.Date,
			CumEth: d.CumulativeGasCostEth,
		})
	}
	return report
}

// Exporter reads the metrics from a store and writes the report file
type Exporter struct {
	config *Config
	source Source
	logger *zap.Logger
}

// New creates an exporter
func New(cfg *Config, source Source, logger *zap.Logger) (*Exporter, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.OutputDir == "" || cfg.FileName == "" {
		return nil, fmt.Errorf("output dir and file name are required")
	}
	if source == nil {
		return nil, fmt.Errorf("source is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{config: cfg, source: source, logger: logger}, nil
}

// Run writes the report and returns its path. The file is replaced
// atomically so readers never see a partial report.
func (e *Exporter) Run(ctx context.Context) (string, error) {
	summary, err := e.source.Summary(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read summary: %w", err)
	}
	daily, err := e.source.DailyMetrics(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to read daily metrics: %w", err)
	}

	data, err := json.MarshalIndent(Build(e.config, summary, daily), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}

	if err := os.MkdirAll(e.config.OutputDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create output dir: %w", err)
	}
	path := filepath.Join(e.config.OutputDir, e.config.FileName)
	if err := writeFileAtomic(path, data); err != nil {
		return "", err
	}

	e.logger.Info("Report written",
		zap.String("path", path),
		zap.Int("days", len(daily)),
		zap.Uint64("events", summary.EventsCollected))
	return path, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close report: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("failed to set report mode: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move report into place: %w", err)
	}
	return nil
}

func decimal(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
