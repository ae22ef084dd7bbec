package types

import (
	"errors"
	"fmt"
	"math/big"
	"time"
)

// Error kinds shared across the pipeline
var (
	// ErrRateLimited is returned by a log source when the provider throttles a request.
	// It is a signal to the collector, never a failure of the run.
	ErrRateLimited = errors.New("rate limited")

	// ErrStorage wraps persistence failures
	ErrStorage = errors.New("storage failure")
)

// BlockRange is an inclusive range of block numbers with From <= To
type BlockRange struct {
	From uint64
	To   uint64
}

// Size returns the number of blocks covered by the range
func (r BlockRange) Size() uint64 {
	return r.To - r.From + 1
}

func (r BlockRange) String() string {
	return fmt.Sprintf("[%d,%d]", r.From, r.To)
}

// TransferEvent is one ERC-20 Transfer log involving the tracked address.
// (TxHash, LogIndex) is the natural key. Hashes and addresses are lowercase hex.
type TransferEvent struct {
	TxHash      string
	LogIndex    uint
	BlockNumber uint64
	From        string
	To          string
	Value       *big.Int
	// BlockTime is unset at collection time and filled by storage backends that join metadata
	BlockTime *time.Time
}

// Key returns the natural key of the event
func (e TransferEvent) Key() string {
	return fmt.Sprintf("%s:%d", e.TxHash, e.LogIndex)
}

// CollectionProgress summarizes what has already been persisted.
// MinBlock and MaxBlock are nil when no events exist.
type CollectionProgress struct {
	MinBlock *uint64
	MaxBlock *uint64
	Count    uint64
}

// Receipt carries the receipt fields the enrichment step needs
type Receipt struct {
	TxHash            string
	BlockNumber       uint64
	GasUsed           uint64
	EffectiveGasPrice *big.Int
}

// TxMeta is per-transaction metadata persisted by enrichment
type TxMeta struct {
	TxHash            string
	BlockNumber       uint64
	BlockTime         time.Time
	GasUsed           uint64
	EffectiveGasPrice *big.Int
}

// GasCostWei returns gasUsed * effectiveGasPrice
func (m TxMeta) GasCostWei() *big.Int {
	price := m.EffectiveGasPrice
	if price == nil {
		price = new(big.Int)
	}
	return new(big.Int).Mul(new(big.Int).SetUint64(m.GasUsed), price)
}

// DailyMetric is one UTC day of aggregated gas statistics
type DailyMetric struct {
	Date                 string
	GasCostWei           *big.Int
	GasCostEth           float64
	MA7Wei               *big.Int
	MA7Gwei              float64
	CumulativeGasCostEth float64
}

// Summary describes the collected data set for reporting
type Summary struct {
	EventsCollected uint64
	StartBlock      *uint64
	EndBlock        *uint64
	PeriodStart     *time.Time
	PeriodEnd       *time.Time
}

// Beat is a liveness report emitted after each unit of progress
type Beat struct {
	Step string
	// Cursor is the next block to scan, or -1 when not applicable
	Cursor    int64
	Processed int
	Total     int
	At        time.Time
}
