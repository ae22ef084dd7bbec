package storage

import (
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/RPG812/debridge-token-analytics/pkg/types"
)

// eventRecord is the stored form of a transfer event
type eventRecord struct {
	TxHash      string
	LogIndex    uint64
	BlockNumber uint64
	From        string
	To          string
	Value       *big.Int
}

// metaRecord is the stored form of transaction metadata
type metaRecord struct {
	TxHash            string
	BlockNumber       uint64
	BlockTime         uint64
	GasUsed           uint64
	EffectiveGasPrice *big.Int
}

// dailyRecord is the stored form of a daily metric.
// RLP has no floats, so they are kept as IEEE-754 bits.
type dailyRecord struct {
	Date          string
	GasCostWei    *big.Int
	GasCostEth    uint64
	MA7Wei        *big.Int
	MA7Gwei       uint64
	CumulativeEth uint64
}

// EncodeEvent encodes a transfer event using RLP
func EncodeEvent(e *types.TransferEvent) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("event cannot be nil")
	}
	data, err := rlp.EncodeToBytes(&eventRecord{
		TxHash:      e.TxHash,
		LogIndex:    uint64(e.LogIndex),
		BlockNumber: e.BlockNumber,
		From:        e.From,
		To:          e.To,
		Value:       e.Value,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode event: %w", err)
	}
	return data, nil
}

// DecodeEvent decodes a transfer event from RLP
func DecodeEvent(data []byte) (*types.TransferEvent, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("data cannot be empty")
	}
	var rec eventRecord
	if err := rlp.DecodeBytes(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: failed to decode event: %w", ErrInvalidData, err)
	}
	return &types.TransferEvent{
		TxHash:      rec.TxHash,
		LogIndex:    uint(rec.LogIndex),
		BlockNumber: rec.BlockNumber,
		From:        rec.From,
		To:          rec.To,
		Value:       rec.Value,
	}, nil
}

// EncodeTxMeta encodes transaction metadata using RLP
func EncodeTxMeta(m *types.TxMeta) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("metadata cannot be nil")
	}
	if m.BlockTime.Unix() < 0 {
		return nil, fmt.Errorf("block time before epoch: %s", m.BlockTime)
	}
	data, err := rlp.EncodeToBytes(&metaRecord{
		TxHash:            m.TxHash,
		BlockNumber:       m.BlockNumber,
		BlockTime:         uint64(m.BlockTime.Unix()),
		GasUsed:           m.GasUsed,
		EffectiveGasPrice: m.EffectiveGasPrice,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode metadata: %w", err)
	}
	return data, nil
}

// DecodeTxMeta decodes transaction metadata from RLP
func DecodeTxMeta(data []byte) (*types.TxMeta, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("data cannot be empty")
	}
	var rec metaRecord
	if err := rlp.DecodeBytes(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: failed to decode metadata: %w", ErrInvalidData, err)
	}
	return &types.TxMeta{
		TxHash:            rec.TxHash,
		BlockNumber:       rec.BlockNumber,
		BlockTime:         time.Unix(int64(rec.BlockTime), 0).UTC(),
		GasUsed:           rec.GasUsed,
		EffectiveGasPrice: rec.EffectiveGasPrice,
	}, nil
}

// EncodeDailyMetric encodes a daily metric using RLP
func EncodeDailyMetric(m *types.DailyMetric) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("metric cannot be nil")
	}
	data, err := rlp.EncodeToBytes(&dailyRecord{
		Date:          m.Date,
		GasCostWei:    m.GasCostWei,
		GasCostEth:    math.Float64bits(m.GasCostEth),
		MA7Wei:        m.MA7Wei,
		MA7Gwei:       math.Float64bits(m.MA7Gwei),
		CumulativeEth: math.Float64bits(m.CumulativeGasCostEth),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode daily metric: %w", err)
	}
	return data, nil
}

// DecodeDailyMetric decodes a daily metric from RLP
func DecodeDailyMetric(data []byte) (*types.DailyMetric, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("data cannot be empty")
	}
	var rec dailyRecord
	if err := rlp.DecodeBytes(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: failed to decode daily metric: %w", ErrInvalidData, err)
	}
	return &types.DailyMetric{
		Date:                 rec.Date,
		GasCostWei:           rec.GasCostWei,
		GasCostEth:           math.Float64frombits(rec.GasCostEth),
		MA7Wei:               rec.MA7Wei,
		MA7Gwei:              math.Float64frombits(rec.MA7Gwei),
		CumulativeGasCostEth: math.Float64frombits(rec.CumulativeEth),
	}, nil
}
