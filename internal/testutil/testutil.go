// Package testutil builds chain fixtures shared by package tests
package testutil

import (
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	ethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/RPG812/debridge-token-analytics/pkg/types"
)

// transferTopic is keccak256("Transfer(address,address,uint256)")
var transferTopic = crypto.Keccak256Hash([]byte("Transfer(address,address,uint256)"))

// NewTestLogger creates a logger that writes through t.Log
func NewTestLogger(t *testing.T) *zap.Logger {
	t.Helper()
	return zaptest.NewLogger(t)
}

// TxHash returns a deterministic lowercase transaction hash for n
func TxHash(n int) string {
	return fmt.Sprintf("0x%064x", n)
}

// TransferLog builds an ERC-20 Transfer log. The tx hash is derived from
// block and idx so every (block, idx) pair is a distinct transaction.
func TransferLog(block uint64, idx uint, from, to common.Address, value int64) ethtypes.Log {
	var txHash common.Hash
	big.NewInt(int64(block)*1000 + int64(idx) + 1).FillBytes(txHash[:])
	return ethtypes.Log{
		Topics: []common.Hash{
			transferTopic,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data:        common.LeftPadBytes(big.NewInt(value).Bytes(), 32),
		BlockNumber: block,
		TxHash:      txHash,
		Index:       idx,
	}
}

// NewTestReceipt creates a receipt with the given gas usage and price in gwei
func NewTestReceipt(txHash string, blockNumber, gasUsed uint64, priceGwei int64) *types.Receipt {
	return &types.Receipt{
		TxHash:            txHash,
		BlockNumber:       blockNumber,
		GasUsed:           gasUsed,
		EffectiveGasPrice: new(big.Int).Mul(big.NewInt(priceGwei), big.NewInt(1_000_000_000)),
	}
}
