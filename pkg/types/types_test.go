package types

import (
	"errors"
	"fmt"
	"math/big"
	"testing"
)

func TestBlockRange(t *testing.T) {
	r := BlockRange{From: 90, To: 99}
	if r.Size() != 10 {
		t.Errorf("Size() = %d, want 10", r.Size())
	}
	if r.String() != "[90,99]" {
		t.Errorf("String() = %q", r.String())
	}
}

func TestTransferEventKey(t *testing.T) {
	e := TransferEvent{TxHash: "0xabc", LogIndex: 7}
	if e.Key() != "0xabc:7" {
		t.Errorf("Key() = %q", e.Key())
	}
}

func TestTxMetaGasCostWei(t *testing.T) {
	tests := []struct {
		name string
		meta TxMeta
		want string
	}{
		{"regular", TxMeta{GasUsed: 21000, EffectiveGasPrice: big.NewInt(30_000_000_000)}, "630000000000000"},
		{"nil price", TxMeta{GasUsed: 21000}, "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.meta.GasCostWei().String(); got != tt.want {
				t.Errorf("GasCostWei() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestErrRateLimitedWrapping(t *testing.T) {
	err := fmt.Errorf("eth_getLogs: %w", ErrRateLimited)
	if !errors.Is(err, ErrRateLimited) {
		t.Error("wrapped error should match ErrRateLimited")
	}
	if errors.Is(err, ErrStorage) {
		t.Error("rate limit should not match ErrStorage")
	}
}
