// Package analytics holds the unit conversions and the daily gas aggregation
// shared by the storage backends and the export step.
package analytics

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/params"
)

// DateLayout is the format of a UTC day
const DateLayout = "2006-01-02"

var (
	weiPerEth  = new(big.Float).SetFloat64(params.Ether)
	weiPerGwei = new(big.Float).SetFloat64(params.GWei)
)

// WeiToEth converts wei to ether. Precision is that of a float64.
func WeiToEth(wei *big.Int) float64 {
	return divide(wei, weiPerEth)
}

// WeiToGwei converts wei to gwei
func WeiToGwei(wei *big.Int) float64 {
	return divide(wei, weiPerGwei)
}

func divide(wei *big.Int, unit *big.Float) float64 {
	if wei == nil || wei.Sign() == 0 {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), unit).Float64()
	return f
}

// GasCostWei returns gasUsed * effectiveGasPrice
func GasCostWei(gasUsed uint64, effectiveGasPrice *big.Int) *big.Int {
	if effectiveGasPrice == nil {
		return new(big.Int)
	}
	return new(big.Int).Mul(new(big.Int).SetUint64(gasUsed), effectiveGasPrice)
}

// UTCDate returns the UTC calendar day of t as YYYY-MM-DD
func UTCDate(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// UnixToUTC converts a block timestamp in seconds to a UTC time
func UnixToUTC(seconds uint64) time.Time {
	return time.Unix(int64(seconds), 0).UTC()
}
