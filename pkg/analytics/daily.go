package analytics

import (
	"math/big"
	"sort"

	"github.com/RPG812/debridge-token-analytics/pkg/types"
)

// MovingAverageWindow is the number of days in the gas price moving average
const MovingAverageWindow = 7

type dayBucket struct {
	gasCostWei *big.Int
	gasCostEth float64
	priceSum   *big.Int
	rows       int64
}

// ComputeDaily aggregates enriched transfer rows into per-day metrics.
//
// rows holds one entry per collected transfer joined with the metadata of
// its transaction, so a transaction with several transfers counts several
// times. Per UTC day it sums the gas cost, averages the effective gas price
// over rows, then takes a moving average of that daily price over the last
// MovingAverageWindow days with data and a running total of the cost in
// ether. Days are returned in ascending order.
func ComputeDaily(rows []types.TxMeta) []types.DailyMetric {
	buckets := make(map[string]*dayBucket)
	for _, row := range rows {
		date := UTCDate(row.BlockTime)
		b, ok := buckets[date]
		if !ok {
			b = &dayBucket{gasCostWei: new(big.Int), priceSum: new(big.Int)}
			buckets[date] = b
		}

		cost := GasCostWei(row.GasUsed, row.EffectiveGasPrice)
		b.gasCostWei.Add(b.gasCostWei, cost)
		b.gasCostEth += WeiToEth(cost)
		if row.EffectiveGasPrice != nil {
			b.priceSum.Add(b.priceSum, row.EffectiveGasPrice)
		}
		b.rows++
	}

	dates := make([]string, 0, len(buckets))
	for date := range buckets {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	avgPrices := make([]*big.Float, len(dates))
	out := make([]types.DailyMetric, 0, len(dates))
	var cumulative float64

	for i, date := range dates {
		b := buckets[date]
		avgPrices[i] = new(big.Float).Quo(
			new(big.Float).SetInt(b.priceSum),
			new(big.Float).SetInt64(b.rows))

		ma7 := windowAverage(avgPrices[:i+1], MovingAverageWindow)
		ma7Wei, _ := ma7.Int(nil)
		ma7Gwei, _ := new(big.Float).Quo(ma7, weiPerGwei).Float64()

		cumulative += b.gasCostEth
		out = append(out, types.DailyMetric{
			Date:                 date,
			GasCostWei:           b.gasCostWei,
			GasCostEth:           b.gasCostEth,
			MA7Wei:               ma7Wei,
			MA7Gwei:              ma7Gwei,
			CumulativeGasCostEth: cumulative,
		})
	}

	return out
}

// windowAverage averages the last n values
func windowAverage(values []*big.Float, n int) *big.Float {
	if len(values) > n {
		values = values[len(values)-n:]
	}
	sum := new(big.Float)
	for _, v := range values {
		sum.Add(sum, v)
	}
	return sum.Quo(sum, new(big.Float).SetInt64(int64(len(values))))
}
