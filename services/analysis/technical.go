// Package analysis holds pure indicator math over daily bar slices. Inputs
// are assumed ordered by trade date ascending, the order the store returns.
package analysis

import (
	"github.com/shopspring/decimal"

	"github.com/pananq/stock-analysis-app/models"
)

// MovingAverage returns the simple moving average of closes, aligned with
// bars: result[i] is the average over bars[i-period+1 .. i]. Positions with
// fewer than period bars behind them are zero and reported invalid via
// MAValidFrom.
func MovingAverage(bars []models.DailyBar, period int) []decimal.Decimal {
	result := make([]decimal.Decimal, len(bars))
	if period <= 0 || len(bars) < period {
		return result
	}

	window := decimal.NewFromInt(int64(period))
	sum := decimal.Zero
	for i, bar := range bars {
		sum = sum.Add(bar.Close)
		if i >= period {
			sum = sum.Sub(bars[i-period].Close)
		}
		if i >= period-1 {
			result[i] = sum.Div(window)
		}
	}
	return result
}

// MAValidFrom returns the first index at which a period-length average is
// defined, or -1 when the slice is too short.
func MAValidFrom(barCount, period int) int {
	if period <= 0 || barCount < period {
		return -1
	}
	return period - 1
}

// PctChange returns the percent change from prev to cur, zero when prev is
// zero.
func PctChange(prev, cur decimal.Decimal) decimal.Decimal {
	if prev.IsZero() {
		return decimal.Zero
	}
	return cur.Sub(prev).Div(prev).Mul(decimal.NewFromInt(100))
}

// BarPctChange returns a bar's daily percent change, preferring the value
// delivered by the provider and falling back to computing it from the
// previous close.
func BarPctChange(bars []models.DailyBar, i int) decimal.Decimal {
	if !bars[i].PctChange.IsZero() {
		return bars[i].PctChange
	}
	if i == 0 {
		return decimal.Zero
	}
	return PctChange(bars[i-1].Close, bars[i].Close)
}
