package analysis

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pananq/stock-analysis-app/models"
)

func barsWithCloses(closes ...float64) []models.DailyBar {
	bars := make([]models.DailyBar, 0, len(closes))
	for _, c := range closes {
		bars = append(bars, models.DailyBar{Close: decimal.NewFromFloat(c)})
	}
	return bars
}

func TestMovingAverage(t *testing.T) {
	bars := barsWithCloses(1, 2, 3, 4, 5)
	ma := MovingAverage(bars, 3)
	require.Len(t, ma, 5)

	assert.True(t, ma[0].IsZero())
	assert.True(t, ma[1].IsZero())
	assert.True(t, ma[2].Equal(decimal.NewFromInt(2)), "avg(1,2,3) = 2, got %s", ma[2])
	assert.True(t, ma[3].Equal(decimal.NewFromInt(3)))
	assert.True(t, ma[4].Equal(decimal.NewFromInt(4)))
}

func TestMovingAverageShortSlice(t *testing.T) {
	ma := MovingAverage(barsWithCloses(1, 2), 5)
	require.Len(t, ma, 2)
	assert.True(t, ma[0].IsZero())
	assert.True(t, ma[1].IsZero())
}

func TestMAValidFrom(t *testing.T) {
	assert.Equal(t, 4, MAValidFrom(10, 5))
	assert.Equal(t, -1, MAValidFrom(3, 5))
	assert.Equal(t, -1, MAValidFrom(10, 0))
}

func TestPctChange(t *testing.T) {
	got := PctChange(decimal.NewFromInt(100), decimal.NewFromInt(106))
	assert.True(t, got.Equal(decimal.NewFromInt(6)), "got %s", got)

	assert.True(t, PctChange(decimal.Zero, decimal.NewFromInt(10)).IsZero())
}

func TestBarPctChangePrefersStoredValue(t *testing.T) {
	bars := barsWithCloses(100, 110)
	bars[1].PctChange = decimal.NewFromFloat(9.5) // provider value wins

	got := BarPctChange(bars, 1)
	assert.True(t, got.Equal(decimal.NewFromFloat(9.5)))
}

func TestBarPctChangeFallsBackToComputed(t *testing.T) {
	bars := barsWithCloses(100, 110)
	got := BarPctChange(bars, 1)
	assert.True(t, got.Equal(decimal.NewFromInt(10)), "got %s", got)

	assert.True(t, BarPctChange(bars, 0).IsZero())
}
