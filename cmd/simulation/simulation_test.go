package main

import (
	"math/rand"
	"path/filepath"
	"testing"
	"time"

	"github.com/ksred/klear-repo/internal/contract"
	"github.com/ksred/klear-repo/internal/participant"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratedBookIsReadable(t *testing.T) {
	first := contract.MustParseDate("2019-04-01")
	b := generateBook(rand.New(rand.NewSource(7)), 40, first, 3)
	require.Len(t, b.trades, 40)

	path := filepath.Join(t.TempDir(), "trades.csv")
	require.NoError(t, b.write(path))

	total := 0
	for _, p := range participants {
		trades, err := participant.LoadTrades(path, p)
		require.NoError(t, err)
		for _, tr := range trades {
			assert.NotEqual(t, p, tr.Borrower)
		}
		total += len(trades)
	}
	assert.Equal(t, 40, total)

	dates := b.dates()
	assert.LessOrEqual(t, len(dates), 3)
	for i := 1; i < len(dates); i++ {
		assert.True(t, dates[i-1].Before(dates[i]))
	}
}

func TestHoldingsCoverGrossQuantity(t *testing.T) {
	b := generateBook(rand.New(rand.NewSource(1)), 25, contract.MustParseDate("2019-04-01"), 2)
	gross := make(map[string]decimal.Decimal)
	for _, tr := range b.trades {
		gross[tr.info.Cusip] = gross[tr.info.Cusip].Add(tr.info.CollateralQuantity)
	}
	for _, h := range b.holdings() {
		assert.True(t, h.Quantity.Equal(gross[h.Cusip].Mul(decimal.NewFromInt(2))))
	}
}

func TestCalculate(t *testing.T) {
	min, max, mean, median, p95 := calculate([]time.Duration{3, 1, 2, 4})
	assert.Equal(t, time.Duration(1), min)
	assert.Equal(t, time.Duration(4), max)
	assert.Equal(t, time.Duration(2), mean)
	assert.Equal(t, time.Duration(3), median)
	assert.Equal(t, time.Duration(4), p95)
}
