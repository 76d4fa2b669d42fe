package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaxDrawdown(t *testing.T) {
	assert.InDelta(t, 0.5, MaxDrawdown([]float64{100, 120, 90, 130, 65}), 1e-12)
	assert.Zero(t, MaxDrawdown([]float64{100, 101, 102}))
	assert.Zero(t, MaxDrawdown(nil))
}

func TestSummarize(t *testing.T) {
	trades := []Trade{{PnL: 10}, {PnL: -4}, {PnL: 6}, {PnL: -2}}
	s := Summarize(SummaryInput{
		Trades:       trades,
		Equity:       []float64{100, 110, 106, 112, 110},
		InitialCash:  100,
		FirstClose:   1.0,
		LastClose:    1.1,
		BarsInMarket: 4,
	})

	assert.Equal(t, 4, s.TradeCount)
	assert.Equal(t, 2, s.Wins)
	assert.Equal(t, 2, s.Losses)
	assert.InDelta(t, 0.5, s.WinRate, 1e-12)
	assert.InDelta(t, 10.0, s.NetPnL, 1e-12)
	assert.InDelta(t, 110.0, s.FinalEquity, 1e-12)
	assert.InDelta(t, 0.1, s.TotalReturn, 1e-12)
	assert.InDelta(t, 0.1, s.BuyHoldReturn, 1e-12)
	assert.InDelta(t, 10.0, s.BestTrade, 1e-12)
	assert.InDelta(t, -4.0, s.WorstTrade, 1e-12)
	assert.InDelta(t, 2.5, s.AvgTrade, 1e-12)
	assert.InDelta(t, 8.0, s.AvgWin, 1e-12)
	assert.InDelta(t, 3.0, s.AvgLoss, 1e-12)
	assert.InDelta(t, 16.0/6.0, s.ProfitFactor, 1e-12)
	assert.InDelta(t, 2.5, s.Expectancy, 1e-12)
	assert.InDelta(t, 0.8, s.Exposure, 1e-12)
	assert.InDelta(t, 4.0/110.0, s.MaxDrawdown, 1e-12)
}

func TestSummarizeNoTrades(t *testing.T) {
	s := Summarize(SummaryInput{InitialCash: 250, Equity: []float64{250, 250}})
	assert.Zero(t, s.TradeCount)
	assert.Zero(t, s.WinRate)
	assert.Zero(t, s.BestTrade)
	assert.Zero(t, s.WorstTrade)
	assert.Equal(t, 250.0, s.FinalEquity)
}
