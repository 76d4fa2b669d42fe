package engine

import (
	"math/rand"
	"testing"
	"time"
)

var t0 = time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)

func barTime(i int) time.Time { return t0.Add(time.Duration(i) * 5 * time.Minute) }

func candleAt(i int, open, high, low, close float64) Candle {
	return Candle{Time: barTime(i), Open: open, High: high, Low: low, Close: close, Volume: 100}
}

func quietCandle(i int, price float64) Candle {
	return candleAt(i, price, price+0.0002, price-0.0002, price)
}

func upRow() IndicatorRow {
	return IndicatorRow{EMAFast: 1.1005, EMASlow: 1.1000, RSI: 50, ATR: 0.0010, BBLower: 1.0950, BBMid: 1.1000, BBUpper: 1.1050}
}

func downRow() IndicatorRow {
	r := upRow()
	r.EMAFast, r.EMASlow = 1.0995, 1.1000
	return r
}

// scenarioSeries is 30 bars: downtrend EMAs for bars 0-9, uptrend from 10 on,
// and bar 18 closing under the lower band.
func scenarioSeries(t *testing.T) *Series {
	t.Helper()
	s := NewSeries(30)
	for i := 0; i < 30; i++ {
		row := upRow()
		if i < 10 {
			row = downRow()
		}
		c := quietCandle(i, 1.1000)
		if i == 18 {
			c = candleAt(i, 1.0942, 1.0945, 1.0935, 1.0940)
		}
		if err := s.Append(c, row); err != nil {
			t.Fatalf("append bar %d: %v", i, err)
		}
	}
	return s
}

// randomSeries is a seeded random walk with fully defined indicators and
// EMA regimes that flip now and then.
func randomSeries(t *testing.T, seed int64, n int) *Series {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	s := NewSeries(n)
	price := 1.1000
	regime := 1.0
	for i := 0; i < n; i++ {
		if rng.Float64() < 0.05 {
			regime = -regime
		}
		open := price
		closeP := open + (rng.Float64()-0.5)*0.004
		high := max(open, closeP) + rng.Float64()*0.001
		low := min(open, closeP) - rng.Float64()*0.001
		fast := closeP + regime*(0.0002+rng.Float64()*0.001)
		row := IndicatorRow{
			EMAFast: fast,
			EMASlow: closeP,
			RSI:     50,
			ATR:     0.0005 + rng.Float64()*0.001,
			BBLower: closeP - (rng.Float64()-0.2)*0.002,
			BBMid:   closeP,
			BBUpper: closeP + (rng.Float64()-0.2)*0.002,
		}
		if err := s.Append(candleAt(i, open, high, low, closeP), row); err != nil {
			t.Fatalf("append bar %d: %v", i, err)
		}
		price = closeP
	}
	return s
}
