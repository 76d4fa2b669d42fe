// Package indicators computes the per-candle indicator rows the backtest
// core consumes. Values inside an indicator's warm-up are NaN, never zero.
package indicators

import (
	"fmt"
	"math"

	talib "github.com/markcheno/go-talib"

	"emaband-backtest/services/engine"
)

type Params struct {
	EMAFast  int     `json:"ema_fast"`
	EMASlow  int     `json:"ema_slow"`
	RSI      int     `json:"rsi"`
	BBLength int     `json:"bb_length"`
	BBStd    float64 `json:"bb_std"`
	ATR      int     `json:"atr"`
}

func DefaultParams() Params {
	return Params{EMAFast: 30, EMASlow: 50, RSI: 10, BBLength: 15, BBStd: 1.5, ATR: 7}
}

func (p Params) Validate() error {
	for name, n := range map[string]int{"ema_fast": p.EMAFast, "ema_slow": p.EMASlow, "rsi": p.RSI, "bb_length": p.BBLength, "atr": p.ATR} {
		if n < 2 {
			return fmt.Errorf("%s period %d < 2: %w", name, n, engine.ErrInvalidInput)
		}
	}
	if !engine.Defined(p.BBStd) || p.BBStd <= 0 {
		return fmt.Errorf("bb_std %v: %w", p.BBStd, engine.ErrInvalidInput)
	}
	return nil
}

// Lookbacks returns the number of leading undefined values per column.
func (p Params) Lookbacks() map[string]int {
	return map[string]int{
		"ema_fast": p.EMAFast - 1,
		"ema_slow": p.EMASlow - 1,
		"rsi":      p.RSI,
		"bbands":   p.BBLength - 1,
		"atr":      p.ATR,
	}
}

// Warmup is the longest lookback across all columns.
func (p Params) Warmup() int {
	w := 0
	for _, n := range p.Lookbacks() {
		if n > w {
			w = n
		}
	}
	return w
}

type Provider struct {
	params Params
}

func NewProvider(p Params) (*Provider, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &Provider{params: p}, nil
}

func (p *Provider) Params() Params { return p.params }

// Compute returns one row per candle, index aligned.
func (p *Provider) Compute(candles []engine.Candle) []engine.IndicatorRow {
	n := len(candles)
	highs := make([]float64, n)
	lows := make([]float64, n)
	closes := make([]float64, n)
	for i, c := range candles {
		highs[i], lows[i], closes[i] = c.High, c.Low, c.Close
	}

	lb := p.params.Lookbacks()
	emaFast := guarded(n, lb["ema_fast"], func() []float64 { return talib.Ema(closes, p.params.EMAFast) })
	emaSlow := guarded(n, lb["ema_slow"], func() []float64 { return talib.Ema(closes, p.params.EMASlow) })
	rsi := guarded(n, lb["rsi"], func() []float64 { return talib.Rsi(closes, p.params.RSI) })
	atr := guarded(n, lb["atr"], func() []float64 { return talib.Atr(highs, lows, closes, p.params.ATR) })

	upper, mid, lower := undefined(n), undefined(n), undefined(n)
	if n > lb["bbands"] {
		upper, mid, lower = talib.BBands(closes, p.params.BBLength, p.params.BBStd, p.params.BBStd, talib.SMA)
		mask(upper, lb["bbands"])
		mask(mid, lb["bbands"])
		mask(lower, lb["bbands"])
	}

	rows := make([]engine.IndicatorRow, n)
	for i := range rows {
		rows[i] = engine.IndicatorRow{
			EMAFast: emaFast[i],
			EMASlow: emaSlow[i],
			RSI:     rsi[i],
			ATR:     atr[i],
			BBLower: lower[i],
			BBMid:   mid[i],
			BBUpper: upper[i],
		}
	}
	return rows
}

// Build computes indicators and assembles the series.
func (p *Provider) Build(candles []engine.Candle) (*engine.Series, error) {
	return engine.NewSeriesFrom(candles, p.Compute(candles))
}

// guarded skips the computation when there is not a single defined output.
func guarded(n, lookback int, calc func() []float64) []float64 {
	if n <= lookback {
		return undefined(n)
	}
	out := calc()
	mask(out, lookback)
	return out
}

func mask(v []float64, lookback int) {
	for i := 0; i < lookback && i < len(v); i++ {
		v[i] = math.NaN()
	}
}

func undefined(n int) []float64 {
	v := make([]float64, n)
	mask(v, n)
	return v
}
