package indicators

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emaband-backtest/services/engine"
)

// ramp rises 0.0001 per bar with a constant 0.002 range around the close.
func ramp(n int) []engine.Candle {
	t0 := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	out := make([]engine.Candle, n)
	for i := range out {
		c := 1.1 + float64(i)*0.0001
		out[i] = engine.Candle{Time: t0.Add(time.Duration(i) * 5 * time.Minute), Open: c, High: c + 0.001, Low: c - 0.001, Close: c}
	}
	return out
}

func TestComputeWarmupIsUndefined(t *testing.T) {
	p, err := NewProvider(DefaultParams())
	require.NoError(t, err)
	rows := p.Compute(ramp(120))
	require.Len(t, rows, 120)

	tests := []struct {
		name     string
		value    func(engine.IndicatorRow) float64
		lookback int
	}{
		{"ema fast", func(r engine.IndicatorRow) float64 { return r.EMAFast }, 29},
		{"ema slow", func(r engine.IndicatorRow) float64 { return r.EMASlow }, 49},
		{"rsi", func(r engine.IndicatorRow) float64 { return r.RSI }, 10},
		{"atr", func(r engine.IndicatorRow) float64 { return r.ATR }, 7},
		{"bb lower", func(r engine.IndicatorRow) float64 { return r.BBLower }, 14},
		{"bb upper", func(r engine.IndicatorRow) float64 { return r.BBUpper }, 14},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for i := 0; i < tt.lookback; i++ {
				assert.True(t, math.IsNaN(tt.value(rows[i])), "bar %d should be undefined", i)
			}
			for i := tt.lookback; i < len(rows); i++ {
				assert.True(t, engine.Defined(tt.value(rows[i])), "bar %d should be defined", i)
			}
		})
	}
}

func TestComputeValues(t *testing.T) {
	p, err := NewProvider(DefaultParams())
	require.NoError(t, err)
	rows := p.Compute(ramp(120))

	last := rows[119]
	assert.InDelta(t, 0.002, last.ATR, 1e-9)
	assert.Greater(t, last.EMAFast, last.EMASlow, "fast EMA leads on a rising ramp")
	assert.Less(t, last.BBLower, last.BBMid)
	assert.Less(t, last.BBMid, last.BBUpper)
}

func TestComputeShortInput(t *testing.T) {
	p, err := NewProvider(DefaultParams())
	require.NoError(t, err)
	rows := p.Compute(ramp(5))
	for _, r := range rows {
		assert.True(t, math.IsNaN(r.EMASlow))
		assert.True(t, math.IsNaN(r.ATR))
		assert.True(t, math.IsNaN(r.BBUpper))
	}
}

func TestBuildFirstTradableBar(t *testing.T) {
	p, err := NewProvider(DefaultParams())
	require.NoError(t, err)
	series, err := p.Build(ramp(120))
	require.NoError(t, err)
	// slow EMA defined from 49, seven full rows before the first decision
	assert.Equal(t, 56, series.FirstTradableIndex(7))
}

func TestParamsValidate(t *testing.T) {
	bad := DefaultParams()
	bad.ATR = 1
	_, err := NewProvider(bad)
	assert.True(t, errors.Is(err, engine.ErrInvalidInput))

	bad = DefaultParams()
	bad.BBStd = 0
	assert.Error(t, bad.Validate())

	assert.Equal(t, 49, DefaultParams().Warmup())
}
