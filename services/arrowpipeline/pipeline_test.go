package arrowpipeline

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emaband-backtest/services/engine"
)

func sampleSeries(t *testing.T, n int) *engine.Series {
	t.Helper()
	t0 := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	s := engine.NewSeries(n)
	for i := 0; i < n; i++ {
		p := 1.1 + float64(i)*0.001
		row := engine.UndefinedRow()
		if i >= 2 {
			row = engine.IndicatorRow{EMAFast: p, EMASlow: p - 0.001, RSI: 55, ATR: 0.002, BBLower: p - 0.003, BBMid: p, BBUpper: p + 0.003}
		}
		c := engine.Candle{Time: t0.Add(time.Duration(i) * time.Hour), Open: p, High: p + 0.002, Low: p - 0.002, Close: p, Volume: float64(i)}
		require.NoError(t, s.Append(c, row))
	}
	return s
}

func TestEncodeDecode(t *testing.T) {
	series := sampleSeries(t, 7)
	equity := []engine.EquityPoint{
		{Bar: 4, Time: series.Candle(4).Time, Equity: 250},
		{Bar: 5, Time: series.Candle(5).Time, Equity: 251.5, Margin: 110},
		{Bar: 6, Time: series.Candle(6).Time, Equity: 249, Margin: 108.2},
	}
	p := NewPipeline(Config{BatchSize: 3}, nil)

	data, err := p.Encode(series, equity)
	require.NoError(t, err)
	require.NotEmpty(t, data)

	got, gotEquity, err := p.Decode(data)
	require.NoError(t, err)
	require.Equal(t, series.Len(), got.Len())
	assert.Equal(t, series.Checksum(), got.Checksum())

	assert.True(t, math.IsNaN(got.Row(0).EMAFast))
	assert.True(t, math.IsNaN(got.Row(1).BBUpper))
	assert.Equal(t, series.Row(5), got.Row(5))
	assert.Equal(t, equity, gotEquity)
}

func TestEncodeEmptySeries(t *testing.T) {
	_, err := NewPipeline(Config{}, nil).Encode(engine.NewSeries(0), nil)
	assert.Error(t, err)
}

func TestDecodeGarbage(t *testing.T) {
	_, _, err := NewPipeline(Config{}, nil).Decode([]byte("not arrow"))
	assert.Error(t, err)
}
