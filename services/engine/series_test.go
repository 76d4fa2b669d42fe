package engine

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeriesAppendValidation(t *testing.T) {
	s := NewSeries(4)
	require.NoError(t, s.Append(quietCandle(0, 1.1), UndefinedRow()))

	tests := []struct {
		name string
		c    Candle
		r    IndicatorRow
	}{
		{"same timestamp", quietCandle(0, 1.1), UndefinedRow()},
		{"earlier timestamp", Candle{Time: barTime(-1), Open: 1, High: 1, Low: 1, Close: 1}, UndefinedRow()},
		{"high below low", candleAt(1, 1.1, 1.0, 1.2, 1.1), UndefinedRow()},
		{"close above high", candleAt(1, 1.1, 1.2, 1.0, 1.3), UndefinedRow()},
		{"nan price", candleAt(1, math.NaN(), 1.2, 1.0, 1.1), UndefinedRow()},
		{"negative low", candleAt(1, 0.1, 0.2, -0.1, 0.1), UndefinedRow()},
		{"infinite indicator", quietCandle(1, 1.1), IndicatorRow{ATR: math.Inf(1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := s.Append(tt.c, tt.r)
			assert.True(t, errors.Is(err, ErrInvalidInput), "got %v", err)
		})
	}
	assert.Equal(t, 1, s.Len())
}

func TestNewSeriesFromLengthMismatch(t *testing.T) {
	_, err := NewSeriesFrom([]Candle{quietCandle(0, 1)}, nil)
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestFirstTradableIndex(t *testing.T) {
	s := NewSeries(20)
	for i := 0; i < 20; i++ {
		row := upRow()
		if i < 5 {
			row = UndefinedRow()
		}
		if i == 12 {
			row.ATR = math.NaN()
		}
		require.NoError(t, s.Append(quietCandle(i, 1.1), row))
	}
	// rows 5..11 fill the window for bar 12, whose own ATR is missing
	assert.Equal(t, 13, s.FirstTradableIndex(7))
	assert.Equal(t, 8, s.FirstTradableIndex(3))

	short := NewSeries(3)
	for i := 0; i < 3; i++ {
		require.NoError(t, short.Append(quietCandle(i, 1.1), upRow()))
	}
	assert.Equal(t, -1, short.FirstTradableIndex(7))
}

func TestSeriesGapsAndStep(t *testing.T) {
	s := NewSeries(6)
	for _, i := range []int{0, 1, 2, 5, 6, 7} {
		require.NoError(t, s.Append(quietCandle(i, 1.1), UndefinedRow()))
	}
	assert.Equal(t, 5*time.Minute, s.Step())
	assert.Equal(t, []int{3}, s.Gaps())
}

func TestSeriesChecksum(t *testing.T) {
	a := scenarioSeries(t)
	b := scenarioSeries(t)
	assert.Equal(t, a.Checksum(), b.Checksum())

	c := NewSeries(1)
	require.NoError(t, c.Append(quietCandle(0, 1.2), upRow()))
	assert.NotEqual(t, a.Checksum(), c.Checksum())
}

func TestSeriesTrailingWindowAliasesRows(t *testing.T) {
	s := NewSeries(10)
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Append(quietCandle(i, 1.1), upRow()))
	}

	w, err := s.TrailingWindow(9, 7)
	require.NoError(t, err)
	require.Len(t, w, 7)
	assert.Equal(t, 7, cap(w))
	assert.Same(t, &s.rows[2], &w[0])

	// appending to the window must not clobber bar 9
	_ = append(w, UndefinedRow())
	assert.Equal(t, upRow(), s.Row(9))

	_, err = s.TrailingWindow(3, 7)
	assert.True(t, errors.Is(err, ErrInsufficientWarmup))
	_, err = NewSeries(0).TrailingWindow(-1, 7)
	assert.True(t, errors.Is(err, ErrInsufficientWarmup))
}
