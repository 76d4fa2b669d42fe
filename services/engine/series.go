package engine

// Append-only candle + indicator series consumed by the backtest core

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Candle is one fixed-duration OHLCV observation.
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

// Validate checks price sanity: finite values, high >= low >= 0 and open/close inside the range.
func (c Candle) Validate() error {
	for _, v := range []float64{c.Open, c.High, c.Low, c.Close} {
		if !Defined(v) {
			return fmt.Errorf("candle %s: non-finite price: %w", c.Time.Format(time.RFC3339), ErrInvalidInput)
		}
	}
	if c.Low < 0 || c.High < c.Low {
		return fmt.Errorf("candle %s: high %.6f low %.6f: %w", c.Time.Format(time.RFC3339), c.High, c.Low, ErrInvalidInput)
	}
	if c.Open > c.High || c.Open < c.Low || c.Close > c.High || c.Close < c.Low {
		return fmt.Errorf("candle %s: open/close outside high/low: %w", c.Time.Format(time.RFC3339), ErrInvalidInput)
	}
	return nil
}

// IndicatorRow holds the indicator values aligned with one candle.
// NaN marks a value that is not yet computed.
type IndicatorRow struct {
	EMAFast float64
	EMASlow float64
	RSI     float64
	ATR     float64
	BBLower float64
	BBMid   float64
	BBUpper float64
}

// UndefinedRow is a row inside every indicator's warm-up.
func UndefinedRow() IndicatorRow {
	nan := math.NaN()
	return IndicatorRow{EMAFast: nan, EMASlow: nan, RSI: nan, ATR: nan, BBLower: nan, BBMid: nan, BBUpper: nan}
}

// Defined reports whether v is a usable finite value.
func Defined(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

func (r IndicatorRow) trendDefined() bool { return Defined(r.EMAFast) && Defined(r.EMASlow) }

// tradable reports whether every value the entry path reads is defined.
func (r IndicatorRow) tradable() bool {
	return r.trendDefined() && Defined(r.ATR) && Defined(r.BBLower) && Defined(r.BBUpper)
}

// Series is an index-aligned sequence of candles and indicator rows.
// Rows are appended once and never mutated.
type Series struct {
	candles []Candle
	rows    []IndicatorRow
}

func NewSeries(capacity int) *Series {
	return &Series{
		candles: make([]Candle, 0, capacity),
		rows:    make([]IndicatorRow, 0, capacity),
	}
}

// NewSeriesFrom builds a series from already aligned slices.
func NewSeriesFrom(candles []Candle, rows []IndicatorRow) (*Series, error) {
	if len(candles) != len(rows) {
		return nil, fmt.Errorf("%d candles vs %d indicator rows: %w", len(candles), len(rows), ErrInvalidInput)
	}
	s := NewSeries(len(candles))
	for i := range candles {
		if err := s.Append(candles[i], rows[i]); err != nil {
			return nil, fmt.Errorf("bar %d: %w", i, err)
		}
	}
	return s, nil
}

// Append adds the next bar. Timestamps must be strictly increasing.
func (s *Series) Append(c Candle, r IndicatorRow) error {
	if err := c.Validate(); err != nil {
		return err
	}
	for _, v := range []float64{r.EMAFast, r.EMASlow, r.RSI, r.ATR, r.BBLower, r.BBMid, r.BBUpper} {
		if math.IsInf(v, 0) {
			return fmt.Errorf("candle %s: infinite indicator value: %w", c.Time.Format(time.RFC3339), ErrInvalidInput)
		}
	}
	if n := len(s.candles); n > 0 && !c.Time.After(s.candles[n-1].Time) {
		return fmt.Errorf("candle %s not after %s: %w", c.Time.Format(time.RFC3339), s.candles[n-1].Time.Format(time.RFC3339), ErrInvalidInput)
	}
	s.candles = append(s.candles, c)
	s.rows = append(s.rows, r)
	return nil
}

func (s *Series) Len() int { return len(s.candles) }

func (s *Series) Candle(i int) Candle { return s.candles[i] }

func (s *Series) Row(i int) IndicatorRow { return s.rows[i] }

// Candles returns a copy of the candle sequence.
func (s *Series) Candles() []Candle {
	out := make([]Candle, len(s.candles))
	copy(out, s.candles)
	return out
}

// Rows returns a copy of the indicator sequence.
func (s *Series) Rows() []IndicatorRow {
	out := make([]IndicatorRow, len(s.rows))
	copy(out, s.rows)
	return out
}

// TrailingWindow returns rows [i-lookback, i) without copying. The slice
// aliases the series and must not be modified.
func (s *Series) TrailingWindow(i, lookback int) ([]IndicatorRow, error) {
	w, err := TrailingWindow(s.rows, i, lookback)
	if err != nil {
		return nil, err
	}
	return w[:len(w):len(w)], nil
}

// Signal evaluates the entry signal at bar i.
func (s *Series) Signal(i, lookback int) Signal {
	return GenerateSignal(s.rows, s.candles[i].Close, i, lookback)
}

// FirstTradableIndex is the first bar whose full trend window and own
// entry inputs are defined, or -1 when no such bar exists.
func (s *Series) FirstTradableIndex(lookback int) int {
	run := 0 // consecutive trend-defined rows ending at i-1
	for i := 0; i < len(s.rows); i++ {
		if run >= lookback && s.rows[i].tradable() {
			return i
		}
		if s.rows[i].trendDefined() {
			run++
		} else {
			run = 0
		}
	}
	return -1
}

// Step is the modal spacing between consecutive candles.
func (s *Series) Step() time.Duration {
	counts := make(map[time.Duration]int)
	var best time.Duration
	bestCount := 0
	for i := 1; i < len(s.candles); i++ {
		d := s.candles[i].Time.Sub(s.candles[i-1].Time)
		counts[d]++
		if c := counts[d]; c > bestCount || (c == bestCount && d < best) {
			best, bestCount = d, c
		}
	}
	return best
}

// Gaps lists bar indices that follow a hole wider than the modal step.
func (s *Series) Gaps() []int {
	step := s.Step()
	if step <= 0 {
		return nil
	}
	var gaps []int
	for i := 1; i < len(s.candles); i++ {
		if s.candles[i].Time.Sub(s.candles[i-1].Time) > step {
			gaps = append(gaps, i)
		}
	}
	return gaps
}

// Checksum is a SHA-256 over the candle sequence.
func (s *Series) Checksum() string {
	h := sha256.New()
	buf := make([]byte, 8)
	for _, c := range s.candles {
		binary.LittleEndian.PutUint64(buf, uint64(c.Time.UnixNano()))
		h.Write(buf)
		for _, v := range []float64{c.Open, c.High, c.Low, c.Close, c.Volume} {
			binary.LittleEndian.PutUint64(buf, math.Float64bits(v))
			h.Write(buf)
		}
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}
