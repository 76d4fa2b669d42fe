package feed

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"emaband-backtest/services/engine"
)

// ParseInterval reads cadences such as "5m", "15min", "1h", "1d" or a bare
// number of minutes.
func ParseInterval(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	unit := time.Minute
	switch {
	case strings.HasSuffix(s, "min"):
		s = strings.TrimSuffix(s, "min")
	case strings.HasSuffix(s, "m"):
		s = strings.TrimSuffix(s, "m")
	case strings.HasSuffix(s, "h"):
		s, unit = strings.TrimSuffix(s, "h"), time.Hour
	case strings.HasSuffix(s, "d"):
		s, unit = strings.TrimSuffix(s, "d"), 24*time.Hour
	}
	n, err := strconv.Atoi(s)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("unsupported interval %q: %w", s, engine.ErrInvalidInput)
	}
	return time.Duration(n) * unit, nil
}

// Resample aggregates candles into epoch-aligned buckets of step: first
// open, max high, min low, last close, summed volume. When completeOnly is
// set a trailing bucket whose last source candle does not reach the bucket
// end is dropped.
func Resample(candles []engine.Candle, step time.Duration, completeOnly bool) ([]engine.Candle, error) {
	if step <= 0 {
		return nil, fmt.Errorf("resample step %s: %w", step, engine.ErrInvalidInput)
	}
	if len(candles) == 0 {
		return nil, nil
	}
	in := make([]engine.Candle, len(candles))
	copy(in, candles)
	sort.SliceStable(in, func(i, j int) bool { return in[i].Time.Before(in[j].Time) })

	srcStep := minStep(in)
	if srcStep > 0 && step%srcStep != 0 {
		return nil, fmt.Errorf("step %s is not a multiple of source cadence %s: %w", step, srcStep, engine.ErrInvalidInput)
	}

	var out []engine.Candle
	var last time.Time
	for _, c := range in {
		bucket := c.Time.Truncate(step)
		if n := len(out); n > 0 && out[n-1].Time.Equal(bucket) {
			agg := &out[n-1]
			if c.High > agg.High {
				agg.High = c.High
			}
			if c.Low < agg.Low {
				agg.Low = c.Low
			}
			agg.Close = c.Close
			agg.Volume += c.Volume
		} else {
			nb := c
			nb.Time = bucket
			out = append(out, nb)
		}
		last = c.Time
	}
	if completeOnly && srcStep > 0 {
		tail := out[len(out)-1]
		if last.Add(srcStep).Before(tail.Time.Add(step)) {
			out = out[:len(out)-1]
		}
	}
	return out, nil
}

func minStep(candles []engine.Candle) time.Duration {
	var m time.Duration
	for i := 1; i < len(candles); i++ {
		d := candles[i].Time.Sub(candles[i-1].Time)
		if d > 0 && (m == 0 || d < m) {
			m = d
		}
	}
	return m
}

// WriteCSV writes candles as timestamp(ms),open,high,low,close,volume,
// the layout ParseCSV reads back.
func WriteCSV(w io.Writer, candles []engine.Candle) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"timestamp", "open", "high", "low", "close", "volume"}); err != nil {
		return err
	}
	f := func(v float64) string { return strconv.FormatFloat(v, 'f', -1, 64) }
	for _, c := range candles {
		if err := cw.Write([]string{strconv.FormatInt(c.Time.UnixMilli(), 10), f(c.Open), f(c.High), f(c.Low), f(c.Close), f(c.Volume)}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
