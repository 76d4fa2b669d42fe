// Package feed supplies historical candles to the backtest driver from CSV
// files or ClickHouse, optionally through a redis cache.
package feed

import (
	"context"
	"sort"
	"time"

	"emaband-backtest/services/engine"
)

// Query selects a candle range. Zero From/To mean unbounded.
type Query struct {
	Symbol   string
	Interval string
	From     time.Time
	To       time.Time
}

func (q Query) contains(t time.Time) bool {
	if !q.From.IsZero() && t.Before(q.From) {
		return false
	}
	if !q.To.IsZero() && !t.Before(q.To) {
		return false
	}
	return true
}

// Source loads a chronological candle sequence.
type Source interface {
	Load(ctx context.Context, q Query) ([]engine.Candle, error)
}

// Stats counts what normalisation dropped.
type Stats struct {
	Read       int
	Malformed  int
	Invalid    int
	Flat       int
	Duplicates int
	OutOfRange int
}

// normalize sorts by time, keeps the last of equal timestamps, drops
// invalid candles and, when dropFlat is set, candles with high == low.
func normalize(in []engine.Candle, q Query, dropFlat bool, st *Stats) []engine.Candle {
	sort.SliceStable(in, func(i, j int) bool { return in[i].Time.Before(in[j].Time) })
	out := make([]engine.Candle, 0, len(in))
	for _, c := range in {
		if !q.contains(c.Time) {
			st.OutOfRange++
			continue
		}
		if err := c.Validate(); err != nil {
			st.Invalid++
			continue
		}
		if dropFlat && c.High == c.Low {
			st.Flat++
			continue
		}
		if n := len(out); n > 0 && out[n-1].Time.Equal(c.Time) {
			out[n-1] = c
			st.Duplicates++
			continue
		}
		out = append(out, c)
	}
	return out
}
