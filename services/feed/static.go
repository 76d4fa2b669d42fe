package feed

import (
	"context"

	"emaband-backtest/services/engine"
)

// StaticSource serves candles already held in memory, e.g. from a request body.
type StaticSource struct {
	candles  []engine.Candle
	dropFlat bool
}

func NewStaticSource(candles []engine.Candle, dropFlat bool) *StaticSource {
	return &StaticSource{candles: candles, dropFlat: dropFlat}
}

func (s *StaticSource) Load(ctx context.Context, q Query) ([]engine.Candle, error) {
	in := make([]engine.Candle, len(s.candles))
	copy(in, s.candles)
	st := Stats{Read: len(in)}
	return normalize(in, q, s.dropFlat, &st), nil
}
