package live

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emaband-backtest/services/engine"
	"emaband-backtest/services/indicators"
)

var t0 = time.Date(2024, 5, 6, 13, 0, 0, 0, time.UTC)

func upRow() engine.IndicatorRow {
	return engine.IndicatorRow{EMAFast: 1.1005, EMASlow: 1.1000, RSI: 40, ATR: 0.0010, BBLower: 1.0950, BBMid: 1.1000, BBUpper: 1.1050}
}

func downRow() engine.IndicatorRow {
	r := upRow()
	r.EMAFast, r.EMASlow = 1.0995, 1.1000
	return r
}

// window builds n bars with the given rows; the last bar closes at last.
func window(t *testing.T, n int, row engine.IndicatorRow, last float64) *engine.Series {
	t.Helper()
	s := engine.NewSeries(n)
	for i := 0; i < n; i++ {
		c := 1.1000
		if i == n-1 {
			c = last
		}
		lo, hi := c-0.0003, c+0.0003
		require.NoError(t, s.Append(engine.Candle{Time: t0.Add(time.Duration(i) * 5 * time.Minute), Open: c, High: hi, Low: lo, Close: c}, row))
	}
	return s
}

func newDecider(t *testing.T) *Decider {
	t.Helper()
	d, err := NewDecider(DefaultConfig(), nil)
	require.NoError(t, err)
	return d
}

func TestDecideLongOrder(t *testing.T) {
	d := newDecider(t)
	q := Quote{Bid: 1.0940, Ask: 1.0941}
	dec, err := d.Decide(window(t, 8, upRow(), 1.0940), q, 0)
	require.NoError(t, err)
	require.Equal(t, engine.SignalLong, dec.Signal)
	require.NotNil(t, dec.Order)

	slatr := 1.1 * 0.0010
	spread := q.Ask - q.Bid
	assert.Equal(t, "EUR_USD", dec.Order.Instrument)
	assert.Equal(t, 3000.0, dec.Order.Units)
	assert.InDelta(t, q.Bid-slatr-spread, dec.Order.StopLoss, 1e-12)
	assert.InDelta(t, q.Ask+slatr*1.5+spread, dec.Order.TakeProfit, 1e-12)
}

func TestDecideShortOrder(t *testing.T) {
	d := newDecider(t)
	q := Quote{Bid: 1.1060, Ask: 1.1061}
	dec, err := d.Decide(window(t, 8, downRow(), 1.1060), q, 0)
	require.NoError(t, err)
	require.Equal(t, engine.SignalShort, dec.Signal)
	require.NotNil(t, dec.Order)

	slatr := 1.1 * 0.0010
	spread := q.Ask - q.Bid
	assert.Equal(t, -3000.0, dec.Order.Units)
	assert.InDelta(t, q.Ask+slatr+spread, dec.Order.StopLoss, 1e-12)
	assert.InDelta(t, q.Bid-slatr*1.5-spread, dec.Order.TakeProfit, 1e-12)
}

func TestDecideFilters(t *testing.T) {
	d := newDecider(t)
	tests := []struct {
		name   string
		series *engine.Series
		quote  Quote
		open   int
		signal engine.Signal
		reason string
	}{
		{"no signal", window(t, 8, upRow(), 1.1000), Quote{Bid: 1.1, Ask: 1.1001}, 0, engine.SignalNone, "no signal"},
		{"trade open", window(t, 8, upRow(), 1.0940), Quote{Bid: 1.094, Ask: 1.0941}, 1, engine.SignalLong, "already open"},
		{"spread at max", window(t, 8, upRow(), 1.0940), Quote{Bid: 1.094, Ask: 1.094 + 2e-4}, 0, engine.SignalLong, "spread"},
		{"short window", window(t, 7, upRow(), 1.0940), Quote{Bid: 1.094, Ask: 1.0941}, 0, engine.SignalNone, "insufficient warmup"},
		{"empty window", engine.NewSeries(0), Quote{Bid: 1.094, Ask: 1.0941}, 0, engine.SignalNone, "insufficient warmup"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dec, err := d.Decide(tt.series, tt.quote, tt.open)
			require.NoError(t, err)
			assert.Equal(t, tt.signal, dec.Signal)
			assert.Nil(t, dec.Order)
			assert.Contains(t, dec.Reason, tt.reason)
		})
	}
}

func TestDecideRejectsBadInput(t *testing.T) {
	d := newDecider(t)
	_, err := d.Decide(window(t, 8, upRow(), 1.0940), Quote{Bid: 1.1, Ask: 1.0}, 0)
	assert.True(t, errors.Is(err, engine.ErrInvalidInput))

	row := upRow()
	row.ATR = -1
	_, err = d.Decide(window(t, 8, row, 1.0940), Quote{Bid: 1.094, Ask: 1.0941}, 0)
	assert.True(t, errors.Is(err, engine.ErrInvalidInput))
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())
	c := DefaultConfig()
	c.Window = c.Lookback
	assert.Error(t, c.Validate())
	c = DefaultConfig()
	c.MaxSpread = 0
	assert.Error(t, c.Validate())
}

type fakeMarket struct {
	candles []engine.Candle
	quote   Quote
	open    int
	err     error
}

func (m *fakeMarket) Candles(ctx context.Context, n int) ([]engine.Candle, error) {
	if m.err != nil {
		return nil, m.err
	}
	if len(m.candles) > n {
		return m.candles[len(m.candles)-n:], nil
	}
	return m.candles, nil
}
func (m *fakeMarket) Quote(ctx context.Context) (Quote, error)    { return m.quote, nil }
func (m *fakeMarket) OpenTrades(ctx context.Context) (int, error) { return m.open, nil }

type recordingSink struct {
	orders []OrderRequest
	err    error
}

func (s *recordingSink) PlaceOrder(ctx context.Context, o OrderRequest) error {
	s.orders = append(s.orders, o)
	return s.err
}

// decliningThenSpike falls steadily then jumps far above the upper band on the last bar.
func decliningThenSpike(n int) []engine.Candle {
	out := make([]engine.Candle, n)
	prev := 1.2000
	for i := range out {
		c := prev - 0.0005
		if i == n-1 {
			c = prev + 0.0200
		}
		lo, hi := prev, c
		if lo > hi {
			lo, hi = hi, lo
		}
		out[i] = engine.Candle{Time: t0.Add(time.Duration(i) * 5 * time.Minute), Open: prev, High: hi + 0.0002, Low: lo - 0.0002, Close: c}
		prev = c
	}
	return out
}

func newTrader(t *testing.T, m Market, sink OrderSink) *Trader {
	t.Helper()
	p, err := indicators.NewProvider(indicators.DefaultParams())
	require.NoError(t, err)
	return NewTrader(newDecider(t), p, m, sink, nil)
}

func TestTraderPlacesShortOnSpike(t *testing.T) {
	m := &fakeMarket{candles: decliningThenSpike(90), quote: Quote{Bid: 1.1, Ask: 1.1001}}
	sink := &recordingSink{}
	dec, err := newTrader(t, m, sink).Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, engine.SignalShort, dec.Signal)
	require.Len(t, sink.orders, 1)
	assert.Equal(t, -3000.0, sink.orders[0].Units)
	assert.Greater(t, sink.orders[0].StopLoss, m.quote.Ask)
	assert.Less(t, sink.orders[0].TakeProfit, m.quote.Bid)
}

func TestTraderNoOrderWhileOpen(t *testing.T) {
	m := &fakeMarket{candles: decliningThenSpike(90), quote: Quote{Bid: 1.1, Ask: 1.1001}, open: 1}
	sink := &recordingSink{}
	dec, err := newTrader(t, m, sink).Tick(context.Background())
	require.NoError(t, err)
	assert.Nil(t, dec.Order)
	assert.Empty(t, sink.orders)
}

func TestTraderErrors(t *testing.T) {
	boom := errors.New("boom")
	_, err := newTrader(t, &fakeMarket{err: boom}, &recordingSink{}).Tick(context.Background())
	assert.ErrorIs(t, err, boom)

	m := &fakeMarket{candles: decliningThenSpike(90), quote: Quote{Bid: 1.1, Ask: 1.1001}}
	sink := &recordingSink{err: boom}
	_, err = newTrader(t, m, sink).Tick(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Len(t, sink.orders, 1)
}
