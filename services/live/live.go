// Package live turns the latest candle window into at most one market order.
// Each Decide call is one atomic step: read the window, decide, hand off.
package live

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"emaband-backtest/services/engine"
	"emaband-backtest/services/indicators"
)

type Config struct {
	Instrument     string  `json:"instrument"`
	Lookback       int     `json:"lookback"`
	StopMultiple   float64 `json:"stop_multiple"`
	RewardMultiple float64 `json:"reward_multiple"`
	Size           float64 `json:"size"`
	MaxSpread      float64 `json:"max_spread"`
	Window         int     `json:"window"`
}

func DefaultConfig() Config {
	s := engine.DefaultStrategyConfig()
	return Config{
		Instrument:     "EUR_USD",
		Lookback:       s.Lookback,
		StopMultiple:   s.StopMultiple,
		RewardMultiple: s.RewardMultiple,
		Size:           s.Size,
		MaxSpread:      16e-5,
		Window:         70,
	}
}

func (c Config) Validate() error {
	switch {
	case c.Lookback < 1:
		return fmt.Errorf("lookback %d: %w", c.Lookback, engine.ErrInvalidInput)
	case !engine.Defined(c.StopMultiple) || c.StopMultiple <= 0:
		return fmt.Errorf("stop multiple %v: %w", c.StopMultiple, engine.ErrInvalidInput)
	case !engine.Defined(c.RewardMultiple) || c.RewardMultiple <= 0:
		return fmt.Errorf("reward multiple %v: %w", c.RewardMultiple, engine.ErrInvalidInput)
	case !engine.Defined(c.Size) || c.Size <= 0:
		return fmt.Errorf("size %v: %w", c.Size, engine.ErrInvalidInput)
	case !engine.Defined(c.MaxSpread) || c.MaxSpread <= 0:
		return fmt.Errorf("max spread %v: %w", c.MaxSpread, engine.ErrInvalidInput)
	case c.Window < c.Lookback+1:
		return fmt.Errorf("window %d shorter than lookback+1: %w", c.Window, engine.ErrInvalidInput)
	}
	return nil
}

// Quote is the bid/ask at the open of the bar being traded.
type Quote struct {
	Bid float64 `json:"bid"`
	Ask float64 `json:"ask"`
}

func (q Quote) Spread() float64 { return q.Ask - q.Bid }

func (q Quote) validate() error {
	if !engine.Defined(q.Bid) || !engine.Defined(q.Ask) || q.Bid <= 0 || q.Ask < q.Bid {
		return fmt.Errorf("quote bid %v ask %v: %w", q.Bid, q.Ask, engine.ErrInvalidInput)
	}
	return nil
}

// OrderRequest is a market order with attached stop and target. Units are
// signed: positive buys, negative sells.
type OrderRequest struct {
	Instrument string  `json:"instrument"`
	Units      float64 `json:"units"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
}

type Decision struct {
	Signal engine.Signal `json:"signal"`
	Order  *OrderRequest `json:"order,omitempty"`
	Reason string        `json:"reason,omitempty"`
	Spread float64       `json:"spread"`
}

// OrderSink places orders. Implementations report success or failure only;
// the caller never retries.
type OrderSink interface {
	PlaceOrder(ctx context.Context, order OrderRequest) error
}

type Decider struct {
	cfg    Config
	logger *zap.Logger
}

func NewDecider(cfg Config, logger *zap.Logger) (*Decider, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decider{cfg: cfg, logger: logger}, nil
}

func (d *Decider) Config() Config { return d.cfg }

// Decide evaluates the last bar of window. A window too short for the
// trend lookback gives no signal rather than an error.
func (d *Decider) Decide(window *engine.Series, q Quote, openTrades int) (Decision, error) {
	if err := q.validate(); err != nil {
		return Decision{}, err
	}
	dec := Decision{Signal: engine.SignalNone, Spread: q.Spread()}

	n := window.Len()
	if _, err := window.TrailingWindow(n-1, d.cfg.Lookback); err != nil {
		if errors.Is(err, engine.ErrInsufficientWarmup) {
			dec.Reason = fmt.Sprintf("insufficient warmup: %d candles, need %d", n, d.cfg.Lookback+1)
			return dec, nil
		}
		return Decision{}, err
	}

	last := n - 1
	dec.Signal = window.Signal(last, d.cfg.Lookback)
	switch {
	case dec.Signal == engine.SignalNone:
		dec.Reason = "no signal"
		return dec, nil
	case openTrades > 0:
		dec.Reason = fmt.Sprintf("%d trade(s) already open", openTrades)
		return dec, nil
	case !(dec.Spread < d.cfg.MaxSpread):
		dec.Reason = fmt.Sprintf("spread %.5f not below max %.5f", dec.Spread, d.cfg.MaxSpread)
		return dec, nil
	}

	order, err := d.order(dec.Signal, window.Row(last).ATR, q)
	if err != nil {
		return Decision{}, err
	}
	dec.Order = &order
	d.logger.Info("live signal",
		zap.String("signal", dec.Signal.String()),
		zap.Float64("units", order.Units),
		zap.Float64("stop_loss", order.StopLoss),
		zap.Float64("take_profit", order.TakeProfit),
		zap.Float64("spread", dec.Spread))
	return dec, nil
}

// order widens the ATR levels by the spread on the side each level fills.
func (d *Decider) order(sig engine.Signal, atr float64, q Quote) (OrderRequest, error) {
	spread := q.Spread()
	o := OrderRequest{Instrument: d.cfg.Instrument}
	switch sig {
	case engine.SignalLong:
		lv, err := engine.RiskLevels(atr, d.cfg.StopMultiple, d.cfg.RewardMultiple, q.Bid, engine.SideLong)
		if err != nil {
			return o, err
		}
		o.Units = d.cfg.Size
		o.StopLoss = lv.StopLoss - spread
		o.TakeProfit = q.Ask + (lv.TakeProfit - q.Bid) + spread
	case engine.SignalShort:
		lv, err := engine.RiskLevels(atr, d.cfg.StopMultiple, d.cfg.RewardMultiple, q.Ask, engine.SideShort)
		if err != nil {
			return o, err
		}
		o.Units = -d.cfg.Size
		o.StopLoss = lv.StopLoss + spread
		o.TakeProfit = q.Bid - (q.Ask - lv.TakeProfit) - spread
	default:
		return o, fmt.Errorf("signal %s: %w", sig, engine.ErrInvalidInput)
	}
	return o, nil
}

// Market supplies the live inputs of one step.
type Market interface {
	Candles(ctx context.Context, n int) ([]engine.Candle, error)
	Quote(ctx context.Context) (Quote, error)
	OpenTrades(ctx context.Context) (int, error)
}

// Trader runs one decision step end to end against a market and a sink.
type Trader struct {
	decider  *Decider
	provider *indicators.Provider
	market   Market
	sink     OrderSink
	logger   *zap.Logger
}

func NewTrader(decider *Decider, provider *indicators.Provider, market Market, sink OrderSink, logger *zap.Logger) *Trader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trader{decider: decider, provider: provider, market: market, sink: sink, logger: logger}
}

// Tick fetches the window, decides and, when an order results, places it once.
func (t *Trader) Tick(ctx context.Context) (Decision, error) {
	candles, err := t.market.Candles(ctx, t.decider.cfg.Window)
	if err != nil {
		return Decision{}, fmt.Errorf("fetch candles: %w", err)
	}
	window, err := t.provider.Build(candles)
	if err != nil {
		return Decision{}, err
	}
	q, err := t.market.Quote(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("fetch quote: %w", err)
	}
	open, err := t.market.OpenTrades(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("count open trades: %w", err)
	}
	dec, err := t.decider.Decide(window, q, open)
	if err != nil || dec.Order == nil {
		return dec, err
	}
	if err := t.sink.PlaceOrder(ctx, *dec.Order); err != nil {
		t.logger.Error("order rejected", zap.String("instrument", dec.Order.Instrument), zap.Error(err))
		return dec, fmt.Errorf("place order: %w", err)
	}
	return dec, nil
}
