package engine

// Backtest driver: chronological fold over the series after the warm-up region

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// EquityPoint is the marked-to-market equity after bar Bar, with the
// collateral held by the open position at that bar's close.
type EquityPoint struct {
	Bar    int       `json:"bar"`
	Time   time.Time `json:"time"`
	Equity float64   `json:"equity"`
	Margin float64   `json:"margin"`
}

type Result struct {
	Manifest RunManifest   `json:"manifest"`
	Summary  Summary       `json:"summary"`
	Trades   []Trade       `json:"trades"`
	Equity   []EquityPoint `json:"equity"`
	Events   []Event       `json:"events"`
	Gaps     []int         `json:"gaps,omitempty"`
}

type Backtester struct {
	cfg    StrategyConfig
	logger *zap.Logger
}

func NewBacktester(cfg StrategyConfig, logger *zap.Logger) (*Backtester, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Backtester{cfg: cfg, logger: logger}, nil
}

func (b *Backtester) Config() StrategyConfig { return b.cfg }

// Run replays series once. Only ErrInvalidState aborts; sizing failures
// skip the entry and the run goes on.
func (b *Backtester) Run(series *Series) (*Result, error) {
	n := series.Len()
	if n == 0 {
		return nil, fmt.Errorf("empty series: %w", ErrInvalidInput)
	}

	start := series.FirstTradableIndex(b.cfg.Lookback)
	res := &Result{
		Manifest: RunManifest{
			ConfigHash:      b.cfg.Hash(),
			DataChecksum:    series.Checksum(),
			EngineVersion:   EngineVersion,
			Bars:            n,
			FirstTradingBar: start,
		},
		Gaps: series.Gaps(),
	}
	if len(res.Gaps) > 0 {
		b.logger.Warn("series has timestamp gaps", zap.Int("gaps", len(res.Gaps)), zap.Duration("step", series.Step()))
	}

	ledger := NewLedger(b.cfg.Cash, b.cfg.MarginRatio)
	events := &EventLog{}
	sim := NewSimulator(b.cfg, ledger, events, b.logger)

	if start < 0 {
		b.logger.Warn("no bar has a complete indicator window", zap.Int("bars", n), zap.Int("lookback", b.cfg.Lookback))
		res.Summary = Summarize(SummaryInput{InitialCash: b.cfg.Cash})
		return res, nil
	}

	inMarket := 0
	peakMargin := 0.0
	res.Equity = make([]EquityPoint, 0, n-start)
	for i := start; i < n; i++ {
		if err := sim.Step(series, i); err != nil {
			if errors.Is(err, ErrInvalidState) {
				return nil, err
			}
			b.logger.Warn("entry skipped", zap.Int("bar", i), zap.Error(err))
		}
		c := series.candles[i]
		if sim.pos != nil {
			inMarket++
		}
		eq := ledger.MarkToMarket(sim.pos, c.Close)
		margin := ledger.MarginUsed(sim.pos, c.Close)
		peakMargin = max(peakMargin, margin)
		ledger.Record(eq)
		res.Equity = append(res.Equity, EquityPoint{Bar: i, Time: c.Time, Equity: eq, Margin: margin})
	}
	sim.ForceClose(series, n-1)

	res.Trades = sim.Trades()
	res.Events = events.Events
	res.Summary = Summarize(SummaryInput{
		Trades:       res.Trades,
		Equity:       ledger.EquityCurve(),
		InitialCash:  ledger.InitialCash(),
		FirstClose:   series.candles[start].Close,
		LastClose:    series.candles[n-1].Close,
		BarsInMarket: inMarket,
	})

	b.logger.Info("backtest complete",
		zap.Int("bars", n),
		zap.Int("first_trading_bar", start),
		zap.Int("trades", res.Summary.TradeCount),
		zap.Float64("final_equity", res.Summary.FinalEquity),
		zap.Float64("max_drawdown", res.Summary.MaxDrawdown),
		zap.Float64("peak_margin", peakMargin))
	return res, nil
}
