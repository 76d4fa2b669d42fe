package engine

// Single-position state machine: exits against the bar range, then entries while flat

import (
	"fmt"

	"go.uber.org/zap"
)

type Simulator struct {
	cfg    StrategyConfig
	ledger *Ledger
	log    *EventLog
	logger *zap.Logger

	pos    *Position
	trades []Trade
	opens  int
	closes int
}

func NewSimulator(cfg StrategyConfig, ledger *Ledger, log *EventLog, logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if log == nil {
		log = &EventLog{}
	}
	return &Simulator{cfg: cfg, ledger: ledger, log: log, logger: logger}
}

// Position returns a copy of the open position, or nil when flat.
func (s *Simulator) Position() *Position {
	if s.pos == nil {
		return nil
	}
	p := *s.pos
	return &p
}

func (s *Simulator) Trades() []Trade {
	out := make([]Trade, len(s.trades))
	copy(out, s.trades)
	return out
}

func (s *Simulator) Opens() int  { return s.opens }
func (s *Simulator) Closes() int { return s.closes }

// Step processes bar i. A position closed on this bar is not replaced
// before the next one. Sizing failures come back wrapped in ErrInvalidInput
// with no state change.
func (s *Simulator) Step(series *Series, i int) error {
	bar := series.candles[i]
	if s.pos != nil {
		s.checkExit(bar, i)
		return nil
	}
	return s.tryEnter(series, i)
}

func (s *Simulator) checkExit(bar Candle, i int) {
	var touch FirstTouchResult
	switch s.pos.Side {
	case SideLong:
		touch = ResolveFirstTouchLong(bar, s.pos.TakeProfit, s.pos.StopLoss, s.cfg.TieBreak)
	case SideShort:
		touch = ResolveFirstTouchShort(bar, s.pos.TakeProfit, s.pos.StopLoss, s.cfg.TieBreak)
	}
	switch touch {
	case TouchSL:
		s.close(bar, i, s.pos.StopLoss, ExitStopLoss)
	case TouchTP:
		s.close(bar, i, s.pos.TakeProfit, ExitTakeProfit)
	}
}

func (s *Simulator) tryEnter(series *Series, i int) error {
	var side PositionSide
	switch series.Signal(i, s.cfg.Lookback) {
	case SignalLong:
		side = SideLong
	case SignalShort:
		side = SideShort
	default:
		return nil
	}

	bar := series.candles[i]
	levels, err := RiskLevels(series.rows[i].ATR, s.cfg.StopMultiple, s.cfg.RewardMultiple, bar.Close, side)
	if err != nil {
		s.log.Append(Event{Bar: i, Time: bar.Time, Type: EventEntrySkipped, Side: side, Price: bar.Close, Detail: err.Error()})
		return fmt.Errorf("bar %d: sizing %s entry: %w", i, side, err)
	}

	size, ok := s.applyMarginPolicy(bar, i, side, s.cfg.Size)
	if !ok {
		return nil
	}
	return s.Open(side, bar, i, levels, size)
}

func (s *Simulator) applyMarginPolicy(bar Candle, i int, side PositionSide, size float64) (float64, bool) {
	if s.cfg.MarginPolicy == MarginIgnore {
		return size, true
	}
	err := s.ledger.CheckMargin(bar.Close * size)
	if err == nil {
		return size, true
	}

	switch s.cfg.MarginPolicy {
	case MarginSkip:
		s.log.Append(Event{Bar: i, Time: bar.Time, Type: EventEntrySkipped, Side: side, Price: bar.Close, Size: size, Detail: err.Error()})
		s.logger.Warn("entry skipped on margin", zap.Int("bar", i), zap.Error(err))
		return 0, false
	case MarginReduce:
		reduced := s.ledger.MaxAffordable(bar.Close)
		if reduced > size {
			reduced = size
		}
		if reduced <= 0 {
			s.log.Append(Event{Bar: i, Time: bar.Time, Type: EventEntrySkipped, Side: side, Price: bar.Close, Size: size, Detail: err.Error()})
			s.logger.Warn("entry skipped on margin, nothing affordable", zap.Int("bar", i), zap.Error(err))
			return 0, false
		}
		s.log.Append(Event{Bar: i, Time: bar.Time, Type: EventMarginWarning, Side: side, Price: bar.Close, Size: reduced,
			Detail: fmt.Sprintf("size reduced from %g", size)})
		s.logger.Warn("entry size reduced on margin", zap.Int("bar", i), zap.Float64("size", reduced), zap.Error(err))
		return reduced, true
	default:
		s.log.Append(Event{Bar: i, Time: bar.Time, Type: EventMarginWarning, Side: side, Price: bar.Close, Size: size, Detail: err.Error()})
		s.logger.Warn("margin exceeded", zap.Int("bar", i), zap.Error(err))
		return size, true
	}
}

// Open enters at bar's close. Opening while a position exists is a driver
// defect and fails with ErrInvalidState.
func (s *Simulator) Open(side PositionSide, bar Candle, i int, levels Levels, size float64) error {
	if s.pos != nil {
		return fmt.Errorf("bar %d: open %s while %s since bar %d: %w", i, side, s.pos.Side, s.pos.EntryBar, ErrInvalidState)
	}
	if side != SideLong && side != SideShort {
		return fmt.Errorf("bar %d: open %s: %w", i, side, ErrInvalidInput)
	}
	s.pos = &Position{
		Side:       side,
		Entry:      bar.Close,
		Quantity:   size,
		StopLoss:   levels.StopLoss,
		TakeProfit: levels.TakeProfit,
		EntryBar:   i,
		EntryTime:  bar.Time,
	}
	s.opens++
	s.log.Append(Event{Bar: i, Time: bar.Time, Type: EventEntry, Side: side, Price: bar.Close, Size: size})
	s.logger.Debug("entry",
		zap.Int("bar", i),
		zap.Stringer("side", side),
		zap.Float64("price", bar.Close),
		zap.Float64("sl", levels.StopLoss),
		zap.Float64("tp", levels.TakeProfit),
		zap.Float64("size", size))
	return nil
}

// ForceClose closes any open position at bar i's close.
func (s *Simulator) ForceClose(series *Series, i int) {
	if s.pos == nil {
		return
	}
	bar := series.candles[i]
	s.close(bar, i, bar.Close, ExitEndOfData)
}

func (s *Simulator) close(bar Candle, i int, price float64, reason ExitReason) {
	pos := s.pos
	pnl := pos.PnL(price)
	s.ledger.ApplyFill(pnl)
	s.trades = append(s.trades, Trade{
		Side:       pos.Side,
		EntryBar:   pos.EntryBar,
		EntryTime:  pos.EntryTime,
		EntryPrice: pos.Entry,
		ExitBar:    i,
		ExitTime:   bar.Time,
		ExitPrice:  price,
		StopLoss:   pos.StopLoss,
		TakeProfit: pos.TakeProfit,
		Quantity:   pos.Quantity,
		PnL:        pnl,
		Reason:     reason,
	})
	s.pos = nil
	s.closes++

	evt := EventForceClose
	switch reason {
	case ExitStopLoss:
		evt = EventStopHit
	case ExitTakeProfit:
		evt = EventTakeProfitHit
	}
	s.log.Append(Event{Bar: i, Time: bar.Time, Type: evt, Side: pos.Side, Price: price, Size: pos.Quantity})
	s.logger.Debug("exit",
		zap.Int("bar", i),
		zap.String("reason", string(reason)),
		zap.Float64("price", price),
		zap.Float64("pnl", pnl))
}
