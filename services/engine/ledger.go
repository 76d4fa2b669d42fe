package engine

// Account ledger: cash, margin and equity marked once per bar

import (
	"fmt"
	"math"
)

// MarginPolicy decides what an entry does when its margin exceeds cash.
type MarginPolicy int

const (
	MarginReport MarginPolicy = iota // log a warning, enter anyway
	MarginIgnore                     // no check at all
	MarginSkip                       // drop the entry
	MarginReduce                     // shrink to the largest affordable whole size
)

func (p MarginPolicy) String() string {
	switch p {
	case MarginIgnore:
		return "ignore"
	case MarginSkip:
		return "skip"
	case MarginReduce:
		return "reduce"
	default:
		return "report"
	}
}

func ParseMarginPolicy(s string) (MarginPolicy, error) {
	switch s {
	case "", "report":
		return MarginReport, nil
	case "ignore":
		return MarginIgnore, nil
	case "skip":
		return MarginSkip, nil
	case "reduce":
		return MarginReduce, nil
	}
	return MarginReport, fmt.Errorf("margin policy %q: %w", s, ErrInvalidInput)
}

// Ledger tracks cash, realized P&L history and the equity curve.
// marginRatio is the fraction of notional held as collateral (1/30 is 30x leverage).
type Ledger struct {
	initialCash float64
	cash        float64
	marginRatio float64
	realized    []float64
	curve       []float64
}

func NewLedger(cash, marginRatio float64) *Ledger {
	return &Ledger{initialCash: cash, cash: cash, marginRatio: marginRatio}
}

// ApplyFill books a realized close.
func (l *Ledger) ApplyFill(pnl float64) {
	l.cash += pnl
	l.realized = append(l.realized, pnl)
}

// MarkToMarket is cash plus the open position's P&L at price.
func (l *Ledger) MarkToMarket(pos *Position, price float64) float64 {
	if pos == nil || pos.Side == SideFlat {
		return l.cash
	}
	return l.cash + pos.PnL(price)
}

// Record appends one point to the equity curve.
func (l *Ledger) Record(equity float64) { l.curve = append(l.curve, equity) }

func (l *Ledger) EquityCurve() []float64 {
	out := make([]float64, len(l.curve))
	copy(out, l.curve)
	return out
}

func (l *Ledger) Realized() []float64 {
	out := make([]float64, len(l.realized))
	copy(out, l.realized)
	return out
}

func (l *Ledger) Cash() float64        { return l.cash }
func (l *Ledger) InitialCash() float64 { return l.initialCash }
func (l *Ledger) MarginRatio() float64 { return l.marginRatio }

// RequiredMargin is the collateral held against notional.
func (l *Ledger) RequiredMargin(notional float64) float64 { return notional * l.marginRatio }

// MarginUsed is the collateral held by pos at price.
func (l *Ledger) MarginUsed(pos *Position, price float64) float64 {
	if pos == nil {
		return 0
	}
	return l.RequiredMargin(pos.Notional(price))
}

// CheckMargin fails with ErrMarginExceeded when notional needs more
// collateral than the cash on hand.
func (l *Ledger) CheckMargin(notional float64) error {
	if req := l.RequiredMargin(notional); req > l.cash {
		return fmt.Errorf("margin %.4f > cash %.4f: %w", req, l.cash, ErrMarginExceeded)
	}
	return nil
}

// MaxAffordable is the largest whole size whose margin fits in cash at price.
func (l *Ledger) MaxAffordable(price float64) float64 {
	per := price * l.marginRatio
	if per <= 0 || l.cash <= 0 {
		return 0
	}
	return math.Floor(l.cash / per)
}

func (p MarginPolicy) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

func (p *MarginPolicy) UnmarshalText(b []byte) error {
	v, err := ParseMarginPolicy(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}
