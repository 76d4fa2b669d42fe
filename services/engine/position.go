package engine

import "time"

type PositionSide int

const (
	SideFlat PositionSide = iota
	SideLong
	SideShort
)

func (s PositionSide) String() string {
	switch s {
	case SideLong:
		return "long"
	case SideShort:
		return "short"
	default:
		return "flat"
	}
}

func (s PositionSide) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *PositionSide) UnmarshalText(b []byte) error {
	switch string(b) {
	case "long":
		*s = SideLong
	case "short":
		*s = SideShort
	default:
		*s = SideFlat
	}
	return nil
}

// Position is the single open trade. It exists only while not flat.
type Position struct {
	Side       PositionSide `json:"side"`
	Entry      float64      `json:"entry"`
	Quantity   float64      `json:"quantity"`
	StopLoss   float64      `json:"stop_loss"`
	TakeProfit float64      `json:"take_profit"`
	EntryBar   int          `json:"entry_bar"`
	EntryTime  time.Time    `json:"entry_time"`
}

// PnL is the profit of closing at price.
func (p *Position) PnL(price float64) float64 {
	switch p.Side {
	case SideLong:
		return (price - p.Entry) * p.Quantity
	case SideShort:
		return (p.Entry - price) * p.Quantity
	}
	return 0
}

// Notional is the position value at price.
func (p *Position) Notional(price float64) float64 { return price * p.Quantity }

type ExitReason string

const (
	ExitStopLoss   ExitReason = "stop_loss"
	ExitTakeProfit ExitReason = "take_profit"
	ExitEndOfData  ExitReason = "end_of_data"
)

// Trade is a closed position.
type Trade struct {
	Side       PositionSide `json:"side"`
	EntryBar   int          `json:"entry_bar"`
	EntryTime  time.Time    `json:"entry_time"`
	EntryPrice float64      `json:"entry_price"`
	ExitBar    int          `json:"exit_bar"`
	ExitTime   time.Time    `json:"exit_time"`
	ExitPrice  float64      `json:"exit_price"`
	StopLoss   float64      `json:"stop_loss"`
	TakeProfit float64      `json:"take_profit"`
	Quantity   float64      `json:"quantity"`
	PnL        float64      `json:"pnl"`
	Reason     ExitReason   `json:"reason"`
}

// Bars is the holding period in bars.
func (t Trade) Bars() int { return t.ExitBar - t.EntryBar }
