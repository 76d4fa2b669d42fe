package engine

import (
	"fmt"
	"math"
)

// Levels are the protective prices attached to an entry.
type Levels struct {
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
}

// RiskLevels places the stop stopMultiple*atr away from ref and the target
// rewardMultiple times that distance on the other side.
func RiskLevels(atr, stopMultiple, rewardMultiple, ref float64, side PositionSide) (Levels, error) {
	if math.IsNaN(atr) || math.IsInf(atr, 0) || atr < 0 {
		return Levels{}, fmt.Errorf("atr %v: %w", atr, ErrInvalidInput)
	}
	if !Defined(ref) || !Defined(stopMultiple) || !Defined(rewardMultiple) {
		return Levels{}, fmt.Errorf("reference %v multiples %v/%v: %w", ref, stopMultiple, rewardMultiple, ErrInvalidInput)
	}
	offset := stopMultiple * atr
	switch side {
	case SideLong:
		return Levels{StopLoss: ref - offset, TakeProfit: ref + offset*rewardMultiple}, nil
	case SideShort:
		return Levels{StopLoss: ref + offset, TakeProfit: ref - offset*rewardMultiple}, nil
	default:
		return Levels{}, fmt.Errorf("side %s has no risk levels: %w", side, ErrInvalidInput)
	}
}
