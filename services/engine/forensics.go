package engine

// One-trade replay: per-bar decision state around a trade and why it exited

import "fmt"

type DecisionState struct {
	Bar        int                `json:"bar"`
	Candle     Candle             `json:"candle"`
	Indicators map[string]float64 `json:"indicators"`
	Trend      string             `json:"trend"`
	Signal     string             `json:"signal"`
}

type TradeReplay struct {
	Trade     Trade           `json:"trade"`
	Decisions []DecisionState `json:"decisions"`
	Outcome   string          `json:"outcome"`
}

// ReplayTrade rebuilds the decision states from lead bars before the entry
// through the exit bar.
func ReplayTrade(series *Series, t Trade, lookback, lead int, tie TieBreak) TradeReplay {
	from := t.EntryBar - lead
	if from < 0 {
		from = 0
	}
	to := t.ExitBar
	if to >= series.Len() {
		to = series.Len() - 1
	}
	r := TradeReplay{Trade: t}
	for i := from; i <= to; i++ {
		r.Decisions = append(r.Decisions, DecisionState{
			Bar:        i,
			Candle:     series.candles[i],
			Indicators: definedIndicators(series.rows[i]),
			Trend:      Classify(series.rows, i, lookback).String(),
			Signal:     series.Signal(i, lookback).String(),
		})
	}
	r.Outcome = explainExit(series, t, tie)
	return r
}

func definedIndicators(r IndicatorRow) map[string]float64 {
	out := make(map[string]float64, 7)
	for name, v := range map[string]float64{
		"ema_fast": r.EMAFast, "ema_slow": r.EMASlow, "rsi": r.RSI, "atr": r.ATR,
		"bb_lower": r.BBLower, "bb_mid": r.BBMid, "bb_upper": r.BBUpper,
	} {
		if Defined(v) {
			out[name] = v
		}
	}
	return out
}

func explainExit(series *Series, t Trade, tie TieBreak) string {
	if t.Reason == ExitEndOfData {
		return fmt.Sprintf("still open at bar %d, closed at the last close", t.ExitBar)
	}
	if t.ExitBar < 0 || t.ExitBar >= series.Len() {
		return string(t.Reason)
	}
	bar := series.candles[t.ExitBar]
	var both bool
	switch t.Side {
	case SideLong:
		both = bar.Low <= t.StopLoss && bar.High >= t.TakeProfit
	case SideShort:
		both = bar.High >= t.StopLoss && bar.Low <= t.TakeProfit
	}
	if both {
		return fmt.Sprintf("%s at bar %d: both levels inside the bar, resolved %s", t.Reason, t.ExitBar, tie)
	}
	return fmt.Sprintf("%s touched at bar %d", t.Reason, t.ExitBar)
}
