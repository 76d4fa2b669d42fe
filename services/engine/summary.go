package engine

// Aggregate performance statistics over a finished run

import "math"

// Summary ratios are fractions (0.25 is 25%).
type Summary struct {
	TradeCount    int     `json:"trade_count"`
	Wins          int     `json:"wins"`
	Losses        int     `json:"losses"`
	WinRate       float64 `json:"win_rate"`
	TotalReturn   float64 `json:"total_return"`
	MaxDrawdown   float64 `json:"max_drawdown"`
	InitialCash   float64 `json:"initial_cash"`
	FinalEquity   float64 `json:"final_equity"`
	NetPnL        float64 `json:"net_pnl"`
	BuyHoldReturn float64 `json:"buy_hold_return"`
	BestTrade     float64 `json:"best_trade"`
	WorstTrade    float64 `json:"worst_trade"`
	AvgTrade      float64 `json:"avg_trade"`
	AvgWin        float64 `json:"avg_win"`
	AvgLoss       float64 `json:"avg_loss"`
	ProfitFactor  float64 `json:"profit_factor"`
	Expectancy    float64 `json:"expectancy"`
	Exposure      float64 `json:"exposure"`
}

// SummaryInput gathers everything Summarize reads.
type SummaryInput struct {
	Trades       []Trade
	Equity       []float64
	InitialCash  float64
	FirstClose   float64
	LastClose    float64
	BarsInMarket int
}

func Summarize(in SummaryInput) Summary {
	s := Summary{
		TradeCount:  len(in.Trades),
		InitialCash: in.InitialCash,
		MaxDrawdown: MaxDrawdown(in.Equity),
	}
	if in.FirstClose > 0 {
		s.BuyHoldReturn = (in.LastClose - in.FirstClose) / in.FirstClose
	}
	if len(in.Equity) > 0 {
		s.Exposure = float64(in.BarsInMarket) / float64(len(in.Equity))
	}

	var grossProfit, grossLoss float64
	s.BestTrade, s.WorstTrade = math.Inf(-1), math.Inf(1)
	for _, t := range in.Trades {
		s.NetPnL += t.PnL
		if t.PnL > 0 {
			s.Wins++
			grossProfit += t.PnL
		} else {
			s.Losses++
			grossLoss += -t.PnL
		}
		s.BestTrade = math.Max(s.BestTrade, t.PnL)
		s.WorstTrade = math.Min(s.WorstTrade, t.PnL)
	}
	s.FinalEquity = in.InitialCash + s.NetPnL
	if in.InitialCash > 0 {
		s.TotalReturn = s.NetPnL / in.InitialCash
	}
	if s.TradeCount == 0 {
		s.BestTrade, s.WorstTrade = 0, 0
		return s
	}

	s.WinRate = float64(s.Wins) / float64(s.TradeCount)
	s.AvgTrade = s.NetPnL / float64(s.TradeCount)
	if s.Wins > 0 {
		s.AvgWin = grossProfit / float64(s.Wins)
	}
	if s.Losses > 0 {
		s.AvgLoss = grossLoss / float64(s.Losses)
	}
	if grossLoss > 0 {
		s.ProfitFactor = grossProfit / grossLoss
	}
	s.Expectancy = s.WinRate*s.AvgWin - (1-s.WinRate)*s.AvgLoss
	return s
}

// MaxDrawdown is the largest peak-to-trough decline as a fraction of the peak.
func MaxDrawdown(equity []float64) float64 {
	var peak, worst float64
	for i, eq := range equity {
		if i == 0 || eq > peak {
			peak = eq
		}
		if peak > 0 {
			if dd := (peak - eq) / peak; dd > worst {
				worst = dd
			}
		}
	}
	return worst
}
