// Package report renders finished runs for people: a trade ledger CSV and a
// plain-text summary, with prices and money rounded through decimal.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"emaband-backtest/services/engine"
)

const (
	pricePlaces   = 5
	moneyPlaces   = 2
	percentPlaces = 2
)

var hundred = decimal.NewFromInt(100)

// Summary is engine.Summary with money rounded to cents and ratios as percents.
type Summary struct {
	TradeCount     int
	Wins           int
	Losses         int
	WinRatePct     decimal.Decimal
	TotalReturnPct decimal.Decimal
	MaxDrawdownPct decimal.Decimal
	BuyHoldPct     decimal.Decimal
	ExposurePct    decimal.Decimal
	InitialCash    decimal.Decimal
	FinalEquity    decimal.Decimal
	NetPnL         decimal.Decimal
	BestTrade      decimal.Decimal
	WorstTrade     decimal.Decimal
	AvgTrade       decimal.Decimal
	AvgWin         decimal.Decimal
	AvgLoss        decimal.Decimal
	ProfitFactor   decimal.Decimal
	Expectancy     decimal.Decimal
}

func money(v float64) decimal.Decimal { return decimal.NewFromFloat(v).Round(moneyPlaces) }
func price(v float64) decimal.Decimal { return decimal.NewFromFloat(v).Round(pricePlaces) }
func pct(v float64) decimal.Decimal {
	return decimal.NewFromFloat(v).Mul(hundred).Round(percentPlaces)
}

func FromSummary(s engine.Summary) Summary {
	return Summary{
		TradeCount:     s.TradeCount,
		Wins:           s.Wins,
		Losses:         s.Losses,
		WinRatePct:     pct(s.WinRate),
		TotalReturnPct: pct(s.TotalReturn),
		MaxDrawdownPct: pct(s.MaxDrawdown),
		BuyHoldPct:     pct(s.BuyHoldReturn),
		ExposurePct:    pct(s.Exposure),
		InitialCash:    money(s.InitialCash),
		FinalEquity:    money(s.FinalEquity),
		NetPnL:         money(s.NetPnL),
		BestTrade:      money(s.BestTrade),
		WorstTrade:     money(s.WorstTrade),
		AvgTrade:       money(s.AvgTrade),
		AvgWin:         money(s.AvgWin),
		AvgLoss:        money(s.AvgLoss),
		ProfitFactor:   decimal.NewFromFloat(s.ProfitFactor).Round(2),
		Expectancy:     money(s.Expectancy),
	}
}

var tradeHeader = []string{
	"entry_time_utc", "side", "entry_price", "exit_time_utc", "exit_price", "exit_reason",
	"qty", "pnl_usd", "pnl_pct", "symbol", "tp_price", "sl_price", "bars_held",
}

// WriteTradesCSV writes one row per trade followed by a "# Summary" block.
func WriteTradesCSV(w io.Writer, symbol string, trades []engine.Trade, s engine.Summary) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(tradeHeader); err != nil {
		return err
	}
	for _, t := range trades {
		var pnlPct decimal.Decimal
		if notional := t.EntryPrice * t.Quantity; notional != 0 {
			pnlPct = pct(t.PnL / notional)
		}
		rec := []string{
			t.EntryTime.UTC().Format(time.RFC3339),
			t.Side.String(),
			price(t.EntryPrice).String(),
			t.ExitTime.UTC().Format(time.RFC3339),
			price(t.ExitPrice).String(),
			string(t.Reason),
			decimal.NewFromFloat(t.Quantity).String(),
			money(t.PnL).String(),
			pnlPct.String(),
			symbol,
			price(t.TakeProfit).String(),
			price(t.StopLoss).String(),
			strconv.Itoa(t.Bars()),
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}

	d := FromSummary(s)
	rows := [][]string{
		{""},
		{"# Summary"},
		{"total_trades", strconv.Itoa(d.TradeCount)},
		{"wins", strconv.Itoa(d.Wins)},
		{"losses", strconv.Itoa(d.Losses)},
		{"win_rate_pct", d.WinRatePct.String()},
		{"net_pnl_usd", d.NetPnL.String()},
		{"avg_win_usd", d.AvgWin.String()},
		{"avg_loss_usd", d.AvgLoss.String()},
		{"expectancy_usd", d.Expectancy.String()},
		{"max_drawdown_pct", d.MaxDrawdownPct.String()},
		{"profit_factor", d.ProfitFactor.String()},
	}
	if err := cw.WriteAll(rows); err != nil {
		return err
	}
	return cw.Error()
}

// ExportTradesCSV writes WriteTradesCSV output to path.
func ExportTradesCSV(path, symbol string, trades []engine.Trade, s engine.Summary) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	if err := WriteTradesCSV(f, symbol, trades, s); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// WriteSummary prints the human-readable run summary.
func WriteSummary(w io.Writer, m engine.RunManifest, s engine.Summary) error {
	d := FromSummary(s)
	_, err := fmt.Fprintf(w, `=== EMA/Band Backtest Summary ===
Bars: %d (first trading bar %d)
Trades: %d, Wins: %d, Losses: %d, WinRate: %s%%
Net PnL: $%s, Final Equity: $%s (start $%s)
Total Return: %s%%, Buy&Hold: %s%%, Max Drawdown: %s%%
Avg Trade: $%s, Avg Win: $%s, Avg Loss: $%s
Best: $%s, Worst: $%s
Profit Factor: %s, Expectancy: $%s, Exposure: %s%%
Config: %s
Data: %s
Engine: %s
`,
		m.Bars, m.FirstTradingBar,
		d.TradeCount, d.Wins, d.Losses, d.WinRatePct,
		d.NetPnL, d.FinalEquity, d.InitialCash,
		d.TotalReturnPct, d.BuyHoldPct, d.MaxDrawdownPct,
		d.AvgTrade, d.AvgWin, d.AvgLoss,
		d.BestTrade, d.WorstTrade,
		d.ProfitFactor, d.Expectancy, d.ExposurePct,
		m.ConfigHash, m.DataChecksum, m.EngineVersion)
	return err
}
