package report

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"emaband-backtest/services/engine"
)

func sampleTrades() []engine.Trade {
	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return []engine.Trade{{
		Side: engine.SideLong, EntryBar: 10, EntryTime: t0, EntryPrice: 1.10001,
		ExitBar: 13, ExitTime: t0.Add(15 * time.Minute), ExitPrice: 1.10166,
		StopLoss: 1.09891, TakeProfit: 1.10166, Quantity: 3000, PnL: 4.95, Reason: engine.ExitTakeProfit,
	}}
}

func TestFromSummaryRounds(t *testing.T) {
	d := FromSummary(engine.Summary{WinRate: 2.0 / 3, NetPnL: 12.3456, MaxDrawdown: 0.01234, ProfitFactor: 1.23456})
	assert.Equal(t, "66.67", d.WinRatePct.String())
	assert.Equal(t, "12.35", d.NetPnL.String())
	assert.Equal(t, "1.23", d.MaxDrawdownPct.String())
	assert.Equal(t, "1.23", d.ProfitFactor.String())
}

func TestWriteTradesCSV(t *testing.T) {
	var buf bytes.Buffer
	s := engine.Summary{TradeCount: 1, Wins: 1, WinRate: 1, NetPnL: 4.95, AvgWin: 4.95, ProfitFactor: 0}
	require.NoError(t, WriteTradesCSV(&buf, "EURUSD", sampleTrades(), s))

	r := csv.NewReader(&buf)
	r.FieldsPerRecord = -1
	recs, err := r.ReadAll()
	require.NoError(t, err)

	assert.Equal(t, tradeHeader, recs[0])
	row := recs[1]
	assert.Equal(t, "2024-03-01T10:00:00Z", row[0])
	assert.Equal(t, "long", row[1])
	assert.Equal(t, "1.10001", row[2])
	assert.Equal(t, "take_profit", row[5])
	assert.Equal(t, "3000", row[6])
	assert.Equal(t, "4.95", row[7])
	assert.Equal(t, "EURUSD", row[9])
	assert.Equal(t, "3", row[12])

	at := -1
	for i, rec := range recs {
		if rec[0] == "# Summary" {
			at = i
		}
	}
	require.Greater(t, at, 1)
	assert.Equal(t, []string{"total_trades", "1"}, recs[at+1])
	assert.Equal(t, []string{"win_rate_pct", "100"}, recs[at+4])
}

func TestExportTradesCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trades.csv")
	require.NoError(t, ExportTradesCSV(path, "EURUSD", sampleTrades(), engine.Summary{TradeCount: 1}))
	b, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(b), "entry_time_utc,side,"))

	assert.Error(t, ExportTradesCSV(filepath.Join(t.TempDir(), "missing", "x.csv"), "", nil, engine.Summary{}))
}

func TestWriteSummary(t *testing.T) {
	var buf bytes.Buffer
	m := engine.RunManifest{ConfigHash: "abc", DataChecksum: "def", EngineVersion: engine.EngineVersion, Bars: 100, FirstTradingBar: 56}
	require.NoError(t, WriteSummary(&buf, m, engine.Summary{TradeCount: 2, Wins: 1, Losses: 1, WinRate: 0.5, InitialCash: 250, FinalEquity: 251.5, NetPnL: 1.5}))
	out := buf.String()
	assert.Contains(t, out, "Bars: 100 (first trading bar 56)")
	assert.Contains(t, out, "WinRate: 50%")
	assert.Contains(t, out, "Final Equity: $251.5 (start $250)")
	assert.Contains(t, out, "Engine: "+engine.EngineVersion)
}
