package engine

import (
	"reflect"
	"testing"
)

func TestResolveFirstTouchLongStopPriority(t *testing.T) {
	bar := Candle{Open: 1.0950, High: 1.1050, Low: 1.0895, Close: 1.1000}
	if ResolveFirstTouchLong(bar, 1.1000, 1.0900, TieStopFirst) != TouchSL {
		t.Fatal("expected stop-loss when both levels are inside the bar")
	}
}

func TestResolveFirstTouchPolicies(t *testing.T) {
	// open sits nearer the low
	bar := Candle{Open: 100, High: 110, Low: 98, Close: 105}
	if ResolveFirstTouchLong(bar, 108, 99, TieTakeProfitFirst) != TouchTP {
		t.Fatal("expected take-profit first")
	}
	if ResolveFirstTouchLong(bar, 108, 99, TieSyntheticPath) != TouchSL {
		t.Fatal("expected low to be visited first on the synthetic path")
	}
	if ResolveFirstTouchShort(bar, 99, 108, TieSyntheticPath) != TouchTP {
		t.Fatal("expected short target below to be visited first")
	}
	if ResolveFirstTouchShort(bar, 99, 108, TieStopFirst) != TouchSL {
		t.Fatal("expected short stop-loss first")
	}
}

func TestResolveFirstTouchSingleLevel(t *testing.T) {
	bar := Candle{Open: 100, High: 110, Low: 90, Close: 105}
	if ResolveFirstTouchLong(bar, 108, 85, TieStopFirst) != TouchTP {
		t.Fatal("expected TP")
	}
	if ResolveFirstTouchShort(bar, 80, 105, TieStopFirst) != TouchSL {
		t.Fatal("expected SL for short")
	}
	if ResolveFirstTouchLong(bar, 120, 80, TieStopFirst) != TouchNone {
		t.Fatal("expected no touch")
	}
}

func TestReplayIsDeterministic(t *testing.T) {
	series := randomSeries(t, 7, 400)
	bt, err := NewBacktester(DefaultStrategyConfig(), nil)
	if err != nil {
		t.Fatal(err)
	}
	first, err := bt.Run(series)
	if err != nil {
		t.Fatal(err)
	}
	second, err := bt.Run(series)
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Trades) == 0 {
		t.Fatal("expected the random walk to trade")
	}
	if !reflect.DeepEqual(first.Trades, second.Trades) {
		t.Fatal("trade lists differ between identical runs")
	}
	if !reflect.DeepEqual(first.Equity, second.Equity) {
		t.Fatal("equity curves differ between identical runs")
	}
	if first.Manifest != second.Manifest {
		t.Fatal("manifests differ between identical runs")
	}
}
