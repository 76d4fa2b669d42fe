// Command backtest runs the EMA trend / Bollinger band strategy over
// historical candles from a CSV file or ClickHouse.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"emaband-backtest/services/arrowpipeline"
	"emaband-backtest/services/config"
	"emaband-backtest/services/engine"
	"emaband-backtest/services/feed"
	"emaband-backtest/services/indicators"
	"emaband-backtest/services/report"
	"emaband-backtest/services/store"
)

const timeLayout = "2006-01-02 15:04:05"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	s := &cfg.Strategy

	csvPath := flag.String("csv", "", "Path to a local candle CSV")
	useCH := flag.Bool("clickhouse", false, "Load candles from ClickHouse instead of a CSV")
	redisAddr := flag.String("redis", cfg.Redis.Addr, "Redis address for the candle cache (empty disables)")
	symbol := flag.String("symbol", cfg.Feed.Symbol, "Trading symbol")
	interval := flag.String("interval", cfg.Feed.Interval, "Candle interval")
	from := flag.String("from", "", "Start UTC (YYYY-MM-DD HH:MM:SS)")
	to := flag.String("to", "", "End UTC, exclusive (YYYY-MM-DD HH:MM:SS)")
	keepFlat := flag.Bool("keep-flat", !cfg.Feed.DropFlat, "Keep candles with high == low")
	flag.IntVar(&s.Lookback, "lookback", s.Lookback, "Trend lookback in bars")
	flag.Float64Var(&s.StopMultiple, "stop-mult", s.StopMultiple, "Stop distance in ATRs")
	flag.Float64Var(&s.RewardMultiple, "reward-mult", s.RewardMultiple, "Take-profit / stop distance ratio")
	flag.Float64Var(&s.Size, "size", s.Size, "Position size in units")
	flag.Float64Var(&s.Cash, "cash", s.Cash, "Starting cash")
	flag.Float64Var(&s.MarginRatio, "margin-ratio", s.MarginRatio, "Collateral fraction of notional")
	flag.TextVar(&s.TieBreak, "tie-break", s.TieBreak, "stop_first | take_profit_first | synthetic_path")
	flag.TextVar(&s.MarginPolicy, "margin-policy", s.MarginPolicy, "report | ignore | skip | reduce")
	tradesOut := flag.String("trades-out", "", "Write the trade ledger CSV here")
	arrowOut := flag.String("arrow-out", "", "Write series and equity as an Arrow IPC stream here")
	dbPath := flag.String("db", "", "Persist the run into this sqlite database")
	explain := flag.Int("explain", -1, "Print a decision replay of the trade with this index")
	debug := flag.Bool("debug", false, "Development logging")
	flag.Parse()

	var logger *zap.Logger
	if *debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	q := feed.Query{Symbol: *symbol, Interval: *interval}
	if q.From, err = parseTime(*from); err != nil {
		logger.Fatal("Bad -from", zap.Error(err))
	}
	if q.To, err = parseTime(*to); err != nil {
		logger.Fatal("Bad -to", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	src, closeSrc, err := openSource(ctx, cfg, *csvPath, *useCH, !*keepFlat, logger)
	if err != nil {
		logger.Fatal("Failed to open candle source", zap.Error(err))
	}
	defer closeSrc()
	if *redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: *redisAddr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
		src = feed.NewCachingSource(rdb, cfg.Redis.TTL, src, cfg.Redis.Namespace, logger)
	}

	candles, err := src.Load(ctx, q)
	if err != nil {
		logger.Fatal("Failed to load candles", zap.Error(err))
	}
	logger.Info("Loaded candles", zap.Int("count", len(candles)), zap.String("symbol", q.Symbol))

	provider, err := indicators.NewProvider(cfg.Indicators)
	if err != nil {
		logger.Fatal("Bad indicator parameters", zap.Error(err))
	}
	series, err := provider.Build(candles)
	if err != nil {
		logger.Fatal("Failed to build series", zap.Error(err))
	}

	bt, err := engine.NewBacktester(*s, logger)
	if err != nil {
		logger.Fatal("Bad strategy parameters", zap.Error(err))
	}
	res, err := bt.Run(series)
	if err != nil {
		logger.Fatal("Backtest failed", zap.Error(err))
	}

	if err := report.WriteSummary(os.Stdout, res.Manifest, res.Summary); err != nil {
		logger.Error("Failed to print summary", zap.Error(err))
	}

	if *tradesOut != "" {
		if err := report.ExportTradesCSV(*tradesOut, q.Symbol, res.Trades, res.Summary); err != nil {
			logger.Error("Failed to export trades", zap.Error(err))
		}
	}
	if *arrowOut != "" {
		b, err := arrowpipeline.NewPipeline(arrowpipeline.Config{}, logger).Encode(series, res.Equity)
		if err == nil {
			err = os.WriteFile(*arrowOut, b, 0o644)
		}
		if err != nil {
			logger.Error("Failed to export arrow stream", zap.Error(err))
		}
	}
	if *dbPath != "" {
		if err := persist(ctx, *dbPath, q, res); err != nil {
			logger.Error("Failed to persist run", zap.Error(err))
		}
	}
	if *explain >= 0 {
		if *explain >= len(res.Trades) {
			logger.Fatal("No such trade", zap.Int("index", *explain), zap.Int("trades", len(res.Trades)))
		}
		replay := engine.ReplayTrade(series, res.Trades[*explain], s.Lookback, s.Lookback, s.TieBreak)
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(replay)
	}
}

func openSource(ctx context.Context, cfg *config.Config, csvPath string, useCH, dropFlat bool, logger *zap.Logger) (feed.Source, func(), error) {
	switch {
	case useCH:
		ch, err := feed.OpenClickHouse(ctx, cfg.ClickHouse, dropFlat, logger)
		if err != nil {
			return nil, nil, err
		}
		return ch, func() { _ = ch.Close() }, nil
	case csvPath != "":
		return feed.NewCSVSource(csvPath, dropFlat, logger), func() {}, nil
	}
	return nil, nil, errors.New("pass -csv <file> or -clickhouse")
}

func persist(ctx context.Context, path string, q feed.Query, res *engine.Result) error {
	db, err := store.Open(path)
	if err != nil {
		return err
	}
	rec := &store.RunRecord{Symbol: q.Symbol, Interval: q.Interval, Manifest: res.Manifest, Summary: res.Summary, Trades: res.Trades}
	if err := store.NewRunRepository(db).Save(ctx, rec); err != nil {
		return err
	}
	fmt.Printf("Saved run %s to %s\n", rec.ID, path)
	return nil
}

func parseTime(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.ParseInLocation(timeLayout, s, time.UTC)
}
