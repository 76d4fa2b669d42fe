// Command ingest loads a candle CSV, optionally resamples it to a coarser
// cadence, and writes it to ClickHouse and/or a normalized CSV.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"emaband-backtest/services/config"
	"emaband-backtest/services/feed"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	in := flag.String("in", "", "Input CSV (timestamp,open,high,low,close,volume or broker export)")
	out := flag.String("out", "", "Write the normalized candles to this CSV")
	symbol := flag.String("symbol", cfg.Feed.Symbol, "Symbol to store the candles under")
	interval := flag.String("interval", cfg.Feed.Interval, "Cadence of the input")
	resample := flag.String("resample", "", "Target cadence, a multiple of -interval (e.g. 15m)")
	partial := flag.Bool("keep-partial", false, "Keep an incomplete trailing bucket when resampling")
	toCH := flag.Bool("clickhouse", false, "Insert into the configured ClickHouse table")
	flag.Parse()

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	if *in == "" || (*out == "" && !*toCH) {
		logger.Fatal("-in and one of -out / -clickhouse are required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	candles, err := feed.NewCSVSource(*in, cfg.Feed.DropFlat, logger).Load(ctx, feed.Query{Symbol: *symbol, Interval: *interval})
	if err != nil {
		logger.Fatal("Failed to read input", zap.Error(err))
	}

	tf := *interval
	if *resample != "" {
		step, err := feed.ParseInterval(*resample)
		if err != nil {
			logger.Fatal("Bad -resample", zap.Error(err))
		}
		n := len(candles)
		if candles, err = feed.Resample(candles, step, !*partial); err != nil {
			logger.Fatal("Resample failed", zap.Error(err))
		}
		tf = *resample
		logger.Info("Resampled", zap.Int("from", n), zap.Int("to", len(candles)), zap.String("interval", tf))
	}

	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			logger.Fatal("Failed to create output", zap.Error(err))
		}
		if err := feed.WriteCSV(f, candles); err != nil {
			logger.Fatal("Failed to write output", zap.Error(err))
		}
		if err := f.Close(); err != nil {
			logger.Fatal("Failed to close output", zap.Error(err))
		}
	}

	if *toCH {
		ch, err := feed.OpenClickHouse(ctx, cfg.ClickHouse, cfg.Feed.DropFlat, logger)
		if err != nil {
			logger.Fatal("Failed to connect to ClickHouse", zap.Error(err))
		}
		defer ch.Close()
		if err := ch.EnsureSchema(ctx); err != nil {
			logger.Fatal("Failed to ensure schema", zap.Error(err))
		}
		if _, err := ch.Insert(ctx, *symbol, tf, candles); err != nil {
			logger.Fatal("Insert failed", zap.Error(err))
		}
	}
}
