package feed

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"emaband-backtest/services/engine"
)

// schemaDDL is the candles table Load reads. ReplacingMergeTree keeps the
// highest version per (symbol, interval, open_time_ms), so re-ingesting is idempotent.
func schemaDDL(table string) []string {
	stmts := make([]string, 0, 2)
	if db, _, ok := strings.Cut(table, "."); ok {
		stmts = append(stmts, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", db))
	}
	stmts = append(stmts, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	symbol String,
	interval LowCardinality(String),
	open_time_ms UInt64,
	open Float64,
	high Float64,
	low Float64,
	close Float64,
	volume Float64,
	ingested_at DateTime64(3),
	version UInt64
)
ENGINE = ReplacingMergeTree(version)
ORDER BY (symbol, interval, open_time_ms)`, table))
	return stmts
}

// EnsureSchema creates the candles table (and its database) when missing.
func (s *ClickHouseSource) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schemaDDL(s.table) {
		if err := s.conn.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("clickhouse ddl: %s: %w", explainCHError(err), err)
		}
	}
	return nil
}

// Insert writes candles in one batch. Every row of a call shares one version.
func (s *ClickHouseSource) Insert(ctx context.Context, symbol, interval string, candles []engine.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}
	batch, err := s.conn.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s SETTINGS insert_deduplicate=1", s.table))
	if err != nil {
		return 0, fmt.Errorf("prepare batch: %s: %w", explainCHError(err), err)
	}
	now := time.Now().UTC()
	ver := uint64(now.UnixNano())
	for _, c := range candles {
		if err := batch.Append(symbol, interval, uint64(c.Time.UnixMilli()), c.Open, c.High, c.Low, c.Close, c.Volume, now, ver); err != nil {
			_ = batch.Abort()
			return 0, fmt.Errorf("batch append: %w", err)
		}
	}
	if err := batch.Send(); err != nil {
		return 0, fmt.Errorf("batch send: %s: %w", explainCHError(err), err)
	}
	s.logger.Info("clickhouse candles inserted",
		zap.String("symbol", symbol),
		zap.String("interval", interval),
		zap.Int("rows", len(candles)))
	return len(candles), nil
}
