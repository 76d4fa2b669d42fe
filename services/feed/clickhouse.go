package feed

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	chproto "github.com/ClickHouse/clickhouse-go/v2/lib/proto"
	"go.uber.org/zap"

	"emaband-backtest/services/engine"
)

type ClickHouseConfig struct {
	Addr        []string
	Database    string
	Username    string
	Password    string
	Table       string
	DialTimeout time.Duration
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// ClickHouseSource reads candles from a table keyed by (symbol, interval, open_time_ms).
type ClickHouseSource struct {
	conn     driver.Conn
	table    string
	dropFlat bool
	logger   *zap.Logger
}

// OpenClickHouse connects and pings the server.
func OpenClickHouse(ctx context.Context, cfg ClickHouseConfig, dropFlat bool, logger *zap.Logger) (*ClickHouseSource, error) {
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Addr,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialTimeout: cfg.DialTimeout,
		Settings: clickhouse.Settings{
			"max_execution_time": uint64(60),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("clickhouse ping: %s: %w", explainCHError(err), err)
	}
	return NewClickHouseSource(conn, cfg.Table, dropFlat, logger)
}

func NewClickHouseSource(conn driver.Conn, table string, dropFlat bool, logger *zap.Logger) (*ClickHouseSource, error) {
	if !identRe.MatchString(table) {
		return nil, fmt.Errorf("clickhouse table %q: %w", table, engine.ErrInvalidInput)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClickHouseSource{conn: conn, table: table, dropFlat: dropFlat, logger: logger}, nil
}

func (s *ClickHouseSource) SourceID() string {
	return fmt.Sprintf("clickhouse:%s:dropflat=%t", s.table, s.dropFlat)
}

func (s *ClickHouseSource) Load(ctx context.Context, q Query) ([]engine.Candle, error) {
	query, args := buildCandleQuery(s.table, q)
	start := time.Now()
	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("clickhouse query: %s: %w", explainCHError(err), err)
	}
	defer rows.Close()

	raw, err := scanCandles(rows)
	if err != nil {
		return nil, err
	}
	var st Stats
	st.Read = len(raw)
	candles := normalize(raw, q, s.dropFlat, &st)
	s.logger.Info("clickhouse candles loaded",
		zap.String("symbol", q.Symbol),
		zap.String("interval", q.Interval),
		zap.Int("read", st.Read),
		zap.Int("kept", len(candles)),
		zap.Int("flat", st.Flat),
		zap.Duration("elapsed", time.Since(start)))
	return candles, nil
}

func (s *ClickHouseSource) Close() error { return s.conn.Close() }

func buildCandleQuery(table string, q Query) (string, []any) {
	var b strings.Builder
	fmt.Fprintf(&b, "SELECT open_time_ms, open, high, low, close, volume FROM %s FINAL WHERE symbol = ? AND interval = ?", table)
	args := []any{q.Symbol, q.Interval}
	if !q.From.IsZero() {
		b.WriteString(" AND open_time_ms >= ?")
		args = append(args, uint64(q.From.UnixMilli()))
	}
	if !q.To.IsZero() {
		b.WriteString(" AND open_time_ms < ?")
		args = append(args, uint64(q.To.UnixMilli()))
	}
	b.WriteString(" ORDER BY open_time_ms")
	return b.String(), args
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanCandles(rows rowScanner) ([]engine.Candle, error) {
	var out []engine.Candle
	for rows.Next() {
		var (
			ot         uint64
			o, h, l, c float64
			v          float64
		)
		if err := rows.Scan(&ot, &o, &h, &l, &c, &v); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		out = append(out, engine.Candle{
			Time:   time.UnixMilli(int64(ot)).UTC(),
			Open:   o,
			High:   h,
			Low:    l,
			Close:  c,
			Volume: v,
		})
	}
	return out, rows.Err()
}

func explainCHError(err error) string {
	var ex *chproto.Exception
	if errors.As(err, &ex) {
		return fmt.Sprintf("ClickHouse [%d] %s (%s)", ex.Code, ex.Message, ex.Name)
	}
	return err.Error()
}
