package feed

import (
	"bufio"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"emaband-backtest/services/engine"
)

// Timestamp layouts accepted besides integer epoch seconds/milliseconds.
var timeLayouts = []string{
	"02.01.2006 15:04:05.000", // broker exports, day first
	"02.01.2006 15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02T15:04:05.000Z",
}

// CSVSource reads time,open,high,low,close[,volume] rows from a file.
type CSVSource struct {
	path     string
	dropFlat bool
	logger   *zap.Logger
}

func NewCSVSource(path string, dropFlat bool, logger *zap.Logger) *CSVSource {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CSVSource{path: path, dropFlat: dropFlat, logger: logger}
}

// SourceID names the file, its size and mtime, and the flat-candle setting.
func (s *CSVSource) SourceID() string {
	path := s.path
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	id := fmt.Sprintf("csv:%s:dropflat=%t", path, s.dropFlat)
	if fi, err := os.Stat(path); err == nil {
		id += fmt.Sprintf(":%d:%d", fi.Size(), fi.ModTime().UnixNano())
	}
	return id
}

func (s *CSVSource) Load(ctx context.Context, q Query) ([]engine.Candle, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	candles, st, err := ParseCSV(f, q, s.dropFlat)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	s.logger.Info("csv candles loaded",
		zap.String("path", s.path),
		zap.Int("read", st.Read),
		zap.Int("kept", len(candles)),
		zap.Int("malformed", st.Malformed),
		zap.Int("invalid", st.Invalid),
		zap.Int("flat", st.Flat),
		zap.Int("duplicates", st.Duplicates))
	return candles, ctx.Err()
}

// ParseCSV decodes UTF-8 or BOM-marked UTF-16 input. A header line is
// skipped; malformed rows are counted and dropped.
func ParseCSV(r io.Reader, q Query, dropFlat bool) ([]engine.Candle, Stats, error) {
	var st Stats
	br := bufio.NewReader(r)
	var in io.Reader = br
	if b, _ := br.Peek(2); len(b) == 2 && ((b[0] == 0xFF && b[1] == 0xFE) || (b[0] == 0xFE && b[1] == 0xFF)) {
		in = transform.NewReader(br, unicode.UTF16(unicode.LittleEndian, unicode.ExpectBOM).NewDecoder())
	}

	cr := csv.NewReader(in)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	candles := make([]engine.Candle, 0, 1_000)
	for line := 0; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				st.Malformed++
				continue
			}
			return nil, st, err
		}
		if len(rec) < 5 {
			st.Malformed++
			continue
		}
		ts, err := parseTime(strings.TrimPrefix(strings.TrimSpace(rec[0]), "\ufeff"))
		if err != nil {
			if line > 0 {
				st.Malformed++
			}
			continue
		}
		st.Read++
		c, err := parseCandle(ts, rec)
		if err != nil {
			st.Malformed++
			continue
		}
		candles = append(candles, c)
	}
	return normalize(candles, q, dropFlat, &st), st, nil
}

func parseCandle(ts time.Time, rec []string) (engine.Candle, error) {
	var v [4]float64
	for i := range v {
		f, err := strconv.ParseFloat(strings.TrimSpace(rec[i+1]), 64)
		if err != nil {
			return engine.Candle{}, err
		}
		v[i] = f
	}
	c := engine.Candle{Time: ts, Open: v[0], High: v[1], Low: v[2], Close: v[3]}
	if len(rec) > 5 {
		if vol, err := strconv.ParseFloat(strings.TrimSpace(rec[5]), 64); err == nil {
			c.Volume = vol
		}
	}
	return c, nil
}

func parseTime(s string) (time.Time, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 100_000_000_000 {
			return time.UnixMilli(n).UTC(), nil
		}
		return time.Unix(n, 0).UTC(), nil
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
}
