// Package arrowpipeline exports a run's candle series, indicator columns and
// equity curve as an Arrow IPC stream, and reads it back.
package arrowpipeline

import (
	"bytes"
	"fmt"
	"math"
	"time"

	"github.com/apache/arrow/go/v14/arrow"
	"github.com/apache/arrow/go/v14/arrow/array"
	"github.com/apache/arrow/go/v14/arrow/ipc"
	"github.com/apache/arrow/go/v14/arrow/memory"
	"go.uber.org/zap"

	"emaband-backtest/services/engine"
)

// Config holds Arrow pipeline configuration
type Config struct {
	BatchSize int `yaml:"batch_size"`
}

// Undefined indicators and bars without an equity point are written as nulls.
var runSchema = arrow.NewSchema([]arrow.Field{
	{Name: "time_ms", Type: arrow.PrimitiveTypes.Int64},
	{Name: "open", Type: arrow.PrimitiveTypes.Float64},
	{Name: "high", Type: arrow.PrimitiveTypes.Float64},
	{Name: "low", Type: arrow.PrimitiveTypes.Float64},
	{Name: "close", Type: arrow.PrimitiveTypes.Float64},
	{Name: "volume", Type: arrow.PrimitiveTypes.Float64},
	{Name: "ema_fast", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "ema_slow", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "rsi", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "atr", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "bb_lower", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "bb_mid", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "bb_upper", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "equity", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "margin", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
}, nil)

const (
	colTime = iota
	colOpen
	colHigh
	colLow
	colClose
	colVolume
	colEMAFast
	colEMASlow
	colRSI
	colATR
	colBBLower
	colBBMid
	colBBUpper
	colEquity
	colMargin
)

// Pipeline handles Arrow IPC encoding
type Pipeline struct {
	config     Config
	memoryPool memory.Allocator
	logger     *zap.Logger
}

func NewPipeline(config Config, logger *zap.Logger) *Pipeline {
	if config.BatchSize <= 0 {
		config.BatchSize = 4096
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{config: config, memoryPool: memory.NewGoAllocator(), logger: logger}
}

// Encode writes the series with its equity curve, BatchSize rows per record.
func (p *Pipeline) Encode(series *engine.Series, equity []engine.EquityPoint) ([]byte, error) {
	if series.Len() == 0 {
		return nil, fmt.Errorf("no bars to convert")
	}
	byBar := make(map[int]engine.EquityPoint, len(equity))
	for _, e := range equity {
		byBar[e.Bar] = e
	}

	var buf bytes.Buffer
	writer := ipc.NewWriter(&buf, ipc.WithSchema(runSchema), ipc.WithAllocator(p.memoryPool))
	records := 0
	for from := 0; from < series.Len(); from += p.config.BatchSize {
		to := min(from+p.config.BatchSize, series.Len())
		record := p.buildRecord(series, byBar, from, to)
		err := writer.Write(record)
		record.Release()
		if err != nil {
			writer.Close()
			return nil, fmt.Errorf("failed to write Arrow record: %w", err)
		}
		records++
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close Arrow stream: %w", err)
	}
	p.logger.Debug("encoded arrow stream", zap.Int("bars", series.Len()), zap.Int("records", records), zap.Int("bytes", buf.Len()))
	return buf.Bytes(), nil
}

func (p *Pipeline) buildRecord(series *engine.Series, byBar map[int]engine.EquityPoint, from, to int) arrow.Record {
	b := array.NewRecordBuilder(p.memoryPool, runSchema)
	defer b.Release()

	ts := b.Field(colTime).(*array.Int64Builder)
	f := func(col int) *array.Float64Builder { return b.Field(col).(*array.Float64Builder) }
	for i := from; i < to; i++ {
		c := series.Candle(i)
		r := series.Row(i)
		ts.Append(c.Time.UnixMilli())
		f(colOpen).Append(c.Open)
		f(colHigh).Append(c.High)
		f(colLow).Append(c.Low)
		f(colClose).Append(c.Close)
		f(colVolume).Append(c.Volume)
		appendNullable(f(colEMAFast), r.EMAFast)
		appendNullable(f(colEMASlow), r.EMASlow)
		appendNullable(f(colRSI), r.RSI)
		appendNullable(f(colATR), r.ATR)
		appendNullable(f(colBBLower), r.BBLower)
		appendNullable(f(colBBMid), r.BBMid)
		appendNullable(f(colBBUpper), r.BBUpper)
		if eq, ok := byBar[i]; ok {
			f(colEquity).Append(eq.Equity)
			f(colMargin).Append(eq.Margin)
		} else {
			f(colEquity).AppendNull()
			f(colMargin).AppendNull()
		}
	}
	return b.NewRecord()
}

func appendNullable(b *array.Float64Builder, v float64) {
	if engine.Defined(v) {
		b.Append(v)
		return
	}
	b.AppendNull()
}

// Decode reads a stream produced by Encode back into a series and the
// equity points present in it.
func (p *Pipeline) Decode(data []byte) (*engine.Series, []engine.EquityPoint, error) {
	reader, err := ipc.NewReader(bytes.NewReader(data), ipc.WithAllocator(p.memoryPool))
	if err != nil {
		return nil, nil, fmt.Errorf("open Arrow stream: %w", err)
	}
	defer reader.Release()
	if !reader.Schema().Equal(runSchema) {
		return nil, nil, fmt.Errorf("unexpected Arrow schema: %s", reader.Schema())
	}

	series := engine.NewSeries(0)
	var equity []engine.EquityPoint
	for reader.Next() {
		rec := reader.Record()
		ts := rec.Column(colTime).(*array.Int64)
		col := func(i int) *array.Float64 { return rec.Column(i).(*array.Float64) }
		for j := 0; j < int(rec.NumRows()); j++ {
			c := engine.Candle{
				Time:   time.UnixMilli(ts.Value(j)).UTC(),
				Open:   col(colOpen).Value(j),
				High:   col(colHigh).Value(j),
				Low:    col(colLow).Value(j),
				Close:  col(colClose).Value(j),
				Volume: col(colVolume).Value(j),
			}
			r := engine.IndicatorRow{
				EMAFast: nullable(col(colEMAFast), j),
				EMASlow: nullable(col(colEMASlow), j),
				RSI:     nullable(col(colRSI), j),
				ATR:     nullable(col(colATR), j),
				BBLower: nullable(col(colBBLower), j),
				BBMid:   nullable(col(colBBMid), j),
				BBUpper: nullable(col(colBBUpper), j),
			}
			bar := series.Len()
			if err := series.Append(c, r); err != nil {
				return nil, nil, fmt.Errorf("bar %d: %w", bar, err)
			}
			if eq := col(colEquity); !eq.IsNull(j) {
				equity = append(equity, engine.EquityPoint{Bar: bar, Time: c.Time, Equity: eq.Value(j), Margin: col(colMargin).Value(j)})
			}
		}
	}
	if err := reader.Err(); err != nil {
		return nil, nil, fmt.Errorf("read Arrow stream: %w", err)
	}
	return series, equity, nil
}

func nullable(a *array.Float64, j int) float64 {
	if a.IsNull(j) {
		return math.NaN()
	}
	return a.Value(j)
}
