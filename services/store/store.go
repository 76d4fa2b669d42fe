// Package store persists finished backtest runs and their trades through gorm.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"emaband-backtest/services/engine"
)

var ErrNotFound = errors.New("run not found")

type RunModel struct {
	ID              string         `gorm:"primaryKey;size:36"`
	CreatedAt       time.Time      `gorm:"index"`
	Symbol          string         `gorm:"size:32"`
	Interval        string         `gorm:"size:16"`
	ConfigHash      string         `gorm:"size:64;index"`
	DataChecksum    string         `gorm:"size:64"`
	EngineVersion   string         `gorm:"size:32"`
	Bars            int            `gorm:"not null"`
	FirstTradingBar int            `gorm:"not null"`
	TradeCount      int            `gorm:"not null"`
	TotalReturn     float64        `gorm:"not null"`
	Summary         engine.Summary `gorm:"serializer:json"`
	Trades          []TradeModel   `gorm:"foreignKey:RunID;constraint:OnDelete:CASCADE"`
}

func (RunModel) TableName() string { return "runs" }

type TradeModel struct {
	ID         uint   `gorm:"primaryKey"`
	RunID      string `gorm:"size:36;not null;index:trade_run_seq,priority:1"`
	Seq        int    `gorm:"not null;index:trade_run_seq,priority:2"`
	Side       string `gorm:"size:8;not null"`
	EntryBar   int
	EntryTime  time.Time
	EntryPrice float64
	ExitBar    int
	ExitTime   time.Time
	ExitPrice  float64
	StopLoss   float64
	TakeProfit float64
	Quantity   float64
	PnL        float64
	Reason     string `gorm:"size:16"`
}

func (TradeModel) TableName() string { return "run_trades" }

// RunRecord is a stored run as callers see it.
type RunRecord struct {
	ID        string             `json:"run_id"`
	CreatedAt time.Time          `json:"created_at"`
	Symbol    string             `json:"symbol,omitempty"`
	Interval  string             `json:"interval,omitempty"`
	Manifest  engine.RunManifest `json:"manifest"`
	Summary   engine.Summary     `json:"summary"`
	Trades    []engine.Trade     `json:"trades,omitempty"`
}

// Open opens (or creates) a sqlite database and migrates the schema.
func Open(path string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// sqlite allows one writer; each new connection to :memory: would be a fresh database.
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&RunModel{}, &TradeModel{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return db, nil
}

type RunRepository struct {
	db *gorm.DB
}

func NewRunRepository(db *gorm.DB) *RunRepository { return &RunRepository{db: db} }

// Save stores a run and its trades in one transaction. An empty ID gets a fresh UUID.
func (r *RunRepository) Save(ctx context.Context, rec *RunRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	m := toModel(*rec)
	if err := r.db.WithContext(ctx).Create(&m).Error; err != nil {
		return fmt.Errorf("save run %s: %w", rec.ID, err)
	}
	rec.CreatedAt = m.CreatedAt
	return nil
}

func (r *RunRepository) Get(ctx context.Context, id string) (*RunRecord, error) {
	var m RunModel
	err := r.db.WithContext(ctx).
		Preload("Trades", func(db *gorm.DB) *gorm.DB { return db.Order("seq ASC") }).
		First(&m, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	rec := fromModel(m)
	return &rec, nil
}

// List returns the newest runs first, without trades.
func (r *RunRepository) List(ctx context.Context, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var ms []RunModel
	if err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&ms).Error; err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	out := make([]RunRecord, 0, len(ms))
	for _, m := range ms {
		out = append(out, fromModel(m))
	}
	return out, nil
}

func (r *RunRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ?", id).Delete(&TradeModel{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&RunModel{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%s: %w", id, ErrNotFound)
		}
		return nil
	})
}

func toModel(rec RunRecord) RunModel {
	m := RunModel{
		ID:              rec.ID,
		Symbol:          rec.Symbol,
		Interval:        rec.Interval,
		ConfigHash:      rec.Manifest.ConfigHash,
		DataChecksum:    rec.Manifest.DataChecksum,
		EngineVersion:   rec.Manifest.EngineVersion,
		Bars:            rec.Manifest.Bars,
		FirstTradingBar: rec.Manifest.FirstTradingBar,
		TradeCount:      rec.Summary.TradeCount,
		TotalReturn:     rec.Summary.TotalReturn,
		Summary:         rec.Summary,
	}
	for i, t := range rec.Trades {
		m.Trades = append(m.Trades, TradeModel{
			RunID:      rec.ID,
			Seq:        i,
			Side:       t.Side.String(),
			EntryBar:   t.EntryBar,
			EntryTime:  t.EntryTime,
			EntryPrice: t.EntryPrice,
			ExitBar:    t.ExitBar,
			ExitTime:   t.ExitTime,
			ExitPrice:  t.ExitPrice,
			StopLoss:   t.StopLoss,
			TakeProfit: t.TakeProfit,
			Quantity:   t.Quantity,
			PnL:        t.PnL,
			Reason:     string(t.Reason),
		})
	}
	return m
}

func fromModel(m RunModel) RunRecord {
	rec := RunRecord{
		ID:        m.ID,
		CreatedAt: m.CreatedAt,
		Symbol:    m.Symbol,
		Interval:  m.Interval,
		Manifest: engine.RunManifest{
			ConfigHash:      m.ConfigHash,
			DataChecksum:    m.DataChecksum,
			EngineVersion:   m.EngineVersion,
			Bars:            m.Bars,
			FirstTradingBar: m.FirstTradingBar,
		},
		Summary: m.Summary,
	}
	for _, t := range m.Trades {
		var side engine.PositionSide
		_ = side.UnmarshalText([]byte(t.Side))
		rec.Trades = append(rec.Trades, engine.Trade{
			Side:       side,
			EntryBar:   t.EntryBar,
			EntryTime:  t.EntryTime,
			EntryPrice: t.EntryPrice,
			ExitBar:    t.ExitBar,
			ExitTime:   t.ExitTime,
			ExitPrice:  t.ExitPrice,
			StopLoss:   t.StopLoss,
			TakeProfit: t.TakeProfit,
			Quantity:   t.Quantity,
			PnL:        t.PnL,
			Reason:     engine.ExitReason(t.Reason),
		})
	}
	return rec
}
