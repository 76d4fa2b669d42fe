// Package api exposes backtests and live decisions over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"emaband-backtest/services/engine"
	"emaband-backtest/services/feed"
	"emaband-backtest/services/indicators"
	"emaband-backtest/services/live"
	"emaband-backtest/services/store"
)

const Version = "1.2.0"

// RunStore persists finished runs.
type RunStore interface {
	Save(ctx context.Context, rec *store.RunRecord) error
	Get(ctx context.Context, id string) (*store.RunRecord, error)
	List(ctx context.Context, limit int) ([]store.RunRecord, error)
}

type Service struct {
	provider *indicators.Provider
	strategy engine.StrategyConfig
	decider  *live.Decider
	source   feed.Source
	runs     RunStore
	dropFlat bool
	logger   *zap.Logger
}

type Options struct {
	Provider *indicators.Provider
	Strategy engine.StrategyConfig
	Decider  *live.Decider
	// Source serves requests that name a symbol instead of sending candles. May be nil.
	Source   feed.Source
	Runs     RunStore
	DropFlat bool
	Logger   *zap.Logger
}

func NewService(o Options) (*Service, error) {
	if o.Provider == nil || o.Decider == nil || o.Runs == nil {
		return nil, errors.New("api: provider, decider and run store are required")
	}
	if err := o.Strategy.Validate(); err != nil {
		return nil, err
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return &Service{
		provider: o.Provider,
		strategy: o.Strategy,
		decider:  o.Decider,
		source:   o.Source,
		runs:     o.Runs,
		dropFlat: o.DropFlat,
		logger:   o.Logger,
	}, nil
}

func (s *Service) SetupRoutes(r *gin.Engine) {
	api := r.Group("/api/v1")
	{
		api.POST("/backtest", s.handleBacktest)
		api.GET("/backtest/:run_id", s.handleGetRun)
		api.GET("/backtests", s.handleListRuns)
		api.POST("/signal", s.handleSignal)
		api.GET("/health", s.handleHealth)
	}
}

// StrategyOverrides replaces individual default strategy parameters.
type StrategyOverrides struct {
	Lookback       *int                 `json:"lookback"`
	StopMultiple   *float64             `json:"stop_multiple"`
	RewardMultiple *float64             `json:"reward_multiple"`
	Size           *float64             `json:"size"`
	Cash           *float64             `json:"cash"`
	MarginRatio    *float64             `json:"margin_ratio"`
	TieBreak       *engine.TieBreak     `json:"tie_break"`
	MarginPolicy   *engine.MarginPolicy `json:"margin_policy"`
}

func (o *StrategyOverrides) apply(c engine.StrategyConfig) engine.StrategyConfig {
	if o == nil {
		return c
	}
	if o.Lookback != nil {
		c.Lookback = *o.Lookback
	}
	if o.StopMultiple != nil {
		c.StopMultiple = *o.StopMultiple
	}
	if o.RewardMultiple != nil {
		c.RewardMultiple = *o.RewardMultiple
	}
	if o.Size != nil {
		c.Size = *o.Size
	}
	if o.Cash != nil {
		c.Cash = *o.Cash
	}
	if o.MarginRatio != nil {
		c.MarginRatio = *o.MarginRatio
	}
	if o.TieBreak != nil {
		c.TieBreak = *o.TieBreak
	}
	if o.MarginPolicy != nil {
		c.MarginPolicy = *o.MarginPolicy
	}
	return c
}

type BacktestRequest struct {
	Symbol   string             `json:"symbol"`
	Interval string             `json:"interval"`
	From     time.Time          `json:"from"`
	To       time.Time          `json:"to"`
	Candles  []engine.Candle    `json:"candles"`
	Strategy *StrategyOverrides `json:"strategy"`
	Equity   bool               `json:"include_equity"`
}

type BacktestResponse struct {
	RunID    string               `json:"run_id"`
	Manifest engine.RunManifest   `json:"manifest"`
	Summary  engine.Summary       `json:"summary"`
	Trades   []engine.Trade       `json:"trades"`
	Events   []engine.Event       `json:"events"`
	Gaps     []int                `json:"gaps,omitempty"`
	Equity   []engine.EquityPoint `json:"equity,omitempty"`
}

func (s *Service) handleBacktest(c *gin.Context) {
	var req BacktestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx := c.Request.Context()
	runID := uuid.New().String()

	src := s.source
	if len(req.Candles) > 0 {
		src = feed.NewStaticSource(req.Candles, s.dropFlat)
	}
	if src == nil {
		s.fail(c, fmt.Errorf("no candles in request and no data source configured: %w", engine.ErrInvalidInput))
		return
	}
	candles, err := src.Load(ctx, feed.Query{Symbol: req.Symbol, Interval: req.Interval, From: req.From, To: req.To})
	if err != nil {
		s.fail(c, err)
		return
	}
	if len(candles) == 0 {
		s.fail(c, fmt.Errorf("no candles for %s %s: %w", req.Symbol, req.Interval, engine.ErrInvalidInput))
		return
	}

	series, err := s.provider.Build(candles)
	if err != nil {
		s.fail(c, err)
		return
	}
	bt, err := engine.NewBacktester(req.Strategy.apply(s.strategy), s.logger.With(zap.String("run_id", runID)))
	if err != nil {
		s.fail(c, err)
		return
	}
	res, err := bt.Run(series)
	if err != nil {
		s.fail(c, err)
		return
	}

	rec := &store.RunRecord{
		ID:       runID,
		Symbol:   req.Symbol,
		Interval: req.Interval,
		Manifest: res.Manifest,
		Summary:  res.Summary,
		Trades:   res.Trades,
	}
	if err := s.runs.Save(ctx, rec); err != nil {
		s.fail(c, err)
		return
	}

	resp := BacktestResponse{
		RunID:    runID,
		Manifest: res.Manifest,
		Summary:  res.Summary,
		Trades:   res.Trades,
		Events:   res.Events,
		Gaps:     res.Gaps,
	}
	if req.Equity {
		resp.Equity = res.Equity
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Service) handleGetRun(c *gin.Context) {
	rec, err := s.runs.Get(c.Request.Context(), c.Param("run_id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (s *Service) handleListRuns(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	runs, err := s.runs.List(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

type SignalRequest struct {
	Candles    []engine.Candle `json:"candles" binding:"required"`
	Quote      live.Quote      `json:"quote"`
	OpenTrades int             `json:"open_trades"`
}

func (s *Service) handleSignal(c *gin.Context) {
	var req SignalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	window, err := s.provider.Build(req.Candles)
	if err != nil {
		s.fail(c, err)
		return
	}
	dec, err := s.decider.Decide(window, req.Quote, req.OpenTrades)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, dec)
}

func (s *Service) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now().Unix(),
		"version":   Version,
		"engine":    engine.EngineVersion,
	})
}

// fail maps coded errors onto HTTP statuses.
func (s *Service) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := engine.Code(err)
	switch {
	case errors.Is(err, store.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case code == engine.ErrInvalidInput.Code:
		status = http.StatusBadRequest
	}
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	if code == "" {
		code = "INTERNAL"
	}
	c.JSON(status, gin.H{"error": err.Error(), "code": code})
}
