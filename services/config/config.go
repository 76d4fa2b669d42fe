// Package config assembles runtime configuration from compiled defaults,
// optional .env files and BACKTEST_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"emaband-backtest/services/engine"
	"emaband-backtest/services/feed"
	"emaband-backtest/services/indicators"
	"emaband-backtest/services/live"
)

var ErrInvalidConfig = errors.New("invalid config")

const envPrefix = "BACKTEST"

type ServerConfig struct {
	HTTPPort        int
	GRPCPort        int
	ShutdownTimeout time.Duration
}

type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	TTL       time.Duration
	Namespace string
}

type StoreConfig struct {
	Path string
}

type FeedConfig struct {
	Symbol   string
	Interval string
	DropFlat bool
}

type Config struct {
	Environment string
	Server      ServerConfig
	Indicators  indicators.Params
	Strategy    engine.StrategyConfig
	Live        live.Config
	Feed        FeedConfig
	ClickHouse  feed.ClickHouseConfig
	Redis       RedisConfig
	Store       StoreConfig
}

func Default() *Config {
	return &Config{
		Environment: "dev",
		Server:      ServerConfig{HTTPPort: 8080, GRPCPort: 9090, ShutdownTimeout: 10 * time.Second},
		Indicators:  indicators.DefaultParams(),
		Strategy:    engine.DefaultStrategyConfig(),
		Live:        live.DefaultConfig(),
		Feed:        FeedConfig{Symbol: "EURUSD", Interval: "5m", DropFlat: true},
		ClickHouse: feed.ClickHouseConfig{
			Addr:        []string{"localhost:9000"},
			Database:    "default",
			Username:    "default",
			Table:       "candles",
			DialTimeout: 10 * time.Second,
		},
		Redis: RedisConfig{TTL: 10 * time.Minute, Namespace: "candles"},
		Store: StoreConfig{Path: "backtests.db"},
	}
}

// Load reads the given .env files (".env" when none) and applies BACKTEST_*
// variables over the defaults. Variables already set in the process win
// over file values. Missing files are skipped.
func Load(files ...string) (*Config, error) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.AutomaticEnv()
	setDefaults(v, Default())

	cfg := &Config{
		Environment: v.GetString("ENV"),
		Server: ServerConfig{
			HTTPPort:        v.GetInt("HTTP_PORT"),
			GRPCPort:        v.GetInt("GRPC_PORT"),
			ShutdownTimeout: v.GetDuration("SHUTDOWN_TIMEOUT"),
		},
		Indicators: indicators.Params{
			EMAFast:  v.GetInt("EMA_FAST"),
			EMASlow:  v.GetInt("EMA_SLOW"),
			RSI:      v.GetInt("RSI"),
			BBLength: v.GetInt("BB_LENGTH"),
			BBStd:    v.GetFloat64("BB_STD"),
			ATR:      v.GetInt("ATR"),
		},
		Strategy: engine.StrategyConfig{
			Lookback:       v.GetInt("LOOKBACK"),
			StopMultiple:   v.GetFloat64("STOP_MULTIPLE"),
			RewardMultiple: v.GetFloat64("REWARD_MULTIPLE"),
			Size:           v.GetFloat64("SIZE"),
			Cash:           v.GetFloat64("CASH"),
			MarginRatio:    v.GetFloat64("MARGIN_RATIO"),
		},
		Live: live.Config{
			Instrument: v.GetString("INSTRUMENT"),
			MaxSpread:  v.GetFloat64("MAX_SPREAD"),
			Window:     v.GetInt("LIVE_WINDOW"),
		},
		Feed: FeedConfig{
			Symbol:   v.GetString("SYMBOL"),
			Interval: v.GetString("INTERVAL"),
			DropFlat: v.GetBool("DROP_FLAT"),
		},
		ClickHouse: feed.ClickHouseConfig{
			Addr:        strings.Split(v.GetString("CLICKHOUSE_ADDR"), ","),
			Database:    v.GetString("CLICKHOUSE_DATABASE"),
			Username:    v.GetString("CLICKHOUSE_USER"),
			Password:    v.GetString("CLICKHOUSE_PASSWORD"),
			Table:       v.GetString("CLICKHOUSE_TABLE"),
			DialTimeout: v.GetDuration("CLICKHOUSE_DIAL_TIMEOUT"),
		},
		Redis: RedisConfig{
			Addr:      v.GetString("REDIS_ADDR"),
			Password:  v.GetString("REDIS_PASSWORD"),
			DB:        v.GetInt("REDIS_DB"),
			TTL:       v.GetDuration("REDIS_TTL"),
			Namespace: v.GetString("REDIS_NAMESPACE"),
		},
		Store: StoreConfig{Path: v.GetString("DB_PATH")},
	}

	var err error
	if cfg.Strategy.TieBreak, err = engine.ParseTieBreak(v.GetString("TIE_BREAK")); err != nil {
		return nil, fmt.Errorf("%w: %s_TIE_BREAK: %v", ErrInvalidConfig, envPrefix, err)
	}
	if cfg.Strategy.MarginPolicy, err = engine.ParseMarginPolicy(v.GetString("MARGIN_POLICY")); err != nil {
		return nil, fmt.Errorf("%w: %s_MARGIN_POLICY: %v", ErrInvalidConfig, envPrefix, err)
	}
	cfg.SyncLive()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can resolve it.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("ENV", d.Environment)

	v.SetDefault("HTTP_PORT", d.Server.HTTPPort)
	v.SetDefault("GRPC_PORT", d.Server.GRPCPort)
	v.SetDefault("SHUTDOWN_TIMEOUT", d.Server.ShutdownTimeout)

	v.SetDefault("EMA_FAST", d.Indicators.EMAFast)
	v.SetDefault("EMA_SLOW", d.Indicators.EMASlow)
	v.SetDefault("RSI", d.Indicators.RSI)
	v.SetDefault("BB_LENGTH", d.Indicators.BBLength)
	v.SetDefault("BB_STD", d.Indicators.BBStd)
	v.SetDefault("ATR", d.Indicators.ATR)

	v.SetDefault("LOOKBACK", d.Strategy.Lookback)
	v.SetDefault("STOP_MULTIPLE", d.Strategy.StopMultiple)
	v.SetDefault("REWARD_MULTIPLE", d.Strategy.RewardMultiple)
	v.SetDefault("SIZE", d.Strategy.Size)
	v.SetDefault("CASH", d.Strategy.Cash)
	v.SetDefault("MARGIN_RATIO", d.Strategy.MarginRatio)
	v.SetDefault("TIE_BREAK", d.Strategy.TieBreak.String())
	v.SetDefault("MARGIN_POLICY", d.Strategy.MarginPolicy.String())

	v.SetDefault("INSTRUMENT", d.Live.Instrument)
	v.SetDefault("MAX_SPREAD", d.Live.MaxSpread)
	v.SetDefault("LIVE_WINDOW", d.Live.Window)

	v.SetDefault("SYMBOL", d.Feed.Symbol)
	v.SetDefault("INTERVAL", d.Feed.Interval)
	v.SetDefault("DROP_FLAT", d.Feed.DropFlat)

	v.SetDefault("CLICKHOUSE_ADDR", strings.Join(d.ClickHouse.Addr, ","))
	v.SetDefault("CLICKHOUSE_DATABASE", d.ClickHouse.Database)
	v.SetDefault("CLICKHOUSE_USER", d.ClickHouse.Username)
	v.SetDefault("CLICKHOUSE_PASSWORD", d.ClickHouse.Password)
	v.SetDefault("CLICKHOUSE_TABLE", d.ClickHouse.Table)
	v.SetDefault("CLICKHOUSE_DIAL_TIMEOUT", d.ClickHouse.DialTimeout)

	v.SetDefault("REDIS_ADDR", d.Redis.Addr)
	v.SetDefault("REDIS_PASSWORD", d.Redis.Password)
	v.SetDefault("REDIS_DB", d.Redis.DB)
	v.SetDefault("REDIS_TTL", d.Redis.TTL)
	v.SetDefault("REDIS_NAMESPACE", d.Redis.Namespace)

	v.SetDefault("DB_PATH", d.Store.Path)
}

// SyncLive copies the shared strategy parameters into the live config.
func (c *Config) SyncLive() {
	c.Live.Lookback = c.Strategy.Lookback
	c.Live.StopMultiple = c.Strategy.StopMultiple
	c.Live.RewardMultiple = c.Strategy.RewardMultiple
	c.Live.Size = c.Strategy.Size
}

func (c *Config) Validate() error {
	if err := c.Indicators.Validate(); err != nil {
		return fmt.Errorf("%w: indicators: %v", ErrInvalidConfig, err)
	}
	if err := c.Strategy.Validate(); err != nil {
		return fmt.Errorf("%w: strategy: %v", ErrInvalidConfig, err)
	}
	if err := c.Live.Validate(); err != nil {
		return fmt.Errorf("%w: live: %v", ErrInvalidConfig, err)
	}
	if c.Server.HTTPPort <= 0 || c.Server.GRPCPort <= 0 {
		return fmt.Errorf("%w: ports %d/%d", ErrInvalidConfig, c.Server.HTTPPort, c.Server.GRPCPort)
	}
	if c.Server.ShutdownTimeout <= 0 || c.Redis.TTL <= 0 || c.ClickHouse.DialTimeout <= 0 {
		return fmt.Errorf("%w: timeouts must be positive", ErrInvalidConfig)
	}
	if c.Feed.Symbol == "" || c.Feed.Interval == "" {
		return fmt.Errorf("%w: feed symbol and interval are required", ErrInvalidConfig)
	}
	return nil
}
