package engine

// Strategy parameters and the reproducibility manifest of a run

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
)

const EngineVersion = "emaband/1.2.0"

type StrategyConfig struct {
	Lookback       int          `json:"lookback"`
	StopMultiple   float64      `json:"stop_multiple"`
	RewardMultiple float64      `json:"reward_multiple"`
	Size           float64      `json:"size"`
	Cash           float64      `json:"cash"`
	MarginRatio    float64      `json:"margin_ratio"`
	TieBreak       TieBreak     `json:"tie_break"`
	MarginPolicy   MarginPolicy `json:"margin_policy"`
}

func DefaultStrategyConfig() StrategyConfig {
	return StrategyConfig{
		Lookback:       7,
		StopMultiple:   1.1,
		RewardMultiple: 1.5,
		Size:           3000,
		Cash:           250,
		MarginRatio:    1.0 / 30,
		TieBreak:       TieStopFirst,
		MarginPolicy:   MarginReport,
	}
}

func (c StrategyConfig) Validate() error {
	switch {
	case c.Lookback < 1:
		return fmt.Errorf("lookback %d < 1: %w", c.Lookback, ErrInvalidInput)
	case !Defined(c.StopMultiple) || c.StopMultiple <= 0:
		return fmt.Errorf("stop multiple %v: %w", c.StopMultiple, ErrInvalidInput)
	case !Defined(c.RewardMultiple) || c.RewardMultiple <= 0:
		return fmt.Errorf("reward multiple %v: %w", c.RewardMultiple, ErrInvalidInput)
	case !Defined(c.Size) || c.Size <= 0:
		return fmt.Errorf("size %v: %w", c.Size, ErrInvalidInput)
	case !Defined(c.Cash) || c.Cash <= 0:
		return fmt.Errorf("cash %v: %w", c.Cash, ErrInvalidInput)
	case !Defined(c.MarginRatio) || c.MarginRatio <= 0 || c.MarginRatio > 1:
		return fmt.Errorf("margin ratio %v outside (0,1]: %w", c.MarginRatio, ErrInvalidInput)
	}
	return nil
}

// Hash is a SHA-256 over the canonical JSON encoding.
func (c StrategyConfig) Hash() string {
	b, _ := json.Marshal(c)
	return fmt.Sprintf("%x", sha256.Sum256(b))
}

// RunManifest identifies the inputs of a run; equal inputs give equal manifests.
type RunManifest struct {
	ConfigHash      string `json:"config_hash"`
	DataChecksum    string `json:"data_checksum"`
	EngineVersion   string `json:"engine_version"`
	Bars            int    `json:"bars"`
	FirstTradingBar int    `json:"first_trading_bar"`
}
