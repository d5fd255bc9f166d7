package risk

import (
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"tradekit/pkg/confkit"
)

// Config controls the risk gate: daily circuit breakers, loss-streak
// throttling and position sizing.
type Config struct {
	MaxDailyLossPercent   float64 `yaml:"max_daily_loss_percent"`
	MaxDailyProfitPercent float64 `yaml:"max_daily_profit_percent"`
	StopAfterLosses       int     `yaml:"stop_after_consecutive_losses"`

	// LossStreakMultipliers shrink position size while a losing streak is
	// active, keyed by streak length. The longest key at or below the
	// current streak applies.
	LossStreakMultipliers map[int]float64 `yaml:"loss_streak_multipliers"`

	Concurrent ConcurrentConfig `yaml:"concurrent_risk"`
	Sizing     SizingConfig     `yaml:"sizing"`
}

// ConcurrentConfig bounds simultaneous exposure across open positions.
type ConcurrentConfig struct {
	Enabled                 bool    `yaml:"enabled"`
	MaxPositions            int     `yaml:"max_positions"`
	MaxTotalExposurePercent float64 `yaml:"max_total_exposure_percent"`
}

// SizingConfig bounds the notional of a single entry.
type SizingConfig struct {
	MinPositionUSDT     float64 `yaml:"min_position_usdt"`
	MaxPositionUSDT     float64 `yaml:"max_position_usdt"`
	RiskPerTradePercent float64 `yaml:"risk_per_trade_percent"`
	MaxLeverage         int     `yaml:"max_leverage"`
}

// LoadConfig reads risk configuration from disk.
func LoadConfig(path string) (*Config, error) {
	confkit.LoadDotenvOnce()
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open risk config: %w", err)
	}
	defer file.Close()
	return LoadConfigFromReader(file)
}

// MustLoad reads risk configuration from the default project location and
// panics on error.
func MustLoad() *Config {
	path := confkit.MustProjectPath("etc/risk.yaml")
	cfg, err := LoadConfig(path)
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadConfigFromReader constructs a Config from a reader.
func LoadConfigFromReader(r io.Reader) (*Config, error) {
	confkit.LoadDotenvOnce()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read risk config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal risk config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// DefaultConfig returns conservative defaults suitable for tests and for
// running without an etc/risk.yaml.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.MaxDailyLossPercent <= 0 {
		c.MaxDailyLossPercent = 5.0
	}
	if c.MaxDailyProfitPercent <= 0 {
		c.MaxDailyProfitPercent = 10.0
	}
	if c.StopAfterLosses <= 0 {
		c.StopAfterLosses = 4
	}
	if len(c.LossStreakMultipliers) == 0 {
		c.LossStreakMultipliers = map[int]float64{2: 0.75, 3: 0.5}
	}
	if c.Concurrent.MaxPositions <= 0 {
		c.Concurrent.MaxPositions = 3
	}
	if c.Concurrent.MaxTotalExposurePercent <= 0 {
		c.Concurrent.MaxTotalExposurePercent = 30.0
	}
	if c.Sizing.MinPositionUSDT <= 0 {
		c.Sizing.MinPositionUSDT = 10.0
	}
	if c.Sizing.MaxPositionUSDT <= 0 {
		c.Sizing.MaxPositionUSDT = 1000.0
	}
	if c.Sizing.RiskPerTradePercent <= 0 {
		c.Sizing.RiskPerTradePercent = 2.0
	}
	if c.Sizing.MaxLeverage <= 0 {
		c.Sizing.MaxLeverage = 10
	}
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if c.Sizing.MinPositionUSDT > c.Sizing.MaxPositionUSDT {
		return fmt.Errorf("risk config: min_position_usdt %.2f exceeds max_position_usdt %.2f",
			c.Sizing.MinPositionUSDT, c.Sizing.MaxPositionUSDT)
	}
	if c.Sizing.RiskPerTradePercent > 100 {
		return fmt.Errorf("risk config: risk_per_trade_percent must be <= 100, got %.2f", c.Sizing.RiskPerTradePercent)
	}
	for streak, mult := range c.LossStreakMultipliers {
		if streak <= 0 {
			return fmt.Errorf("risk config: loss streak key must be positive, got %d", streak)
		}
		if mult <= 0 || mult > 1 {
			return fmt.Errorf("risk config: loss streak multiplier for %d must be in (0,1], got %.2f", streak, mult)
		}
	}
	return nil
}

// streakMultiplier returns the sizing multiplier for the current streak:
// the largest configured streak key not exceeding it, defaulting to 1.
func (c *Config) streakMultiplier(streak int) float64 {
	keys := make([]int, 0, len(c.LossStreakMultipliers))
	for k := range c.LossStreakMultipliers {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	mult := 1.0
	for _, k := range keys {
		if streak >= k {
			mult = c.LossStreakMultipliers[k]
		}
	}
	return mult
}
