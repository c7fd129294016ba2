package risk

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// maxCooldownSecs is the largest cooldown that fits a time.Duration.
const maxCooldownSecs = int64(math.MaxInt64 / time.Second)

// DefaultReservationTimeout bounds how long an approved trade may stay
// unresolved before its hold is released.
const DefaultReservationTimeout = 2 * time.Minute

// RiskConfig holds the per-user limits and the file locations of the
// guardrail. Zero decimal limits are rejected by Validate; use a large value
// to effectively disable one.
type RiskConfig struct {
	MaxSingleTradeUSD  decimal.Decimal `yaml:"max_single_trade_usd"`
	MaxDailyVolumeUSD  decimal.Decimal `yaml:"max_daily_volume_usd"`
	MaxSlippagePercent decimal.Decimal `yaml:"max_slippage_percent"`
	MinLiquidityUSD    decimal.Decimal `yaml:"min_liquidity_usd"`
	EnableRugDetection bool            `yaml:"enable_rug_detection"`
	TradeCooldownSecs  int64           `yaml:"trade_cooldown_secs"`

	// RequireLiquidityData denies trades that carry no liquidity figure.
	RequireLiquidityData bool          `yaml:"require_liquidity_data"`
	TokenBlacklist       []string      `yaml:"token_blacklist"`
	ReservationTimeout   time.Duration `yaml:"reservation_timeout"`

	StatePath      string `yaml:"state_path"`
	JournalPath    string `yaml:"journal_path"`
	KillSwitchPath string `yaml:"kill_switch_path"`
}

// DefaultConfig returns conservative limits with state under ~/.tradeguard.
func DefaultConfig() *RiskConfig {
	dir := DefaultDir()
	return &RiskConfig{
		MaxSingleTradeUSD:  decimal.NewFromInt(10000),
		MaxDailyVolumeUSD:  decimal.NewFromInt(50000),
		MaxSlippagePercent: decimal.NewFromInt(5),
		MinLiquidityUSD:    decimal.NewFromInt(100000),
		EnableRugDetection: true,
		TradeCooldownSecs:  5,
		ReservationTimeout: DefaultReservationTimeout,
		StatePath:          filepath.Join(dir, "risk_state.json"),
		JournalPath:        filepath.Join(dir, "journal.jsonl"),
		KillSwitchPath:     filepath.Join(dir, "STOP"),
	}
}

// DefaultDir returns ~/.tradeguard, or .tradeguard when no home is known.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".tradeguard"
	}
	return filepath.Join(home, ".tradeguard")
}

// DefaultConfigPath returns ~/.tradeguard/risk.yaml.
func DefaultConfigPath() string {
	return filepath.Join(DefaultDir(), "risk.yaml")
}

// LoadConfig loads risk configuration from a YAML file.
// Empty path falls back to ~/.tradeguard/risk.yaml.
// Missing file returns defaults. Invalid YAML or invalid values return an error.
func LoadConfig(path string) (*RiskConfig, error) {
	if path == "" {
		path = DefaultConfigPath()
	}

	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read risk config: %w", err)
		}
		return cfg, cfg.Validate()
	}

	// YAML overwrites only the fields it names
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse risk config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Marshal renders cfg as YAML.
func (c *RiskConfig) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate reports every malformed field. Each joined error is a *ConfigError.
func (c *RiskConfig) Validate() error {
	var errs []error
	bad := func(field, format string, args ...any) {
		errs = append(errs, &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)})
	}

	if !c.MaxSingleTradeUSD.IsPositive() {
		bad("max_single_trade_usd", "must be positive, got %s", c.MaxSingleTradeUSD)
	}
	if !c.MaxDailyVolumeUSD.IsPositive() {
		bad("max_daily_volume_usd", "must be positive, got %s", c.MaxDailyVolumeUSD)
	}
	if c.MaxSlippagePercent.IsNegative() || c.MaxSlippagePercent.GreaterThan(decimal.NewFromInt(100)) {
		bad("max_slippage_percent", "must be within [0, 100], got %s", c.MaxSlippagePercent)
	}
	if c.MinLiquidityUSD.IsNegative() {
		bad("min_liquidity_usd", "must not be negative, got %s", c.MinLiquidityUSD)
	}
	switch {
	case c.TradeCooldownSecs < 0:
		bad("trade_cooldown_secs", "must not be negative, got %d", c.TradeCooldownSecs)
	case c.TradeCooldownSecs > maxCooldownSecs:
		bad("trade_cooldown_secs", "must be at most %d, got %d", maxCooldownSecs, c.TradeCooldownSecs)
	}
	if c.ReservationTimeout <= 0 {
		bad("reservation_timeout", "must be positive, got %s", c.ReservationTimeout)
	}
	if c.StatePath == "" {
		bad("state_path", "is required")
	}
	return errors.Join(errs...)
}

// Cooldown returns TradeCooldownSecs as a duration.
func (c *RiskConfig) Cooldown() time.Duration {
	return time.Duration(c.TradeCooldownSecs) * time.Second
}
