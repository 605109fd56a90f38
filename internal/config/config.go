// Package config defines all configuration for the market-making core.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via MM_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file
// structure.
type Config struct {
	DryRun   bool           `mapstructure:"dry_run"`
	Venue    VenueConfig    `mapstructure:"venue"`
	Market   MarketConfig   `mapstructure:"market"`
	Quoter   QuoterConfig   `mapstructure:"quoter"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Timing   TimingConfig   `mapstructure:"timing"`
	TradeLog TradeLogConfig `mapstructure:"tradelog"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// VenueConfig holds connection details for the trading venue. ApiKey is
// the only credential the core needs; signing of venue-native auth
// schemes (e.g. wallet-based EIP-712) is an external collaborator's
// concern and out of scope here.
type VenueConfig struct {
	RESTBaseURL  string `mapstructure:"rest_base_url"`
	WSPriceURL   string `mapstructure:"ws_price_url"`
	WSBookURL    string `mapstructure:"ws_book_url"`
	WSAccountURL string `mapstructure:"ws_account_url"`
	ApiKey       string `mapstructure:"api_key"`
}

// MarketConfig identifies the single instrument this core quotes.
type MarketConfig struct {
	MarketID string `mapstructure:"market_id"`
	Symbol   string `mapstructure:"symbol"`
	TickSize string `mapstructure:"tick_size"`
	LotSize  string `mapstructure:"lot_size"`
}

// QuoterConfig tunes the enhanced quoter (spec.md §4.E inputs).
type QuoterConfig struct {
	BaseSpreadBps      float64 `mapstructure:"base_spread_bps"`
	MaxSpreadBps       float64 `mapstructure:"max_spread_bps"`
	VolMultiplier      float64 `mapstructure:"vol_multiplier"`
	SkewFactor         float64 `mapstructure:"skew_factor"`
	SizeReductionStart float64 `mapstructure:"size_reduction_start"`
	CloseThresholdUSD  float64 `mapstructure:"close_threshold_usd"`
	Levels             int     `mapstructure:"levels"`
	LevelSpacingBps    float64 `mapstructure:"level_spacing_bps"`
	MomentumPenaltyBps float64 `mapstructure:"momentum_penalty_bps"`
	MinSkewBps         float64 `mapstructure:"min_skew_bps"`
	OrderSizeUSD       float64 `mapstructure:"order_size_usd"`
	MakerFeeBps        float64 `mapstructure:"maker_fee_bps"`

	VolatilityWindowSeconds int `mapstructure:"volatility_window_seconds"`
	VolatilityMinSamples    int `mapstructure:"volatility_min_samples"`
	MomentumPeriodSeconds   int `mapstructure:"momentum_period_seconds"`
	MomentumStrongBps       float64 `mapstructure:"momentum_strong_bps"`
}

// RiskConfig sets the three halt thresholds (spec.md §4.D).
type RiskConfig struct {
	MaxDrawdownUSD    float64 `mapstructure:"max_drawdown_usd"`
	MaxPositionUSD    float64 `mapstructure:"max_position_usd"`
	DailyLossLimitUSD float64 `mapstructure:"daily_loss_limit_usd"`
}

// TimingConfig is the set of timing knobs called out in spec.md §9
// ("Configuration" bullet): warmup, throttling, sync intervals, and the
// fair-price estimator window.
type TimingConfig struct {
	WarmupSeconds          int           `mapstructure:"warmup_seconds"`
	UpdateThrottle         time.Duration `mapstructure:"update_throttle"`
	OrderSyncInterval      time.Duration `mapstructure:"order_sync_interval"`
	StatusInterval         time.Duration `mapstructure:"status_interval"`
	FairPriceWindow        time.Duration `mapstructure:"fair_price_window"`
	FairPriceMinSamples    int           `mapstructure:"fair_price_min_samples"`
	PositionSyncInterval   time.Duration `mapstructure:"position_sync_interval"`
	RepriceThresholdBps    float64       `mapstructure:"reprice_threshold_bps"`
}

// TradeLogConfig controls the append-only JSONL trade/snapshot recorder.
type TradeLogConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig controls the Prometheus HTTP endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Load reads config from a YAML file with env var overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("MM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("MM_API_KEY"); key != "" {
		cfg.Venue.ApiKey = key
	}
	if os.Getenv("MM_DRY_RUN") == "true" || os.Getenv("MM_DRY_RUN") == "1" {
		cfg.DryRun = true
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.Venue.RESTBaseURL == "" {
		return fmt.Errorf("venue.rest_base_url is required")
	}
	if c.Venue.ApiKey == "" {
		return fmt.Errorf("venue.api_key is required (set MM_API_KEY)")
	}
	if c.Market.MarketID == "" {
		return fmt.Errorf("market.market_id is required")
	}
	if c.Quoter.OrderSizeUSD <= 0 {
		return fmt.Errorf("quoter.order_size_usd must be > 0")
	}
	switch c.Quoter.Levels {
	case 1, 2, 3:
	default:
		return fmt.Errorf("quoter.levels must be 1, 2, or 3")
	}
	if c.Risk.MaxDrawdownUSD <= 0 {
		return fmt.Errorf("risk.max_drawdown_usd must be > 0")
	}
	if c.Risk.MaxPositionUSD <= 0 {
		return fmt.Errorf("risk.max_position_usd must be > 0")
	}
	if c.Risk.DailyLossLimitUSD <= 0 {
		return fmt.Errorf("risk.daily_loss_limit_usd must be > 0")
	}
	if c.Timing.UpdateThrottle <= 0 {
		return fmt.Errorf("timing.update_throttle must be > 0")
	}
	return nil
}
