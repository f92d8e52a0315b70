// Package config loads the bot's runtime configuration from environment
// variables (and, optionally, a YAML file) via github.com/spf13/viper,
// following the teacher repo's declared-but-unwired viper dependency — here
// it is actually wired up.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/atlas-desktop/trading-backend/internal/boterrors"
	"github.com/atlas-desktop/trading-backend/pkg/types"
)

// Config is the root configuration for a bot process, covering the CLI,
// risk limits, analyzer weights and persistence targets described across
// spec.md sections 4, 6 and 7.
type Config struct {
	// Process / CLI
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	LogLevel     string `mapstructure:"log_level"`
	LogDir       string `mapstructure:"log_dir"`
	DataDir      string `mapstructure:"data_dir"`
	ReportDir    string `mapstructure:"report_dir"`
	PaperTrading bool   `mapstructure:"paper_trading"`

	// External endpoints
	EventSourceURL string `mapstructure:"event_source_url"`
	QuoteURL       string `mapstructure:"quote_url"`
	SubmitURL      string `mapstructure:"submit_url"`
	DatabaseDSN    string `mapstructure:"database_dsn"`
	RedisAddr      string `mapstructure:"redis_addr"`
	WalletKeys     []string `mapstructure:"wallet_keys"`

	// Capital / risk (spec.md 4.8)
	StartingCapitalSOL   float64 `mapstructure:"starting_capital_sol"`
	MaxPositionSOL       float64 `mapstructure:"max_position_sol"`
	MaxTotalExposureSOL  float64 `mapstructure:"max_total_exposure_sol"`
	MaxConcurrentPositions int   `mapstructure:"max_concurrent_positions"`
	MaxTradeFractionOfCapital float64 `mapstructure:"max_trade_fraction_of_capital"`
	MaxDailyLossPct      float64 `mapstructure:"max_daily_loss_pct"`
	MaxSlippageBps       int     `mapstructure:"max_slippage_bps"`
	MinReserveSOL        float64 `mapstructure:"min_reserve_sol"`

	// Momentum aggregator weights (spec.md 4.6)
	WeightVolume    float64 `mapstructure:"weight_volume"`
	WeightHolders   float64 `mapstructure:"weight_holders"`
	WeightLiquidity float64 `mapstructure:"weight_liquidity"`
	WeightSafety    float64 `mapstructure:"weight_safety"`
	TimeDecayEnabled bool   `mapstructure:"time_decay_enabled"`
	TimeDecayHalfLife time.Duration `mapstructure:"time_decay_half_life"`

	// Safety gate
	MinSafetyScore float64 `mapstructure:"min_safety_score"`

	// Executor (spec.md 4.10)
	MaxRetries           int           `mapstructure:"max_retries"`
	RetryBaseDelay       time.Duration `mapstructure:"retry_base_delay"`
	ConfirmationTimeout  time.Duration `mapstructure:"confirmation_timeout"`
	QuoteTTL             time.Duration `mapstructure:"quote_ttl"`
	MaxPriorityFeeLamports uint64      `mapstructure:"max_priority_fee_lamports"`
	PriceImpactBufferPct float64       `mapstructure:"price_impact_buffer_pct"`

	// Rankings
	RankingsTopN int `mapstructure:"rankings_top_n"`
}

// Default returns production-shaped defaults; paper trading is on by
// default per spec.md section 6.
func Default() *Config {
	return &Config{
		Host:         "localhost",
		Port:         8090,
		LogLevel:     "info",
		LogDir:       "./logs",
		DataDir:      "./data",
		ReportDir:    "./reports",
		PaperTrading: true,

		EventSourceURL: "wss://pumpportal.fun/api/data",
		QuoteURL:       "https://quote-api.example/v1",
		SubmitURL:      "https://bundle-api.example/v1",
		DatabaseDSN:    "bot.sqlite",

		StartingCapitalSOL:        10,
		MaxPositionSOL:            1,
		MaxTotalExposureSOL:       5,
		MaxConcurrentPositions:    5,
		MaxTradeFractionOfCapital: 0.1,
		MaxDailyLossPct:           10,
		MaxSlippageBps:            500,
		MinReserveSOL:             0.2,

		WeightVolume:      0.25,
		WeightHolders:      0.20,
		WeightLiquidity:    0.30,
		WeightSafety:       0.25,
		TimeDecayEnabled:   true,
		TimeDecayHalfLife:  5 * time.Minute,

		MinSafetyScore: 40,

		MaxRetries:             3,
		RetryBaseDelay:         2 * time.Second,
		ConfirmationTimeout:    60 * time.Second,
		QuoteTTL:               10 * time.Second,
		MaxPriorityFeeLamports: 5_000_000,
		PriceImpactBufferPct:   0.5,

		RankingsTopN: 20,
	}
}

// Load reads a .env file (if present), binds BOT_-prefixed environment
// variables over an optional YAML config file, and returns the merged
// Config. Missing/invalid required fields are a boterrors.KindConfiguration
// error, fatal at startup only (spec.md section 7).
func Load(yamlPath string) (*Config, error) {
	_ = godotenv.Load() // best effort; absence is not an error

	v := viper.New()
	v.SetEnvPrefix("BOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal defaults: %w", err)
	}

	if yamlPath != "" {
		v.SetConfigFile(yamlPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", yamlPath, err)
		}
		if err := v.Unmarshal(cfg); err != nil {
			return nil, fmt.Errorf("config: unmarshal %s: %w", yamlPath, err)
		}
	}

	overlayEnv(v, cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// overlayEnv re-applies BOT_* environment variables after the YAML layer so
// env always wins, matching the CLI's documented precedence.
func overlayEnv(v *viper.Viper, cfg *Config) {
	str := func(key string, dst *string) {
		if v.IsSet(key) {
			*dst = v.GetString(key)
		}
	}
	b := func(key string, dst *bool) {
		if v.IsSet(key) {
			*dst = v.GetBool(key)
		}
	}
	f := func(key string, dst *float64) {
		if v.IsSet(key) {
			*dst = v.GetFloat64(key)
		}
	}
	i := func(key string, dst *int) {
		if v.IsSet(key) {
			*dst = v.GetInt(key)
		}
	}
	d := func(key string, dst *time.Duration) {
		if v.IsSet(key) {
			*dst = v.GetDuration(key)
		}
	}

	str("host", &cfg.Host)
	i("port", &cfg.Port)
	str("log_level", &cfg.LogLevel)
	str("log_dir", &cfg.LogDir)
	str("data_dir", &cfg.DataDir)
	str("report_dir", &cfg.ReportDir)
	b("paper_trading", &cfg.PaperTrading)
	str("event_source_url", &cfg.EventSourceURL)
	str("quote_url", &cfg.QuoteURL)
	str("submit_url", &cfg.SubmitURL)
	str("database_dsn", &cfg.DatabaseDSN)
	str("redis_addr", &cfg.RedisAddr)
	if v.IsSet("wallet_keys") {
		cfg.WalletKeys = strings.Split(v.GetString("wallet_keys"), ",")
	}
	f("starting_capital_sol", &cfg.StartingCapitalSOL)
	f("max_position_sol", &cfg.MaxPositionSOL)
	f("max_total_exposure_sol", &cfg.MaxTotalExposureSOL)
	i("max_concurrent_positions", &cfg.MaxConcurrentPositions)
	f("max_trade_fraction_of_capital", &cfg.MaxTradeFractionOfCapital)
	f("max_daily_loss_pct", &cfg.MaxDailyLossPct)
	i("max_slippage_bps", &cfg.MaxSlippageBps)
	f("min_reserve_sol", &cfg.MinReserveSOL)
	f("weight_volume", &cfg.WeightVolume)
	f("weight_holders", &cfg.WeightHolders)
	f("weight_liquidity", &cfg.WeightLiquidity)
	f("weight_safety", &cfg.WeightSafety)
	b("time_decay_enabled", &cfg.TimeDecayEnabled)
	d("time_decay_half_life", &cfg.TimeDecayHalfLife)
	f("min_safety_score", &cfg.MinSafetyScore)
	i("max_retries", &cfg.MaxRetries)
	d("retry_base_delay", &cfg.RetryBaseDelay)
	d("confirmation_timeout", &cfg.ConfirmationTimeout)
	d("quote_ttl", &cfg.QuoteTTL)
	if v.IsSet("max_priority_fee_lamports") {
		cfg.MaxPriorityFeeLamports = v.GetUint64("max_priority_fee_lamports")
	}
	f("price_impact_buffer_pct", &cfg.PriceImpactBufferPct)
	i("rankings_top_n", &cfg.RankingsTopN)
}

// Validate checks required invariants, returning a boterrors-tagged error.
func (c *Config) Validate() error {
	if c.StartingCapitalSOL <= 0 {
		return boterrors.New(boterrors.KindConfiguration, "config: starting_capital_sol must be positive")
	}
	if c.MaxConcurrentPositions <= 0 {
		return boterrors.New(boterrors.KindConfiguration, "config: max_concurrent_positions must be positive")
	}
	sum := c.WeightVolume + c.WeightHolders + c.WeightLiquidity + c.WeightSafety
	if sum < 0.99 || sum > 1.01 {
		return boterrors.New(boterrors.KindConfiguration, fmt.Sprintf("config: analyzer weights must sum to 1.0, got %.3f", sum))
	}
	if !c.PaperTrading && len(c.WalletKeys) == 0 {
		return boterrors.New(boterrors.KindConfiguration, "config: live trading requires at least one wallet_keys entry")
	}
	return nil
}

// StartingCapital returns the starting capital in lamports.
func (c *Config) StartingCapital() types.Lamport {
	return types.LamportsFromSOL(c.StartingCapitalSOL)
}
