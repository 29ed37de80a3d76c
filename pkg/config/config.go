// Package config loads and validates all application configuration. Values
// come from an optional YAML file merged under ESPORTS_ARB_* environment
// overrides, with a .env file preloaded when present.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// DefaultConfigFile is consulted when no --config flag is given. A missing
// default file is not an error; defaults and environment apply.
const DefaultConfigFile = "config.yaml"

// Config is the top-level configuration. Maps directly to the YAML file
// structure; every key can be overridden via an ESPORTS_ARB_* environment
// variable (e.g. ESPORTS_ARB_TRADING_PAIR_COST_CAP).
type Config struct {
	Bot       BotConfig       `mapstructure:"bot"`
	EventBus  EventBusConfig  `mapstructure:"event_bus"`
	Truth     TruthConfig     `mapstructure:"truth"`
	Trading   TradingConfig   `mapstructure:"trading"`
	Risk      RiskConfig      `mapstructure:"risk"`
	Execution ExecutionConfig `mapstructure:"execution"`
	Feeds     FeedsConfig     `mapstructure:"feeds"`
	Server    ServerConfig    `mapstructure:"server"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Catalog   CatalogConfig   `mapstructure:"catalog"`
	Exchange  ExchangeConfig  `mapstructure:"exchange"`
}

// BotConfig names the process and sets its log level.
type BotConfig struct {
	Name     string `mapstructure:"name"`
	LogLevel string `mapstructure:"log_level"`
}

// EventBusConfig tunes the partitioned event bus.
type EventBusConfig struct {
	MaxQueueSize     int    `mapstructure:"max_queue_size"`
	OverflowPolicy   string `mapstructure:"overflow_policy"` // drop, coalesce, block, halt
	HandlerTimeoutMs int64  `mapstructure:"handler_timeout_ms"`
	MaxRetryAttempts int    `mapstructure:"max_retry_attempts"`
	RetryBaseDelayMs int64  `mapstructure:"retry_base_delay_ms"`
}

// TruthConfig tunes match finalization.
type TruthConfig struct {
	ConfirmThreshold        float64  `mapstructure:"confirm_threshold"`
	MaxWaitMs               int64    `mapstructure:"max_wait_ms"`
	RequiredSourcesForFinal int      `mapstructure:"required_sources_for_final"`
	AllowedSkewMs           int64    `mapstructure:"allowed_skew_ms"`
	TierASources            []string `mapstructure:"tier_a_sources"`
	TierBSources            []string `mapstructure:"tier_b_sources"`
	TierCSources            []string `mapstructure:"tier_c_sources"`
}

// TradingConfig tunes the pair strategy and its circuit breaker.
type TradingConfig struct {
	IdleAfterNoOpportunityTicks int     `mapstructure:"idle_after_no_opportunity_ticks"`
	TemporalSignalTTLMs         int64   `mapstructure:"temporal_signal_ttl_ms"`
	PairCostCap                 float64 `mapstructure:"pair_cost_cap"`
	FeeRate                     float64 `mapstructure:"fee_rate"`
	StepUSDC                    float64 `mapstructure:"step_usdc"`
	MaxTotalCost                float64 `mapstructure:"max_total_cost"`
	MaxLegImbalanceUSDC         float64 `mapstructure:"max_leg_imbalance_usdc"`
	MaxConsecutiveRejects       int     `mapstructure:"max_consecutive_rejects"`
	MaxCancelFailures           int     `mapstructure:"max_cancel_failures"`
	LegSelectThresholdShares    float64 `mapstructure:"leg_select_threshold_shares"`
}

// RiskConfig sets the hard limits that publish a system halt when breached.
type RiskConfig struct {
	MaxDailyLoss         float64 `mapstructure:"max_daily_loss"`
	MaxPositionPerMarket float64 `mapstructure:"max_position_per_market"`
	MaxTotalExposure     float64 `mapstructure:"max_total_exposure"`
}

// ExecutionConfig selects paper or live order flow.
type ExecutionConfig struct {
	Mode                string `mapstructure:"mode"` // paper or live
	SettlementTimeoutMs int64  `mapstructure:"settlement_timeout_ms"`
}

// FeedsConfig tunes market-data adapters.
type FeedsConfig struct {
	BookUpdatesPerSec float64 `mapstructure:"book_updates_per_sec"`
	WSURL             string  `mapstructure:"ws_url"`
}

// ServerConfig configures the HTTP observability server.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// StorageConfig selects the recording sink.
type StorageConfig struct {
	Backend  string         `mapstructure:"backend"` // console or postgres
	Postgres PostgresConfig `mapstructure:"postgres"`
}

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// CatalogConfig locates the market-mapping file.
type CatalogConfig struct {
	MappingsFile string `mapstructure:"mappings_file"`
	CacheTTLMs   int64  `mapstructure:"cache_ttl_ms"`
}

// ExchangeConfig holds exchange API credentials. Usually supplied through the
// environment rather than the YAML file.
type ExchangeConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Secret     string `mapstructure:"secret"`
	Passphrase string `mapstructure:"passphrase"`
}

// HasCredentials reports whether a complete credential set is present.
func (e *ExchangeConfig) HasCredentials() bool {
	return e.APIKey != "" && e.Secret != "" && e.Passphrase != ""
}

// Load reads configuration from the YAML file at path with environment
// overrides. An empty path means DefaultConfigFile; only the default file may
// be absent.
func Load(path string) (*Config, error) {
	// Best effort; a missing .env is the normal case.
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("ESPORTS_ARB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path == "" {
		path = DefaultConfigFile
	}

	if _, err := os.Stat(path); err == nil {
		v.SetConfigFile(path)

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else if path != DefaultConfigFile {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("bot.name", "esports-arb")
	v.SetDefault("bot.log_level", "info")

	v.SetDefault("event_bus.max_queue_size", 1000)
	v.SetDefault("event_bus.overflow_policy", "drop")
	v.SetDefault("event_bus.handler_timeout_ms", 5000)
	v.SetDefault("event_bus.max_retry_attempts", 3)
	v.SetDefault("event_bus.retry_base_delay_ms", 100)

	v.SetDefault("truth.confirm_threshold", 0.90)
	v.SetDefault("truth.max_wait_ms", 10000)
	v.SetDefault("truth.required_sources_for_final", 2)
	v.SetDefault("truth.allowed_skew_ms", 2000)
	v.SetDefault("truth.tier_a_sources", []string{"grid", "official"})
	v.SetDefault("truth.tier_b_sources", []string{"pandascore", "opendota"})
	v.SetDefault("truth.tier_c_sources", []string{"liquipedia"})

	v.SetDefault("trading.idle_after_no_opportunity_ticks", 100)
	v.SetDefault("trading.temporal_signal_ttl_ms", 5000)
	v.SetDefault("trading.pair_cost_cap", 0.975)
	v.SetDefault("trading.fee_rate", 0.02)
	v.SetDefault("trading.step_usdc", 25.0)
	v.SetDefault("trading.max_total_cost", 1500.0)
	v.SetDefault("trading.max_leg_imbalance_usdc", 100.0)
	v.SetDefault("trading.max_consecutive_rejects", 3)
	v.SetDefault("trading.max_cancel_failures", 3)
	v.SetDefault("trading.leg_select_threshold_shares", 20.0)

	v.SetDefault("risk.max_daily_loss", 500.0)
	v.SetDefault("risk.max_position_per_market", 1500.0)
	v.SetDefault("risk.max_total_exposure", 5000.0)

	v.SetDefault("execution.mode", "paper")
	v.SetDefault("execution.settlement_timeout_ms", 60000)

	v.SetDefault("feeds.book_updates_per_sec", 10.0)
	v.SetDefault("feeds.ws_url", "")

	v.SetDefault("server.port", 8080)

	v.SetDefault("storage.backend", "console")
	v.SetDefault("storage.postgres.host", "localhost")
	v.SetDefault("storage.postgres.port", "5432")
	v.SetDefault("storage.postgres.user", "esports")
	v.SetDefault("storage.postgres.password", "esports123")
	v.SetDefault("storage.postgres.dbname", "esports_arb")
	v.SetDefault("storage.postgres.sslmode", "disable")

	v.SetDefault("catalog.mappings_file", "markets.yaml")
	v.SetDefault("catalog.cache_ttl_ms", 60000)

	v.SetDefault("exchange.api_key", "")
	v.SetDefault("exchange.secret", "")
	v.SetDefault("exchange.passphrase", "")
}

// Validate checks that configuration values are coherent. Any error here
// aborts startup regardless of mode.
func (c *Config) Validate() error {
	if c.EventBus.MaxQueueSize <= 0 {
		return fmt.Errorf("event_bus.max_queue_size must be positive, got %d", c.EventBus.MaxQueueSize)
	}

	switch c.EventBus.OverflowPolicy {
	case "drop", "coalesce", "block", "halt":
	default:
		return fmt.Errorf("event_bus.overflow_policy must be one of drop, coalesce, block, halt, got %q", c.EventBus.OverflowPolicy)
	}

	if c.EventBus.MaxRetryAttempts <= 0 {
		return fmt.Errorf("event_bus.max_retry_attempts must be positive, got %d", c.EventBus.MaxRetryAttempts)
	}

	if c.Trading.PairCostCap >= 1.0-c.Trading.FeeRate {
		return fmt.Errorf("trading.pair_cost_cap (%v) must be < 1 - fee_rate (%v)",
			c.Trading.PairCostCap, 1.0-c.Trading.FeeRate)
	}

	if c.Execution.Mode != "paper" && c.Execution.Mode != "live" {
		return fmt.Errorf("execution.mode must be 'paper' or 'live', got %q", c.Execution.Mode)
	}

	if c.Storage.Backend != "console" && c.Storage.Backend != "postgres" {
		return fmt.Errorf("storage.backend must be 'console' or 'postgres', got %q", c.Storage.Backend)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1..65535, got %d", c.Server.Port)
	}

	if c.Execution.Mode == "live" && !c.Exchange.HasCredentials() {
		return fmt.Errorf("exchange credentials required for live trading " +
			"(set ESPORTS_ARB_EXCHANGE_API_KEY, ESPORTS_ARB_EXCHANGE_SECRET, ESPORTS_ARB_EXCHANGE_PASSPHRASE)")
	}

	return nil
}

// Warnings lists degraded-but-runnable configuration. Paper mode logs these
// and continues.
func (c *Config) Warnings() []string {
	var warns []string

	if c.Execution.Mode == "paper" && !c.Exchange.HasCredentials() {
		warns = append(warns, "exchange credentials not set; only paper execution is available")
	}

	if c.Risk.MaxDailyLoss > 500 {
		warns = append(warns, fmt.Sprintf("high daily loss limit: %.0f", c.Risk.MaxDailyLoss))
	}

	if c.Risk.MaxTotalExposure > 10000 {
		warns = append(warns, fmt.Sprintf("high total exposure limit: %.0f", c.Risk.MaxTotalExposure))
	}

	if c.Execution.Mode == "live" && c.Storage.Backend == "console" {
		warns = append(warns, "console storage in live mode keeps no durable record")
	}

	return warns
}
