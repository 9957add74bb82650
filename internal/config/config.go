// Package config defines all configuration for the weather trader.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via WX_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"kalshi-weather-trader/pkg/types"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Mode     types.Mode      `mapstructure:"mode"`
	Bankroll float64         `mapstructure:"bankroll"`
	Risk     RiskConfig      `mapstructure:"risk"`
	Gates    GatesConfig     `mapstructure:"gates"`
	Strategy StrategyConfig  `mapstructure:"strategy"`
	Loop     LoopConfig      `mapstructure:"loop"`
	Weather  WeatherConfig   `mapstructure:"weather"`
	Exchange ExchangeConfig  `mapstructure:"exchange"`
	OMS      OMSConfig       `mapstructure:"oms"`
	Public   PublicConfig    `mapstructure:"public"`
	Database DatabaseConfig  `mapstructure:"database"`
	Logging  LoggingConfig   `mapstructure:"logging"`
}

// BankrollDec returns the bankroll as a decimal dollar amount.
func (c *Config) BankrollDec() decimal.Decimal {
	return decimal.NewFromFloat(c.Bankroll)
}

// RiskConfig sets the bankroll-denominated caps and breaker parameters.
// All caps are ratios in [0,1]; dollar limits are derived by the risk engine,
// never hardcoded inside it.
type RiskConfig struct {
	MaxTradeRiskPct       float64       `mapstructure:"max_trade_risk_pct"`
	MaxCityExposurePct    float64       `mapstructure:"max_city_exposure_pct"`
	MaxClusterExposurePct float64       `mapstructure:"max_cluster_exposure_pct"`
	MaxDailyLossPct       float64       `mapstructure:"max_daily_loss_pct"`
	MaxTradeContracts     int           `mapstructure:"max_trade_contracts"`
	RejectBurstCount      int           `mapstructure:"reject_burst_count"`
	RejectBurstWindow     time.Duration `mapstructure:"reject_burst_window"`
}

// GatesConfig tunes the pre-trade execution-quality filters.
type GatesConfig struct {
	SpreadMaxCents        int     `mapstructure:"spread_max_cents"`
	LiquidityMin          int64   `mapstructure:"liquidity_min"`
	MinLiquidityMultiple  float64 `mapstructure:"min_liquidity_multiple"`
	MinEdgeAfterCosts     float64 `mapstructure:"min_edge_after_costs"`
}

// StrategyConfig tunes the daily-high temperature model.
//
//   - MaxUncertainty: signals above this normalized uncertainty HOLD.
//   - DefaultStddevF: per-city fallback forecast standard deviation in °F
//     when the source provides no interval.
type StrategyConfig struct {
	MaxUncertainty float64 `mapstructure:"max_uncertainty"`
	DefaultStddevF float64 `mapstructure:"default_stddev_f"`
}

// LoopConfig controls cycle scheduling.
type LoopConfig struct {
	CycleInterval   time.Duration `mapstructure:"cycle_interval"`
	ErrorSleep      time.Duration `mapstructure:"error_sleep"`
	CycleBudget     time.Duration `mapstructure:"cycle_budget"`
	CityConcurrency int           `mapstructure:"city_concurrency"`
}

// WeatherConfig holds the forecast service endpoint and cache policy.
type WeatherConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	UserAgent      string        `mapstructure:"user_agent"`
	CacheTTL       time.Duration `mapstructure:"cache_ttl"`
	StaleCeiling   time.Duration `mapstructure:"stale_ceiling"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RatePerSec     float64       `mapstructure:"rate_per_sec"`
}

// ExchangeConfig holds exchange endpoints and credentials. The private key
// signs every authenticated request; it is never logged.
type ExchangeConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	PaperBaseURL   string        `mapstructure:"paper_base_url"`
	WSURL          string        `mapstructure:"ws_url"`
	APIKeyID       string        `mapstructure:"api_key_id"`
	PrivateKeyPath string        `mapstructure:"private_key_path"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	RatePerSec     float64       `mapstructure:"rate_per_sec"`
}

// EndpointFor returns the REST base URL for the given mode. SHADOW reads
// market data from the paper endpoint so signals see real quotes without
// any order path.
func (e ExchangeConfig) EndpointFor(mode types.Mode) string {
	if mode == types.ModeLive {
		return e.BaseURL
	}
	return e.PaperBaseURL
}

// OMSConfig bounds the cancel/replace policy.
type OMSConfig struct {
	RepriceInterval time.Duration `mapstructure:"reprice_interval"`
	MaxChaseCents   int           `mapstructure:"max_chase_cents"`
}

// PublicConfig controls the delayed public read model.
type PublicConfig struct {
	Delay      time.Duration `mapstructure:"delay"`
	ListenAddr string        `mapstructure:"listen_addr"`
	Enabled    bool          `mapstructure:"enabled"`
}

// DatabaseConfig sets where durable state lives.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: WX_EXCHANGE_API_KEY_ID, WX_EXCHANGE_PRIVATE_KEY_PATH.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("WX")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, types.E(types.KindConfig, fmt.Errorf("read config: %w", err))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, types.E(types.KindConfig, fmt.Errorf("unmarshal config: %w", err))
	}

	cfg.Mode = types.Mode(strings.ToUpper(string(cfg.Mode)))

	// Override sensitive fields from env
	if key := os.Getenv("WX_EXCHANGE_API_KEY_ID"); key != "" {
		cfg.Exchange.APIKeyID = key
	}
	if p := os.Getenv("WX_EXCHANGE_PRIVATE_KEY_PATH"); p != "" {
		cfg.Exchange.PrivateKeyPath = p
	}

	return &cfg, nil
}

// setDefaults installs the documented defaults so a minimal YAML file works.
func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "SHADOW")
	v.SetDefault("risk.max_trade_risk_pct", 0.02)
	v.SetDefault("risk.max_city_exposure_pct", 0.03)
	v.SetDefault("risk.max_cluster_exposure_pct", 0.05)
	v.SetDefault("risk.max_daily_loss_pct", 0.05)
	v.SetDefault("risk.max_trade_contracts", 95)
	v.SetDefault("risk.reject_burst_count", 5)
	v.SetDefault("risk.reject_burst_window", "15m")
	v.SetDefault("gates.spread_max_cents", 4)
	v.SetDefault("gates.liquidity_min", 500)
	v.SetDefault("gates.min_liquidity_multiple", 5.0)
	v.SetDefault("gates.min_edge_after_costs", 0.03)
	v.SetDefault("strategy.max_uncertainty", 0.30)
	v.SetDefault("strategy.default_stddev_f", 3.0)
	v.SetDefault("loop.cycle_interval", "60s")
	v.SetDefault("loop.error_sleep", "5s")
	v.SetDefault("loop.cycle_budget", "30s")
	v.SetDefault("loop.city_concurrency", 10)
	v.SetDefault("weather.base_url", "https://api.weather.gov")
	v.SetDefault("weather.cache_ttl", "5m")
	v.SetDefault("weather.stale_ceiling", "30m")
	v.SetDefault("weather.request_timeout", "10s")
	v.SetDefault("weather.rate_per_sec", 1.0)
	v.SetDefault("exchange.request_timeout", "10s")
	v.SetDefault("exchange.rate_per_sec", 10.0)
	v.SetDefault("oms.reprice_interval", "120s")
	v.SetDefault("oms.max_chase_cents", 5)
	v.SetDefault("public.delay", "1h")
	v.SetDefault("public.listen_addr", ":8090")
	v.SetDefault("public.enabled", true)
	v.SetDefault("database.path", "data/trader.db")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	switch c.Mode {
	case types.ModeShadow, types.ModePaper, types.ModeLive:
	default:
		return types.Ef(types.KindConfig, "mode must be one of SHADOW, PAPER, LIVE; got %q", c.Mode)
	}
	if c.Bankroll <= 0 {
		return types.Ef(types.KindConfig, "bankroll must be > 0")
	}
	for name, pct := range map[string]float64{
		"risk.max_trade_risk_pct":       c.Risk.MaxTradeRiskPct,
		"risk.max_city_exposure_pct":    c.Risk.MaxCityExposurePct,
		"risk.max_cluster_exposure_pct": c.Risk.MaxClusterExposurePct,
		"risk.max_daily_loss_pct":       c.Risk.MaxDailyLossPct,
	} {
		if pct <= 0 || pct > 1 {
			return types.Ef(types.KindConfig, "%s must be in (0, 1]; got %v", name, pct)
		}
	}
	if c.Risk.MaxTradeContracts <= 0 {
		return types.Ef(types.KindConfig, "risk.max_trade_contracts must be > 0")
	}
	if c.Gates.SpreadMaxCents < 1 {
		return types.Ef(types.KindConfig, "gates.spread_max_cents must be >= 1")
	}
	if c.Gates.MinEdgeAfterCosts < 0 {
		return types.Ef(types.KindConfig, "gates.min_edge_after_costs must be >= 0")
	}
	if c.Strategy.MaxUncertainty <= 0 || c.Strategy.MaxUncertainty > 1 {
		return types.Ef(types.KindConfig, "strategy.max_uncertainty must be in (0, 1]")
	}
	if c.Loop.CycleInterval < 10*time.Second {
		return types.Ef(types.KindConfig, "loop.cycle_interval must be >= 10s")
	}
	if c.Loop.CityConcurrency <= 0 {
		return types.Ef(types.KindConfig, "loop.city_concurrency must be > 0")
	}
	if c.Mode != types.ModeShadow {
		if c.Exchange.APIKeyID == "" || c.Exchange.PrivateKeyPath == "" {
			return types.Ef(types.KindConfig,
				"%s mode requires exchange.api_key_id and exchange.private_key_path (set WX_EXCHANGE_API_KEY_ID / WX_EXCHANGE_PRIVATE_KEY_PATH)", c.Mode)
		}
	}
	if c.Mode == types.ModeLive && c.Exchange.BaseURL == "" {
		return types.Ef(types.KindConfig, "LIVE mode requires exchange.base_url")
	}
	if c.Mode != types.ModeLive && c.Exchange.PaperBaseURL == "" {
		return types.Ef(types.KindConfig, "%s mode requires exchange.paper_base_url", c.Mode)
	}
	if c.Database.Path == "" {
		return types.Ef(types.KindConfig, "database.path is required")
	}
	return nil
}
