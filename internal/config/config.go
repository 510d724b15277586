// Package config defines all configuration for the trading core. Config is
// loaded from a YAML file with env var overrides layered on top (env vars >
// file). This package applies no CLI flag layer and sets no defaults; the
// only value filled in when absent is trading.mark_price_source, which
// Validate sets to "mid". Env vars use the ZIGQUANT_<SECTION>_<FIELD> convention; array
// sections (exchanges[]) are additionally overridable by either index
// (ZIGQUANT_EXCHANGES_0_APIKEY) or name (ZIGQUANT_EXCHANGES_HYPERLIQUID_APIKEY).
package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration tree. Maps directly onto the YAML
// file structure described in spec.md §6.
type Config struct {
	DryRun    bool             `mapstructure:"dry_run"`
	Server    ServerConfig     `mapstructure:"server"`
	Exchanges []ExchangeConfig `mapstructure:"exchanges"`
	Trading   TradingConfig    `mapstructure:"trading"`
	Strategy  StrategyConfig   `mapstructure:"strategy"`
	Risk      RiskConfig       `mapstructure:"risk"`
	Backtest  BacktestConfig   `mapstructure:"backtest"`
	Store     StoreConfig      `mapstructure:"store"`
	Logging   LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig holds the ambient process-level knobs (out-of-scope HTTP/TUI
// surfaces mount on top of these, but the core itself never listens).
type ServerConfig struct {
	MetricsEnabled bool   `mapstructure:"metrics_enabled"`
	MetricsAddr    string `mapstructure:"metrics_addr"`
}

// ExchangeConfig is one venue credential entry. Name is the venue key
// ("hyperliquid") used for name-form env overrides and for selecting the
// adapter implementation.
type ExchangeConfig struct {
	Name          string `mapstructure:"name"`
	APIKey        string `mapstructure:"api_key"`
	APISecret     string `mapstructure:"api_secret"`
	Testnet       bool   `mapstructure:"testnet"`
	RESTBaseURL   string `mapstructure:"rest_base_url"`
	WSURL         string `mapstructure:"ws_url"`
	PrivateKey    string `mapstructure:"private_key"`
	VaultAddress  string `mapstructure:"vault_address"`
	ChainID       int    `mapstructure:"chain_id"`
	SignatureType int    `mapstructure:"signature_type"`
}

// TradingConfig selects what is traded and how PnL is marked.
//
//   - MarkPriceSource resolves Open Question 3: "last_trade" | "mid" | "mark_feed".
type TradingConfig struct {
	Symbols           []string `mapstructure:"symbols"`
	MarkPriceSource   string   `mapstructure:"mark_price_source"`
	DailyResetUTCHour int      `mapstructure:"daily_reset_utc_hour"`
}

// StrategyConfig tunes the reference Avellaneda-Stoikov market maker and its
// hot-reload behavior (spec.md §4.8).
//
//   - Gamma: risk aversion. Higher = tighter spread, less inventory risk.
//   - Sigma: estimated price volatility (annualized std dev).
//   - K: order arrival rate; higher K = more aggressive quotes.
//   - T: time horizon in years.
//   - OrderQuantity: base order size per quote, in the symbol's base asset.
//   - ReloadPath: params file watched for hot-reload through fsnotify change
//     notifications; empty disables it.
//   - ReloadInterval: handed to the strategy runtime, which does not use it:
//     the file is not stat-polled, and no default is set.
type StrategyConfig struct {
	Gamma            float64       `mapstructure:"gamma"`
	Sigma            float64       `mapstructure:"sigma"`
	K                float64       `mapstructure:"k"`
	T                float64       `mapstructure:"t"`
	DefaultSpreadBps int           `mapstructure:"default_spread_bps"`
	OrderQuantity    float64       `mapstructure:"order_quantity"`
	RefreshInterval  time.Duration `mapstructure:"refresh_interval"`
	StaleBookTimeout time.Duration `mapstructure:"stale_book_timeout"`

	ReloadPath     string        `mapstructure:"reload_path"`
	ReloadInterval time.Duration `mapstructure:"reload_interval"`

	FlowWindow              time.Duration `mapstructure:"flow_window"`
	FlowToxicityThreshold   float64       `mapstructure:"flow_toxicity_threshold"`
	FlowCooldownPeriod      time.Duration `mapstructure:"flow_cooldown_period"`
	FlowMaxSpreadMultiplier float64       `mapstructure:"flow_max_spread_multiplier"`
}

// RiskConfig parameterizes the check chain and kill switch of spec.md §4.7.
type RiskConfig struct {
	MaxPositionSize      float64       `mapstructure:"max_position_size"`
	MaxPositionPerSymbol float64       `mapstructure:"max_position_per_symbol"`
	MaxLeverage          float64       `mapstructure:"max_leverage"`
	MaxDailyLoss         float64       `mapstructure:"max_daily_loss"`
	MaxDailyLossPct      float64       `mapstructure:"max_daily_loss_pct"`
	MaxOrdersPerMinute   int           `mapstructure:"max_orders_per_minute"`

	// KillSwitchThreshold, ConsecutiveLossLimit and MinEquity are the
	// automatic trigger conditions checked after each fill/account update.
	KillSwitchThreshold   float64       `mapstructure:"kill_switch_threshold"`
	ConsecutiveLossLimit  int           `mapstructure:"consecutive_loss_limit"`
	MinEquity             float64       `mapstructure:"min_equity"`
	CooldownAfterKill     time.Duration `mapstructure:"cooldown_after_kill"`

	// ClosePositionsOnKillSwitch resolves Open Question 2: default false
	// (cancel open orders only); set true to also flatten positions.
	ClosePositionsOnKillSwitch bool `mapstructure:"close_positions_on_kill_switch"`
}

// LatencyModelConfig configures one of the Constant/Normal/Interpolated
// sampling variants of spec.md §4.10.
type LatencyModelConfig struct {
	Kind    string    `mapstructure:"kind"` // constant | normal | interpolated
	Value   float64   `mapstructure:"value_ms"`
	Mean    float64   `mapstructure:"mean_ms"`
	StdDev  float64   `mapstructure:"stddev_ms"`
	Min     float64   `mapstructure:"min_ms"`
	Max     float64   `mapstructure:"max_ms"`
	Samples []float64 `mapstructure:"samples_ms"`
}

// BacktestConfig drives the event-scheduled replay engine of spec.md §4.10.
type BacktestConfig struct {
	Seed             int64               `mapstructure:"seed"`
	FeedLatency      LatencyModelConfig  `mapstructure:"feed_latency"`
	EntryLatency     LatencyModelConfig  `mapstructure:"entry_latency"`
	ProcessingLatency LatencyModelConfig `mapstructure:"processing_latency"`
	ResponseLatency  LatencyModelConfig  `mapstructure:"response_latency"`
	FillModel        string              `mapstructure:"fill_model"` // risk_averse|probability|power_law|logarithmic
	CommissionBps    float64             `mapstructure:"commission_bps"`
	SlippageBps      float64             `mapstructure:"slippage_bps"`
}

// StoreConfig sets where candle/position/backtest artifacts are persisted.
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// envPrefix is the ZIGQUANT_ convention of spec.md §6.
const envPrefix = "ZIGQUANT"

// Load reads config from a YAML file, then layers env var overrides on top
// (env vars > file). It builds its own viper instance, so no CLI flag can be
// bound to it and no flag layer is applied.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	// Open Question 1: applyEnvOverrides takes the allocator (*viper.Viper)
	// explicitly because exchanges[] env var names are composed dynamically
	// per entry, both by index and by exchange name.
	applyEnvOverrides(v, &cfg)

	return &cfg, nil
}

// applyEnvOverrides layers ZIGQUANT_EXCHANGES_<N>_<FIELD> and
// ZIGQUANT_EXCHANGES_<NAME>_<FIELD> env vars onto cfg.Exchanges, since
// viper's AutomaticEnv only binds scalar/struct paths it already knows about
// from the unmarshal target, not dynamically-indexed slice elements.
func applyEnvOverrides(v *viper.Viper, cfg *Config) {
	for i := range cfg.Exchanges {
		ex := &cfg.Exchanges[i]
		forms := []string{strconv.Itoa(i)}
		if ex.Name != "" {
			forms = append(forms, strings.ToUpper(ex.Name))
		}
		for _, form := range forms {
			// v prepends envPrefix itself (SetEnvPrefix), so keys omit it.
			overrideString(v, fmt.Sprintf("EXCHANGES_%s_APIKEY", form), &ex.APIKey)
			overrideString(v, fmt.Sprintf("EXCHANGES_%s_APISECRET", form), &ex.APISecret)
			overrideString(v, fmt.Sprintf("EXCHANGES_%s_PRIVATEKEY", form), &ex.PrivateKey)
			overrideString(v, fmt.Sprintf("EXCHANGES_%s_VAULTADDRESS", form), &ex.VaultAddress)
			overrideBool(v, fmt.Sprintf("EXCHANGES_%s_TESTNET", form), &ex.Testnet)
		}
	}
}

func overrideString(v *viper.Viper, key string, dst *string) {
	if val := v.GetString(key); val != "" {
		*dst = val
	}
}

func overrideBool(v *viper.Viper, key string, dst *bool) {
	if v.IsSet(key) {
		*dst = v.GetBool(key)
	}
}

// Validate checks required fields and value ranges. A non-nil error here is
// the config_invalid kind of spec.md §7: fatal, the process exits.
func (c *Config) Validate() error {
	if len(c.Exchanges) == 0 {
		return fmt.Errorf("config_invalid: at least one exchanges[] entry is required")
	}
	for i, ex := range c.Exchanges {
		if ex.Name == "" {
			return fmt.Errorf("config_invalid: exchanges[%d].name is required", i)
		}
		if ex.APIKey == "" && ex.PrivateKey == "" {
			return fmt.Errorf("config_invalid: exchanges[%d] needs api_key or private_key", i)
		}
	}
	if len(c.Trading.Symbols) == 0 {
		return fmt.Errorf("config_invalid: trading.symbols must be non-empty")
	}
	switch c.Trading.MarkPriceSource {
	case "", "mid":
		c.Trading.MarkPriceSource = "mid"
	case "last_trade", "mark_feed":
	default:
		return fmt.Errorf("config_invalid: trading.mark_price_source must be one of last_trade|mid|mark_feed")
	}
	if c.Strategy.Gamma <= 0 {
		return fmt.Errorf("config_invalid: strategy.gamma must be > 0")
	}
	if c.Strategy.OrderQuantity <= 0 {
		return fmt.Errorf("config_invalid: strategy.order_quantity must be > 0")
	}
	if c.Risk.MaxPositionSize <= 0 {
		return fmt.Errorf("config_invalid: risk.max_position_size must be > 0")
	}
	if c.Risk.MaxPositionPerSymbol <= 0 {
		return fmt.Errorf("config_invalid: risk.max_position_per_symbol must be > 0")
	}
	if c.Risk.MaxLeverage <= 0 {
		return fmt.Errorf("config_invalid: risk.max_leverage must be > 0")
	}
	if c.Risk.MaxOrdersPerMinute <= 0 {
		return fmt.Errorf("config_invalid: risk.max_orders_per_minute must be > 0")
	}
	return nil
}
