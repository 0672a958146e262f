// Package config defines the top-level configuration for the futures
// decision pipeline and provides validation helpers.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by PIVOX_* environment variables.
type Config struct {
	Symbols []string `toml:"symbols"`

	Exchange      ExchangeConfig      `toml:"exchange"`
	Timeframe     TimeframeConfig     `toml:"timeframe"`
	Zone          ZoneConfig          `toml:"zone"`
	Risk          RiskConfig          `toml:"risk"`
	Maker         MakerConfig         `toml:"maker"`
	FallbackTaker FallbackTakerConfig `toml:"fallback_taker"`
	TPSL          TPSLConfig          `toml:"tp_sl"`
	Guards        GuardsConfig        `toml:"guards"`

	Redis    RedisConfig    `toml:"redis"`
	Postgres PostgresConfig `toml:"postgres"`
	S3       S3Config       `toml:"s3"`
	Notify   NotifyConfig   `toml:"notify"`
	Metrics  MetricsConfig  `toml:"metrics"`

	Mode     string `toml:"mode"`
	LogLevel string `toml:"log_level"`
}

// ExchangeConfig holds the futures exchange endpoints and credentials.
type ExchangeConfig struct {
	BaseURL             string `toml:"base_url"`
	WsURL               string `toml:"ws_url"`
	ApiKey              string `toml:"api_key"`
	ApiSecret           string `toml:"api_secret"`
	EncryptedSecretPath string `toml:"encrypted_secret_path"`
	SecretPassword      string `toml:"secret_password"`
	RecvWindowMs        int    `toml:"recv_window_ms"`
}

// TimeframeConfig holds the execution-timeframe selector thresholds. The two
// volatility bounds must satisfy atr_pct_lo < atr_pct_hi.
type TimeframeConfig struct {
	AtrPctHi            float64 `toml:"atr_pct_hi"`
	AtrPctLo            float64 `toml:"atr_pct_lo"`
	SpreadWidenBps      float64 `toml:"spread_widen_bps"`
	RequireMTFAlignment bool    `toml:"require_mtf_alignment"`
}

// ZoneConfig holds the entry-zone geometry and quality-gate thresholds.
type ZoneConfig struct {
	KAtr               float64 `toml:"k_atr"`
	WMin               float64 `toml:"w_min"`
	WMax               float64 `toml:"w_max"`
	SpreadBpsMax       float64 `toml:"spread_bps_max"`
	DepthMinUSD        float64 `toml:"depth_min_usd"`
	MarkIndexGapBpsMax float64 `toml:"mark_index_gap_bps_max"`
}

// SymbolCap maps a symbol regex to a leverage cap. Patterns are evaluated in
// order; the first match wins.
type SymbolCap struct {
	Pattern string  `toml:"pattern"`
	Cap     float64 `toml:"cap"`
}

// ConvictionConfig scales leverage for high-conviction signals while keeping
// it inside a fraction of the exchange cap.
type ConvictionConfig struct {
	Multiplier       float64 `toml:"multiplier"`
	CapPctOfExchange float64 `toml:"cap_pct_of_exchange"`
}

// RiskConfig holds sizing and leverage parameters.
type RiskConfig struct {
	RiskPct              float64            `toml:"risk_pct"`
	SlMultAtr            float64            `toml:"sl_mult_atr"`
	BudgetUSDT           float64            `toml:"budget_usdt"`
	TimeframeMultipliers map[string]float64 `toml:"timeframe_multipliers"`
	Conviction           ConvictionConfig   `toml:"conviction"`
	PerSymbolCaps        []SymbolCap        `toml:"per_symbol_caps"`
	ExchangeCap          float64            `toml:"exchange_cap"`
}

// MakerConfig holds the maker-leg execution parameters.
type MakerConfig struct {
	Mode        string   `toml:"mode"`
	MakerOnly   bool     `toml:"maker_only"`
	FillTimeout duration `toml:"fill_timeout"`
}

// FallbackTakerConfig holds the taker fallback parameters.
type FallbackTakerConfig struct {
	Enable     bool    `toml:"enable"`
	MaxSlipBps float64 `toml:"max_slip_bps"`
}

// TPSLConfig controls how protective orders are attached.
type TPSLConfig struct {
	UsePositionTPSL bool `toml:"use_position_tp_sl"`
}

// GuardsConfig holds the six pre-execution guard thresholds.
type GuardsConfig struct {
	StaleTickerSec   float64 `toml:"stale_ticker_sec"`
	MaxSlipBps       float64 `toml:"max_slip_bps"`
	MinLiquidityUSD  float64 `toml:"min_liquidity_usd"`
	FundingCutoffMin float64 `toml:"funding_cutoff_min"`
	MaxFundingRate   float64 `toml:"max_funding_rate"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string   `toml:"addr"`
	Password   string   `toml:"password"`
	DB         int      `toml:"db"`
	PoolSize   int      `toml:"pool_size"`
	MaxRetries int      `toml:"max_retries"`
	TLSEnabled bool     `toml:"tls_enabled"`
	LockTTL    duration `toml:"lock_ttl"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// S3Config holds S3-compatible object storage parameters for evidence
// archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// MetricsConfig holds the prometheus endpoint parameters.
type MetricsConfig struct {
	Enabled bool `toml:"enabled"`
	Port    int  `toml:"port"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5s", "2m").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Symbols: []string{"BTCUSDT"},
		Exchange: ExchangeConfig{
			BaseURL:      "https://fapi.binance.com",
			WsURL:        "wss://fstream.binance.com/ws",
			RecvWindowMs: 5000,
		},
		Timeframe: TimeframeConfig{
			AtrPctHi:            0.004,
			AtrPctLo:            0.0015,
			SpreadWidenBps:      8,
			RequireMTFAlignment: true,
		},
		Zone: ZoneConfig{
			KAtr:               1.5,
			WMin:               0.001,
			WMax:               0.01,
			SpreadBpsMax:       5,
			DepthMinUSD:        20_000,
			MarkIndexGapBpsMax: 15,
		},
		Risk: RiskConfig{
			RiskPct:    0.005,
			SlMultAtr:  1.5,
			BudgetUSDT: 1_000,
			TimeframeMultipliers: map[string]float64{
				"fast":    0.8,
				"default": 1.0,
			},
			Conviction: ConvictionConfig{
				Multiplier:       1.25,
				CapPctOfExchange: 50,
			},
			PerSymbolCaps: []SymbolCap{
				{Pattern: "^(BTC|ETH)USDT$", Cap: 25},
				{Pattern: "USDT$", Cap: 10},
			},
			ExchangeCap: 125,
		},
		Maker: MakerConfig{
			Mode:        "split",
			MakerOnly:   true,
			FillTimeout: duration{5 * time.Second},
		},
		FallbackTaker: FallbackTakerConfig{
			Enable:     true,
			MaxSlipBps: 10,
		},
		TPSL: TPSLConfig{
			UsePositionTPSL: true,
		},
		Guards: GuardsConfig{
			StaleTickerSec:   2,
			MaxSlipBps:       10,
			MinLiquidityUSD:  10_000,
			FundingCutoffMin: 10,
			MaxFundingRate:   0.0015,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
			LockTTL:    duration{30 * time.Second},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "pivox-evidence",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Notify: NotifyConfig{
			Events: []string{"decision_open", "decision_failed"},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9100,
		},
		Mode:     "dry-run",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"live":    true,
	"dry-run": true,
	"once":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: live, dry-run, once)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}
	if len(c.Symbols) == 0 {
		errs = append(errs, "symbols: at least one symbol must be configured")
	}

	// Exchange: live trading needs credentials from one of the two sources.
	if strings.ToLower(c.Mode) == "live" {
		if c.Exchange.ApiKey == "" {
			errs = append(errs, "exchange: api_key is required for live mode")
		}
		if c.Exchange.ApiSecret == "" && c.Exchange.EncryptedSecretPath == "" {
			errs = append(errs, "exchange: either api_secret or encrypted_secret_path must be set for live mode")
		}
		if c.Exchange.EncryptedSecretPath != "" && c.Exchange.SecretPassword == "" {
			errs = append(errs, "exchange: secret_password is required when encrypted_secret_path is set")
		}
	}
	if c.Exchange.BaseURL == "" {
		errs = append(errs, "exchange: base_url must not be empty")
	}

	// Low bound strictly below high bound, otherwise the selector
	// oscillates at a single value.
	if c.Timeframe.AtrPctLo >= c.Timeframe.AtrPctHi {
		errs = append(errs, fmt.Sprintf("timeframe: atr_pct_lo (%g) must be < atr_pct_hi (%g)", c.Timeframe.AtrPctLo, c.Timeframe.AtrPctHi))
	}

	// Zone
	if c.Zone.KAtr <= 0 {
		errs = append(errs, "zone: k_atr must be > 0")
	}
	if c.Zone.WMin <= 0 || c.Zone.WMax <= 0 || c.Zone.WMin > c.Zone.WMax {
		errs = append(errs, fmt.Sprintf("zone: require 0 < w_min <= w_max, got w_min=%g w_max=%g", c.Zone.WMin, c.Zone.WMax))
	}

	// Risk
	if c.Risk.RiskPct <= 0 || c.Risk.RiskPct >= 1 {
		errs = append(errs, fmt.Sprintf("risk: risk_pct must be in (0, 1), got %g", c.Risk.RiskPct))
	}
	if c.Risk.SlMultAtr <= 0 {
		errs = append(errs, "risk: sl_mult_atr must be > 0")
	}
	if c.Risk.BudgetUSDT <= 0 {
		errs = append(errs, "risk: budget_usdt must be > 0")
	}
	if c.Risk.ExchangeCap <= 0 {
		errs = append(errs, "risk: exchange_cap must be > 0")
	}
	for _, sc := range c.Risk.PerSymbolCaps {
		if _, err := regexp.Compile(sc.Pattern); err != nil {
			errs = append(errs, fmt.Sprintf("risk: per_symbol_caps pattern %q does not compile: %v", sc.Pattern, err))
		}
		if sc.Cap <= 0 {
			errs = append(errs, fmt.Sprintf("risk: per_symbol_caps cap for %q must be > 0", sc.Pattern))
		}
	}

	// Maker
	if c.Maker.FillTimeout.Duration <= 0 {
		errs = append(errs, "maker: fill_timeout must be > 0")
	}

	// Fallback taker
	if c.FallbackTaker.Enable && c.FallbackTaker.MaxSlipBps <= 0 {
		errs = append(errs, "fallback_taker: max_slip_bps must be > 0 when enabled")
	}

	// Guards
	if c.Guards.StaleTickerSec <= 0 {
		errs = append(errs, "guards: stale_ticker_sec must be > 0")
	}
	if c.Guards.MaxFundingRate <= 0 {
		errs = append(errs, "guards: max_funding_rate must be > 0")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}
	if c.Redis.LockTTL.Duration <= 0 {
		errs = append(errs, "redis: lock_ttl must be > 0")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}

	// S3
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	// Metrics
	if c.Metrics.Enabled {
		if c.Metrics.Port <= 0 || c.Metrics.Port > 65535 {
			errs = append(errs, fmt.Sprintf("metrics: port must be 1-65535, got %d", c.Metrics.Port))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
