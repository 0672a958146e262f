package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies PIVOX_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known PIVOX_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e.
// not empty). This lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Exchange ──
	setStr(&cfg.Exchange.BaseURL, "PIVOX_EXCHANGE_BASE_URL")
	setStr(&cfg.Exchange.WsURL, "PIVOX_EXCHANGE_WS_URL")
	setStr(&cfg.Exchange.ApiKey, "PIVOX_EXCHANGE_API_KEY")
	setStr(&cfg.Exchange.ApiSecret, "PIVOX_EXCHANGE_API_SECRET")
	setStr(&cfg.Exchange.EncryptedSecretPath, "PIVOX_EXCHANGE_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Exchange.SecretPassword, "PIVOX_EXCHANGE_SECRET_PASSWORD")
	setInt(&cfg.Exchange.RecvWindowMs, "PIVOX_EXCHANGE_RECV_WINDOW_MS")

	// ── Timeframe ──
	setFloat64(&cfg.Timeframe.AtrPctHi, "PIVOX_TIMEFRAME_ATR_PCT_HI")
	setFloat64(&cfg.Timeframe.AtrPctLo, "PIVOX_TIMEFRAME_ATR_PCT_LO")
	setFloat64(&cfg.Timeframe.SpreadWidenBps, "PIVOX_TIMEFRAME_SPREAD_WIDEN_BPS")
	setBool(&cfg.Timeframe.RequireMTFAlignment, "PIVOX_TIMEFRAME_REQUIRE_MTF_ALIGNMENT")

	// ── Zone ──
	setFloat64(&cfg.Zone.KAtr, "PIVOX_ZONE_K_ATR")
	setFloat64(&cfg.Zone.WMin, "PIVOX_ZONE_W_MIN")
	setFloat64(&cfg.Zone.WMax, "PIVOX_ZONE_W_MAX")
	setFloat64(&cfg.Zone.SpreadBpsMax, "PIVOX_ZONE_SPREAD_BPS_MAX")
	setFloat64(&cfg.Zone.DepthMinUSD, "PIVOX_ZONE_DEPTH_MIN_USD")
	setFloat64(&cfg.Zone.MarkIndexGapBpsMax, "PIVOX_ZONE_MARK_INDEX_GAP_BPS_MAX")

	// ── Risk ──
	setFloat64(&cfg.Risk.RiskPct, "PIVOX_RISK_RISK_PCT")
	setFloat64(&cfg.Risk.SlMultAtr, "PIVOX_RISK_SL_MULT_ATR")
	setFloat64(&cfg.Risk.BudgetUSDT, "PIVOX_RISK_BUDGET_USDT")
	setFloat64(&cfg.Risk.ExchangeCap, "PIVOX_RISK_EXCHANGE_CAP")
	setFloat64(&cfg.Risk.Conviction.Multiplier, "PIVOX_RISK_CONVICTION_MULTIPLIER")
	setFloat64(&cfg.Risk.Conviction.CapPctOfExchange, "PIVOX_RISK_CONVICTION_CAP_PCT_OF_EXCHANGE")

	// ── Maker / fallback ──
	setStr(&cfg.Maker.Mode, "PIVOX_MAKER_MODE")
	setBool(&cfg.Maker.MakerOnly, "PIVOX_MAKER_MAKER_ONLY")
	setDuration(&cfg.Maker.FillTimeout, "PIVOX_MAKER_FILL_TIMEOUT")
	setBool(&cfg.FallbackTaker.Enable, "PIVOX_FALLBACK_TAKER_ENABLE")
	setFloat64(&cfg.FallbackTaker.MaxSlipBps, "PIVOX_FALLBACK_TAKER_MAX_SLIP_BPS")
	setBool(&cfg.TPSL.UsePositionTPSL, "PIVOX_TP_SL_USE_POSITION_TP_SL")

	// ── Guards ──
	setFloat64(&cfg.Guards.StaleTickerSec, "PIVOX_GUARDS_STALE_TICKER_SEC")
	setFloat64(&cfg.Guards.MaxSlipBps, "PIVOX_GUARDS_MAX_SLIP_BPS")
	setFloat64(&cfg.Guards.MinLiquidityUSD, "PIVOX_GUARDS_MIN_LIQUIDITY_USD")
	setFloat64(&cfg.Guards.FundingCutoffMin, "PIVOX_GUARDS_FUNDING_CUTOFF_MIN")
	setFloat64(&cfg.Guards.MaxFundingRate, "PIVOX_GUARDS_MAX_FUNDING_RATE")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PIVOX_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PIVOX_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PIVOX_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PIVOX_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PIVOX_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PIVOX_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.LockTTL, "PIVOX_REDIS_LOCK_TTL")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PIVOX_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "PIVOX_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PIVOX_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PIVOX_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PIVOX_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PIVOX_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PIVOX_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PIVOX_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PIVOX_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PIVOX_POSTGRES_RUN_MIGRATIONS")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "PIVOX_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PIVOX_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PIVOX_S3_REGION")
	setStr(&cfg.S3.Bucket, "PIVOX_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PIVOX_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PIVOX_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PIVOX_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PIVOX_S3_FORCE_PATH_STYLE")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PIVOX_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PIVOX_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PIVOX_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PIVOX_NOTIFY_EVENTS")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "PIVOX_METRICS_ENABLED")
	setInt(&cfg.Metrics.Port, "PIVOX_METRICS_PORT")

	// ── Top-level ──
	setStringSlice(&cfg.Symbols, "PIVOX_SYMBOLS")
	setStr(&cfg.Mode, "PIVOX_MODE")
	setStr(&cfg.LogLevel, "PIVOX_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
