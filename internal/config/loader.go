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
// built-in defaults, applies PROPDESK_* environment variable overrides, and
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

// applyEnvOverrides reads well-known PROPDESK_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "PROPDESK_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "PROPDESK_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "PROPDESK_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "PROPDESK_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "PROPDESK_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "PROPDESK_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "PROPDESK_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "PROPDESK_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "PROPDESK_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "PROPDESK_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "PROPDESK_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "PROPDESK_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "PROPDESK_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "PROPDESK_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "PROPDESK_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "PROPDESK_REDIS_TLS_ENABLED")

	// ── S3 ──
	setBool(&cfg.S3.Enabled, "PROPDESK_S3_ENABLED")
	setStr(&cfg.S3.Endpoint, "PROPDESK_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "PROPDESK_S3_REGION")
	setStr(&cfg.S3.Bucket, "PROPDESK_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "PROPDESK_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "PROPDESK_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "PROPDESK_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "PROPDESK_S3_FORCE_PATH_STYLE")

	// ── Vendor ──
	setStr(&cfg.Vendor.BaseURL, "PROPDESK_VENDOR_BASE_URL")
	setStr(&cfg.Vendor.WsURL, "PROPDESK_VENDOR_WS_URL")
	setStr(&cfg.Vendor.ApiKey, "PROPDESK_VENDOR_API_KEY")
	setStr(&cfg.Vendor.ApiSecret, "PROPDESK_VENDOR_API_SECRET")
	setStr(&cfg.Vendor.EncryptedSecretPath, "PROPDESK_VENDOR_ENCRYPTED_SECRET_PATH")
	setStr(&cfg.Vendor.SecretPassword, "PROPDESK_VENDOR_SECRET_PASSWORD")
	setStringSlice(&cfg.Vendor.MarketIDs, "PROPDESK_VENDOR_MARKET_IDS")
	setDuration(&cfg.Vendor.MaxPriceAge, "PROPDESK_VENDOR_MAX_PRICE_AGE")

	// ── Evaluator ──
	setDuration(&cfg.Evaluator.OutageGraceWindow, "PROPDESK_EVALUATOR_OUTAGE_GRACE_WINDOW")

	// ── Scheduler ──
	setDuration(&cfg.Scheduler.SweepInterval, "PROPDESK_SCHEDULER_SWEEP_INTERVAL")
	setDuration(&cfg.Scheduler.ResetInterval, "PROPDESK_SCHEDULER_RESET_INTERVAL")
	setDuration(&cfg.Scheduler.AuditInterval, "PROPDESK_SCHEDULER_AUDIT_INTERVAL")
	setDuration(&cfg.Scheduler.ProbeInterval, "PROPDESK_SCHEDULER_PROBE_INTERVAL")
	setInt(&cfg.Scheduler.SweepConcurrency, "PROPDESK_SCHEDULER_SWEEP_CONCURRENCY")
	setInt(&cfg.Scheduler.FailureThreshold, "PROPDESK_SCHEDULER_FAILURE_THRESHOLD")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "PROPDESK_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "PROPDESK_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "PROPDESK_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.ApiKey, "PROPDESK_SERVER_API_KEY")
	setStr(&cfg.Server.CronSecret, "PROPDESK_SERVER_CRON_SECRET")
	setInt(&cfg.Server.RateLimit, "PROPDESK_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "PROPDESK_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "PROPDESK_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "PROPDESK_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "PROPDESK_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "PROPDESK_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.LogLevel, "PROPDESK_LOG_LEVEL")
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
