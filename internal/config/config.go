// Package config defines the top-level configuration for the challenge risk
// engine and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by PROPDESK_* environment variables.
type Config struct {
	Postgres  PostgresConfig  `toml:"postgres"`
	Redis     RedisConfig     `toml:"redis"`
	S3        S3Config        `toml:"s3"`
	Vendor    VendorConfig    `toml:"vendor"`
	Evaluator EvaluatorConfig `toml:"evaluator"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Server    ServerConfig    `toml:"server"`
	Notify    NotifyConfig    `toml:"notify"`
	LogLevel  string          `toml:"log_level"`
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

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for report archival.
// When Enabled is false no S3 client is constructed and audit reports are
// kept in Postgres only.
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

// VendorConfig holds the market data vendor endpoints and HMAC credentials.
// The API secret may be given inline (api_secret) or as a PBKDF2-encrypted
// file (encrypted_secret_path + secret_password); the inline value wins.
type VendorConfig struct {
	BaseURL             string   `toml:"base_url"`
	WsURL               string   `toml:"ws_url"`
	ApiKey              string   `toml:"api_key"`
	ApiSecret           string   `toml:"api_secret"`
	EncryptedSecretPath string   `toml:"encrypted_secret_path"`
	SecretPassword      string   `toml:"secret_password"`
	MarketIDs           []string `toml:"market_ids"`
	MaxPriceAge         duration `toml:"max_price_age"`
}

// EvaluatorConfig holds tunables for the evaluation loop that are not part of
// a challenge's own rule set.
type EvaluatorConfig struct {
	// OutageGraceWindow is how long after an exchange outage ends before
	// rule breaches count again.
	OutageGraceWindow duration `toml:"outage_grace_window"`
}

// SchedulerConfig holds the intervals for the background jobs.
type SchedulerConfig struct {
	SweepInterval    duration `toml:"sweep_interval"`
	ResetInterval    duration `toml:"reset_interval"`
	AuditInterval    duration `toml:"audit_interval"`
	ProbeInterval    duration `toml:"probe_interval"`
	SweepConcurrency int      `toml:"sweep_concurrency"`
	FailureThreshold int      `toml:"failure_threshold"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	ApiKey      string   `toml:"api_key"`
	CronSecret  string   `toml:"cron_secret"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
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
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "propdesk",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "propdesk-reports",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Vendor: VendorConfig{
			BaseURL:     "https://api.marketdata.example.com",
			WsURL:       "wss://stream.marketdata.example.com/v1/ws",
			MaxPriceAge: duration{30 * time.Second},
		},
		Evaluator: EvaluatorConfig{
			OutageGraceWindow: duration{5 * time.Minute},
		},
		Scheduler: SchedulerConfig{
			SweepInterval:    duration{time.Minute},
			ResetInterval:    duration{5 * time.Minute},
			AuditInterval:    duration{time.Hour},
			ProbeInterval:    duration{15 * time.Second},
			SweepConcurrency: 8,
			FailureThreshold: 4,
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"challenge_failed", "challenge_passed", "pending_failure", "outage_started", "outage_ended", "audit_discrepancy"},
		},
		LogLevel: "info",
	}
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

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
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

	// Vendor
	if c.Vendor.BaseURL == "" {
		errs = append(errs, "vendor: base_url must not be empty")
	}
	if c.Vendor.ApiKey == "" {
		errs = append(errs, "vendor: api_key must not be empty")
	}
	if c.Vendor.ApiSecret == "" && c.Vendor.EncryptedSecretPath == "" {
		errs = append(errs, "vendor: either api_secret or encrypted_secret_path must be set")
	}
	if c.Vendor.EncryptedSecretPath != "" && c.Vendor.ApiSecret == "" && c.Vendor.SecretPassword == "" {
		errs = append(errs, "vendor: secret_password is required when encrypted_secret_path is set")
	}
	if c.Vendor.MaxPriceAge.Duration <= 0 {
		errs = append(errs, "vendor: max_price_age must be > 0")
	}

	// Evaluator
	if c.Evaluator.OutageGraceWindow.Duration < 0 {
		errs = append(errs, "evaluator: outage_grace_window must not be negative")
	}

	// Scheduler
	if c.Scheduler.SweepInterval.Duration <= 0 {
		errs = append(errs, "scheduler: sweep_interval must be > 0")
	}
	if c.Scheduler.SweepConcurrency < 1 {
		errs = append(errs, "scheduler: sweep_concurrency must be >= 1")
	}
	if c.Scheduler.FailureThreshold < 1 {
		errs = append(errs, "scheduler: failure_threshold must be >= 1")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
