package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/propdesk/internal/blob/s3"
	"github.com/alanyoungcy/propdesk/internal/cache/redis"
	"github.com/alanyoungcy/propdesk/internal/config"
	"github.com/alanyoungcy/propdesk/internal/crypto"
	"github.com/alanyoungcy/propdesk/internal/domain"
	"github.com/alanyoungcy/propdesk/internal/marketdata"
	"github.com/alanyoungcy/propdesk/internal/notify"
	"github.com/alanyoungcy/propdesk/internal/store/postgres"
)

// Dependencies bundles every infrastructure-level dependency the application
// needs. It is constructed by Wire and torn down by the returned cleanup
// function.
type Dependencies struct {
	// Stores
	ChallengeStore domain.ChallengeStore
	PositionStore  domain.PositionStore
	TradeStore     domain.TradeStore
	MarketStore    domain.MarketStore
	OutageStore    domain.OutageStore
	AuditStore     domain.AuditStore
	TxRunner       domain.TxRunner

	// Caches
	PriceCache  domain.PriceCache
	BookCache   domain.BookCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager

	// Market data
	VendorClient *marketdata.Client
	PriceSource  *marketdata.Service
	Feed         *marketdata.Feed

	// Blob storage (nil when S3 is disabled)
	Archiver *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
	pgClient, err := postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: postgres: %w", err)
	}
	closers = append(closers, pgClient.Close)

	if cfg.Postgres.RunMigrations {
		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}
	}

	pool := pgClient.Pool()
	deps.ChallengeStore = postgres.NewChallengeStore(pool)
	deps.PositionStore = postgres.NewPositionStore(pool)
	deps.TradeStore = postgres.NewTradeStore(pool)
	deps.MarketStore = postgres.NewMarketStore(pool)
	deps.OutageStore = postgres.NewOutageStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)
	deps.TxRunner = postgres.NewTxRunner(pool)

	// --- Redis ---
	redisClient, err := redis.New(ctx, redis.ClientConfig{
		Addr:       cfg.Redis.Addr,
		Password:   cfg.Redis.Password,
		DB:         cfg.Redis.DB,
		PoolSize:   cfg.Redis.PoolSize,
		MaxRetries: cfg.Redis.MaxRetries,
		TLSEnabled: cfg.Redis.TLSEnabled,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: redis: %w", err)
	}
	closers = append(closers, func() { _ = redisClient.Close() })

	deps.PriceCache = redis.NewPriceCache(redisClient)
	deps.BookCache = redis.NewBookCache(redisClient)
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.LockManager = redis.NewLockManager(redisClient)

	// --- Market data vendor ---
	secret, err := crypto.LoadSecret(crypto.SecretConfig{
		RawSecret:     cfg.Vendor.ApiSecret,
		EncryptedPath: cfg.Vendor.EncryptedSecretPath,
		Password:      cfg.Vendor.SecretPassword,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: vendor secret: %w", err)
	}

	hmacAuth := &crypto.HMACAuth{Key: cfg.Vendor.ApiKey, Secret: secret}
	validator := marketdata.NewValidator(cfg.Vendor.MaxPriceAge.Duration)

	deps.VendorClient = marketdata.NewClient(cfg.Vendor.BaseURL, hmacAuth)
	deps.PriceSource = marketdata.NewService(deps.VendorClient, deps.PriceCache, deps.BookCache, validator, logger)

	if cfg.Vendor.WsURL != "" && len(cfg.Vendor.MarketIDs) > 0 {
		deps.Feed = marketdata.NewFeed(cfg.Vendor.WsURL, cfg.Vendor.MarketIDs, deps.PriceCache, deps.BookCache, validator, logger)
	}

	// --- S3 report archival (optional) ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), logger)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
