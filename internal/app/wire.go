package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/solsignal/tradebot/internal/blob/s3"
	"github.com/solsignal/tradebot/internal/cache/redis"
	"github.com/solsignal/tradebot/internal/config"
	"github.com/solsignal/tradebot/internal/domain"
	"github.com/solsignal/tradebot/internal/execution"
	"github.com/solsignal/tradebot/internal/feed"
	"github.com/solsignal/tradebot/internal/notify"
	"github.com/solsignal/tradebot/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	PositionStore domain.PositionStore
	TrailingStore domain.TrailingStopStore
	AutoBuyStore  domain.AutoBuyStore
	TradeStore    domain.TradeStore
	RiskStore     domain.RiskConfigStore
	AlertStore    domain.AlertStore
	AuditStore    domain.AuditStore

	// Caches / coordination
	PriceCache  domain.PriceCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Ports
	Feed      *feed.Feed
	Execution domain.Execution

	// Blob storage
	BlobWriter domain.BlobWriter
	Archiver   domain.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ledger store ---
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
	deps.PositionStore = postgres.NewPositionStore(pool)
	deps.TrailingStore = postgres.NewTrailingStopStore(pool)
	deps.AutoBuyStore = postgres.NewAutoBuyStore(pool)
	deps.TradeStore = postgres.NewTradeStore(pool)
	deps.RiskStore = postgres.NewRiskConfigStore(pool)
	deps.AlertStore = postgres.NewAlertStore(pool)
	deps.AuditStore = postgres.NewAuditStore(pool)

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
	deps.RateLimiter = redis.NewRateLimiter(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)
	if cfg.Engine.DistributedLocks {
		deps.LockManager = redis.NewLockManager(redisClient)
	}

	// --- Price feed ---
	wsFeed := feed.NewWSFeed(cfg.Feed.WSURL, logger)
	closers = append(closers, func() { _ = wsFeed.Close() })
	httpFeed := feed.NewHTTPClient(cfg.Feed.HTTPURL, deps.RateLimiter, cfg.Feed.RateLimitPerSec)
	deps.Feed = feed.New(wsFeed, httpFeed)

	// --- Swap execution ---
	deps.Execution = execution.New(execution.ClientConfig{
		BaseURL: cfg.Execution.BaseURL,
		APIKey:  cfg.Execution.APIKey,
		Timeout: cfg.Execution.Timeout.Duration,
	}, deps.RateLimiter)

	// --- S3 blob storage (only when archiving is enabled) ---
	if cfg.Archive.Enabled {
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

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.Archiver = s3blob.NewArchiver(
			deps.BlobWriter,
			deps.PositionStore,
			deps.TradeStore,
			deps.AuditStore,
		)
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
