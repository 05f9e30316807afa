package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/assetmarket/internal/blob/s3"
	"github.com/alanyoungcy/assetmarket/internal/cache/redis"
	"github.com/alanyoungcy/assetmarket/internal/chain"
	"github.com/alanyoungcy/assetmarket/internal/config"
	"github.com/alanyoungcy/assetmarket/internal/domain"
	"github.com/alanyoungcy/assetmarket/internal/executor"
	"github.com/alanyoungcy/assetmarket/internal/market"
	"github.com/alanyoungcy/assetmarket/internal/metrics"
	"github.com/alanyoungcy/assetmarket/internal/notify"
	"github.com/alanyoungcy/assetmarket/internal/server/handler"
	"github.com/alanyoungcy/assetmarket/internal/server/middleware"
	"github.com/alanyoungcy/assetmarket/internal/service"
	"github.com/alanyoungcy/assetmarket/internal/store/postgres"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Engine
	Market   *market.Marketplace
	Relay    *service.Relay
	Monitor  *service.Monitor
	Executor *executor.Executor

	// Journal (nil when supabase is disabled)
	SaleJournal     domain.SaleJournal
	ActivityJournal domain.ActivityJournal
	AuditStore      domain.AuditStore

	// Caches (in-process fallbacks when redis is disabled)
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager

	// Blob storage (nil when the archive is disabled)
	Archiver domain.Archiver

	// Notifications
	Notifier *notify.Notifier

	// Readiness checks
	Pingers map[string]handler.Pinger
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
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{Pingers: make(map[string]handler.Pinger)}

	// --- PostgreSQL journal ---
	if cfg.Supabase.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Supabase.DSN,
			Host:     cfg.Supabase.Host,
			Port:     cfg.Supabase.Port,
			Database: cfg.Supabase.Database,
			User:     cfg.Supabase.User,
			Password: cfg.Supabase.Password,
			SSLMode:  cfg.Supabase.SSLMode,
			MaxConns: cfg.Supabase.PoolMaxConns,
			MinConns: cfg.Supabase.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Supabase.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}

		pool := pgClient.Pool()
		deps.SaleJournal = postgres.NewSaleStore(pool)
		deps.ActivityJournal = postgres.NewActivityStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
		deps.Pingers["postgres"] = pgClient
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.SignalBus = redis.NewSignalBus(redisClient, cfg.Redis.StreamMax)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.Pingers["redis"] = redisClient
	} else {
		deps.SignalBus = service.NewMemoryBus(256, int(cfg.Redis.StreamMax))
		deps.RateLimiter = middleware.NewLocalLimiter(10 * time.Minute)
	}

	// --- S3 cold archive ---
	if cfg.Archive.Enabled {
		if deps.SaleJournal == nil {
			return fail(errors.New("wire: archive requires the postgres journal"))
		}
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
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Pingers["s3"] = s3Client
		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			deps.SaleJournal,
			deps.ActivityJournal,
			deps.AuditStore,
			cfg.S3.Prefix,
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Engine ---
	mkt, err := market.New(marketConfig(cfg), nil, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: market: %w", err))
	}
	deps.Market = mkt
	deps.Monitor = service.NewMonitor(deps.AuditStore, deps.Notifier, logger)

	sweeper := mkt.Sweeper().WithObserver(deps.Monitor.Observe)
	if deps.LockManager != nil {
		sweeper.WithLockManager(deps.LockManager, cfg.Sweeper.LockTTL.Duration)
	}

	// --- Settlement executor ---
	var queue service.SaleQueue
	if cfg.Settlement.Enabled {
		signer, err := receiptSigner(cfg.Chain)
		if err != nil {
			return fail(fmt.Errorf("wire: chain: %w", err))
		}
		if signer != nil {
			logger.Info("settlement receipts enabled", slog.String("operator", signer.Operator().Hex()))
		}
		deps.Executor = executor.NewExecutor(executorConfig(cfg.Settlement), chain.NewPaperTransferer(signer, logger), mkt, logger).
			WithObserver(metrics.SettlementObserver{}).
			WithFailureHandler(deps.Monitor.SettlementFailed)
		queue = deps.Executor
	}

	deps.Relay = service.NewRelay(service.RelayDeps{
		Bus:        deps.SignalBus,
		Sales:      deps.SaleJournal,
		Activities: deps.ActivityJournal,
		Audit:      deps.AuditStore,
		Notifier:   deps.Notifier,
		Queue:      queue,
		Stats:      mkt.Stats,
	}, 5*time.Second, logger)
	mkt.SetHook(deps.Relay)

	return deps, cleanup, nil
}

func marketConfig(cfg *config.Config) market.Config {
	m := cfg.Marketplace
	return market.Config{
		PlatformFeeBps:         m.PlatformFeeBps,
		DefaultRoyaltyBps:      m.DefaultRoyaltyBps,
		MaxRoyaltyBps:          m.MaxRoyaltyBps,
		DefaultListingDuration: m.DefaultListingDuration.Duration,
		DefaultOfferDuration:   m.DefaultOfferDuration.Duration,
		Retention:              m.Retention,
	}
}

func executorConfig(s config.SettlementConfig) executor.Config {
	cfg := executor.DefaultConfig()
	cfg.Workers = s.Workers
	cfg.QueueSize = s.QueueSize
	cfg.MaxAttempts = uint(s.MaxAttempts)
	if s.InitialBackoff.Duration > 0 {
		cfg.InitialBackoff = s.InitialBackoff.Duration
	}
	if s.MaxBackoff.Duration > 0 {
		cfg.MaxBackoff = s.MaxBackoff.Duration
	}
	if s.DedupTTL.Duration > 0 {
		cfg.DedupTTL = s.DedupTTL.Duration
	}
	return cfg
}

// receiptSigner loads the operator key. No configured key means unsigned
// receipts.
func receiptSigner(c config.ChainConfig) (*chain.ReceiptSigner, error) {
	src := chain.KeySource{RawHex: c.PrivateKey, FilePath: c.EncryptedKeyPath, Password: c.KeyPassword}
	if !src.Configured() {
		return nil, nil
	}
	key, err := chain.LoadOperatorKey(src)
	if err != nil {
		return nil, err
	}
	return chain.NewReceiptSigner(key, c.ChainID), nil
}
