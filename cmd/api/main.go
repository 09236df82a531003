package main

import (
	"context"
	"log"
	"time"

	"staysync/config"
	"staysync/internal/channex"
	"staysync/internal/domain/channel"
	"staysync/internal/handler"
	"staysync/internal/ratelimit"
	"staysync/internal/redis"
	"staysync/internal/repository"
	"staysync/internal/server"
	"staysync/internal/services"
	"staysync/pkg/database"
	"staysync/pkg/logger"
)

func main() {
	cfg := config.LoadConfig()

	logMode := logger.DevelopmentMode
	if cfg.AppMode == server.ReleaseMode {
		logMode = logger.ProductionMode
	}
	l := logger.New(logMode)
	defer l.Logger.Sync()

	db, err := database.Open(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := repository.InitSchema(ctx, db); err != nil {
		cancel()
		log.Fatalf("Failed to run migrations: %v", err)
	}
	cancel()

	// Redis is optional: without it the calendar cache and endpoint
	// throttling are skipped, the sync pipeline itself is unaffected.
	var (
		cache       *redis.CacheStore
		httpLimiter *redis.RateLimiter
	)
	redis.Initialize(redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
	})
	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := redis.GetClient().Ping(pingCtx).Err(); err != nil {
		l.Warnf("Redis unavailable, running without cache and endpoint rate limits: %v", err)
	} else {
		cache = redis.NewCacheStore(redis.GetClient(), redis.CacheConfig{})
		httpLimiter = redis.NewRateLimiter(redis.GetClient(), redis.RateLimitConfig{
			WebhookLimit:  cfg.WebhookRateLimit,
			WebhookWindow: time.Duration(cfg.WebhookRateWindow) * time.Second,
			APILimit:      300,
			APIWindow:     60 * time.Second,
		})
	}
	pingCancel()

	outboxRepo := repository.NewOutboxRepository(db)
	channelRepo := repository.NewChannelRepository(db)
	bookingRepo := repository.NewBookingRepository(db)
	pricingRepo := repository.NewPricingRepository(db)
	ledgerRepo := repository.NewLedgerRepository(db)
	webhookRepo := repository.NewWebhookRepository(db)
	rateStateRepo := repository.NewRateStateRepository(db)

	partnerLimiter := ratelimit.New(rateStateRepo, l)

	clients := func(conn *channel.Connection) services.ARIPusher {
		return channex.NewClient(cfg.ChannelBaseURL, conn.APIKey, conn.PropertyID, "", l)
	}

	worker := services.NewOutboxWorker(
		outboxRepo, channelRepo, bookingRepo, pricingRepo, ledgerRepo,
		partnerLimiter, clients,
		services.WorkerConfig{
			Interval:     time.Duration(cfg.WorkerPollSeconds) * time.Second,
			BatchSize:    cfg.WorkerBatchSize,
			StaleAfter:   time.Duration(cfg.WorkerStaleSeconds) * time.Second,
			BackoffBase:  time.Duration(cfg.WorkerBackoffSeconds) * time.Second,
			BackoffCap:   time.Duration(cfg.WorkerBackoffCapSecs) * time.Second,
			SyncDays:     cfg.ChannelSyncDays,
			MaxAttempts:  cfg.WorkerMaxAttempts,
			MaxPayload:   cfg.ChannelMaxPayloadBytes,
			RateCapacity: float64(cfg.ChannelRateLimitPerMinute),
		},
		l,
	)

	ingestor := services.NewWebhookIngestor(webhookRepo, services.IngestorConfig{
		Secret:       cfg.ChannelWebhookSecret,
		AllowedIPs:   cfg.ChannelAllowedIPs,
		ReplayWindow: time.Duration(cfg.ChannelReplayWindowSeconds) * time.Second,
		MaxBodyBytes: cfg.WebhookMaxBodyBytes,
	}, l)

	processor := services.NewWebhookProcessor(
		db, webhookRepo, bookingRepo, channelRepo, outboxRepo, ledgerRepo,
		services.ProcessorConfig{SyncDays: cfg.ChannelSyncDays, MaxAttempts: cfg.WorkerMaxAttempts},
		l,
	)

	pricingService := services.NewPricingService(db, pricingRepo, channelRepo, outboxRepo, cache, cfg.ChannelSyncDays, cfg.WorkerMaxAttempts, l)
	channelService := services.NewChannelService(db, channelRepo, outboxRepo, ledgerRepo, cfg.ChannelSyncDays, cfg.WorkerMaxAttempts, l)

	if cfg.ChannelEnabled {
		worker.Start()
		defer worker.Stop()
		processor.Start()
		defer processor.Stop()
	} else {
		l.Warnf("Channel sync disabled, outbox and webhook queues will accumulate")
	}

	srv := server.New(cfg, db, l)
	srv.SetupRoutes(&server.Handlers{
		Webhook:     handler.NewWebhookHandler(ingestor, processor, int64(cfg.WebhookMaxBodyBytes)),
		Pricing:     handler.NewPricingHandler(pricingService),
		Integration: handler.NewIntegrationHandler(channelService),
	}, httpLimiter)

	if err := srv.Start(); err != nil {
		log.Fatalf("Server exited with error: %v", err)
	}
}
