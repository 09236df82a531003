package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"staysync/config"
	"staysync/internal/channex"
	"staysync/internal/domain/channel"
	"staysync/internal/ratelimit"
	"staysync/internal/repository"
	"staysync/internal/services"
	"staysync/pkg/database"
	"staysync/pkg/logger"
)

// Standalone sync worker: runs the outbox dispatcher and the webhook
// processor without the HTTP API, for deployments that scale the two
// independently.
func main() {
	cfg := config.LoadConfig()

	logMode := logger.DevelopmentMode
	if cfg.AppMode == "release" {
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

	processor := services.NewWebhookProcessor(
		db, webhookRepo, bookingRepo, channelRepo, outboxRepo, ledgerRepo,
		services.ProcessorConfig{SyncDays: cfg.ChannelSyncDays, MaxAttempts: cfg.WorkerMaxAttempts},
		l,
	)

	worker.Start()
	processor.Start()
	l.Infof("Sync worker running")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	l.Infof("Quitting signal received.. Shutting down")
	worker.Stop()
	processor.Stop()
	l.Infof("Sync worker stopped gracefully")
}
