package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"staysync/config"
	"staysync/internal/handler"
	"staysync/internal/metrics"
	"staysync/internal/middleware"
	"staysync/internal/redis"
	"staysync/internal/transport/httpdto"
	"staysync/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Server struct {
	httpServer *http.Server
	engine     *gin.Engine
	config     *config.Config
	logger     *logger.Logger
	db         *sql.DB
}

var (
	ReleaseMode = "release"
	DebugMode   = "debug"
	TestMode    = "test"
)

type Handlers struct {
	Webhook     *handler.WebhookHandler
	Pricing     *handler.PricingHandler
	Integration *handler.IntegrationHandler
}

func New(cfg *config.Config, db *sql.DB, l *logger.Logger) *Server {
	if cfg.AppMode == ReleaseMode {
		gin.SetMode(gin.ReleaseMode)
	} else if cfg.AppMode == TestMode {
		gin.SetMode(gin.TestMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())

	return &Server{
		httpServer: &http.Server{
			Addr:    fmt.Sprintf(":%s", cfg.AppPort),
			Handler: engine,
		},
		engine: engine,
		config: cfg,
		logger: l,
		db:     db,
	}
}

// SetupRoutes registers the webhook intake, the pricing and integration
// APIs and the operational endpoints. The rate limiter is optional;
// without Redis the routes run unthrottled.
func (s *Server) SetupRoutes(handlers *Handlers, limiter *redis.RateLimiter) {
	s.engine.Use(middleware.RequestIDMiddleware())
	s.engine.Use(middleware.LoggingMiddleware(s.logger))
	s.engine.Use(middleware.ErrorHandler(s.logger))

	s.engine.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"message": "pong"}))
	})

	s.engine.GET("/health", func(c *gin.Context) {
		if err := s.db.PingContext(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, httpdto.NewErrorResponse(err.Error(), "UNHEALTHY"))
			return
		}
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"status": "healthy"}))
	})

	s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(metrics.Registry(), promhttp.HandlerOpts{})))

	webhooks := s.engine.Group("/v1/webhooks")
	if limiter != nil {
		webhooks.Use(middleware.WebhookRateLimitMiddleware(limiter))
	}
	{
		webhooks.POST("/channex", handlers.Webhook.Receive)
	}

	api := s.engine.Group("/v1")
	if limiter != nil {
		api.Use(middleware.APIRateLimitMiddleware(limiter))
	}
	{
		api.GET("/webhooks/records/:id", handlers.Webhook.Get)
		api.POST("/webhooks/records/:id/replay", handlers.Webhook.Replay)

		api.PUT("/units/:unit_id/pricing", handlers.Pricing.UpsertPolicy)
		api.GET("/units/:unit_id/pricing", handlers.Pricing.GetPolicy)
		api.GET("/units/:unit_id/pricing/quote", handlers.Pricing.Quote)
		api.GET("/units/:unit_id/pricing/calendar", handlers.Pricing.Calendar)
		api.GET("/units/:unit_id/pricing/stay", handlers.Pricing.QuoteStay)

		api.POST("/integrations/connections", handlers.Integration.CreateConnection)
		api.GET("/integrations/connections", handlers.Integration.ListConnections)
		api.GET("/integrations/connections/:id", handlers.Integration.GetConnection)
		api.PATCH("/integrations/connections/:id/status", handlers.Integration.UpdateConnectionStatus)
		api.POST("/integrations/connections/:id/mappings", handlers.Integration.CreateMapping)
		api.GET("/integrations/connections/:id/mappings", handlers.Integration.ListMappings)
		api.POST("/integrations/connections/:id/sync", handlers.Integration.TriggerSync)
		api.GET("/integrations/outbox", handlers.Integration.ListOutbox)
		api.POST("/integrations/outbox/:id/retry", handlers.Integration.RetryOutboxEvent)
		api.GET("/integrations/ledger", handlers.Integration.ListLedger)
	}
}

func (s *Server) Start() error {
	go func() {
		if s.logger != nil {
			s.logger.Infof("Starting the server on port %s...", s.config.AppPort)
		}
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if s.logger != nil {
				s.logger.Errorf("Error in starting the server: %s", err)
			}
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)

	if s.logger != nil {
		s.logger.Infof("Server is running on :%s", s.config.AppPort)
	}

	<-quit

	if s.logger != nil {
		s.logger.Infof("Quitting signal received.. Shutting down after 5 seconds")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		if s.logger != nil {
			s.logger.Infof("Error in the graceful shutdown of the server: %s", err)
		}
		return err
	}

	if s.logger != nil {
		s.logger.Infof("Server stopped gracefully")
	}

	return nil
}
