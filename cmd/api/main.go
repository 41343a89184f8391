package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/chat-engine/cmd/mainconfig"
	"github.com/wolfman30/chat-engine/internal/api/router"
	"github.com/wolfman30/chat-engine/internal/app/bootstrap"
	appconfig "github.com/wolfman30/chat-engine/internal/config"
	"github.com/wolfman30/chat-engine/internal/conversation"
	httpmiddleware "github.com/wolfman30/chat-engine/internal/http/middleware"
	"github.com/wolfman30/chat-engine/internal/observability/metrics"
	"github.com/wolfman30/chat-engine/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	// Load configuration
	cfg := appconfig.Load()

	// Initialize logger
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting chat-engine API server",
		"env", cfg.Env,
		"port", cfg.Port,
		"memory_queue", cfg.UseMemoryQueue,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dbs, err := bootstrap.BuildDatabases(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer dbs.Close()
	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer redisClient.Close()
	}

	metricsHandler, engineMetrics := setupMetrics()

	queue, err := mainconfig.BuildInboundQueue(ctx, cfg)
	if err != nil {
		logger.Error("failed to build inbound queue", "error", err)
		os.Exit(1)
	}
	publisher := conversation.NewPublisher(queue, logger)
	webhookHandler, err := bootstrap.BuildWebhookHandler(cfg, publisher, engineMetrics, logger)
	if err != nil {
		logger.Error("failed to build whatsapp webhook", "error", err)
		os.Exit(1)
	}

	stores, err := bootstrap.BuildStores(cfg, dbs, redisClient, logger)
	if err != nil {
		logger.Error("failed to build stores", "error", err)
		os.Exit(1)
	}

	worker, err := setupInProcessWorker(cfg, stores, dbs, queue, engineMetrics, logger)
	if err != nil {
		logger.Error("failed to start in-process workers", "error", err)
		os.Exit(1)
	}
	if worker != nil {
		worker.Start(ctx)
	}

	var limiter *httpmiddleware.RateLimiter
	if cfg.WebhookRateLimit > 0 {
		limiter = httpmiddleware.NewRateLimiter(cfg.WebhookRateLimit, cfg.WebhookBurst)
		go limiter.RunEviction(ctx, time.Minute, 10*time.Minute)
	}

	// Setup router
	routerCfg := &router.Config{
		Logger:              logger,
		WhatsApp:            webhookHandler,
		ConversationHandler: conversation.NewHandler(stores.Conversations, stores.Messages, logger),
		AdminAuthSecret:     cfg.AdminJWTSecret,
		MetricsHandler:      metricsHandler,
		WebhookLimiter:      limiter,
		HealthChecks:        healthChecks(dbs, redisClient),
	}
	r := router.New(routerCfg)

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	cancel()
	if worker != nil {
		worker.Wait()
	}
	if mq, ok := queue.(*conversation.MemoryQueue); ok {
		mq.Close()
	}

	logger.Info("server stopped")
	fmt.Println("Server exited gracefully")
}

func setupMetrics() (http.Handler, *metrics.EngineMetrics) {
	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), metrics.NewEngineMetrics(registry)
}

// setupInProcessWorker runs the engine inside the API when events go through the memory queue.
// With SQS the conversation-worker binary consumes them instead.
func setupInProcessWorker(cfg *appconfig.Config, stores *bootstrap.Stores, dbs *bootstrap.Databases, queue conversation.Queue, m *metrics.EngineMetrics, logger *logging.Logger) (*conversation.Worker, error) {
	if !cfg.UseMemoryQueue {
		return nil, nil
	}
	sender, err := bootstrap.BuildChannelSender(cfg, logger)
	if err != nil {
		return nil, err
	}
	dir, collaborators := bootstrap.BuildCollaborators(cfg, dbs, logger)
	engine, err := bootstrap.BuildEngine(cfg, bootstrap.EngineDeps{
		Stores:        stores,
		Directory:     dir,
		Collaborators: collaborators,
		Sender:        sender,
		Metrics:       m,
	}, logger)
	if err != nil {
		return nil, err
	}
	return bootstrap.BuildWorker(cfg, engine, queue, logger), nil
}

func healthChecks(dbs *bootstrap.Databases, redisClient *redis.Client) map[string]router.HealthCheck {
	checks := map[string]router.HealthCheck{}
	if dbs != nil && dbs.Pool != nil {
		checks["postgres"] = dbs.Pool.Ping
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
	}
	return checks
}
