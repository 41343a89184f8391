package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/wolfman30/chat-engine/cmd/mainconfig"
	"github.com/wolfman30/chat-engine/internal/app/bootstrap"
	appconfig "github.com/wolfman30/chat-engine/internal/config"
	"github.com/wolfman30/chat-engine/pkg/logging"
)

func main() {
	_ = godotenv.Load()
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	if cfg.UseMemoryQueue {
		logger.Error("conversation worker needs SQS; the API runs workers in-process when USE_MEMORY_QUEUE=true")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	queue, err := mainconfig.BuildInboundQueue(ctx, cfg)
	if err != nil {
		logger.Error("failed to build inbound queue", "error", err)
		os.Exit(1)
	}

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

	stores, err := bootstrap.BuildStores(cfg, dbs, redisClient, logger)
	if err != nil {
		logger.Error("failed to build stores", "error", err)
		os.Exit(1)
	}
	sender, err := bootstrap.BuildChannelSender(cfg, logger)
	if err != nil {
		logger.Error("failed to build channel sender", "error", err)
		os.Exit(1)
	}
	dir, collaborators := bootstrap.BuildCollaborators(cfg, dbs, logger)
	engine, err := bootstrap.BuildEngine(cfg, bootstrap.EngineDeps{
		Stores:        stores,
		Directory:     dir,
		Collaborators: collaborators,
		Sender:        sender,
	}, logger)
	if err != nil {
		logger.Error("failed to build engine", "error", err)
		os.Exit(1)
	}

	worker := bootstrap.BuildWorker(cfg, engine, queue, logger)
	worker.Start(ctx)
	logger.Info("conversation worker started", "workers", cfg.WorkerCount)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down conversation worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("conversation worker stopped")
	case <-doneCtx.Done():
		logger.Error("conversation worker shutdown timed out", "error", doneCtx.Err())
	}
}
