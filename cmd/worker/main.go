// Command worker runs background status checks queued by the server.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/IteraFlow/internal/app"
	"github.com/dharsanguruparan/IteraFlow/internal/config"
	"github.com/dharsanguruparan/IteraFlow/internal/queue"
	"github.com/dharsanguruparan/IteraFlow/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("worker.config_failed", "error", err)
		os.Exit(1)
	}
	logger := config.NewLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)
	if err := cfg.Validate(); err != nil {
		logger.Error("worker.config_invalid", "error", err)
		os.Exit(1)
	}

	stores, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("worker.store_failed", "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	archive, err := app.OpenArchive(ctx, cfg)
	if err != nil {
		logger.Error("worker.archive_failed", "error", err)
		os.Exit(1)
	}
	orch := app.NewOrchestrator(cfg, stores, archive, logger)

	redis := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	client := asynq.NewClient(redis)
	defer client.Close()

	var exports worker.ExportArchiver
	if archive != nil {
		exports = archive
	}
	processor := worker.NewProcessor(orch, queue.NewScheduler(client), exports, cfg.Batch.Interval(), logger)

	server := asynq.NewServer(redis, asynq.Config{
		Concurrency: cfg.Workers,
		Logger:      newAsynqLogger(logger),
	})

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	logger.Info("worker.start", "concurrency", cfg.Workers)
	if err := server.Run(processor.Handler()); err != nil {
		logger.Error("worker.stopped", "error", err)
		os.Exit(1)
	}
}
