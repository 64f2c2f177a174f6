// Command server runs the IteraFlow HTTP API.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/dharsanguruparan/IteraFlow/internal/api"
	"github.com/dharsanguruparan/IteraFlow/internal/app"
	"github.com/dharsanguruparan/IteraFlow/internal/config"
	"github.com/dharsanguruparan/IteraFlow/internal/queue"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("server.config_failed", "error", err)
		os.Exit(1)
	}
	logger := config.NewLogger(cfg.Log, os.Stderr)
	slog.SetDefault(logger)
	if err := cfg.Validate(); err != nil {
		logger.Error("server.config_invalid", "error", err)
		os.Exit(1)
	}

	stores, err := app.OpenStores(ctx, cfg, logger)
	if err != nil {
		logger.Error("server.store_failed", "error", err)
		os.Exit(1)
	}
	defer stores.Close()

	archive, err := app.OpenArchive(ctx, cfg)
	if err != nil {
		logger.Error("server.archive_failed", "error", err)
		os.Exit(1)
	}
	orch := app.NewOrchestrator(cfg, stores, archive, logger)

	client := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer client.Close()

	srv := api.New(cfg, orch, queue.NewScheduler(client), logger)
	if err := srv.Run(ctx); err != nil {
		logger.Error("server.stopped", "error", err)
		os.Exit(1)
	}
}
