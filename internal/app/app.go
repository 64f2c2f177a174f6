// Package app wires configuration into the stores, remote client and
// orchestrator shared by the server, worker and CLI binaries.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dharsanguruparan/IteraFlow/internal/config"
	"github.com/dharsanguruparan/IteraFlow/internal/database"
	"github.com/dharsanguruparan/IteraFlow/internal/itera"
	"github.com/dharsanguruparan/IteraFlow/internal/processing"
	"github.com/dharsanguruparan/IteraFlow/internal/repository"
	"github.com/dharsanguruparan/IteraFlow/internal/s3storage"
	"github.com/dharsanguruparan/IteraFlow/internal/sqlite"
	"github.com/dharsanguruparan/IteraFlow/internal/storage"
)

// Stores is the persistence backend selected by configuration.
type Stores struct {
	Docs    processing.DocumentStore
	Rows    processing.ExportRowStore
	Backend string
	close   func()
}

// Close releases the backend.
func (s *Stores) Close() {
	if s.close != nil {
		s.close()
	}
}

// MemoryPath as SQLitePath selects the in-memory store. Nothing survives
// the process.
const MemoryPath = "memory"

// OpenStores connects to Postgres when DatabaseURL is set and falls back to
// the SQLite file at SQLitePath otherwise.
func OpenStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Stores, error) {
	if cfg.DatabaseURL != "" {
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("connect database: %w", err)
		}
		if err := database.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
		repo := repository.NewDocumentRepository(pool)
		logger.Info("app.store.open", "backend", "postgres")
		return &Stores{Docs: repo, Rows: repo, Backend: "postgres", close: pool.Close}, nil
	}

	if cfg.SQLitePath == MemoryPath {
		mem := storage.NewMemoryStore()
		logger.Warn("app.store.open", "backend", "memory")
		return &Stores{Docs: mem, Rows: mem, Backend: "memory"}, nil
	}

	store, err := sqlite.NewStore(cfg.SQLitePath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", cfg.SQLitePath, err)
	}
	logger.Info("app.store.open", "backend", "sqlite", "path", store.Path())
	return &Stores{Docs: store, Rows: store, Backend: "sqlite", close: func() { _ = store.Close() }}, nil
}

// OpenArchive returns the MinIO archive, or nil when no endpoint is set.
func OpenArchive(ctx context.Context, cfg *config.Config) (*s3storage.Storage, error) {
	if !cfg.S3.Enabled() {
		return nil, nil
	}
	archive, err := s3storage.New(cfg.S3)
	if err != nil {
		return nil, err
	}
	if err := archive.EnsureBuckets(ctx); err != nil {
		return nil, fmt.Errorf("ensure buckets: %w", err)
	}
	return archive, nil
}

// NewOrchestrator builds the remote client and the orchestrator over stores.
// archive may be nil.
func NewOrchestrator(cfg *config.Config, stores *Stores, archive *s3storage.Storage, logger *slog.Logger) *processing.Orchestrator {
	client, _ := itera.New(cfg.Client(), nil, cfg.Itera.TokenTTL, logger)
	classifier := processing.NewClassifier(cfg.Batch.SuccessStatuses, cfg.Batch.ErrorStatuses)
	var opts []processing.Option
	if archive != nil {
		opts = append(opts, processing.WithArchive(archive))
	}
	return processing.New(stores.Docs, stores.Rows, client, classifier, logger, opts...)
}
