package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connect opens a pgx connection pool using the provided DSN and checks that
// the server answers.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	cfg.MaxConns = 8
	cfg.MaxConnIdleTime = 5 * time.Minute
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the documents and export_rows tables if needed.
// Export rows keep a few columns for querying and the full row as JSONB.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	const stmt = `
CREATE TABLE IF NOT EXISTS documents (
	id TEXT PRIMARY KEY,
	filename TEXT NOT NULL,
	content BYTEA,
	content_type TEXT NOT NULL DEFAULT '',
	tax_id TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	remote_id TEXT,
	status TEXT NOT NULL,
	processed BOOLEAN NOT NULL DEFAULT FALSE,
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_documents_remote_id ON documents(remote_id);
CREATE TABLE IF NOT EXISTS export_rows (
	id TEXT PRIMARY KEY,
	document_id TEXT NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	position INTEGER NOT NULL,
	code TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	value TEXT NOT NULL DEFAULT '',
	page TEXT NOT NULL DEFAULT '',
	payload JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_export_rows_document ON export_rows(document_id, position);`
	_, err := pool.Exec(ctx, stmt)
	if err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
