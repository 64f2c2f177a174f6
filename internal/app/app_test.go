package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/IteraFlow/internal/config"
	"github.com/dharsanguruparan/IteraFlow/internal/model"
)

func TestOpenStoresFallsBackToSQLite(t *testing.T) {
	cfg := config.Default()
	cfg.SQLitePath = filepath.Join(t.TempDir(), "data", "itera.db")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	stores, err := OpenStores(context.Background(), cfg, logger)
	require.NoError(t, err)
	defer stores.Close()
	assert.Equal(t, "sqlite", stores.Backend)

	orch := NewOrchestrator(cfg, stores, nil, logger)
	doc := &model.Document{Filename: "a.pdf", Content: []byte("%PDF"), TaxID: "12345678000195"}
	require.NoError(t, orch.Register(context.Background(), doc))

	docs, err := orch.Documents(context.Background())
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, string(model.StateNotUploaded), docs[0].Status)
}

func TestOpenStoresMemory(t *testing.T) {
	cfg := config.Default()
	cfg.SQLitePath = MemoryPath
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	stores, err := OpenStores(context.Background(), cfg, logger)
	require.NoError(t, err)
	defer stores.Close()
	assert.Equal(t, "memory", stores.Backend)

	orch := NewOrchestrator(cfg, stores, nil, logger)
	require.NoError(t, orch.Register(context.Background(), &model.Document{Filename: "a.pdf", TaxID: "12345678000195"}))
	docs, err := orch.Documents(context.Background())
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestOpenArchiveDisabled(t *testing.T) {
	archive, err := OpenArchive(context.Background(), config.Default())
	require.NoError(t, err)
	assert.Nil(t, archive)
}
