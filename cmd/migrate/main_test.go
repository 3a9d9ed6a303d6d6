package main

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tbourn/go-chat-history/internal/config"
	"github.com/tbourn/go-chat-history/internal/migrate"
	"github.com/tbourn/go-chat-history/internal/repo"
)

func embeddedConfig(path string) config.Config {
	return config.Config{DB: config.DatabaseConfig{Path: path, Fallback: config.FallbackEmbedded}}
}

func TestOpenTarget_DryRunCreatesNoFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.db")

	db, err := openTarget(embeddedConfig(path), true)
	require.NoError(t, err)
	require.Nil(t, db)
	_, err = os.Stat(path)
	require.True(t, errors.Is(err, os.ErrNotExist))
}

func TestOpenTarget_DryRunLeavesSchemaAlone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.db")
	existing, err := repo.OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, repo.Close(existing))

	db, err := openTarget(embeddedConfig(path), true)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close(db) })
	require.False(t, migrate.SchemaReady(db))
}

func TestOpenTarget_MigratesSchema(t *testing.T) {
	db, err := openTarget(embeddedConfig(filepath.Join(t.TempDir(), "app.db")), false)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close(db) })
	require.True(t, migrate.SchemaReady(db))
}
