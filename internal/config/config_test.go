package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, "memory", cfg.Storage.Provider)
	require.Equal(t, "memory", cfg.Bus.Provider)
	require.Equal(t, "Tiki", cfg.ListCrawl.Source)
	require.Equal(t, 3, cfg.ListCrawl.MaxPages)
	require.Equal(t, 40, cfg.ListCrawl.PageSize)
	require.Equal(t, 100, cfg.ListCrawl.BulkBatchSize)
	require.Equal(t, 3, cfg.DetailCrawl.MaxRetryAttempts)
	require.Equal(t, 100, cfg.PriceUpdate.BatchSize)
	require.Equal(t, "0 2 * * *", cfg.PriceUpdate.CronSpec)
}

func TestLoadFromFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
server:
  port: 9090
storage:
  provider: postgres
  db:
    dsn: postgres://localhost/ingest
bus:
  provider: pubsub
  project_id: demo-project
list_crawl:
  max_pages: 5
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "postgres", cfg.Storage.Provider)
	require.Equal(t, "postgres://localhost/ingest", cfg.Storage.DB.DSN)
	require.Equal(t, "pubsub", cfg.Bus.Provider)
	require.Equal(t, 5, cfg.ListCrawl.MaxPages)
	// Untouched keys keep their defaults.
	require.Equal(t, 40, cfg.ListCrawl.PageSize)
}

func TestValidateRejectsPostgresWithoutDSN(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Storage.Provider = "postgres"
	cfg.Storage.DB.DSN = ""
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsUnknownBusProvider(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	cfg.Bus.Provider = "kafka"
	require.Error(t, cfg.Validate())
}
