package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir(), "")
	require.NoError(t, err)

	require.Equal(t, "development", cfg.Environment)
	require.Equal(t, "postgres", cfg.DB.Driver)
	require.Equal(t, 24*time.Hour, cfg.Claims.FreshnessCeiling)
	require.Equal(t, 10*time.Second, cfg.DB.AllocationTimeout)
	require.Equal(t, 100, cfg.Worker.BatchSize)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "config.yaml")
	content := `
environment: production
database:
  driver: sqlite
  dsn: "file:rewards.db"
catalog:
  path: /etc/rewards/catalog.yaml
`
	require.NoError(t, os.WriteFile(file, []byte(content), 0o600))
	t.Setenv("REWARDS_WORKER_BATCH_SIZE", "25")

	cfg, err := LoadConfig(dir, file)
	require.NoError(t, err)

	require.True(t, cfg.IsProduction())
	require.Equal(t, "sqlite", cfg.DB.Driver)
	require.Equal(t, "file:rewards.db", cfg.DB.DSN)
	require.Equal(t, "/etc/rewards/catalog.yaml", cfg.Catalog.Path)
	require.Equal(t, 25, cfg.Worker.BatchSize)
}

func TestFormatIndex(t *testing.T) {
	require.Equal(t, "rewards-claim-activity", FormatIndex(ElasticConfig{Prefix: "rewards"}, "claim-activity"))
	require.Equal(t, "claim-activity", FormatIndex(ElasticConfig{}, "claim-activity"))
}
