package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
database:
  host: localhost
  port: 5432
  user: app
  password: secret
  dbname: panel
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 60, cfg.Sync.IntervalSeconds)
	assert.Equal(t, 300, cfg.Fetch.CacheTTLSeconds)
	assert.Equal(t, 5, cfg.Fetch.MaxWorkers)
	assert.Equal(t, 20, cfg.Fetch.TimeoutSeconds)
	assert.Equal(t, 5000, cfg.Server.Port)
	assert.Equal(t, "disable", cfg.Database.SSLMode)
	assert.NotEmpty(t, cfg.Limit.Config)
	assert.Contains(t, cfg.Limit.Message, "{username}")
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
sync:
  interval_seconds: 120
`)

	t.Setenv("USAGE_SYNC_INTERVAL", "30")
	t.Setenv("FETCH_MAX_WORKERS", "10")
	t.Setenv("USER_LIMIT_REACHED_MESSAGE", "custom {username}")

	cfg, err := Load(path)
	require.NoError(t, err)

	// Переменные окружения перекрывают файл конфигурации
	assert.Equal(t, 30, cfg.Sync.IntervalSeconds)
	assert.Equal(t, 10, cfg.Fetch.MaxWorkers)
	assert.Equal(t, "custom {username}", cfg.Limit.Message)
}

func TestLoadBadEnvIgnored(t *testing.T) {
	path := writeConfig(t, "sync:\n  interval_seconds: 45\n")

	t.Setenv("USAGE_SYNC_INTERVAL", "not-a-number")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 45, cfg.Sync.IntervalSeconds)
}

func TestConnectionString(t *testing.T) {
	dc := &DatabaseConfig{
		Host: "db", Port: 5432, User: "app", Password: "pw", DBName: "panel", SSLMode: "disable",
	}
	assert.Equal(t,
		"host=db port=5432 user=app password=pw dbname=panel sslmode=disable",
		dc.GetConnectionString())
}
