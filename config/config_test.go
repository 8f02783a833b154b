package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "database:\n  dsn: \"file::memory:\"\n  driver: sqlite\n")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 2*time.Second, cfg.Server.CacheTTL)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "gorm", cfg.Realtime.Backend)
	assert.Equal(t, 5*time.Second, cfg.Realtime.PollInterval)
	assert.Equal(t, "faculty/+/status", cfg.StatusFeed.Topic)
	assert.Equal(t, time.Hour, cfg.Session.IdleTTL)
	assert.Equal(t, time.Duration(0), cfg.Portal.Timeout, "no timeout unless configured")
	assert.Equal(t, 1, cfg.WorkerPool.Size)
	assert.Equal(t, 3600, cfg.Push.TTL)
	assert.False(t, cfg.Push.Enabled())
}

func TestLoad_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "portal:\n  api_url: http://file.example\nserver:\n  port: 9000\n")
	t.Setenv("VTOP_API_URL", "http://env.example")
	t.Setenv("PORT", "9100")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://env.example", cfg.Portal.APIURL)
	assert.Equal(t, 9100, cfg.Server.Port)
}

func TestLoad_InvalidPortEnvIgnored(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9000\n")
	t.Setenv("PORT", "not-a-port")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
