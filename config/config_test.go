package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults_Validate(t *testing.T) {
	cfg := Defaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 5*time.Minute, cfg.Monitor.SuppressWindow.Duration)
	assert.Equal(t, 50, cfg.History.Limit)
	assert.Equal(t, 100.0, cfg.API.DefaultAmount)
}

func TestLoad_TOMLThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "posmon.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[feed]
reconnect_delay = "2s"

[monitor]
suppress_window = "90s"

[history]
backend = "sqlite"
limit = 20

[redis]
enabled = true
addr = "redis:6379"
`), 0o644))

	t.Setenv("POSMON_HISTORY_LIMIT", "30")
	t.Setenv("POSMON_REDIS_ADDR", "cache:6380")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 2*time.Second, cfg.Feed.ReconnectDelay.Duration)
	assert.Equal(t, 90*time.Second, cfg.Monitor.SuppressWindow.Duration)
	assert.Equal(t, "sqlite", cfg.History.Backend)
	assert.Equal(t, 30, cfg.History.Limit, "env overrides file")
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "cache:6380", cfg.Redis.Addr)
	assert.Equal(t, "pub:positions", cfg.Redis.Channel, "untouched keys keep defaults")
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, Defaults().API.Addr, cfg.API.Addr)
}

func TestLoad_BadDuration(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	require.NoError(t, os.WriteFile(path, []byte("[monitor]\nsuppress_window = \"soon\"\n"), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate_CollectsErrors(t *testing.T) {
	cfg := Defaults()
	cfg.History.Backend = "postgres"
	cfg.API.DefaultAmount = 0
	cfg.Telegram.Token = "abc"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "history.backend")
	assert.Contains(t, err.Error(), "api.default_amount")
	assert.Contains(t, err.Error(), "telegram.token")
}
