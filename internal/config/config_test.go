package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/courier/internal/config"
)

func writeTempYAML(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "courier.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, time.Minute, cfg.Outbound.TickInterval)
	assert.Equal(t, 30*time.Second, cfg.Queue.Lease)
	assert.Equal(t, 1024, cfg.EventLoop.Capacity)
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := writeTempYAML(t, `
store:
  path: /var/lib/courier/client.db
log:
  level: debug
  format: json
outbound:
  tick_interval: 15s
  remote_rps: 2.5
queue:
  lease: 1m
`)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "/var/lib/courier/client.db", cfg.Store.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 15*time.Second, cfg.Outbound.TickInterval)
	assert.Equal(t, 2.5, cfg.Outbound.RemoteRPS)
	assert.Equal(t, 5, cfg.Outbound.RemoteBurst, "unset fields keep their default")
	assert.Equal(t, time.Minute, cfg.Queue.Lease)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	path := writeTempYAML(t, "store:\n  path: from-file.db\n")
	t.Setenv("COURIER_STORE_PATH", "from-env.db")
	t.Setenv("COURIER_LOG_LEVEL", "warn")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env.db", cfg.Store.Path)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoad_EmptyPathAppliesEnv(t *testing.T) {
	t.Setenv("COURIER_STORE_PATH", "from-env.db")

	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-env.db", cfg.Store.Path)
	assert.Equal(t, config.Default().Log.Level, cfg.Log.Level)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTempYAML(t, "store: [unclosed\n")
	_, err := config.Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		want   string
	}{
		{"empty store path", func(c *config.Config) { c.Store.Path = "" }, "store.path"},
		{"unknown level", func(c *config.Config) { c.Log.Level = "trace" }, "log.level"},
		{"unknown format", func(c *config.Config) { c.Log.Format = "xml" }, "log.format"},
		{"zero tick", func(c *config.Config) { c.Outbound.TickInterval = 0 }, "outbound.tick_interval"},
		{"rate without burst", func(c *config.Config) { c.Outbound.RemoteBurst = 0 }, "outbound.remote_burst"},
		{"zero lease", func(c *config.Config) { c.Queue.Lease = 0 }, "queue.lease"},
		{"zero capacity", func(c *config.Config) { c.EventLoop.Capacity = 0 }, "eventloop.capacity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
