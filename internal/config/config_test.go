package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 4096, cfg.Counter.BatchLimit)
	assert.Equal(t, 4096, cfg.Counter.QueueSize)
	assert.Equal(t, 500*time.Millisecond, cfg.Counter.FlushInterval)
	assert.Equal(t, 60*time.Second, cfg.Counter.ReadCacheClearInterval)
	assert.Equal(t, 16, cfg.Counter.FlushWorkers)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoad_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9000
database:
  driver: sqlite
  sqlite_path: /tmp/counters.db
counter:
  batch_limit: 128
  flush_interval: 250ms
  time_zone: UTC
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 128, cfg.Counter.BatchLimit)
	assert.Equal(t, 250*time.Millisecond, cfg.Counter.FlushInterval)
	// untouched keys keep their defaults
	assert.Equal(t, 4096, cfg.Counter.QueueSize)

	loc, err := cfg.Counter.Location()
	require.NoError(t, err)
	assert.Equal(t, time.UTC, loc)
}

func TestLoad_EnvironmentOverrides(t *testing.T) {
	t.Setenv("DATABASE_DRIVER", "memory")
	t.Setenv("COUNTER_BATCH_LIMIT", "10")
	t.Setenv("COUNTER_FLUSH_INTERVAL", "2s")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 10, cfg.Counter.BatchLimit)
	assert.Equal(t, 2*time.Second, cfg.Counter.FlushInterval)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"bad driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"sqlite without path", func(c *Config) { c.Database.Driver = "sqlite"; c.Database.SQLitePath = "" }},
		{"zero batch", func(c *Config) { c.Counter.BatchLimit = 0 }},
		{"zero flush interval", func(c *Config) { c.Counter.FlushInterval = 0 }},
		{"unknown zone", func(c *Config) { c.Counter.TimeZone = "Mars/Olympus" }},
		{"bad idempotency backend", func(c *Config) { c.Idempotency.Enabled = true; c.Idempotency.Backend = "disk" }},
		{"bad rate limiter", func(c *Config) { c.RateLimiter.Enabled = true; c.RateLimiter.RequestsPerSecond = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, DefaultConfig().Validate())
}

func TestDumpRedactsSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.Password = "hunter2"

	out, err := Dump(cfg)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "hunter2")
	assert.Contains(t, string(out), "flush_interval: 500ms")
	assert.Equal(t, "hunter2", cfg.Database.Password, "dump must not mutate the source")
}
