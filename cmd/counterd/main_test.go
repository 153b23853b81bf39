package main

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/devrev/sharedcounter/internal/config"
	"github.com/devrev/sharedcounter/internal/store"
)

func TestInitLogger(t *testing.T) {
	logger, err := initLogger(config.LoggingConfig{Level: "debug", Format: "json"})
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))

	logger, err = initLogger(config.LoggingConfig{Level: "warn", Format: "console"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))

	_, err = initLogger(config.LoggingConfig{Level: "loud"})
	assert.Error(t, err)
}

func TestOpenCounterStore(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Database.Driver = "memory"
		s, err := openCounterStore(ctx, cfg, zap.NewNop())
		require.NoError(t, err)
		defer s.Close()
		assert.IsType(t, &store.MemoryCounterStore{}, s)
	})

	t.Run("sqlite", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Database.Driver = "sqlite"
		cfg.Database.SQLitePath = filepath.Join(t.TempDir(), "counters.db")
		s, err := openCounterStore(ctx, cfg, zap.NewNop())
		require.NoError(t, err)
		defer s.Close()

		require.NoError(t, s.Create(ctx, "boot"))
		require.NoError(t, s.Ping(ctx))
	})

	t.Run("unknown driver", func(t *testing.T) {
		cfg := config.DefaultConfig()
		cfg.Database.Driver = "oracle"
		_, err := openCounterStore(ctx, cfg, zap.NewNop())
		assert.Error(t, err)
	})
}

func TestOpenIdempotencyStore(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Idempotency.Backend = "memory"
	cfg.Idempotency.TTL = time.Hour

	s, err := openIdempotencyStore(cfg, zap.NewNop())
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Ping(context.Background()))

	cfg.Idempotency.Backend = "memcached"
	_, err = openIdempotencyStore(cfg, zap.NewNop())
	assert.Error(t, err)
}
