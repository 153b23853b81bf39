package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRedisStore(t *testing.T) (*RedisIdempotencyStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	s := NewRedisIdempotencyStoreFromClient(client, zap.NewNop())
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisIdempotencyStore_GetMissing(t *testing.T) {
	s, _ := newRedisStore(t)

	_, err := s.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisIdempotencyStore_SetGetDelete(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "req-1", []byte(`{"value":3}`), time.Minute))
	assert.True(t, mr.Exists(idempotencyKeyPrefix+"req-1"))

	got, err := s.Get(ctx, "req-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"value":3}`, string(got))

	require.NoError(t, s.Delete(ctx, "req-1"))
	_, err = s.Get(ctx, "req-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisIdempotencyStore_TTL(t *testing.T) {
	s, mr := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, s.Set(ctx, "req-ttl", []byte("x"), 30*time.Second))
	assert.Equal(t, 30*time.Second, mr.TTL(idempotencyKeyPrefix+"req-ttl"))

	mr.FastForward(31 * time.Second)
	_, err := s.Get(ctx, "req-ttl")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisIdempotencyStore_Ping(t *testing.T) {
	s, mr := newRedisStore(t)
	require.NoError(t, s.Ping(context.Background()))

	mr.Close()
	assert.Error(t, s.Ping(context.Background()))
}
