package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryIdempotencyStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryIdempotencyStore(100, time.Hour)

	now := time.Date(2024, time.June, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	_, err := s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound)

	payload := []byte(`{"value":3}`)
	require.NoError(t, s.Set(ctx, "k", payload, time.Minute))
	payload[0] = 'x'

	got, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, `{"value":3}`, string(got), "stored value must be a copy")

	now = now.Add(2 * time.Minute)
	_, err = s.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrNotFound, "entry past its ttl is gone")

	require.NoError(t, s.Set(ctx, "k2", []byte("v"), 0))
	require.NoError(t, s.Delete(ctx, "k2"))
	_, err = s.Get(ctx, "k2")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.NoError(t, s.Ping(ctx))
	assert.NoError(t, s.Close())
}
