package store

import (
	"context"
	"time"

	"github.com/maypok86/otter/v2"
)

type idempotencyEntry struct {
	value     []byte
	expiresAt time.Time
}

// MemoryIdempotencyStore implements IdempotencyStore on a bounded in-process cache
type MemoryIdempotencyStore struct {
	cache *otter.Cache[string, idempotencyEntry]
	now   func() time.Time
}

// NewMemoryIdempotencyStore creates a store holding at most maxEntries keys,
// none of which outlives maxTTL
func NewMemoryIdempotencyStore(maxEntries int, maxTTL time.Duration) *MemoryIdempotencyStore {
	if maxEntries <= 0 {
		maxEntries = 10_000
	}
	if maxTTL <= 0 {
		maxTTL = 24 * time.Hour
	}
	return &MemoryIdempotencyStore{
		cache: otter.Must(&otter.Options[string, idempotencyEntry]{
			MaximumSize:      maxEntries,
			ExpiryCalculator: otter.ExpiryWriting[string, idempotencyEntry](maxTTL),
		}),
		now: time.Now,
	}
}

// Get retrieves a cached response
func (s *MemoryIdempotencyStore) Get(ctx context.Context, key string) ([]byte, error) {
	entry, ok := s.cache.GetIfPresent(key)
	if !ok {
		return nil, ErrNotFound
	}
	if !entry.expiresAt.IsZero() && s.now().After(entry.expiresAt) {
		s.cache.Invalidate(key)
		return nil, ErrNotFound
	}
	return entry.value, nil
}

// Set stores a response with TTL
func (s *MemoryIdempotencyStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	entry := idempotencyEntry{value: append([]byte(nil), value...)}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.cache.Set(key, entry)
	return nil
}

// Delete removes an idempotency key
func (s *MemoryIdempotencyStore) Delete(ctx context.Context, key string) error {
	s.cache.Invalidate(key)
	return nil
}

// Ping always succeeds
func (s *MemoryIdempotencyStore) Ping(ctx context.Context) error {
	return nil
}

// Close drops all cached responses
func (s *MemoryIdempotencyStore) Close() error {
	s.cache.InvalidateAll()
	return nil
}
