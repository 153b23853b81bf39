package store

import (
	"context"
	"sync"

	"github.com/devrev/sharedcounter/internal/model"
)

type memoryRow struct {
	mu  sync.Mutex
	rec model.CounterRecord
}

// MemoryCounterStore implements CounterStore in process memory. Each row has
// its own mutex, so locked updates of different counters never contend.
type MemoryCounterStore struct {
	mu   sync.RWMutex
	rows map[string]*memoryRow
}

// NewMemoryCounterStore creates an empty in-memory counter store
func NewMemoryCounterStore() *MemoryCounterStore {
	return &MemoryCounterStore{
		rows: make(map[string]*memoryRow),
	}
}

func (s *MemoryCounterStore) row(name string) (*memoryRow, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.rows[name]
	return r, ok
}

// Load retrieves a copy of the counter record
func (s *MemoryCounterStore) Load(ctx context.Context, name string) (*model.CounterRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r, ok := s.row(name)
	if !ok {
		return nil, ErrNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rec.Clone(), nil
}

// Exists checks whether the counter is present
func (s *MemoryCounterStore) Exists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	_, ok := s.row(name)
	return ok, nil
}

// Create registers a new counter with zeroed buckets
func (s *MemoryCounterStore) Create(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rows[name]; ok {
		return ErrAlreadyExists
	}
	s.rows[name] = &memoryRow{rec: model.CounterRecord{Name: name}}
	return nil
}

// UpdateLocked runs fn on a working copy while holding the row mutex. The
// copy replaces the row only when fn asks to persist.
func (s *MemoryCounterStore) UpdateLocked(ctx context.Context, name string, fn UpdateFunc) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r, ok := s.row(name)
	if !ok {
		return ErrNotFound
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	working := r.rec.Clone()
	persist, err := fn(working)
	if err != nil {
		return err
	}
	if persist {
		r.rec = *working
	}
	return nil
}

// Ping always succeeds
func (s *MemoryCounterStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op
func (s *MemoryCounterStore) Close() {}
