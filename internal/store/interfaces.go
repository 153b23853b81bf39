package store

import (
	"context"
	"errors"
	"time"

	"github.com/devrev/sharedcounter/internal/model"
)

// ErrNotFound is returned when a key is not found
var ErrNotFound = errors.New("not found")

// ErrAlreadyExists is returned when creating a counter that is already registered
var ErrAlreadyExists = errors.New("already exists")

// UpdateFunc mutates a row-locked counter record. Returning persist=false
// leaves the row untouched; a non-nil error rolls the transaction back.
type UpdateFunc func(rec *model.CounterRecord) (persist bool, err error)

// CounterStore is the durable home of counter records
type CounterStore interface {
	// Load reads a counter without taking a row lock
	Load(ctx context.Context, name string) (*model.CounterRecord, error)
	// Exists reports whether the counter row is present
	Exists(ctx context.Context, name string) (bool, error)
	// Create inserts the registry row and a zeroed counter row in one transaction
	Create(ctx context.Context, name string) error
	// UpdateLocked runs fn inside one transaction holding the row lock
	UpdateLocked(ctx context.Context, name string, fn UpdateFunc) error

	// Health check
	Ping(ctx context.Context) error
	Close()
}

// IdempotencyStore interface for idempotency key operations
type IdempotencyStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
	Close() error
}
