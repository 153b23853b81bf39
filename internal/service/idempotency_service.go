package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/devrev/sharedcounter/internal/store"
)

const maxIdempotencyKeyLength = 128

// IdempotencyService remembers the outcome of write requests so a retried
// request with the same key replays the first response
type IdempotencyService struct {
	idempotencyStore store.IdempotencyStore
	ttl              time.Duration
	logger           *zap.Logger
}

// IdempotencyResponse represents a cached response
type IdempotencyResponse struct {
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body"`
	Timestamp  time.Time       `json:"timestamp"`
}

// NewIdempotencyService creates a new idempotency service
func NewIdempotencyService(
	idempotencyStore store.IdempotencyStore,
	ttl time.Duration,
	logger *zap.Logger,
) *IdempotencyService {
	return &IdempotencyService{
		idempotencyStore: idempotencyStore,
		ttl:              ttl,
		logger:           logger,
	}
}

// Generate returns a fresh idempotency key
func (s *IdempotencyService) Generate() string {
	return uuid.NewString()
}

// Get retrieves a cached response, or nil when the key was never stored
func (s *IdempotencyService) Get(ctx context.Context, counter, operation, idempotencyKey string) (*IdempotencyResponse, error) {
	storeKey := s.buildStoreKey(counter, operation, idempotencyKey)

	data, err := s.idempotencyStore.Get(ctx, storeKey)
	if err != nil {
		if stderrors.Is(err, store.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get idempotency response: %w", err)
	}

	var response IdempotencyResponse
	if err := json.Unmarshal(data, &response); err != nil {
		s.logger.Error("Invalid idempotency response",
			zap.String("counter", counter),
			zap.String("idempotency_key", idempotencyKey),
			zap.Error(err))
		return nil, fmt.Errorf("invalid idempotency response: %w", err)
	}

	s.logger.Debug("Idempotency response found",
		zap.String("counter", counter),
		zap.String("operation", operation),
		zap.String("idempotency_key", idempotencyKey))
	return &response, nil
}

// Store stores a response under the key
func (s *IdempotencyService) Store(
	ctx context.Context,
	counter, operation, idempotencyKey string,
	response *IdempotencyResponse,
) error {
	storeKey := s.buildStoreKey(counter, operation, idempotencyKey)

	response.Timestamp = time.Now()
	data, err := json.Marshal(response)
	if err != nil {
		return fmt.Errorf("failed to encode idempotency response: %w", err)
	}

	if err := s.idempotencyStore.Set(ctx, storeKey, data, s.ttl); err != nil {
		return fmt.Errorf("failed to store idempotency response: %w", err)
	}

	s.logger.Debug("Stored idempotency response",
		zap.String("counter", counter),
		zap.String("operation", operation),
		zap.String("idempotency_key", idempotencyKey),
		zap.Duration("ttl", s.ttl))
	return nil
}

// Delete deletes an idempotency key
func (s *IdempotencyService) Delete(ctx context.Context, counter, operation, idempotencyKey string) error {
	storeKey := s.buildStoreKey(counter, operation, idempotencyKey)
	if err := s.idempotencyStore.Delete(ctx, storeKey); err != nil {
		return fmt.Errorf("failed to delete idempotency key: %w", err)
	}
	return nil
}

func (s *IdempotencyService) buildStoreKey(counter, operation, idempotencyKey string) string {
	return fmt.Sprintf("%s:%s:%s", counter, operation, idempotencyKey)
}

// ValidateIdempotencyKey reports whether a client supplied key is usable
func (s *IdempotencyService) ValidateIdempotencyKey(idempotencyKey string) bool {
	if idempotencyKey == "" || len(idempotencyKey) > maxIdempotencyKeyLength {
		return false
	}
	for _, c := range idempotencyKey {
		if c < 0x21 || c > 0x7e {
			return false
		}
	}
	return true
}
