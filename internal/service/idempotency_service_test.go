package service

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/devrev/sharedcounter/internal/store"
)

// MockIdempotencyStore is a mock implementation of IdempotencyStore
type MockIdempotencyStore struct {
	mock.Mock
}

func (m *MockIdempotencyStore) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	data, _ := args.Get(0).([]byte)
	return data, args.Error(1)
}

func (m *MockIdempotencyStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	args := m.Called(ctx, key, value, ttl)
	return args.Error(0)
}

func (m *MockIdempotencyStore) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

func (m *MockIdempotencyStore) Ping(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockIdempotencyStore) Close() error {
	return nil
}

func TestIdempotencyService_StoreAndGet(t *testing.T) {
	mockStore := new(MockIdempotencyStore)
	svc := NewIdempotencyService(mockStore, time.Hour, zap.NewNop())
	ctx := context.Background()

	var stored []byte
	mockStore.On("Set", ctx, "orders:increment:req-1", mock.Anything, time.Hour).
		Run(func(args mock.Arguments) {
			stored = args.Get(2).([]byte)
		}).
		Return(nil)

	err := svc.Store(ctx, "orders", "increment", "req-1", &IdempotencyResponse{
		StatusCode: 200,
		Body:       json.RawMessage(`{"value":7}`),
	})
	require.NoError(t, err)
	require.NotEmpty(t, stored)

	mockStore.On("Get", ctx, "orders:increment:req-1").Return(stored, nil)
	resp, err := svc.Get(ctx, "orders", "increment", "req-1")
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 200, resp.StatusCode)
	assert.JSONEq(t, `{"value":7}`, string(resp.Body))
	assert.False(t, resp.Timestamp.IsZero())

	mockStore.AssertExpectations(t)
}

func TestIdempotencyService_GetMissing(t *testing.T) {
	mockStore := new(MockIdempotencyStore)
	svc := NewIdempotencyService(mockStore, time.Hour, zap.NewNop())
	ctx := context.Background()

	mockStore.On("Get", ctx, "c:reset:k").Return(nil, store.ErrNotFound)
	resp, err := svc.Get(ctx, "c", "reset", "k")
	require.NoError(t, err)
	assert.Nil(t, resp)

	mockStore.On("Get", ctx, "c:reset:broken").Return(nil, stderrors.New("connection reset"))
	_, err = svc.Get(ctx, "c", "reset", "broken")
	assert.Error(t, err)

	mockStore.On("Get", ctx, "c:reset:garbage").Return([]byte("not json"), nil)
	_, err = svc.Get(ctx, "c", "reset", "garbage")
	assert.Error(t, err)
}

func TestIdempotencyService_Delete(t *testing.T) {
	mockStore := new(MockIdempotencyStore)
	svc := NewIdempotencyService(mockStore, time.Hour, zap.NewNop())
	ctx := context.Background()

	mockStore.On("Delete", ctx, "c:decrement:k").Return(nil)
	require.NoError(t, svc.Delete(ctx, "c", "decrement", "k"))
	mockStore.AssertExpectations(t)
}

func TestIdempotencyService_ValidateIdempotencyKey(t *testing.T) {
	svc := NewIdempotencyService(new(MockIdempotencyStore), time.Hour, zap.NewNop())

	assert.True(t, svc.ValidateIdempotencyKey(svc.Generate()))
	assert.True(t, svc.ValidateIdempotencyKey("order-1234"))
	assert.False(t, svc.ValidateIdempotencyKey(""))
	assert.False(t, svc.ValidateIdempotencyKey("has space"))
	assert.False(t, svc.ValidateIdempotencyKey(strings.Repeat("k", 129)))
	assert.NotEqual(t, svc.Generate(), svc.Generate())
}
