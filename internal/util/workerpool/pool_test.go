package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestWorkerPool_RunsTasks(t *testing.T) {
	pool := NewWorkerPool(Config{Name: "test", MaxWorkers: 4, QueueSize: 16, Logger: zap.NewNop()})

	var ran atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		require.NoError(t, pool.Submit(Task{ID: "t", Fn: func(context.Context) error {
			defer wg.Done()
			ran.Add(1)
			return nil
		}}))
	}
	wg.Wait()

	require.NoError(t, pool.Stop(time.Second))
	assert.Equal(t, int32(10), ran.Load())

	stats := pool.Stats()
	assert.Equal(t, uint64(10), stats.TotalTasks)
	assert.Equal(t, uint64(10), stats.CompletedTasks)
}

func TestWorkerPool_TrySubmitRejectsWhenFull(t *testing.T) {
	pool := NewWorkerPool(Config{Name: "full", MaxWorkers: 1, QueueSize: 1})

	release := make(chan struct{})
	started := make(chan struct{})
	require.True(t, pool.TrySubmit(Task{ID: "blocker", Fn: func(context.Context) error {
		close(started)
		<-release
		return nil
	}}))
	<-started

	require.True(t, pool.TrySubmit(Task{ID: "queued", Fn: func(context.Context) error { return nil }}))
	assert.False(t, pool.TrySubmit(Task{ID: "rejected", Fn: func(context.Context) error { return nil }}))

	err := pool.Submit(Task{ID: "rejected", Fn: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrQueueFull)

	close(release)
	require.NoError(t, pool.Stop(time.Second))
	assert.Equal(t, uint64(2), pool.Stats().RejectedTasks)
}

func TestWorkerPool_StopDrainsQueueAndRejectsLateTasks(t *testing.T) {
	pool := NewWorkerPool(Config{Name: "drain", MaxWorkers: 1, QueueSize: 8})

	var ran atomic.Int32
	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(Task{Fn: func(context.Context) error {
			ran.Add(1)
			return nil
		}}))
	}
	require.NoError(t, pool.Stop(time.Second))
	assert.Equal(t, int32(5), ran.Load())

	err := pool.Submit(Task{Fn: func(context.Context) error { return nil }})
	assert.ErrorIs(t, err, ErrStopped)
	assert.NoError(t, pool.Stop(time.Second), "second stop is a no-op")
}

func TestWorkerPool_FailuresAndPanics(t *testing.T) {
	pool := NewWorkerPool(Config{Name: "fail", MaxWorkers: 2, QueueSize: 4})

	require.NoError(t, pool.Submit(Task{ID: "err", Fn: func(context.Context) error { return errors.New("boom") }}))
	require.NoError(t, pool.Submit(Task{ID: "panic", Fn: func(context.Context) error { panic("kaboom") }}))
	require.NoError(t, pool.Stop(time.Second))

	assert.Equal(t, uint64(2), pool.Stats().FailedTasks)
}

func TestWorkerPool_StopTimeoutCancelsTasks(t *testing.T) {
	pool := NewWorkerPool(Config{Name: "slow", MaxWorkers: 1, QueueSize: 1})

	done := make(chan struct{})
	require.NoError(t, pool.Submit(Task{Fn: func(ctx context.Context) error {
		defer close(done)
		<-ctx.Done()
		return ctx.Err()
	}}))

	err := pool.Stop(20 * time.Millisecond)
	assert.Error(t, err)
	<-done
}

func TestStatsUtilization(t *testing.T) {
	s := Stats{MaxWorkers: 4, ActiveWorkers: 1, QueueSize: 10, QueuedTasks: 5}
	assert.InDelta(t, 25.0, s.WorkerUtilization(), 0.001)
	assert.InDelta(t, 50.0, s.QueueUtilization(), 0.001)
	assert.Zero(t, Stats{}.QueueUtilization())
}
