package service

import (
	"context"
	stderrors "errors"
	"time"

	"go.uber.org/zap"

	"github.com/devrev/sharedcounter/internal/errors"
	"github.com/devrev/sharedcounter/internal/model"
	"github.com/devrev/sharedcounter/internal/store"
)

const pathAsync = "async"

// asyncResult carries both sides of an optimistic increment
type asyncResult struct {
	Result
	// After is the field value once this call's delta was applied to the snapshot
	After int64
}

// asyncIncrement checks the limit against a snapshot, rolls the snapshot
// forward and queues the increment for the flush scheduler. Value holds the
// field as it was before this call.
func (s *CounterService) asyncIncrement(ctx context.Context, name string, timestamp int64, field model.FieldOfInterest, limit, delta int64, readSync bool) (asyncResult, error) {
	start := time.Now()

	q, ok := s.workQueue(name)
	if !ok {
		return asyncResult{}, errors.CounterMissing(name)
	}

	var res asyncResult
	if readSync {
		rec, err := s.store.Load(ctx, name)
		if err != nil {
			return asyncResult{}, s.loadError(name, err)
		}
		res = s.rollSnapshot(rec, timestamp, field, limit, delta)
	} else {
		entry, err := s.cache.entry(ctx, name)
		if err != nil {
			return asyncResult{}, s.loadError(name, err)
		}
		entry.mu.Lock()
		res = s.rollSnapshot(entry.rec, timestamp, field, limit, delta)
		entry.mu.Unlock()
	}

	if res.Exceeded {
		s.metrics.RecordQuotaRejection(pathAsync, field.String())
		s.logger.Debug("Asynchronous increment rejected by quota",
			zap.String("counter", name),
			zap.String("field", field.String()),
			zap.Int64("limit", limit))
		return res, nil
	}

	item := model.PendingIncrement{
		Timestamp: timestamp,
		Field:     field,
		Limit:     limit,
		Value:     delta,
	}
	if err := s.enqueue(ctx, q, item); err != nil {
		return asyncResult{}, err
	}

	s.metrics.RecordIncrement(pathAsync, field.String(), time.Since(start))
	return res, nil
}

// rollSnapshot evaluates and, when allowed, applies one increment to rec in place
func (s *CounterService) rollSnapshot(rec *model.CounterRecord, timestamp int64, field model.FieldOfInterest, limit, delta int64) asyncResult {
	if s.quota.WouldViolateAfterIncrement(rec, timestamp, field, limit, delta) {
		return asyncResult{Result: exceeded()}
	}
	before := rec.Field(field)
	s.quota.Apply(rec, timestamp, delta)
	return asyncResult{
		Result: Result{Value: before},
		After:  rec.Field(field),
	}
}

// asyncDecrement queues a compensating decrement and mirrors it in the cache
func (s *CounterService) asyncDecrement(ctx context.Context, name string, timestamp, delta int64) error {
	q, ok := s.workQueue(name)
	if !ok {
		return errors.CounterMissing(name)
	}

	item := model.PendingIncrement{
		Timestamp: timestamp,
		Limit:     model.NoLimit,
		Value:     delta,
		Decrement: true,
	}
	if err := s.enqueue(ctx, q, item); err != nil {
		return err
	}

	if entry, ok := s.cache.peek(name); ok {
		entry.mu.Lock()
		entry.rec.Subtract(delta)
		entry.mu.Unlock()
	}
	return nil
}

// enqueue offers the item and falls back to a blocking put when the queue is
// full. Callers stall here until a flush makes room or ctx ends.
func (s *CounterService) enqueue(ctx context.Context, q *workQueue, item model.PendingIncrement) error {
	s.stopMu.RLock()
	defer s.stopMu.RUnlock()

	if s.stopped {
		return errors.ErrServiceStopped
	}

	if !q.offer(item) {
		s.metrics.EnqueueBlocked.Inc()
		s.logger.Debug("Work queue full, waiting for flush",
			zap.String("counter", q.name),
			zap.Int("queue_size", cap(q.items)))
		if err := q.put(ctx, item); err != nil {
			return err
		}
	}
	s.metrics.PendingIncrements.Inc()
	return nil
}

func (s *CounterService) loadError(name string, err error) error {
	if stderrors.Is(err, store.ErrNotFound) {
		return errors.CounterMissing(name)
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return err
	}
	s.metrics.RecordError("load")
	return errors.PersistenceFailed("failed to load counter", err)
}
