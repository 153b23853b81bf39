package service

import (
	"context"
	stderrors "errors"
	"time"

	"go.uber.org/zap"

	"github.com/devrev/sharedcounter/internal/algorithm"
	"github.com/devrev/sharedcounter/internal/errors"
	"github.com/devrev/sharedcounter/internal/model"
	"github.com/devrev/sharedcounter/internal/store"
)

const pathSync = "sync"

// incrementWithinLimit applies delta inside one locked transaction unless the
// rolled-forward field would exceed limit, in which case nothing is written.
// A committed write replaces the cached snapshot.
func (s *CounterService) incrementWithinLimit(ctx context.Context, name string, timestamp int64, field model.FieldOfInterest, limit, delta int64) (Result, error) {
	start := time.Now()

	var (
		result    Result
		committed *model.CounterRecord
	)
	err := s.store.UpdateLocked(ctx, name, func(rec *model.CounterRecord) (bool, error) {
		s.quota.Apply(rec, timestamp, delta)
		if algorithm.ViolatesLimit(rec, field, limit) {
			result = exceeded()
			return false, nil
		}
		result = Result{Value: rec.Field(field)}
		committed = rec.Clone()
		return true, nil
	})
	if err != nil {
		return Result{}, s.syncError(name, err)
	}

	if result.Exceeded {
		s.metrics.RecordQuotaRejection(pathSync, field.String())
		s.logger.Debug("Synchronous increment rejected by quota",
			zap.String("counter", name),
			zap.String("field", field.String()),
			zap.Int64("limit", limit))
		return result, nil
	}

	s.cache.put(committed)
	s.metrics.RecordIncrement(pathSync, field.String(), time.Since(start))
	return result, nil
}

// incrementAndReturnValue applies delta unconditionally and returns the new field value
func (s *CounterService) incrementAndReturnValue(ctx context.Context, name string, timestamp int64, field model.FieldOfInterest, delta int64) (int64, error) {
	result, err := s.incrementWithinLimit(ctx, name, timestamp, field, model.NoLimit, delta)
	if err != nil {
		return 0, err
	}
	return result.Value, nil
}

// decrementSync subtracts delta from every granularity in one locked transaction
func (s *CounterService) decrementSync(ctx context.Context, name string, delta int64) error {
	var committed *model.CounterRecord
	err := s.store.UpdateLocked(ctx, name, func(rec *model.CounterRecord) (bool, error) {
		rec.Subtract(delta)
		committed = rec.Clone()
		return true, nil
	})
	if err != nil {
		return s.syncError(name, err)
	}
	s.cache.put(committed)
	return nil
}

// loadValue reads one field straight from the store without locking
func (s *CounterService) loadValue(ctx context.Context, name string, field model.FieldOfInterest) (int64, error) {
	rec, err := s.store.Load(ctx, name)
	if err != nil {
		if stderrors.Is(err, store.ErrNotFound) {
			return 0, errors.NotFound(name)
		}
		return 0, errors.PersistenceFailed("failed to load counter", err)
	}
	return rec.Field(field), nil
}

// syncError classifies a failed locked transaction. A missing row after
// EnsureExists is a contract violation and surfaces as ErrCounterNotFound.
func (s *CounterService) syncError(name string, err error) error {
	if stderrors.Is(err, store.ErrNotFound) {
		s.logger.Error("Counter row missing",
			zap.String("counter", name))
		return errors.CounterMissing(name)
	}
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return err
	}
	s.metrics.RecordError("sync_update")
	return errors.PersistenceFailed("failed to update counter", err)
}
