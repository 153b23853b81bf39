package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/devrev/sharedcounter/internal/model"
	"github.com/devrev/sharedcounter/internal/util/workerpool"
)

// scheduleFlushes submits one flush task per non-empty work queue. A full
// worker pool skips the counter until the next tick.
func (s *CounterService) scheduleFlushes() {
	s.queues.Range(func(_, value any) bool {
		q := value.(*workQueue)
		if q.len() == 0 {
			return true
		}

		task := workerpool.Task{
			ID: q.name,
			Fn: func(ctx context.Context) error {
				_, err := s.flushQueue(ctx, q, false)
				return err
			},
		}
		if !s.pool.TrySubmit(task) {
			s.metrics.FlushSubmitRejected.Inc()
			s.logger.Debug("Flush pool saturated, deferring counter",
				zap.String("counter", q.name),
				zap.Int("pending", q.len()))
		}
		return true
	})
	s.metrics.PendingIncrements.Set(float64(s.pendingTotal()))

	stats := s.pool.Stats()
	s.metrics.RecordFlushPool(stats.ActiveWorkers, stats.QueuedTasks, stats.WorkerUtilization(), stats.QueueUtilization())
}

// flushQueue drains up to batchLimit increments of q into the store in one
// locked transaction and returns how many were dequeued. With wait=false a
// queue already being drained elsewhere is left alone.
//
// Increments dequeued inside a transaction that then fails are lost.
func (s *CounterService) flushQueue(ctx context.Context, q *workQueue, wait bool) (int, error) {
	if wait {
		q.workMu.Lock()
	} else if !q.workMu.TryLock() {
		return 0, nil
	}
	defer q.workMu.Unlock()

	if q.len() == 0 {
		return 0, nil
	}

	start := time.Now()
	var dequeued, applied, skipped int

	err := s.store.UpdateLocked(ctx, q.name, func(rec *model.CounterRecord) (bool, error) {
		for i := 0; i < s.cfg.BatchLimit; i++ {
			item, ok := q.poll()
			if !ok {
				break
			}
			dequeued++

			if item.Decrement {
				rec.Subtract(item.Value)
				applied++
				continue
			}

			if s.quota.WouldViolateAfterIncrement(rec, item.Timestamp, item.Field, item.Limit, item.Value) {
				skipped++
				s.logger.Debug("Queued increment over quota at flush, skipping",
					zap.String("counter", q.name),
					zap.String("field", item.Field.String()),
					zap.Int64("limit", item.Limit))
				continue
			}

			s.quota.Apply(rec, item.Timestamp, item.Value)
			applied++
		}
		return applied > 0, nil
	})
	s.metrics.PendingIncrements.Sub(float64(dequeued))

	if err != nil {
		s.metrics.RecordFlush("error", 0, 0, time.Since(start))
		s.metrics.RecordFlushLoss(dequeued)
		s.logger.Error("Failed to flush counter",
			zap.String("counter", q.name),
			zap.Int("lost_increments", dequeued),
			zap.Int("remaining", q.len()),
			zap.Error(err))
		return dequeued, fmt.Errorf("failed to flush counter %s: %w", q.name, err)
	}

	s.metrics.RecordFlush("ok", applied, skipped, time.Since(start))
	s.logger.Debug("Flushed counter",
		zap.String("counter", q.name),
		zap.Int("applied", applied),
		zap.Int("skipped", skipped),
		zap.Int("remaining", q.len()))
	return dequeued, nil
}

// Flush synchronously drains every work queue, waiting for any running
// flush of the same counter to finish first
func (s *CounterService) Flush(ctx context.Context) error {
	var firstErr error
	s.queues.Range(func(_, value any) bool {
		q := value.(*workQueue)
		for q.len() > 0 {
			if err := ctx.Err(); err != nil {
				firstErr = err
				return false
			}
			if _, err := s.flushQueue(ctx, q, true); err != nil {
				if firstErr == nil {
					firstErr = err
				}
				break
			}
		}
		return true
	})
	return firstErr
}

func (s *CounterService) pendingTotal() int {
	total := 0
	s.queues.Range(func(_, value any) bool {
		total += value.(*workQueue).len()
		return true
	})
	return total
}
