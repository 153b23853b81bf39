package service

import (
	"context"
	"sync"

	"github.com/devrev/sharedcounter/internal/model"
)

// workQueue buffers asynchronous increments for one counter. workMu is held
// by whichever flush task is currently draining the queue.
type workQueue struct {
	name   string
	items  chan model.PendingIncrement
	workMu sync.Mutex
}

func newWorkQueue(name string, size int) *workQueue {
	return &workQueue{
		name:  name,
		items: make(chan model.PendingIncrement, size),
	}
}

// offer enqueues without blocking and reports whether the item was accepted
func (q *workQueue) offer(item model.PendingIncrement) bool {
	select {
	case q.items <- item:
		return true
	default:
		return false
	}
}

// put blocks until the item is accepted or ctx is done
func (q *workQueue) put(ctx context.Context, item model.PendingIncrement) error {
	select {
	case q.items <- item:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// poll dequeues the oldest item without blocking
func (q *workQueue) poll() (model.PendingIncrement, bool) {
	select {
	case item := <-q.items:
		return item, true
	default:
		return model.PendingIncrement{}, false
	}
}

func (q *workQueue) len() int {
	return len(q.items)
}
