package service

import (
	"github.com/devrev/sharedcounter/internal/errors"
)

// Options selects the read and write paths of one operation
type Options struct {
	// ReadSync forces a fresh store read instead of the cached snapshot
	ReadSync bool
	// WriteSync applies the increment in a locked transaction instead of queueing it
	WriteSync bool
}

// Result is the outcome of a limited increment. When Exceeded is set nothing
// was applied and Value is meaningless.
type Result struct {
	Value    int64
	Exceeded bool
}

// Err converts a rejected result into errors.ErrQuotaExceeded
func (r Result) Err() error {
	if r.Exceeded {
		return errors.ErrQuotaExceeded
	}
	return nil
}

func exceeded() Result {
	return Result{Exceeded: true}
}
