package algorithm

import (
	"time"

	"github.com/devrev/sharedcounter/internal/model"
)

// QuotaEvaluator decides whether a counter is over a limit. The zero value
// evaluates calendar buckets in local time.
type QuotaEvaluator struct {
	Location *time.Location
}

// NewQuotaEvaluator creates a quota evaluator bound to loc
func NewQuotaEvaluator(loc *time.Location) *QuotaEvaluator {
	return &QuotaEvaluator{Location: loc}
}

// ViolatesLimit reports whether the selected field is strictly above limit.
// A negative limit never violates.
func ViolatesLimit(rec *model.CounterRecord, field model.FieldOfInterest, limit int64) bool {
	if limit < 0 {
		return false
	}
	return rec.Field(field) > limit
}

// WouldViolateAfterIncrement evaluates the limit against a rolled-forward copy
// of rec. rec itself is left untouched.
func (q *QuotaEvaluator) WouldViolateAfterIncrement(rec *model.CounterRecord, timestamp int64, field model.FieldOfInterest, limit, delta int64) bool {
	if limit < 0 {
		return false
	}
	probe := rec.Clone()
	Rollover(probe, timestamp, delta, q.Location)
	return ViolatesLimit(probe, field, limit)
}

// Apply rolls rec forward in place
func (q *QuotaEvaluator) Apply(rec *model.CounterRecord, timestamp, delta int64) {
	Rollover(rec, timestamp, delta, q.Location)
}
