package model

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// NoLimit disables quota evaluation for an increment
const NoLimit int64 = -1

// ErrInvalidField is returned when a field name does not match any granularity
var ErrInvalidField = errors.New("invalid field of interest")

// FieldOfInterest selects one of the five rolling granularities of a counter
type FieldOfInterest int

const (
	FieldSecond FieldOfInterest = iota
	FieldMinute
	FieldHour
	FieldDay
	FieldMonth
)

// AllFields lists the granularities from finest to coarsest
var AllFields = []FieldOfInterest{FieldSecond, FieldMinute, FieldHour, FieldDay, FieldMonth}

// String returns the short wire name of the field
func (f FieldOfInterest) String() string {
	switch f {
	case FieldSecond:
		return "sec"
	case FieldMinute:
		return "min"
	case FieldHour:
		return "hour"
	case FieldDay:
		return "day"
	case FieldMonth:
		return "month"
	default:
		return fmt.Sprintf("field(%d)", int(f))
	}
}

// Valid reports whether f is one of the five known granularities
func (f FieldOfInterest) Valid() bool {
	return f >= FieldSecond && f <= FieldMonth
}

// ParseField converts a wire name into a FieldOfInterest
func ParseField(s string) (FieldOfInterest, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sec", "second":
		return FieldSecond, nil
	case "min", "minute":
		return FieldMinute, nil
	case "hour", "hr":
		return FieldHour, nil
	case "day":
		return FieldDay, nil
	case "month", "mnt":
		return FieldMonth, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidField, s)
	}
}

// CounterRecord is the durable state of one named counter
type CounterRecord struct {
	Name        string
	SecondCount int64
	MinuteCount int64
	HourCount   int64
	DayCount    int64
	MonthCount  int64
	LastUpdate  int64 // epoch milliseconds
}

// Field returns the count tracked for the given granularity
func (r *CounterRecord) Field(f FieldOfInterest) int64 {
	switch f {
	case FieldSecond:
		return r.SecondCount
	case FieldMinute:
		return r.MinuteCount
	case FieldHour:
		return r.HourCount
	case FieldDay:
		return r.DayCount
	case FieldMonth:
		return r.MonthCount
	default:
		panic(fmt.Sprintf("model: unknown field of interest %d", int(f)))
	}
}

// Subtract removes delta from every granularity
func (r *CounterRecord) Subtract(delta int64) {
	r.SecondCount -= delta
	r.MinuteCount -= delta
	r.HourCount -= delta
	r.DayCount -= delta
	r.MonthCount -= delta
}

// Zero clears all counts and stamps the record with timestamp
func (r *CounterRecord) Zero(timestamp int64) {
	r.SecondCount = 0
	r.MinuteCount = 0
	r.HourCount = 0
	r.DayCount = 0
	r.MonthCount = 0
	r.LastUpdate = timestamp
}

// Clone returns an independent copy of the record
func (r *CounterRecord) Clone() *CounterRecord {
	c := *r
	return &c
}

// Info builds the read-only view of the record
func (r *CounterRecord) Info() *CounterInfo {
	counts := make(map[FieldOfInterest]int64, len(AllFields))
	for _, f := range AllFields {
		counts[f] = r.Field(f)
	}
	return &CounterInfo{
		Name:       r.Name,
		Counts:     counts,
		LastUpdate: time.UnixMilli(r.LastUpdate),
	}
}

// CounterInfo is a snapshot of a counter returned to callers
type CounterInfo struct {
	Name       string
	Counts     map[FieldOfInterest]int64
	LastUpdate time.Time
}

// PendingIncrement is one queued asynchronous mutation awaiting flush
type PendingIncrement struct {
	Timestamp int64
	Field     FieldOfInterest
	Limit     int64
	Value     int64
	Decrement bool
}
