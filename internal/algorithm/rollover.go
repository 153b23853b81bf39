package algorithm

import (
	"time"

	"github.com/devrev/sharedcounter/internal/model"
)

// Rollover applies delta to rec at timestamp (epoch ms), resetting every
// granularity whose calendar bucket differs from the one of rec.LastUpdate.
//
// Buckets are compared for equality only. A timestamp older than
// rec.LastUpdate is applied by the same rule and still becomes the new
// LastUpdate.
func Rollover(rec *model.CounterRecord, timestamp, delta int64, loc *time.Location) {
	if loc == nil {
		loc = time.Local
	}
	now := time.UnixMilli(timestamp).In(loc)
	last := time.UnixMilli(rec.LastUpdate).In(loc)

	switch {
	case !sameMonth(last, now):
		rec.MonthCount = delta
		rec.DayCount = delta
		rec.HourCount = delta
		rec.MinuteCount = delta
		rec.SecondCount = delta
	case last.Day() != now.Day():
		rec.MonthCount += delta
		rec.DayCount = delta
		rec.HourCount = delta
		rec.MinuteCount = delta
		rec.SecondCount = delta
	case last.Hour() != now.Hour():
		rec.MonthCount += delta
		rec.DayCount += delta
		rec.HourCount = delta
		rec.MinuteCount = delta
		rec.SecondCount = delta
	case last.Minute() != now.Minute():
		rec.MonthCount += delta
		rec.DayCount += delta
		rec.HourCount += delta
		rec.MinuteCount = delta
		rec.SecondCount = delta
	case last.Second() != now.Second():
		rec.MonthCount += delta
		rec.DayCount += delta
		rec.HourCount += delta
		rec.MinuteCount += delta
		rec.SecondCount = delta
	default:
		rec.MonthCount += delta
		rec.DayCount += delta
		rec.HourCount += delta
		rec.MinuteCount += delta
		rec.SecondCount += delta
	}
	rec.LastUpdate = timestamp
}

func sameMonth(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}
