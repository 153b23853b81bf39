package algorithm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/devrev/sharedcounter/internal/model"
)

func ms(t time.Time) int64 { return t.UnixMilli() }

func seeded(last time.Time) *model.CounterRecord {
	return &model.CounterRecord{
		Name:        "c",
		SecondCount: 1,
		MinuteCount: 10,
		HourCount:   100,
		DayCount:    1000,
		MonthCount:  10000,
		LastUpdate:  ms(last),
	}
}

func TestRollover(t *testing.T) {
	base := time.Date(2024, time.March, 15, 10, 30, 20, 0, time.UTC)

	tests := []struct {
		name string
		at   time.Time
		want [5]int64 // sec, min, hour, day, month
	}{
		{"same second", base.Add(300 * time.Millisecond), [5]int64{3, 12, 102, 1002, 10002}},
		{"next second", base.Add(time.Second), [5]int64{2, 12, 102, 1002, 10002}},
		{"next minute", base.Add(time.Minute), [5]int64{2, 2, 102, 1002, 10002}},
		{"next day", base.Add(24 * time.Hour), [5]int64{2, 2, 2, 2, 10002}},
		{"next month", base.AddDate(0, 1, 0), [5]int64{2, 2, 2, 2, 2}},
		{"same month next year", base.AddDate(1, 0, 0), [5]int64{2, 2, 2, 2, 2}},
		{"same minute and second, other hour", base.Add(time.Hour), [5]int64{2, 2, 2, 1002, 10002}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := seeded(base)
			Rollover(rec, ms(tt.at), 2, time.UTC)
			got := [5]int64{rec.SecondCount, rec.MinuteCount, rec.HourCount, rec.DayCount, rec.MonthCount}
			assert.Equal(t, tt.want, got)
			assert.Equal(t, ms(tt.at), rec.LastUpdate)
		})
	}
}

func TestRollover_OutOfOrderTimestamp(t *testing.T) {
	base := time.Date(2024, time.March, 15, 10, 30, 20, 0, time.UTC)
	rec := seeded(base)

	earlier := base.Add(-time.Minute)
	Rollover(rec, ms(earlier), 1, time.UTC)

	assert.Equal(t, int64(1), rec.SecondCount)
	assert.Equal(t, int64(1), rec.MinuteCount)
	assert.Equal(t, int64(101), rec.HourCount)
	assert.Equal(t, ms(earlier), rec.LastUpdate)
}

func TestRollover_UsesLocation(t *testing.T) {
	// 23:30 UTC and 00:30 UTC the next day fall on the same day at UTC+2.
	loc := time.FixedZone("UTC+2", 2*3600)
	first := time.Date(2024, time.March, 15, 20, 30, 0, 0, time.UTC)
	second := time.Date(2024, time.March, 15, 21, 30, 0, 0, time.UTC)

	rec := seeded(first)
	Rollover(rec, ms(second), 1, loc)
	assert.Equal(t, int64(1001), rec.DayCount)

	crossing := time.Date(2024, time.March, 15, 22, 30, 0, 0, time.UTC)
	rec = seeded(first)
	Rollover(rec, ms(crossing), 1, loc)
	assert.Equal(t, int64(1), rec.DayCount, "22:30 UTC is 00:30 the next day at UTC+2")
	assert.Equal(t, int64(10001), rec.MonthCount)
}

func FuzzRollover(f *testing.F) {
	f.Add(int64(1710498620000), int64(1710498620500), int64(1))
	f.Add(int64(1710498620000), int64(1710498560000), int64(5))
	f.Add(int64(0), int64(1710498620000), int64(-3))

	f.Fuzz(func(t *testing.T, last, now, delta int64) {
		const maxMs = int64(1) << 45
		if last < 0 || now < 0 || last > maxMs || now > maxMs {
			t.Skip()
		}
		rec := &model.CounterRecord{
			SecondCount: 7, MinuteCount: 7, HourCount: 7, DayCount: 7, MonthCount: 7,
			LastUpdate: last,
		}
		Rollover(rec, now, delta, time.UTC)

		if rec.LastUpdate != now {
			t.Fatalf("last update = %d, want %d", rec.LastUpdate, now)
		}
		for _, v := range []int64{rec.SecondCount, rec.MinuteCount, rec.HourCount, rec.DayCount, rec.MonthCount} {
			if v != delta && v != 7+delta {
				t.Fatalf("bucket %d is neither reset nor accumulated", v)
			}
		}
		// A coarser bucket only accumulates when every finer-grained decision agreed.
		a := time.UnixMilli(last).UTC()
		b := time.UnixMilli(now).UTC()
		if a.Year() == b.Year() && a.Month() == b.Month() && delta != 0 && rec.MonthCount != 7+delta {
			t.Fatalf("month bucket reset within the same month")
		}
	})
}
