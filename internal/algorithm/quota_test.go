package algorithm

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/devrev/sharedcounter/internal/model"
)

func TestViolatesLimit(t *testing.T) {
	rec := &model.CounterRecord{SecondCount: 5, MonthCount: 50}

	assert.False(t, ViolatesLimit(rec, model.FieldSecond, 5), "equal to limit is allowed")
	assert.True(t, ViolatesLimit(rec, model.FieldSecond, 4))
	assert.False(t, ViolatesLimit(rec, model.FieldMonth, model.NoLimit))
	assert.False(t, ViolatesLimit(rec, model.FieldMonth, -42))
	assert.True(t, ViolatesLimit(rec, model.FieldMonth, 0))
}

func TestWouldViolateAfterIncrement(t *testing.T) {
	q := NewQuotaEvaluator(time.UTC)
	now := time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)
	rec := &model.CounterRecord{SecondCount: 4, MinuteCount: 4, HourCount: 4, DayCount: 4, MonthCount: 4, LastUpdate: ms(now)}

	assert.False(t, q.WouldViolateAfterIncrement(rec, ms(now), model.FieldSecond, 5, 1))
	assert.True(t, q.WouldViolateAfterIncrement(rec, ms(now), model.FieldSecond, 5, 2))
	assert.False(t, q.WouldViolateAfterIncrement(rec, ms(now), model.FieldSecond, model.NoLimit, 100))

	// A new second resets the bucket before evaluation.
	assert.False(t, q.WouldViolateAfterIncrement(rec, ms(now.Add(time.Second)), model.FieldSecond, 5, 2))

	assert.Equal(t, int64(4), rec.SecondCount, "probe must not mutate the record")
	assert.Equal(t, ms(now), rec.LastUpdate)
}

func TestQuotaEvaluatorApply(t *testing.T) {
	q := NewQuotaEvaluator(time.UTC)
	now := time.Date(2024, time.May, 1, 12, 0, 0, 0, time.UTC)
	rec := &model.CounterRecord{LastUpdate: ms(now)}

	q.Apply(rec, ms(now), 3)
	assert.Equal(t, int64(3), rec.Field(model.FieldDay))
}
