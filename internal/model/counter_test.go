package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseField(t *testing.T) {
	tests := []struct {
		in   string
		want FieldOfInterest
	}{
		{"sec", FieldSecond},
		{"Second", FieldSecond},
		{"min", FieldMinute},
		{"hour", FieldHour},
		{"day", FieldDay},
		{" month ", FieldMonth},
	}
	for _, tt := range tests {
		got, err := ParseField(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}

	_, err := ParseField("week")
	assert.ErrorIs(t, err, ErrInvalidField)
}

func TestFieldStringRoundTrip(t *testing.T) {
	for _, f := range AllFields {
		parsed, err := ParseField(f.String())
		require.NoError(t, err)
		assert.Equal(t, f, parsed)
		assert.True(t, f.Valid())
	}
	assert.False(t, FieldOfInterest(9).Valid())
}

func TestCounterRecordHelpers(t *testing.T) {
	rec := &CounterRecord{Name: "c", SecondCount: 1, MinuteCount: 2, HourCount: 3, DayCount: 4, MonthCount: 5, LastUpdate: 10}

	clone := rec.Clone()
	clone.Subtract(1)
	assert.Equal(t, int64(0), clone.Field(FieldSecond))
	assert.Equal(t, int64(4), clone.Field(FieldMonth))
	assert.Equal(t, int64(1), rec.Field(FieldSecond), "clone must not alias the original")

	info := rec.Info()
	assert.Equal(t, "c", info.Name)
	assert.Equal(t, int64(3), info.Counts[FieldHour])
	assert.Equal(t, int64(10), info.LastUpdate.UnixMilli())

	rec.Zero(99)
	for _, f := range AllFields {
		assert.Zero(t, rec.Field(f))
	}
	assert.Equal(t, int64(99), rec.LastUpdate)
}
