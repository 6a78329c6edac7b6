package timeframe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPeriodBounds_Week_USStartsSunday(t *testing.T) {
	tf := Timeframe{BaseUnit: UnitWeek, Scheme: SchemeUS}
	// Wednesday 2024-01-03
	ts := time.Date(2024, 1, 3, 15, 0, 0, 0, time.UTC)
	start, end := tf.PeriodBounds(ts)
	assert.Equal(t, time.Date(2023, 12, 31, 0, 0, 0, 0, time.UTC), start) // prior Sunday
	assert.Equal(t, start.AddDate(0, 0, 7), end)
}

func TestPeriodBounds_Week_ISOStartsMonday(t *testing.T) {
	tf := Timeframe{BaseUnit: UnitWeek, Scheme: SchemeISO}
	ts := time.Date(2024, 1, 3, 15, 0, 0, 0, time.UTC)
	start, _ := tf.PeriodBounds(ts)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), start) // prior Monday
}

func TestPeriodBounds_Month(t *testing.T) {
	tf := Timeframe{BaseUnit: UnitMonth}
	ts := time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC)
	start, end := tf.PeriodBounds(ts)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), end)
}

func TestPeriodBounds_Quarter(t *testing.T) {
	tf := Timeframe{BaseUnit: UnitQuarter}
	ts := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	start, end := tf.PeriodBounds(ts)
	assert.Equal(t, time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), end)
}

func TestPeriodBounds_Year(t *testing.T) {
	tf := Timeframe{BaseUnit: UnitYear}
	ts := time.Date(2024, 7, 4, 0, 0, 0, 0, time.UTC)
	start, end := tf.PeriodBounds(ts)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), end)
}

func TestPeriodBounds_DayFallback(t *testing.T) {
	tf := Timeframe{BaseUnit: UnitDay}
	ts := time.Date(2024, 3, 10, 13, 30, 0, 0, time.UTC)
	start, end := tf.PeriodBounds(ts)
	assert.Equal(t, time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC), end)
}

func TestYearAnchorBoundary(t *testing.T) {
	assert.True(t, YearAnchorBoundary(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.False(t, YearAnchorBoundary(time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)))
	assert.False(t, YearAnchorBoundary(time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)))
}
