package ema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTFDayBarSpaceAlpha(t *testing.T) {
	assert.InDelta(t, 2.0/15, TFDayBarSpaceAlpha(14), 1e-9)
}

func TestTFDayDailySpaceAlpha(t *testing.T) {
	alpha := TFDayDailySpaceAlpha(7)
	assert.InDelta(t, 2.0/(14*7+1), alpha(14), 1e-9)
}

func TestCalendarAlphaLookup_UsesTableWhenPresent(t *testing.T) {
	lookup := CalendarAlphaLookup{Table: map[int]float64{20: 0.1}}
	assert.Equal(t, 0.1, lookup.Alpha(20))
}

func TestCalendarAlphaLookup_FallsBackWhenMissing(t *testing.T) {
	lookup := CalendarAlphaLookup{Table: map[int]float64{20: 0.1}}
	assert.InDelta(t, 2.0/31, lookup.Alpha(30), 1e-9)
}

func TestCalendarAlphaLookup_NilTableFallsBack(t *testing.T) {
	lookup := CalendarAlphaLookup{}
	assert.InDelta(t, 2.0/11, lookup.Alpha(10), 1e-9)
}

func TestCalendarAnchorAlphas_DerivesDailyFromBar(t *testing.T) {
	daily, bar := CalendarAnchorAlphas(0.1, 30)
	assert.Equal(t, 0.1, bar)
	assert.Greater(t, daily, 0.0)
	assert.Less(t, daily, bar) // daily alpha should be smaller than bar alpha for tfDays > 1
}

func TestCalendarAnchorAlphas_ZeroTFDaysTreatedAsOne(t *testing.T) {
	daily, bar := CalendarAnchorAlphas(0.2, 0)
	assert.InDelta(t, bar, daily, 1e-9) // tfDays=1 means daily == bar
}
