package state

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDirtyWindowStart_ColdStartAnchorsOnDailyMinSeen(t *testing.T) {
	dailyMinSeen := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	start := DirtyWindowStart(nil, dailyMinSeen, 14, 1)
	assert.True(t, start.Before(dailyMinSeen))
}

func TestDirtyWindowStart_UsesEarliestOfPeriodCloses(t *testing.T) {
	dailyMinSeen := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	earliest := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	lastClose := map[int]time.Time{14: earliest, 28: time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)}
	start := DirtyWindowStart(lastClose, dailyMinSeen, 14, 1)
	// The earliest period close is later than dailyMinSeen, so it anchors
	// the window: 14 days of lookback plus a 20% buffer (16.8, truncated).
	assert.Equal(t, earliest.AddDate(0, 0, -16), start)
}

func TestDirtyWindowStart_BufferScalesWithLookback(t *testing.T) {
	dailyMinSeen := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	short := DirtyWindowStart(nil, dailyMinSeen, 5, 1)
	long := DirtyWindowStart(nil, dailyMinSeen, 50, 1)
	assert.True(t, long.Before(short))
}

func TestBackfillLookback_SubtractsBufferFromMinSeen(t *testing.T) {
	dailyMinSeen := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC)
	from, to := BackfillLookback(dailyMinSeen, 48*time.Hour, now)
	assert.Equal(t, dailyMinSeen.Add(-48*time.Hour), from)
	assert.Equal(t, now, to)
}
