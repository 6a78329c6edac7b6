package bars

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/barpipe/internal/persistence"
)

func TestDetectOHLCViolations_FlagsEachKind(t *testing.T) {
	rows := []persistence.Bar{
		{ID: "BTC", High: 90, Low: 100, Open: 95, Close: 95},    // high < low
		{ID: "BTC", High: 100, Low: 90, Open: 95, Close: 110},   // high < max(open,close)
		{ID: "BTC", High: 110, Low: 100, Open: 95, Close: 95},   // low > min(open,close)
		{ID: "BTC", High: 110, Low: 90, Open: 95, Close: 100},   // clean
	}

	violations := DetectOHLCViolations(rows)
	require.Len(t, violations, 3)
	assert.Equal(t, persistence.RejectHighLtLow, violations[0].Reason)
	assert.Equal(t, persistence.RejectHighLtOCMax, violations[1].Reason)
	assert.Equal(t, persistence.RejectLowGtOCMin, violations[2].Reason)
}

func TestEnforceOHLCSanity_ClampSwapsHighLow(t *testing.T) {
	rows := []persistence.Bar{
		{ID: "BTC", High: 90, Low: 100, Open: 95, Close: 95},
	}
	out := EnforceOHLCSanity(rows, PolicyClamp)
	require.Len(t, out, 1)
	assert.Equal(t, persistence.RepairSwapHighLow, out[0].Repair)
	assert.False(t, out[0].Rejected)
	assert.Equal(t, 100.0, out[0].Bar.High)
	assert.Equal(t, 90.0, out[0].Bar.Low)
}

func TestEnforceOHLCSanity_ClampSetsHighToOCMax(t *testing.T) {
	rows := []persistence.Bar{
		{ID: "BTC", High: 100, Low: 90, Open: 95, Close: 110},
	}
	out := EnforceOHLCSanity(rows, PolicyClamp)
	require.Len(t, out, 1)
	assert.Equal(t, persistence.RepairSetHighToOCMax, out[0].Repair)
	assert.Equal(t, 110.0, out[0].Bar.High)
}

func TestEnforceOHLCSanity_ClampSetsLowToOCMin(t *testing.T) {
	rows := []persistence.Bar{
		{ID: "BTC", High: 110, Low: 100, Open: 95, Close: 95},
	}
	out := EnforceOHLCSanity(rows, PolicyClamp)
	require.Len(t, out, 1)
	assert.Equal(t, persistence.RepairSetLowToOCMin, out[0].Repair)
	assert.Equal(t, 95.0, out[0].Bar.Low)
}

func TestEnforceOHLCSanity_RejectPolicyMarksRejected(t *testing.T) {
	rows := []persistence.Bar{
		{ID: "BTC", High: 90, Low: 100, Open: 95, Close: 95},
	}
	out := EnforceOHLCSanity(rows, PolicyReject)
	require.Len(t, out, 1)
	assert.True(t, out[0].Rejected)
	assert.Equal(t, persistence.RepairRejected, out[0].Repair)
	// the row itself is not mutated under reject
	assert.Equal(t, 90.0, out[0].Bar.High)
}

func TestEnforceOHLCSanity_CleanRowPassesThrough(t *testing.T) {
	rows := []persistence.Bar{
		{ID: "BTC", High: 110, Low: 90, Open: 95, Close: 100},
	}
	out := EnforceOHLCSanity(rows, PolicyClamp)
	require.Len(t, out, 1)
	assert.Empty(t, out[0].Repair)
	assert.False(t, out[0].Rejected)
}

func TestFlagPartialAndGaps_DetectsMissingDays(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := []persistence.Bar{
		{ID: "BTC", Timestamp: base, TimeOpenBar: base},
		{ID: "BTC", Timestamp: base.AddDate(0, 0, 3), TimeOpenBar: base.AddDate(0, 0, 3)},
	}
	now := base.AddDate(0, 0, 10)
	out := FlagPartialAndGaps(rows, 1, now)
	require.Len(t, out, 2)
	assert.False(t, out[0].IsMissingDays)
	assert.True(t, out[1].IsMissingDays)
	assert.Equal(t, 2, out[1].CountMissingDays)
}

func TestFlagPartialAndGaps_PartialEndWhenWithinWindow(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base.Add(12 * time.Hour)
	rows := []persistence.Bar{
		{ID: "BTC", Timestamp: base, TimeOpenBar: base},
	}
	out := FlagPartialAndGaps(rows, 1, now)
	assert.True(t, out[0].IsPartialEnd)
}

func TestCarryForwardSnapshot_ExtendsHighLowVolume(t *testing.T) {
	t0 := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	existing := persistence.Bar{
		Open: 100, High: 105, Low: 98, Close: 102, Volume: 10,
		TimeHigh: t0, TimeLow: t0,
	}
	tick := persistence.Bar{
		Close: 110, High: 112, Low: 99, Volume: 5,
		TimeHigh: t0.Add(time.Hour), TimeLow: t0.Add(2 * time.Hour), TimeCloseBar: t0.Add(3 * time.Hour),
	}
	out := CarryForwardSnapshot(existing, tick)
	assert.Equal(t, 110.0, out.Close)
	assert.Equal(t, 112.0, out.High)
	assert.Equal(t, 98.0, out.Low) // tick.Low=99 is not <= existing.Low=98
	assert.Equal(t, 15.0, out.Volume)
	assert.Equal(t, tick.TimeHigh, out.TimeHigh)
	assert.Equal(t, t0, out.TimeLow)
	assert.Equal(t, tick.TimeCloseBar, out.TimeCloseBar)
}
