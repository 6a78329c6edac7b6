package orchestrator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewStageTracker_SeedsEveryKnownPhase(t *testing.T) {
	tracker := NewStageTracker()
	metrics := tracker.AllMetrics()
	require.Contains(t, metrics, PhaseBars)
	require.Contains(t, metrics, PhaseValidate)
	assert.Equal(t, 0, metrics[PhaseBars].Count)
}

func TestStageTracker_Record_TracksCountAndPercentiles(t *testing.T) {
	tracker := NewStageTracker()
	tracker.Record(PhaseEMA, 10*time.Millisecond)
	tracker.Record(PhaseEMA, 20*time.Millisecond)
	tracker.Record(PhaseEMA, 30*time.Millisecond)

	metrics := tracker.AllMetrics()[PhaseEMA]
	assert.Equal(t, 3, metrics.Count)
	assert.InDelta(t, 20.0, metrics.P50, 1e-6)
	assert.True(t, metrics.P95 >= metrics.P50)
}

func TestStageTracker_Record_UnknownPhaseLazilyCreatesHistogram(t *testing.T) {
	tracker := NewStageTracker()
	custom := Phase("custom")
	tracker.Record(custom, 5*time.Millisecond)
	metrics := tracker.AllMetrics()[custom]
	assert.Equal(t, 1, metrics.Count)
}

func TestStartTimer_StopRecordsElapsed(t *testing.T) {
	tracker := NewStageTracker()
	timer := tracker.StartTimer(PhaseBars)
	time.Sleep(time.Millisecond)
	d := timer.Stop()
	assert.True(t, d > 0)
	assert.Equal(t, 1, tracker.AllMetrics()[PhaseBars].Count)
}

func TestHistogram_Percentile_EmptyReturnsZero(t *testing.T) {
	h := newHistogram(10)
	assert.Equal(t, 0.0, h.percentile(0.5))
}

func TestHistogram_WrapsAroundWhenFull(t *testing.T) {
	h := newHistogram(2)
	h.record(1 * time.Millisecond)
	h.record(2 * time.Millisecond)
	h.record(3 * time.Millisecond) // overwrites the first sample
	assert.Equal(t, 2, h.size())
}
