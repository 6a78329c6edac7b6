package regime

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/barpipe/internal/persistence"
)

func lb(day int, label string, ret float64) LabeledBar {
	return LabeledBar{Timestamp: time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC), Label: label, Ret1D: ret}
}

func TestDetectFlips_EmptySeries(t *testing.T) {
	assert.Nil(t, DetectFlips(nil))
}

func TestDetectFlips_FirstBarHasNoOldRegime(t *testing.T) {
	flips := DetectFlips([]LabeledBar{lb(1, "bull", 0.01)})
	require.Len(t, flips, 1)
	assert.Empty(t, flips[0].OldRegime)
	assert.Equal(t, "bull", flips[0].NewRegime)
	assert.Equal(t, 0, flips[0].Duration)
}

func TestDetectFlips_AccumulatesDurationUntilTransition(t *testing.T) {
	series := []LabeledBar{
		lb(1, "bull", 0.01),
		lb(2, "bull", 0.01),
		lb(3, "bull", 0.01),
		lb(4, "bear", -0.02),
	}
	flips := DetectFlips(series)
	require.Len(t, flips, 2)
	assert.Equal(t, "bull", flips[1].OldRegime)
	assert.Equal(t, "bear", flips[1].NewRegime)
	assert.Equal(t, 3, flips[1].Duration)
}

func TestStats_AggregatesPerRegime(t *testing.T) {
	series := []LabeledBar{
		lb(1, "bull", 0.01),
		lb(2, "bull", 0.02),
		lb(3, "bear", -0.03),
	}
	stats := Stats(series)
	require.Len(t, stats, 2)
	assert.Equal(t, "bull", stats[0].Regime)
	assert.Equal(t, 2, stats[0].NBars)
	assert.InDelta(t, 2.0/3.0, stats[0].PctHistory, 1e-9)
	assert.InDelta(t, 0.015, stats[0].AvgRet1D, 1e-9)
}

func TestStats_SkipsNaNReturnsInAverage(t *testing.T) {
	series := []LabeledBar{
		lb(1, "bull", math.NaN()),
		lb(2, "bull", 0.02),
	}
	stats := Stats(series)
	require.Len(t, stats, 1)
	assert.Equal(t, 2, stats[0].NBars) // NBars counts all rows
	assert.InDelta(t, 0.02, stats[0].AvgRet1D, 1e-9)
}

func TestComputeComovement_TooShortReturnsNaN(t *testing.T) {
	c := ComputeComovement([]float64{1}, []float64{1}, 2)
	assert.True(t, math.IsNaN(c.Spearman))
}

func TestComputeComovement_PerfectlyCorrelatedSeries(t *testing.T) {
	a := []float64{1, 2, 3, 4, 5, 6, 7, 8}
	b := []float64{2, 4, 6, 8, 10, 12, 14, 16}
	c := ComputeComovement(a, b, 2)
	assert.InDelta(t, 1.0, c.Spearman, 1e-9)
	assert.Equal(t, 1.0, c.SignAgreement)
	assert.Equal(t, 0, c.BestLeadLag)
}

func TestSnapshotFromRow_BuildsEMAMapFromNonNilRows(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	emas := map[int]*persistence.EMARow{
		20: {EMA: 101.5},
		50: nil,
	}
	snap := SnapshotFromRow("BTC", "1D", ts, 100, emas, 50)
	assert.Equal(t, "BTC", snap.ID)
	assert.Equal(t, "1D", snap.TF)
	assert.Equal(t, ts, snap.Timestamp)
	assert.Equal(t, 100.0, snap.Close)
	assert.Equal(t, 50, snap.HistoryLen)
	require.Contains(t, snap.EMAs, 20)
	assert.Equal(t, 101.5, snap.EMAs[20])
	assert.NotContains(t, snap.EMAs, 50)
}
