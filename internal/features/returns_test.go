package features

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/barpipe/internal/persistence"
)

func daySeries(start time.Time, n int) []time.Time {
	out := make([]time.Time, n)
	for i := 0; i < n; i++ {
		out[i] = start.AddDate(0, 0, i)
	}
	return out
}

func TestReturnsComputer_Compute_PctChangeOverWindow(t *testing.T) {
	c := ReturnsComputer{Windows: []int{1}}
	ts := daySeries(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 3)
	values := []float64{100, 110, 121}

	rows := c.Compute("BTC", "1D", persistence.Series("close"), false, ts, values)
	require.Len(t, rows, 3)
	assert.Nil(t, rows[0].Returns[1])
	require.NotNil(t, rows[1].Returns[1])
	assert.InDelta(t, 0.10, *rows[1].Returns[1], 1e-9)
	require.NotNil(t, rows[2].Returns[1])
	assert.InDelta(t, 0.10, *rows[2].Returns[1], 1e-9)
}

func TestReturnsComputer_Compute_FlagsLargeDailyReturnAsOutlier(t *testing.T) {
	c := ReturnsComputer{Windows: []int{1}}
	ts := daySeries(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 2)
	values := []float64{100, 200}

	rows := c.Compute("BTC", "1D", persistence.Series("close"), false, ts, values)
	assert.True(t, rows[1].IsOutlier)
}

func TestReturnsComputer_Compute_LogVariantPopulatesLogReturns(t *testing.T) {
	c := ReturnsComputer{Windows: []int{1}, LogVariant: true}
	ts := daySeries(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 2)
	values := []float64{100, 110}

	rows := c.Compute("BTC", "1D", persistence.Series("close"), false, ts, values)
	require.NotNil(t, rows[1].LogReturns[1])
}

func TestReturnsComputer_Compute_SkipsZeroOrNaNPrev(t *testing.T) {
	c := ReturnsComputer{Windows: []int{1}}
	ts := daySeries(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 2)
	values := []float64{0, 110}

	rows := c.Compute("BTC", "1D", persistence.Series("close"), false, ts, values)
	assert.Nil(t, rows[1].Returns[1])
}

func TestReturnsComputer_Compute_TracksGapDays(t *testing.T) {
	c := ReturnsComputer{Windows: []int{1}}
	ts := []time.Time{
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC),
	}
	values := []float64{100, 110}

	rows := c.Compute("BTC", "1D", persistence.Series("close"), false, ts, values)
	assert.Nil(t, rows[0].GapDays)
	require.NotNil(t, rows[1].GapDays)
	assert.Equal(t, 3, *rows[1].GapDays)
}

func TestReturnsComputer_Compute_AttachesDerivatives(t *testing.T) {
	c := ReturnsComputer{Windows: []int{1}}
	ts := daySeries(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 3)
	values := []float64{100, 105, 112}

	rows := c.Compute("BTC", "1D", persistence.Series("close"), false, ts, values)
	require.NotNil(t, rows[1].D1)
	assert.InDelta(t, 5.0, *rows[1].D1, 1e-9)
	require.NotNil(t, rows[2].D2)
	assert.InDelta(t, 2.0, *rows[2].D2, 1e-9)
}
