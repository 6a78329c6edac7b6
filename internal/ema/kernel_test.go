package ema

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeEMA_WarmupIsNaN(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	out := ComputeEMA(values, 0.5, 3)
	require.Len(t, out, 5)
	assert.True(t, math.IsNaN(out[0]))
	assert.True(t, math.IsNaN(out[1]))
	assert.False(t, math.IsNaN(out[2]))
}

func TestComputeEMA_SeedIsSimpleMeanOfWarmup(t *testing.T) {
	values := []float64{2, 4, 6, 8}
	out := ComputeEMA(values, 0.5, 3)
	assert.InDelta(t, 4.0, out[2], 1e-9) // mean(2,4,6)
}

func TestComputeEMA_RecursesWithAlpha(t *testing.T) {
	values := []float64{2, 4, 6, 8}
	out := ComputeEMA(values, 0.5, 3)
	want := 0.5*8 + 0.5*4.0
	assert.InDelta(t, want, out[3], 1e-9)
}

func TestComputeEMA_EmptyInput(t *testing.T) {
	assert.Empty(t, ComputeEMA(nil, 0.5, 3))
}

func TestComputeEMA_FewerThanMinPeriodsIsAllNaN(t *testing.T) {
	out := ComputeEMA([]float64{1, 2}, 0.5, 5)
	for _, v := range out {
		assert.True(t, math.IsNaN(v))
	}
}

func TestDerivatives_ComputesFirstAndSecondOrder(t *testing.T) {
	series := []float64{math.NaN(), 1, 3, 6, 10}
	d1, d2 := Derivatives(series)
	require.Len(t, d1, 5)
	assert.True(t, math.IsNaN(d1[0]))
	assert.True(t, math.IsNaN(d1[1])) // series[0] is NaN
	assert.InDelta(t, 2.0, d1[2], 1e-9)
	assert.InDelta(t, 3.0, d1[3], 1e-9)
	assert.InDelta(t, 4.0, d1[4], 1e-9)

	assert.True(t, math.IsNaN(d2[2])) // needs d1[1], which is NaN
	assert.InDelta(t, 1.0, d2[3], 1e-9)
	assert.InDelta(t, 1.0, d2[4], 1e-9)
}

func TestWithinHybridBounds(t *testing.T) {
	assert.True(t, WithinHybridBounds(50, 10))   // ratio 5
	assert.False(t, WithinHybridBounds(110, 10)) // ratio 11
	assert.False(t, WithinHybridBounds(math.NaN(), 10))
	assert.False(t, WithinHybridBounds(math.Inf(1), 10))
	assert.True(t, WithinHybridBounds(0, 0))
	assert.False(t, WithinHybridBounds(1, 0))
}
