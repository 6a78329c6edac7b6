package features

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func nan() float64 { return math.NaN() }

func TestApplyNullPolicy_SkipLeavesNaNsUntouched(t *testing.T) {
	in := []float64{1, nan(), 3}
	out := ApplyNullPolicy(in, PolicySkip, 0)
	assert.Equal(t, 1.0, out[0])
	assert.True(t, math.IsNaN(out[1]))
	assert.Equal(t, 3.0, out[2])
}

func TestApplyNullPolicy_DoesNotMutateInput(t *testing.T) {
	in := []float64{1, nan(), 3}
	ApplyNullPolicy(in, PolicyForwardFill, 0)
	assert.True(t, math.IsNaN(in[1]))
}

func TestApplyNullPolicy_ForwardFillPropagatesLastGoodValue(t *testing.T) {
	in := []float64{1, nan(), nan(), 4}
	out := ApplyNullPolicy(in, PolicyForwardFill, 0)
	assert.Equal(t, []float64{1, 1, 1, 4}, out)
}

func TestApplyNullPolicy_ForwardFillBackFillsLeadingGap(t *testing.T) {
	in := []float64{nan(), nan(), 3, 4}
	out := ApplyNullPolicy(in, PolicyForwardFill, 0)
	assert.Equal(t, []float64{3, 3, 3, 4}, out)
}

func TestApplyNullPolicy_InterpolateFillsBoundedGap(t *testing.T) {
	in := []float64{0, nan(), nan(), 3}
	out := ApplyNullPolicy(in, PolicyInterpolate, 0)
	assert.InDelta(t, 1.0, out[1], 1e-9)
	assert.InDelta(t, 2.0, out[2], 1e-9)
}

func TestApplyNullPolicy_InterpolateLeavesGapLongerThanLimit(t *testing.T) {
	in := []float64{0, nan(), nan(), nan(), 4}
	out := ApplyNullPolicy(in, PolicyInterpolate, 1)
	assert.True(t, math.IsNaN(out[1]))
	assert.True(t, math.IsNaN(out[2]))
	assert.True(t, math.IsNaN(out[3]))
}

func TestApplyNullPolicy_InterpolateLeavesLeadingTrailingGaps(t *testing.T) {
	in := []float64{nan(), 1, 2, nan()}
	out := ApplyNullPolicy(in, PolicyInterpolate, 0)
	assert.True(t, math.IsNaN(out[0]))
	assert.True(t, math.IsNaN(out[3]))
}

func TestRollingZScore_ConstantWindowYieldsNaNForZeroStd(t *testing.T) {
	values := []float64{5, 5, 5, 5}
	out := RollingZScore(values, 3)
	assert.True(t, math.IsNaN(out[0]))
	assert.True(t, math.IsNaN(out[1]))
	assert.True(t, math.IsNaN(out[2])) // std==0 over constant window
}

func TestRollingZScore_ComputesZScoreOverTrailingWindow(t *testing.T) {
	values := []float64{1, 2, 3, 4, 100}
	out := RollingZScore(values, 3)
	assert.True(t, math.IsNaN(out[0]))
	assert.True(t, math.IsNaN(out[1]))
	assert.False(t, math.IsNaN(out[2]))
	assert.False(t, math.IsNaN(out[4]))
}

func TestFlagOutliersZScore_FlagsAboveThreshold(t *testing.T) {
	z := []float64{0.5, -5.0, nan(), 3.9, 4.1}
	out := FlagOutliersZScore(z, 4.0)
	assert.Equal(t, []bool{false, true, false, false, true}, out)
}

func TestFlagOutliersIQR_FlagsBeyondFences(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5, 6, 7, 100}
	out := FlagOutliersIQR(values, 1.5)
	assert.True(t, out[len(out)-1])
	assert.False(t, out[0])
}
