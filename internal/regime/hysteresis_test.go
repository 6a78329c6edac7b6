package regime

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func policyFor(policies map[string]Policy) func(string) Policy {
	return func(label string) Policy { return policies[label] }
}

func TestState_Advance_FirstObservationCommitsImmediately(t *testing.T) {
	var s State
	label, committed := s.Advance("bull", time.Now(), nil, 0)
	assert.Equal(t, "bull", label)
	assert.True(t, committed)
}

func TestState_Advance_SameLabelNeverCommitsAgain(t *testing.T) {
	var s State
	ts := time.Now()
	s.Advance("bull", ts, nil, 0)
	label, committed := s.Advance("bull", ts.Add(time.Hour), nil, 0)
	assert.Equal(t, "bull", label)
	assert.False(t, committed)
}

func TestState_Advance_HoldsPendingUntilMinBarsHold(t *testing.T) {
	var s State
	ts := time.Now()
	s.Advance("bull", ts, nil, 0)

	label, committed := s.Advance("bear", ts, nil, 3)
	assert.Equal(t, "bull", label)
	assert.False(t, committed)
	assert.Equal(t, 1, s.PendingCount)

	label, committed = s.Advance("bear", ts, nil, 3)
	assert.Equal(t, "bull", label)
	assert.False(t, committed)

	label, committed = s.Advance("bear", ts, nil, 3)
	assert.Equal(t, "bear", label)
	assert.True(t, committed)
}

func TestState_Advance_TighteningBypassesHold(t *testing.T) {
	policies := map[string]Policy{
		"bull": {SizeMult: 1.0, StopMult: 1.0},
		"bear": {SizeMult: 0.5, StopMult: 1.5}, // strictly tighter
	}
	var s State
	ts := time.Now()
	s.Advance("bull", ts, nil, 0)

	label, committed := s.Advance("bear", ts, policyFor(policies), 3)
	assert.Equal(t, "bear", label)
	assert.True(t, committed)
}

func TestState_Advance_DifferentPendingResetsCount(t *testing.T) {
	var s State
	ts := time.Now()
	s.Advance("bull", ts, nil, 0)
	s.Advance("bear", ts, nil, 3)
	require.Equal(t, 1, s.PendingCount)

	s.Advance("transition", ts, nil, 3)
	assert.Equal(t, "transition", s.Pending)
	assert.Equal(t, 1, s.PendingCount)
}

func TestTracker_Get_CreatesOnFirstUse(t *testing.T) {
	tracker := NewTracker()
	s1 := tracker.Get("BTC", "1D", LayerL0)
	s2 := tracker.Get("BTC", "1D", LayerL0)
	assert.Same(t, s1, s2)

	s3 := tracker.Get("ETH", "1D", LayerL0)
	assert.NotSame(t, s1, s3)
}
