package regime

import "time"

// State is the per-(id, tf, layer) hysteresis tracker: current is the
// committed label, pending is a candidate not yet held long enough to
// replace it.
type State struct {
	Current       string
	Pending       string
	PendingCount  int
	CommittedAt   time.Time
	CommittedKey  string // not set or read by Advance
}

// MinBarsHold is the default number of consecutive bars a pending label
// must hold before it replaces Current.
const MinBarsHold = 3

// Advance feeds one new raw label observation into the tracker and
// returns the label that should actually be recorded for this bar,
// along with whether a commit happened. Tightening transitions bypass
// the hold requirement and commit immediately; all other transitions
// require MinBarsHold consecutive observations of the same candidate.
//
// policyFor resolves a label to its Policy so the tightening test can
// use the public policy resolver rather than layer-specific internals.
func (s *State) Advance(raw string, ts time.Time, policyFor func(label string) Policy, minBarsHold int) (label string, committed bool) {
	if minBarsHold <= 0 {
		minBarsHold = MinBarsHold
	}
	if s.Current == "" {
		s.Current = raw
		s.CommittedAt = ts
		return s.Current, true
	}
	if raw == s.Current {
		s.Pending = ""
		s.PendingCount = 0
		return s.Current, false
	}

	if policyFor != nil && IsTightening(policyFor(s.Current), policyFor(raw)) {
		s.Current = raw
		s.Pending = ""
		s.PendingCount = 0
		s.CommittedAt = ts
		return s.Current, true
	}

	if raw != s.Pending {
		s.Pending = raw
		s.PendingCount = 1
	} else {
		s.PendingCount++
	}
	if s.PendingCount >= minBarsHold {
		s.Current = s.Pending
		s.Pending = ""
		s.PendingCount = 0
		s.CommittedAt = ts
		return s.Current, true
	}
	return s.Current, false
}

// Tracker holds hysteresis state across every (id, tf, layer) triple
// being processed in one pass, keyed for in-memory reuse between bars.
type Tracker struct {
	states map[string]*State
}

// NewTracker builds an empty hysteresis tracker.
func NewTracker() *Tracker {
	return &Tracker{states: make(map[string]*State)}
}

func trackerKey(id, tf string, layer Layer) string {
	return id + "|" + tf + "|" + string(layer)
}

// Get returns the tracker state for (id, tf, layer), creating it on
// first use.
func (t *Tracker) Get(id, tf string, layer Layer) *State {
	k := trackerKey(id, tf, layer)
	st, ok := t.states[k]
	if !ok {
		st = &State{}
		t.states[k] = st
	}
	return st
}
