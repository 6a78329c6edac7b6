// Package regime implements the multi-layer regime labeler with
// hysteresis and its analytics: flip detection, per-regime stats, and
// EMA comovement. Each layer emits a categorical label from a pure
// function over a wide-format EMA snapshot, independent of persistence
// so it can be tested without a database.
package regime

import "time"

// Layer identifies one of the three classification layers.
type Layer string

const (
	LayerL0 Layer = "l0" // cycle
	LayerL1 Layer = "l1" // weekly macro
	LayerL2 Layer = "l2" // daily trend/vol
)

// DataBudgetThreshold is the minimum bar history (in bars) a layer needs
// before it is trusted.
func DataBudgetThreshold(layer Layer) int {
	switch layer {
	case LayerL0:
		return 60 // monthly
	case LayerL1:
		return 52 // weekly
	case LayerL2:
		return 120 // daily
	default:
		return 0
	}
}

// Snapshot is the wide-format EMA view one layer's label function
// consumes: EMA values keyed by period, plus the bar/price context a
// layer needs to classify.
type Snapshot struct {
	ID        string
	TF        string
	Timestamp time.Time
	Close     float64
	EMAs      map[int]float64 // period -> value
	HistoryLen int            // bars of history available for this (id, tf)
}

// LabelFunc is a pure classification function for one layer.
type LabelFunc func(Snapshot) string

// ProxyLabel is the conservative default returned when a layer is
// disabled by data-budget gating.
const ProxyLabel = "proxy_neutral"

// L0CycleLabel classifies the long-cycle regime from price position
// against the 200- and 55-period EMAs: close above both = bull, close
// below both = bear, otherwise = transition.
func L0CycleLabel(s Snapshot) string {
	ema200, ok200 := s.EMAs[200]
	ema55, ok55 := s.EMAs[55]
	if !ok200 || !ok55 {
		return ProxyLabel
	}
	switch {
	case s.Close > ema200 && s.Close > ema55:
		return "bull"
	case s.Close < ema200 && s.Close < ema55:
		return "bear"
	default:
		return "transition"
	}
}

// L1WeeklyMacroLabel classifies medium-term positioning from price
// versus the 55-period EMA.
func L1WeeklyMacroLabel(s Snapshot) string {
	ema55, ok := s.EMAs[55]
	if !ok {
		return ProxyLabel
	}
	dist := (s.Close - ema55) / ema55
	switch {
	case dist > 0.05:
		return "risk_on"
	case dist < -0.05:
		return "risk_off"
	default:
		return "neutral"
	}
}

// L2DailyTrendVolLabel classifies short-term trend/vol state from price
// versus the fast (9/21) EMA pair.
func L2DailyTrendVolLabel(s Snapshot) string {
	ema9, ok9 := s.EMAs[9]
	ema21, ok21 := s.EMAs[21]
	if !ok9 || !ok21 {
		return ProxyLabel
	}
	switch {
	case ema9 > ema21 && s.Close > ema9:
		return "trending_up"
	case ema9 < ema21 && s.Close < ema9:
		return "trending_down"
	default:
		return "choppy"
	}
}

// LabelFuncFor returns the pure classification function for a layer.
func LabelFuncFor(layer Layer) LabelFunc {
	switch layer {
	case LayerL0:
		return L0CycleLabel
	case LayerL1:
		return L1WeeklyMacroLabel
	case LayerL2:
		return L2DailyTrendVolLabel
	default:
		return func(Snapshot) string { return ProxyLabel }
	}
}

// LayerEnabled reports whether a layer has enough history to trust its
// label rather than falling back to ProxyLabel.
func LayerEnabled(layer Layer, historyLen int) bool {
	return historyLen >= DataBudgetThreshold(layer)
}

// ClassifySnapshot runs all three layers over one snapshot, applying
// data-budget gating before invoking each layer's pure label function.
func ClassifySnapshot(s Snapshot) (labels map[Layer]string, enabled map[Layer]bool) {
	labels = make(map[Layer]string, 3)
	enabled = make(map[Layer]bool, 3)
	for _, layer := range []Layer{LayerL0, LayerL1, LayerL2} {
		on := LayerEnabled(layer, s.HistoryLen)
		enabled[layer] = on
		if !on {
			labels[layer] = ProxyLabel
			continue
		}
		labels[layer] = LabelFuncFor(layer)(s)
	}
	return labels, enabled
}
