// Package bars implements the shared OHLC invariant contract and the
// six bar-builder variants that produce it: one abstract builder
// template plus six small variant implementations differing only in
// window-assignment rule and source/target table.
package bars

import (
	"math"
	"time"

	"github.com/sawpanic/barpipe/internal/persistence"
)

// RepairPolicy selects how the contract handles an OHLC violation.
type RepairPolicy string

const (
	PolicyReject RepairPolicy = "reject"
	PolicyClamp  RepairPolicy = "clamp"
)

// Violation pairs one bar with the invariant it failed.
type Violation struct {
	Bar    persistence.Bar
	Reason persistence.RejectReason
}

// NormaliseSchema projects loosely-typed source rows onto the canonical
// bar shape, defaulting ingestion metadata. Source rows are assumed
// already shaped as persistence.Bar by the caller's SQL projection; this
// step exists to centralise the defaults every variant needs.
func NormaliseSchema(rows []persistence.Bar, ingestedAt time.Time) []persistence.Bar {
	out := make([]persistence.Bar, len(rows))
	for i, r := range rows {
		r.IngestedAt = ingestedAt
		out[i] = r
	}
	return out
}

// DetectOHLCViolations returns every row failing one of the three
// invariants: high<low, high<max(open,close), low>min(open,close).
// A failing row appears once, tagged with the first invariant it fails in
// the order listed above.
func DetectOHLCViolations(rows []persistence.Bar) []Violation {
	var out []Violation
	for _, r := range rows {
		ocMax := math.Max(r.Open, r.Close)
		ocMin := math.Min(r.Open, r.Close)
		switch {
		case r.High < r.Low:
			out = append(out, Violation{Bar: r, Reason: persistence.RejectHighLtLow})
		case r.High < ocMax:
			out = append(out, Violation{Bar: r, Reason: persistence.RejectHighLtOCMax})
		case r.Low > ocMin:
			out = append(out, Violation{Bar: r, Reason: persistence.RejectLowGtOCMin})
		}
	}
	return out
}

// RepairResult is one row after EnforceOHLCSanity, annotated with whatever
// repair (if any) was applied so the caller can decide what to log.
type RepairResult struct {
	Bar     persistence.Bar
	Repair  persistence.RepairAction
	Rejected bool
}

// EnforceOHLCSanity applies the clamp-repair rules:
//   - high<low: swap high/low.
//   - high<max(open,close): set high = max(open, close).
//   - low>min(open,close): set low = min(open, close).
//   - time_low > time_close_bar: set low = min(open, close).
//
// Only rows failing one of the three OHLC checks are repaired; the
// time_low rule is applied to those rows alone, so a row whose only fault
// is time_low > time_close_bar passes through unchanged.
// Under PolicyReject, any violating row is marked Rejected instead of repaired.
func EnforceOHLCSanity(rows []persistence.Bar, policy RepairPolicy) []RepairResult {
	out := make([]RepairResult, 0, len(rows))
	for _, r := range rows {
		ocMax := math.Max(r.Open, r.Close)
		ocMin := math.Min(r.Open, r.Close)

		violated := r.High < r.Low || r.High < ocMax || r.Low > ocMin
		if !violated {
			out = append(out, RepairResult{Bar: r})
			continue
		}
		if policy == PolicyReject {
			out = append(out, RepairResult{Bar: r, Repair: persistence.RepairRejected, Rejected: true})
			continue
		}

		repaired := r
		action := persistence.RepairAction("")
		switch {
		case repaired.High < repaired.Low:
			repaired.High, repaired.Low = repaired.Low, repaired.High
			action = persistence.RepairSwapHighLow
		case repaired.High < ocMax:
			repaired.High = ocMax
			action = persistence.RepairSetHighToOCMax
		case repaired.Low > ocMin:
			repaired.Low = ocMin
			action = persistence.RepairSetLowToOCMin
		}
		if repaired.TimeLow.After(repaired.TimeCloseBar) {
			repaired.Low = ocMin
		}
		out = append(out, RepairResult{Bar: repaired, Repair: action})
	}
	return out
}

// FlagPartialAndGaps sets is_partial_end from the bar's position inside
// its window versus tfDays, and is_missing_days/count_missing_days from
// the day-gap between successive rows of the same (id, tf) series.
// rows must already be sorted by timestamp ascending.
func FlagPartialAndGaps(rows []persistence.Bar, tfDays int, now time.Time) []persistence.Bar {
	out := make([]persistence.Bar, len(rows))
	var prev *persistence.Bar
	for i, r := range rows {
		posInBar := int(now.Sub(r.TimeOpenBar).Hours() / 24)
		r.IsPartialEnd = posInBar < tfDays

		if prev != nil {
			gap := int(r.Timestamp.Sub(prev.Timestamp).Hours() / 24)
			if gap > 1 {
				r.IsMissingDays = true
				r.CountMissingDays = gap - 1
			}
		}
		out[i] = r
		prevCopy := r
		prev = &prevCopy
	}
	return out
}

// CarryForwardSnapshot performs the O(1) in-progress-bar update used when
// a new source tick extends the last open bar rather than opening a new
// one: close/high/low/volume/time_high/time_low are recomputed from the
// existing snapshot plus the incoming tick, without reprocessing history.
func CarryForwardSnapshot(existing persistence.Bar, tick persistence.Bar) persistence.Bar {
	out := existing
	out.Close = tick.Close
	out.Volume += tick.Volume
	if tick.High >= out.High {
		out.High = tick.High
		out.TimeHigh = tick.TimeHigh
	}
	if tick.Low <= out.Low {
		out.Low = tick.Low
		out.TimeLow = tick.TimeLow
	}
	out.TimeCloseBar = tick.TimeCloseBar
	return out
}
