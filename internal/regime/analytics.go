// analytics.go implements flip detection, per-regime descriptive stats,
// and EMA comovement, all computed over a committed label series so
// they reflect the hysteresis-smoothed regime rather than the raw
// per-bar classification.
package regime

import (
	"math"
	"time"

	"gonum.org/v1/gonum/stat"

	"github.com/sawpanic/barpipe/internal/persistence"
)

// LabeledBar pairs one committed regime label with the bar it applies to.
type LabeledBar struct {
	Timestamp time.Time
	Label     string
	Ret1D     float64
}

// Flip is one regime transition: old_regime is NULL (empty) on the
// series' first assignment.
type Flip struct {
	Timestamp  time.Time
	OldRegime  string
	NewRegime  string
	Duration   int // bars held by OldRegime before this flip, 0 for the first assignment
}

// DetectFlips walks a committed label series and emits one Flip per
// transition, accumulating duration_bars for the regime being left.
func DetectFlips(series []LabeledBar) []Flip {
	if len(series) == 0 {
		return nil
	}
	var flips []Flip
	current := series[0].Label
	heldSince := 0
	flips = append(flips, Flip{Timestamp: series[0].Timestamp, OldRegime: "", NewRegime: current, Duration: 0})

	for i := 1; i < len(series); i++ {
		heldSince++
		if series[i].Label == current {
			continue
		}
		flips = append(flips, Flip{
			Timestamp: series[i].Timestamp,
			OldRegime: current,
			NewRegime: series[i].Label,
			Duration:  heldSince,
		})
		current = series[i].Label
		heldSince = 0
	}
	return flips
}

// RegimeStat is the per-regime descriptive summary over a history
// window: n_bars, pct_of_history, avg/std of daily returns.
type RegimeStat struct {
	Regime      string
	NBars       int
	PctHistory  float64
	AvgRet1D    float64
	StdRet1D    float64
}

// Stats aggregates per-regime return statistics across a labeled series.
func Stats(series []LabeledBar) []RegimeStat {
	buckets := make(map[string][]float64)
	order := make([]string, 0, 8)
	for _, b := range series {
		if _, seen := buckets[b.Label]; !seen {
			order = append(order, b.Label)
		}
		buckets[b.Label] = append(buckets[b.Label], b.Ret1D)
	}
	total := float64(len(series))
	out := make([]RegimeStat, 0, len(order))
	for _, label := range order {
		rets := buckets[label]
		clean := make([]float64, 0, len(rets))
		for _, r := range rets {
			if !math.IsNaN(r) {
				clean = append(clean, r)
			}
		}
		avg, std := math.NaN(), 0.0
		if len(clean) > 0 {
			avg, std = stat.MeanStdDev(clean, nil)
		}
		out = append(out, RegimeStat{
			Regime:     label,
			NBars:      len(rets),
			PctHistory: float64(len(rets)) / total,
			AvgRet1D:   avg,
			StdRet1D:   std,
		})
	}
	return out
}

// Comovement is the EMA comovement summary between two series over a
// window: rank correlation, sign-agreement rate, and the best-fit
// lead/lag within a bounded search.
type Comovement struct {
	Spearman      float64
	SignAgreement float64
	BestLeadLag   int // bars; positive means series A leads series B
}

// ComputeComovement correlates two EMA (or derivative) series, reports
// sign agreement of their deltas, and searches +-maxLag for the lag
// that maximises Pearson correlation of the shifted series; ties go to
// the lag nearest zero.
func ComputeComovement(a, b []float64, maxLag int) Comovement {
	n := len(a)
	if n > len(b) {
		n = len(b)
	}
	if n < 2 {
		return Comovement{Spearman: math.NaN()}
	}
	a, b = a[:n], b[:n]

	ranksA := rank(a)
	ranksB := rank(b)
	spearman := stat.Correlation(ranksA, ranksB, nil)

	agree, total := 0, 0
	for i := 1; i < n; i++ {
		da, db := a[i]-a[i-1], b[i]-b[i-1]
		if da == 0 || db == 0 {
			continue
		}
		total++
		if (da > 0) == (db > 0) {
			agree++
		}
	}
	signAgreement := 0.0
	if total > 0 {
		signAgreement = float64(agree) / float64(total)
	}

	bestLag, bestCorr := 0, math.Inf(-1)
	for lag := -maxLag; lag <= maxLag; lag++ {
		shiftedA, shiftedB := shift(a, b, lag)
		if len(shiftedA) < 2 {
			continue
		}
		c := stat.Correlation(shiftedA, shiftedB, nil)
		if math.IsNaN(c) {
			continue
		}
		if c > bestCorr || (c == bestCorr && lag*lag < bestLag*bestLag) {
			bestCorr, bestLag = c, lag
		}
	}

	return Comovement{Spearman: spearman, SignAgreement: signAgreement, BestLeadLag: bestLag}
}

// shift aligns a against b with a applied `lag` bars ahead of b: a
// positive lag drops b's leading bars, a negative lag drops a's.
func shift(a, b []float64, lag int) ([]float64, []float64) {
	if lag >= 0 {
		if lag >= len(b) {
			return nil, nil
		}
		return a[:len(a)-lag], b[lag:]
	}
	lag = -lag
	if lag >= len(a) {
		return nil, nil
	}
	return a[lag:], b[:len(b)-lag]
}

// rank converts values to their average (fractional on ties) rank,
// required by gonum's stat.Correlation to compute Spearman's rho.
func rank(values []float64) []float64 {
	type idxVal struct {
		idx int
		val float64
	}
	sorted := make([]idxVal, len(values))
	for i, v := range values {
		sorted[i] = idxVal{i, v}
	}
	for i := 1; i < len(sorted); i++ {
		for j := i; j > 0 && sorted[j].val < sorted[j-1].val; j-- {
			sorted[j], sorted[j-1] = sorted[j-1], sorted[j]
		}
	}
	ranks := make([]float64, len(values))
	i := 0
	for i < len(sorted) {
		j := i
		for j+1 < len(sorted) && sorted[j+1].val == sorted[i].val {
			j++
		}
		avgRank := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[sorted[k].idx] = avgRank
		}
		i = j + 1
	}
	return ranks
}

// SnapshotFromRow builds a regime Snapshot from a persisted EMA row set
// for one (id, tf, ts), used when driving ClassifySnapshot from storage.
func SnapshotFromRow(id, tf string, ts time.Time, close float64, emas map[int]*persistence.EMARow, historyLen int) Snapshot {
	vals := make(map[int]float64, len(emas))
	for period, row := range emas {
		if row != nil {
			vals[period] = row.EMA
		}
	}
	return Snapshot{ID: id, TF: tf, Timestamp: ts, Close: close, EMAs: vals, HistoryLen: historyLen}
}
