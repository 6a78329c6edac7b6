package features

import (
	"math"
	"time"

	"github.com/sawpanic/barpipe/internal/persistence"
)

// ReturnsOutlierThreshold flags |ret_1d| > 50%.
const ReturnsOutlierThreshold = 0.50

// ReturnsComputer implements the returns feature over a chronological,
// per-asset series of (ema, ema_bar) snapshots.
type ReturnsComputer struct {
	Windows []int // horizons in days; cmd/barpipe passes a fixed 1, 3, 7, 30
	LogVariant bool
}

// Compute produces one ReturnsRow per input timestamp for seriesName:
// multi-horizon pct_change, gap_days tracking, and the feature-specific
// |ret_1d|>50% outlier rule.
func (c ReturnsComputer) Compute(id, tf string, seriesName persistence.Series, roll bool, ts []time.Time, values []float64) []persistence.ReturnsRow {
	out := make([]persistence.ReturnsRow, len(values))
	for i := range values {
		row := persistence.ReturnsRow{
			ID: id, TF: tf, Timestamp: ts[i], SeriesName: seriesName, Roll: roll,
			Returns: map[int]*float64{}, LogReturns: map[int]*float64{},
			ZScores: map[int]*float64{}, IngestedAt: time.Now(),
		}
		if i > 0 {
			gap := int(ts[i].Sub(ts[i-1]).Hours() / 24)
			row.GapDays = &gap
		}

		for _, n := range c.Windows {
			if i < n {
				continue
			}
			prev := values[i-n]
			if prev == 0 || math.IsNaN(prev) || math.IsNaN(values[i]) {
				continue
			}
			pct := (values[i] - prev) / prev
			row.Returns[n] = ptr(pct)
			if c.LogVariant {
				row.LogReturns[n] = ptr(math.Log(values[i] / prev))
			}
			if n == 1 && math.Abs(pct) > ReturnsOutlierThreshold {
				row.IsOutlier = true
			}
		}
		out[i] = row
	}

	c.attachDerivatives(out, values)
	c.attachZScores(out, values)
	return out
}

func (c ReturnsComputer) attachDerivatives(rows []persistence.ReturnsRow, values []float64) {
	d1, d2 := derivatives(values)
	for i := range rows {
		if !math.IsNaN(d1[i]) {
			rows[i].D1 = ptr(d1[i])
		}
		if !math.IsNaN(d2[i]) {
			rows[i].D2 = ptr(d2[i])
		}
	}
}

func (c ReturnsComputer) attachZScores(rows []persistence.ReturnsRow, values []float64) {
	z := RollingZScore(values, 252)
	for i := range rows {
		if !math.IsNaN(z[i]) {
			rows[i].ZScores[1] = ptr(z[i])
		}
	}
}

func derivatives(values []float64) (d1, d2 []float64) {
	d1 = make([]float64, len(values))
	d2 = make([]float64, len(values))
	for i := range values {
		d1[i] = math.NaN()
		d2[i] = math.NaN()
	}
	for i := 1; i < len(values); i++ {
		if !math.IsNaN(values[i]) && !math.IsNaN(values[i-1]) {
			d1[i] = values[i] - values[i-1]
		}
	}
	for i := 2; i < len(values); i++ {
		if !math.IsNaN(d1[i]) && !math.IsNaN(d1[i-1]) {
			d2[i] = d1[i] - d1[i-1]
		}
	}
	return d1, d2
}

func ptr(f float64) *float64 { return &f }
