package features

import (
	"math"
	"time"

	"github.com/markcheno/go-talib"

	"github.com/sawpanic/barpipe/internal/persistence"
)

// VolOutlierThreshold flags annualised vol > 500%.
const VolOutlierThreshold = 5.0

// PeriodsPerYear selects the annualisation constant per asset class:
// 365 for crypto, 252 for equity.
func PeriodsPerYear(assetClass string) float64 {
	if assetClass == "equity_like" {
		return 252
	}
	return 365
}

// DefaultVolWindows are the trailing windows computed for every estimator
// unless overridden.
var DefaultVolWindows = []int{20, 63, 126}

// VolatilityComputer implements the volatility feature over OHLC bars.
type VolatilityComputer struct {
	Windows        []int
	PeriodsPerYear float64
}

// Compute produces one VolRow per bar, with every configured estimator
// over every configured window.
func (c VolatilityComputer) Compute(id, tf string, bars []persistence.Bar) []persistence.VolRow {
	n := len(bars)
	high := make([]float64, n)
	low := make([]float64, n)
	openv := make([]float64, n)
	closev := make([]float64, n)
	for i, b := range bars {
		high[i], low[i], openv[i], closev[i] = b.High, b.Low, b.Open, b.Close
	}

	atr := talib.Atr(high, low, closev, 14)

	out := make([]persistence.VolRow, n)
	for i, b := range bars {
		row := persistence.VolRow{ID: id, TF: tf, Timestamp: b.Timestamp,
			Values: map[persistence.VolEstimator]map[int]*float64{
				persistence.VolParkinson:      {},
				persistence.VolGarmanKlass:    {},
				persistence.VolRogersSatchell: {},
				persistence.VolATR:            {},
			},
			IngestedAt: time.Now()}

		for _, w := range c.Windows {
			if i+1 < w {
				continue
			}
			lo := i + 1 - w
			row.Values[persistence.VolParkinson][w] = ptr(c.annualise(parkinson(high[lo:i+1], low[lo:i+1]), w))
			row.Values[persistence.VolGarmanKlass][w] = ptr(c.annualise(garmanKlass(openv[lo:i+1], high[lo:i+1], low[lo:i+1], closev[lo:i+1]), w))
			row.Values[persistence.VolRogersSatchell][w] = ptr(c.annualise(rogersSatchell(openv[lo:i+1], high[lo:i+1], low[lo:i+1], closev[lo:i+1]), w))
		}
		if i < len(atr) && !math.IsNaN(atr[i]) {
			row.Values[persistence.VolATR][14] = ptr(atr[i])
			if c.annualise(atr[i]/closev[i], 14) > VolOutlierThreshold {
				row.IsOutlier = true
			}
		}
		out[i] = row
	}
	return out
}

func (c VolatilityComputer) annualise(v float64, window int) float64 {
	ppy := c.PeriodsPerYear
	if ppy == 0 {
		ppy = 365
	}
	return v * math.Sqrt(ppy)
}

// parkinson estimates volatility from the high-low range, assuming no
// drift: sqrt(mean(ln(h/l)^2) / (4 ln 2)).
func parkinson(high, low []float64) float64 {
	var sum float64
	for i := range high {
		r := math.Log(high[i] / low[i])
		sum += r * r
	}
	mean := sum / float64(len(high))
	return math.Sqrt(mean / (4 * math.Ln2))
}

// garmanKlass combines open/high/low/close for a tighter estimator than
// Parkinson under the same no-drift assumption.
func garmanKlass(open, high, low, close []float64) float64 {
	var sum float64
	for i := range open {
		hl := math.Log(high[i] / low[i])
		co := math.Log(close[i] / open[i])
		sum += 0.5*hl*hl - (2*math.Ln2-1)*co*co
	}
	mean := sum / float64(len(open))
	if mean < 0 {
		mean = 0
	}
	return math.Sqrt(mean)
}

// rogersSatchell drops the no-drift assumption, valid under nonzero drift.
func rogersSatchell(open, high, low, close []float64) float64 {
	var sum float64
	for i := range open {
		hc := math.Log(high[i] / close[i])
		ho := math.Log(high[i] / open[i])
		lc := math.Log(low[i] / close[i])
		lo := math.Log(low[i] / open[i])
		sum += hc*ho + lc*lo
	}
	mean := sum / float64(len(open))
	if mean < 0 {
		mean = 0
	}
	return math.Sqrt(mean)
}
