// Package features implements the shared feature-computer template and
// its concrete computers: returns, volatility, and technical indicators,
// each a load -> apply_null_policy -> compute -> add_normalisations ->
// flag_outliers -> write pipeline over bars+EMAs.
package features

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// NullPolicy selects how a computer handles NaN gaps before computing
// derived quantities.
type NullPolicy string

const (
	PolicySkip        NullPolicy = "skip"
	PolicyForwardFill NullPolicy = "forward_fill"
	PolicyInterpolate NullPolicy = "interpolate"
)

// ApplyNullPolicy mutates a copy of values in place according to policy.
// Skip leaves NaNs untouched; ForwardFill propagates the last good value
// then back-fills any leading gap; Interpolate linearly fills runs of
// NaN bounded by limit consecutive points (0 = unbounded).
func ApplyNullPolicy(values []float64, policy NullPolicy, limit int) []float64 {
	out := make([]float64, len(values))
	copy(out, values)

	switch policy {
	case PolicySkip:
		return out
	case PolicyForwardFill:
		forwardFill(out)
		backFillLeading(out)
		return out
	case PolicyInterpolate:
		interpolate(out, limit)
		return out
	default:
		return out
	}
}

func forwardFill(values []float64) {
	var last float64
	have := false
	for i, v := range values {
		if math.IsNaN(v) {
			if have {
				values[i] = last
			}
			continue
		}
		last = v
		have = true
	}
}

func backFillLeading(values []float64) {
	var first float64
	have := false
	for i := len(values) - 1; i >= 0; i-- {
		if !math.IsNaN(values[i]) {
			first = values[i]
			have = true
			break
		}
	}
	if !have {
		return
	}
	for i, v := range values {
		if !math.IsNaN(v) {
			break
		}
		values[i] = first
	}
}

func interpolate(values []float64, limit int) {
	n := len(values)
	i := 0
	for i < n {
		if !math.IsNaN(values[i]) {
			i++
			continue
		}
		start := i - 1
		for i < n && math.IsNaN(values[i]) {
			i++
		}
		end := i
		if start < 0 || end >= n {
			continue // leading/trailing gap left for caller's policy of record
		}
		runLen := end - start
		if limit > 0 && runLen-1 > limit {
			continue
		}
		lo, hi := values[start], values[end]
		for j := start + 1; j < end; j++ {
			frac := float64(j-start) / float64(runLen)
			values[j] = lo + frac*(hi-lo)
		}
	}
}

// RollingZScore computes (x - rolling_mean) / rolling_std over a trailing
// window of the given length (the returns computer passes 252). A zero
// std yields NaN for that point rather than a divide-by-zero.
func RollingZScore(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = math.NaN()
	}
	for i := window - 1; i < len(values); i++ {
		slice := values[i-window+1 : i+1]
		mean, std := meanStd(slice)
		if std == 0 {
			continue
		}
		out[i] = (values[i] - mean) / std
	}
	return out
}

func meanStd(values []float64) (mean, std float64) {
	clean := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			clean = append(clean, v)
		}
	}
	if len(clean) == 0 {
		return math.NaN(), 0
	}
	mean, std = stat.MeanStdDev(clean, nil)
	return mean, std
}

// OutlierMethod selects the flag-but-keep outlier detection rule.
type OutlierMethod string

const (
	MethodZScore OutlierMethod = "zscore"
	MethodIQR    OutlierMethod = "iqr"
)

// FlagOutliersZScore flags |z| > nSigma, default nSigma=4.
func FlagOutliersZScore(z []float64, nSigma float64) []bool {
	out := make([]bool, len(z))
	for i, v := range z {
		if math.IsNaN(v) {
			continue
		}
		out[i] = math.Abs(v) > nSigma
	}
	return out
}

// FlagOutliersIQR flags x < Q1-k*IQR or x > Q3+k*IQR, default k=1.5.
func FlagOutliersIQR(values []float64, k float64) []bool {
	q1, q3 := quartiles(values)
	iqr := q3 - q1
	lower, upper := q1-k*iqr, q3+k*iqr
	out := make([]bool, len(values))
	for i, v := range values {
		if math.IsNaN(v) {
			continue
		}
		out[i] = v < lower || v > upper
	}
	return out
}

func quartiles(values []float64) (q1, q3 float64) {
	clean := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			clean = append(clean, v)
		}
	}
	if len(clean) == 0 {
		return math.NaN(), math.NaN()
	}
	sort.Float64s(clean)
	return percentile(clean, 0.25), percentile(clean, 0.75)
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	idx := p * float64(len(sorted)-1)
	lo := int(math.Floor(idx))
	hi := int(math.Ceil(idx))
	if lo == hi {
		return sorted[lo]
	}
	frac := idx - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}
