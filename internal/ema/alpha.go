package ema

import "math"

// AlphaRule derives a smoothing factor for one EMA period, differing per
// variant.
type AlphaRule func(period int) float64

// TFDayBarSpaceAlpha is the v1 tf_day alpha: α = 2/(period+1) in bar-space.
func TFDayBarSpaceAlpha(period int) float64 {
	return 2.0 / (float64(period) + 1)
}

// TFDayDailySpaceAlpha is the v2 tf_day alpha: α = 2/(period×tf_days+1) in
// daily-space.
func TFDayDailySpaceAlpha(tfDays int) AlphaRule {
	return func(period int) float64 {
		return 2.0 / (float64(period)*float64(tfDays) + 1)
	}
}

// CalendarAlphaLookup resolves alpha from a pre-computed table keyed by
// effective trading days, falling back to 2/(effective_days+1) when the
// period isn't in the table.
type CalendarAlphaLookup struct {
	Table map[int]float64
}

func (l CalendarAlphaLookup) Alpha(effectiveDays int) float64 {
	if l.Table != nil {
		if v, ok := l.Table[effectiveDays]; ok {
			return v
		}
	}
	return 2.0 / (float64(effectiveDays) + 1)
}

// CalendarAnchorAlphas derives the dual daily/bar-space alphas for
// calendar_anchor variants: alphaBar smooths canonical closes directly;
// alphaDaily propagates ema_bar between closes via
// α_daily = 1 − (1 − α_bar)^(1/tf_days).
func CalendarAnchorAlphas(alphaBar float64, tfDays int) (alphaDaily, alphaBarOut float64) {
	if tfDays <= 0 {
		tfDays = 1
	}
	alphaDaily = 1 - math.Pow(1-alphaBar, 1.0/float64(tfDays))
	return alphaDaily, alphaBar
}
