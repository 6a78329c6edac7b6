package state

import "time"

// BufferRatio is the nominal fraction of max_period×tf_days added as a
// safety margin before the earliest dirty point a refresher recomputes,
// absorbing rounding/timezone edge effects at period boundaries.
const BufferRatio = 0.20

// DirtyWindowStart computes the earliest timestamp an EMA/feature
// refresher must recompute from:
//
//	max(min(last_time_close_per_period), daily_min_seen) − max_period_days − buffer
//
// lastCloseByPeriod holds the last canonical close observed per EMA
// period; an empty map means no prior state (cold start), in which case
// dailyMinSeen alone anchors the window.
func DirtyWindowStart(lastCloseByPeriod map[int]time.Time, dailyMinSeen time.Time, maxPeriod int, tfDays float64) time.Time {
	anchor := dailyMinSeen
	if len(lastCloseByPeriod) > 0 {
		earliest := minTime(lastCloseByPeriod)
		if earliest.After(anchor) {
			anchor = earliest
		}
	}

	lookbackDays := float64(maxPeriod) * tfDays
	buffer := lookbackDays * BufferRatio
	return anchor.AddDate(0, 0, -int(lookbackDays+buffer))
}

func minTime(m map[int]time.Time) time.Time {
	var earliest time.Time
	for _, t := range m {
		if earliest.IsZero() || t.Before(earliest) {
			earliest = t
		}
	}
	return earliest
}

// BackfillLookback is the source-query window for multi-TF/calendar bar
// builders on incremental passes: from daily_min_seen minus a fixed
// buffer, through now.
func BackfillLookback(dailyMinSeen time.Time, lookbackBuffer time.Duration, now time.Time) (from, to time.Time) {
	return dailyMinSeen.Add(-lookbackBuffer), now
}
