package timeframe

import "time"

// PeriodBounds returns the inclusive [start, end) boundary of the calendar
// period containing ts, per the timeframe's base unit and scheme. These
// bounds are the window-assignment rule for calendar bar builders.
func (t Timeframe) PeriodBounds(ts time.Time) (start, end time.Time) {
	ts = ts.UTC()
	switch t.BaseUnit {
	case UnitWeek:
		return weekBounds(ts, t.WeekStartsMonday())
	case UnitMonth:
		return monthBounds(ts)
	case UnitQuarter:
		return quarterBounds(ts)
	case UnitYear:
		return yearBounds(ts)
	default:
		d := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
		return d, d.AddDate(0, 0, 1)
	}
}

func weekBounds(ts time.Time, mondayStart bool) (time.Time, time.Time) {
	d := time.Date(ts.Year(), ts.Month(), ts.Day(), 0, 0, 0, 0, time.UTC)
	wd := int(d.Weekday()) // Sunday=0 .. Saturday=6
	var offset int
	if mondayStart {
		offset = (wd + 6) % 7 // days since Monday
	} else {
		offset = wd // days since Sunday
	}
	start := d.AddDate(0, 0, -offset)
	return start, start.AddDate(0, 0, 7)
}

func monthBounds(ts time.Time) (time.Time, time.Time) {
	start := time.Date(ts.Year(), ts.Month(), 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 1, 0)
}

func quarterBounds(ts time.Time) (time.Time, time.Time) {
	q := (int(ts.Month()) - 1) / 3
	startMonth := time.Month(q*3 + 1)
	start := time.Date(ts.Year(), startMonth, 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(0, 3, 0)
}

func yearBounds(ts time.Time) (time.Time, time.Time) {
	start := time.Date(ts.Year(), time.January, 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(1, 0, 0)
}

// YearAnchorBoundary reports whether ts falls on January 1 (UTC, any time
// of day), the guaranteed is_partial_end=FALSE closure point for
// calendar_anchor timeframes.
func YearAnchorBoundary(ts time.Time) bool {
	ts = ts.UTC()
	return ts.Month() == time.January && ts.Day() == 1
}
