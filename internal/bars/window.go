package bars

import (
	"sort"
	"time"

	"github.com/sawpanic/barpipe/internal/timeframe"
)

// WindowAssigner groups a sorted tick stream into per-bar buckets under
// one of the six alignment semantics.
type WindowAssigner interface {
	// Assign partitions ticks (already sorted by Timestamp ascending) into
	// ordered buckets, one per bar.
	Assign(ticks []Tick) []Bucket
}

// Bucket is the raw ticks assigned to one future bar, plus its
// window-assignment metadata (year-anchor reset point, etc).
type Bucket struct {
	Ticks           []Tick
	WindowStart     time.Time
	WindowEnd       time.Time
	YearReset       bool // true if this bucket starts a fresh bar_seq count
	AnchorOffset    int
}

// tfDayAssigner implements the rolling N-day window rule for tf_day
// timeframes: a fixed-size window from data start, advancing one bar at a
// time with no gaps.
type tfDayAssigner struct {
	windowDays int
}

// NewTFDayAssigner returns the window-assignment rule for rolling
// day-count timeframes (1d uses windowDays=1; multi_tf uses the
// timeframe's configured tf_days).
func NewTFDayAssigner(windowDays int) WindowAssigner {
	return &tfDayAssigner{windowDays: windowDays}
}

func (a *tfDayAssigner) Assign(ticks []Tick) []Bucket {
	if len(ticks) == 0 {
		return nil
	}
	var out []Bucket
	for i := 0; i < len(ticks); i += a.windowDays {
		end := i + a.windowDays
		if end > len(ticks) {
			end = len(ticks)
		}
		chunk := ticks[i:end]
		out = append(out, Bucket{
			Ticks:       chunk,
			WindowStart: chunk[0].Timestamp,
			WindowEnd:   chunk[len(chunk)-1].Timestamp.AddDate(0, 0, 1),
		})
	}
	return out
}

// calendarAssigner implements the fixed calendar-period rule shared by
// cal_us/cal_iso/cal_anchor_us/cal_anchor_iso, optionally resetting
// bar_seq at year boundaries.
type calendarAssigner struct {
	tf          timeframe.Timeframe
	yearAnchor  bool
}

// NewCalendarAssigner returns the window-assignment rule for a calendar
// timeframe, with year-boundary bar_seq reset when yearAnchor is true.
func NewCalendarAssigner(tf timeframe.Timeframe, yearAnchor bool) WindowAssigner {
	return &calendarAssigner{tf: tf, yearAnchor: yearAnchor}
}

func (a *calendarAssigner) Assign(ticks []Tick) []Bucket {
	if len(ticks) == 0 {
		return nil
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i].Timestamp.Before(ticks[j].Timestamp) })

	buckets := make(map[time.Time]*Bucket)
	var order []time.Time
	for _, t := range ticks {
		start, end := a.tf.PeriodBounds(t.Timestamp)
		b, ok := buckets[start]
		if !ok {
			b = &Bucket{WindowStart: start, WindowEnd: end}
			if a.yearAnchor && timeframe.YearAnchorBoundary(start) {
				b.YearReset = true
			}
			buckets[start] = b
			order = append(order, start)
		}
		b.Ticks = append(b.Ticks, t)
	}

	sort.Slice(order, func(i, j int) bool { return order[i].Before(order[j]) })
	out := make([]Bucket, 0, len(order))
	for _, start := range order {
		out = append(out, *buckets[start])
	}
	return out
}
