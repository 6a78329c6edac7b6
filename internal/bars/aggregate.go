package bars

import "github.com/sawpanic/barpipe/internal/persistence"

// Aggregate vectorises one bucket's ticks into the canonical OHLCV
// payload: first open, last close, max high, min low, sum volume,
// earliest/latest timestamp for time_open_bar/time_close_bar, and the
// timestamps of the max high and min low for time_high/time_low.
// The caller fills in ID/TF/BarSeq/Timestamp afterward.
func Aggregate(b Bucket) persistence.Bar {
	if len(b.Ticks) == 0 {
		return persistence.Bar{}
	}
	first, last := b.Ticks[0], b.Ticks[len(b.Ticks)-1]

	out := persistence.Bar{
		Open:         first.Open,
		Close:        last.Close,
		High:         first.High,
		Low:          first.Low,
		TimeOpenBar:  first.Timestamp,
		TimeCloseBar: last.Timestamp,
		TimeHigh:     first.Timestamp,
		TimeLow:      first.Timestamp,
		BarAnchorOffset: b.AnchorOffset,
	}
	for _, t := range b.Ticks {
		out.Volume += t.Volume
		if t.High > out.High {
			out.High = t.High
			out.TimeHigh = t.Timestamp
		}
		if t.Low < out.Low {
			out.Low = t.Low
			out.TimeLow = t.Timestamp
		}
	}
	return out
}
