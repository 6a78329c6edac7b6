package regime

import (
	"context"
	"fmt"
	"sort"

	"github.com/sawpanic/barpipe/internal/persistence"
)

// RepoSource adapts a bar table and its EMA tables into the wide-format
// Snapshot sequence Engine.Run consumes, so the regime pipeline never
// needs its own storage layer.
type RepoSource struct {
	Bars    persistence.BarRepo
	EMAs    persistence.EMARepo
	Periods []int
}

// Snapshots loads bars and every configured EMA period for (id, tf) over
// tr, zipping them into one Snapshot per bar timestamp ordered ascending.
// Each Snapshot's HistoryLen is the bar's 1-based position among the bars
// loaded for tr; bars before tr.From are not counted.
func (s RepoSource) Snapshots(ctx context.Context, id, tf string, tr persistence.TimeRange) ([]Snapshot, error) {
	bars, err := s.Bars.ListRange(ctx, id, tf, tr)
	if err != nil {
		return nil, fmt.Errorf("regime source %s/%s: list bars: %w", id, tf, err)
	}
	if len(bars) == 0 {
		return nil, nil
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })

	emasByPeriod := make(map[int]map[int64]float64, len(s.Periods))
	for _, period := range s.Periods {
		rows, err := s.EMAs.ListRange(ctx, id, tf, period, tr)
		if err != nil {
			return nil, fmt.Errorf("regime source %s/%s: list ema period %d: %w", id, tf, period, err)
		}
		byTS := make(map[int64]float64, len(rows))
		for _, r := range rows {
			byTS[r.Timestamp.Unix()] = r.EMA
		}
		emasByPeriod[period] = byTS
	}

	snaps := make([]Snapshot, len(bars))
	for i, b := range bars {
		emas := make(map[int]float64, len(s.Periods))
		for _, period := range s.Periods {
			if v, ok := emasByPeriod[period][b.Timestamp.Unix()]; ok {
				emas[period] = v
			}
		}
		snaps[i] = Snapshot{
			ID: id, TF: tf, Timestamp: b.Timestamp, Close: b.Close,
			EMAs: emas, HistoryLen: i + 1,
		}
	}
	return snaps, nil
}
