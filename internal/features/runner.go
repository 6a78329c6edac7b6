// Runner wires the load/write edges that the computers in returns.go,
// volatility.go and technical.go leave as pure functions: a bounded
// per-id worker pool reading bars/EMAs and writing through the matching
// repository, watermarked exactly like bars.Builder and ema.Refresher.
// Returns, vol, and TA refresh independently of each other.
package features

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/barpipe/internal/persistence"
	"github.com/sawpanic/barpipe/internal/state"
)

// BarSource is the read surface a Phase-A runner needs from a bar table.
type BarSource interface {
	ListRange(ctx context.Context, id, tf string, tr persistence.TimeRange) ([]persistence.Bar, error)
}

// EMASource is the read surface the returns runner needs from an EMA
// table; it feeds the "ema"/"ema_bar" series the returns row's identity
// names.
type EMASource interface {
	ListRange(ctx context.Context, id, tf string, period int, tr persistence.TimeRange) ([]persistence.EMARow, error)
}

// IDResult reports one id's outcome, matching the fail-open shape shared
// with bars.Result and ema.IDResult.
type IDResult struct {
	ID          string
	RowsWritten int
	Err         error
}

func dispatch(ctx context.Context, ids []string, maxConcurrency int, work func(context.Context, string) IDResult) []IDResult {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	sem := make(chan struct{}, maxConcurrency)
	results := make([]IDResult, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		select {
		case <-ctx.Done():
			results[i] = IDResult{ID: id, Err: ctx.Err()}
			continue
		default:
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, id string) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = work(ctx, id)
		}(i, id)
	}
	wg.Wait()
	return results
}

// ReturnsRunner drives ReturnsComputer over a reference EMA period per
// (id, tf). The returns table is keyed only by (id, tf, ts, series, roll)
// with no period column, so "the" returns series for a given id/tf has to
// resolve to one EMA period; this runner pins that choice to a single
// configured reference period.
type ReturnsRunner struct {
	TF             string
	ReferencePeriod int
	Computer       ReturnsComputer
	EMASource      EMASource
	Repo           persistence.ReturnsRepo
	Tracker        *state.Tracker
	MaxConcurrency int
	Log            zerolog.Logger
}

// RefreshAll computes returns for every id over both the ema and ema_bar
// series where present (calendar variants populate both; tf_day variants
// only "ema").
func (r *ReturnsRunner) RefreshAll(ctx context.Context, ids []string, hasBarSpace bool) []IDResult {
	return dispatch(ctx, ids, r.MaxConcurrency, func(ctx context.Context, id string) IDResult {
		return r.refreshOne(ctx, id, hasBarSpace)
	})
}

func (r *ReturnsRunner) refreshOne(ctx context.Context, id string, hasBarSpace bool) IDResult {
	res := IDResult{ID: id}
	wm, _, err := r.Tracker.Load(ctx, id, r.TF, nil)
	if err != nil {
		res.Err = fmt.Errorf("load state: %w", err)
		return res
	}
	from := time.Time{}
	if wm != nil {
		from = wm.DailyMinSeen
	}
	to := time.Now().UTC()

	emaRows, err := r.EMASource.ListRange(ctx, id, r.TF, r.ReferencePeriod, persistence.TimeRange{From: from, To: to})
	if err != nil {
		res.Err = fmt.Errorf("read emas: %w", err)
		return res
	}
	if len(emaRows) == 0 {
		return res
	}

	var rows []persistence.ReturnsRow
	rows = append(rows, r.seriesRows(id, emaRows, persistence.SeriesEMA, false)...)
	if hasBarSpace {
		rows = append(rows, r.seriesRows(id, emaRows, persistence.SeriesEMABar, false)...)
	}

	if err := r.Repo.Upsert(ctx, rows); err != nil {
		res.Err = fmt.Errorf("write returns: %w", err)
		return res
	}
	res.RowsWritten = len(rows)

	last := emaRows[len(emaRows)-1]
	newWM := persistence.Watermark{ID: id, TF: r.TF, DailyMaxSeen: last.Timestamp, LastCanonicalTS: last.Timestamp, UpdatedAt: time.Now()}
	newWM.DailyMinSeen = emaRows[0].Timestamp
	if wm != nil && wm.DailyMinSeen.Before(newWM.DailyMinSeen) {
		newWM.DailyMinSeen = wm.DailyMinSeen
	}
	if err := r.Tracker.Commit(ctx, newWM, false); err != nil {
		res.Err = fmt.Errorf("commit watermark: %w", err)
	}
	return res
}

func (r *ReturnsRunner) seriesRows(id string, emaRows []persistence.EMARow, series persistence.Series, roll bool) []persistence.ReturnsRow {
	ts := make([]time.Time, len(emaRows))
	values := make([]float64, len(emaRows))
	for i, e := range emaRows {
		ts[i] = e.Timestamp
		if series == persistence.SeriesEMABar && e.EMABar != nil {
			values[i] = *e.EMABar
		} else {
			values[i] = e.EMA
		}
	}
	return r.Computer.Compute(id, r.TF, series, roll, ts, values)
}

// VolatilityRunner drives VolatilityComputer over raw OHLC bars per id.
type VolatilityRunner struct {
	TF             string
	Computer       VolatilityComputer
	Bars           BarSource
	Repo           persistence.VolRepo
	Tracker        *state.Tracker
	MaxConcurrency int
	Log            zerolog.Logger
}

func (r *VolatilityRunner) RefreshAll(ctx context.Context, ids []string) []IDResult {
	return dispatch(ctx, ids, r.MaxConcurrency, r.refreshOne)
}

func (r *VolatilityRunner) refreshOne(ctx context.Context, id string) IDResult {
	res := IDResult{ID: id}
	wm, _, err := r.Tracker.Load(ctx, id, r.TF, nil)
	if err != nil {
		res.Err = fmt.Errorf("load state: %w", err)
		return res
	}
	from := time.Time{}
	if wm != nil {
		from = wm.DailyMinSeen
	}
	bars, err := r.Bars.ListRange(ctx, id, r.TF, persistence.TimeRange{From: from, To: time.Now().UTC()})
	if err != nil {
		res.Err = fmt.Errorf("read bars: %w", err)
		return res
	}
	if len(bars) == 0 {
		return res
	}
	rows := r.Computer.Compute(id, r.TF, bars)
	if err := r.Repo.Upsert(ctx, rows); err != nil {
		res.Err = fmt.Errorf("write vol: %w", err)
		return res
	}
	res.RowsWritten = len(rows)
	if err := commitFromBars(ctx, r.Tracker, wm, id, r.TF, bars); err != nil {
		res.Err = err
	}
	return res
}

// TechnicalRunner drives TechnicalComputer over raw OHLC bars per id.
type TechnicalRunner struct {
	TF             string
	Computer       TechnicalComputer
	Bars           BarSource
	Repo           persistence.TARepo
	Tracker        *state.Tracker
	MaxConcurrency int
	Log            zerolog.Logger
}

func (r *TechnicalRunner) RefreshAll(ctx context.Context, ids []string) []IDResult {
	return dispatch(ctx, ids, r.MaxConcurrency, r.refreshOne)
}

func (r *TechnicalRunner) refreshOne(ctx context.Context, id string) IDResult {
	res := IDResult{ID: id}
	wm, _, err := r.Tracker.Load(ctx, id, r.TF, nil)
	if err != nil {
		res.Err = fmt.Errorf("load state: %w", err)
		return res
	}
	from := time.Time{}
	if wm != nil {
		from = wm.DailyMinSeen
	}
	bars, err := r.Bars.ListRange(ctx, id, r.TF, persistence.TimeRange{From: from, To: time.Now().UTC()})
	if err != nil {
		res.Err = fmt.Errorf("read bars: %w", err)
		return res
	}
	if len(bars) == 0 {
		return res
	}
	rows := r.Computer.Compute(id, r.TF, bars)
	if err := r.Repo.Upsert(ctx, rows); err != nil {
		res.Err = fmt.Errorf("write ta: %w", err)
		return res
	}
	res.RowsWritten = len(rows)
	if err := commitFromBars(ctx, r.Tracker, wm, id, r.TF, bars); err != nil {
		res.Err = err
	}
	return res
}

func commitFromBars(ctx context.Context, tracker *state.Tracker, wm *persistence.Watermark, id, tf string, bars []persistence.Bar) error {
	first, last := bars[0], bars[len(bars)-1]
	newWM := persistence.Watermark{ID: id, TF: tf, DailyMaxSeen: last.Timestamp, LastCanonicalTS: last.Timestamp,
		LastTimeClose: last.TimeCloseBar, LastBarSeq: last.BarSeq, UpdatedAt: time.Now()}
	newWM.DailyMinSeen = first.Timestamp
	if wm != nil && wm.DailyMinSeen.Before(newWM.DailyMinSeen) {
		newWM.DailyMinSeen = wm.DailyMinSeen
	}
	return tracker.Commit(ctx, newWM, false)
}
