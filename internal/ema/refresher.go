package ema

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/barpipe/internal/persistence"
	"github.com/sawpanic/barpipe/internal/state"
	"github.com/sawpanic/barpipe/internal/timeframe"
)

// MinPeriods is the warm-up length before an EMA produces a value; it
// matches the period itself, the conventional simple-mean seed length.
func MinPeriods(period int) int { return period }

// Variant distinguishes the six EMA refreshers. Each refresher reads one
// bar table; the two tf_day variants both read the same tf_day bar table.
type Variant string

const (
	VariantTFDayBarSpace   Variant = "tf_day_v1"
	VariantTFDayDailySpace Variant = "tf_day_v2"
	VariantCalendarUS      Variant = "calendar_us"
	VariantCalendarISO     Variant = "calendar_iso"
	VariantCalAnchorUS     Variant = "calendar_anchor_us"
	VariantCalAnchorISO    Variant = "calendar_anchor_iso"
)

// Config parameterises one refresher instance.
type Config struct {
	Variant    Variant
	TF         string
	TFDays     int
	Periods    []int
	HasBarSpace bool // set on calendar/calendar_anchor variants; refreshOne does not read it and writes only ema, never ema_bar/roll_bar
	AlphaForPeriod func(period int) float64
	MaxConcurrency int
}

// SourceBars is the minimal read surface a refresher needs from its bar
// table, distinct from persistence.BarRepo's full write-capable contract.
type SourceBars interface {
	ListRange(ctx context.Context, id, tf string, tr persistence.TimeRange) ([]persistence.Bar, error)
}

// Refresher is the template shared by every EMA variant: load state,
// compute dirty window, dispatch bounded per-id workers, write, update
// watermark.
type Refresher struct {
	cfg     Config
	source  SourceBars
	emas    persistence.EMARepo
	tracker *state.Tracker
	log     zerolog.Logger
}

// NewRefresher wires one variant's collaborators.
func NewRefresher(cfg Config, source SourceBars, emas persistence.EMARepo, tracker *state.Tracker, log zerolog.Logger) *Refresher {
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 4
	}
	return &Refresher{cfg: cfg, source: source, emas: emas, tracker: tracker,
		log: log.With().Str("component", "ema").Str("variant", string(cfg.Variant)).Logger()}
}

// IDResult reports one id's outcome, matching the fail-open contract
// shared with bars.Result.
type IDResult struct {
	ID          string
	RowsWritten int
	Err         error
}

// RefreshAll dispatches a bounded worker pool over ids, cooperatively
// cancellable via ctx: workers check between per-id blocks.
func (r *Refresher) RefreshAll(ctx context.Context, ids []string) []IDResult {
	sem := make(chan struct{}, r.cfg.MaxConcurrency)
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
			results[i] = r.refreshOne(ctx, id)
		}(i, id)
	}
	wg.Wait()
	return results
}

func (r *Refresher) refreshOne(ctx context.Context, id string) IDResult {
	res := IDResult{ID: id}

	wm, _, err := r.tracker.Load(ctx, id, r.cfg.TF, nil)
	if err != nil {
		res.Err = fmt.Errorf("load state: %w", err)
		return res
	}

	lastClose := make(map[int]time.Time)
	maxPeriod := 0
	for _, p := range r.cfg.Periods {
		if p > maxPeriod {
			maxPeriod = p
		}
		if wm != nil {
			lastClose[p] = wm.LastTimeClose
		}
	}
	var dailyMinSeen time.Time
	if wm != nil {
		dailyMinSeen = wm.DailyMinSeen
	}
	tfDays := float64(r.cfg.TFDays)
	if tfDays == 0 {
		tfDays = 1
	}
	from := state.DirtyWindowStart(lastClose, dailyMinSeen, maxPeriod, tfDays)
	to := time.Now().UTC()

	bars, err := r.source.ListRange(ctx, id, r.cfg.TF, persistence.TimeRange{From: from, To: to})
	if err != nil {
		res.Err = fmt.Errorf("read bars: %w", err)
		return res
	}
	if len(bars) == 0 {
		return res
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}

	var rows []persistence.EMARow
	for _, period := range r.cfg.Periods {
		select {
		case <-ctx.Done():
			res.Err = ctx.Err()
			return res
		default:
		}
		alpha := r.cfg.AlphaForPeriod(period)
		emaVals := ComputeEMA(closes, alpha, MinPeriods(period))
		d1, d2 := Derivatives(emaVals)

		for i, bar := range bars {
			row := persistence.EMARow{
				ID: id, TF: r.cfg.TF, Timestamp: bar.Timestamp, Period: period,
				EMA: emaVals[i], Roll: !isCanonicalClose(bar),
				IngestedAt: time.Now(),
			}
			if !isNaN(d1[i]) {
				row.D1 = ptr(d1[i])
			}
			if !isNaN(d2[i]) {
				row.D2 = ptr(d2[i])
			}
			rows = append(rows, row)
		}
	}

	if err := r.emas.Upsert(ctx, rows); err != nil {
		res.Err = fmt.Errorf("write emas: %w", err)
		return res
	}
	res.RowsWritten = len(rows)

	if len(bars) > 0 {
		last := bars[len(bars)-1]
		newWM := persistence.Watermark{ID: id, TF: r.cfg.TF, LastTimeClose: last.TimeCloseBar,
			LastCanonicalTS: last.Timestamp, DailyMaxSeen: last.Timestamp, UpdatedAt: time.Now()}
		if wm != nil {
			newWM.DailyMinSeen = wm.DailyMinSeen
			if bars[0].Timestamp.Before(newWM.DailyMinSeen) {
				newWM.DailyMinSeen = bars[0].Timestamp
			}
		} else {
			newWM.DailyMinSeen = bars[0].Timestamp
		}
		if err := r.tracker.Commit(ctx, newWM, false); err != nil {
			res.Err = fmt.Errorf("commit watermark: %w", err)
		}
	}
	return res
}

// isCanonicalClose reports whether a bar counts as a canonical close: any
// bar not flagged is_partial_end. 1D bars are never flagged, so every 1D
// bar closes.
func isCanonicalClose(bar persistence.Bar) bool {
	return !bar.IsPartialEnd
}

func isNaN(f float64) bool { return f != f }
func ptr(f float64) *float64 { return &f }

// FilterTimeframes selects the dim_timeframe rows one EMA variant should
// refresh, by alignment type and (for calendar variants) scheme.
func FilterTimeframes(reg *timeframe.Registry, alignment timeframe.AlignmentType, scheme timeframe.Scheme) []timeframe.Timeframe {
	return reg.Filter(func(t timeframe.Timeframe) bool {
		if t.AlignmentType != alignment {
			return false
		}
		if scheme != "" && t.Scheme != scheme {
			return false
		}
		return true
	})
}
