package bars

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/barpipe/internal/persistence"
	"github.com/sawpanic/barpipe/internal/state"
)

// Mode selects how aggressively a refresh recomputes history.
type Mode string

const (
	ModeIncremental Mode = "incremental"
	ModeFull        Mode = "full"
	ModeDryRun      Mode = "dry-run"
)

// Variant distinguishes the six builders for logging and the
// alignment_source discriminator used once tables are unified.
type Variant string

const (
	Variant1D           Variant = "1d"
	VariantMultiTF      Variant = "multi_tf"
	VariantCalUS        Variant = "cal_us"
	VariantCalISO       Variant = "cal_iso"
	VariantCalAnchorUS  Variant = "cal_anchor_us"
	VariantCalAnchorISO Variant = "cal_anchor_iso"
)

// Config parameterises one builder instance: its alignment rule, target
// repo, and behaviour knobs that differ only by variant.
type Config struct {
	Variant        Variant
	TF             string
	TFDays         int // 0 for variable-length calendar periods
	Assigner       WindowAssigner
	RequiresBackfillCheck bool // multi-TF/calendar only
	RepairPolicy   RepairPolicy
	LookbackBuffer time.Duration
}

// Builder is the template shared by all six variants: load state,
// source-query, backfill-check, window-assign, aggregate, contract-check,
// write, flag, update watermark.
type Builder struct {
	cfg     Config
	source  Source
	bars    persistence.BarRepo
	tracker *state.Tracker
	rejects *state.RejectLog
	log     zerolog.Logger
}

// NewBuilder wires one variant's collaborators.
func NewBuilder(cfg Config, source Source, bars persistence.BarRepo, tracker *state.Tracker, rejects *state.RejectLog, log zerolog.Logger) *Builder {
	return &Builder{cfg: cfg, source: source, bars: bars, tracker: tracker, rejects: rejects,
		log: log.With().Str("component", "bars").Str("variant", string(cfg.Variant)).Logger()}
}

// Table reports the bar table this builder writes to, for callers that
// need to bind a sibling component (an EMA refresher, a validation stage)
// to the same table without re-deriving the variant mapping.
func (b *Builder) Table() string { return b.bars.TableName() }

// Result summarises one id's refresh outcome, matching the fail-open
// per-id reporting contract shared with the EMA refresher.
type Result struct {
	ID        string
	RowsWritten int
	RowsRejected int
	Backfilled bool
	Err       error
}

// Refresh runs the full algorithm for one id. Workers call this once
// per id under the orchestrator's bounded pool;
// a per-id failure is returned in Result.Err and must not halt siblings.
func (b *Builder) Refresh(ctx context.Context, id string, mode Mode) Result {
	res := Result{ID: id}

	wm, phase, err := b.tracker.Load(ctx, id, b.cfg.TF, nil)
	if err != nil {
		res.Err = fmt.Errorf("load state: %w", err)
		return res
	}

	from, to := b.sourceWindow(wm, mode)
	ticks, err := b.source.ReadRange(ctx, id, from, to)
	if err != nil {
		res.Err = fmt.Errorf("read source: %w", err)
		return res
	}
	if len(ticks) == 0 {
		b.log.Debug().Str("id", id).Msg("no new source rows")
		return res
	}

	if b.cfg.RequiresBackfillCheck && phase == state.PhaseWarm {
		srcMin, err := b.source.MinTimestamp(ctx, id)
		if err != nil {
			res.Err = fmt.Errorf("source min timestamp: %w", err)
			return res
		}
		if state.BackfillDetected(wm, srcMin) {
			res.Backfilled = true
			if mode != ModeDryRun {
				if err := b.bars.DeleteRange(ctx, id, b.cfg.TF, srcMin); err != nil {
					res.Err = fmt.Errorf("backfill rebuild delete: %w", err)
					return res
				}
			}
			from = srcMin
			ticks, err = b.source.ReadRange(ctx, id, from, to)
			if err != nil {
				res.Err = fmt.Errorf("re-read source after backfill: %w", err)
				return res
			}
			b.log.Warn().Str("id", id).Time("rebuild_from", srcMin).Msg("backfill detected, rebuilding")
		}
	}

	buckets := b.cfg.Assigner.Assign(ticks)
	candidates := b.assignSeq(id, buckets, wm)

	normalised := NormaliseSchema(candidates, time.Now())

	switch b.cfg.Variant {
	case Variant1D:
		res.RowsWritten, res.RowsRejected, err = b.write1D(ctx, normalised)
	default:
		res.RowsWritten, res.RowsRejected, err = b.writeRepaired(ctx, normalised)
	}
	if err != nil {
		res.Err = err
		return res
	}

	if mode == ModeDryRun {
		return res
	}

	newWM := b.nextWatermark(id, wm, normalised)
	if err := b.tracker.Commit(ctx, newWM, res.Backfilled); err != nil {
		res.Err = fmt.Errorf("commit watermark: %w", err)
	}
	return res
}

func (b *Builder) sourceWindow(wm *persistence.Watermark, mode Mode) (time.Time, time.Time) {
	now := time.Now().UTC()
	if mode == ModeFull || wm == nil {
		return time.Time{}, now
	}
	if b.cfg.Variant == Variant1D {
		return wm.LastCanonicalTS, now
	}
	from, to := state.BackfillLookback(wm.DailyMinSeen, b.cfg.LookbackBuffer, now)
	return from, to
}

// assignSeq turns ordered buckets into bars with a monotone, gap-free
// bar_seq per (id, tf), resuming from the watermark's last_bar_seq and
// resetting to zero on a year-anchor bucket.
func (b *Builder) assignSeq(id string, buckets []Bucket, wm *persistence.Watermark) []persistence.Bar {
	seq := int64(0)
	if wm != nil {
		seq = wm.LastBarSeq
	}
	out := make([]persistence.Bar, 0, len(buckets))
	for _, bucket := range buckets {
		if bucket.YearReset {
			seq = 0
		}
		seq++
		bar := Aggregate(bucket)
		bar.ID = id
		bar.TF = b.cfg.TF
		bar.BarSeq = seq
		bar.Timestamp = bucket.WindowStart
		out = append(out, bar)
	}
	return out
}

// write1D rejects violating rows outright rather than repairing them.
func (b *Builder) write1D(ctx context.Context, rows []persistence.Bar) (written, rejected int, err error) {
	violations := DetectOHLCViolations(rows)
	bad := make(map[int]persistence.RejectReason, len(violations))
	for _, v := range violations {
		for i, r := range rows {
			if r.Timestamp.Equal(v.Bar.Timestamp) {
				bad[i] = v.Reason
			}
		}
	}

	survivors := make([]persistence.Bar, 0, len(rows))
	for i, r := range rows {
		if reason, isBad := bad[i]; isBad {
			b.rejects.Add(r.ID, r.TF, r.Timestamp, r.Open, r.High, r.Low, r.Close, r.Volume, reason, persistence.RepairRejected)
			continue
		}
		survivors = append(survivors, r)
	}
	if err := b.rejects.Flush(ctx); err != nil {
		return 0, 0, err
	}
	if err := b.bars.Upsert(ctx, survivors); err != nil {
		return 0, 0, fmt.Errorf("upsert bars: %w", err)
	}
	return len(survivors), len(bad), nil
}

// writeRepaired clamp-repairs violations and writes survivors, logging
// the original values to the rejects table.
func (b *Builder) writeRepaired(ctx context.Context, rows []persistence.Bar) (written, rejected int, err error) {
	results := EnforceOHLCSanity(rows, b.cfg.RepairPolicy)

	survivors := make([]persistence.Bar, 0, len(results))
	for i, res := range results {
		if res.Repair != "" {
			orig := rows[i]
			b.rejects.Add(orig.ID, orig.TF, orig.Timestamp, orig.Open, orig.High, orig.Low,
				orig.Close, orig.Volume, violationReasonFor(res.Repair), res.Repair)
		}
		if res.Rejected {
			continue
		}
		survivors = append(survivors, res.Bar)
	}
	tfDays := b.cfg.TFDays
	if tfDays == 0 {
		tfDays = 1
	}
	survivors = FlagPartialAndGaps(survivors, tfDays, time.Now())

	if err := b.rejects.Flush(ctx); err != nil {
		return 0, 0, err
	}
	if err := b.bars.Upsert(ctx, survivors); err != nil {
		return 0, 0, fmt.Errorf("upsert bars: %w", err)
	}
	return len(survivors), len(results) - len(survivors), nil
}

func violationReasonFor(repair persistence.RepairAction) persistence.RejectReason {
	switch repair {
	case persistence.RepairSwapHighLow:
		return persistence.RejectHighLtLow
	case persistence.RepairSetHighToOCMax:
		return persistence.RejectHighLtOCMax
	case persistence.RepairSetLowToOCMin:
		return persistence.RejectLowGtOCMin
	default:
		return persistence.RejectHighLtLow
	}
}

func (b *Builder) nextWatermark(id string, prev *persistence.Watermark, rows []persistence.Bar) persistence.Watermark {
	wm := persistence.Watermark{ID: id, TF: b.cfg.TF, UpdatedAt: time.Now()}
	if prev != nil {
		wm = *prev
		wm.UpdatedAt = time.Now()
	}
	if len(rows) == 0 {
		return wm
	}
	first, last := rows[0], rows[len(rows)-1]
	if wm.DailyMinSeen.IsZero() || first.Timestamp.Before(wm.DailyMinSeen) {
		wm.DailyMinSeen = first.Timestamp
	}
	if last.Timestamp.After(wm.DailyMaxSeen) {
		wm.DailyMaxSeen = last.Timestamp
	}
	wm.LastCanonicalTS = last.Timestamp
	wm.LastTimeClose = last.TimeCloseBar
	wm.LastBarSeq = last.BarSeq
	return wm
}
