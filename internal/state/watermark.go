// Package state implements the watermark/dirty-window machinery shared by
// every refresher (bars, EMAs, features, regimes): tracking per-id
// progress, detecting backfill, and computing the window a refresher must
// recompute on each incremental pass.
package state

import (
	"context"
	"fmt"
	"time"

	"github.com/sawpanic/barpipe/internal/persistence"
)

// Phase is where an (id, tf) sits in the refresh lifecycle.
type Phase string

const (
	PhaseCold        Phase = "cold"
	PhaseWarm        Phase = "warm"
	PhaseBackfilling Phase = "backfilling"
)

// Tracker wraps a WatermarkRepo bound to one table, giving refreshers a
// small typed API instead of passing table-name strings around.
type Tracker struct {
	repo  persistence.WatermarkRepo
	table string
}

// NewTracker returns a Tracker backed by repo for the given state table.
func NewTracker(repo persistence.WatermarkRepo, table string) *Tracker {
	return &Tracker{repo: repo, table: table}
}

// Load returns the current watermark and phase for (id, tf[, period]).
// A nil watermark with PhaseCold means no prior run has completed.
func (t *Tracker) Load(ctx context.Context, id, tf string, period *int) (*persistence.Watermark, Phase, error) {
	wm, err := t.repo.Get(ctx, t.table, id, tf, period)
	if err != nil {
		return nil, "", fmt.Errorf("load watermark %s/%s/%s: %w", t.table, id, tf, err)
	}
	if wm == nil {
		return nil, PhaseCold, nil
	}
	return wm, PhaseWarm, nil
}

// BackfillDetected reports whether sourceMin predates the watermark's
// daily_min_seen: a source-min earlier than daily_min_seen signals
// backfill.
func BackfillDetected(wm *persistence.Watermark, sourceMin time.Time) bool {
	if wm == nil {
		return false
	}
	return sourceMin.Before(wm.DailyMinSeen)
}

// Commit upserts the watermark after a successful refresh pass. It
// enforces the monotone-non-decreasing invariant on daily_max_seen unless
// full is true (backfill rebuild may legitimately move it backward first).
func (t *Tracker) Commit(ctx context.Context, wm persistence.Watermark, full bool) error {
	if !full {
		existing, err := t.repo.Get(ctx, t.table, wm.ID, wm.TF, wm.Period)
		if err != nil {
			return fmt.Errorf("commit watermark %s/%s/%s: load existing: %w", t.table, wm.ID, wm.TF, err)
		}
		if existing != nil && wm.DailyMaxSeen.Before(existing.DailyMaxSeen) {
			return fmt.Errorf("commit watermark %s/%s/%s: daily_max_seen regressed from %s to %s",
				t.table, wm.ID, wm.TF, existing.DailyMaxSeen, wm.DailyMaxSeen)
		}
	}
	if err := t.repo.Upsert(ctx, t.table, wm); err != nil {
		return fmt.Errorf("commit watermark %s/%s/%s: %w", t.table, wm.ID, wm.TF, err)
	}
	return nil
}

// Reset clears the watermark for (id, tf), used by --full-refresh so the
// next incremental pass treats the id as cold.
func (t *Tracker) Reset(ctx context.Context, id, tf string, period *int) error {
	if err := t.repo.Reset(ctx, t.table, id, tf, period); err != nil {
		return fmt.Errorf("reset watermark %s/%s/%s: %w", t.table, id, tf, err)
	}
	return nil
}

// Ids lists every id with a watermark row for tf, the starting point for
// "refresh everything we've seen before" runs.
func (t *Tracker) Ids(ctx context.Context, tf string) ([]string, error) {
	ids, err := t.repo.ListIDs(ctx, t.table, tf)
	if err != nil {
		return nil, fmt.Errorf("list ids %s/%s: %w", t.table, tf, err)
	}
	return ids, nil
}
