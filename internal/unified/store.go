// Package unified implements the materialised daily feature store over
// bars, returns, vol, and TA by (id, ts), refreshed up to the minimum
// watermark among its sources so a lagging upstream table degrades the
// join gracefully instead of blocking it. EMA values are not joined into
// the store.
package unified

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/barpipe/internal/persistence"
)

// SourceWatermark names one upstream table-family feeding the store,
// paired with a way to read its current high watermark.
type SourceWatermark struct {
	Name string
	Get  func(ctx context.Context, id string) (time.Time, error)
}

// Store refreshes cmc_unified_daily for a set of ids.
type Store struct {
	repo    persistence.UnifiedRepo
	sources []SourceWatermark
	log     zerolog.Logger
}

// NewStore wires the unified repo with the source watermark readers used
// to compute each id's safe refresh ceiling.
func NewStore(repo persistence.UnifiedRepo, sources []SourceWatermark, log zerolog.Logger) *Store {
	return &Store{repo: repo, sources: sources, log: log.With().Str("component", "unified").Logger()}
}

// Refresh materialises one id's window up to min(source watermarks),
// logging a warning that names every source with no watermark yet. It
// returns the stored row at the ceiling, or a bare id/ts row when none
// is found.
func (s *Store) Refresh(ctx context.Context, id string, from time.Time) (persistence.UnifiedRow, error) {
	ceiling := time.Time{}
	var missing []string

	for _, src := range s.sources {
		wm, err := src.Get(ctx, id)
		if err != nil {
			return persistence.UnifiedRow{}, fmt.Errorf("unified refresh %s: read %s watermark: %w", id, src.Name, err)
		}
		if wm.IsZero() {
			missing = append(missing, src.Name)
			continue
		}
		if ceiling.IsZero() || wm.Before(ceiling) {
			ceiling = wm
		}
	}
	if ceiling.IsZero() {
		return persistence.UnifiedRow{}, fmt.Errorf("unified refresh %s: no source has a watermark yet", id)
	}

	n, err := s.repo.Refresh(ctx, []string{id}, persistence.TimeRange{From: from, To: ceiling.Add(time.Nanosecond)})
	if err != nil {
		return persistence.UnifiedRow{}, fmt.Errorf("unified refresh %s: %w", id, err)
	}
	if len(missing) > 0 {
		s.log.Warn().Str("id", id).Strs("missing_sources", missing).Msg("unified store degraded: missing source watermark")
	}
	s.log.Debug().Str("id", id).Int("rows", n).Time("ceiling", ceiling).Msg("unified store refreshed")

	latest, err := s.repo.ListRange(ctx, id, persistence.TimeRange{From: ceiling.Add(-time.Second), To: ceiling.Add(time.Second)})
	if err != nil || len(latest) == 0 {
		return persistence.UnifiedRow{ID: id, Timestamp: ceiling}, nil
	}
	return latest[len(latest)-1], nil
}

// RefreshAll runs Refresh across every id, collecting per-id errors
// without letting one failure halt the batch (matches the fail-open
// contract of bars.Builder and ema.Refresher).
func (s *Store) RefreshAll(ctx context.Context, ids []string, from time.Time) map[string]error {
	errs := make(map[string]error)
	for _, id := range ids {
		if _, err := s.Refresh(ctx, id, from); err != nil {
			errs[id] = err
		}
	}
	return errs
}
