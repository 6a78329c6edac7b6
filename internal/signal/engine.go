package signal

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/barpipe/internal/persistence"
)

// RegimeGate decides whether a candidate from a regime-enabled
// generator run should still be emitted once the prevailing regime's
// policy is known — e.g. suppressed because the order type or setup
// isn't in the regime's allow-list. Whether to emit or suppress on a
// policy exclusion is left as a per-config choice.
type RegimeGate func(c Candidate, policy *persistence.RegimeLabelRow) (emit bool)

// AllowAll never suppresses; useful for the regime_enabled=false arm of
// an A/B comparison.
func AllowAll(Candidate, *persistence.RegimeLabelRow) bool { return true }

// SuppressExcludedSetups drops a candidate whose generator maps (via
// generatorToSetup) to a setup absent from the regime's Setups list.
// Candidates pass when no regime label is available or their generator
// has no mapping.
func SuppressExcludedSetups(generatorToSetup map[string]string) RegimeGate {
	return func(c Candidate, policy *persistence.RegimeLabelRow) bool {
		if policy == nil {
			return true
		}
		setup, ok := generatorToSetup[c.FeatureSnapshot["generator"].(string)]
		if !ok {
			return true
		}
		for _, allowed := range policy.Setups {
			if allowed == setup {
				return true
			}
		}
		return false
	}
}

// RegimeLookup resolves the latest regime label for an (id, tf), used to
// gate and annotate candidates when regime_enabled is true. Engine.Run
// applies that one label to every candidate in the window, whatever the
// candidate's timestamp.
type RegimeLookup interface {
	LatestLabel(ctx context.Context, id, tf string) (*persistence.RegimeLabelRow, error)
}

// Config binds one generator run to its regime-awareness mode, gate,
// and destination table.
type Config struct {
	Generator     Generator
	RegimeEnabled bool
	Gate          RegimeGate
}

// Engine runs configured generators over a unified feature window and
// persists the surviving candidates, supporting parallel regime-on and
// regime-off configs of the same generator for A/B comparison.
type Engine struct {
	regimes RegimeLookup
	log     zerolog.Logger
}

// NewEngine wires a signal Engine.
func NewEngine(regimes RegimeLookup, log zerolog.Logger) *Engine {
	return &Engine{regimes: regimes, log: log.With().Str("component", "signal").Logger()}
}

// Run evaluates one Config over a row window and writes surviving
// signals via repo. id/tf identify the series for regime lookup.
func (e *Engine) Run(ctx context.Context, id, tf string, cfg Config, rows []persistence.UnifiedRow, repo persistence.SignalRepo) (int, error) {
	candidates := cfg.Generator.Generate(rows)
	if len(candidates) == 0 {
		return 0, nil
	}

	var label *persistence.RegimeLabelRow
	if cfg.RegimeEnabled && e.regimes != nil {
		var err error
		label, err = e.regimes.LatestLabel(ctx, id, tf)
		if err != nil {
			return 0, fmt.Errorf("signal run %s: regime lookup: %w", cfg.Generator.Name(), err)
		}
	}

	gate := cfg.Gate
	if gate == nil {
		gate = AllowAll
	}

	records := make([]persistence.SignalRecord, 0, len(candidates))
	for _, c := range candidates {
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		default:
		}
		if !gate(c, label) {
			continue
		}
		rec := persistence.SignalRecord{
			ID: c.Timestamp.ID, Timestamp: c.Timestamp.Timestamp,
			Generator: cfg.Generator.Name(), TF: tf,
			Side: string(c.Side), EntryPrice: c.EntryPrice,
			RegimeEnabled:   cfg.RegimeEnabled,
			FeatureSnapshot: c.FeatureSnapshot,
			IngestedAt:      time.Now(),
		}
		if label != nil {
			key := label.RegimeKey
			rec.RegimeKey = &key
		}
		records = append(records, rec)
	}
	if len(records) == 0 {
		return 0, nil
	}
	if err := repo.Insert(ctx, records); err != nil {
		return 0, fmt.Errorf("signal run %s: insert: %w", cfg.Generator.Name(), err)
	}
	e.log.Debug().Str("generator", cfg.Generator.Name()).Int("emitted", len(records)).Int("suppressed", len(candidates)-len(records)).Msg("signal run complete")
	return len(records), nil
}
