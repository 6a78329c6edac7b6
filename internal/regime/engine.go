package regime

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/barpipe/internal/persistence"
)

// Source supplies wide-format EMA snapshots for one (id, tf), ordered
// by timestamp ascending, to drive the regime engine end to end.
type Source interface {
	Snapshots(ctx context.Context, id, tf string, tr persistence.TimeRange) ([]Snapshot, error)
}

// Engine computes committed regime labels and composite flips for a set
// of (id, tf) pairs, gluing together ClassifySnapshot, the hysteresis
// Tracker, and policy resolution. It does not compute or write per-regime
// stats or comovement; Stats and ComputeComovement are not called here.
type Engine struct {
	source  Source
	repo    persistence.RegimeRepo
	base    PolicyTable
	overlay PolicyTable
	tracker *Tracker
	log     zerolog.Logger
	minHold int
}

// NewEngine wires an Engine. overlayPath may be empty, in which case no
// operator overrides are applied.
func NewEngine(source Source, repo persistence.RegimeRepo, overlayPath string, log zerolog.Logger) (*Engine, error) {
	overlay, err := LoadOverlay(overlayPath)
	if err != nil {
		return nil, err
	}
	return &Engine{
		source:  source,
		repo:    repo,
		base:    DefaultPolicyTable(),
		overlay: overlay,
		tracker: NewTracker(),
		log:     log.With().Str("component", "regime").Logger(),
		minHold: MinBarsHold,
	}, nil
}

// SetMinHold overrides the number of bars a pending label must hold
// before it commits. Passing 1 effectively disables hysteresis: every
// classification commits immediately, which the CLI exposes as
// --no-hysteresis for debugging a single layer's raw output.
func (e *Engine) SetMinHold(bars int) {
	if bars < 1 {
		bars = 1
	}
	e.minHold = bars
}

// versionHash fingerprints the active policy table so downstream
// consumers can detect when an operator overlay changed mid-history.
func (e *Engine) versionHash() string {
	h := sha256.New()
	for k, p := range e.base {
		fmt.Fprintf(h, "%s=%v;", k, p)
	}
	for k, p := range e.overlay {
		fmt.Fprintf(h, "!%s=%v;", k, p)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Run processes one (id, tf)'s snapshots in order, committing labels
// through hysteresis, resolving policy, detecting flips, and persisting
// the labels and flips.
func (e *Engine) Run(ctx context.Context, id, tf string, tr persistence.TimeRange) error {
	snaps, err := e.source.Snapshots(ctx, id, tf, tr)
	if err != nil {
		return fmt.Errorf("regime run %s/%s: load snapshots: %w", id, tf, err)
	}
	if len(snaps) == 0 {
		return nil
	}

	versionHash := e.versionHash()
	states := map[Layer]*State{
		LayerL0: e.tracker.Get(id, tf, LayerL0),
		LayerL1: e.tracker.Get(id, tf, LayerL1),
		LayerL2: e.tracker.Get(id, tf, LayerL2),
	}

	labelRows := make([]persistence.RegimeLabelRow, 0, len(snaps))
	series := make([]LabeledBar, 0, len(snaps))

	for _, snap := range snaps {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		raw, enabled := ClassifySnapshot(snap)
		committed := make(map[Layer]string, 3)
		for _, layer := range []Layer{LayerL0, LayerL1, LayerL2} {
			st := states[layer]
			label, _ := st.Advance(raw[layer], snap.Timestamp, e.policyForLayer(layer), e.minHold)
			committed[layer] = label
		}

		key, policy, _ := Resolve(e.base, e.overlay, committed[LayerL0], committed[LayerL1], committed[LayerL2])
		tier := FeatureTier(enabled)

		labelRows = append(labelRows, persistence.RegimeLabelRow{
			ID: id, Timestamp: snap.Timestamp, TF: tf,
			L0Label: committed[LayerL0], L1Label: committed[LayerL1], L2Label: committed[LayerL2],
			RegimeKey:   key,
			FeatureTier: tier,
			LayerEnabledFlags: map[string]bool{
				string(LayerL0): enabled[LayerL0],
				string(LayerL1): enabled[LayerL1],
				string(LayerL2): enabled[LayerL2],
			},
			SizeMult: policy.SizeMult, StopMult: policy.StopMult,
			Orders: policy.Orders, Setups: policy.Setups,
			GrossCap: policy.GrossCap, Pyramids: policy.Pyramids,
			VersionHash: versionHash,
			IngestedAt:  time.Now(),
		})
		series = append(series, LabeledBar{Timestamp: snap.Timestamp, Label: key})
	}

	if err := e.repo.UpsertLabels(ctx, labelRows); err != nil {
		return fmt.Errorf("regime run %s/%s: %w", id, tf, err)
	}

	flips := DetectFlips(series)
	flipRows := make([]persistence.RegimeFlip, 0, len(flips))
	for _, f := range flips {
		var old *string
		if f.OldRegime != "" {
			o := f.OldRegime
			old = &o
		}
		flipRows = append(flipRows, persistence.RegimeFlip{
			ID: id, Timestamp: f.Timestamp, TF: tf, Layer: "composite",
			OldRegime: old, NewRegime: f.NewRegime, DurationBars: f.Duration,
		})
	}
	if err := e.repo.InsertFlips(ctx, flipRows); err != nil {
		return fmt.Errorf("regime run %s/%s: flips: %w", id, tf, err)
	}

	e.log.Debug().Str("id", id).Str("tf", tf).Int("bars", len(snaps)).Int("flips", len(flips)).Msg("regime run complete")
	return nil
}

// policyForLayer returns a closure that resolves a single-layer label
// candidate to a representative Policy by holding the other two layers
// at ProxyLabel, so the hysteresis tightening test
// can compare "what if this layer changed" without leaking policy
// internals into hysteresis.go.
func (e *Engine) policyForLayer(layer Layer) func(label string) Policy {
	return func(label string) Policy {
		l0, l1, l2 := ProxyLabel, ProxyLabel, ProxyLabel
		switch layer {
		case LayerL0:
			l0 = label
		case LayerL1:
			l1 = label
		case LayerL2:
			l2 = label
		}
		_, p, _ := Resolve(e.base, e.overlay, l0, l1, l2)
		return p
	}
}

// RunAll processes every id for a timeframe, failing open so one id's
// error doesn't block the rest (matches bars.Builder / ema.Refresher).
func (e *Engine) RunAll(ctx context.Context, ids []string, tf string, tr persistence.TimeRange) map[string]error {
	errs := make(map[string]error)
	for _, id := range ids {
		if err := e.Run(ctx, id, tf, tr); err != nil {
			errs[id] = err
		}
	}
	return errs
}
