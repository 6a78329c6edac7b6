package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/barpipe/internal/persistence"
)

// regimeRepo implements persistence.RegimeRepo against cmc_regimes,
// cmc_regime_flips, cmc_regime_stats and cmc_regime_comovement.
type regimeRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewRegimeRepo creates a PostgreSQL-backed RegimeRepo.
func NewRegimeRepo(db *sqlx.DB, timeout time.Duration) persistence.RegimeRepo {
	return &regimeRepo{db: db, timeout: timeout}
}

func (r *regimeRepo) UpsertLabels(ctx context.Context, rows []persistence.RegimeLabelRow) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("regime labels upsert: begin tx: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO cmc_regimes
		(id, ts, tf, l0_label, l1_label, l2_label, regime_key, feature_tier,
		 layer_enabled_flags, size_mult, stop_mult, orders, setups, gross_cap,
		 pyramids, version_hash, ingested_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (id, ts, tf) DO UPDATE SET
			l0_label = EXCLUDED.l0_label,
			l1_label = EXCLUDED.l1_label,
			l2_label = EXCLUDED.l2_label,
			regime_key = EXCLUDED.regime_key,
			feature_tier = EXCLUDED.feature_tier,
			layer_enabled_flags = EXCLUDED.layer_enabled_flags,
			size_mult = EXCLUDED.size_mult,
			stop_mult = EXCLUDED.stop_mult,
			orders = EXCLUDED.orders,
			setups = EXCLUDED.setups,
			gross_cap = EXCLUDED.gross_cap,
			pyramids = EXCLUDED.pyramids,
			version_hash = EXCLUDED.version_hash`

	for _, row := range rows {
		flagsJSON, err := json.Marshal(row.LayerEnabledFlags)
		if err != nil {
			return fmt.Errorf("marshal layer_enabled_flags: %w", err)
		}
		ordersJSON, err := json.Marshal(row.Orders)
		if err != nil {
			return fmt.Errorf("marshal orders: %w", err)
		}
		setupsJSON, err := json.Marshal(row.Setups)
		if err != nil {
			return fmt.Errorf("marshal setups: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query,
			row.ID, row.Timestamp, row.TF, row.L0Label, row.L1Label, row.L2Label,
			row.RegimeKey, row.FeatureTier, flagsJSON, row.SizeMult, row.StopMult,
			ordersJSON, setupsJSON, row.GrossCap, row.Pyramids, row.VersionHash,
			row.IngestedAt); err != nil {
			return fmt.Errorf("upsert regime label (%s,%s,%s): %w", row.ID, row.Timestamp, row.TF, err)
		}
	}

	return tx.Commit()
}

func (r *regimeRepo) LatestLabel(ctx context.Context, id, tf string) (*persistence.RegimeLabelRow, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `
		SELECT id, ts, tf, l0_label, l1_label, l2_label, regime_key, feature_tier,
		       layer_enabled_flags, size_mult, stop_mult, orders, setups, gross_cap,
		       pyramids, version_hash, ingested_at
		FROM cmc_regimes
		WHERE id = $1 AND tf = $2
		ORDER BY ts DESC
		LIMIT 1`

	row := r.db.QueryRowxContext(ctx, query, id, tf)
	label, err := scanRegimeLabel(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("latest regime label: %w", err)
	}
	return label, nil
}

func (r *regimeRepo) ListLabels(ctx context.Context, id, tf string, tr persistence.TimeRange) ([]persistence.RegimeLabelRow, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `
		SELECT id, ts, tf, l0_label, l1_label, l2_label, regime_key, feature_tier,
		       layer_enabled_flags, size_mult, stop_mult, orders, setups, gross_cap,
		       pyramids, version_hash, ingested_at
		FROM cmc_regimes
		WHERE id = $1 AND tf = $2 AND ts >= $3 AND ts < $4
		ORDER BY ts ASC`

	rows, err := r.db.QueryxContext(ctx, query, id, tf, tr.From, tr.To)
	if err != nil {
		return nil, fmt.Errorf("list regime labels: %w", err)
	}
	defer rows.Close()

	var out []persistence.RegimeLabelRow
	for rows.Next() {
		label, err := scanRegimeLabelFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("scan regime label: %w", err)
		}
		out = append(out, *label)
	}
	return out, rows.Err()
}

func (r *regimeRepo) InsertFlips(ctx context.Context, rows []persistence.RegimeFlip) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `
		INSERT INTO cmc_regime_flips (id, ts, tf, layer, old_regime, new_regime, duration_bars)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id, ts, tf, layer) DO UPDATE SET
			old_regime = EXCLUDED.old_regime,
			new_regime = EXCLUDED.new_regime,
			duration_bars = EXCLUDED.duration_bars`

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("insert flips: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, row := range rows {
		if _, err := tx.ExecContext(ctx, query, row.ID, row.Timestamp, row.TF, row.Layer,
			row.OldRegime, row.NewRegime, row.DurationBars); err != nil {
			return fmt.Errorf("insert flip (%s,%s,%s,%s): %w", row.ID, row.Timestamp, row.TF, row.Layer, err)
		}
	}
	return tx.Commit()
}

func (r *regimeRepo) ListFlips(ctx context.Context, id, tf string, tr persistence.TimeRange) ([]persistence.RegimeFlip, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `
		SELECT id, ts, tf, layer, old_regime, new_regime, duration_bars
		FROM cmc_regime_flips
		WHERE id = $1 AND tf = $2 AND ts >= $3 AND ts < $4
		ORDER BY ts ASC`

	rows, err := r.db.QueryxContext(ctx, query, id, tf, tr.From, tr.To)
	if err != nil {
		return nil, fmt.Errorf("list flips: %w", err)
	}
	defer rows.Close()

	var out []persistence.RegimeFlip
	for rows.Next() {
		var flip persistence.RegimeFlip
		if err := rows.Scan(&flip.ID, &flip.Timestamp, &flip.TF, &flip.Layer,
			&flip.OldRegime, &flip.NewRegime, &flip.DurationBars); err != nil {
			return nil, fmt.Errorf("scan flip: %w", err)
		}
		out = append(out, flip)
	}
	return out, rows.Err()
}

func (r *regimeRepo) UpsertStats(ctx context.Context, rows []persistence.RegimeStat) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `
		INSERT INTO cmc_regime_stats (id, tf, regime_key, n_bars, pct_of_history, avg_ret_1d, std_ret_1d)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id, tf, regime_key) DO UPDATE SET
			n_bars = EXCLUDED.n_bars,
			pct_of_history = EXCLUDED.pct_of_history,
			avg_ret_1d = EXCLUDED.avg_ret_1d,
			std_ret_1d = EXCLUDED.std_ret_1d`

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("upsert stats: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, row := range rows {
		if _, err := tx.ExecContext(ctx, query, row.ID, row.TF, row.RegimeKey,
			row.NBars, row.PctOfHistory, row.AvgRet1D, row.StdRet1D); err != nil {
			return fmt.Errorf("upsert stat (%s,%s,%s): %w", row.ID, row.TF, row.RegimeKey, err)
		}
	}
	return tx.Commit()
}

// ReplaceComovement performs a scoped delete+insert for one (id, tf)
// snapshot: each refresh replaces the prior snapshot wholesale.
func (r *regimeRepo) ReplaceComovement(ctx context.Context, id, tf string, rows []persistence.RegimeComovement) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("replace comovement: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cmc_regime_comovement WHERE id = $1 AND tf = $2`, id, tf); err != nil {
		return fmt.Errorf("delete comovement: %w", err)
	}

	const insert = `
		INSERT INTO cmc_regime_comovement
		(id, tf, ema_a, ema_b, spearman_corr, sign_agreement, best_lead_lag, computed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	for _, row := range rows {
		if _, err := tx.ExecContext(ctx, insert, row.ID, row.TF, row.EMAa, row.EMAb,
			row.SpearmanCorr, row.SignAgreement, row.BestLeadLag, row.ComputedAt); err != nil {
			return fmt.Errorf("insert comovement (%s,%s,%d,%d): %w", row.ID, row.TF, row.EMAa, row.EMAb, err)
		}
	}
	return tx.Commit()
}

func scanRegimeLabel(row *sqlx.Row) (*persistence.RegimeLabelRow, error) {
	var label persistence.RegimeLabelRow
	var flagsJSON, ordersJSON, setupsJSON []byte
	if err := row.Scan(&label.ID, &label.Timestamp, &label.TF, &label.L0Label, &label.L1Label,
		&label.L2Label, &label.RegimeKey, &label.FeatureTier, &flagsJSON, &label.SizeMult,
		&label.StopMult, &ordersJSON, &setupsJSON, &label.GrossCap, &label.Pyramids,
		&label.VersionHash, &label.IngestedAt); err != nil {
		return nil, err
	}
	if err := unmarshalRegimeJSON(&label, flagsJSON, ordersJSON, setupsJSON); err != nil {
		return nil, err
	}
	return &label, nil
}

func scanRegimeLabelFromRows(rows *sqlx.Rows) (*persistence.RegimeLabelRow, error) {
	var label persistence.RegimeLabelRow
	var flagsJSON, ordersJSON, setupsJSON []byte
	if err := rows.Scan(&label.ID, &label.Timestamp, &label.TF, &label.L0Label, &label.L1Label,
		&label.L2Label, &label.RegimeKey, &label.FeatureTier, &flagsJSON, &label.SizeMult,
		&label.StopMult, &ordersJSON, &setupsJSON, &label.GrossCap, &label.Pyramids,
		&label.VersionHash, &label.IngestedAt); err != nil {
		return nil, err
	}
	if err := unmarshalRegimeJSON(&label, flagsJSON, ordersJSON, setupsJSON); err != nil {
		return nil, err
	}
	return &label, nil
}

func unmarshalRegimeJSON(label *persistence.RegimeLabelRow, flagsJSON, ordersJSON, setupsJSON []byte) error {
	if len(flagsJSON) > 0 {
		if err := json.Unmarshal(flagsJSON, &label.LayerEnabledFlags); err != nil {
			return fmt.Errorf("unmarshal layer_enabled_flags: %w", err)
		}
	}
	if len(ordersJSON) > 0 {
		if err := json.Unmarshal(ordersJSON, &label.Orders); err != nil {
			return fmt.Errorf("unmarshal orders: %w", err)
		}
	}
	if len(setupsJSON) > 0 {
		if err := json.Unmarshal(setupsJSON, &label.Setups); err != nil {
			return fmt.Errorf("unmarshal setups: %w", err)
		}
	}
	return nil
}
