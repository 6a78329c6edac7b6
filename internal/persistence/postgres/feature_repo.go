package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/barpipe/internal/persistence"
)

// returnsRepo implements persistence.ReturnsRepo against the returns table.
type returnsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewReturnsRepo(db *sqlx.DB, timeout time.Duration) persistence.ReturnsRepo {
	return &returnsRepo{db: db, timeout: timeout}
}

func (r *returnsRepo) Upsert(ctx context.Context, rows []persistence.ReturnsRow) error {
	if len(rows) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `
		INSERT INTO cmc_returns
		(id, tf, ts, series, roll, gap_days, returns, log_returns, d1, d2, z_scores, is_outlier, ingested_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
		ON CONFLICT (id, tf, ts, series, roll) DO UPDATE SET
			gap_days = EXCLUDED.gap_days, returns = EXCLUDED.returns,
			log_returns = EXCLUDED.log_returns, d1 = EXCLUDED.d1, d2 = EXCLUDED.d2,
			z_scores = EXCLUDED.z_scores, is_outlier = EXCLUDED.is_outlier`

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("returns upsert: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, row := range rows {
		retJSON, err := json.Marshal(row.Returns)
		if err != nil {
			return fmt.Errorf("marshal returns: %w", err)
		}
		logJSON, err := json.Marshal(row.LogReturns)
		if err != nil {
			return fmt.Errorf("marshal log_returns: %w", err)
		}
		zJSON, err := json.Marshal(row.ZScores)
		if err != nil {
			return fmt.Errorf("marshal z_scores: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, row.ID, row.TF, row.Timestamp, row.SeriesName,
			row.Roll, row.GapDays, retJSON, logJSON, row.D1, row.D2, zJSON, row.IsOutlier,
			row.IngestedAt); err != nil {
			return fmt.Errorf("upsert return (%s,%s,%s): %w", row.ID, row.TF, row.Timestamp, err)
		}
	}
	return tx.Commit()
}

func (r *returnsRepo) ListRange(ctx context.Context, id, tf string, series persistence.Series, tr persistence.TimeRange) ([]persistence.ReturnsRow, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `
		SELECT id, tf, ts, series, roll, gap_days, returns, log_returns, d1, d2, z_scores, is_outlier, ingested_at
		FROM cmc_returns
		WHERE id = $1 AND tf = $2 AND series = $3 AND ts >= $4 AND ts < $5
		ORDER BY ts ASC`

	rows, err := r.db.QueryxContext(ctx, query, id, tf, series, tr.From, tr.To)
	if err != nil {
		return nil, fmt.Errorf("returns list range: %w", err)
	}
	defer rows.Close()

	var out []persistence.ReturnsRow
	for rows.Next() {
		var row persistence.ReturnsRow
		var retJSON, logJSON, zJSON []byte
		if err := rows.Scan(&row.ID, &row.TF, &row.Timestamp, &row.SeriesName, &row.Roll,
			&row.GapDays, &retJSON, &logJSON, &row.D1, &row.D2, &zJSON, &row.IsOutlier,
			&row.IngestedAt); err != nil {
			return nil, fmt.Errorf("scan return row: %w", err)
		}
		if len(retJSON) > 0 {
			json.Unmarshal(retJSON, &row.Returns)
		}
		if len(logJSON) > 0 {
			json.Unmarshal(logJSON, &row.LogReturns)
		}
		if len(zJSON) > 0 {
			json.Unmarshal(zJSON, &row.ZScores)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// volRepo implements persistence.VolRepo against the volatility table.
type volRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewVolRepo(db *sqlx.DB, timeout time.Duration) persistence.VolRepo {
	return &volRepo{db: db, timeout: timeout}
}

func (r *volRepo) Upsert(ctx context.Context, rows []persistence.VolRow) error {
	if len(rows) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `
		INSERT INTO cmc_volatility (id, tf, ts, values, is_outlier, ingested_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id, tf, ts) DO UPDATE SET
			values = EXCLUDED.values, is_outlier = EXCLUDED.is_outlier`

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("vol upsert: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, row := range rows {
		valJSON, err := json.Marshal(row.Values)
		if err != nil {
			return fmt.Errorf("marshal vol values: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, row.ID, row.TF, row.Timestamp, valJSON,
			row.IsOutlier, row.IngestedAt); err != nil {
			return fmt.Errorf("upsert vol (%s,%s,%s): %w", row.ID, row.TF, row.Timestamp, err)
		}
	}
	return tx.Commit()
}

func (r *volRepo) ListRange(ctx context.Context, id, tf string, tr persistence.TimeRange) ([]persistence.VolRow, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `
		SELECT id, tf, ts, values, is_outlier, ingested_at
		FROM cmc_volatility
		WHERE id = $1 AND tf = $2 AND ts >= $3 AND ts < $4
		ORDER BY ts ASC`

	rows, err := r.db.QueryxContext(ctx, query, id, tf, tr.From, tr.To)
	if err != nil {
		return nil, fmt.Errorf("vol list range: %w", err)
	}
	defer rows.Close()

	var out []persistence.VolRow
	for rows.Next() {
		var row persistence.VolRow
		var valJSON []byte
		if err := rows.Scan(&row.ID, &row.TF, &row.Timestamp, &valJSON, &row.IsOutlier, &row.IngestedAt); err != nil {
			return nil, fmt.Errorf("scan vol row: %w", err)
		}
		if len(valJSON) > 0 {
			json.Unmarshal(valJSON, &row.Values)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// taRepo implements persistence.TARepo against the technical-indicator table.
type taRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewTARepo(db *sqlx.DB, timeout time.Duration) persistence.TARepo {
	return &taRepo{db: db, timeout: timeout}
}

func (r *taRepo) Upsert(ctx context.Context, rows []persistence.TARow) error {
	if len(rows) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `
		INSERT INTO cmc_technical (id, tf, ts, values, is_outlier, is_critical, ingested_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (id, tf, ts) DO UPDATE SET
			values = EXCLUDED.values, is_outlier = EXCLUDED.is_outlier, is_critical = EXCLUDED.is_critical`

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ta upsert: begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, row := range rows {
		valJSON, err := json.Marshal(row.Values)
		if err != nil {
			return fmt.Errorf("marshal ta values: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, row.ID, row.TF, row.Timestamp, valJSON,
			row.IsOutlier, row.IsCritical, row.IngestedAt); err != nil {
			return fmt.Errorf("upsert ta (%s,%s,%s): %w", row.ID, row.TF, row.Timestamp, err)
		}
	}
	return tx.Commit()
}

func (r *taRepo) ListRange(ctx context.Context, id, tf string, tr persistence.TimeRange) ([]persistence.TARow, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `
		SELECT id, tf, ts, values, is_outlier, is_critical, ingested_at
		FROM cmc_technical
		WHERE id = $1 AND tf = $2 AND ts >= $3 AND ts < $4
		ORDER BY ts ASC`

	rows, err := r.db.QueryxContext(ctx, query, id, tf, tr.From, tr.To)
	if err != nil {
		return nil, fmt.Errorf("ta list range: %w", err)
	}
	defer rows.Close()

	var out []persistence.TARow
	for rows.Next() {
		var row persistence.TARow
		var valJSON []byte
		if err := rows.Scan(&row.ID, &row.TF, &row.Timestamp, &valJSON, &row.IsOutlier, &row.IsCritical, &row.IngestedAt); err != nil {
			return nil, fmt.Errorf("scan ta row: %w", err)
		}
		if len(valJSON) > 0 {
			json.Unmarshal(valJSON, &row.Values)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
