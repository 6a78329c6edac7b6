package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/barpipe/internal/persistence"
)

// signalRepo implements persistence.SignalRepo. A concrete instance is
// bound to a single generator's table at construction, mirroring the
// barRepo/emaRepo one-struct-per-variant pattern.
type signalRepo struct {
	db      *sqlx.DB
	table   string
	timeout time.Duration
}

// NewSignalRepo creates a PostgreSQL-backed SignalRepo bound to table.
func NewSignalRepo(db *sqlx.DB, table string, timeout time.Duration) persistence.SignalRepo {
	return &signalRepo{db: db, table: table, timeout: timeout}
}

func (r *signalRepo) TableName() string { return r.table }

func (r *signalRepo) Insert(ctx context.Context, rows []persistence.SignalRecord) error {
	if len(rows) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s
		(id, ts, generator, tf, side, entry_price, regime_enabled, regime_key, feature_snapshot, ingested_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`, r.table)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s insert: begin tx: %w", r.table, err)
	}
	defer tx.Rollback()

	for _, row := range rows {
		snapJSON, err := json.Marshal(row.FeatureSnapshot)
		if err != nil {
			return fmt.Errorf("marshal feature snapshot: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, row.ID, row.Timestamp, row.Generator, row.TF,
			row.Side, row.EntryPrice, row.RegimeEnabled, row.RegimeKey, snapJSON,
			row.IngestedAt); err != nil {
			return fmt.Errorf("%s insert (%s,%s): %w", r.table, row.ID, row.Timestamp, err)
		}
	}
	return tx.Commit()
}

func (r *signalRepo) ListRange(ctx context.Context, tr persistence.TimeRange) ([]persistence.SignalRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, ts, generator, tf, side, entry_price, regime_enabled, regime_key, feature_snapshot, ingested_at
		FROM %s
		WHERE ts >= $1 AND ts < $2
		ORDER BY ts ASC`, r.table)

	rows, err := r.db.QueryxContext(ctx, query, tr.From, tr.To)
	if err != nil {
		return nil, fmt.Errorf("%s list range: %w", r.table, err)
	}
	defer rows.Close()

	var out []persistence.SignalRecord
	for rows.Next() {
		var row persistence.SignalRecord
		var snapJSON []byte
		if err := rows.Scan(&row.ID, &row.Timestamp, &row.Generator, &row.TF, &row.Side,
			&row.EntryPrice, &row.RegimeEnabled, &row.RegimeKey, &snapJSON,
			&row.IngestedAt); err != nil {
			return nil, fmt.Errorf("%s scan row: %w", r.table, err)
		}
		if len(snapJSON) > 0 {
			json.Unmarshal(snapJSON, &row.FeatureSnapshot)
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
