package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/barpipe/internal/persistence"
)

// emaRepo implements persistence.EMARepo against one of the six EMA
// tables (all same shape).
type emaRepo struct {
	db      *sqlx.DB
	table   string
	timeout time.Duration
}

// NewEMARepo creates a PostgreSQL-backed EMARepo bound to table.
func NewEMARepo(db *sqlx.DB, table string, timeout time.Duration) persistence.EMARepo {
	return &emaRepo{db: db, table: table, timeout: timeout}
}

func (r *emaRepo) TableName() string { return r.table }

func (r *emaRepo) Upsert(ctx context.Context, rows []persistence.EMARow) error {
	if len(rows) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s
		(id, tf, ts, period, ema, ema_bar, roll, roll_bar, tf_days,
		 d1, d2, d1_roll, d2_roll, d1_bar, d2_bar, d1_roll_bar, d2_roll_bar,
		 alignment_source, ingested_at)
		VALUES (:id,:tf,:ts,:period,:ema,:ema_bar,:roll,:roll_bar,:tf_days,
		        :d1,:d2,:d1_roll,:d2_roll,:d1_bar,:d2_bar,:d1_roll_bar,:d2_roll_bar,
		        :alignment_source,:ingested_at)
		ON CONFLICT (id, tf, ts, period) DO UPDATE SET
			ema = EXCLUDED.ema, ema_bar = EXCLUDED.ema_bar,
			roll = EXCLUDED.roll, roll_bar = EXCLUDED.roll_bar,
			d1 = EXCLUDED.d1, d2 = EXCLUDED.d2,
			d1_roll = EXCLUDED.d1_roll, d2_roll = EXCLUDED.d2_roll,
			d1_bar = EXCLUDED.d1_bar, d2_bar = EXCLUDED.d2_bar,
			d1_roll_bar = EXCLUDED.d1_roll_bar, d2_roll_bar = EXCLUDED.d2_roll_bar`,
		r.table)

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s upsert: begin tx: %w", r.table, err)
	}
	defer tx.Rollback()

	if _, err := tx.NamedExecContext(ctx, query, rows); err != nil {
		return fmt.Errorf("%s upsert: %w", r.table, err)
	}
	return tx.Commit()
}

func (r *emaRepo) ListRange(ctx context.Context, id, tf string, period int, tr persistence.TimeRange) ([]persistence.EMARow, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, tf, ts, period, ema, ema_bar, roll, roll_bar, tf_days,
		       d1, d2, d1_roll, d2_roll, d1_bar, d2_bar, d1_roll_bar, d2_roll_bar,
		       alignment_source, ingested_at
		FROM %s
		WHERE id = $1 AND tf = $2 AND period = $3 AND ts >= $4 AND ts < $5
		ORDER BY ts ASC`, r.table)

	var out []persistence.EMARow
	if err := r.db.SelectContext(ctx, &out, query, id, tf, period, tr.From, tr.To); err != nil {
		return nil, fmt.Errorf("%s list range: %w", r.table, err)
	}
	return out, nil
}

func (r *emaRepo) Latest(ctx context.Context, id, tf string, period int) (*persistence.EMARow, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT id, tf, ts, period, ema, ema_bar, roll, roll_bar, tf_days,
		       d1, d2, d1_roll, d2_roll, d1_bar, d2_bar, d1_roll_bar, d2_roll_bar,
		       alignment_source, ingested_at
		FROM %s
		WHERE id = $1 AND tf = $2 AND period = $3
		ORDER BY ts DESC
		LIMIT 1`, r.table)

	var row persistence.EMARow
	if err := r.db.GetContext(ctx, &row, query, id, tf, period); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("%s latest: %w", r.table, err)
	}
	return &row, nil
}
