package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/barpipe/internal/persistence"
)

// watermarkRepo implements persistence.WatermarkRepo. A single instance
// serves every refresher's state table; the table name is supplied per
// call so one repo can back all state tables in the schema.
type watermarkRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewWatermarkRepo creates a PostgreSQL-backed WatermarkRepo.
func NewWatermarkRepo(db *sqlx.DB, timeout time.Duration) persistence.WatermarkRepo {
	return &watermarkRepo{db: db, timeout: timeout}
}

func (r *watermarkRepo) Get(ctx context.Context, table, id, tf string, period *int) (*persistence.Watermark, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var query string
	var args []interface{}
	if period != nil {
		query = fmt.Sprintf(`
			SELECT id, tf, period, daily_min_seen, daily_max_seen, last_time_close,
			       last_canonical_ts, last_bar_seq, updated_at
			FROM %s WHERE id = $1 AND tf = $2 AND period = $3`, table)
		args = []interface{}{id, tf, *period}
	} else {
		query = fmt.Sprintf(`
			SELECT id, tf, NULL as period, daily_min_seen, daily_max_seen, last_time_close,
			       last_canonical_ts, last_bar_seq, updated_at
			FROM %s WHERE id = $1 AND tf = $2`, table)
		args = []interface{}{id, tf}
	}

	var wm persistence.Watermark
	if err := r.db.GetContext(ctx, &wm, query, args...); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("%s watermark get: %w", table, err)
	}
	return &wm, nil
}

func (r *watermarkRepo) Upsert(ctx context.Context, table string, wm persistence.Watermark) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var query string
	var args []interface{}
	if wm.Period != nil {
		query = fmt.Sprintf(`
			INSERT INTO %s (id, tf, period, daily_min_seen, daily_max_seen, last_time_close,
			                 last_canonical_ts, last_bar_seq, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
			ON CONFLICT (id, tf, period) DO UPDATE SET
				daily_min_seen = EXCLUDED.daily_min_seen,
				daily_max_seen = EXCLUDED.daily_max_seen,
				last_time_close = EXCLUDED.last_time_close,
				last_canonical_ts = EXCLUDED.last_canonical_ts,
				last_bar_seq = EXCLUDED.last_bar_seq,
				updated_at = EXCLUDED.updated_at`, table)
		args = []interface{}{wm.ID, wm.TF, *wm.Period, wm.DailyMinSeen, wm.DailyMaxSeen,
			wm.LastTimeClose, wm.LastCanonicalTS, wm.LastBarSeq, wm.UpdatedAt}
	} else {
		query = fmt.Sprintf(`
			INSERT INTO %s (id, tf, daily_min_seen, daily_max_seen, last_time_close,
			                 last_canonical_ts, last_bar_seq, updated_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
			ON CONFLICT (id, tf) DO UPDATE SET
				daily_min_seen = EXCLUDED.daily_min_seen,
				daily_max_seen = EXCLUDED.daily_max_seen,
				last_time_close = EXCLUDED.last_time_close,
				last_canonical_ts = EXCLUDED.last_canonical_ts,
				last_bar_seq = EXCLUDED.last_bar_seq,
				updated_at = EXCLUDED.updated_at`, table)
		args = []interface{}{wm.ID, wm.TF, wm.DailyMinSeen, wm.DailyMaxSeen,
			wm.LastTimeClose, wm.LastCanonicalTS, wm.LastBarSeq, wm.UpdatedAt}
	}

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s watermark upsert: %w", table, err)
	}
	return nil
}

// Reset clears the watermark row for (id, tf), used by --full-refresh so
// the next incremental pass treats the id as cold.
func (r *watermarkRepo) Reset(ctx context.Context, table, id, tf string, period *int) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var query string
	var args []interface{}
	if period != nil {
		query = fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND tf = $2 AND period = $3`, table)
		args = []interface{}{id, tf, *period}
	} else {
		query = fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND tf = $2`, table)
		args = []interface{}{id, tf}
	}
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("%s watermark reset: %w", table, err)
	}
	return nil
}

func (r *watermarkRepo) ListIDs(ctx context.Context, table, tf string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := fmt.Sprintf(`SELECT DISTINCT id FROM %s WHERE tf = $1 ORDER BY id`, table)
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, tf); err != nil {
		return nil, fmt.Errorf("%s watermark list ids: %w", table, err)
	}
	return ids, nil
}
