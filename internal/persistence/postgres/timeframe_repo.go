package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/barpipe/internal/persistence"
)

// timeframeRepo implements persistence.TimeframeRepo, loading the seed
// tables the timeframe.Registry and timeframe.SessionRegistry are built
// from at startup.
type timeframeRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewTimeframeRepo creates a PostgreSQL-backed TimeframeRepo.
func NewTimeframeRepo(db *sqlx.DB, timeout time.Duration) persistence.TimeframeRepo {
	return &timeframeRepo{db: db, timeout: timeout}
}

func (r *timeframeRepo) ListTimeframes(ctx context.Context) ([]persistence.TimeframeRow, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `
		SELECT tf, tf_days, alignment_type, roll_policy, base_unit, scheme, canonical
		FROM dim_timeframe
		ORDER BY tf`

	var out []persistence.TimeframeRow
	if err := r.db.SelectContext(ctx, &out, query); err != nil {
		return nil, fmt.Errorf("list timeframes: %w", err)
	}
	return out, nil
}

func (r *timeframeRepo) ListSessions(ctx context.Context) ([]persistence.SessionRow, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	const query = `SELECT asset_class, continuous FROM dim_sessions ORDER BY asset_class`

	var out []persistence.SessionRow
	if err := r.db.SelectContext(ctx, &out, query); err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return out, nil
}
