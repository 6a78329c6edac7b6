package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/barpipe/internal/bars"
)

// priceHistorySource implements bars.Source against the upstream
// price_histories table, treated as an external collaborator: this
// module only reads it, never writes it (ingestion is out of scope).
type priceHistorySource struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPriceHistorySource creates a PostgreSQL-backed bars.Source.
func NewPriceHistorySource(db *sqlx.DB, timeout time.Duration) bars.Source {
	return &priceHistorySource{db: db, timeout: timeout}
}

func (s *priceHistorySource) ReadRange(ctx context.Context, id string, from, to time.Time) ([]bars.Tick, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	const query = `
		SELECT id, ts AS timestamp, open, high, low, close, volume
		FROM price_histories
		WHERE id = $1 AND ts >= $2 AND ts < $3
		ORDER BY ts ASC`

	var out []bars.Tick
	if err := s.db.SelectContext(ctx, &out, query, id, from, to); err != nil {
		return nil, fmt.Errorf("price_histories read range: %w", err)
	}
	return out, nil
}

func (s *priceHistorySource) MinTimestamp(ctx context.Context, id string) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	const query = `SELECT MIN(ts) FROM price_histories WHERE id = $1`
	var min sql.NullTime
	if err := s.db.GetContext(ctx, &min, query, id); err != nil {
		return time.Time{}, fmt.Errorf("price_histories min timestamp: %w", err)
	}
	if !min.Valid {
		return time.Time{}, nil
	}
	return min.Time, nil
}

// ListKnownIDs returns every distinct asset id price_histories has ever
// seen, backing the refresher CLI's --all flag.
func ListKnownIDs(ctx context.Context, db *sqlx.DB, timeout time.Duration) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var ids []string
	if err := db.SelectContext(ctx, &ids, `SELECT DISTINCT id FROM price_histories ORDER BY id`); err != nil {
		return nil, fmt.Errorf("list known ids: %w", err)
	}
	return ids, nil
}
