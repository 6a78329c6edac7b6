package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sawpanic/barpipe/internal/persistence"
)

// unifiedRepo implements persistence.UnifiedRepo, the materialised daily
// feature store: rows are seeded from the 1D bar table and the
// returns/vol/TA/regime columns are attached by UPDATE ... FROM joins, so
// a day missing from a feature table is left NULL rather than failing
// the refresh. The EMA table is not joined.
type unifiedRepo struct {
	db       *sqlx.DB
	barTable string
	emaTable string
	timeout  time.Duration
}

// NewUnifiedRepo creates a PostgreSQL-backed UnifiedRepo over the
// canonical daily bar table and the shared returns/vol/TA feature
// tables. emaTable is stored but no query reads it.
func NewUnifiedRepo(db *sqlx.DB, barTable, emaTable string, timeout time.Duration) persistence.UnifiedRepo {
	return &unifiedRepo{db: db, barTable: barTable, emaTable: emaTable, timeout: timeout}
}

// Refresh materialises cmc_unified_daily for the given ids over tr via a
// scoped delete+insert, returning the number of rows written. No EMA
// columns are written.
func (r *unifiedRepo) Refresh(ctx context.Context, ids []string, tr persistence.TimeRange) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("unified refresh: begin tx: %w", err)
	}
	defer tx.Rollback()

	deleteQuery := `DELETE FROM cmc_unified_daily WHERE id = ANY($1) AND ts >= $2 AND ts < $3`
	if _, err := tx.ExecContext(ctx, deleteQuery, pq.Array(ids), tr.From, tr.To); err != nil {
		return 0, fmt.Errorf("unified refresh: delete scope: %w", err)
	}

	insertQuery := fmt.Sprintf(`
		INSERT INTO cmc_unified_daily (id, ts, ingested_at)
		SELECT b.id, b.timestamp, now()
		FROM %s b
		WHERE b.id = ANY($1) AND b.timestamp >= $2 AND b.timestamp < $3
		ON CONFLICT (id, ts) DO NOTHING`, r.barTable)

	res, err := tx.ExecContext(ctx, insertQuery, pq.Array(ids), tr.From, tr.To)
	if err != nil {
		return 0, fmt.Errorf("unified refresh: insert from %s: %w", r.barTable, err)
	}
	n, _ := res.RowsAffected()

	if err := r.attachFeatures(ctx, tx, ids, tr); err != nil {
		return 0, err
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("unified refresh: commit: %w", err)
	}
	return int(n), nil
}

// attachFeatures performs the LEFT JOIN-equivalent updates pulling
// returns/vol/TA/regime columns onto rows already seeded from the bar
// table, tolerating tables that are empty or not yet populated.
func (r *unifiedRepo) attachFeatures(ctx context.Context, tx *sqlx.Tx, ids []string, tr persistence.TimeRange) error {
	updates := []struct {
		name  string
		query string
	}{
		{"returns", `
			UPDATE cmc_unified_daily u SET returns_snapshot = ret.snapshot
			FROM (SELECT id, ts, jsonb_build_object('d1', d1, 'returns', returns) AS snapshot
			      FROM cmc_returns WHERE id = ANY($1) AND ts >= $2 AND ts < $3 AND series = 'ema' AND roll = false) ret
			WHERE u.id = ret.id AND u.ts = ret.ts`},
		{"volatility", `
			UPDATE cmc_unified_daily u SET vol_snapshot = v.values
			FROM cmc_volatility v
			WHERE u.id = v.id AND u.ts = v.ts AND v.id = ANY($1) AND v.ts >= $2 AND v.ts < $3`},
		{"technical", `
			UPDATE cmc_unified_daily u SET ta_snapshot = t.values
			FROM cmc_technical t
			WHERE u.id = t.id AND u.ts = t.ts AND t.id = ANY($1) AND t.ts >= $2 AND t.ts < $3`},
		{"regime", `
			UPDATE cmc_unified_daily u SET regime_key = r.regime_key
			FROM cmc_regimes r
			WHERE u.id = r.id AND u.ts = r.ts AND r.tf = '1D' AND r.id = ANY($1) AND r.ts >= $2 AND r.ts < $3`},
	}

	for _, up := range updates {
		if _, err := tx.ExecContext(ctx, up.query, pq.Array(ids), tr.From, tr.To); err != nil {
			return fmt.Errorf("unified refresh: attach %s: %w", up.name, err)
		}
	}
	return nil
}

func (r *unifiedRepo) ListRange(ctx context.Context, id string, tr persistence.TimeRange) ([]persistence.UnifiedRow, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		SELECT u.id, u.ts, u.ingested_at,
		       b.id AS "bar.id", b.tf AS "bar.tf", b.bar_seq AS "bar.bar_seq",
		       b.timestamp AS "bar.timestamp", b.open AS "bar.open", b.high AS "bar.high",
		       b.low AS "bar.low", b.close AS "bar.close", b.volume AS "bar.volume"
		FROM cmc_unified_daily u
		LEFT JOIN %s b ON b.id = u.id AND b.timestamp = u.ts
		WHERE u.id = $1 AND u.ts >= $2 AND u.ts < $3
		ORDER BY u.ts ASC`, r.barTable)

	rows, err := r.db.QueryxContext(ctx, query, id, tr.From, tr.To)
	if err != nil {
		return nil, fmt.Errorf("unified list range: %w", err)
	}
	defer rows.Close()

	var out []persistence.UnifiedRow
	for rows.Next() {
		m, err := rows.SliceScan()
		if err != nil {
			return nil, fmt.Errorf("scan unified row: %w", err)
		}
		row := persistence.UnifiedRow{
			ID:        fmt.Sprint(m[0]),
			Timestamp: m[1].(time.Time),
		}
		if ingested, ok := m[2].(time.Time); ok {
			row.IngestedAt = ingested
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

