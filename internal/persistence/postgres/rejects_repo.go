package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sawpanic/barpipe/internal/persistence"
)

// rejectsRepo implements persistence.RejectsRepo, an append-only audit
// log. One instance serves every bar family's rejects table.
type rejectsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewRejectsRepo creates a PostgreSQL-backed RejectsRepo.
func NewRejectsRepo(db *sqlx.DB, timeout time.Duration) persistence.RejectsRepo {
	return &rejectsRepo{db: db, timeout: timeout}
}

func (r *rejectsRepo) Insert(ctx context.Context, table string, rows []persistence.RejectRow) error {
	if len(rows) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s
		(id, tf, timestamp, open, high, low, close, volume, violation_type, repair_action, rejected_at)
		VALUES (:id,:tf,:timestamp,:open,:high,:low,:close,:volume,:violation_type,:repair_action,:rejected_at)`,
		table)

	if _, err := r.db.NamedExecContext(ctx, query, rows); err != nil {
		return fmt.Errorf("%s rejects insert: %w", table, err)
	}
	return nil
}
