// Package sqlite backs the validator's local scratch store: a
// disposable, file- or memory-backed database that mirrors a sampled
// window of Postgres rows so cross-table consistency and gap checks can
// run as plain SQL joins without holding a long-lived Postgres
// transaction open.
package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/sawpanic/barpipe/internal/persistence"
)

// Store is a scratch SQLite database loaded with a sampled window of
// bars/returns/vol/TA rows for one validation pass.
type Store struct {
	db      *sqlx.DB
	timeout time.Duration
}

// Open creates an in-memory scratch store. dsn may instead point at a
// file path for debugging a failed validation run after the fact.
func Open(dsn string, timeout time.Duration) (*Store, error) {
	if dsn == "" {
		dsn = ":memory:"
	}
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open scratch store: %w", err)
	}
	// modernc.org/sqlite does not support concurrent writers on one handle.
	db.SetMaxOpenConns(1)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate scratch store: %w", err)
	}
	return &Store{db: db, timeout: timeout}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func migrate(db *sqlx.DB) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS scratch_bars (
		id TEXT NOT NULL, tf TEXT NOT NULL, ts DATETIME NOT NULL,
		open REAL, high REAL, low REAL, close REAL, volume REAL,
		PRIMARY KEY (id, tf, ts)
	);
	CREATE TABLE IF NOT EXISTS scratch_returns (
		id TEXT NOT NULL, tf TEXT NOT NULL, ts DATETIME NOT NULL, ret_1d REAL,
		PRIMARY KEY (id, tf, ts)
	);
	CREATE TABLE IF NOT EXISTS scratch_close_refs (
		id TEXT NOT NULL, tf TEXT NOT NULL, ts DATETIME NOT NULL, source TEXT NOT NULL, close REAL,
		PRIMARY KEY (id, tf, ts, source)
	);`
	_, err := db.Exec(schema)
	return err
}

// LoadBars populates scratch_bars for one validation sample window.
func (s *Store) LoadBars(ctx context.Context, rows []persistence.Bar) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	const query = `
		INSERT INTO scratch_bars (id, tf, ts, open, high, low, close, volume)
		VALUES (:id, :tf, :timestamp, :open, :high, :low, :close, :volume)
		ON CONFLICT (id, tf, ts) DO UPDATE SET
			open = excluded.open, high = excluded.high, low = excluded.low,
			close = excluded.close, volume = excluded.volume`

	if len(rows) == 0 {
		return nil
	}
	if _, err := s.db.NamedExecContext(ctx, query, rows); err != nil {
		return fmt.Errorf("load scratch bars: %w", err)
	}
	return nil
}

// LoadReturns populates scratch_returns with the ret_1d column used for
// the close-vs-return cross-table consistency check.
func (s *Store) LoadReturns(ctx context.Context, id, tf string, ts time.Time, ret1d *float64) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	const query = `
		INSERT INTO scratch_returns (id, tf, ts, ret_1d) VALUES (?, ?, ?, ?)
		ON CONFLICT (id, tf, ts) DO UPDATE SET ret_1d = excluded.ret_1d`
	if _, err := s.db.ExecContext(ctx, query, id, tf, ts, ret1d); err != nil {
		return fmt.Errorf("load scratch return: %w", err)
	}
	return nil
}

// LoadCloseRef records one table family's close price for a given
// (id, tf, ts) so CrossTableCloseMismatches can diff them.
func (s *Store) LoadCloseRef(ctx context.Context, id, tf, source string, ts time.Time, close float64) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	const query = `
		INSERT INTO scratch_close_refs (id, tf, ts, source, close) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id, tf, ts, source) DO UPDATE SET close = excluded.close`
	if _, err := s.db.ExecContext(ctx, query, id, tf, ts, source, close); err != nil {
		return fmt.Errorf("load scratch close ref: %w", err)
	}
	return nil
}

// CloseMismatch is one pair of table families whose recorded close price
// disagrees beyond tolerance for the same (id, tf, ts).
type CloseMismatch struct {
	ID       string    `db:"id"`
	TF       string    `db:"tf"`
	Ts       time.Time `db:"ts"`
	SourceA  string    `db:"source_a"`
	CloseA   float64   `db:"close_a"`
	SourceB  string    `db:"source_b"`
	CloseB   float64   `db:"close_b"`
}

// CrossTableCloseMismatches finds close-price disagreements greater than
// tolerance between any two loaded source tables at the same timestamp.
func (s *Store) CrossTableCloseMismatches(ctx context.Context, tolerance float64) ([]CloseMismatch, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	const query = `
		SELECT a.id, a.tf, a.ts, a.source AS source_a, a.close AS close_a,
		       b.source AS source_b, b.close AS close_b
		FROM scratch_close_refs a
		JOIN scratch_close_refs b
		  ON a.id = b.id AND a.tf = b.tf AND a.ts = b.ts AND a.source < b.source
		WHERE ABS(a.close - b.close) > ?`

	var out []CloseMismatch
	if err := s.db.SelectContext(ctx, &out, query, tolerance); err != nil {
		return nil, fmt.Errorf("cross-table close mismatch query: %w", err)
	}
	return out, nil
}

// ReturnCloseMismatch is one ret_1d value that disagrees with the
// close-derived return beyond tolerance.
type ReturnCloseMismatch struct {
	ID           string    `db:"id"`
	TF           string    `db:"tf"`
	Ts           time.Time `db:"ts"`
	Ret1D        float64   `db:"ret_1d"`
	DerivedRet1D float64   `db:"derived_ret_1d"`
}

// ReturnCloseMismatches checks ret_1d ≈ (close − prev_close) / prev_close
// within tolerance.
func (s *Store) ReturnCloseMismatches(ctx context.Context, tolerance float64) ([]ReturnCloseMismatch, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	const query = `
		SELECT r.id, r.tf, r.ts, r.ret_1d,
		       (b.close - prev.close) / prev.close AS derived_ret_1d
		FROM scratch_returns r
		JOIN scratch_bars b ON b.id = r.id AND b.tf = r.tf AND b.ts = r.ts
		JOIN scratch_bars prev ON prev.id = r.id AND prev.tf = r.tf
		     AND prev.ts = (SELECT MAX(ts) FROM scratch_bars WHERE id = r.id AND tf = r.tf AND ts < r.ts)
		WHERE r.ret_1d IS NOT NULL
		  AND ABS(r.ret_1d - (b.close - prev.close) / prev.close) > ?`

	var out []ReturnCloseMismatch
	if err := s.db.SelectContext(ctx, &out, query, tolerance); err != nil {
		return nil, fmt.Errorf("return-close mismatch query: %w", err)
	}
	return out, nil
}
