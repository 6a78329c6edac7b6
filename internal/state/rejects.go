package state

import (
	"context"
	"fmt"
	"time"

	"github.com/sawpanic/barpipe/internal/persistence"
)

// RejectLog accumulates invariant violations during a refresh pass and
// flushes them to the append-only rejects table in one batch, keeping the
// hot repair loop free of per-row DB round-trips.
type RejectLog struct {
	repo  persistence.RejectsRepo
	table string
	rows  []persistence.RejectRow
}

// NewRejectLog returns a RejectLog writing to the rejects table for one
// bar variant.
func NewRejectLog(repo persistence.RejectsRepo, table string) *RejectLog {
	return &RejectLog{repo: repo, table: table}
}

// Add records one violation. Call this from the contract's detection
// step; Flush writes everything accumulated so far.
func (l *RejectLog) Add(id, tf string, ts time.Time, o, h, lo, c, v float64, reason persistence.RejectReason, repair persistence.RepairAction) {
	l.rows = append(l.rows, persistence.RejectRow{
		ID:            id,
		TF:            tf,
		Timestamp:     ts,
		Open:          o,
		High:          h,
		Low:           lo,
		Close:         c,
		Volume:        v,
		ViolationType: reason,
		RepairAction:  repair,
		RejectedAt:    time.Now(),
	})
}

// Len reports how many violations are pending flush.
func (l *RejectLog) Len() int { return len(l.rows) }

// Flush writes all accumulated rows and clears the buffer.
func (l *RejectLog) Flush(ctx context.Context) error {
	if len(l.rows) == 0 {
		return nil
	}
	if err := l.repo.Insert(ctx, l.table, l.rows); err != nil {
		return fmt.Errorf("flush rejects %s: %w", l.table, err)
	}
	l.rows = l.rows[:0]
	return nil
}
