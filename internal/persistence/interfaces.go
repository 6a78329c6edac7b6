package persistence

import (
	"context"
	"time"
)

// TimeframeRepo loads the dim_timeframe and dim_sessions seed tables.
type TimeframeRepo interface {
	ListTimeframes(ctx context.Context) ([]TimeframeRow, error)
	ListSessions(ctx context.Context) ([]SessionRow, error)
}

// TimeframeRow mirrors timeframe.Timeframe at the persistence boundary so
// this package does not import internal/timeframe (kept dependency-free
// for the postgres/sqlite subpackages).
type TimeframeRow struct {
	TF            string `db:"tf"`
	TFDays        *int   `db:"tf_days"`
	AlignmentType string `db:"alignment_type"`
	RollPolicy    string `db:"roll_policy"`
	BaseUnit      string `db:"base_unit"`
	Scheme        string `db:"scheme"`
	Canonical     bool   `db:"canonical"`
}

// SessionRow mirrors timeframe.Session.
type SessionRow struct {
	AssetClass string `db:"asset_class"`
	Continuous bool   `db:"continuous"`
}

// WatermarkRepo persists per-(id, tf[, period]) refresh state.
type WatermarkRepo interface {
	Get(ctx context.Context, table, id, tf string, period *int) (*Watermark, error)
	Upsert(ctx context.Context, table string, wm Watermark) error
	// Reset clears the watermark for (id, tf), used by --full-refresh.
	Reset(ctx context.Context, table, id, tf string, period *int) error
	ListIDs(ctx context.Context, table, tf string) ([]string, error)
}

// RejectsRepo is the append-only audit log.
type RejectsRepo interface {
	Insert(ctx context.Context, table string, rows []RejectRow) error
}

// BarRepo persists one of the six bar tables. A concrete instance is
// bound to a single table name at construction time.
type BarRepo interface {
	TableName() string
	Upsert(ctx context.Context, rows []Bar) error
	// DeleteRange removes all bars for (id, tf) with timestamp >= from,
	// used for the atomic backfill rebuild (transactional delete+insert).
	DeleteRange(ctx context.Context, id, tf string, from time.Time) error
	ListRange(ctx context.Context, id, tf string, tr TimeRange) ([]Bar, error)
	MaxBarSeq(ctx context.Context, id, tf string) (int64, error)
	Latest(ctx context.Context, id, tf string) (*Bar, error)
}

// EMARepo persists one of the six EMA tables.
type EMARepo interface {
	TableName() string
	Upsert(ctx context.Context, rows []EMARow) error
	ListRange(ctx context.Context, id, tf string, period int, tr TimeRange) ([]EMARow, error)
	Latest(ctx context.Context, id, tf string, period int) (*EMARow, error)
}

// ReturnsRepo persists the returns feature table.
type ReturnsRepo interface {
	Upsert(ctx context.Context, rows []ReturnsRow) error
	ListRange(ctx context.Context, id, tf string, series Series, tr TimeRange) ([]ReturnsRow, error)
}

// VolRepo persists the volatility feature table.
type VolRepo interface {
	Upsert(ctx context.Context, rows []VolRow) error
	ListRange(ctx context.Context, id, tf string, tr TimeRange) ([]VolRow, error)
}

// TARepo persists the technical-indicator feature table.
type TARepo interface {
	Upsert(ctx context.Context, rows []TARow) error
	ListRange(ctx context.Context, id, tf string, tr TimeRange) ([]TARow, error)
}

// UnifiedRepo persists the materialised daily feature store.
type UnifiedRepo interface {
	Refresh(ctx context.Context, ids []string, tr TimeRange) (int, error)
	ListRange(ctx context.Context, id string, tr TimeRange) ([]UnifiedRow, error)
}

// RegimeRepo persists regime labels, flips, stats and comovement.
type RegimeRepo interface {
	UpsertLabels(ctx context.Context, rows []RegimeLabelRow) error
	LatestLabel(ctx context.Context, id, tf string) (*RegimeLabelRow, error)
	ListLabels(ctx context.Context, id, tf string, tr TimeRange) ([]RegimeLabelRow, error)
	InsertFlips(ctx context.Context, rows []RegimeFlip) error
	ListFlips(ctx context.Context, id, tf string, tr TimeRange) ([]RegimeFlip, error)
	UpsertStats(ctx context.Context, rows []RegimeStat) error
	// ReplaceComovement performs a scoped delete+insert for one (id, tf) snapshot.
	ReplaceComovement(ctx context.Context, id, tf string, rows []RegimeComovement) error
}

// SignalRepo persists a generator's signal table. A concrete
// instance is bound to a single generator's table name at construction.
type SignalRepo interface {
	TableName() string
	Insert(ctx context.Context, rows []SignalRecord) error
	ListRange(ctx context.Context, tr TimeRange) ([]SignalRecord, error)
}
