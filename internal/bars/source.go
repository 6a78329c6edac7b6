package bars

import (
	"context"
	"time"
)

// Tick is one raw daily price_histories row, the upstream collaborator
// treated as external input. All six builders aggregate from this single
// finest-granularity shape; v1 has no tick- or sub-bar-level processing.
type Tick struct {
	ID        string
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Source reads raw price history, the one external dependency every
// builder variant shares.
type Source interface {
	ReadRange(ctx context.Context, id string, from, to time.Time) ([]Tick, error)
	MinTimestamp(ctx context.Context, id string) (time.Time, error)
}
