// Per-component circuit breaking wraps sony/gobreaker around the id-keyed
// task functions Pipeline.dispatch runs (the bar, unified, regime and
// signal stages), so a failing database trips the breaker for that
// component instead of piling retries onto a downed connection pool.
// The EMA and feature stages run their own worker pools and do not pass
// through a breaker.
package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// TaskBreaker guards one component's per-id task execution against a
// failing database: once ConsecutiveFailures trips the breaker, further
// calls fail fast instead of piling up on a downed connection pool.
type TaskBreaker struct {
	cb *gobreaker.CircuitBreaker
}

// NewTaskBreaker builds a breaker named for the component it guards
// (e.g. "bars:1D", "unified", "regime"). It trips after 3 consecutive
// failures, or a >5% failure rate once at least 20 requests have been
// seen in the rolling window.
func NewTaskBreaker(component string) *TaskBreaker {
	st := gobreaker.Settings{
		Name:     component,
		Interval: 60 * time.Second,
		Timeout:  60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.ConsecutiveFailures >= 3 {
				return true
			}
			if counts.Requests < 20 {
				return false
			}
			return float64(counts.TotalFailures)/float64(counts.Requests) > 0.05
		},
	}
	return &TaskBreaker{cb: gobreaker.NewCircuitBreaker(st)}
}

// Run executes fn through the breaker. A tripped breaker returns
// gobreaker.ErrOpenState without calling fn, which the caller should
// treat the same as any other per-id failure (fail-open to siblings).
func (b *TaskBreaker) Run(ctx context.Context, fn func(ctx context.Context) error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, fn(ctx)
	})
	if err != nil {
		return fmt.Errorf("%s: %w", b.cb.Name(), err)
	}
	return nil
}

// State reports the breaker's current state for logging/metrics.
func (b *TaskBreaker) State() gobreaker.State {
	return b.cb.State()
}
