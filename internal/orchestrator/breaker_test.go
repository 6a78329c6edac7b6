package orchestrator

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskBreaker_Run_PassesThroughSuccess(t *testing.T) {
	b := NewTaskBreaker("bars")
	err := b.Run(context.Background(), func(ctx context.Context) error { return nil })
	require.NoError(t, err)
}

func TestTaskBreaker_Run_WrapsUnderlyingError(t *testing.T) {
	b := NewTaskBreaker("bars")
	boom := errors.New("boom")
	err := b.Run(context.Background(), func(ctx context.Context) error { return boom })
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestTaskBreaker_Run_TripsAfterConsecutiveFailures(t *testing.T) {
	b := NewTaskBreaker("ema")
	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		_ = b.Run(context.Background(), func(ctx context.Context) error { return boom })
	}
	err := b.Run(context.Background(), func(ctx context.Context) error { return nil })
	require.Error(t, err)
}
