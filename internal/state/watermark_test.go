package state

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/barpipe/internal/persistence"
)

type fakeWatermarkRepo struct {
	rows map[string]persistence.Watermark
}

func newFakeWatermarkRepo() *fakeWatermarkRepo {
	return &fakeWatermarkRepo{rows: make(map[string]persistence.Watermark)}
}

func fakeKey(table, id, tf string) string { return table + "|" + id + "|" + tf }

func (f *fakeWatermarkRepo) Get(ctx context.Context, table, id, tf string, period *int) (*persistence.Watermark, error) {
	wm, ok := f.rows[fakeKey(table, id, tf)]
	if !ok {
		return nil, nil
	}
	return &wm, nil
}

func (f *fakeWatermarkRepo) Upsert(ctx context.Context, table string, wm persistence.Watermark) error {
	f.rows[fakeKey(table, wm.ID, wm.TF)] = wm
	return nil
}

func (f *fakeWatermarkRepo) Reset(ctx context.Context, table, id, tf string, period *int) error {
	delete(f.rows, fakeKey(table, id, tf))
	return nil
}

func (f *fakeWatermarkRepo) ListIDs(ctx context.Context, table, tf string) ([]string, error) {
	var ids []string
	for k := range f.rows {
		ids = append(ids, k)
	}
	return ids, nil
}

func TestTracker_Load_ColdWhenNoRow(t *testing.T) {
	tracker := NewTracker(newFakeWatermarkRepo(), "cmc_price_bars_1d")
	wm, phase, err := tracker.Load(context.Background(), "BTC", "1D", nil)
	require.NoError(t, err)
	assert.Nil(t, wm)
	assert.Equal(t, PhaseCold, phase)
}

func TestTracker_CommitThenLoad_Warm(t *testing.T) {
	repo := newFakeWatermarkRepo()
	tracker := NewTracker(repo, "cmc_price_bars_1d")
	ctx := context.Background()

	now := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	err := tracker.Commit(ctx, persistence.Watermark{ID: "BTC", TF: "1D", DailyMaxSeen: now}, false)
	require.NoError(t, err)

	wm, phase, err := tracker.Load(ctx, "BTC", "1D", nil)
	require.NoError(t, err)
	require.NotNil(t, wm)
	assert.Equal(t, PhaseWarm, phase)
	assert.Equal(t, now, wm.DailyMaxSeen)
}

func TestTracker_Commit_RejectsRegressionUnlessFull(t *testing.T) {
	repo := newFakeWatermarkRepo()
	tracker := NewTracker(repo, "cmc_price_bars_1d")
	ctx := context.Background()

	late := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	early := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, tracker.Commit(ctx, persistence.Watermark{ID: "BTC", TF: "1D", DailyMaxSeen: late}, false))

	err := tracker.Commit(ctx, persistence.Watermark{ID: "BTC", TF: "1D", DailyMaxSeen: early}, false)
	assert.Error(t, err)

	// full=true allows moving backward (backfill rebuild)
	err = tracker.Commit(ctx, persistence.Watermark{ID: "BTC", TF: "1D", DailyMaxSeen: early}, true)
	assert.NoError(t, err)
}

func TestTracker_Reset_ClearsWatermark(t *testing.T) {
	repo := newFakeWatermarkRepo()
	tracker := NewTracker(repo, "cmc_price_bars_1d")
	ctx := context.Background()

	require.NoError(t, tracker.Commit(ctx, persistence.Watermark{ID: "BTC", TF: "1D", DailyMaxSeen: time.Now()}, false))
	require.NoError(t, tracker.Reset(ctx, "BTC", "1D", nil))

	wm, phase, err := tracker.Load(ctx, "BTC", "1D", nil)
	require.NoError(t, err)
	assert.Nil(t, wm)
	assert.Equal(t, PhaseCold, phase)
}

func TestBackfillDetected(t *testing.T) {
	wm := &persistence.Watermark{DailyMinSeen: time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC)}
	earlier := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	later := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)

	assert.True(t, BackfillDetected(wm, earlier))
	assert.False(t, BackfillDetected(wm, later))
	assert.False(t, BackfillDetected(nil, earlier))
}
