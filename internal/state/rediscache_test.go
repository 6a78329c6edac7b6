package state

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/barpipe/internal/persistence"
)

func TestCachedWatermarkRepo_Get_CacheHitSkipsInner(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	inner := newFakeWatermarkRepo()
	cache := NewCachedWatermarkRepo(inner, rdb, time.Minute)
	ctx := context.Background()

	wm := persistence.Watermark{ID: "BTC", TF: "1D", DailyMaxSeen: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)}
	raw, err := json.Marshal(wm)
	require.NoError(t, err)
	mock.ExpectGet("wm:cmc_price_bars_1d:BTC:1D").SetVal(string(raw))

	got, err := cache.Get(ctx, "cmc_price_bars_1d", "BTC", "1D", nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, wm.DailyMaxSeen, got.DailyMaxSeen)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCachedWatermarkRepo_Get_CacheMissFallsThroughAndPopulates(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	inner := newFakeWatermarkRepo()
	ctx := context.Background()
	want := persistence.Watermark{ID: "BTC", TF: "1D", DailyMaxSeen: time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)}
	require.NoError(t, inner.Upsert(ctx, "cmc_price_bars_1d", want))

	cache := NewCachedWatermarkRepo(inner, rdb, time.Minute)
	mock.ExpectGet("wm:cmc_price_bars_1d:BTC:1D").RedisNil()
	mock.Regexp().ExpectSet("wm:cmc_price_bars_1d:BTC:1D", `.*`, time.Minute).SetVal("OK")

	got, err := cache.Get(ctx, "cmc_price_bars_1d", "BTC", "1D", nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, want.DailyMaxSeen, got.DailyMaxSeen)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCachedWatermarkRepo_Get_NilRedisDisablesCaching(t *testing.T) {
	inner := newFakeWatermarkRepo()
	ctx := context.Background()
	want := persistence.Watermark{ID: "ETH", TF: "1D"}
	require.NoError(t, inner.Upsert(ctx, "cmc_price_bars_1d", want))

	cache := NewCachedWatermarkRepo(inner, nil, time.Minute)
	got, err := cache.Get(ctx, "cmc_price_bars_1d", "ETH", "1D", nil)
	require.NoError(t, err)
	require.NotNil(t, got)
}

func TestCachedWatermarkRepo_Upsert_InvalidatesCacheKey(t *testing.T) {
	rdb, mock := redismock.NewClientMock()
	inner := newFakeWatermarkRepo()
	cache := NewCachedWatermarkRepo(inner, rdb, time.Minute)
	ctx := context.Background()

	mock.ExpectDel("wm:cmc_price_bars_1d:BTC:1D").SetVal(1)

	err := cache.Upsert(ctx, "cmc_price_bars_1d", persistence.Watermark{ID: "BTC", TF: "1D"})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCacheKey_WithAndWithoutPeriod(t *testing.T) {
	assert.Equal(t, "wm:t:BTC:1D", cacheKey("t", "BTC", "1D", nil))
	period := 14
	assert.Equal(t, "wm:t:BTC:1D:14", cacheKey("t", "BTC", "1D", &period))
}
