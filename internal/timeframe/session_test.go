package timeframe

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIsTradingDay_CryptoAlwaysTrue(t *testing.T) {
	reg := NewSessionRegistry(DefaultSessionSeed())
	saturday := time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC)
	assert.True(t, reg.IsTradingDay(AssetClassCrypto, saturday))
}

func TestIsTradingDay_EquityLikeExcludesWeekends(t *testing.T) {
	reg := NewSessionRegistry(DefaultSessionSeed())
	saturday := time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC)
	monday := time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)
	assert.False(t, reg.IsTradingDay(AssetClassEquityLike, saturday))
	assert.True(t, reg.IsTradingDay(AssetClassEquityLike, monday))
}

func TestIsTradingDay_UnknownClassDefaultsTrue(t *testing.T) {
	reg := NewSessionRegistry(nil)
	assert.True(t, reg.IsTradingDay(AssetClass("unknown"), time.Now()))
}

func TestExpectedDates_CryptoIncludesEveryDay(t *testing.T) {
	reg := NewSessionRegistry(DefaultSessionSeed())
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC)
	dates := reg.ExpectedDates(AssetClassCrypto, from, to)
	assert.Len(t, dates, 7)
}

func TestExpectedDates_EquityLikeSkipsWeekend(t *testing.T) {
	reg := NewSessionRegistry(DefaultSessionSeed())
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) // Monday
	to := time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC)   // Sunday
	dates := reg.ExpectedDates(AssetClassEquityLike, from, to)
	assert.Len(t, dates, 5) // Mon-Fri
}
