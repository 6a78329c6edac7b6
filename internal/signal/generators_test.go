package signal

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sawpanic/barpipe/internal/persistence"
)

func emaRow(v float64) *persistence.EMARow { return &persistence.EMARow{EMA: v} }

func unifiedRow(day int, close float64, fast, slow int, fastV, slowV float64) persistence.UnifiedRow {
	return persistence.UnifiedRow{
		ID:        "BTC",
		Timestamp: time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC),
		Bar: &persistence.Bar{
			ID: "BTC", Close: close,
			Timestamp: time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC),
		},
		EMAs: map[int]*persistence.EMARow{
			fast: emaRow(fastV),
			slow: emaRow(slowV),
		},
	}
}

func TestEMACrossover_Name(t *testing.T) {
	g := EMACrossover{Fast: 9, Slow: 21}
	assert.Equal(t, "ema_crossover", g.Name())
}

func TestEMACrossover_EmitsLongOnGoldenCross(t *testing.T) {
	g := EMACrossover{Fast: 9, Slow: 21}
	rows := []persistence.UnifiedRow{
		unifiedRow(1, 100, 9, 21, 95, 100),
		unifiedRow(2, 105, 9, 21, 102, 101),
	}
	out := g.Generate(rows)
	require.Len(t, out, 1)
	assert.Equal(t, SideLong, out[0].Side)
	assert.Equal(t, 105.0, out[0].EntryPrice)
}

func TestEMACrossover_EmitsShortOnDeathCross(t *testing.T) {
	g := EMACrossover{Fast: 9, Slow: 21}
	rows := []persistence.UnifiedRow{
		unifiedRow(1, 100, 9, 21, 105, 100),
		unifiedRow(2, 95, 9, 21, 98, 101),
	}
	out := g.Generate(rows)
	require.Len(t, out, 1)
	assert.Equal(t, SideShort, out[0].Side)
}

func TestEMACrossover_NoCrossEmitsNothing(t *testing.T) {
	g := EMACrossover{Fast: 9, Slow: 21}
	rows := []persistence.UnifiedRow{
		unifiedRow(1, 100, 9, 21, 95, 100),
		unifiedRow(2, 101, 9, 21, 96, 101),
	}
	out := g.Generate(rows)
	assert.Empty(t, out)
}

func TestEMACrossover_MissingEMASkipsRow(t *testing.T) {
	g := EMACrossover{Fast: 9, Slow: 21}
	rows := []persistence.UnifiedRow{
		{ID: "BTC", Bar: &persistence.Bar{Close: 100}, EMAs: map[int]*persistence.EMARow{}},
		{ID: "BTC", Bar: &persistence.Bar{Close: 101}, EMAs: map[int]*persistence.EMARow{}},
	}
	assert.Empty(t, g.Generate(rows))
}

func taRow(rsi float64) *persistence.TARow {
	return &persistence.TARow{Values: map[string]float64{"rsi_14": rsi}}
}

func TestRSIMeanReversion_DefaultsOversoldOverbought(t *testing.T) {
	g := RSIMeanReversion{Key: "rsi_14"}
	rows := []persistence.UnifiedRow{
		{ID: "BTC", Bar: &persistence.Bar{Close: 100}, TA: taRow(25)},
		{ID: "BTC", Bar: &persistence.Bar{Close: 101}, TA: taRow(35)},
	}
	out := g.Generate(rows)
	require.Len(t, out, 1)
	assert.Equal(t, SideLong, out[0].Side)
}

func TestRSIMeanReversion_OverboughtCrossEmitsShort(t *testing.T) {
	g := RSIMeanReversion{Key: "rsi_14"}
	rows := []persistence.UnifiedRow{
		{ID: "BTC", Bar: &persistence.Bar{Close: 100}, TA: taRow(75)},
		{ID: "BTC", Bar: &persistence.Bar{Close: 99}, TA: taRow(65)},
	}
	out := g.Generate(rows)
	require.Len(t, out, 1)
	assert.Equal(t, SideShort, out[0].Side)
}

func TestRSIMeanReversion_MissingTASkipsRow(t *testing.T) {
	g := RSIMeanReversion{Key: "rsi_14"}
	rows := []persistence.UnifiedRow{
		{ID: "BTC", Bar: &persistence.Bar{Close: 100}},
		{ID: "BTC", Bar: &persistence.Bar{Close: 101}},
	}
	assert.Empty(t, g.Generate(rows))
}

func volRow(atr float64) *persistence.VolRow {
	v := atr
	return &persistence.VolRow{Values: map[persistence.VolEstimator]map[int]*float64{
		persistence.VolATR: {14: &v},
	}}
}

func TestATRBreakout_LongOnUpsideBreak(t *testing.T) {
	g := ATRBreakout{Lookback: 2, Mult: 1.0}
	rows := []persistence.UnifiedRow{
		{ID: "BTC", Bar: &persistence.Bar{High: 101, Low: 99, Close: 100}, Vol: volRow(1)},
		{ID: "BTC", Bar: &persistence.Bar{High: 102, Low: 98, Close: 100}, Vol: volRow(1)},
		{ID: "BTC", Bar: &persistence.Bar{High: 110, Low: 103, Close: 110}, Vol: volRow(1)},
	}
	out := g.Generate(rows)
	require.Len(t, out, 1)
	assert.Equal(t, SideLong, out[0].Side)
}

func TestATRBreakout_ShortOnDownsideBreak(t *testing.T) {
	g := ATRBreakout{Lookback: 2, Mult: 1.0}
	rows := []persistence.UnifiedRow{
		{ID: "BTC", Bar: &persistence.Bar{High: 101, Low: 99, Close: 100}, Vol: volRow(1)},
		{ID: "BTC", Bar: &persistence.Bar{High: 102, Low: 98, Close: 100}, Vol: volRow(1)},
		{ID: "BTC", Bar: &persistence.Bar{High: 92, Low: 90, Close: 90}, Vol: volRow(1)},
	}
	out := g.Generate(rows)
	require.Len(t, out, 1)
	assert.Equal(t, SideShort, out[0].Side)
}

func TestATRBreakout_NoBreakEmitsNothing(t *testing.T) {
	g := ATRBreakout{Lookback: 2, Mult: 1.0}
	rows := []persistence.UnifiedRow{
		{ID: "BTC", Bar: &persistence.Bar{High: 101, Low: 99, Close: 100}, Vol: volRow(1)},
		{ID: "BTC", Bar: &persistence.Bar{High: 102, Low: 98, Close: 100}, Vol: volRow(1)},
		{ID: "BTC", Bar: &persistence.Bar{High: 101, Low: 99, Close: 100}, Vol: volRow(1)},
	}
	assert.Empty(t, g.Generate(rows))
}

func TestATRBreakout_NilVolSkipsRow(t *testing.T) {
	g := ATRBreakout{Lookback: 1, Mult: 1.0}
	rows := []persistence.UnifiedRow{
		{ID: "BTC", Bar: &persistence.Bar{High: 101, Low: 99, Close: 100}, Vol: volRow(1)},
		{ID: "BTC", Bar: &persistence.Bar{High: 110, Low: 103, Close: 110}},
	}
	assert.Empty(t, g.Generate(rows))
}
