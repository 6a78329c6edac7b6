package features

import (
	"math"
	"time"

	"github.com/markcheno/go-talib"

	"github.com/sawpanic/barpipe/internal/persistence"
)

// IndicatorSpec is one row of dim_indicators: a named kit instance with
// its parameters and an activation flag.
type IndicatorSpec struct {
	Key      string
	Kind     string // rsi, macd, stoch, bbands, atr, adx
	Params   map[string]int
	IsActive bool
}

// DefaultIndicatorKits are the standard parameter sets the pipeline ships
// with.
func DefaultIndicatorKits() []IndicatorSpec {
	return []IndicatorSpec{
		{Key: "rsi_7", Kind: "rsi", Params: map[string]int{"period": 7}, IsActive: true},
		{Key: "rsi_14", Kind: "rsi", Params: map[string]int{"period": 14}, IsActive: true},
		{Key: "rsi_21", Kind: "rsi", Params: map[string]int{"period": 21}, IsActive: true},
		{Key: "macd_12_26_9", Kind: "macd", Params: map[string]int{"fast": 12, "slow": 26, "signal": 9}, IsActive: true},
		{Key: "macd_8_17_9", Kind: "macd", Params: map[string]int{"fast": 8, "slow": 17, "signal": 9}, IsActive: true},
		{Key: "stoch_14_3", Kind: "stoch", Params: map[string]int{"k": 14, "d": 3}, IsActive: true},
		{Key: "bb_20_2", Kind: "bbands", Params: map[string]int{"period": 20, "stddev": 2}, IsActive: true},
		{Key: "atr_14", Kind: "atr", Params: map[string]int{"period": 14}, IsActive: true},
		{Key: "adx_14", Kind: "adx", Params: map[string]int{"period": 14}, IsActive: true},
	}
}

// TechnicalComputer implements the technical-indicator feature, wrapping
// go-talib kernels behind the dim_indicators-driven kit selection.
type TechnicalComputer struct {
	Kits []IndicatorSpec
}

// Compute produces one TARow per bar across every active kit.
func (c TechnicalComputer) Compute(id, tf string, bars []persistence.Bar) []persistence.TARow {
	n := len(bars)
	high := make([]float64, n)
	low := make([]float64, n)
	closev := make([]float64, n)
	for i, b := range bars {
		high[i], low[i], closev[i] = b.High, b.Low, b.Close
	}

	series := make(map[string][]float64)
	for _, kit := range c.Kits {
		if !kit.IsActive {
			continue
		}
		switch kit.Kind {
		case "rsi":
			series[kit.Key] = talib.Rsi(closev, kit.Params["period"])
		case "macd":
			macd, _, _ := talib.Macd(closev, kit.Params["fast"], kit.Params["slow"], kit.Params["signal"])
			series[kit.Key] = macd
		case "stoch":
			k, _ := talib.Stoch(high, low, closev, kit.Params["k"], kit.Params["d"], talib.SMA, kit.Params["d"], talib.SMA)
			series[kit.Key] = k
		case "bbands":
			_, mid, _ := talib.BBands(closev, kit.Params["period"], float64(kit.Params["stddev"]), float64(kit.Params["stddev"]), talib.SMA)
			series[kit.Key] = mid
		case "atr":
			series[kit.Key] = talib.Atr(high, low, closev, kit.Params["period"])
		case "adx":
			series[kit.Key] = talib.Adx(high, low, closev, kit.Params["period"])
		}
	}

	out := make([]persistence.TARow, n)
	for i, b := range bars {
		row := persistence.TARow{ID: id, TF: tf, Timestamp: b.Timestamp,
			Values: make(map[string]float64), IngestedAt: time.Now()}
		for key, vals := range series {
			if i >= len(vals) || math.IsNaN(vals[i]) {
				continue
			}
			row.Values[key] = vals[i]
			if isRSIKey(key) && (vals[i] < 0 || vals[i] > 100) {
				row.IsOutlier = true
				row.IsCritical = true // RSI outside [0,100] indicates a bug, not market behaviour
			}
		}
		out[i] = row
	}
	return out
}

func isRSIKey(key string) bool {
	return len(key) >= 3 && key[:3] == "rsi"
}
