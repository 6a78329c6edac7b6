package regime

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDataBudgetThreshold_PerLayer(t *testing.T) {
	assert.Equal(t, 60, DataBudgetThreshold(LayerL0))
	assert.Equal(t, 52, DataBudgetThreshold(LayerL1))
	assert.Equal(t, 120, DataBudgetThreshold(LayerL2))
	assert.Equal(t, 0, DataBudgetThreshold(Layer("unknown")))
}

func TestLayerEnabled_ComparesHistoryLenToThreshold(t *testing.T) {
	assert.False(t, LayerEnabled(LayerL2, 119))
	assert.True(t, LayerEnabled(LayerL2, 120))
}

func TestL0CycleLabel_MissingEMAsReturnsProxy(t *testing.T) {
	s := Snapshot{Close: 100, EMAs: map[int]float64{200: 90}}
	assert.Equal(t, ProxyLabel, L0CycleLabel(s))
}

func TestL0CycleLabel_BullWhenCloseAboveBoth(t *testing.T) {
	s := Snapshot{Close: 110, EMAs: map[int]float64{200: 100, 55: 105}}
	assert.Equal(t, "bull", L0CycleLabel(s))
}

func TestL0CycleLabel_BearWhenCloseBelowBoth(t *testing.T) {
	s := Snapshot{Close: 90, EMAs: map[int]float64{200: 100, 55: 95}}
	assert.Equal(t, "bear", L0CycleLabel(s))
}

func TestL0CycleLabel_TransitionWhenDisagreeing(t *testing.T) {
	s := Snapshot{Close: 102, EMAs: map[int]float64{200: 100, 55: 105}}
	assert.Equal(t, "transition", L0CycleLabel(s))
}

func TestL1WeeklyMacroLabel_RiskOnAboveBand(t *testing.T) {
	s := Snapshot{Close: 110, EMAs: map[int]float64{55: 100}}
	assert.Equal(t, "risk_on", L1WeeklyMacroLabel(s))
}

func TestL1WeeklyMacroLabel_RiskOffBelowBand(t *testing.T) {
	s := Snapshot{Close: 90, EMAs: map[int]float64{55: 100}}
	assert.Equal(t, "risk_off", L1WeeklyMacroLabel(s))
}

func TestL1WeeklyMacroLabel_NeutralWithinBand(t *testing.T) {
	s := Snapshot{Close: 102, EMAs: map[int]float64{55: 100}}
	assert.Equal(t, "neutral", L1WeeklyMacroLabel(s))
}

func TestL1WeeklyMacroLabel_MissingEMAReturnsProxy(t *testing.T) {
	s := Snapshot{Close: 100, EMAs: map[int]float64{}}
	assert.Equal(t, ProxyLabel, L1WeeklyMacroLabel(s))
}

func TestL2DailyTrendVolLabel_TrendingUp(t *testing.T) {
	s := Snapshot{Close: 105, EMAs: map[int]float64{9: 102, 21: 100}}
	assert.Equal(t, "trending_up", L2DailyTrendVolLabel(s))
}

func TestL2DailyTrendVolLabel_TrendingDown(t *testing.T) {
	s := Snapshot{Close: 95, EMAs: map[int]float64{9: 98, 21: 100}}
	assert.Equal(t, "trending_down", L2DailyTrendVolLabel(s))
}

func TestL2DailyTrendVolLabel_Choppy(t *testing.T) {
	s := Snapshot{Close: 101, EMAs: map[int]float64{9: 102, 21: 100}}
	assert.Equal(t, "choppy", L2DailyTrendVolLabel(s))
}

func TestClassifySnapshot_GatesDisabledLayersToProxy(t *testing.T) {
	s := Snapshot{
		Close:      110,
		EMAs:       map[int]float64{200: 100, 55: 105, 9: 108, 21: 104},
		HistoryLen: 10,
	}
	labels, enabled := ClassifySnapshot(s)
	assert.False(t, enabled[LayerL0])
	assert.False(t, enabled[LayerL1])
	assert.False(t, enabled[LayerL2])
	assert.Equal(t, ProxyLabel, labels[LayerL0])
	assert.Equal(t, ProxyLabel, labels[LayerL1])
	assert.Equal(t, ProxyLabel, labels[LayerL2])
}

func TestClassifySnapshot_EnabledLayersUseLabelFuncs(t *testing.T) {
	s := Snapshot{
		Close:      115,
		EMAs:       map[int]float64{200: 100, 55: 105, 9: 108, 21: 104},
		HistoryLen: 200,
	}
	labels, enabled := ClassifySnapshot(s)
	assert.True(t, enabled[LayerL0])
	assert.True(t, enabled[LayerL1])
	assert.True(t, enabled[LayerL2])
	assert.Equal(t, "bull", labels[LayerL0])
	assert.Equal(t, "risk_on", labels[LayerL1])
	assert.Equal(t, "trending_up", labels[LayerL2])
}
