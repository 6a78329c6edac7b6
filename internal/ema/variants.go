package ema

import (
	"github.com/rs/zerolog"

	"github.com/sawpanic/barpipe/internal/persistence"
	"github.com/sawpanic/barpipe/internal/state"
	"github.com/sawpanic/barpipe/internal/timeframe"
)

// DefaultPeriods are the EMA lengths computed for every variant unless a
// deployment overrides them via config.
var DefaultPeriods = []int{9, 21, 55, 200}

// TableFor maps an EMA variant to its table name.
func TableFor(v Variant) string {
	switch v {
	case VariantTFDayBarSpace:
		return "cmc_ema_tf_day_v1"
	case VariantTFDayDailySpace:
		return "cmc_ema_tf_day_v2"
	case VariantCalendarUS:
		return "cmc_ema_cal_us"
	case VariantCalendarISO:
		return "cmc_ema_cal_iso"
	case VariantCalAnchorUS:
		return "cmc_ema_cal_anchor_us"
	case VariantCalAnchorISO:
		return "cmc_ema_cal_anchor_iso"
	default:
		return ""
	}
}

// NewTFDayBarSpace builds the v1 tf_day refresher: α = 2/(period+1).
func NewTFDayBarSpace(tf string, tfDays int, periods []int, source SourceBars, emas persistence.EMARepo, tracker *state.Tracker, log zerolog.Logger) *Refresher {
	cfg := Config{Variant: VariantTFDayBarSpace, TF: tf, TFDays: tfDays, Periods: periods,
		AlphaForPeriod: TFDayBarSpaceAlpha}
	return NewRefresher(cfg, source, emas, tracker, log)
}

// NewTFDayDailySpace builds the v2 tf_day refresher: α = 2/(period×tf_days+1).
func NewTFDayDailySpace(tf string, tfDays int, periods []int, source SourceBars, emas persistence.EMARepo, tracker *state.Tracker, log zerolog.Logger) *Refresher {
	cfg := Config{Variant: VariantTFDayDailySpace, TF: tf, TFDays: tfDays, Periods: periods,
		AlphaForPeriod: TFDayDailySpaceAlpha(tfDays)}
	return NewRefresher(cfg, source, emas, tracker, log)
}

// NewCalendar builds a calendar refresher (cal_us or cal_iso) using the
// pre-computed alpha lookup with fallback. It writes the ema column only;
// no bar-space ema_bar series is produced.
func NewCalendar(variant Variant, tfRow timeframe.Timeframe, periods []int, lookup CalendarAlphaLookup, source SourceBars, emas persistence.EMARepo, tracker *state.Tracker, log zerolog.Logger) *Refresher {
	tfDays := 0
	if tfRow.TFDays != nil {
		tfDays = *tfRow.TFDays
	}
	cfg := Config{Variant: variant, TF: tfRow.TF, TFDays: tfDays, Periods: periods, HasBarSpace: true,
		AlphaForPeriod: func(period int) float64 { return lookup.Alpha(period * maxInt(tfDays, 1)) }}
	return NewRefresher(cfg, source, emas, tracker, log)
}

// NewCalendarAnchor builds a calendar_anchor refresher (cal_anchor_us or
// cal_anchor_iso). It smooths with the bar-space alpha 2/(period+1); the
// daily alpha from CalendarAnchorAlphas is discarded, and no ema_bar series
// is produced.
func NewCalendarAnchor(variant Variant, tfRow timeframe.Timeframe, periods []int, source SourceBars, emas persistence.EMARepo, tracker *state.Tracker, log zerolog.Logger) *Refresher {
	tfDays := 0
	if tfRow.TFDays != nil {
		tfDays = *tfRow.TFDays
	}
	cfg := Config{Variant: variant, TF: tfRow.TF, TFDays: tfDays, Periods: periods, HasBarSpace: true,
		AlphaForPeriod: func(period int) float64 {
			alphaBar := TFDayBarSpaceAlpha(period)
			_, ab := CalendarAnchorAlphas(alphaBar, maxInt(tfDays, 1))
			return ab
		}}
	return NewRefresher(cfg, source, emas, tracker, log)
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
