package bars

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/barpipe/internal/persistence"
	"github.com/sawpanic/barpipe/internal/state"
	"github.com/sawpanic/barpipe/internal/timeframe"
)

// TableFor maps a variant to its bar table name.
func TableFor(v Variant) string {
	switch v {
	case Variant1D:
		return "cmc_price_bars_1d"
	case VariantMultiTF:
		return "cmc_price_bars_multi_tf"
	case VariantCalUS:
		return "cmc_price_bars_cal_us"
	case VariantCalISO:
		return "cmc_price_bars_cal_iso"
	case VariantCalAnchorUS:
		return "cmc_price_bars_cal_anchor_us"
	case VariantCalAnchorISO:
		return "cmc_price_bars_cal_anchor_iso"
	default:
		return ""
	}
}

// New1D builds the canonical daily variant: one-day tf_day windows, reject
// policy on violation, no backfill detection (source is append-only daily
// closes with a monotone last_src_ts).
func New1D(source Source, bars persistence.BarRepo, tracker *state.Tracker, rejects *state.RejectLog, log zerolog.Logger) *Builder {
	cfg := Config{
		Variant:      Variant1D,
		TF:           "1D",
		TFDays:       1,
		Assigner:     NewTFDayAssigner(1),
		RepairPolicy: PolicyReject,
	}
	return NewBuilder(cfg, source, bars, tracker, rejects, log)
}

// NewMultiTF builds a rolling N-day tf_day variant (e.g. 3D, 7D, 30D).
func NewMultiTF(tf string, tfDays int, source Source, bars persistence.BarRepo, tracker *state.Tracker, rejects *state.RejectLog, log zerolog.Logger) *Builder {
	cfg := Config{
		Variant:               VariantMultiTF,
		TF:                    tf,
		TFDays:                tfDays,
		Assigner:              NewTFDayAssigner(tfDays),
		RequiresBackfillCheck: true,
		RepairPolicy:          PolicyClamp,
		LookbackBuffer:        time.Duration(tfDays) * 2 * 24 * time.Hour,
	}
	return NewBuilder(cfg, source, bars, tracker, rejects, log)
}

// NewCalendar builds one of the four calendar variants (cal_us, cal_iso,
// cal_anchor_us, cal_anchor_iso), keyed off the timeframe registry row.
func NewCalendar(variant Variant, tfRow timeframe.Timeframe, source Source, bars persistence.BarRepo, tracker *state.Tracker, rejects *state.RejectLog, log zerolog.Logger) *Builder {
	cfg := Config{
		Variant:               variant,
		TF:                    tfRow.TF,
		Assigner:              NewCalendarAssigner(tfRow, tfRow.HasYearAnchor()),
		RequiresBackfillCheck: true,
		RepairPolicy:          PolicyClamp,
		LookbackBuffer:        60 * 24 * time.Hour,
	}
	return NewBuilder(cfg, source, bars, tracker, rejects, log)
}
