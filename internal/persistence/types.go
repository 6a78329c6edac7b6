// Package persistence defines the repository contracts shared by every
// stage of the pipeline (bars, EMAs, features, regimes, signals) and the
// row types those repositories move. Concrete implementations live in the
// postgres and sqlite subpackages; domain code depends only on this
// package's interfaces.
package persistence

import "time"

// TimeRange bounds a query window, inclusive of From, exclusive of To.
type TimeRange struct {
	From time.Time
	To   time.Time
}

// AlignmentSource discriminates which of the six bar/EMA variants produced
// a row once they are combined in the unified feature store.
type AlignmentSource string

const (
	Alignment1D            AlignmentSource = "1d"
	AlignmentMultiTF       AlignmentSource = "multi_tf"
	AlignmentCalUS         AlignmentSource = "cal_us"
	AlignmentCalISO        AlignmentSource = "cal_iso"
	AlignmentCalAnchorUS   AlignmentSource = "cal_anchor_us"
	AlignmentCalAnchorISO  AlignmentSource = "cal_anchor_iso"
)

// Bar is one row shared by all six bar tables.
type Bar struct {
	ID               string    `db:"id" json:"id"`
	TF               string    `db:"tf" json:"tf"`
	BarSeq           int64     `db:"bar_seq" json:"bar_seq"`
	Timestamp        time.Time `db:"timestamp" json:"timestamp"`
	Open             float64   `db:"open" json:"open"`
	High             float64   `db:"high" json:"high"`
	Low              float64   `db:"low" json:"low"`
	Close            float64   `db:"close" json:"close"`
	Volume           float64   `db:"volume" json:"volume"`
	TimeOpenBar      time.Time `db:"time_open_bar" json:"time_open_bar"`
	TimeCloseBar     time.Time `db:"time_close_bar" json:"time_close_bar"`
	TimeHigh         time.Time `db:"time_high" json:"time_high"`
	TimeLow          time.Time `db:"time_low" json:"time_low"`
	BarAnchorOffset  int       `db:"bar_anchor_offset" json:"bar_anchor_offset"`
	IsPartialStart   bool      `db:"is_partial_start" json:"is_partial_start"`
	IsPartialEnd     bool      `db:"is_partial_end" json:"is_partial_end"`
	IsMissingDays    bool      `db:"is_missing_days" json:"is_missing_days"`
	CountMissingDays int       `db:"count_missing_days" json:"count_missing_days"`
	IngestedAt       time.Time `db:"ingested_at" json:"ingested_at"`
}

// EMARow is one row shared by all six EMA tables.
// EMABar/RollBar/D*Bar hold the bar-space series of calendar and
// calendar_anchor variants; the refreshers in internal/ema leave them
// nil on every variant.
type EMARow struct {
	ID              string    `db:"id" json:"id"`
	TF              string    `db:"tf" json:"tf"`
	Timestamp       time.Time `db:"ts" json:"ts"`
	Period          int       `db:"period" json:"period"`
	EMA             float64   `db:"ema" json:"ema"`
	EMABar          *float64  `db:"ema_bar" json:"ema_bar,omitempty"`
	Roll            bool      `db:"roll" json:"roll"`
	RollBar         *bool     `db:"roll_bar" json:"roll_bar,omitempty"`
	TFDays          *int      `db:"tf_days" json:"tf_days,omitempty"`
	D1              *float64  `db:"d1" json:"d1,omitempty"`
	D2              *float64  `db:"d2" json:"d2,omitempty"`
	D1Roll          *float64  `db:"d1_roll" json:"d1_roll,omitempty"`
	D2Roll          *float64  `db:"d2_roll" json:"d2_roll,omitempty"`
	D1Bar           *float64  `db:"d1_bar" json:"d1_bar,omitempty"`
	D2Bar           *float64  `db:"d2_bar" json:"d2_bar,omitempty"`
	D1RollBar       *float64  `db:"d1_roll_bar" json:"d1_roll_bar,omitempty"`
	D2RollBar       *float64  `db:"d2_roll_bar" json:"d2_roll_bar,omitempty"`
	AlignmentSource AlignmentSource `db:"alignment_source" json:"alignment_source"`
	IngestedAt      time.Time `db:"ingested_at" json:"ingested_at"`
}

// Watermark is one row of a refresher's state table.
type Watermark struct {
	ID               string     `db:"id" json:"id"`
	TF               string     `db:"tf" json:"tf"`
	Period           *int       `db:"period" json:"period,omitempty"`
	DailyMinSeen     time.Time  `db:"daily_min_seen" json:"daily_min_seen"`
	DailyMaxSeen     time.Time  `db:"daily_max_seen" json:"daily_max_seen"`
	LastTimeClose    time.Time  `db:"last_time_close" json:"last_time_close"`
	LastCanonicalTS  time.Time  `db:"last_canonical_ts" json:"last_canonical_ts"`
	LastBarSeq       int64      `db:"last_bar_seq" json:"last_bar_seq"`
	UpdatedAt        time.Time  `db:"updated_at" json:"updated_at"`
}

// RejectReason enumerates the violation_type values written to a rejects table.
type RejectReason string

const (
	RejectHighLtLow      RejectReason = "high_lt_low"
	RejectHighLtOCMax    RejectReason = "high_lt_oc_max"
	RejectLowGtOCMin     RejectReason = "low_gt_oc_min"
	RejectNullRequired   RejectReason = "null_required"
)

// RepairAction enumerates the repair_action values recorded alongside a
// clamp-repaired row.
type RepairAction string

const (
	RepairNone            RepairAction = ""
	RepairSwapHighLow     RepairAction = "swap_high_low"
	RepairSetHighToOCMax  RepairAction = "set_high_to_oc_max"
	RepairSetLowToOCMin   RepairAction = "set_low_to_oc_min"
	RepairRejected        RepairAction = "rejected"
)

// RejectRow is an append-only audit entry for a bar that violated an
// invariant.
type RejectRow struct {
	ID            string       `db:"id" json:"id"`
	TF            string       `db:"tf" json:"tf"`
	Timestamp     time.Time    `db:"timestamp" json:"timestamp"`
	Open          float64      `db:"open" json:"open"`
	High          float64      `db:"high" json:"high"`
	Low           float64      `db:"low" json:"low"`
	Close         float64      `db:"close" json:"close"`
	Volume        float64      `db:"volume" json:"volume"`
	ViolationType RejectReason `db:"violation_type" json:"violation_type"`
	RepairAction  RepairAction `db:"repair_action" json:"repair_action"`
	RejectedAt    time.Time    `db:"rejected_at" json:"rejected_at"`
}

// Series distinguishes daily-space from bar-space EMA derivatives that
// returns are computed over.
type Series string

const (
	SeriesEMA    Series = "ema"
	SeriesEMABar Series = "ema_bar"
)

// ReturnsRow is one row of a returns table, PK (id, tf, ts, series, roll).
type ReturnsRow struct {
	ID          string    `db:"id" json:"id"`
	TF          string    `db:"tf" json:"tf"`
	Timestamp   time.Time `db:"ts" json:"ts"`
	SeriesName  Series    `db:"series" json:"series"`
	Roll        bool      `db:"roll" json:"roll"`
	GapDays     *int      `db:"gap_days" json:"gap_days,omitempty"`
	Returns     map[int]*float64 `db:"-" json:"returns"`        // horizon (days) -> arithmetic pct_change
	LogReturns  map[int]*float64 `db:"-" json:"log_returns"`    // horizon (days) -> log return
	D1          *float64  `db:"d1" json:"d1,omitempty"`
	D2          *float64  `db:"d2" json:"d2,omitempty"`
	ZScores     map[int]*float64 `db:"-" json:"z_scores"`       // rolling z-score for key series
	IsOutlier   bool      `db:"is_outlier" json:"is_outlier"`
	IngestedAt  time.Time `db:"ingested_at" json:"ingested_at"`
}

// VolEstimator enumerates the volatility estimator kinds.
type VolEstimator string

const (
	VolParkinson     VolEstimator = "parkinson"
	VolGarmanKlass   VolEstimator = "garman_klass"
	VolRogersSatchell VolEstimator = "rogers_satchell"
	VolATR           VolEstimator = "atr"
)

// VolRow is one row of a volatility table, PK (id, tf, ts).
type VolRow struct {
	ID         string                       `db:"id" json:"id"`
	TF         string                       `db:"tf" json:"tf"`
	Timestamp  time.Time                    `db:"ts" json:"ts"`
	Values     map[VolEstimator]map[int]*float64 `db:"-" json:"values"` // estimator -> window -> annualised vol
	IsOutlier  bool                         `db:"is_outlier" json:"is_outlier"`
	IngestedAt time.Time                    `db:"ingested_at" json:"ingested_at"`
}

// TARow is one row of a technical-indicator table, PK (id, tf, ts).
type TARow struct {
	ID         string                 `db:"id" json:"id"`
	TF         string                 `db:"tf" json:"tf"`
	Timestamp  time.Time              `db:"ts" json:"ts"`
	Values     map[string]float64     `db:"-" json:"values"` // indicator key (e.g. "rsi_14") -> value
	IsOutlier  bool                   `db:"is_outlier" json:"is_outlier"`
	IsCritical bool                   `db:"is_critical" json:"is_critical"`
	IngestedAt time.Time              `db:"ingested_at" json:"ingested_at"`
}

// UnifiedRow is one row of the materialised daily feature store.
type UnifiedRow struct {
	ID        string                 `db:"id" json:"id"`
	Timestamp time.Time              `db:"ts" json:"ts"`
	Bar       *Bar                   `db:"-" json:"bar,omitempty"`
	EMAs      map[int]*EMARow        `db:"-" json:"emas,omitempty"`
	Returns   *ReturnsRow            `db:"-" json:"returns,omitempty"`
	Vol       *VolRow                `db:"-" json:"vol,omitempty"`
	TA        *TARow                 `db:"-" json:"ta,omitempty"`
	IngestedAt time.Time             `db:"ingested_at" json:"ingested_at"`
}

// RegimeLabelRow is one row of cmc_regimes.
type RegimeLabelRow struct {
	ID                string            `db:"id" json:"id"`
	Timestamp         time.Time         `db:"ts" json:"ts"`
	TF                string            `db:"tf" json:"tf"`
	L0Label           string            `db:"l0_label" json:"l0_label"`
	L1Label           string            `db:"l1_label" json:"l1_label"`
	L2Label           string            `db:"l2_label" json:"l2_label"`
	RegimeKey         string            `db:"regime_key" json:"regime_key"`
	FeatureTier       string            `db:"feature_tier" json:"feature_tier"`
	LayerEnabledFlags map[string]bool   `db:"-" json:"layer_enabled_flags"`
	SizeMult          float64           `db:"size_mult" json:"size_mult"`
	StopMult          float64           `db:"stop_mult" json:"stop_mult"`
	Orders            []string          `db:"-" json:"orders"`
	Setups            []string          `db:"-" json:"setups"`
	GrossCap          float64           `db:"gross_cap" json:"gross_cap"`
	Pyramids          int               `db:"pyramids" json:"pyramids"`
	VersionHash       string            `db:"version_hash" json:"version_hash"`
	IngestedAt        time.Time         `db:"ingested_at" json:"ingested_at"`
}

// RegimeFlip is one row of cmc_regime_flips.
type RegimeFlip struct {
	ID             string    `db:"id" json:"id"`
	Timestamp      time.Time `db:"ts" json:"ts"`
	TF             string    `db:"tf" json:"tf"`
	Layer          string    `db:"layer" json:"layer"`
	OldRegime      *string   `db:"old_regime" json:"old_regime,omitempty"`
	NewRegime      string    `db:"new_regime" json:"new_regime"`
	DurationBars   int       `db:"duration_bars" json:"duration_bars"`
}

// RegimeStat is one row of cmc_regime_stats.
type RegimeStat struct {
	ID          string  `db:"id" json:"id"`
	TF          string  `db:"tf" json:"tf"`
	RegimeKey   string  `db:"regime_key" json:"regime_key"`
	NBars       int64   `db:"n_bars" json:"n_bars"`
	PctOfHistory float64 `db:"pct_of_history" json:"pct_of_history"`
	AvgRet1D    float64 `db:"avg_ret_1d" json:"avg_ret_1d"`
	StdRet1D    float64 `db:"std_ret_1d" json:"std_ret_1d"`
}

// RegimeComovement is one row of cmc_regime_comovement.
type RegimeComovement struct {
	ID          string    `db:"id" json:"id"`
	TF          string    `db:"tf" json:"tf"`
	EMAa        int       `db:"ema_a" json:"ema_a"`
	EMAb        int       `db:"ema_b" json:"ema_b"`
	SpearmanCorr float64  `db:"spearman_corr" json:"spearman_corr"`
	SignAgreement float64 `db:"sign_agreement" json:"sign_agreement"`
	BestLeadLag int       `db:"best_lead_lag" json:"best_lead_lag"`
	ComputedAt  time.Time `db:"computed_at" json:"computed_at"`
}

// SignalRecord is one row of a per-generator signal table.
type SignalRecord struct {
	ID             string                 `db:"id" json:"id"`
	Timestamp      time.Time              `db:"ts" json:"ts"`
	Generator      string                 `db:"generator" json:"generator"`
	TF             string                 `db:"tf" json:"tf"`
	Side           string                 `db:"side" json:"side"`
	EntryPrice     float64                `db:"entry_price" json:"entry_price"`
	RegimeEnabled  bool                   `db:"regime_enabled" json:"regime_enabled"`
	RegimeKey      *string                `db:"regime_key" json:"regime_key,omitempty"`
	FeatureSnapshot map[string]interface{} `db:"-" json:"feature_snapshot"`
	IngestedAt     time.Time              `db:"ingested_at" json:"ingested_at"`
}
