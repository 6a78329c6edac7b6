package main

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/sawpanic/barpipe/internal/bars"
	"github.com/sawpanic/barpipe/internal/ema"
	"github.com/sawpanic/barpipe/internal/features"
	"github.com/sawpanic/barpipe/internal/orchestrator"
	"github.com/sawpanic/barpipe/internal/persistence"
	"github.com/sawpanic/barpipe/internal/persistence/postgres"
	"github.com/sawpanic/barpipe/internal/persistence/sqlite"
	"github.com/sawpanic/barpipe/internal/regime"
	"github.com/sawpanic/barpipe/internal/signal"
	"github.com/sawpanic/barpipe/internal/state"
	"github.com/sawpanic/barpipe/internal/timeframe"
	"github.com/sawpanic/barpipe/internal/unified"
	"github.com/sawpanic/barpipe/internal/validate"
)

// canonicalTF is the daily, tf_day=1 timeframe every feature/regime/signal
// component reads from; the six bar/EMA variants fan out per dim_timeframe
// row, but one canonical series is enough to drive everything downstream
// of the bar layer without multiplying the already-large wiring surface.
const canonicalTF = "1D"

// rig is every collaborator built once per invocation from a live database
// handle, shared by whichever subcommand(s) the user asked for.
type rig struct {
	db       *sqlx.DB
	registry *timeframe.Registry
	log      zerolog.Logger
	timeout  time.Duration

	priceSource bars.Source
	watermarks  persistence.WatermarkRepo
	rejects     persistence.RejectsRepo

	barRepos map[string]persistence.BarRepo // keyed by table name
	emaRepos map[ema.Variant]persistence.EMARepo

	returnsRepo persistence.ReturnsRepo
	volRepo     persistence.VolRepo
	taRepo      persistence.TARepo
	unifiedRepo persistence.UnifiedRepo
	regimeRepo  persistence.RegimeRepo

	barStages    []orchestrator.BarStage
	emaStages    []orchestrator.EMAStage
	returnsStage features.ReturnsRunner
	volRunner    features.VolatilityRunner
	taRunner     features.TechnicalRunner

	barTrackers map[string]*state.Tracker // table -> tracker, for --full-refresh resets and the pipeline's unified id list
	emaTrackers map[ema.Variant]*state.Tracker
}

func stateTable(table string) string   { return table + "_state" }
func rejectsTable(table string) string { return table + "_rejects" }

// newRig opens the database, loads dim_timeframe (falling back to the
// built-in seed if the table is empty or unreachable), and constructs
// every repository and per-variant bar/EMA builder the pipeline needs.
// redisAddr may be empty, in which case watermark reads go straight to
// Postgres with no caching layer in front.
func newRig(ctx context.Context, dsn string, redisAddr string, timeout time.Duration, log zerolog.Logger) (*rig, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	registry, err := loadRegistry(ctx, db, timeout, log)
	if err != nil {
		db.Close()
		return nil, err
	}

	var watermarks persistence.WatermarkRepo = postgres.NewWatermarkRepo(db, timeout)
	if redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			log.Warn().Err(err).Str("addr", redisAddr).Msg("redis unreachable, watermark reads will hit postgres directly")
		} else {
			watermarks = state.NewCachedWatermarkRepo(watermarks, rdb, 30*time.Second)
		}
	}

	r := &rig{
		db: db, registry: registry, log: log, timeout: timeout,
		priceSource: postgres.NewPriceHistorySource(db, timeout),
		watermarks:  watermarks,
		rejects:     postgres.NewRejectsRepo(db, timeout),
		barRepos:    make(map[string]persistence.BarRepo),
		emaRepos:    make(map[ema.Variant]persistence.EMARepo),
		barTrackers: make(map[string]*state.Tracker),
		emaTrackers: make(map[ema.Variant]*state.Tracker),
	}

	r.returnsRepo = postgres.NewReturnsRepo(db, timeout)
	r.volRepo = postgres.NewVolRepo(db, timeout)
	r.taRepo = postgres.NewTARepo(db, timeout)
	r.regimeRepo = postgres.NewRegimeRepo(db, timeout)

	if err := r.buildBarStages(); err != nil {
		db.Close()
		return nil, err
	}
	if err := r.buildEMAStages(); err != nil {
		db.Close()
		return nil, err
	}
	r.buildFeatureRunners()

	canonicalBarTable := bars.TableFor(bars.Variant1D)
	r.unifiedRepo = postgres.NewUnifiedRepo(db, canonicalBarTable, ema.TableFor(ema.VariantTFDayBarSpace), timeout)

	return r, nil
}

func loadRegistry(ctx context.Context, db *sqlx.DB, timeout time.Duration, log zerolog.Logger) (*timeframe.Registry, error) {
	tfRepo := postgres.NewTimeframeRepo(db, timeout)
	rows, err := tfRepo.ListTimeframes(ctx)
	if err != nil || len(rows) == 0 {
		if err != nil {
			log.Warn().Err(err).Msg("dim_timeframe unreachable, falling back to built-in seed")
		} else {
			log.Warn().Msg("dim_timeframe empty, falling back to built-in seed")
		}
		return timeframe.NewRegistry(timeframe.DefaultSeed())
	}
	converted := make([]timeframe.Timeframe, 0, len(rows))
	for _, row := range rows {
		converted = append(converted, timeframe.Timeframe{
			TF: row.TF, TFDays: row.TFDays,
			AlignmentType: timeframe.AlignmentType(row.AlignmentType),
			RollPolicy:    timeframe.RollPolicy(row.RollPolicy),
			BaseUnit:      timeframe.BaseUnit(row.BaseUnit),
			Scheme:        timeframe.Scheme(row.Scheme),
			Canonical:     row.Canonical,
		})
	}
	return timeframe.NewRegistry(converted)
}

// buildBarStages maps every registry row onto the bar variant its
// alignment/roll settings select, each backed by its own table, watermark
// tracker and reject log.
func (r *rig) buildBarStages() error {
	for _, tf := range r.registry.All() {
		var variant bars.Variant
		switch {
		case !tf.IsCalendar() && tf.TFDays != nil && *tf.TFDays == 1:
			variant = bars.Variant1D
		case !tf.IsCalendar():
			variant = bars.VariantMultiTF
		case tf.HasYearAnchor() && tf.Scheme == timeframe.SchemeUS:
			variant = bars.VariantCalAnchorUS
		case tf.HasYearAnchor() && tf.Scheme == timeframe.SchemeISO:
			variant = bars.VariantCalAnchorISO
		case tf.Scheme == timeframe.SchemeUS:
			variant = bars.VariantCalUS
		case tf.Scheme == timeframe.SchemeISO:
			variant = bars.VariantCalISO
		default:
			return fmt.Errorf("wiring: timeframe %q has no matching bar variant", tf.TF)
		}

		table := bars.TableFor(variant)
		repo, ok := r.barRepos[table]
		if !ok {
			repo = postgres.NewBarRepo(r.db, table, r.timeout)
			r.barRepos[table] = repo
		}
		tracker, ok := r.barTrackers[table]
		if !ok {
			tracker = state.NewTracker(r.watermarks, stateTable(table))
			r.barTrackers[table] = tracker
		}
		rejectLog := state.NewRejectLog(r.rejects, rejectsTable(table))

		var builder *bars.Builder
		switch variant {
		case bars.Variant1D:
			builder = bars.New1D(r.priceSource, repo, tracker, rejectLog, r.log)
		case bars.VariantMultiTF:
			tfDays := 1
			if tf.TFDays != nil {
				tfDays = *tf.TFDays
			}
			builder = bars.NewMultiTF(tf.TF, tfDays, r.priceSource, repo, tracker, rejectLog, r.log)
		default:
			builder = bars.NewCalendar(variant, tf, r.priceSource, repo, tracker, rejectLog, r.log)
		}

		r.barStages = append(r.barStages, orchestrator.BarStage{
			Name: tf.TF, Builder: builder, HasBarSpace: tf.IsCalendar(),
		})
	}
	return nil
}

// buildEMAStages pairs every bar stage with the EMA variant(s) its
// alignment implies: tf_day timeframes get both the bar-space and
// daily-space refresher sharing that TF's bar table; calendar timeframes
// get one calendar or calendar_anchor refresher.
func (r *rig) buildEMAStages() error {
	calAlpha := ema.CalendarAlphaLookup{} // falls back to 2/(effective_days+1)

	for _, stage := range r.barStages {
		tf, ok := r.registry.Get(stage.Name)
		if !ok {
			return fmt.Errorf("wiring: bar stage %q missing from registry", stage.Name)
		}
		barRepo := r.barRepos[stage.Builder.Table()]

		switch {
		case !tf.IsCalendar():
			tfDays := 1
			if tf.TFDays != nil {
				tfDays = *tf.TFDays
			}
			for _, v := range []ema.Variant{ema.VariantTFDayBarSpace, ema.VariantTFDayDailySpace} {
				repo := r.emaRepo(v)
				tracker := r.emaTracker(v, ema.TableFor(v))
				var refresher *ema.Refresher
				if v == ema.VariantTFDayBarSpace {
					refresher = ema.NewTFDayBarSpace(tf.TF, tfDays, ema.DefaultPeriods, barRepo, repo, tracker, r.log)
				} else {
					refresher = ema.NewTFDayDailySpace(tf.TF, tfDays, ema.DefaultPeriods, barRepo, repo, tracker, r.log)
				}
				r.emaStages = append(r.emaStages, orchestrator.EMAStage{
					Name: string(v) + ":" + tf.TF, Refresher: refresher, TF: tf.TF, BarStage: stage.Name,
				})
			}
		case tf.HasYearAnchor():
			v := ema.VariantCalAnchorUS
			if tf.Scheme == timeframe.SchemeISO {
				v = ema.VariantCalAnchorISO
			}
			repo := r.emaRepo(v)
			tracker := r.emaTracker(v, ema.TableFor(v))
			refresher := ema.NewCalendarAnchor(v, tf, ema.DefaultPeriods, barRepo, repo, tracker, r.log)
			r.emaStages = append(r.emaStages, orchestrator.EMAStage{Name: string(v) + ":" + tf.TF, Refresher: refresher, TF: tf.TF, BarStage: stage.Name})
		default:
			v := ema.VariantCalendarUS
			if tf.Scheme == timeframe.SchemeISO {
				v = ema.VariantCalendarISO
			}
			repo := r.emaRepo(v)
			tracker := r.emaTracker(v, ema.TableFor(v))
			refresher := ema.NewCalendar(v, tf, ema.DefaultPeriods, calAlpha, barRepo, repo, tracker, r.log)
			r.emaStages = append(r.emaStages, orchestrator.EMAStage{Name: string(v) + ":" + tf.TF, Refresher: refresher, TF: tf.TF, BarStage: stage.Name})
		}
	}
	return nil
}

func (r *rig) emaRepo(v ema.Variant) persistence.EMARepo {
	repo, ok := r.emaRepos[v]
	if !ok {
		repo = postgres.NewEMARepo(r.db, ema.TableFor(v), r.timeout)
		r.emaRepos[v] = repo
	}
	return repo
}

func (r *rig) emaTracker(v ema.Variant, table string) *state.Tracker {
	tracker, ok := r.emaTrackers[v]
	if !ok {
		tracker = state.NewTracker(r.watermarks, stateTable(table))
		r.emaTrackers[v] = tracker
	}
	return tracker
}

// buildFeatureRunners wires returns/volatility/technical over the
// canonical daily bar table and its bar-space EMA table. The returns
// reference period (21) and horizons (1, 3, 7, 30) are fixed here.
func (r *rig) buildFeatureRunners() {
	barTable := bars.TableFor(bars.Variant1D)
	barRepo := r.barRepos[barTable]
	emaRepo := r.emaRepo(ema.VariantTFDayBarSpace)
	tracker := state.NewTracker(r.watermarks, stateTable(barTable+"_features"))

	r.returnsStage = features.ReturnsRunner{
		TF: canonicalTF, ReferencePeriod: 21,
		Computer:  features.ReturnsComputer{Windows: []int{1, 3, 7, 30}, LogVariant: true},
		EMASource: emaRepo, Repo: r.returnsRepo, Tracker: tracker,
		MaxConcurrency: 8, Log: r.log,
	}
	r.volRunner = features.VolatilityRunner{
		TF: canonicalTF, Computer: features.VolatilityComputer{Windows: features.DefaultVolWindows, PeriodsPerYear: features.PeriodsPerYear("crypto")},
		Bars: barRepo, Repo: r.volRepo, Tracker: tracker, MaxConcurrency: 8, Log: r.log,
	}
	r.taRunner = features.TechnicalRunner{
		TF: canonicalTF, Computer: features.TechnicalComputer{Kits: features.DefaultIndicatorKits()},
		Bars: barRepo, Repo: r.taRepo, Tracker: tracker, MaxConcurrency: 8, Log: r.log,
	}
}

// buildRegimeEngine wires the regime labeler over the canonical daily bar
// table and its bar-space EMA periods. overlayPath may be empty.
func (r *rig) buildRegimeEngine(overlayPath string, noHysteresis bool) (*regime.Engine, error) {
	barTable := bars.TableFor(bars.Variant1D)
	source := regime.RepoSource{Bars: r.barRepos[barTable], EMAs: r.emaRepo(ema.VariantTFDayBarSpace), Periods: ema.DefaultPeriods}
	engine, err := regime.NewEngine(source, r.regimeRepo, overlayPath, r.log)
	if err != nil {
		return nil, fmt.Errorf("build regime engine: %w", err)
	}
	if noHysteresis {
		engine.SetMinHold(1)
	}
	return engine, nil
}

// buildSignalEngineAndStages wires the three generators, each run twice
// (regime-enabled and regime-disabled) against its own table for A/B
// comparison, unless noRegime suppresses the regime-enabled arm entirely.
func (r *rig) buildSignalEngineAndStages(noRegime bool) (*signal.Engine, []orchestrator.SignalStage) {
	engine := signal.NewEngine(r.regimeRepo, r.log)

	generators := []signal.Generator{
		signal.EMACrossover{Fast: 9, Slow: 21},
		signal.RSIMeanReversion{Key: "rsi_14", Oversold: 30, Overbought: 70},
		signal.ATRBreakout{Lookback: 14, Mult: 2.0},
	}

	var configs []signal.Config
	for _, g := range generators {
		if !noRegime {
			configs = append(configs, signal.Config{Generator: g, RegimeEnabled: true, Gate: signal.AllowAll})
		}
		configs = append(configs, signal.Config{Generator: g, RegimeEnabled: false, Gate: signal.AllowAll})
	}

	repoFor := func(name string) persistence.SignalRepo {
		return postgres.NewSignalRepo(r.db, "cmc_signals_"+name, r.timeout)
	}
	// every generator writes to its own table; Run is invoked once per
	// config against the table matching that config's generator.
	stages := make([]orchestrator.SignalStage, 0, len(generators))
	for _, g := range generators {
		var perGen []signal.Config
		for _, cfg := range configs {
			if cfg.Generator.Name() == g.Name() {
				perGen = append(perGen, cfg)
			}
		}
		stages = append(stages, orchestrator.SignalStage{
			TF: canonicalTF, Configs: perGen, Unified: r.unifiedRepo, Repo: repoFor(g.Name()),
		})
	}
	return engine, stages
}

// buildValidationStage wires the gap/outlier/cross-table checks over the
// canonical daily series, using an in-memory sqlite scratch store loaded
// from the same window for the cross-table consistency checks.
func (r *rig) buildValidationStage(ctx context.Context) (orchestrator.ValidationStage, *sqlite.Store, error) {
	scratch, err := sqlite.Open("", r.timeout)
	if err != nil {
		return orchestrator.ValidationStage{}, nil, fmt.Errorf("open scratch store: %w", err)
	}

	barTable := bars.TableFor(bars.Variant1D)
	return orchestrator.ValidationStage{
		TF: canonicalTF, Bars: r.barRepos[barTable], ExpectedDates: dailyExpectedDates,
		OutlierChecks: []orchestrator.NamedOutlierCheck{
			{
				Feature:   "ret_1d",
				Threshold: validate.OutlierThreshold{Feature: "ret_1d", Min: -features.ReturnsOutlierThreshold, Max: features.ReturnsOutlierThreshold},
				Values:    retOutlierValues(r.returnsRepo),
			},
			{
				Feature:   "vol_parkinson_20",
				Threshold: validate.OutlierThreshold{Feature: "vol_parkinson_20", Min: 0, Max: features.VolOutlierThreshold},
				Values:    volOutlierValues(r.volRepo),
			},
		},
		CrossTable: &validate.CrossTableChecker{Store: scratch, Tolerance: validate.DefaultCrossTableTolerance},
	}, scratch, nil
}

func dailyExpectedDates(from, to time.Time) []time.Time {
	if to.Before(from) {
		return nil
	}
	var out []time.Time
	d := time.Date(from.Year(), from.Month(), from.Day(), 0, 0, 0, 0, time.UTC)
	end := time.Date(to.Year(), to.Month(), to.Day(), 0, 0, 0, 0, time.UTC)
	for !d.After(end) {
		out = append(out, d)
		d = d.AddDate(0, 0, 1)
	}
	return out
}

func retOutlierValues(repo persistence.ReturnsRepo) func(ctx context.Context, id, tf string, tr persistence.TimeRange) ([]time.Time, []float64, error) {
	return func(ctx context.Context, id, tf string, tr persistence.TimeRange) ([]time.Time, []float64, error) {
		rows, err := repo.ListRange(ctx, id, tf, persistence.SeriesEMA, tr)
		if err != nil {
			return nil, nil, err
		}
		var ts []time.Time
		var vals []float64
		for _, row := range rows {
			if v := row.Returns[1]; v != nil {
				ts = append(ts, row.Timestamp)
				vals = append(vals, *v)
			}
		}
		return ts, vals, nil
	}
}

func volOutlierValues(repo persistence.VolRepo) func(ctx context.Context, id, tf string, tr persistence.TimeRange) ([]time.Time, []float64, error) {
	return func(ctx context.Context, id, tf string, tr persistence.TimeRange) ([]time.Time, []float64, error) {
		rows, err := repo.ListRange(ctx, id, tf, tr)
		if err != nil {
			return nil, nil, err
		}
		var ts []time.Time
		var vals []float64
		for _, row := range rows {
			windows, ok := row.Values[persistence.VolParkinson]
			if !ok {
				continue
			}
			if v := windows[20]; v != nil {
				ts = append(ts, row.Timestamp)
				vals = append(vals, *v)
			}
		}
		return ts, vals, nil
	}
}

// buildPipeline assembles every wired stage into a runnable orchestrator
// Pipeline, with a breaker per component and a shared dispatch limiter.
func (r *rig) buildPipeline(ctx context.Context, cfg runtimeConfig) (*orchestrator.Pipeline, *sqlite.Store, *prometheus.Registry, error) {
	promReg := prometheus.NewRegistry()
	metrics := orchestrator.NewMetrics(promReg)

	regimeEngine, err := r.buildRegimeEngine(cfg.overlayPath, cfg.noHysteresis)
	if err != nil {
		return nil, nil, nil, err
	}
	signalEngine, signalStages := r.buildSignalEngineAndStages(cfg.noRegime)
	validationStage, scratch, err := r.buildValidationStage(ctx)
	if err != nil {
		return nil, nil, nil, err
	}

	breakers := map[string]*orchestrator.TaskBreaker{
		"bars": orchestrator.NewTaskBreaker("bars"),
		"ema":  orchestrator.NewTaskBreaker("ema"),
	}
	for _, s := range r.barStages {
		breakers["bars:"+s.Name] = orchestrator.NewTaskBreaker("bars:" + s.Name)
	}
	breakers["unified"] = orchestrator.NewTaskBreaker("unified")
	breakers["regime"] = orchestrator.NewTaskBreaker("regime")
	breakers["signals"] = orchestrator.NewTaskBreaker("signals")

	returnsStages := []orchestrator.ReturnsStage{{Runner: &r.returnsStage, HasBarSpace: false}}

	pipeline := &orchestrator.Pipeline{
		BarStages:      r.barStages,
		EMAStages:      r.emaStages,
		ReturnsStages:  returnsStages,
		VolRunners:     []*features.VolatilityRunner{&r.volRunner},
		TARunners:      []*features.TechnicalRunner{&r.taRunner},
		Unified:        unified.NewStore(r.unifiedRepo, nil, r.log),
		UnifiedIDsFrom: r.barTrackers[bars.TableFor(bars.Variant1D)],
		Regime:         regimeEngine,
		RegimeTF:       canonicalTF,
		Signals:        signalEngine,
		SignalStages:   signalStages,
		Validation:     []orchestrator.ValidationStage{validationStage},
		Metrics:        metrics,
		Stages:         orchestrator.NewStageTracker(),
		Alerts:         orchestrator.AlertTransport{Endpoint: cfg.alertEndpoint, Log: r.log},
		Breakers:       breakers,
		Limiter:        rate.NewLimiter(rate.Limit(cfg.rateLimit), cfg.rateBurst),
		Progress:       orchestrator.NewProgressHub(r.log),
		MaxConcurrency: cfg.maxConcurrency,
		Log:            r.log,
	}
	return pipeline, scratch, promReg, nil
}

// resolveAllIDs delegates to price_histories for the known-id universe
// backing --all, the same collaborator bars.Source reads raw ticks from.
func (r *rig) resolveAllIDs(ctx context.Context) ([]string, error) {
	return postgres.ListKnownIDs(ctx, r.db, r.timeout)
}

func (r *rig) Close() error {
	return r.db.Close()
}
