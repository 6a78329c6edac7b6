// Package orchestrator implements the run driver that sequences bars,
// EMAs, features, the unified store, regimes, signals, and validation in
// dependency order (bars before EMAs before features before regimes
// before signals), fanning out per id within each phase with the same
// bounded worker-pool pattern bars.Builder and ema.Refresher already
// use, wrapped with a circuit breaker, a rate limiter, and
// Prometheus/latency instrumentation.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/sawpanic/barpipe/internal/bars"
	"github.com/sawpanic/barpipe/internal/ema"
	"github.com/sawpanic/barpipe/internal/features"
	"github.com/sawpanic/barpipe/internal/persistence"
	"github.com/sawpanic/barpipe/internal/regime"
	"github.com/sawpanic/barpipe/internal/signal"
	"github.com/sawpanic/barpipe/internal/state"
	"github.com/sawpanic/barpipe/internal/unified"
	"github.com/sawpanic/barpipe/internal/validate"
)

// TaskOutcome is one (phase, component, id) unit's result, the common
// currency every stage converts its own typed Result into.
type TaskOutcome struct {
	Phase        Phase
	Component    string
	ID           string
	RowsWritten  int
	RowsRejected int
	Err          error
}

// RunReport is the orchestrator's final accounting for one invocation.
type RunReport struct {
	RunID      uuid.UUID
	StartedAt  time.Time
	FinishedAt time.Time
	Outcomes   []TaskOutcome
	Validation *validate.Report
	Phases     map[Phase]PhaseMetrics
}

// Failed reports whether the run should be treated as unsuccessful:
// any per-id task error, or any critical validation finding. The
// validator is otherwise advisory; only critical findings gate the
// exit status.
func (r *RunReport) Failed() bool {
	for _, o := range r.Outcomes {
		if o.Err != nil {
			return true
		}
	}
	return r.Validation != nil && r.Validation.HasCritical()
}

// ExitCode maps Failed to the process exit code the CLI should return.
func (r *RunReport) ExitCode() int {
	if r.Failed() {
		return 1
	}
	return 0
}

// BarStage binds one bar-table variant's builder into the pipeline.
type BarStage struct {
	Name        string
	Builder     *bars.Builder
	HasBarSpace bool // true for calendar/calendar_anchor variants; Pipeline does not read it
}

// EMAStage binds one EMA table's refresher into the pipeline.
type EMAStage struct {
	Name       string
	Refresher  *ema.Refresher
	TF         string
	BarStage   string // name of the BarStage this EMA table is derived from
}

// ReturnsStage binds a returns runner to the bar-space flag its source
// EMA table carries (tf_day variants never populate ema_bar).
type ReturnsStage struct {
	Runner      *features.ReturnsRunner
	HasBarSpace bool
}

// SignalStage binds one timeframe's generator configs to the unified
// store they read from and the table they write to.
type SignalStage struct {
	TF      string
	Configs []signal.Config
	Unified persistence.UnifiedRepo
	Repo    persistence.SignalRepo
}

// ValidationStage binds the per-feature checks run after one id's
// refresh completes.
type ValidationStage struct {
	TF               string
	Bars             persistence.BarRepo
	ExpectedDates    validate.ExpectedDate
	OutlierChecks    []NamedOutlierCheck
	CrossTable       *validate.CrossTableChecker
}

// NamedOutlierCheck pairs a feature name with the threshold and value
// reader used to run validate.OutlierCheck against it.
type NamedOutlierCheck struct {
	Feature   string
	Threshold validate.OutlierThreshold
	Values    func(ctx context.Context, id, tf string, tr persistence.TimeRange) ([]time.Time, []float64, error)
}

// Pipeline wires every refresher together with the ambient instrumentation
// a production run needs: per-component circuit breakers, a shared
// dispatch rate limiter, Prometheus metrics, a latency StageTracker, and
// an optional alert transport for the validation report.
type Pipeline struct {
	BarStages      []BarStage
	EMAStages      []EMAStage
	ReturnsStages  []ReturnsStage
	VolRunners     []*features.VolatilityRunner
	TARunners      []*features.TechnicalRunner
	Unified        *unified.Store
	UnifiedIDsFrom *state.Tracker // source of ids when RunOptions.All is set
	Regime         *regime.Engine
	RegimeTF       string
	Signals        *signal.Engine
	SignalStages   []SignalStage
	Validation     []ValidationStage

	Metrics  *Metrics
	Stages   *StageTracker
	Alerts   AlertTransport
	Breakers map[string]*TaskBreaker
	Limiter  *rate.Limiter
	Progress *ProgressHub

	MaxConcurrency int
	Log            zerolog.Logger
}

// RunOptions controls one invocation's scope: which ids, which window,
// and which per-stage behaviour flags are active.
type RunOptions struct {
	IDs             []string
	All             bool
	Mode            bars.Mode
	Since           time.Time
	NoRegime        bool
	ContinueOnError bool
}

func (p *Pipeline) breaker(component string) *TaskBreaker {
	if p.Breakers == nil {
		return nil
	}
	return p.Breakers[component]
}

// dispatch runs work over ids with a bounded worker pool, the same
// semaphore+WaitGroup shape as ema.Refresher.RefreshAll and
// features.dispatch, adding breaker/limiter/metrics/latency composition
// common to every phase.
func (p *Pipeline) dispatch(ctx context.Context, phase Phase, component string, ids []string, work func(ctx context.Context, id string) (rowsWritten, rowsRejected int, err error)) []TaskOutcome {
	maxConcurrency := p.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}
	brk := p.breaker(component)
	sem := make(chan struct{}, maxConcurrency)
	outcomes := make([]TaskOutcome, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		select {
		case <-ctx.Done():
			outcomes[i] = TaskOutcome{Phase: phase, Component: component, ID: id, Err: ctx.Err()}
			continue
		default:
		}
		if p.Limiter != nil {
			if err := p.Limiter.Wait(ctx); err != nil {
				outcomes[i] = TaskOutcome{Phase: phase, Component: component, ID: id, Err: err}
				continue
			}
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, id string) {
			defer wg.Done()
			defer func() { <-sem }()

			start := time.Now()
			var written, rejected int
			var err error
			runner := func(ctx context.Context) error {
				var innerErr error
				written, rejected, innerErr = work(ctx, id)
				return innerErr
			}
			if brk != nil {
				err = brk.Run(ctx, runner)
			} else {
				err = runner(ctx)
			}
			dur := time.Since(start)
			if p.Stages != nil {
				p.Stages.Record(phase, dur)
			}
			if p.Metrics != nil {
				p.Metrics.Observe(component, dur, 0, rejected, written, err != nil)
			}
			out := TaskOutcome{Phase: phase, Component: component, ID: id, RowsWritten: written, RowsRejected: rejected, Err: err}
			outcomes[i] = out
			if p.Progress != nil {
				p.Progress.Broadcast(out)
			}
		}(i, id)
	}
	wg.Wait()
	return outcomes
}

// absorb folds a batch's already-produced per-id results into outcomes,
// for stages (ema.Refresher, features runners) that run their own
// internal worker pool and hand back a typed result slice rather than
// going through Pipeline.dispatch.
func absorb(phase Phase, component string, durPerItem time.Duration, tracker *StageTracker, metrics *Metrics, ids []string, written, rejected map[string]int, errs map[string]error) []TaskOutcome {
	return absorbProgress(phase, component, durPerItem, tracker, metrics, nil, ids, written, rejected, errs)
}

func absorbProgress(phase Phase, component string, durPerItem time.Duration, tracker *StageTracker, metrics *Metrics, progress *ProgressHub, ids []string, written, rejected map[string]int, errs map[string]error) []TaskOutcome {
	outcomes := make([]TaskOutcome, 0, len(ids))
	for _, id := range ids {
		err := errs[id]
		w, rj := written[id], rejected[id]
		if tracker != nil {
			tracker.Record(phase, durPerItem)
		}
		if metrics != nil {
			metrics.Observe(component, durPerItem, 0, rj, w, err != nil)
		}
		out := TaskOutcome{Phase: phase, Component: component, ID: id, RowsWritten: w, RowsRejected: rj, Err: err}
		if progress != nil {
			progress.Broadcast(out)
		}
		outcomes = append(outcomes, out)
	}
	return outcomes
}

func (p *Pipeline) runBarStage(ctx context.Context, stage BarStage, ids []string, mode bars.Mode) []TaskOutcome {
	component := "bars:" + stage.Name
	return p.dispatch(ctx, PhaseBars, component, ids, func(ctx context.Context, id string) (int, int, error) {
		res := stage.Builder.Refresh(ctx, id, mode)
		return res.RowsWritten, res.RowsRejected, res.Err
	})
}

func (p *Pipeline) runEMAStage(ctx context.Context, stage EMAStage, ids []string) []TaskOutcome {
	component := "ema:" + stage.Name
	timer := p.Stages.StartTimer(PhaseEMA)
	results := stage.Refresher.RefreshAll(ctx, ids)
	dur := timer.Stop()
	perItem := time.Duration(0)
	if len(results) > 0 {
		perItem = dur / time.Duration(len(results))
	}
	written := make(map[string]int, len(results))
	errs := make(map[string]error, len(results))
	for _, r := range results {
		written[r.ID] = r.RowsWritten
		if r.Err != nil {
			errs[r.ID] = r.Err
		}
	}
	return absorbProgress(PhaseEMA, component, perItem, nil, p.Metrics, p.Progress, ids, written, nil, errs)
}

func (p *Pipeline) runReturnsStage(ctx context.Context, stage ReturnsStage, ids []string) []TaskOutcome {
	timer := p.Stages.StartTimer(PhaseFeatures)
	results := stage.Runner.RefreshAll(ctx, ids, stage.HasBarSpace)
	dur := timer.Stop()
	return p.featureOutcomes("features:returns", dur, results)
}

func (p *Pipeline) runVolStage(ctx context.Context, runner *features.VolatilityRunner, ids []string) []TaskOutcome {
	timer := p.Stages.StartTimer(PhaseFeatures)
	results := runner.RefreshAll(ctx, ids)
	dur := timer.Stop()
	return p.featureOutcomes("features:volatility", dur, results)
}

func (p *Pipeline) runTAStage(ctx context.Context, runner *features.TechnicalRunner, ids []string) []TaskOutcome {
	timer := p.Stages.StartTimer(PhaseFeatures)
	results := runner.RefreshAll(ctx, ids)
	dur := timer.Stop()
	return p.featureOutcomes("features:technical", dur, results)
}

// featureOutcomes converts a batch result from a features runner's own
// internal worker pool into per-id TaskOutcomes, spreading the batch's
// measured wall time evenly across ids for metrics purposes since the
// runner doesn't report individual timings.
func (p *Pipeline) featureOutcomes(component string, dur time.Duration, results []features.IDResult) []TaskOutcome {
	perItem := time.Duration(0)
	if len(results) > 0 {
		perItem = dur / time.Duration(len(results))
	}
	outcomes := make([]TaskOutcome, len(results))
	for i, r := range results {
		if p.Metrics != nil {
			p.Metrics.Observe(component, perItem, 0, 0, r.RowsWritten, r.Err != nil)
		}
		out := TaskOutcome{Phase: PhaseFeatures, Component: component, ID: r.ID, RowsWritten: r.RowsWritten, Err: r.Err}
		if p.Progress != nil {
			p.Progress.Broadcast(out)
		}
		outcomes[i] = out
	}
	return outcomes
}

func (p *Pipeline) runUnifiedStage(ctx context.Context, ids []string, since time.Time) []TaskOutcome {
	return p.dispatch(ctx, PhaseUnified, "unified", ids, func(ctx context.Context, id string) (int, int, error) {
		row, err := p.Unified.Refresh(ctx, id, since)
		if err != nil {
			return 0, 0, err
		}
		written := 0
		if !row.Timestamp.IsZero() {
			written = 1
		}
		return written, 0, nil
	})
}

func (p *Pipeline) runRegimeStage(ctx context.Context, ids []string, tr persistence.TimeRange) []TaskOutcome {
	return p.dispatch(ctx, PhaseRegime, "regime", ids, func(ctx context.Context, id string) (int, int, error) {
		if err := p.Regime.Run(ctx, id, p.RegimeTF, tr); err != nil {
			return 0, 0, err
		}
		return 1, 0, nil
	})
}

func (p *Pipeline) runSignalStage(ctx context.Context, stage SignalStage, ids []string, since time.Time) []TaskOutcome {
	return p.dispatch(ctx, PhaseSignals, "signals", ids, func(ctx context.Context, id string) (int, int, error) {
		rows, err := stage.Unified.ListRange(ctx, id, persistence.TimeRange{From: since, To: time.Now().UTC()})
		if err != nil {
			return 0, 0, fmt.Errorf("load unified rows: %w", err)
		}
		total := 0
		for _, cfg := range stage.Configs {
			n, err := p.Signals.Run(ctx, id, stage.TF, cfg, rows, stage.Repo)
			total += n
			if err != nil {
				return total, 0, fmt.Errorf("generator %s: %w", cfg.Generator.Name(), err)
			}
		}
		return total, 0, nil
	})
}

func (p *Pipeline) runValidationStage(ctx context.Context, stage ValidationStage, ids []string, tr persistence.TimeRange) []validate.Finding {
	timer := p.Stages.StartTimer(PhaseValidate)
	defer timer.Stop()

	var findings []validate.Finding
	for _, id := range ids {
		actual, err := stage.Bars.ListRange(ctx, id, stage.TF, tr)
		if err != nil {
			findings = append(findings, validate.Finding{Check: "gap", ID: id, TF: stage.TF, Severity: validate.SeverityWarning, Message: fmt.Sprintf("could not load bars for gap check: %v", err)})
			continue
		}
		if f := validate.GapCheck(id, stage.TF, stage.ExpectedDates, actual, tr.From, tr.To); f != nil {
			findings = append(findings, *f)
		}
		for _, oc := range stage.OutlierChecks {
			ts, values, err := oc.Values(ctx, id, stage.TF, tr)
			if err != nil {
				continue
			}
			if f := validate.OutlierCheck(id, stage.TF, oc.Threshold, ts, values); f != nil {
				findings = append(findings, *f)
			}
		}
	}
	if stage.CrossTable != nil {
		ctFindings, err := stage.CrossTable.Run(ctx)
		if err != nil {
			findings = append(findings, validate.Finding{Check: "cross_table", Severity: validate.SeverityWarning, Message: fmt.Sprintf("cross-table check failed to run: %v", err)})
		} else {
			findings = append(findings, ctFindings...)
		}
	}
	return findings
}

// resolveIDs returns the id set a run should cover: opts.IDs verbatim,
// or every id UnifiedIDsFrom has ever seen a watermark for when opts.All.
func (p *Pipeline) resolveIDs(ctx context.Context, opts RunOptions) ([]string, error) {
	if !opts.All {
		return opts.IDs, nil
	}
	if p.UnifiedIDsFrom == nil {
		return nil, fmt.Errorf("resolve ids: --all requires UnifiedIDsFrom")
	}
	tf := ""
	if len(p.EMAStages) > 0 {
		tf = p.EMAStages[0].TF
	}
	ids, err := p.UnifiedIDsFrom.Ids(ctx, tf)
	if err != nil {
		return nil, fmt.Errorf("resolve ids: %w", err)
	}
	return ids, nil
}

// Run executes every configured stage in dependency order: bars, then
// EMAs, then features (returns/vol/TA run concurrently with each other
// since they're mutually independent), then the unified store, then
// regimes, then signals, then validation. A dry-run stops after the bar
// stages.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) (*RunReport, error) {
	report := &RunReport{RunID: uuid.New(), StartedAt: time.Now()}
	p.Log.Info().Str("run_id", report.RunID.String()).Strs("ids", opts.IDs).Bool("all", opts.All).Msg("run started")
	ids, err := p.resolveIDs(ctx, opts)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		report.FinishedAt = time.Now()
		return report, nil
	}

	for _, stage := range p.BarStages {
		report.Outcomes = append(report.Outcomes, p.runBarStage(ctx, stage, ids, opts.Mode)...)
		if !opts.ContinueOnError && report.Failed() {
			return p.finish(report), nil
		}
	}
	if opts.Mode == bars.ModeDryRun {
		p.Log.Info().Str("run_id", report.RunID.String()).Msg("dry-run: skipping stages after bars")
		return p.finish(report), nil
	}
	for _, stage := range p.EMAStages {
		report.Outcomes = append(report.Outcomes, p.runEMAStage(ctx, stage, ids)...)
		if !opts.ContinueOnError && report.Failed() {
			return p.finish(report), nil
		}
	}

	var phaseAWG sync.WaitGroup
	var phaseAMu sync.Mutex
	phaseAWG.Add(len(p.ReturnsStages) + len(p.VolRunners) + len(p.TARunners))
	for _, stage := range p.ReturnsStages {
		stage := stage
		go func() {
			defer phaseAWG.Done()
			out := p.runReturnsStage(ctx, stage, ids)
			phaseAMu.Lock()
			report.Outcomes = append(report.Outcomes, out...)
			phaseAMu.Unlock()
		}()
	}
	for _, runner := range p.VolRunners {
		runner := runner
		go func() {
			defer phaseAWG.Done()
			out := p.runVolStage(ctx, runner, ids)
			phaseAMu.Lock()
			report.Outcomes = append(report.Outcomes, out...)
			phaseAMu.Unlock()
		}()
	}
	for _, runner := range p.TARunners {
		runner := runner
		go func() {
			defer phaseAWG.Done()
			out := p.runTAStage(ctx, runner, ids)
			phaseAMu.Lock()
			report.Outcomes = append(report.Outcomes, out...)
			phaseAMu.Unlock()
		}()
	}
	phaseAWG.Wait()
	if !opts.ContinueOnError && report.Failed() {
		return p.finish(report), nil
	}

	since := opts.Since
	report.Outcomes = append(report.Outcomes, p.runUnifiedStage(ctx, ids, since)...)
	if !opts.ContinueOnError && report.Failed() {
		return p.finish(report), nil
	}

	tr := persistence.TimeRange{From: since, To: time.Now().UTC()}
	if !opts.NoRegime && p.Regime != nil {
		report.Outcomes = append(report.Outcomes, p.runRegimeStage(ctx, ids, tr)...)
		if !opts.ContinueOnError && report.Failed() {
			return p.finish(report), nil
		}
	}

	for _, stage := range p.SignalStages {
		report.Outcomes = append(report.Outcomes, p.runSignalStage(ctx, stage, ids, since)...)
	}

	validation := &validate.Report{}
	for _, stage := range p.Validation {
		validation.AddAll(p.runValidationStage(ctx, stage, ids, tr))
	}
	report.Validation = validation

	_ = p.Alerts.Emit(ctx, validation)

	return p.finish(report), nil
}

func (p *Pipeline) finish(report *RunReport) *RunReport {
	report.FinishedAt = time.Now()
	if p.Stages != nil {
		report.Phases = p.Stages.AllMetrics()
	}
	if p.Metrics != nil {
		p.Metrics.RunsTotal.Inc()
		if report.Failed() {
			p.Metrics.LastRunSuccess.Set(0)
		} else {
			p.Metrics.LastRunSuccess.Set(1)
		}
	}
	p.Log.Info().Str("run_id", report.RunID.String()).Dur("elapsed", report.FinishedAt.Sub(report.StartedAt)).Bool("failed", report.Failed()).Msg("run finished")
	return report
}
