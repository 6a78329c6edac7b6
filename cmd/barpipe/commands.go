package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/barpipe/internal/bars"
	loglib "github.com/sawpanic/barpipe/internal/log"
	"github.com/sawpanic/barpipe/internal/orchestrator"
	"github.com/sawpanic/barpipe/internal/persistence"
	"github.com/sawpanic/barpipe/internal/unified"
	"github.com/sawpanic/barpipe/internal/validate"
)

// resolveIDs turns --ids/--all into a concrete id list, the same
// contract every refresh subcommand shares with pipeline.Run.
func resolveIDs(ctx context.Context, r *rig, cfg *runtimeConfig) ([]string, error) {
	if cfg.all {
		return r.resolveAllIDs(ctx)
	}
	if len(cfg.ids) == 0 {
		return nil, fmt.Errorf("either --ids or --all is required")
	}
	return cfg.ids, nil
}

func barMode(cfg *runtimeConfig) bars.Mode {
	switch {
	case cfg.dryRun:
		return bars.ModeDryRun
	case cfg.fullRefresh:
		return bars.ModeFull
	default:
		return bars.ModeIncremental
	}
}

func newBarsCmd(cfg *runtimeConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bars",
		Short: "Refresh OHLCV bar tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := parseWindowFlags(cfg); err != nil {
				return err
			}
			ctx := cmd.Context()
			r, err := newRig(ctx, cfg.dsn, cfg.redisAddr, cfg.queryTimeout, log.Logger)
			if err != nil {
				return err
			}
			defer r.Close()

			ids, err := resolveIDs(ctx, r, cfg)
			if err != nil {
				return err
			}
			mode := barMode(cfg)

			steps := make([]string, 0, len(r.barStages))
			for _, s := range r.barStages {
				steps = append(steps, s.Name)
			}
			sl := loglib.NewStepLogger("bars refresh", steps)

			failed := 0
			for _, stage := range r.barStages {
				sl.StartStep(stage.Name)
				for _, id := range ids {
					res := stage.Builder.Refresh(ctx, id, mode)
					if res.Err != nil {
						failed++
						log.Error().Str("tf", stage.Name).Str("id", id).Err(res.Err).Msg("bar refresh failed")
						continue
					}
					log.Info().Str("tf", stage.Name).Str("id", id).
						Int("written", res.RowsWritten).Int("rejected", res.RowsRejected).
						Bool("backfilled", res.Backfilled).Msg("bar refresh")
				}
				if cfg.fullRefresh && !cfg.dryRun {
					for _, id := range ids {
						if err := r.barTrackers[stage.Builder.Table()].Reset(ctx, id, stage.Name, nil); err != nil {
							log.Warn().Err(err).Str("tf", stage.Name).Str("id", id).Msg("watermark reset failed")
						}
					}
				}
				sl.CompleteStep()
			}
			sl.Finish()
			if failed > 0 {
				return fmt.Errorf("%d bar refresh failures", failed)
			}
			return nil
		},
	}
	bindRefreshFlags(cmd, cfg)
	return cmd
}

func newEMACmd(cfg *runtimeConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ema",
		Short: "Refresh EMA tables from their bound bar tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := parseWindowFlags(cfg); err != nil {
				return err
			}
			ctx := cmd.Context()
			r, err := newRig(ctx, cfg.dsn, cfg.redisAddr, cfg.queryTimeout, log.Logger)
			if err != nil {
				return err
			}
			defer r.Close()

			ids, err := resolveIDs(ctx, r, cfg)
			if err != nil {
				return err
			}

			if cfg.fullRefresh {
				log.Warn().Msg("--full-refresh on ema relies on each refresher's own watermark; no separate reset needed")
			}
			failed := 0
			for _, stage := range r.emaStages {
				if cfg.dryRun {
					log.Info().Str("variant", stage.Name).Msg("dry-run: skipping ema refresh")
					continue
				}
				results := stage.Refresher.RefreshAll(ctx, ids)
				for _, res := range results {
					if res.Err != nil {
						failed++
						log.Error().Str("variant", stage.Name).Str("id", res.ID).Err(res.Err).Msg("ema refresh failed")
						continue
					}
					log.Info().Str("variant", stage.Name).Str("id", res.ID).Int("written", res.RowsWritten).Msg("ema refresh")
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d ema refresh failures", failed)
			}
			return nil
		},
	}
	bindRefreshFlags(cmd, cfg)
	return cmd
}

func newFeaturesCmd(cfg *runtimeConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "features",
		Short: "Refresh returns, volatility, and technical indicator tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := parseWindowFlags(cfg); err != nil {
				return err
			}
			ctx := cmd.Context()
			r, err := newRig(ctx, cfg.dsn, cfg.redisAddr, cfg.queryTimeout, log.Logger)
			if err != nil {
				return err
			}
			defer r.Close()

			ids, err := resolveIDs(ctx, r, cfg)
			if err != nil {
				return err
			}
			if cfg.dryRun {
				log.Info().Msg("dry-run: skipping features refresh")
				return nil
			}

			failed := 0
			for _, res := range r.returnsStage.RefreshAll(ctx, ids, false) {
				if res.Err != nil {
					failed++
					log.Error().Str("component", "returns").Str("id", res.ID).Err(res.Err).Msg("features refresh failed")
					continue
				}
				log.Info().Str("component", "returns").Str("id", res.ID).Int("written", res.RowsWritten).Msg("features refresh")
			}
			for _, res := range r.volRunner.RefreshAll(ctx, ids) {
				if res.Err != nil {
					failed++
					log.Error().Str("component", "volatility").Str("id", res.ID).Err(res.Err).Msg("features refresh failed")
					continue
				}
				log.Info().Str("component", "volatility").Str("id", res.ID).Int("written", res.RowsWritten).Msg("features refresh")
			}
			for _, res := range r.taRunner.RefreshAll(ctx, ids) {
				if res.Err != nil {
					failed++
					log.Error().Str("component", "technical").Str("id", res.ID).Err(res.Err).Msg("features refresh failed")
					continue
				}
				log.Info().Str("component", "technical").Str("id", res.ID).Int("written", res.RowsWritten).Msg("features refresh")
			}
			if cfg.fullRefresh {
				log.Warn().Msg("--full-refresh on features relies on each runner's own watermark; no separate reset needed")
			}
			if failed > 0 {
				return fmt.Errorf("%d feature refresh failures", failed)
			}
			return nil
		},
	}
	bindRefreshFlags(cmd, cfg)
	return cmd
}

func newRegimeCmd(cfg *runtimeConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "regime",
		Short: "Classify regimes and detect flips over the canonical daily series",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := parseWindowFlags(cfg); err != nil {
				return err
			}
			ctx := cmd.Context()
			r, err := newRig(ctx, cfg.dsn, cfg.redisAddr, cfg.queryTimeout, log.Logger)
			if err != nil {
				return err
			}
			defer r.Close()

			ids, err := resolveIDs(ctx, r, cfg)
			if err != nil {
				return err
			}
			if cfg.dryRun {
				log.Info().Msg("dry-run: skipping regime classification")
				return nil
			}

			engine, err := r.buildRegimeEngine(cfg.overlayPath, cfg.noHysteresis)
			if err != nil {
				return err
			}
			tr := persistence.TimeRange{From: cfg.start, To: cfg.end}
			errs := engine.RunAll(ctx, ids, canonicalTF, tr)
			for id, e := range errs {
				log.Error().Str("id", id).Err(e).Msg("regime run failed")
			}
			if len(errs) > 0 {
				return fmt.Errorf("%d regime failures", len(errs))
			}
			return nil
		},
	}
	bindRefreshFlags(cmd, cfg)
	cmd.Flags().BoolVar(&cfg.noHysteresis, "no-hysteresis", false, "commit every classification immediately, bypassing the min-hold tracker")
	return cmd
}

func newSignalCmd(cfg *runtimeConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signal",
		Short: "Generate signal candidates from the unified feature store",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := parseWindowFlags(cfg); err != nil {
				return err
			}
			ctx := cmd.Context()
			r, err := newRig(ctx, cfg.dsn, cfg.redisAddr, cfg.queryTimeout, log.Logger)
			if err != nil {
				return err
			}
			defer r.Close()

			ids, err := resolveIDs(ctx, r, cfg)
			if err != nil {
				return err
			}
			if cfg.dryRun {
				log.Info().Msg("dry-run: skipping signal generation")
				return nil
			}

			engine, stages := r.buildSignalEngineAndStages(cfg.noRegime)
			tr := persistence.TimeRange{From: cfg.start, To: cfg.end}

			failed := 0
			for _, stage := range stages {
				for _, id := range ids {
					rows, err := stage.Unified.ListRange(ctx, id, tr)
					if err != nil {
						failed++
						log.Error().Str("id", id).Err(err).Msg("signal: load unified rows failed")
						continue
					}
					for _, c := range stage.Configs {
						n, err := engine.Run(ctx, id, stage.TF, c, rows, stage.Repo)
						if err != nil {
							failed++
							log.Error().Str("id", id).Str("generator", c.Generator.Name()).Err(err).Msg("signal run failed")
							continue
						}
						log.Info().Str("id", id).Str("generator", c.Generator.Name()).
							Bool("regime_enabled", c.RegimeEnabled).Int("written", n).Msg("signal run")
					}
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d signal failures", failed)
			}
			return nil
		},
	}
	bindRefreshFlags(cmd, cfg)
	cmd.Flags().BoolVar(&cfg.noRegime, "no-regime", false, "suppress the regime-gated arm, running only the regime-disabled baseline")
	return cmd
}

func newUnifiedCmd(cfg *runtimeConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "unified",
		Short: "Refresh the materialised daily feature store",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := parseWindowFlags(cfg); err != nil {
				return err
			}
			ctx := cmd.Context()
			r, err := newRig(ctx, cfg.dsn, cfg.redisAddr, cfg.queryTimeout, log.Logger)
			if err != nil {
				return err
			}
			defer r.Close()

			ids, err := resolveIDs(ctx, r, cfg)
			if err != nil {
				return err
			}
			if cfg.dryRun {
				log.Info().Msg("dry-run: skipping unified refresh")
				return nil
			}

			from := cfg.start
			if cfg.fullRefresh {
				from = time.Time{}
			}
			store := unified.NewStore(r.unifiedRepo, nil, log.Logger)
			runErrs := store.RefreshAll(ctx, ids, from)
			for id, e := range runErrs {
				log.Error().Str("id", id).Err(e).Msg("unified refresh failed")
			}
			if len(runErrs) > 0 {
				return fmt.Errorf("%d unified refresh failures", len(runErrs))
			}
			return nil
		},
	}
	bindRefreshFlags(cmd, cfg)
	return cmd
}

func newValidateCmd(cfg *runtimeConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Run gap/outlier/cross-table/null-ratio checks over the canonical series",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := parseWindowFlags(cfg); err != nil {
				return err
			}
			ctx := cmd.Context()
			r, err := newRig(ctx, cfg.dsn, cfg.redisAddr, cfg.queryTimeout, log.Logger)
			if err != nil {
				return err
			}
			defer r.Close()

			ids, err := resolveIDs(ctx, r, cfg)
			if err != nil {
				return err
			}

			stage, scratch, err := r.buildValidationStage(ctx)
			if err != nil {
				return err
			}
			defer scratch.Close()

			tr := persistence.TimeRange{From: cfg.start, To: cfg.end}
			report := &validate.Report{}
			for _, id := range ids {
				actual, err := stage.Bars.ListRange(ctx, id, stage.TF, tr)
				if err != nil {
					log.Error().Str("id", id).Err(err).Msg("validate: load bars failed")
					continue
				}
				if f := validate.GapCheck(id, stage.TF, stage.ExpectedDates, actual, tr.From, tr.To); f != nil {
					report.Add(f)
				}
				for _, oc := range stage.OutlierChecks {
					ts, values, err := oc.Values(ctx, id, stage.TF, tr)
					if err != nil {
						continue
					}
					if f := validate.OutlierCheck(id, stage.TF, oc.Threshold, ts, values); f != nil {
						report.Add(f)
					}
				}
			}
			if stage.CrossTable != nil {
				ctFindings, err := stage.CrossTable.Run(ctx)
				if err != nil {
					log.Error().Err(err).Msg("validate: cross-table check failed to run")
				} else {
					report.AddAll(ctFindings)
				}
			}
			for _, f := range report.Findings {
				switch f.Severity {
				case validate.SeverityCritical:
					log.Error().Str("check", f.Check).Str("id", f.ID).Msg(f.Message)
				default:
					log.Warn().Str("check", f.Check).Str("id", f.ID).Msg(f.Message)
				}
			}
			if report.HasCritical() {
				return fmt.Errorf("validation found critical findings")
			}
			return nil
		},
	}
	bindRefreshFlags(cmd, cfg)
	return cmd
}

func newPipelineCmd(cfg *runtimeConfig) *cobra.Command {
	root := &cobra.Command{
		Use:   "pipeline",
		Short: "Run or schedule the full bars->ema->features->unified->regime->signals->validate sequence",
	}
	root.AddCommand(newPipelineRunCmd(cfg), newPipelineScheduleCmd(cfg))
	return root
}

func newPipelineRunCmd(cfg *runtimeConfig) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline once",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := parseWindowFlags(cfg); err != nil {
				return err
			}
			ctx := cmd.Context()
			r, err := newRig(ctx, cfg.dsn, cfg.redisAddr, cfg.queryTimeout, log.Logger)
			if err != nil {
				return err
			}
			defer r.Close()

			pipeline, scratch, promReg, err := r.buildPipeline(ctx, *cfg)
			if err != nil {
				return err
			}
			defer scratch.Close()

			if cfg.metricsAddr != "" {
				srv := orchestrator.NewServer(cfg.metricsAddr, promReg, pipeline.Progress, log.Logger)
				go func() {
					if err := srv.Start(ctx); err != nil {
						log.Warn().Err(err).Msg("metrics server stopped")
					}
				}()
			}

			spinner := loglib.NewSpinner(loglib.SpinnerDots)
			spinner.Start()

			opts := orchestrator.RunOptions{
				IDs: cfg.ids, All: cfg.all, Mode: barMode(cfg),
				Since: cfg.start, NoRegime: cfg.noRegime, ContinueOnError: cfg.continueOnError,
			}
			report, err := pipeline.Run(ctx, opts)
			spinner.Stop()
			if err != nil {
				return err
			}

			log.Info().Int("outcomes", len(report.Outcomes)).Msg("pipeline run complete")
			if report.Validation != nil && report.Validation.HasCritical() {
				log.Error().Msg("pipeline run found critical validation findings")
			}
			if code := report.ExitCode(); code != 0 {
				return fmt.Errorf("pipeline run finished with exit code %d", code)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&cfg.ids, "ids", nil, "comma-separated asset ids to refresh")
	cmd.Flags().BoolVar(&cfg.all, "all", false, "refresh every id price_histories has ever seen")
	cmd.Flags().StringVar(&startFlag, "start", "", "restrict refresh to bars at/after this RFC3339 timestamp")
	cmd.Flags().StringVar(&endFlag, "end", "", "restrict refresh to bars before this RFC3339 timestamp")
	cmd.Flags().BoolVar(&cfg.fullRefresh, "full-refresh", false, "ignore watermark state and recompute")
	cmd.Flags().BoolVar(&cfg.dryRun, "dry-run", false, "do everything except writes and state updates")
	cmd.Flags().BoolVar(&cfg.noRegime, "no-regime", false, "skip the regime phase entirely")
	cmd.Flags().BoolVar(&cfg.continueOnError, "continue-on-error", false, "keep running later phases after a phase reports failures")
	return cmd
}

func newPipelineScheduleCmd(cfg *runtimeConfig) *cobra.Command {
	var cronPath string
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the pipeline on a cron schedule loaded from a YAML config",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			r, err := newRig(ctx, cfg.dsn, cfg.redisAddr, cfg.queryTimeout, log.Logger)
			if err != nil {
				return err
			}
			defer r.Close()

			pipeline, scratch, promReg, err := r.buildPipeline(ctx, *cfg)
			if err != nil {
				return err
			}
			defer scratch.Close()

			if cfg.metricsAddr != "" {
				srv := orchestrator.NewServer(cfg.metricsAddr, promReg, pipeline.Progress, log.Logger)
				go func() {
					if err := srv.Start(ctx); err != nil {
						log.Warn().Err(err).Msg("metrics server stopped")
					}
				}()
			}

			schedCfg, err := orchestrator.LoadScheduleConfig(cronPath)
			if err != nil {
				return err
			}
			scheduler := orchestrator.NewScheduler(pipeline, log.Logger)
			if err := scheduler.LoadJobs(schedCfg); err != nil {
				return err
			}
			scheduler.Start(ctx)
			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&cronPath, "config", "", "path to the schedule YAML config")
	cmd.MarkFlagRequired("config")
	return cmd
}
