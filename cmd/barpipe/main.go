package main

import (
	"os"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

const (
	appName = "barpipe"
	version = "v0.1.0"
)

// runtimeConfig collects the flags shared across every refresh-style
// subcommand, plus the handful of pipeline-only knobs.
type runtimeConfig struct {
	dsn            string
	redisAddr      string
	queryTimeout   time.Duration
	maxConcurrency int
	rateLimit      float64
	rateBurst      int
	overlayPath    string
	alertEndpoint  string
	metricsAddr    string

	ids             []string
	all             bool
	start, end      time.Time
	fullRefresh     bool
	dryRun          bool
	noHysteresis    bool
	noRegime        bool
	continueOnError bool
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg(".env load failed, continuing with process environment")
	}

	cfg := &runtimeConfig{}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Bar/EMA/feature/regime/signal refresh pipeline for crypto price histories",
		Version: version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, _ := cmd.Flags().GetString("log-level")
			parsed, err := zerolog.ParseLevel(level)
			if err != nil {
				return err
			}
			zerolog.SetGlobalLevel(parsed)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&cfg.dsn, "dsn", os.Getenv("PG_DSN"), "PostgreSQL connection string (env PG_DSN)")
	rootCmd.PersistentFlags().StringVar(&cfg.redisAddr, "redis-addr", os.Getenv("REDIS_ADDR"), "optional Redis address fronting watermark reads (env REDIS_ADDR)")
	rootCmd.PersistentFlags().DurationVar(&cfg.queryTimeout, "query-timeout", 30*time.Second, "per-query timeout")
	rootCmd.PersistentFlags().IntVar(&cfg.maxConcurrency, "max-concurrency", 8, "per-phase worker pool size")
	rootCmd.PersistentFlags().Float64Var(&cfg.rateLimit, "rate-limit", 50, "dispatch rate limit, tasks/sec")
	rootCmd.PersistentFlags().IntVar(&cfg.rateBurst, "rate-burst", 50, "dispatch rate limit burst")
	rootCmd.PersistentFlags().StringVar(&cfg.overlayPath, "regime-overlay", "", "optional regime policy overlay YAML path")
	rootCmd.PersistentFlags().StringVar(&cfg.alertEndpoint, "alert-endpoint", "", "optional HTTP endpoint for validator findings (absence logs only)")
	rootCmd.PersistentFlags().StringVar(&cfg.metricsAddr, "metrics-addr", "", "optional listen address for /metrics and /healthz during pipeline run/schedule")
	rootCmd.PersistentFlags().String("log-level", "info", "log verbosity (debug|info|warn|error)")

	rootCmd.AddCommand(
		newBarsCmd(cfg),
		newEMACmd(cfg),
		newFeaturesCmd(cfg),
		newRegimeCmd(cfg),
		newSignalCmd(cfg),
		newUnifiedCmd(cfg),
		newValidateCmd(cfg),
		newPipelineCmd(cfg),
	)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// bindRefreshFlags attaches the common --ids/--all/--start/--end/
// --full-refresh/--dry-run surface to one subcommand.
func bindRefreshFlags(cmd *cobra.Command, cfg *runtimeConfig) {
	cmd.Flags().StringSliceVar(&cfg.ids, "ids", nil, "comma-separated asset ids to refresh")
	cmd.Flags().BoolVar(&cfg.all, "all", false, "refresh every id price_histories has ever seen")
	cmd.Flags().StringVar(&startFlag, "start", "", "restrict refresh to bars at/after this RFC3339 timestamp")
	cmd.Flags().StringVar(&endFlag, "end", "", "restrict refresh to bars before this RFC3339 timestamp")
	cmd.Flags().BoolVar(&cfg.fullRefresh, "full-refresh", false, "ignore watermark state and recompute, resetting state at end")
	cmd.Flags().BoolVar(&cfg.dryRun, "dry-run", false, "do everything except writes and state updates")
}

// startFlag/endFlag are parsed from their raw string form in
// parseWindowFlags since cobra has no native time.Time flag type.
var startFlag, endFlag string

func parseWindowFlags(cfg *runtimeConfig) error {
	if startFlag != "" {
		t, err := time.Parse(time.RFC3339, startFlag)
		if err != nil {
			return err
		}
		cfg.start = t
	}
	if endFlag != "" {
		t, err := time.Parse(time.RFC3339, endFlag)
		if err != nil {
			return err
		}
		cfg.end = t
	} else {
		cfg.end = time.Now().UTC()
	}
	return nil
}
