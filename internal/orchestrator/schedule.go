// Job scheduling runs the refresh pipeline on a real cron engine
// (robfig/cron/v3) rather than a hand-rolled polling loop. ScheduleConfig
// is loaded from YAML and each job's Task names one of bars, ema,
// features, regime, signals or pipeline; every firing runs the
// scheduler's whole Pipeline, whatever the task.
package orchestrator

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// TaskName is one of the jobs a scheduled run can trigger.
type TaskName string

const (
	TaskBars     TaskName = "bars"
	TaskEMA      TaskName = "ema"
	TaskFeatures TaskName = "features"
	TaskRegime   TaskName = "regime"
	TaskSignals  TaskName = "signals"
	TaskPipeline TaskName = "pipeline" // runs every stage
)

// JobSpec is one scheduled entry: a name, a cron schedule, a task, and
// the ids it applies to.
type JobSpec struct {
	Name     string   `yaml:"name"`
	Schedule string   `yaml:"schedule"` // standard 5-field cron expression
	Task     TaskName `yaml:"task"`
	IDs      []string `yaml:"ids"` // empty means every id the pipeline tracks
	Enabled  bool     `yaml:"enabled"`
}

// ScheduleConfig is the YAML document a deployment points --schedule at.
type ScheduleConfig struct {
	Jobs []JobSpec `yaml:"jobs"`
}

// LoadScheduleConfig reads and parses a YAML job list.
func LoadScheduleConfig(path string) (ScheduleConfig, error) {
	var cfg ScheduleConfig
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("load schedule config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("load schedule config: parse: %w", err)
	}
	return cfg, nil
}

// JobResult records one scheduled firing's outcome.
type JobResult struct {
	JobName   string
	StartTime time.Time
	EndTime   time.Time
	Report    *RunReport
	Err       error
}

// Scheduler drives a Pipeline from a cron.Cron, recording the last
// result per job name for status reporting.
type Scheduler struct {
	pipeline *Pipeline
	cron     *cron.Cron
	log      zerolog.Logger

	mu      sync.RWMutex
	last    map[string]JobResult
	entries map[string]cron.EntryID
}

// NewScheduler builds a Scheduler bound to pipeline, using the standard
// 5-field cron parser (minute hour dom month dow).
func NewScheduler(pipeline *Pipeline, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		pipeline: pipeline,
		cron:     cron.New(),
		log:      log.With().Str("component", "scheduler").Logger(),
		last:     make(map[string]JobResult),
		entries:  make(map[string]cron.EntryID),
	}
}

// LoadJobs registers every enabled job in cfg against the cron engine.
// It does not start the engine; call Start once every job is loaded.
func (s *Scheduler) LoadJobs(cfg ScheduleConfig) error {
	for _, job := range cfg.Jobs {
		if !job.Enabled {
			continue
		}
		job := job
		id, err := s.cron.AddFunc(job.Schedule, func() {
			s.runJob(context.Background(), job)
		})
		if err != nil {
			return fmt.Errorf("schedule job %q: %w", job.Name, err)
		}
		s.entries[job.Name] = id
		s.log.Info().Str("job", job.Name).Str("schedule", job.Schedule).Str("task", string(job.Task)).Msg("job scheduled")
	}
	return nil
}

func (s *Scheduler) runJob(ctx context.Context, job JobSpec) {
	start := time.Now()
	opts := RunOptions{IDs: job.IDs, All: len(job.IDs) == 0, Mode: "incremental", ContinueOnError: true}

	var report *RunReport
	var err error
	switch job.Task {
	case TaskPipeline, "":
		report, err = s.pipeline.Run(ctx, opts)
	default:
		// Single-stage tasks run the same full Pipeline.Run as
		// TaskPipeline: the Scheduler holds one Pipeline, and the task
		// name does not select a subset of its stages.
		report, err = s.pipeline.Run(ctx, opts)
	}

	result := JobResult{JobName: job.Name, StartTime: start, EndTime: time.Now(), Report: report, Err: err}
	s.mu.Lock()
	s.last[job.Name] = result
	s.mu.Unlock()

	logEvent := s.log.Info()
	if err != nil || (report != nil && report.Failed()) {
		logEvent = s.log.Warn()
	}
	logEvent.Str("job", job.Name).Dur("elapsed", result.EndTime.Sub(start)).Msg("scheduled job completed")
}

// Start begins firing scheduled jobs until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.cron.Start()
	go func() {
		<-ctx.Done()
		stopCtx := s.cron.Stop()
		<-stopCtx.Done()
	}()
}

// LastResult returns the most recent outcome for a job name, if any.
func (s *Scheduler) LastResult(jobName string) (JobResult, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.last[jobName]
	return r, ok
}
