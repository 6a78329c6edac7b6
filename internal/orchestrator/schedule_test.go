package orchestrator

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadScheduleConfig_ParsesJobList(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "schedule.yaml")
	content := `
jobs:
  - name: nightly-bars
    schedule: "0 2 * * *"
    task: bars
    ids: ["BTC", "ETH"]
    enabled: true
  - name: disabled-job
    schedule: "0 3 * * *"
    task: ema
    enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadScheduleConfig(path)
	require.NoError(t, err)
	require.Len(t, cfg.Jobs, 2)
	assert.Equal(t, "nightly-bars", cfg.Jobs[0].Name)
	assert.Equal(t, TaskBars, cfg.Jobs[0].Task)
	assert.True(t, cfg.Jobs[0].Enabled)
	assert.False(t, cfg.Jobs[1].Enabled)
}

func TestLoadScheduleConfig_MissingFileReturnsError(t *testing.T) {
	_, err := LoadScheduleConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestScheduler_LoadJobs_SkipsDisabledEntries(t *testing.T) {
	pipeline := &Pipeline{}
	scheduler := NewScheduler(pipeline, zerolog.Nop())

	cfg := ScheduleConfig{Jobs: []JobSpec{
		{Name: "disabled", Schedule: "0 2 * * *", Task: TaskBars, Enabled: false},
	}}
	require.NoError(t, scheduler.LoadJobs(cfg))
	assert.Empty(t, scheduler.entries)
}

func TestScheduler_LoadJobs_RejectsInvalidCron(t *testing.T) {
	pipeline := &Pipeline{}
	scheduler := NewScheduler(pipeline, zerolog.Nop())

	cfg := ScheduleConfig{Jobs: []JobSpec{
		{Name: "bad", Schedule: "not-a-cron", Task: TaskBars, Enabled: true},
	}}
	assert.Error(t, scheduler.LoadJobs(cfg))
}

func TestScheduler_LastResult_UnknownJobIsNotOK(t *testing.T) {
	pipeline := &Pipeline{}
	scheduler := NewScheduler(pipeline, zerolog.Nop())
	_, ok := scheduler.LastResult("nope")
	assert.False(t, ok)
}
