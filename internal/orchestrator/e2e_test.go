//go:build !windows

package orchestrator

import (
	"context"
	"os/exec"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/nfwatch/internal/models"
)

func requireEngine(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping engine test in short mode")
	}
	bin, err := exec.LookPath("nextflow")
	if err != nil {
		t.Skip("nextflow not on PATH")
	}
	return bin
}

func realPipeline(t *testing.T, count string) *models.Pipeline {
	t.Helper()
	dir, err := filepath.Abs(filepath.Join("testdata", "pipeline"))
	require.NoError(t, err)
	return &models.Pipeline{
		Name:    "e2e",
		Path:    filepath.Join(dir, "main.nf"),
		Configs: []string{filepath.Join(dir, "pipeline.config")},
		Params: models.Params{
			{Key: "input", Value: filepath.Join(dir, "files", "data.txt")},
			{Key: "count", Value: count},
			{Key: "suffix", Value: filepath.Join(dir, "files", "suffix.txt")},
		},
	}
}

func newEngineOrchestrator(t *testing.T, bin string) *Orchestrator {
	return New(nil, Options{
		Binary:       bin,
		RunsDir:      t.TempDir(),
		StartupGrace: 10 * time.Second,
		PollInterval: time.Second,
	})
}

func runToEnd(t *testing.T, o *Orchestrator, exec *models.Execution) *models.Execution {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()
	var last *models.Execution
	for snap, err := range o.Poll(exec).All(ctx) {
		require.NoError(t, err)
		last = snap
	}
	return last
}

func TestEngineRunsPipeline(t *testing.T) {
	bin := requireEngine(t)
	o := newEngineOrchestrator(t, bin)

	exec, err := o.Launch(context.Background(), realPipeline(t, "12"), LaunchOptions{})
	require.NoError(t, err)
	final := runToEnd(t, o, exec)

	assert.Equal(t, models.ExecStatusOK, final.Status)
	require.NotNil(t, final.ReturnCode)
	assert.Equal(t, 0, *final.ReturnCode)
	assert.Regexp(t, regexp.MustCompile(`^[a-z]+_[a-z]+$`), final.ID)
	assert.Contains(t, final.Stdout, "N E X T F L O W")
	assert.Contains(t, final.Log, "Execution complete -- Goodbye")
	require.Equal(t, 8, final.TaskCount())

	split, ok := final.TaskByName("SPLIT_FILE")
	require.True(t, ok)
	assert.Equal(t, models.TaskStatusCompleted, split.Status)
	assert.Equal(t, "0", split.Exit)
	assert.Equal(t, "Splitting...\n", split.Stdout)
	assert.Positive(t, split.Duration)

	dup, ok := final.TaskByName("PROCESS_DATA:DUPLICATE_AND_LOWER:DUPLICATE (abc.dat)")
	require.True(t, ok)
	assert.Equal(t, "PROCESS_DATA:DUPLICATE_AND_LOWER:DUPLICATE", dup.Process())
	assert.Equal(t, models.TaskStatusCompleted, dup.Status)

	combine, ok := final.TaskByName("JOIN:COMBINE_FILES")
	require.True(t, ok)
	assert.Equal(t, models.TaskStatusCompleted, combine.Status)
}

func TestEnginePipelineError(t *testing.T) {
	bin := requireEngine(t)
	o := newEngineOrchestrator(t, bin)

	exec, err := o.Launch(context.Background(), realPipeline(t, "string"), LaunchOptions{})
	require.NoError(t, err)
	final := runToEnd(t, o, exec)

	assert.Equal(t, models.ExecStatusError, final.Status)
	require.NotNil(t, final.ReturnCode)
	assert.NotEqual(t, 0, *final.ReturnCode)

	assert.Equal(t, 1, *final.ReturnCode)
	assert.Contains(t, final.Stdout, "Error executing process")

	split, ok := final.TaskByName("SPLIT_FILE")
	require.True(t, ok)
	assert.Equal(t, models.TaskStatusCompleted, split.Status)

	for _, name := range []string{
		"PROCESS_DATA:DUPLICATE_AND_LOWER:DUPLICATE (abc.dat)",
		"PROCESS_DATA:DUPLICATE_AND_LOWER:DUPLICATE (xyz.dat)",
	} {
		dup, ok := final.TaskByName(name)
		require.True(t, ok, name)
		assert.Equal(t, models.TaskStatusFailed, dup.Status, name)
		assert.Equal(t, "1", dup.Exit, name)
	}
	for _, task := range final.Tasks() {
		if task.Process() != "PROCESS_DATA:DUPLICATE_AND_LOWER:DUPLICATE" {
			assert.NotEqual(t, models.TaskStatusFailed, task.Status, task.Name)
		}
	}
}

func TestEngineProfileAndLiveDurations(t *testing.T) {
	bin := requireEngine(t)
	o := newEngineOrchestrator(t, bin)

	exec, err := o.Launch(context.Background(), realPipeline(t, "12"), LaunchOptions{
		Profiles: []string{"special"},
		Params:   models.Params{{Key: "wait", Value: "5"}},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	var snaps []*models.Execution
	for snap, err := range o.PollWith(exec, nil).All(ctx) {
		require.NoError(t, err)
		snaps = append(snaps, snap)
		time.Sleep(2 * time.Second)
	}
	final := snaps[len(snaps)-1]
	assert.Equal(t, models.ExecStatusOK, final.Status)
	assert.Contains(t, final.Log, "Applying config profile: `special`")

	durations := map[string]time.Duration{}
	for _, snap := range snaps {
		for _, task := range snap.Tasks() {
			if d, ok := durations[task.Hash]; ok {
				assert.GreaterOrEqual(t, task.Duration, d, task.Name)
			}
			durations[task.Hash] = task.Duration
		}
		for hash := range durations {
			_, ok := snap.Task(hash)
			assert.True(t, ok, "task %s disappeared", hash)
		}
	}
}
