package main

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/nfwatch/internal/models"
)

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"count=3", "--input=data.txt", "count=4"})
	require.NoError(t, err)

	assert.Equal(t, models.Params{
		{Key: "count", Value: "4"},
		{Key: "input", Value: "data.txt"},
	}, params)
}

func TestParseParamsRejectsMissingValue(t *testing.T) {
	_, err := parseParams([]string{"count"})
	assert.Error(t, err)
}

func TestExitFor(t *testing.T) {
	assert.NoError(t, exitFor(&models.Execution{Status: models.ExecStatusOK}))
	assert.NoError(t, exitFor(&models.Execution{Status: models.ExecStatusRunning}))
	assert.NoError(t, exitFor(nil))

	err := exitFor(&models.Execution{Status: models.ExecStatusError})
	var exitErr *exitCodeError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 2, exitErr.code)
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "-", formatDuration(0))
	assert.Equal(t, "250ms", formatDuration(250*time.Millisecond))
	assert.Equal(t, "1.5s", formatDuration(1540*time.Millisecond))
	assert.Equal(t, "1m30s", formatDuration(90*time.Second))
}

func TestFormatCounts(t *testing.T) {
	assert.Equal(t, "none", formatCounts(nil))
	assert.Equal(t, "COMPLETED 3, RUNNING 1", formatCounts(map[models.TaskStatus]int{
		models.TaskStatusRunning:   1,
		models.TaskStatusCompleted: 3,
	}))
}

func TestRootCommandRegistersSubcommands(t *testing.T) {
	root := newRootCommand()
	for _, name := range []string{"run", "attach", "status", "list", "show", "log", "delete", "pipelines", "tui"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err, name)
		assert.Equal(t, name, cmd.Name())
	}
}

func TestPrinterReportsChangesOnly(t *testing.T) {
	var buf bytes.Buffer
	pr := newPrinter(&buf)

	first := (&models.Execution{Status: models.ExecStatusRunning}).MergeTasks([]*models.TaskExecution{
		{Hash: "ab/123456", Name: "SPLIT_FILE", Status: models.TaskStatusRunning},
	})
	pr.update(first)
	assert.Contains(t, buf.String(), "Status: RUNNING")
	assert.Contains(t, buf.String(), "SPLIT_FILE")

	buf.Reset()
	pr.update(first)
	assert.Empty(t, buf.String())

	second := first.MergeTasks([]*models.TaskExecution{
		{Hash: "ab/123456", Name: "SPLIT_FILE", Status: models.TaskStatusCompleted, Duration: 2 * time.Second},
	})
	second.ID = "jolly_curie"
	pr.update(second)
	assert.Contains(t, buf.String(), "Run name: jolly_curie")
	assert.Contains(t, buf.String(), "COMPLETED")
	assert.NotContains(t, buf.String(), "Status:")
}
