package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaults(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("NFWATCH_DATA_DIR", dir)

	c, err := New()
	require.NoError(t, err)
	assert.Equal(t, dir, c.DataDir)
	assert.Equal(t, filepath.Join(dir, "nfwatch.db"), c.DBPath)
	assert.Equal(t, "nextflow", c.Binary)
	assert.Equal(t, DefaultPollInterval, c.PollInterval)
	assert.Equal(t, DefaultStartupGrace, c.StartupGrace)
	assert.Equal(t, DefaultStaleAfter, c.StaleAfter)
	assert.Equal(t, "info", c.LogLevel)
	assert.Equal(t, "", c.DefaultVersion)
	assert.Equal(t, []string{filepath.Join(dir, "pipelines"), ".nfwatch/pipelines"}, c.PipelineDirs())
	assert.Equal(t, filepath.Join(dir, "runs"), c.RunsDir())
}

func TestNewReadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("NFWATCH_DATA_DIR", dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(`
binary: /opt/nextflow/bin/nextflow
poll_interval: 500ms
startup_grace: 10s
stale_after: 5m
default_version: 23.10.1
log_level: debug
`), 0644))

	c, err := New()
	require.NoError(t, err)
	assert.Equal(t, "/opt/nextflow/bin/nextflow", c.Binary)
	assert.Equal(t, 500*time.Millisecond, c.PollInterval)
	assert.Equal(t, 10*time.Second, c.StartupGrace)
	assert.Equal(t, 5*time.Minute, c.StaleAfter)
	assert.Equal(t, "23.10.1", c.DefaultVersion)
	assert.Equal(t, "debug", c.LogLevel)
}

func TestEnvOverridesConfigFile(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("NFWATCH_DATA_DIR", dir)
	t.Setenv("NFWATCH_BINARY", "/usr/local/bin/nextflow")
	t.Setenv("NFWATCH_LOG_LEVEL", "warn")
	t.Setenv("NFWATCH_POLL_INTERVAL", "3s")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("binary: other\npoll_interval: 1s\n"), 0644))

	c, err := New()
	require.NoError(t, err)
	assert.Equal(t, "/usr/local/bin/nextflow", c.Binary)
	assert.Equal(t, "warn", c.LogLevel)
	assert.Equal(t, 3*time.Second, c.PollInterval)
}

func TestNewRejectsBadDurations(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("NFWATCH_DATA_DIR", dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("stale_after: soon\n"), 0644))

	_, err := New()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stale_after")

	require.NoError(t, os.Remove(filepath.Join(dir, "config.yaml")))
	t.Setenv("NFWATCH_POLL_INTERVAL", "-1s")
	_, err = New()
	assert.Error(t, err)
}

func TestNewRejectsMalformedYAML(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("NFWATCH_DATA_DIR", dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("binary: [unclosed\n"), 0644))

	_, err := New()
	assert.Error(t, err)
}

func TestEnsureDataDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "data")
	t.Setenv("NFWATCH_DATA_DIR", dir)
	c, err := New()
	require.NoError(t, err)

	require.NoError(t, c.EnsureDataDir())
	assert.DirExists(t, c.UserPipelineDir)
}
