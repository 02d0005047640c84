package workspace

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenMissingDirectory(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRunDirectoryMissing)
}

func TestOpenFileIsNotARunDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(path, nil, 0644))
	_, err := Open(path)
	assert.ErrorIs(t, err, ErrRunDirectoryMissing)
}

func TestCreateMakesStateDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "run")
	w, err := Create(dir)
	require.NoError(t, err)
	assert.DirExists(t, filepath.Join(dir, StateDir))
	assert.NoError(t, w.Check())
}

func TestLaunchMetadataRoundTrip(t *testing.T) {
	w, err := Create(t.TempDir())
	require.NoError(t, err)

	meta, err := w.ReadLaunchMetadata()
	require.NoError(t, err)
	assert.Nil(t, meta)

	started := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	require.NoError(t, w.WriteLaunchMetadata(&LaunchMetadata{
		Command:   []string{"nextflow", "run", "main.nf"},
		PID:       4242,
		StartedAt: started,
	}))

	meta, err = w.ReadLaunchMetadata()
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, 4242, meta.PID)
	assert.True(t, started.Equal(meta.StartedAt))
}

func TestTracePathPrefersOwnTrace(t *testing.T) {
	w, err := Create(t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, w.OwnTracePath(), w.TracePath())

	old := filepath.Join(w.Path, "trace-20240101.txt")
	newer := filepath.Join(w.Path, "trace-20240102.txt")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0644))
	require.NoError(t, os.WriteFile(newer, []byte("x"), 0644))
	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))
	assert.Equal(t, newer, w.TracePath())

	require.NoError(t, os.WriteFile(w.OwnTracePath(), []byte("x"), 0644))
	assert.Equal(t, w.OwnTracePath(), w.TracePath())
}

func TestRotateTrace(t *testing.T) {
	w, err := Create(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, w.RotateTrace())

	require.NoError(t, os.WriteFile(w.OwnTracePath(), []byte("x"), 0644))
	require.NoError(t, w.RotateTrace())
	assert.NoFileExists(t, w.OwnTracePath())
}

func TestLockArtifacts(t *testing.T) {
	w, err := Create(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, w.LockArtifacts())

	lockDir := filepath.Join(w.EngineStateDir(), "cache", "0b5c1a2e", "db")
	require.NoError(t, os.MkdirAll(lockDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(lockDir, "LOCK"), nil, 0644))
	assert.Len(t, w.LockArtifacts(), 1)
}
