package logs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadMissingIsEmpty(t *testing.T) {
	text, err := Read(filepath.Join(t.TempDir(), "stdout.log"))
	require.NoError(t, err)
	assert.Equal(t, "", text)
}

func TestReadGrowingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "stdout.log")
	require.NoError(t, os.WriteFile(path, []byte("N E X T F L O W\n"), 0644))

	first, err := Read(path)
	require.NoError(t, err)

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0644)
	require.NoError(t, err)
	_, err = f.WriteString("Launching `main.nf` [sad_euler]")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	second, err := Read(path)
	require.NoError(t, err)
	assert.Contains(t, second, first)
	assert.Greater(t, len(second), len(first))
}

func TestRunName(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"N E X T F L O W  ~  version 23.10.1\nLaunching `pipeline.nf` [elegant_pasteur] DSL2 - revision: 2f3e4d\n", "elegant_pasteur"},
		{"Launching `/abs/path/main.nf` [sad_euler] - revision: 1a2b3c\n", "sad_euler"},
		{"N E X T F L O W  ~  version 23.10.1\n", ""},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, RunName(tt.text))
	}
}

func TestProfiles(t *testing.T) {
	text := "Jan-05 10:11:12.000 [main] INFO  nextflow.cli.CmdRun - Applying config profile: `special`\n" +
		"other line\n"
	assert.Equal(t, []string{"special"}, Profiles(text))
	assert.Empty(t, Profiles("nothing here"))
}

func TestSentinelAndAbort(t *testing.T) {
	ok := "Jan-05 10:11:12.000 [main] DEBUG nextflow.script.ScriptRunner - > Execution complete -- Goodbye\n"
	assert.True(t, HasSentinel(ok))
	assert.False(t, Aborted(ok))

	failed := "ERROR ~ Error executing process > 'DUPLICATE (xyz.dat)'\nSession aborted -- Cause: boom\n" + ok
	assert.True(t, HasSentinel(failed))
	assert.True(t, Aborted(failed))
}

func TestTail(t *testing.T) {
	assert.Equal(t, "c\nd", Tail("a\nb\nc\nd\n", 2))
	assert.Equal(t, "a\nb", Tail("a\nb\n", 5))
	assert.Equal(t, "", Tail("a\nb\n", 0))
}

func TestReadTaskOutput(t *testing.T) {
	root := t.TempDir()
	workdir := filepath.Join(root, "ab", "cdef1234567890")
	require.NoError(t, os.MkdirAll(workdir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(workdir, ".command.out"), []byte("Splitting...\n"), 0644))

	out, err := ReadTaskOutput(root, "ab/cdef12", "")
	require.NoError(t, err)
	assert.Equal(t, workdir, out.Workdir)
	assert.Equal(t, "Splitting...\n", out.Stdout)
	assert.Equal(t, "", out.Stderr)

	missing, err := ReadTaskOutput(root, "zz/000000", "")
	require.NoError(t, err)
	assert.Equal(t, TaskOutput{}, missing)

	bad, err := ReadTaskOutput(root, "nohash", "")
	require.NoError(t, err)
	assert.Equal(t, TaskOutput{}, bad)
}
