//go:build !windows

package process

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mpataki/nfwatch/internal/models"
	"github.com/mpataki/nfwatch/internal/workspace"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "engine.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0755))
	return path
}

func newWorkspace(t *testing.T) *workspace.Workspace {
	t.Helper()
	ws, err := workspace.Create(t.TempDir())
	require.NoError(t, err)
	return ws
}

func waitFor(t *testing.T, h Handle) int {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	code, err := h.Wait(ctx)
	require.NoError(t, err)
	return code
}

func TestLaunchMissingBinary(t *testing.T) {
	ws := newWorkspace(t)
	_, err := Launch(context.Background(), ws, Command{Binary: "nfwatch-no-such-engine", Pipeline: "main.nf"}, LaunchOptions{})
	require.Error(t, err)

	var le *LaunchError
	require.True(t, errors.As(err, &le))
	assert.ErrorIs(t, err, ErrBinaryNotFound)
	assert.Equal(t, "nfwatch-no-such-engine", le.Args[0])
}

func TestLaunchImmediateFailure(t *testing.T) {
	ws := newWorkspace(t)
	bin := writeScript(t, "echo 'Unknown option: -bogus' >&2\nexit 3\n")

	_, err := Launch(context.Background(), ws, Command{Binary: bin, Pipeline: "main.nf"}, LaunchOptions{StartupGrace: 5 * time.Second})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrImmediateExit)

	var le *LaunchError
	require.True(t, errors.As(err, &le))
	assert.Equal(t, 3, le.ExitCode)
	assert.Contains(t, le.Output, "Unknown option")
}

func TestLaunchPipelineFailureIsNotALaunchError(t *testing.T) {
	ws := newWorkspace(t)
	bin := writeScript(t, "echo 'Launching `main.nf` [sad_turing] DSL2'\nexit 1\n")

	p, err := Launch(context.Background(), ws, Command{Binary: bin, Pipeline: "main.nf"}, LaunchOptions{StartupGrace: 5 * time.Second})
	require.NoError(t, err)
	assert.Equal(t, 1, waitFor(t, p))
	assert.False(t, p.IsRunning())
	assert.False(t, p.ExitedAt().IsZero())
}

func TestLaunchWritesOutputAndMetadata(t *testing.T) {
	ws := newWorkspace(t)
	bin := writeScript(t, `echo "args: $*"
echo "ansi: $NXF_ANSI_LOG ver: $NXF_VER"
echo oops >&2
sleep 0.3
`)

	p, err := Launch(context.Background(), ws, Command{Binary: bin, Pipeline: "main.nf", Version: "23.10.1"}, LaunchOptions{})
	require.NoError(t, err)
	assert.True(t, p.IsRunning())
	_, exited := p.ExitCode()
	assert.False(t, exited)

	assert.Equal(t, 0, waitFor(t, p))

	out, err := os.ReadFile(ws.StdoutPath())
	require.NoError(t, err)
	assert.Contains(t, string(out), "args: run main.nf -with-trace "+ws.OwnTracePath())
	assert.Contains(t, string(out), "ansi: false ver: 23.10.1")

	errOut, err := os.ReadFile(ws.StderrPath())
	require.NoError(t, err)
	assert.Equal(t, "oops\n", string(errOut))

	meta, err := ws.ReadLaunchMetadata()
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, p.PID(), meta.PID)
	assert.Equal(t, p.Args(), meta.Command)
	assert.Equal(t, "23.10.1", meta.Version)
}

func TestLaunchRunsInRunDirectory(t *testing.T) {
	ws := newWorkspace(t)
	bin := writeScript(t, "pwd\n")

	p, err := Launch(context.Background(), ws, Command{Binary: bin, Pipeline: "main.nf"}, LaunchOptions{})
	require.NoError(t, err)
	waitFor(t, p)

	out, err := os.ReadFile(ws.StdoutPath())
	require.NoError(t, err)
	want, err := filepath.EvalSymlinks(ws.Path)
	require.NoError(t, err)
	got, err := filepath.EvalSymlinks(string(out[:len(out)-1]))
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestWaitHonoursContext(t *testing.T) {
	ws := newWorkspace(t)
	bin := writeScript(t, "sleep 2\n")

	p, err := Launch(context.Background(), ws, Command{Binary: bin, Pipeline: "main.nf"}, LaunchOptions{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err = p.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, p.IsRunning())

	assert.Equal(t, 0, waitFor(t, p))
}

func TestLaunchWithRunnerRewritingArgs(t *testing.T) {
	ws := newWorkspace(t)
	bin := writeScript(t, "echo \"args: $*\"\n")

	var seen []string
	runner := func(cmd *exec.Cmd) error {
		seen = append([]string{}, cmd.Args...)
		for i, a := range cmd.Args {
			if a == "--count=12" {
				cmd.Args[i] = "--count=5"
			}
		}
		return cmd.Start()
	}

	c := Command{Binary: bin, Pipeline: "main.nf", Params: models.Params{{Key: "count", Value: "12"}}}
	p, err := Launch(context.Background(), ws, c, LaunchOptions{Runner: runner})
	require.NoError(t, err)
	assert.Equal(t, 0, waitFor(t, p))

	assert.Contains(t, seen, "--count=12")
	assert.Equal(t, bin, p.Args()[0])
	assert.Contains(t, p.Args(), "--count=5")
	assert.NotContains(t, p.Args(), "--count=12")

	out, err := os.ReadFile(ws.StdoutPath())
	require.NoError(t, err)
	assert.Contains(t, string(out), "--count=5")

	meta, err := ws.ReadLaunchMetadata()
	require.NoError(t, err)
	assert.Equal(t, p.Args(), meta.Command)
}

func TestLaunchRunnerFailure(t *testing.T) {
	ws := newWorkspace(t)
	bin := writeScript(t, "exit 0\n")
	boom := errors.New("no slots left")

	_, err := Launch(context.Background(), ws, Command{Binary: bin, Pipeline: "main.nf"}, LaunchOptions{
		Runner: func(*exec.Cmd) error { return boom },
	})
	var le *LaunchError
	require.True(t, errors.As(err, &le))
	assert.ErrorIs(t, err, boom)
}

func TestLaunchRunnerThatDoesNotStart(t *testing.T) {
	ws := newWorkspace(t)
	bin := writeScript(t, "exit 0\n")

	_, err := Launch(context.Background(), ws, Command{Binary: bin, Pipeline: "main.nf"}, LaunchOptions{
		Runner: func(*exec.Cmd) error { return nil },
	})
	var le *LaunchError
	require.True(t, errors.As(err, &le))
	assert.ErrorIs(t, err, errNotStarted)
}
