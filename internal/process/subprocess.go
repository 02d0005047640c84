package process

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/mpataki/nfwatch/internal/logging"
	"github.com/mpataki/nfwatch/internal/logs"
	"github.com/mpataki/nfwatch/internal/workspace"
)

// LaunchOptions tune Launch.
type LaunchOptions struct {
	// StartupGrace is how long Launch watches a fresh process for an
	// immediate failure. Zero skips the check.
	StartupGrace time.Duration
	// Runner starts the assembled command in place of cmd.Start. It may
	// rewrite cmd.Args or cmd.Env first, must leave cmd.Process set and
	// must not wait for the process.
	Runner Runner
	Logger *slog.Logger
}

// Runner starts an engine command.
type Runner func(cmd *exec.Cmd) error

var errNotStarted = errors.New("runner returned without starting the process")

// Subprocess is an engine process started by this program. It is reaped
// with non-blocking waits, so no goroutine is tied to it.
type Subprocess struct {
	pid     int
	args    []string
	started time.Time

	mu       sync.Mutex
	exited   bool
	exitCode int
	exitedAt time.Time
}

// Launch starts the engine in ws with stdout and stderr going to files in
// the workspace state directory. Failing to start returns *LaunchError.
func Launch(ctx context.Context, ws *workspace.Workspace, c Command, opts LaunchOptions) (*Subprocess, error) {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	c.Location = ws.Path
	if c.TracePath == "" {
		c.TracePath = ws.OwnTracePath()
	}
	args := c.Args()

	path, err := exec.LookPath(args[0])
	if err != nil {
		return nil, &LaunchError{Args: args, Err: fmt.Errorf("%w: %v", ErrBinaryNotFound, err)}
	}

	if err := ws.RotateTrace(); err != nil {
		return nil, &LaunchError{Args: args, Err: err}
	}

	stdout, err := os.Create(ws.StdoutPath())
	if err != nil {
		return nil, &LaunchError{Args: args, Err: fmt.Errorf("failed to create stdout file: %w", err)}
	}
	defer stdout.Close()
	stderr, err := os.Create(ws.StderrPath())
	if err != nil {
		return nil, &LaunchError{Args: args, Err: fmt.Errorf("failed to create stderr file: %w", err)}
	}
	defer stderr.Close()

	cmd := exec.Command(path, args[1:]...)
	cmd.Dir = ws.Path
	cmd.Env = append(os.Environ(), c.Environ()...)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	configureCommand(cmd)

	run := opts.Runner
	if run == nil {
		run = (*exec.Cmd).Start
	}
	started := time.Now()
	if err := run(cmd); err != nil {
		return nil, &LaunchError{Args: args, Err: err}
	}
	if cmd.Process == nil {
		return nil, &LaunchError{Args: args, Err: errNotStarted}
	}
	// A runner may have rewritten the arguments.
	if len(cmd.Args) > 0 {
		args = append([]string{args[0]}, cmd.Args[1:]...)
	}

	p := &Subprocess{
		pid:     cmd.Process.Pid,
		args:    args,
		started: started,
	}
	// The pid is reaped through wait4 from here on.
	_ = cmd.Process.Release()

	logger.Info("engine started", "pid", p.pid, "dir", ws.Path)

	if err := ws.WriteLaunchMetadata(&workspace.LaunchMetadata{
		Command:   args,
		PID:       p.pid,
		StartedAt: p.started,
		Version:   c.Version,
	}); err != nil {
		logger.Warn("could not record launch metadata", "err", err)
	}

	if opts.StartupGrace > 0 {
		if err := p.watchStartup(ctx, ws, opts.StartupGrace); err != nil {
			return nil, err
		}
	}

	return p, nil
}

// watchStartup fails when the process dies with a nonzero code inside the
// grace window before announcing a run name. It returns early once the
// name is announced.
func (p *Subprocess) watchStartup(ctx context.Context, ws *workspace.Workspace, grace time.Duration) error {
	deadline := time.NewTimer(grace)
	defer deadline.Stop()
	ticker := time.NewTicker(waitPoll)
	defer ticker.Stop()

	for {
		if p.IsRunning() {
			if out, _ := logs.Read(ws.StdoutPath()); logs.RunName(out) != "" {
				return nil
			}
		} else {
			code, _ := p.ExitCode()
			if code == 0 {
				return nil
			}
			out, _ := logs.Read(ws.StdoutPath())
			if logs.RunName(out) != "" {
				return nil
			}
			errOut, _ := logs.Read(ws.StderrPath())
			return &LaunchError{
				Args:     p.args,
				ExitCode: code,
				Output:   logs.Tail(strings.TrimSpace(errOut+"\n"+out), 20),
				Err:      ErrImmediateExit,
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-deadline.C:
			return nil
		case <-ticker.C:
		}
	}
}

func (p *Subprocess) PID() int             { return p.pid }
func (p *Subprocess) Args() []string       { return p.args }
func (p *Subprocess) StartedAt() time.Time { return p.started }

// IsRunning reaps the process if it has exited, without blocking.
func (p *Subprocess) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.exited {
		return false
	}

	code, done, err := reap(p.pid)
	if err != nil {
		if errors.Is(err, errNotChild) {
			p.markExited(-1)
			return false
		}
		return true
	}
	if done {
		p.markExited(code)
		return false
	}
	return true
}

func (p *Subprocess) markExited(code int) {
	p.exited = true
	p.exitCode = code
	p.exitedAt = time.Now()
}

func (p *Subprocess) ExitCode() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode, p.exited
}

func (p *Subprocess) ExitedAt() time.Time {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitedAt
}

func (p *Subprocess) Wait(ctx context.Context) (int, error) {
	return pollWait(ctx, p)
}
