package process

import (
	"context"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mpataki/nfwatch/internal/logs"
	"github.com/mpataki/nfwatch/internal/workspace"
)

// DefaultStaleAfter is how long trace and log may sit unmodified before an
// attached run with only a lock artifact is considered gone.
const DefaultStaleAfter = 2 * time.Minute

// AttachOptions tune the liveness heuristics of an attached handle.
type AttachOptions struct {
	StaleAfter time.Duration
	Now        func() time.Time
}

// Attached observes a run nfwatch did not start in this process. Liveness
// is inferred from the run directory and is best effort only:
//
//  1. a pid from launch metadata or .nextflow.pid that answers signal 0 is running;
//  2. the terminal sentinel in .nextflow.log means the run has exited;
//  3. a trace or log modified within StaleAfter is running, provided there is
//     a cache lock artifact or no pid to contradict it;
//  4. a directory with no output at all and no known pid has not started yet
//     and counts as running;
//  5. anything else exited without a sentinel.
//
// Exit codes are likewise inferred: 0 after a clean sentinel, 1 when the log
// records an aborted session, -1 when the run vanished without a sentinel.
type Attached struct {
	ws   *workspace.Workspace
	opts AttachOptions

	pid     int
	args    []string
	started time.Time

	exited   bool
	exitCode int
	exitedAt time.Time
}

// Attach builds a handle for the run in ws.
func Attach(ws *workspace.Workspace, opts AttachOptions) (*Attached, error) {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	a := &Attached{ws: ws, opts: opts}

	meta, err := ws.ReadLaunchMetadata()
	if err != nil {
		return nil, err
	}
	if meta != nil {
		a.pid = meta.PID
		a.args = meta.Command
		a.started = meta.StartedAt
	}
	if a.pid == 0 {
		a.pid = readPIDFile(ws.PIDPath())
	}
	if a.started.IsZero() {
		a.started = firstModTime(ws.LogPath(), ws.TracePath(), ws.StdoutPath())
	}
	return a, nil
}

func (a *Attached) PID() int             { return a.pid }
func (a *Attached) Args() []string       { return a.args }
func (a *Attached) StartedAt() time.Time { return a.started }

// IsRunning re-derives liveness from the directory. Once a run is seen to
// have exited the answer does not change.
func (a *Attached) IsRunning() bool {
	if a.exited {
		return false
	}

	if processAlive(a.pid) {
		return true
	}

	logText, _ := logs.Read(a.ws.LogPath())
	logPath := a.ws.LogPath()
	tracePath := a.ws.TracePath()

	if logs.HasSentinel(logText) {
		code := 0
		if logs.Aborted(logText) {
			code = 1
		}
		a.markExited(code, workspace.ModTime(logPath))
		return false
	}

	lastWrite := latest(workspace.ModTime(logPath), workspace.ModTime(tracePath), workspace.ModTime(a.ws.StdoutPath()))
	recent := !lastWrite.IsZero() && a.opts.Now().Sub(lastWrite) < a.opts.StaleAfter
	if recent && (a.pid == 0 || len(a.ws.LockArtifacts()) > 0) {
		return true
	}

	if lastWrite.IsZero() {
		if a.pid == 0 {
			return true
		}
		lastWrite = a.opts.Now()
	}

	a.markExited(-1, lastWrite)
	return false
}

func (a *Attached) markExited(code int, at time.Time) {
	a.exited = true
	a.exitCode = code
	a.exitedAt = at
}

func (a *Attached) ExitCode() (int, bool) { return a.exitCode, a.exited }
func (a *Attached) ExitedAt() time.Time   { return a.exitedAt }

func (a *Attached) Wait(ctx context.Context) (int, error) {
	return pollWait(ctx, a)
}

func readPIDFile(path string) int {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0
	}
	return pid
}

func latest(ts ...time.Time) time.Time {
	var out time.Time
	for _, t := range ts {
		if t.After(out) {
			out = t
		}
	}
	return out
}

func firstModTime(paths ...string) time.Time {
	var out time.Time
	for _, p := range paths {
		t := workspace.ModTime(p)
		if t.IsZero() {
			continue
		}
		if out.IsZero() || t.Before(out) {
			out = t
		}
	}
	return out
}
