// Package reconcile merges process state, log text and the trace file into
// one Execution snapshot.
package reconcile

import (
	"log/slog"
	"time"

	"github.com/mpataki/nfwatch/internal/logging"
	"github.com/mpataki/nfwatch/internal/logs"
	"github.com/mpataki/nfwatch/internal/models"
	"github.com/mpataki/nfwatch/internal/process"
	"github.com/mpataki/nfwatch/internal/trace"
	"github.com/mpataki/nfwatch/internal/workspace"
)

// Reconciler builds snapshots. It holds no per-execution state, so one
// Reconciler may serve any number of executions; calls for the same
// execution must not overlap.
type Reconciler struct {
	Logger *slog.Logger
	Now    func() time.Time
	// TaskOutput reads .command.out/.command.err for every traced task.
	TaskOutput bool
}

func New(logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Reconciler{Logger: logger, Now: time.Now, TaskOutput: true}
}

// Reconcile produces the next snapshot from h, the run directory at
// location and the previous snapshot (nil on the first call). prev is not
// modified. It only reads the filesystem and the process table.
//
// A missing run directory returns an error wrapping
// workspace.ErrRunDirectoryMissing. A failed pipeline is not an error: it
// is reported as an ERROR snapshot.
func (r *Reconciler) Reconcile(h process.Handle, location string, prev *models.Execution) (*models.Execution, error) {
	ws := &workspace.Workspace{Path: location}
	if err := ws.Check(); err != nil {
		return nil, err
	}

	running := h.IsRunning()
	code, exited := h.ExitCode()

	stdout, err := logs.Read(ws.StdoutPath())
	if err != nil {
		return nil, err
	}
	stderr, err := logs.Read(ws.StderrPath())
	if err != nil {
		return nil, err
	}
	// A relaunch in the same directory finds the previous run's engine log
	// and trace until the new engine replaces them.
	started := h.StartedAt()
	var logText string
	if !leftover(ws.LogPath(), started) {
		if logText, err = logs.Read(ws.LogPath()); err != nil {
			return nil, err
		}
	}

	snap := &trace.Snapshot{}
	if tracePath := ws.TracePath(); !leftover(tracePath, started) {
		if snap, err = trace.ReadFile(tracePath); err != nil {
			return nil, err
		}
	}
	for _, w := range snap.Warnings {
		r.Logger.Warn("dropped trace row", "dir", location, "line", w.Line, "reason", w.Reason)
	}

	base := prev
	if base == nil {
		base = &models.Execution{}
	}

	next := base.MergeTasks(nil)
	next.Location = location
	if next.Command == nil {
		next.Command = h.Args()
	}
	next.PID = h.PID()
	if next.StartedAt.IsZero() {
		next.StartedAt = h.StartedAt()
	}
	next.Stdout = stdout
	next.Stderr = stderr
	next.Log = logText

	if next.ID == "" {
		next.ID = logs.RunName(stdout)
	}
	if next.ID == "" {
		next.ID = logs.RunName(logText)
	}

	now := r.now()
	switch {
	case base.Status.Terminal():
		// stays as it was
	case !running && exited:
		c := code
		next.ReturnCode = &c
		next.Status = models.ExecStatusOK
		if code != 0 {
			next.Status = models.ExecStatusError
		}
		finished := h.ExitedAt()
		if finished.IsZero() {
			finished = now
		}
		next.FinishedAt = &finished
	case stdout == "" && logText == "" && len(snap.Rows) == 0 && base.TaskCount() == 0:
		next.Status = models.ExecStatusPending
	default:
		next.Status = models.ExecStatusRunning
	}

	end := now
	if next.FinishedAt != nil {
		end = *next.FinishedAt
	}
	if !next.StartedAt.IsZero() && end.After(next.StartedAt) {
		next.Elapsed = end.Sub(next.StartedAt)
	}

	updates := make([]*models.TaskExecution, 0, len(snap.Rows))
	for _, row := range snap.Rows {
		updates = append(updates, r.task(ws, row, base, end))
	}
	next = next.MergeTasks(updates)

	if prev == nil || prev.Status != next.Status {
		r.Logger.Debug("execution status", "dir", location, "id", next.ID, "status", next.Status)
	}

	return next, nil
}

func (r *Reconciler) task(ws *workspace.Workspace, row trace.Row, prev *models.Execution, end time.Time) *models.TaskExecution {
	t := &models.TaskExecution{
		Hash:      row.Hash,
		Name:      row.Name,
		Status:    row.Status,
		Exit:      row.Exit,
		StartedAt: row.Start,
		Workdir:   row.Workdir,
	}

	switch {
	case row.Duration != nil:
		t.Duration = *row.Duration
	case row.Start != nil && end.After(*row.Start):
		t.Duration = end.Sub(*row.Start)
	}
	// Durations never go backwards between polls; a recorded value can land
	// a little below the last estimate taken from the wall clock.
	if old, ok := prev.Task(row.Hash); ok && old.Duration > t.Duration {
		t.Duration = old.Duration
	}

	if r.TaskOutput {
		out, err := logs.ReadTaskOutput(ws.WorkDir(), row.Hash, row.Workdir)
		if err != nil {
			r.Logger.Debug("task output unavailable", "hash", row.Hash, "err", err)
		}
		if out.Workdir != "" {
			t.Workdir = out.Workdir
		}
		t.Stdout = out.Stdout
		t.Stderr = out.Stderr
	}
	return t
}

// mtimeSlack absorbs coarse filesystem timestamps.
const mtimeSlack = time.Second

// leftover reports whether path was last written before a run that started
// at started, so it belongs to an earlier run.
func leftover(path string, started time.Time) bool {
	if started.IsZero() {
		return false
	}
	mod := workspace.ModTime(path)
	return !mod.IsZero() && mod.Before(started.Add(-mtimeSlack))
}

func (r *Reconciler) now() time.Time {
	if r.Now == nil {
		return time.Now()
	}
	return r.Now()
}
