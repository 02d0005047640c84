// Package orchestrator is the entry point for launching, attaching to and
// following pipeline executions.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mpataki/nfwatch/internal/logging"
	"github.com/mpataki/nfwatch/internal/models"
	"github.com/mpataki/nfwatch/internal/pipeline"
	"github.com/mpataki/nfwatch/internal/poll"
	"github.com/mpataki/nfwatch/internal/process"
	"github.com/mpataki/nfwatch/internal/reconcile"
	"github.com/mpataki/nfwatch/internal/storage"
	"github.com/mpataki/nfwatch/internal/workspace"
)

var ErrUnknownExecution = errors.New("execution not tracked")

type Options struct {
	Binary       string
	RunsDir      string
	StartupGrace time.Duration
	StaleAfter   time.Duration
	PollInterval time.Duration
	// DefaultVersion pins the engine version when neither the pipeline nor
	// the launch asks for one.
	DefaultVersion string
	Logger         *slog.Logger
}

// LaunchOptions adjust a pipeline for one launch.
type LaunchOptions struct {
	// Location is the run directory. Empty means a fresh directory under
	// Options.RunsDir.
	Location string
	Version  string
	Profiles []string
	Configs  []string
	Params   models.Params
	Env      []string
	// Runner replaces the default process start. It receives the fully
	// assembled command; see process.Runner.
	Runner process.Runner
}

type tracked struct {
	handle   process.Handle
	key      string
	pipeline string
	last     *models.Execution
}

// Orchestrator keeps one process handle per run directory. Storage is
// optional; without it nothing is recorded.
type Orchestrator struct {
	storage    *storage.Storage
	opts       Options
	logger     *slog.Logger
	reconciler *reconcile.Reconciler

	mu   sync.Mutex
	runs map[string]*tracked
}

func New(store *storage.Storage, opts Options) *Orchestrator {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Orchestrator{
		storage:    store,
		opts:       opts,
		logger:     opts.Logger,
		reconciler: reconcile.New(opts.Logger),
		runs:       make(map[string]*tracked),
	}
}

// Reconciler exposes the reconciler so callers can adjust it, for example
// to skip reading per-task output.
func (o *Orchestrator) Reconciler() *reconcile.Reconciler {
	return o.reconciler
}

// Launch starts p and returns the first snapshot. Errors starting the
// engine are *process.LaunchError; a pipeline that starts and later fails
// is reported through its snapshots instead.
func (o *Orchestrator) Launch(ctx context.Context, p *models.Pipeline, lo LaunchOptions) (*models.Execution, error) {
	if err := pipeline.Validate(p); err != nil {
		return nil, err
	}
	if err := lo.Params.Validate(); err != nil {
		return nil, err
	}

	location, err := o.location(p, lo)
	if err != nil {
		return nil, err
	}
	ws, err := workspace.Create(location)
	if err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	cmd := process.Command{
		Binary:     o.opts.Binary,
		Pipeline:   p.Path,
		Configs:    append(append([]string{}, p.Configs...), lo.Configs...),
		Profiles:   append(append([]string{}, p.Profiles...), lo.Profiles...),
		Params:     mergeParams(p.Params, lo.Params),
		ParamsFile: p.ParamsFile,
		Version:    firstNonEmpty(lo.Version, p.Version, o.opts.DefaultVersion),
		Env:        lo.Env,
	}

	h, err := process.Launch(ctx, ws, cmd, process.LaunchOptions{
		StartupGrace: o.opts.StartupGrace,
		Runner:       lo.Runner,
		Logger:       o.logger,
	})
	if err != nil {
		return nil, err
	}

	t := &tracked{handle: h, pipeline: p.Name}
	o.track(ws.Path, t)

	exec, err := o.reconciler.Reconcile(h, ws.Path, nil)
	if err != nil {
		// The engine is running: it stays tracked under its location so the
		// caller can still follow or wait for it.
		return nil, fmt.Errorf("engine started in %s but its state could not be read: %w", ws.Path, err)
	}
	o.setLast(t, exec)
	o.record(t, exec)

	o.logger.Info("launched pipeline", "pipeline", p.Name, "dir", ws.Path, "pid", h.PID())
	return exec, nil
}

// Attach starts following a run directory this process did not launch.
// A directory recorded in history reuses its record.
func (o *Orchestrator) Attach(location string) (*models.Execution, error) {
	abs, err := filepath.Abs(location)
	if err != nil {
		return nil, err
	}
	ws, err := workspace.Open(abs)
	if err != nil {
		return nil, err
	}

	h, err := process.Attach(ws, process.AttachOptions{StaleAfter: o.opts.StaleAfter})
	if err != nil {
		return nil, fmt.Errorf("failed to attach to %s: %w", ws.Path, err)
	}

	t := &tracked{handle: h}
	var prev *models.Execution
	if o.storage != nil {
		rec, err := o.storage.FindByLocation(ws.Path)
		switch {
		case err == nil:
			t.key = rec.Key
			t.pipeline = rec.Pipeline
			prev = rec.Execution
		case !errors.Is(err, storage.ErrNotFound):
			o.logger.Warn("could not read history", "dir", ws.Path, "err", err)
		}
	}
	// A stored snapshot may be terminal already; reconcile from scratch when
	// the directory says the run is alive again.
	if prev != nil && prev.Status.Terminal() && h.IsRunning() {
		prev = nil
	}

	exec, err := o.reconciler.Reconcile(h, ws.Path, prev)
	if err != nil {
		return nil, err
	}
	t.last = exec
	o.track(ws.Path, t)
	o.record(t, exec)

	o.logger.Debug("attached", "dir", ws.Path, "pid", h.PID(), "status", exec.Status)
	return exec, nil
}

// Reconcile returns a fresh snapshot of exec. exec must come from Launch,
// Attach or an earlier Reconcile on this Orchestrator. The newest snapshot
// seen for the run is reconciled from, so passing an older one never moves
// the run backwards.
func (o *Orchestrator) Reconcile(exec *models.Execution) (*models.Execution, error) {
	t, err := o.lookup(exec)
	if err != nil {
		return nil, err
	}
	prev := exec
	o.mu.Lock()
	if t.last != nil {
		prev = t.last
	}
	o.mu.Unlock()
	return o.recorder(t).Reconcile(t.handle, exec.Location, prev)
}

// Poll returns a driver that follows exec to completion, recording every
// snapshot it produces.
func (o *Orchestrator) Poll(exec *models.Execution) *poll.Driver {
	return o.PollWith(exec, nil)
}

// PollWith is Poll with a wake channel that interrupts the poll interval.
func (o *Orchestrator) PollWith(exec *models.Execution, wake <-chan struct{}) *poll.Driver {
	opts := poll.Options{Interval: o.opts.PollInterval, Wake: wake}
	t, err := o.lookup(exec)
	if err != nil {
		return poll.New(failing{err}, nil, exec.Location, exec, opts)
	}
	return poll.New(o.recorder(t), t.handle, exec.Location, exec, opts)
}

// Wait blocks until the engine process behind exec exits.
func (o *Orchestrator) Wait(ctx context.Context, exec *models.Execution) (int, error) {
	t, err := o.lookup(exec)
	if err != nil {
		return 0, err
	}
	return t.handle.Wait(ctx)
}

// Forget stops tracking exec. The engine process is left alone.
func (o *Orchestrator) Forget(exec *models.Execution) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.runs, exec.Location)
}

func (o *Orchestrator) lookup(exec *models.Execution) (*tracked, error) {
	if exec == nil {
		return nil, ErrUnknownExecution
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	t, ok := o.runs[exec.Location]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownExecution, exec.Location)
	}
	return t, nil
}

func (o *Orchestrator) track(location string, t *tracked) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.runs[location] = t
}

func (o *Orchestrator) setLast(t *tracked, exec *models.Execution) {
	o.mu.Lock()
	defer o.mu.Unlock()
	t.last = exec
}

// record writes exec to history. History is best effort and never fails
// the caller.
func (o *Orchestrator) record(t *tracked, exec *models.Execution) {
	if o.storage == nil {
		return
	}
	if t.key == "" {
		key, err := o.storage.CreateExecution(t.pipeline, exec)
		if err != nil {
			o.logger.Warn("could not record execution", "dir", exec.Location, "err", err)
			return
		}
		t.key = key
		return
	}
	if err := o.storage.SaveSnapshot(t.key, exec); err != nil {
		o.logger.Warn("could not record snapshot", "dir", exec.Location, "err", err)
	}
}

func (o *Orchestrator) location(p *models.Pipeline, lo LaunchOptions) (string, error) {
	loc := firstNonEmpty(lo.Location, p.Location)
	if loc == "" {
		if o.opts.RunsDir == "" {
			return "", fmt.Errorf("no run directory given for pipeline %q", p.Name)
		}
		loc = filepath.Join(o.opts.RunsDir, fmt.Sprintf("%s-%s-%s", p.Name, time.Now().Format("20060102-150405"), uuid.NewString()[:8]))
	}
	return filepath.Abs(loc)
}

// recordingReconciler saves each snapshot after reconciling it.
type recordingReconciler struct {
	o *Orchestrator
	t *tracked
}

func (o *Orchestrator) recorder(t *tracked) *recordingReconciler {
	return &recordingReconciler{o: o, t: t}
}

func (r *recordingReconciler) Reconcile(h process.Handle, location string, prev *models.Execution) (*models.Execution, error) {
	exec, err := r.o.reconciler.Reconcile(h, location, prev)
	if err != nil {
		return nil, err
	}
	r.o.setLast(r.t, exec)
	r.o.record(r.t, exec)
	return exec, nil
}

type failing struct{ err error }

func (f failing) Reconcile(process.Handle, string, *models.Execution) (*models.Execution, error) {
	return nil, f.err
}

func mergeParams(base, overrides models.Params) models.Params {
	out := append(models.Params{}, base...)
	for _, kv := range overrides {
		out.Set(kv.Key, kv.Value)
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
