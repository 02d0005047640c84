// Package watch turns filesystem activity in a run directory into wake-ups
// for the poll driver, so snapshots follow writes instead of only the
// poll interval.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mpataki/nfwatch/internal/logging"
	"github.com/mpataki/nfwatch/internal/workspace"
)

// DefaultDebounce collapses a burst of writes into one wake-up.
const DefaultDebounce = 200 * time.Millisecond

// Watcher signals on Wake after files the reconciler reads have changed.
// Signals coalesce: at most one is pending at a time.
type Watcher struct {
	ws       *workspace.Workspace
	watcher  *fsnotify.Watcher
	wake     chan struct{}
	debounce time.Duration
	logger   *slog.Logger
}

func NewWatcher(ws *workspace.Workspace, debounce time.Duration, logger *slog.Logger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = logging.Discard()
	}
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	return &Watcher{
		ws:       ws,
		watcher:  fsWatcher,
		wake:     make(chan struct{}, 1),
		debounce: debounce,
		logger:   logger,
	}, nil
}

// Wake is meant for poll.Options.Wake.
func (w *Watcher) Wake() <-chan struct{} {
	return w.wake
}

// Start watches the run directory and its state directory until ctx is
// done or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	for _, dir := range []string{w.ws.Path, filepath.Dir(w.ws.StdoutPath())} {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := w.watcher.Add(dir); err != nil {
			return fmt.Errorf("failed to watch directory %s: %w", dir, err)
		}
	}

	go w.run(ctx)
	return nil
}

func (w *Watcher) Stop() error {
	return w.watcher.Close()
}

func (w *Watcher) run(ctx context.Context) {
	var pending bool
	var last time.Time
	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !relevant(event) {
				continue
			}
			pending = true
			last = time.Now()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Debug("watch error", "dir", w.ws.Path, "err", err)

		case <-ticker.C:
			if pending && time.Since(last) >= w.debounce {
				pending = false
				w.signal()
			}
		}
	}
}

func (w *Watcher) signal() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// relevant keeps writes to the files a snapshot is built from.
func relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return false
	}
	name := filepath.Base(event.Name)
	switch {
	case name == ".nextflow.log", name == ".nextflow.pid":
		return true
	case strings.HasPrefix(name, "trace") && strings.HasSuffix(name, ".txt"):
		return true
	case name == "stdout.log", name == "stderr.log", name == "launch.json":
		return true
	}
	return false
}
