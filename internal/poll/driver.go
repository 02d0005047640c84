// Package poll drives repeated reconciliation of one execution until it
// reaches a terminal status.
package poll

import (
	"context"
	"errors"
	"io"
	"iter"
	"time"

	"github.com/mpataki/nfwatch/internal/models"
	"github.com/mpataki/nfwatch/internal/process"
)

// DefaultInterval is the pause between polls when none is given.
const DefaultInterval = 2 * time.Second

// ErrConsumed is yielded when All is iterated a second time.
var ErrConsumed = errors.New("poll sequence already consumed")

type State int

const (
	NotStarted State = iota
	Polling
	Done
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "NOT_STARTED"
	case Polling:
		return "POLLING"
	case Done:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// Reconciler produces the next snapshot of the run at location.
type Reconciler interface {
	Reconcile(h process.Handle, location string, prev *models.Execution) (*models.Execution, error)
}

type Options struct {
	Interval time.Duration
	// Wake cuts a pending sleep short, typically fed by a file watcher.
	Wake <-chan struct{}
}

// Driver is pull driven: nothing happens between calls to Next. It is not
// safe for concurrent use.
type Driver struct {
	r        Reconciler
	h        process.Handle
	location string
	opts     Options

	state    State
	last     *models.Execution
	consumed bool
}

// New returns a driver for the execution at location. start is the
// snapshot to continue from and may be nil.
func New(r Reconciler, h process.Handle, location string, start *models.Execution, opts Options) *Driver {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	return &Driver{r: r, h: h, location: location, opts: opts, last: start}
}

func (d *Driver) State() State { return d.state }

// Last is the most recent snapshot, or the starting one before any poll.
func (d *Driver) Last() *models.Execution { return d.last }

// Next waits the poll interval (except on the first call) and returns a
// fresh snapshot. After a terminal snapshot it returns io.EOF. A reconcile
// error leaves the driver where it was so the caller may retry.
func (d *Driver) Next(ctx context.Context) (*models.Execution, error) {
	switch d.state {
	case Done:
		return nil, io.EOF
	case Polling:
		if err := d.sleep(ctx); err != nil {
			return nil, err
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	exec, err := d.r.Reconcile(d.h, d.location, d.last)
	if err != nil {
		return nil, err
	}
	d.state = Polling
	d.last = exec
	if exec.Status.Terminal() {
		d.state = Done
	}
	return exec, nil
}

// All yields every snapshot up to and including the terminal one. The
// sequence can be ranged over once; later uses yield ErrConsumed. Breaking
// out of the loop leaves the engine process alone. An error ends the
// sequence after it is yielded.
func (d *Driver) All(ctx context.Context) iter.Seq2[*models.Execution, error] {
	return func(yield func(*models.Execution, error) bool) {
		if d.consumed {
			yield(nil, ErrConsumed)
			return
		}
		d.consumed = true

		for {
			exec, err := d.Next(ctx)
			if errors.Is(err, io.EOF) {
				return
			}
			if !yield(exec, err) || err != nil {
				return
			}
		}
	}
}

func (d *Driver) sleep(ctx context.Context) error {
	timer := time.NewTimer(d.opts.Interval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	case <-d.opts.Wake:
	}
	return nil
}
