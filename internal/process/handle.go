// Package process wraps the workflow engine process, either one nfwatch
// started itself or one it attached to after the fact.
package process

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Handle is the view of an engine process the reconciler works from.
// Implementations must answer IsRunning and ExitCode without blocking.
type Handle interface {
	PID() int // 0 when unknown
	Args() []string
	StartedAt() time.Time
	IsRunning() bool
	// ExitCode returns false until the process is known to have exited.
	ExitCode() (int, bool)
	// ExitedAt is zero until the process is known to have exited.
	ExitedAt() time.Time
	// Wait blocks until the process exits or ctx is done.
	Wait(ctx context.Context) (int, error)
}

var (
	ErrBinaryNotFound = errors.New("engine binary not found")
	ErrImmediateExit  = errors.New("engine exited during startup")
)

// LaunchError means the engine could not be started at all. It is never used
// for a pipeline that started and then failed.
type LaunchError struct {
	Args     []string
	ExitCode int
	Output   string // tail of what the engine printed before dying
	Err      error
}

func (e *LaunchError) Error() string {
	msg := fmt.Sprintf("failed to launch %s: %v", strings.Join(e.Args, " "), e.Err)
	if e.Output != "" {
		msg += "\n" + e.Output
	}
	return msg
}

func (e *LaunchError) Unwrap() error { return e.Err }

// waitPoll is how often Wait re-checks a process it cannot block on.
const waitPoll = 100 * time.Millisecond

func pollWait(ctx context.Context, h Handle) (int, error) {
	ticker := time.NewTicker(waitPoll)
	defer ticker.Stop()
	for {
		if !h.IsRunning() {
			if code, ok := h.ExitCode(); ok {
				return code, nil
			}
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-ticker.C:
		}
	}
}
