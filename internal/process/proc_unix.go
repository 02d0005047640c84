//go:build !windows

package process

import (
	"errors"
	"os/exec"
	"syscall"
)

var errNotChild = errors.New("not a child process")

// configureCommand puts the engine in its own process group so a terminal
// interrupt aimed at nfwatch does not reach the pipeline.
func configureCommand(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// reap checks a child without blocking. done is false while it is alive.
func reap(pid int) (code int, done bool, err error) {
	var ws syscall.WaitStatus
	for {
		wpid, err := syscall.Wait4(pid, &ws, syscall.WNOHANG, nil)
		if err == syscall.EINTR {
			continue
		}
		if err == syscall.ECHILD {
			return 0, false, errNotChild
		}
		if err != nil {
			return 0, false, err
		}
		if wpid == 0 {
			return 0, false, nil
		}
		break
	}
	switch {
	case ws.Exited():
		return ws.ExitStatus(), true, nil
	case ws.Signaled():
		return 128 + int(ws.Signal()), true, nil
	default:
		// stopped or continued; still alive
		return 0, false, nil
	}
}

// processAlive probes pid with signal 0. An exited child of this process
// still answers the probe until reaped, so it is reaped first.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	if _, done, err := reap(pid); err == nil && done {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}
