//go:build windows

package process

import (
	"errors"
	"os/exec"
)

var errNotChild = errors.New("not a child process")

func configureCommand(cmd *exec.Cmd) {}

// reap has no non-blocking equivalent here; the process is reported as
// gone once the OS no longer knows it.
func reap(pid int) (code int, done bool, err error) {
	return 0, false, errors.New("non-blocking wait is not supported on windows")
}

func processAlive(pid int) bool { return false }
