//go:build !windows

package liveness

import (
	"errors"
	"os"
	"syscall"
)

type oracleImpl struct{}

// Alive probes the process table by delivering signal 0, which performs
// the permission and existence checks of kill(2) without sending anything.
func (oracleImpl) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}

	// On Unix FindProcess always succeeds, the probe happens in Signal.
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	err = proc.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}

	// EPERM means the process exists but belongs to another user.
	return errors.Is(err, syscall.EPERM)
}
