//go:build windows

package liveness

import "os"

type oracleImpl struct{}

// Alive checks the process table via os.FindProcess, which on Windows
// opens a handle to the target and fails if the pid is not in use.
func (oracleImpl) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	_ = proc.Release()
	return true
}
