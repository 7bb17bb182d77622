//go:build !windows

package client

import (
	"os"
	"syscall"
)

// processAlive reports whether a process with the given PID exists.
// Signal 0 performs the permission and existence checks without
// delivering anything.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}
