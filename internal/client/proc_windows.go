//go:build windows

package client

import "golang.org/x/sys/windows"

// processAlive reports whether a process with the given PID exists.
// Signals cannot check liveness on Windows, so the process handle is
// opened and its exit code checked instead.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(handle)

	var code uint32
	if err := windows.GetExitCodeProcess(handle, &code); err != nil {
		return false
	}
	return code == uint32(windows.STILL_ACTIVE)
}
