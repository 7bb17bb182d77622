package client

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dholendar-27/sd-watcher-window/pkg/utils"
)

// SingleInstance guards against two clients with the same name talking to
// the same server. The lock is a file in the cache dir holding the owner
// PID; locks from dead processes are reclaimed.
type SingleInstance struct {
	lockfile string
}

// NewSingleInstance acquires the lock for the given client name, or
// returns an error when another live instance holds it.
func NewSingleInstance(name string) (*SingleInstance, error) {
	dir, err := utils.GetCacheDir("client_locks")
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeInternal, "Failed to resolve lock directory", err.Error())
	}

	lockfile := filepath.Join(dir, name)

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(lockfile, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			fmt.Fprintf(f, "%d", os.Getpid())
			f.Close()
			return &SingleInstance{lockfile: lockfile}, nil
		}
		if !os.IsExist(err) {
			return nil, utils.NewAppError(utils.ErrCodeInternal, "Failed to create lock file", err.Error())
		}

		if pid, ok := readLockPID(lockfile); ok && processAlive(pid) {
			return nil, utils.NewAppError(utils.ErrCodeValidation,
				"Another instance is already running", fmt.Sprintf("pid %d holds %s", pid, lockfile))
		}

		// Stale lock from an interrupted run, reclaim it.
		if err := os.Remove(lockfile); err != nil && !os.IsNotExist(err) {
			return nil, utils.NewAppError(utils.ErrCodeInternal, "Failed to remove stale lock file", err.Error())
		}
	}

	return nil, utils.NewAppError(utils.ErrCodeValidation, "Another instance is already running", lockfile)
}

// Release gives up the lock.
func (s *SingleInstance) Release() error {
	if s == nil || s.lockfile == "" {
		return nil
	}
	err := os.Remove(s.lockfile)
	s.lockfile = ""
	if err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func readLockPID(lockfile string) (int, bool) {
	data, err := os.ReadFile(lockfile)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, true
}
