package client

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dholendar-27/sd-watcher-window/pkg/utils"
)

func TestSingleInstance(t *testing.T) {
	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	utils.InitLogger("error", "text", "stdout", "")

	instance, err := NewSingleInstance("test-client-at-localhost-on-7600")
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}

	if _, err := NewSingleInstance("test-client-at-localhost-on-7600"); err == nil {
		t.Fatalf("Second acquire of a held lock must fail")
	}

	// A different name is a different lock
	other, err := NewSingleInstance("test-client-at-localhost-on-5666")
	if err != nil {
		t.Fatalf("Unrelated lock should be acquirable: %v", err)
	}
	other.Release()

	if err := instance.Release(); err != nil {
		t.Fatalf("Failed to release lock: %v", err)
	}

	reacquired, err := NewSingleInstance("test-client-at-localhost-on-7600")
	if err != nil {
		t.Fatalf("Released lock should be acquirable: %v", err)
	}
	reacquired.Release()
}

func TestProcessAlive(t *testing.T) {
	if !processAlive(os.Getpid()) {
		t.Errorf("The running process must be reported alive")
	}
	// A PID far beyond any live process
	if processAlive(2147483647) {
		t.Errorf("A nonexistent PID must be reported dead")
	}
	if processAlive(0) || processAlive(-1) {
		t.Errorf("Non-positive PIDs must be reported dead")
	}
}

func TestSingleInstanceReclaimsStaleLock(t *testing.T) {
	cacheDir := t.TempDir()
	t.Setenv("XDG_CACHE_HOME", cacheDir)
	utils.InitLogger("error", "text", "stdout", "")

	lockDir := filepath.Join(cacheDir, "client_locks")
	if err := os.MkdirAll(lockDir, 0755); err != nil {
		t.Fatalf("Failed to create lock dir: %v", err)
	}

	t.Run("Dead PID", func(t *testing.T) {
		// A PID far beyond any live process
		lockfile := filepath.Join(lockDir, "stale-pid")
		if err := os.WriteFile(lockfile, []byte("2147483647"), 0644); err != nil {
			t.Fatalf("Failed to write stale lock: %v", err)
		}

		instance, err := NewSingleInstance("stale-pid")
		if err != nil {
			t.Fatalf("Lock of a dead process should be reclaimed: %v", err)
		}
		instance.Release()
	})

	t.Run("Corrupt Content", func(t *testing.T) {
		lockfile := filepath.Join(lockDir, "corrupt")
		if err := os.WriteFile(lockfile, []byte("not a pid"), 0644); err != nil {
			t.Fatalf("Failed to write corrupt lock: %v", err)
		}

		instance, err := NewSingleInstance("corrupt")
		if err != nil {
			t.Fatalf("Corrupt lock should be reclaimed: %v", err)
		}
		instance.Release()
	})
}
