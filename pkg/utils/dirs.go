package utils

import (
	"os"
	"path/filepath"
)

// GetDataDir returns (and creates) the data directory for a module,
// e.g. ~/.local/share/sd-watcher-window on Linux.
func GetDataDir(module string) (string, error) {
	base, err := dataHome()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(base, module)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

// GetConfigDir returns (and creates) the config directory for a module.
func GetConfigDir(module string) (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(base, module)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

// GetCacheDir returns (and creates) the cache directory for a module.
func GetCacheDir(module string) (string, error) {
	base, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(base, module)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

func dataHome() (string, error) {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return xdg, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	// UserConfigDir already handles the darwin/windows conventions,
	// only Linux separates data from config.
	if cfg, err := os.UserConfigDir(); err == nil && cfg != filepath.Join(home, ".config") {
		return cfg, nil
	}
	return filepath.Join(home, ".local", "share"), nil
}
