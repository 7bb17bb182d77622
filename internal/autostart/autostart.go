// Package autostart installs and removes the login item that starts the
// watcher with the user session.
package autostart

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"

	"github.com/dholendar-27/sd-watcher-window/pkg/utils"
)

const appName = "sd-watcher-window"

const launchdPlist = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key>
    <string>net.sundial.%s</string>
    <key>ProgramArguments</key>
    <array>
        <string>%s</string>
    </array>
    <key>RunAtLoad</key>
    <true/>
</dict>
</plist>
`

const desktopEntry = `[Desktop Entry]
Type=Application
Name=%s
Exec=%s
X-GNOME-Autostart-enabled=true
`

const startupCmd = "@echo off\r\nstart \"\" \"%s\"\r\n"

// Install writes the platform login item pointing at the running binary.
func Install() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", utils.NewAppError(utils.ErrCodeConfiguration, "Failed to resolve executable path", err.Error())
	}

	path, content, err := entryFor(exe)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", utils.NewAppError(utils.ErrCodeConfiguration, "Failed to create autostart directory", err.Error())
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return "", utils.NewAppError(utils.ErrCodeConfiguration, "Failed to write autostart entry", err.Error())
	}
	return path, nil
}

// Remove deletes the login item. Removing an absent entry is not an error.
func Remove() (string, error) {
	path, _, err := entryFor("")
	if err != nil {
		return "", err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return "", utils.NewAppError(utils.ErrCodeConfiguration, "Failed to remove autostart entry", err.Error())
	}
	return path, nil
}

// Installed reports whether the login item exists.
func Installed() (bool, error) {
	path, _, err := entryFor("")
	if err != nil {
		return false, err
	}
	_, statErr := os.Stat(path)
	if statErr == nil {
		return true, nil
	}
	if os.IsNotExist(statErr) {
		return false, nil
	}
	return false, statErr
}

func entryFor(exe string) (path, content string, err error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", "", utils.NewAppError(utils.ErrCodeConfiguration, "Failed to resolve home directory", err.Error())
	}

	switch runtime.GOOS {
	case "darwin":
		path = filepath.Join(home, "Library", "LaunchAgents", "net.sundial."+appName+".plist")
		content = fmt.Sprintf(launchdPlist, appName, exe)
	case "windows":
		path = filepath.Join(os.Getenv("APPDATA"),
			"Microsoft", "Windows", "Start Menu", "Programs", "Startup", appName+".cmd")
		content = fmt.Sprintf(startupCmd, exe)
	default:
		configDir := os.Getenv("XDG_CONFIG_HOME")
		if configDir == "" {
			configDir = filepath.Join(home, ".config")
		}
		path = filepath.Join(configDir, "autostart", appName+".desktop")
		content = fmt.Sprintf(desktopEntry, appName, exe)
	}
	return path, content, nil
}
