//go:build windows

package watcher

import (
	"encoding/json"
	"os/exec"
	"strings"
)

// The PowerShell snippet reports the process name and title of the
// foreground window as JSON.
const powershellSource = `
Add-Type @"
using System;
using System.Runtime.InteropServices;
public class FG {
    [DllImport("user32.dll")]
    public static extern IntPtr GetForegroundWindow();
    [DllImport("user32.dll")]
    public static extern uint GetWindowThreadProcessId(IntPtr hWnd, out uint pid);
}
"@
$hwnd = [FG]::GetForegroundWindow()
$procId = 0
[FG]::GetWindowThreadProcessId($hwnd, [ref]$procId) | Out-Null
$proc = Get-Process -Id $procId
@{ app = $proc.ProcessName + ".exe"; title = $proc.MainWindowTitle } | ConvertTo-Json -Compress
`

// WindowsProvider reads the foreground window through PowerShell.
type WindowsProvider struct{}

// NewProvider returns the platform window provider.
func NewProvider(strategy string) (WindowProvider, error) {
	return &WindowsProvider{}, nil
}

func (p *WindowsProvider) CurrentWindow() (*Window, error) {
	out, err := exec.Command("powershell", "-NoProfile", "-NonInteractive", "-Command", powershellSource).Output()
	if err != nil {
		if _, ok := err.(*exec.Error); ok {
			return nil, &FatalError{Reason: "powershell not found"}
		}
		return nil, err
	}

	var result struct {
		App   string `json:"app"`
		Title string `json:"title"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(out))), &result); err != nil {
		return nil, err
	}

	window := &Window{App: result.App, Title: result.Title}
	if window.App == "" {
		window.App = "unknown"
	}
	if window.Title == "" {
		window.Title = "unknown"
	}
	return window, nil
}
