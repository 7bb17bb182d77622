//go:build linux

package watcher

import (
	"os"
	"os/exec"
	"regexp"
	"strings"
)

var windowIDPattern = regexp.MustCompile(`0x[0-9a-f]+`)

// X11Provider reads the active window by shelling out to xprop, the same
// way pre-EWMH tooling does: _NET_ACTIVE_WINDOW on the root window, then
// WM_CLASS and the window name on that ID.
type X11Provider struct{}

// NewProvider returns the platform window provider.
func NewProvider(strategy string) (WindowProvider, error) {
	if os.Getenv("DISPLAY") == "" {
		return nil, &FatalError{Reason: "DISPLAY environment variable not set"}
	}
	return &X11Provider{}, nil
}

func (p *X11Provider) CurrentWindow() (*Window, error) {
	windowID, err := activeWindowID()
	if err != nil {
		return nil, err
	}
	if windowID == "" || windowID == "0x0" {
		return &Window{App: "unknown", Title: "unknown"}, nil
	}

	out, err := xprop("-id", windowID, "WM_CLASS", "_NET_WM_NAME", "WM_NAME")
	if err != nil {
		return nil, err
	}

	cls := xpropFieldClass(out)
	name := xpropFieldStr("_NET_WM_NAME", out)
	if name == "unknown" {
		name = xpropFieldStr("WM_NAME", out)
	}

	return &Window{App: cls, Title: name}, nil
}

func activeWindowID() (string, error) {
	out, err := xprop("-root", "_NET_ACTIVE_WINDOW")
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(line, "_NET_ACTIVE_WINDOW(WINDOW)") {
			return windowIDPattern.FindString(line), nil
		}
	}
	return "", nil
}

func xprop(args ...string) (string, error) {
	out, err := exec.Command("xprop", args...).Output()
	if err != nil {
		if _, ok := err.(*exec.Error); ok {
			// xprop missing entirely, nothing will ever work
			return "", &FatalError{Reason: "xprop not found, is this an X11 session?"}
		}
		return "", err
	}
	return string(out), nil
}

// xpropFieldStr extracts a quoted string field from xprop output.
func xpropFieldStr(field, output string) string {
	for _, line := range strings.Split(output, "\n") {
		if !strings.HasPrefix(line, field) {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		value := strings.Trim(strings.TrimSpace(parts[1]), `"`)
		if value != "" {
			return value
		}
	}
	return "unknown"
}

// xpropFieldClass extracts the instance class from a WM_CLASS line, which
// looks like: WM_CLASS(STRING) = "instance", "class".
func xpropFieldClass(output string) string {
	for _, line := range strings.Split(output, "\n") {
		if !strings.HasPrefix(line, "WM_CLASS") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		fields := strings.Split(parts[1], ",")
		// The second value is the class proper; fall back to the first.
		for i := len(fields) - 1; i >= 0; i-- {
			if value := strings.Trim(strings.TrimSpace(fields[i]), `"`); value != "" {
				return value
			}
		}
	}
	return "unknown"
}
