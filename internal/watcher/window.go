// Package watcher implements the active-window poll loop: on every tick
// the current window is read through a platform provider and reported to
// the server as a queued heartbeat.
package watcher

import "fmt"

// Window describes the currently active window.
type Window struct {
	App   string `json:"app"`
	Title string `json:"title"`
	URL   string `json:"url,omitempty"`
}

// Data returns the heartbeat payload for the window.
func (w Window) Data() map[string]interface{} {
	data := map[string]interface{}{
		"app":   w.App,
		"title": w.Title,
	}
	if w.URL != "" {
		data["url"] = w.URL
	}
	return data
}

// WindowProvider reads the active window on a specific platform.
type WindowProvider interface {
	// CurrentWindow returns the active window. A nil window with a nil
	// error means no window could be determined this tick.
	CurrentWindow() (*Window, error)
}

// FatalError stops the watcher; regular errors only skip the tick.
type FatalError struct {
	Reason string
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal watcher error: %s", e.Reason)
}
