//go:build darwin

package watcher

import (
	"encoding/json"
	"os/exec"
	"strings"
)

// The AppleScript returns the frontmost app name and window title on two
// lines. The title line is empty when the app exposes no AXTitle.
const appleScriptSource = `
global frontApp, frontAppName, windowTitle

set windowTitle to ""
tell application "System Events"
    set frontApp to first application process whose frontmost is true
    set frontAppName to name of frontApp
    tell process frontAppName
        try
            tell (1st window whose value of attribute "AXMain" is true)
                set windowTitle to value of attribute "AXTitle"
            end tell
        end try
    end tell
end tell

return frontAppName & "
" & windowTitle
`

// The JXA variant prints a JSON object. Unlike AppleScript it can ask
// browsers for the active tab, so the payload carries a url for Safari
// and the Chromium family.
const jxaSource = `
ObjC.import('stdlib');

var seApp = Application('System Events');
var oProcess = seApp.processes.whose({frontmost: true})[0];
var appName = oProcess.displayedName();

var url = "", title = "";
switch (appName) {
  case "Safari":
    url = Application(appName).documents[0].url();
    title = Application(appName).documents[0].name();
    break;
  case "Google Chrome":
  case "Google Chrome Canary":
  case "Chromium":
  case "Brave Browser":
    var activeTab = Application(appName).windows[0].activeTab;
    url = activeTab.url();
    title = activeTab.name();
    break;
  default:
    try {
      var mainWindow = oProcess.windows().find(function(w) {
        return w.attributes.byName("AXMain").value() === true;
      });
      title = mainWindow.attributes.byName("AXTitle").value();
    } catch (e) {}
}

JSON.stringify({app: appName, title: title, url: url});
`

// MacOSProvider reads the active window through osascript. The jxa
// strategy resolves browser tab URLs, applescript only sees app and
// title.
type MacOSProvider struct {
	strategy string
}

// NewProvider returns the platform window provider.
func NewProvider(strategy string) (WindowProvider, error) {
	switch strategy {
	case "", "applescript":
		return &MacOSProvider{strategy: "applescript"}, nil
	case "jxa":
		return &MacOSProvider{strategy: "jxa"}, nil
	default:
		return nil, &FatalError{Reason: "invalid macOS strategy '" + strategy + "'"}
	}
}

func (p *MacOSProvider) CurrentWindow() (*Window, error) {
	if p.strategy == "jxa" {
		return p.currentWindowJXA()
	}
	return p.currentWindowAppleScript()
}

func (p *MacOSProvider) currentWindowAppleScript() (*Window, error) {
	out, err := exec.Command("osascript", "-e", appleScriptSource).Output()
	if err != nil {
		if _, ok := err.(*exec.Error); ok {
			return nil, &FatalError{Reason: "osascript not found"}
		}
		return nil, err
	}

	lines := strings.SplitN(strings.TrimRight(string(out), "\n"), "\n", 2)
	window := &Window{App: "unknown", Title: "unknown"}
	if len(lines) > 0 && lines[0] != "" {
		window.App = lines[0]
	}
	if len(lines) > 1 && lines[1] != "" {
		window.Title = lines[1]
	}
	return window, nil
}

func (p *MacOSProvider) currentWindowJXA() (*Window, error) {
	out, err := exec.Command("osascript", "-l", "JavaScript", "-e", jxaSource).Output()
	if err != nil {
		if _, ok := err.(*exec.Error); ok {
			return nil, &FatalError{Reason: "osascript not found"}
		}
		return nil, err
	}
	return parseJXAOutput(out)
}

func parseJXAOutput(out []byte) (*Window, error) {
	var payload struct {
		App   string `json:"app"`
		Title string `json:"title"`
		URL   string `json:"url"`
	}
	if err := json.Unmarshal(out, &payload); err != nil {
		return nil, err
	}

	window := &Window{App: "unknown", Title: "unknown", URL: payload.URL}
	if payload.App != "" {
		window.App = payload.App
	}
	if payload.Title != "" {
		window.Title = payload.Title
	}
	return window, nil
}
