//go:build darwin

package watcher

import (
	"testing"
)

func TestNewProviderStrategies(t *testing.T) {
	for _, strategy := range []string{"", "applescript", "jxa"} {
		provider, err := NewProvider(strategy)
		if err != nil {
			t.Fatalf("Strategy %q rejected: %v", strategy, err)
		}
		if provider == nil {
			t.Fatalf("Strategy %q returned no provider", strategy)
		}
	}

	want := map[string]string{"": "applescript", "applescript": "applescript", "jxa": "jxa"}
	for strategy, resolved := range want {
		provider, _ := NewProvider(strategy)
		if got := provider.(*MacOSProvider).strategy; got != resolved {
			t.Errorf("Strategy %q resolved to %q, want %q", strategy, got, resolved)
		}
	}

	if _, err := NewProvider("swift"); err == nil {
		t.Error("Unknown strategy should be rejected")
	}
}

func TestParseJXAOutput(t *testing.T) {
	t.Run("browser window with url", func(t *testing.T) {
		window, err := parseJXAOutput([]byte(`{"app":"Safari","title":"Example Domain","url":"https://example.com/"}`))
		if err != nil {
			t.Fatalf("Failed to parse output: %v", err)
		}
		if window.App != "Safari" || window.Title != "Example Domain" || window.URL != "https://example.com/" {
			t.Errorf("Unexpected window: %+v", window)
		}
	})

	t.Run("empty fields fall back to unknown", func(t *testing.T) {
		window, err := parseJXAOutput([]byte(`{"app":"","title":"","url":""}`))
		if err != nil {
			t.Fatalf("Failed to parse output: %v", err)
		}
		if window.App != "unknown" || window.Title != "unknown" {
			t.Errorf("Expected unknown fallbacks, got %+v", window)
		}
		if window.URL != "" {
			t.Errorf("URL should stay empty, got %q", window.URL)
		}
	})

	t.Run("malformed output", func(t *testing.T) {
		if _, err := parseJXAOutput([]byte("Error: Can't get object.")); err == nil {
			t.Error("Expected an error for non-JSON output")
		}
	})
}
