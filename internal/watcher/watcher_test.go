package watcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dholendar-27/sd-watcher-window/internal/models"
	"github.com/dholendar-27/sd-watcher-window/pkg/utils"
)

type fakeProvider struct {
	mu sync.Mutex
	fn func() (*Window, error)
}

func (p *fakeProvider) CurrentWindow() (*Window, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.fn()
}

func (p *fakeProvider) set(fn func() (*Window, error)) {
	p.mu.Lock()
	p.fn = fn
	p.mu.Unlock()
}

type fakeSender struct {
	mu         sync.Mutex
	events     []models.Event
	pulsetimes []float64
}

func (s *fakeSender) Heartbeat(ctx context.Context, bucketID string, event models.Event, pulsetime float64, queued bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	s.pulsetimes = append(s.pulsetimes, pulsetime)
	return nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func newTestWatcher(t *testing.T, config *Config, provider WindowProvider) (*Watcher, *fakeSender) {
	t.Helper()
	utils.InitLogger("error", "text", "stdout", "")

	sender := &fakeSender{}
	return NewWatcher(config, sender, provider, nil), sender
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func TestWatcherSendsHeartbeats(t *testing.T) {
	provider := &fakeProvider{fn: func() (*Window, error) {
		return &Window{App: "code", Title: "watcher.go"}, nil
	}}
	w, sender := newTestWatcher(t, &Config{
		BucketID:    "sd-watcher-window_host",
		PollTime:    10 * time.Millisecond,
		PulseMargin: time.Second,
	}, provider)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start watcher: %v", err)
	}
	defer w.Stop()

	waitFor(t, 2*time.Second, "heartbeats", func() bool { return sender.count() >= 3 })

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if sender.events[0].Data["app"] != "code" || sender.events[0].Data["title"] != "watcher.go" {
		t.Errorf("Unexpected heartbeat data: %v", sender.events[0].Data)
	}
	want := (10*time.Millisecond + time.Second).Seconds()
	if sender.pulsetimes[0] != want {
		t.Errorf("Expected pulsetime %v, got %v", want, sender.pulsetimes[0])
	}

	stats := w.GetStats()
	if stats.Heartbeats < 3 || stats.Polls < 3 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	if stats.WindowChanges != 1 {
		t.Errorf("An unchanged window should count a single change, got %d", stats.WindowChanges)
	}
}

func TestWatcherExcludeTitle(t *testing.T) {
	provider := &fakeProvider{fn: func() (*Window, error) {
		return &Window{App: "firefox", Title: "very private"}, nil
	}}
	w, sender := newTestWatcher(t, &Config{
		BucketID:     "sd-watcher-window_host",
		PollTime:     10 * time.Millisecond,
		ExcludeTitle: true,
	}, provider)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start watcher: %v", err)
	}
	defer w.Stop()

	waitFor(t, 2*time.Second, "heartbeats", func() bool { return sender.count() >= 1 })

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if sender.events[0].Data["title"] != "excluded" {
		t.Errorf("Title should be replaced, got %v", sender.events[0].Data)
	}
	if sender.events[0].Data["app"] != "firefox" {
		t.Errorf("App name should pass through, got %v", sender.events[0].Data)
	}
}

func TestWatcherStopsOnFatalError(t *testing.T) {
	provider := &fakeProvider{fn: func() (*Window, error) {
		return nil, &FatalError{Reason: "X11 connection lost"}
	}}
	w, _ := newTestWatcher(t, &Config{
		BucketID: "sd-watcher-window_host",
		PollTime: 10 * time.Millisecond,
	}, provider)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start watcher: %v", err)
	}

	waitFor(t, 2*time.Second, "watcher to stop", func() bool { return !w.IsRunning() })

	health := w.GetHealth()
	if health.Healthy {
		t.Errorf("Watcher should be unhealthy after a fatal error: %+v", health)
	}
	if w.GetStats().LastFatalError != "X11 connection lost" {
		t.Errorf("Fatal reason should be recorded, got %q", w.GetStats().LastFatalError)
	}
}

func TestWatcherSkipsTransientErrors(t *testing.T) {
	provider := &fakeProvider{fn: func() (*Window, error) {
		return nil, errors.New("xprop timed out")
	}}
	w, sender := newTestWatcher(t, &Config{
		BucketID: "sd-watcher-window_host",
		PollTime: 10 * time.Millisecond,
	}, provider)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start watcher: %v", err)
	}
	defer w.Stop()

	waitFor(t, 2*time.Second, "poll errors", func() bool { return w.GetStats().PollErrors >= 2 })
	if !w.IsRunning() {
		t.Fatalf("Transient errors must not stop the watcher")
	}

	// The provider recovers and heartbeats resume
	provider.set(func() (*Window, error) {
		return &Window{App: "code", Title: "watcher.go"}, nil
	})
	waitFor(t, 2*time.Second, "recovery", func() bool { return sender.count() >= 1 })
}

func TestWatcherSkipsNilWindow(t *testing.T) {
	provider := &fakeProvider{fn: func() (*Window, error) { return nil, nil }}
	w, sender := newTestWatcher(t, &Config{
		BucketID: "sd-watcher-window_host",
		PollTime: 10 * time.Millisecond,
	}, provider)

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start watcher: %v", err)
	}
	defer w.Stop()

	waitFor(t, 2*time.Second, "polls", func() bool { return w.GetStats().Polls >= 3 })
	if sender.count() != 0 {
		t.Errorf("No heartbeats expected without a window, got %d", sender.count())
	}
	if !w.IsRunning() {
		t.Errorf("A missing window must not stop the watcher")
	}
}

func TestWatcherStopsOnContextCancel(t *testing.T) {
	provider := &fakeProvider{fn: func() (*Window, error) {
		return &Window{App: "code", Title: "watcher.go"}, nil
	}}
	w, _ := newTestWatcher(t, &Config{
		BucketID: "sd-watcher-window_host",
		PollTime: 10 * time.Millisecond,
	}, provider)

	ctx, cancel := context.WithCancel(context.Background())
	if err := w.Start(ctx); err != nil {
		t.Fatalf("Failed to start watcher: %v", err)
	}

	cancel()
	waitFor(t, 2*time.Second, "watcher to stop", func() bool { return !w.IsRunning() })
}
