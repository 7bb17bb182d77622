package transform

import (
	"testing"
	"time"

	"github.com/dholendar-27/sd-watcher-window/internal/models"
)

func makeEvent(ts time.Time, duration time.Duration, data map[string]interface{}) models.Event {
	return models.Event{Timestamp: ts, Duration: duration, Data: data}
}

func TestHeartbeatMerge(t *testing.T) {
	t0 := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	data := map[string]interface{}{"app": "Firefox", "title": "Hacker News"}

	t.Run("Merge Within Pulse Window", func(t *testing.T) {
		last := makeEvent(t0, 0, data)
		hb := makeEvent(t0.Add(5*time.Second), 0, data)

		merged, ok := HeartbeatMerge(last, hb, 10)
		if !ok {
			t.Fatalf("Expected heartbeats to merge")
		}
		if !merged.Timestamp.Equal(t0) {
			t.Errorf("Merged event should keep the timestamp of last, got %v", merged.Timestamp)
		}
		if merged.Duration != 5*time.Second {
			t.Errorf("Expected merged duration 5s, got %v", merged.Duration)
		}
	})

	t.Run("No Merge When Data Differs", func(t *testing.T) {
		last := makeEvent(t0, 0, data)
		hb := makeEvent(t0.Add(time.Second), 0, map[string]interface{}{"app": "Terminal", "title": "zsh"})

		if _, ok := HeartbeatMerge(last, hb, 10); ok {
			t.Fatalf("Heartbeats with different data must not merge")
		}
	})

	t.Run("No Merge Outside Pulse Window", func(t *testing.T) {
		last := makeEvent(t0, 2*time.Second, data)
		// Window ends at t0+2s+10s; 13s is past it.
		hb := makeEvent(t0.Add(13*time.Second), 0, data)

		if _, ok := HeartbeatMerge(last, hb, 10); ok {
			t.Fatalf("Heartbeat past the pulse window must not merge")
		}
	})

	t.Run("Pulse Window Counts From End Of Last", func(t *testing.T) {
		last := makeEvent(t0, 2*time.Second, data)
		// 11s after start but only 9s after the end of last.
		hb := makeEvent(t0.Add(11*time.Second), 0, data)

		merged, ok := HeartbeatMerge(last, hb, 10)
		if !ok {
			t.Fatalf("Heartbeat within pulsetime of last.End() should merge")
		}
		if merged.Duration != 11*time.Second {
			t.Errorf("Expected merged duration 11s, got %v", merged.Duration)
		}
	})

	t.Run("No Merge Backwards", func(t *testing.T) {
		last := makeEvent(t0, 0, data)
		hb := makeEvent(t0.Add(-time.Second), 0, data)

		if _, ok := HeartbeatMerge(last, hb, 10); ok {
			t.Fatalf("Out-of-order heartbeats must not merge")
		}
	})

	t.Run("Duration Never Shrinks", func(t *testing.T) {
		last := makeEvent(t0, 10*time.Second, data)
		hb := makeEvent(t0.Add(3*time.Second), 0, data)

		merged, ok := HeartbeatMerge(last, hb, 10)
		if !ok {
			t.Fatalf("Expected heartbeats to merge")
		}
		if merged.Duration != 10*time.Second {
			t.Errorf("Merging must not shorten the span, got %v", merged.Duration)
		}
	})

	t.Run("Heartbeat With Duration Extends Span", func(t *testing.T) {
		last := makeEvent(t0, time.Second, data)
		hb := makeEvent(t0.Add(2*time.Second), 4*time.Second, data)

		merged, ok := HeartbeatMerge(last, hb, 10)
		if !ok {
			t.Fatalf("Expected heartbeats to merge")
		}
		if merged.Duration != 6*time.Second {
			t.Errorf("Expected merged duration 6s, got %v", merged.Duration)
		}
	})
}
