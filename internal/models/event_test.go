package models

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestEventJSON(t *testing.T) {
	t0 := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	t.Run("Duration Serialized As Seconds", func(t *testing.T) {
		event := Event{
			Timestamp: t0,
			Duration:  1500 * time.Millisecond,
			Data:      map[string]interface{}{"app": "Terminal"},
		}

		out, err := json.Marshal(event)
		if err != nil {
			t.Fatalf("Failed to marshal event: %v", err)
		}
		if !strings.Contains(string(out), `"duration":1.5`) {
			t.Errorf("Expected duration serialized as 1.5 seconds, got %s", out)
		}
	})

	t.Run("Unmarshal Server Payload", func(t *testing.T) {
		payload := `{"id": 42, "timestamp": "2026-08-01T12:00:00Z", "duration": 2.5, "data": {"app": "Firefox", "title": "sundial"}}`

		var event Event
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			t.Fatalf("Failed to unmarshal event: %v", err)
		}
		if event.ID != 42 {
			t.Errorf("Expected ID 42, got %d", event.ID)
		}
		if !event.Timestamp.Equal(t0) {
			t.Errorf("Expected timestamp %v, got %v", t0, event.Timestamp)
		}
		if event.Duration != 2500*time.Millisecond {
			t.Errorf("Expected duration 2.5s, got %v", event.Duration)
		}
		if event.Data["app"] != "Firefox" {
			t.Errorf("Unexpected data: %v", event.Data)
		}
	})

	t.Run("Zero ID Omitted", func(t *testing.T) {
		out, err := json.Marshal(Event{Timestamp: t0, Data: map[string]interface{}{}})
		if err != nil {
			t.Fatalf("Failed to marshal event: %v", err)
		}
		if strings.Contains(string(out), `"id"`) {
			t.Errorf("Unsent events must not carry an id, got %s", out)
		}
	})
}

func TestEventEnd(t *testing.T) {
	t0 := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	event := Event{Timestamp: t0, Duration: 90 * time.Second}

	if got := event.End(); !got.Equal(t0.Add(90 * time.Second)) {
		t.Errorf("Expected end %v, got %v", t0.Add(90*time.Second), got)
	}
}

func TestEventDataEquals(t *testing.T) {
	a := Event{Data: map[string]interface{}{"app": "code", "title": "main.go"}}
	b := Event{Data: map[string]interface{}{"title": "main.go", "app": "code"}}
	c := Event{Data: map[string]interface{}{"app": "code", "title": "other.go"}}

	if !a.DataEquals(b) {
		t.Errorf("Events with identical data should be equal")
	}
	if a.DataEquals(c) {
		t.Errorf("Events with different data should not be equal")
	}
}
