package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/dholendar-27/sd-watcher-window/internal/models"
	"github.com/dholendar-27/sd-watcher-window/internal/queue"
	"github.com/dholendar-27/sd-watcher-window/internal/watcher"
	"github.com/dholendar-27/sd-watcher-window/pkg/utils"
)

type stubProvider struct{}

func (stubProvider) CurrentWindow() (*watcher.Window, error) {
	return &watcher.Window{App: "code", Title: "server.go"}, nil
}

type stubSender struct{}

func (stubSender) Heartbeat(ctx context.Context, bucketID string, event models.Event, pulsetime float64, queued bool) error {
	return nil
}

type stubServerClient struct{}

func (stubServerClient) Ping() error { return nil }

func (stubServerClient) CreateBucket(bucketID, eventType string) error { return nil }

func (stubServerClient) PostQueued(endpoint string, data json.RawMessage) error { return nil }

func newTestServer(t *testing.T) (*StatusServer, *watcher.Watcher) {
	t.Helper()
	utils.InitLogger("error", "text", "stdout", "")

	store := queue.NewSQLiteStore(&queue.StoreConfig{
		Path: filepath.Join(t.TempDir(), "status.v1.queue.db"),
	})
	if err := store.Connect(); err != nil {
		t.Fatalf("Failed to connect queue store: %v", err)
	}
	if err := store.Migrate(); err != nil {
		t.Fatalf("Failed to migrate queue store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	dispatcher := queue.NewDispatcher(&queue.DispatcherConfig{ClientName: "test-client"}, store, stubServerClient{}, nil)

	w := watcher.NewWatcher(&watcher.Config{
		BucketID: "sd-watcher-window_host",
		PollTime: 10 * time.Millisecond,
	}, stubSender{}, stubProvider{}, nil)

	s := NewStatusServer(&Config{
		Host:          "127.0.0.1",
		Port:          0,
		ReadTimeout:   time.Second,
		WriteTimeout:  time.Second,
		EnableMetrics: true,
	}, w, dispatcher, nil, "test-version")

	return s, w
}

func doRequest(s *StatusServer, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	s, w := newTestServer(t)

	// Stopped watcher reports unhealthy
	rec := doRequest(s, "GET", "/api/v1/health")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503 while stopped, got %d", rec.Code)
	}

	if err := w.Start(context.Background()); err != nil {
		t.Fatalf("Failed to start watcher: %v", err)
	}
	defer w.Stop()

	rec = doRequest(s, "GET", "/api/v1/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 while running, got %d", rec.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode health response: %v", err)
	}
	if body["healthy"] != true || body["version"] != "test-version" {
		t.Errorf("Unexpected health body: %v", body)
	}
}

func TestStatusEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(s, "GET", "/api/v1/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode status response: %v", err)
	}
	for _, key := range []string{"watcher", "queue", "queue_depth", "server_connected", "version"} {
		if _, ok := body[key]; !ok {
			t.Errorf("Status body missing %q: %v", key, body)
		}
	}
}

func TestQueueEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(s, "GET", "/api/v1/queue")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Failed to decode queue response: %v", err)
	}
	if body["depth"] != float64(0) {
		t.Errorf("Expected empty queue, got %v", body["depth"])
	}
	if body["connected"] != false {
		t.Errorf("Expected disconnected queue, got %v", body["connected"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(s, "GET", "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 from /metrics, got %d", rec.Code)
	}
}

func TestCORSHeaders(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doRequest(s, "GET", "/api/v1/status")
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Errorf("Missing CORS headers")
	}
}
