package queue

import (
	"encoding/json"
	"errors"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dholendar-27/sd-watcher-window/pkg/utils"
)

type fakeServer struct {
	mu      sync.Mutex
	pingErr error
	postErr error
	created []string
	posted  []string
}

func (f *fakeServer) Ping() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeServer) CreateBucket(bucketID, eventType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, bucketID)
	return nil
}

func (f *fakeServer) PostQueued(endpoint string, data json.RawMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.postErr != nil {
		return f.postErr
	}
	f.posted = append(f.posted, endpoint)
	return nil
}

func (f *fakeServer) setErrors(pingErr, postErr error) {
	f.mu.Lock()
	f.pingErr = pingErr
	f.postErr = postErr
	f.mu.Unlock()
}

func (f *fakeServer) postedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.posted)
}

func newTestDispatcher(t *testing.T, server *fakeServer) *Dispatcher {
	t.Helper()
	utils.InitLogger("error", "text", "stdout", "")

	store := NewSQLiteStore(&StoreConfig{
		Path: filepath.Join(t.TempDir(), "dispatch.v1.queue.db"),
	})
	return NewDispatcher(&DispatcherConfig{
		ClientName:        "test-client",
		ReconnectInterval: 20 * time.Millisecond,
		RetryDelay:        10 * time.Millisecond,
	}, store, server, nil)
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

func TestEnqueueRejectsNonHeartbeat(t *testing.T) {
	d := newTestDispatcher(t, &fakeServer{})
	if err := d.Enqueue("buckets/b/events", map[string]string{"app": "code"}); err == nil {
		t.Fatalf("Expected non-heartbeat enqueue to be rejected")
	}
}

func TestDispatcherDeliversQueued(t *testing.T) {
	server := &fakeServer{}
	d := newTestDispatcher(t, server)

	if err := d.Start(); err != nil {
		t.Fatalf("Failed to start dispatcher: %v", err)
	}
	defer d.Stop()

	if err := d.Enqueue("buckets/b/heartbeat?pulsetime=2", map[string]string{"app": "code"}); err != nil {
		t.Fatalf("Failed to enqueue heartbeat: %v", err)
	}

	waitFor(t, 2*time.Second, "heartbeat delivery", func() bool {
		return server.postedCount() == 1
	})

	stats := d.GetStats()
	if stats.Enqueued != 1 || stats.Dispatched != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	waitFor(t, time.Second, "empty queue", func() bool {
		size, err := d.Size()
		return err == nil && size == 0
	})
}

func TestDispatcherReplaysBucketsOnConnect(t *testing.T) {
	server := &fakeServer{}
	d := newTestDispatcher(t, server)
	d.RegisterBucket("sd-watcher-window_host", "currentwindow")

	if err := d.Start(); err != nil {
		t.Fatalf("Failed to start dispatcher: %v", err)
	}
	defer d.Stop()

	waitFor(t, 2*time.Second, "bucket replay", func() bool {
		server.mu.Lock()
		defer server.mu.Unlock()
		return len(server.created) > 0 && server.created[0] == "sd-watcher-window_host"
	})
}

func TestDispatcherDropsBadRequest(t *testing.T) {
	server := &fakeServer{postErr: &utils.HTTPError{StatusCode: http.StatusBadRequest, Status: "400 Bad Request"}}
	d := newTestDispatcher(t, server)

	if err := d.Start(); err != nil {
		t.Fatalf("Failed to start dispatcher: %v", err)
	}
	defer d.Stop()

	if err := d.Enqueue("buckets/b/heartbeat?pulsetime=2", map[string]string{}); err != nil {
		t.Fatalf("Failed to enqueue heartbeat: %v", err)
	}

	waitFor(t, 2*time.Second, "bad request drop", func() bool {
		return d.GetStats().Dropped == 1
	})

	size, err := d.Size()
	if err != nil {
		t.Fatalf("Failed to read queue size: %v", err)
	}
	if size != 0 {
		t.Errorf("Dropped request must leave the queue, size %d", size)
	}
	if server.postedCount() != 0 {
		t.Errorf("Nothing should count as delivered")
	}
}

func TestDispatcherRetriesServerError(t *testing.T) {
	server := &fakeServer{postErr: &utils.HTTPError{StatusCode: http.StatusInternalServerError, Status: "500 Internal Server Error"}}
	d := newTestDispatcher(t, server)

	if err := d.Start(); err != nil {
		t.Fatalf("Failed to start dispatcher: %v", err)
	}
	defer d.Stop()

	if err := d.Enqueue("buckets/b/heartbeat?pulsetime=2", map[string]string{}); err != nil {
		t.Fatalf("Failed to enqueue heartbeat: %v", err)
	}

	waitFor(t, 2*time.Second, "retry on server error", func() bool {
		return d.GetStats().Retried >= 2
	})

	size, err := d.Size()
	if err != nil {
		t.Fatalf("Failed to read queue size: %v", err)
	}
	if size != 1 {
		t.Fatalf("Request must stay queued across server errors, size %d", size)
	}

	// Server recovers, the request goes through
	server.setErrors(nil, nil)
	waitFor(t, 2*time.Second, "delivery after recovery", func() bool {
		return server.postedCount() == 1
	})
}

func TestDispatcherReconnectsAfterConnectionLoss(t *testing.T) {
	server := &fakeServer{postErr: errors.New("connection refused")}
	d := newTestDispatcher(t, server)

	if err := d.Start(); err != nil {
		t.Fatalf("Failed to start dispatcher: %v", err)
	}
	defer d.Stop()

	waitFor(t, 2*time.Second, "initial connect", func() bool {
		return d.IsConnected()
	})

	if err := d.Enqueue("buckets/b/heartbeat?pulsetime=2", map[string]string{}); err != nil {
		t.Fatalf("Failed to enqueue heartbeat: %v", err)
	}

	// A connection error keeps the request and drops the connection
	server.setErrors(errors.New("connection refused"), errors.New("connection refused"))
	waitFor(t, 2*time.Second, "disconnect", func() bool {
		return !d.IsConnected()
	})
	size, err := d.Size()
	if err != nil {
		t.Fatalf("Failed to read queue size: %v", err)
	}
	if size != 1 {
		t.Fatalf("Request must survive a connection loss, size %d", size)
	}

	// The server comes back and the spooled request is delivered
	server.setErrors(nil, nil)
	waitFor(t, 2*time.Second, "reconnect and delivery", func() bool {
		return d.IsConnected() && server.postedCount() == 1
	})
}

func TestDispatcherStopKeepsPending(t *testing.T) {
	server := &fakeServer{pingErr: errors.New("connection refused")}
	d := newTestDispatcher(t, server)

	if err := d.Start(); err != nil {
		t.Fatalf("Failed to start dispatcher: %v", err)
	}
	if err := d.Enqueue("buckets/b/heartbeat?pulsetime=2", map[string]string{}); err != nil {
		t.Fatalf("Failed to enqueue heartbeat: %v", err)
	}

	size, err := d.Size()
	if err != nil {
		t.Fatalf("Failed to read queue size: %v", err)
	}
	if size != 1 {
		t.Fatalf("Expected one pending request, got %d", size)
	}

	if err := d.Stop(); err != nil {
		t.Fatalf("Failed to stop dispatcher: %v", err)
	}
	if server.postedCount() != 0 {
		t.Errorf("Nothing should be delivered while disconnected")
	}
}

// brokenStore fails to open, exercising the Start error path.
type brokenStore struct {
	connectErr error
	migrateErr error
	closed     bool
}

func (b *brokenStore) Connect() error                { return b.connectErr }
func (b *brokenStore) Close() error                  { b.closed = true; return nil }
func (b *brokenStore) Ping() error                   { return nil }
func (b *brokenStore) Migrate() error                { return b.migrateErr }
func (b *brokenStore) Put(req *QueuedRequest) error  { return nil }
func (b *brokenStore) Next() (*QueuedRequest, error) { return nil, nil }
func (b *brokenStore) Done(id string) error          { return nil }
func (b *brokenStore) Size() (int64, error)          { return 0, nil }
func (b *brokenStore) Clear() error                  { return nil }

func TestStopAfterFailedStart(t *testing.T) {
	utils.InitLogger("error", "text", "stdout", "")

	t.Run("connect failure", func(t *testing.T) {
		store := &brokenStore{connectErr: errors.New("disk full")}
		d := NewDispatcher(&DispatcherConfig{ClientName: "test-client"}, store, &fakeServer{}, nil)

		if err := d.Start(); err == nil {
			t.Fatal("Expected Start to fail when the store cannot connect")
		}

		done := make(chan error, 1)
		go func() { done <- d.Stop() }()
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("Stop after failed Start returned error: %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("Stop blocked after a failed Start")
		}
	})

	t.Run("migrate failure", func(t *testing.T) {
		store := &brokenStore{migrateErr: errors.New("schema mismatch")}
		d := NewDispatcher(&DispatcherConfig{ClientName: "test-client"}, store, &fakeServer{}, nil)

		if err := d.Start(); err == nil {
			t.Fatal("Expected Start to fail when migration fails")
		}
		if !store.closed {
			t.Error("Store should be closed when migration fails")
		}

		done := make(chan error, 1)
		go func() { done <- d.Stop() }()
		select {
		case err := <-done:
			if err != nil {
				t.Fatalf("Stop after failed Start returned error: %v", err)
			}
		case <-time.After(time.Second):
			t.Fatal("Stop blocked after a failed Start")
		}
	})
}
