package queue

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/dholendar-27/sd-watcher-window/internal/metrics"
	"github.com/dholendar-27/sd-watcher-window/pkg/utils"
)

// ServerClient is the subset of the API client the dispatcher needs.
type ServerClient interface {
	// Ping checks that the server is reachable.
	Ping() error
	// CreateBucket creates a bucket, idempotently.
	CreateBucket(bucketID, eventType string) error
	// PostQueued delivers a previously spooled request body.
	PostQueued(endpoint string, data json.RawMessage) error
}

// Bucket is a bucket registration replayed on every reconnect.
type Bucket struct {
	ID   string `json:"id"`
	Type string `json:"type"`
}

// DispatcherConfig contains dispatcher tuning
type DispatcherConfig struct {
	ClientName        string
	ReconnectInterval time.Duration
	RetryDelay        time.Duration
}

// Dispatcher drains the persistent queue towards the server. It mirrors
// the lifecycle of the watcher: started once, stopped on shutdown, and
// tolerant of the server being away for any amount of time.
type Dispatcher struct {
	config  *DispatcherConfig
	store   Store
	client  ServerClient
	logger  *logrus.Logger
	metrics *metrics.Metrics

	mu                sync.Mutex
	registeredBuckets []Bucket
	connected         bool
	running           bool

	stopCh chan struct{}
	doneCh chan struct{}

	stats DispatcherStats
}

// DispatcherStats carries counters exposed on the status server.
type DispatcherStats struct {
	Enqueued   int64 `json:"enqueued"`
	Dispatched int64 `json:"dispatched"`
	Dropped    int64 `json:"dropped"`
	Retried    int64 `json:"retried"`
}

// NewDispatcher creates a dispatcher over the given store and client.
func NewDispatcher(config *DispatcherConfig, store Store, client ServerClient, m *metrics.Metrics) *Dispatcher {
	if config.ReconnectInterval <= 0 {
		config.ReconnectInterval = 10 * time.Second
	}
	if config.RetryDelay <= 0 {
		config.RetryDelay = 500 * time.Millisecond
	}
	return &Dispatcher{
		config:  config,
		store:   store,
		client:  client,
		logger:  utils.GetLogger(),
		metrics: m,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// RegisterBucket registers a bucket to be created on every reconnect.
func (d *Dispatcher) RegisterBucket(bucketID, eventType string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.registeredBuckets = append(d.registeredBuckets, Bucket{ID: bucketID, Type: eventType})
}

// Enqueue spools a request. Only heartbeat endpoints are supported: they
// are the only requests that stay meaningful when delivered late.
func (d *Dispatcher) Enqueue(endpoint string, data interface{}) error {
	if !strings.Contains(endpoint, "/heartbeat") {
		return utils.NewAppError(utils.ErrCodeValidation, "Only heartbeat requests can be queued", endpoint)
	}

	body, err := json.Marshal(data)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeQueue, "Failed to marshal queued request", err.Error())
	}

	req := &QueuedRequest{
		ID:        uuid.NewString(),
		Endpoint:  endpoint,
		Data:      body,
		CreatedAt: time.Now().UTC(),
	}

	if err := d.store.Put(req); err != nil {
		return err
	}

	d.mu.Lock()
	d.stats.Enqueued++
	d.mu.Unlock()

	if d.metrics != nil {
		d.metrics.QueueEnqueuedTotal.Inc()
		d.updateDepthGauge()
	}

	return nil
}

// Start connects the store and launches the dispatch loop. The
// dispatcher stays stopped when the store cannot be opened, so Stop
// after a failed Start is a no-op.
func (d *Dispatcher) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}
	d.mu.Unlock()

	if err := d.store.Connect(); err != nil {
		return err
	}
	if err := d.store.Migrate(); err != nil {
		d.store.Close()
		return err
	}

	d.mu.Lock()
	d.running = true
	d.stopCh = make(chan struct{})
	d.doneCh = make(chan struct{})
	d.mu.Unlock()

	go d.run()
	return nil
}

// Stop halts the dispatch loop and closes the store. Pending requests
// stay in the queue file for the next run.
func (d *Dispatcher) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	close(d.stopCh)
	<-d.doneCh

	return d.store.Close()
}

// IsConnected reports whether the last delivery attempt reached the server.
func (d *Dispatcher) IsConnected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

// Size returns the current queue depth.
func (d *Dispatcher) Size() (int64, error) {
	return d.store.Size()
}

// Clear drops all pending requests.
func (d *Dispatcher) Clear() error {
	if err := d.store.Clear(); err != nil {
		return err
	}
	d.updateDepthGauge()
	return nil
}

// GetStats returns a snapshot of the dispatcher counters.
func (d *Dispatcher) GetStats() DispatcherStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

func (d *Dispatcher) run() {
	defer close(d.doneCh)

	for !d.shouldStop() {
		// Reconnect phase
		for !d.tryConnect() {
			if size, err := d.store.Size(); err == nil {
				d.logger.WithField("queued", size).Warn("Not connected to server, spooling requests")
			}
			if d.wait(d.config.ReconnectInterval) {
				return
			}
		}

		// Dispatch until the connection is lost or we are stopped
		for d.IsConnected() && !d.shouldStop() {
			d.dispatch()
		}
	}
}

func (d *Dispatcher) tryConnect() bool {
	if d.metrics != nil {
		d.metrics.ReconnectAttemptsTotal.Inc()
	}

	if err := d.client.Ping(); err != nil {
		d.setConnected(false)
		return false
	}

	d.mu.Lock()
	buckets := make([]Bucket, len(d.registeredBuckets))
	copy(buckets, d.registeredBuckets)
	d.mu.Unlock()

	for _, bucket := range buckets {
		if err := d.client.CreateBucket(bucket.ID, bucket.Type); err != nil {
			d.logger.WithError(err).WithField("bucket", bucket.ID).Warn("Failed to create registered bucket")
			d.setConnected(false)
			return false
		}
	}

	d.setConnected(true)
	d.logger.WithField("client", d.config.ClientName).Info("Connection to sd-server established")
	return true
}

func (d *Dispatcher) dispatch() {
	req, err := d.store.Next()
	if err != nil {
		d.logger.WithError(err).Error("Failed to read queue head")
		d.wait(d.config.RetryDelay)
		return
	}
	if req == nil {
		// Re-poll the empty queue shortly
		d.wait(200 * time.Millisecond)
		return
	}

	err = d.client.PostQueued(req.Endpoint, req.Data)
	if err != nil {
		var httpErr *utils.HTTPError
		if errors.As(err, &httpErr) {
			switch {
			case httpErr.StatusCode == http.StatusBadRequest:
				// A bad payload will fail forever, do not retry.
				d.logger.WithField("endpoint", req.Endpoint).Error("Bad request, not retrying")
				d.drop()
			case httpErr.IsServerError():
				// The server may recover on restart, keep the request.
				d.logger.WithField("endpoint", req.Endpoint).Error("Internal server error, retrying")
				d.retried()
				d.wait(d.config.RetryDelay)
				return
			default:
				d.logger.WithError(httpErr).WithField("endpoint", req.Endpoint).Error("Unexpected response, not retrying")
				d.drop()
			}
		} else {
			// Server not running or not responding; keep the request
			// and fall back to the reconnect loop.
			d.setConnected(false)
			d.logger.Warn("Connection refused or timeout, will queue requests until connection is available")
			d.wait(d.config.RetryDelay)
			return
		}
	} else {
		d.mu.Lock()
		d.stats.Dispatched++
		d.mu.Unlock()
		if d.metrics != nil {
			d.metrics.QueueDispatchedTotal.WithLabelValues("success").Inc()
		}
	}

	if err := d.store.Done(req.ID); err != nil {
		d.logger.WithError(err).Error("Failed to remove dispatched request")
	}
	d.updateDepthGauge()
}

func (d *Dispatcher) drop() {
	d.mu.Lock()
	d.stats.Dropped++
	d.mu.Unlock()
	if d.metrics != nil {
		d.metrics.QueueDroppedTotal.Inc()
		d.metrics.QueueDispatchedTotal.WithLabelValues("dropped").Inc()
	}
}

func (d *Dispatcher) retried() {
	d.mu.Lock()
	d.stats.Retried++
	d.mu.Unlock()
	if d.metrics != nil {
		d.metrics.QueueDispatchedTotal.WithLabelValues("retried").Inc()
	}
}

func (d *Dispatcher) setConnected(connected bool) {
	d.mu.Lock()
	d.connected = connected
	d.mu.Unlock()
	if d.metrics != nil {
		d.metrics.SetConnected(connected)
	}
}

func (d *Dispatcher) updateDepthGauge() {
	if d.metrics == nil {
		return
	}
	if size, err := d.store.Size(); err == nil {
		d.metrics.QueueDepth.Set(float64(size))
	}
}

func (d *Dispatcher) shouldStop() bool {
	select {
	case <-d.stopCh:
		return true
	default:
		return false
	}
}

// wait sleeps for the given duration, returning true if stopped meanwhile.
func (d *Dispatcher) wait(duration time.Duration) bool {
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-d.stopCh:
		return true
	case <-timer.C:
		return false
	}
}
