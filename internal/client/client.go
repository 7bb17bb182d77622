// Package client implements the sd-server REST API client: bucket and
// event operations, queued heartbeats with client-side pre-merging, and
// server-side queries. It is the recommended way of interacting with the
// server; the request queue makes heartbeat delivery survive restarts
// and server downtime.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dholendar-27/sd-watcher-window/internal/metrics"
	"github.com/dholendar-27/sd-watcher-window/internal/models"
	"github.com/dholendar-27/sd-watcher-window/internal/queue"
	"github.com/dholendar-27/sd-watcher-window/internal/transform"
	"github.com/dholendar-27/sd-watcher-window/pkg/utils"
)

// queueVersion is bumped whenever the queue file format changes.
const queueVersion = 1

// Config contains client configuration
type Config struct {
	ClientName     string
	Testing        bool
	Hostname       string
	ServerHost     string
	ServerPort     int
	Protocol       string
	CommitInterval time.Duration
	RequestTimeout time.Duration

	// QueueDir overrides the directory of the persistent queue file.
	QueueDir string

	ReconnectInterval time.Duration
	RetryDelay        time.Duration
}

// Client is a handy wrapper around the sd-server REST API.
type Client struct {
	config     *Config
	baseURL    string
	httpClient *http.Client
	logger     *logrus.Logger
	metrics    *metrics.Metrics

	dispatcher *queue.Dispatcher

	mu sync.Mutex
	// Last unsent heartbeat per bucket, pre-merged client-side.
	lastHeartbeat map[string]models.Event
}

// TimePeriod is a closed interval used by queries and event listings.
type TimePeriod struct {
	Start time.Time
	End   time.Time
}

// NewClient creates a client for the given server.
func NewClient(config *Config, m *metrics.Metrics) (*Client, error) {
	if config.ClientName == "" {
		config.ClientName = "unknown"
	}
	if config.Protocol == "" {
		config.Protocol = "http"
	}
	if config.Hostname == "" {
		hostname, err := os.Hostname()
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Failed to resolve hostname", err.Error())
		}
		config.Hostname = hostname
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = 30 * time.Second
	}
	if config.CommitInterval <= 0 {
		config.CommitInterval = 10 * time.Second
	}

	queueDir := config.QueueDir
	if queueDir == "" {
		dataDir, err := utils.GetDataDir("sd-client")
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeConfiguration, "Failed to resolve data directory", err.Error())
		}
		queueDir = filepath.Join(dataDir, "queued")
	}

	suffix := ""
	if config.Testing {
		suffix = "-testing"
	}
	queuePath := filepath.Join(queueDir,
		fmt.Sprintf("%s%s.v%d.queue.db", config.ClientName, suffix, queueVersion))

	c := &Client{
		config:  config,
		baseURL: fmt.Sprintf("%s://%s:%d", config.Protocol, config.ServerHost, config.ServerPort),
		httpClient: &http.Client{
			Timeout: config.RequestTimeout,
		},
		logger:        utils.GetLogger(),
		metrics:       m,
		lastHeartbeat: make(map[string]models.Event),
	}

	store := queue.NewSQLiteStore(&queue.StoreConfig{Path: queuePath})
	c.dispatcher = queue.NewDispatcher(&queue.DispatcherConfig{
		ClientName:        config.ClientName,
		ReconnectInterval: config.ReconnectInterval,
		RetryDelay:        config.RetryDelay,
	}, store, c, m)

	return c, nil
}

// ServerAddress returns the base URL of the configured server.
func (c *Client) ServerAddress() string {
	return c.baseURL
}

// ClientName returns the configured client name.
func (c *Client) ClientName() string {
	return c.config.ClientName
}

// ClientHostname returns the hostname reported on bucket creation.
func (c *Client) ClientHostname() string {
	return c.config.Hostname
}

// Queue exposes the request dispatcher for status reporting.
func (c *Client) Queue() *queue.Dispatcher {
	return c.dispatcher
}

//
// Base requests
//

func (c *Client) apiURL(endpoint string) string {
	return fmt.Sprintf("%s/api/0/%s", c.baseURL, endpoint)
}

func (c *Client) do(ctx context.Context, op, method, endpoint string, params url.Values, body interface{}) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeInternal, "Failed to marshal request body", err.Error())
		}
		reader = bytes.NewReader(payload)
	}

	fullURL := c.apiURL(endpoint)
	if len(params) > 0 {
		fullURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, reader)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeInternal, "Failed to build request", err.Error())
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if c.metrics != nil {
			c.metrics.RecordAPIRequest(method, op, "error", time.Since(start))
		}
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeServer, "Failed to read response body", err.Error())
	}

	status := "success"
	if resp.StatusCode >= 400 {
		status = "failure"
	}
	if c.metrics != nil {
		c.metrics.RecordAPIRequest(method, op, status, time.Since(start))
	}

	if resp.StatusCode >= 400 {
		httpErr := &utils.HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(respBody),
		}
		c.logger.WithFields(logrus.Fields{
			"endpoint": endpoint,
			"status":   resp.StatusCode,
		}).Warn("Request failed")
		return nil, httpErr
	}

	return respBody, nil
}

func (c *Client) get(ctx context.Context, op, endpoint string, params url.Values) ([]byte, error) {
	return c.do(ctx, op, http.MethodGet, endpoint, params, nil)
}

func (c *Client) post(ctx context.Context, op, endpoint string, params url.Values, body interface{}) ([]byte, error) {
	return c.do(ctx, op, http.MethodPost, endpoint, params, body)
}

func (c *Client) delete(ctx context.Context, op, endpoint string, body interface{}) ([]byte, error) {
	return c.do(ctx, op, http.MethodDelete, endpoint, nil, body)
}

//
// Info
//

// GetInfo returns server info, currently the keys 'hostname' and 'testing'.
func (c *Client) GetInfo(ctx context.Context) (map[string]interface{}, error) {
	body, err := c.get(ctx, "info", "info", nil)
	if err != nil {
		return nil, err
	}
	var info map[string]interface{}
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeServer, "Failed to decode server info", err.Error())
	}
	return info, nil
}

// Ping checks whether the server is reachable. Used by the dispatcher.
func (c *Client) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.RequestTimeout)
	defer cancel()
	_, err := c.get(ctx, "info", "info", nil)
	return err
}

//
// Events
//

// GetEvent retrieves a single event, or nil when the server reports 404.
func (c *Client) GetEvent(ctx context.Context, bucketID string, eventID int64) (*models.Event, error) {
	endpoint := fmt.Sprintf("buckets/%s/events/%d", bucketID, eventID)
	body, err := c.get(ctx, "get_event", endpoint, nil)
	if err != nil {
		if httpErr, ok := err.(*utils.HTTPError); ok && httpErr.StatusCode == http.StatusNotFound {
			return nil, nil
		}
		return nil, err
	}
	var event models.Event
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeServer, "Failed to decode event", err.Error())
	}
	return &event, nil
}

// GetEvents retrieves events from a bucket, newest first.
// A negative limit returns all events.
func (c *Client) GetEvents(ctx context.Context, bucketID string, limit int, start, end *time.Time) ([]models.Event, error) {
	endpoint := fmt.Sprintf("buckets/%s/events", bucketID)

	params := url.Values{}
	params.Set("limit", strconv.Itoa(limit))
	if start != nil {
		params.Set("start", start.Format(time.RFC3339Nano))
	}
	if end != nil {
		params.Set("end", end.Format(time.RFC3339Nano))
	}

	body, err := c.get(ctx, "get_events", endpoint, params)
	if err != nil {
		return nil, err
	}
	var events []models.Event
	if err := json.Unmarshal(body, &events); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeServer, "Failed to decode events", err.Error())
	}
	return events, nil
}

// InsertEvent inserts a single event into a bucket.
func (c *Client) InsertEvent(ctx context.Context, bucketID string, event models.Event) error {
	return c.InsertEvents(ctx, bucketID, []models.Event{event})
}

// InsertEvents inserts events into a bucket.
func (c *Client) InsertEvents(ctx context.Context, bucketID string, events []models.Event) error {
	endpoint := fmt.Sprintf("buckets/%s/events", bucketID)
	_, err := c.post(ctx, "insert_events", endpoint, nil, events)
	return err
}

// DeleteEvent deletes an event from a bucket.
func (c *Client) DeleteEvent(ctx context.Context, bucketID string, eventID int64) error {
	endpoint := fmt.Sprintf("buckets/%s/events/%d", bucketID, eventID)
	_, err := c.delete(ctx, "delete_event", endpoint, nil)
	return err
}

// GetEventCount returns the number of events in a bucket within a period.
func (c *Client) GetEventCount(ctx context.Context, bucketID string, start, end *time.Time) (int64, error) {
	endpoint := fmt.Sprintf("buckets/%s/events/count", bucketID)

	params := url.Values{}
	if start != nil {
		params.Set("start", start.Format(time.RFC3339Nano))
	}
	if end != nil {
		params.Set("end", end.Format(time.RFC3339Nano))
	}

	body, err := c.get(ctx, "get_eventcount", endpoint, params)
	if err != nil {
		return 0, err
	}
	count, err := strconv.ParseInt(string(bytes.TrimSpace(body)), 10, 64)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeServer, "Failed to decode event count", err.Error())
	}
	return count, nil
}

//
// Heartbeats
//

// Heartbeat reports a heartbeat to a bucket. pulsetime is the maximum gap
// in seconds for the server (and the client pre-merge) to merge it with
// the previous heartbeat.
//
// When queued is true the request goes through the persistent queue and
// never blocks on the network: consecutive identical heartbeats are merged
// client-side and committed once the merged span outgrows the commit
// interval, which keeps the queue small during long idle stretches.
func (c *Client) Heartbeat(ctx context.Context, bucketID string, event models.Event, pulsetime float64, queued bool) error {
	endpoint := fmt.Sprintf("buckets/%s/heartbeat?pulsetime=%s",
		bucketID, strconv.FormatFloat(pulsetime, 'f', -1, 64))

	if !queued {
		_, err := c.post(ctx, "heartbeat", fmt.Sprintf("buckets/%s/heartbeat", bucketID),
			url.Values{"pulsetime": []string{strconv.FormatFloat(pulsetime, 'f', -1, 64)}}, event)
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	last, ok := c.lastHeartbeat[bucketID]
	if !ok {
		c.lastHeartbeat[bucketID] = event
		return nil
	}

	merged, mergeOK := transform.HeartbeatMerge(last, event, pulsetime)
	if mergeOK {
		if c.metrics != nil {
			c.metrics.HeartbeatsMergedTotal.Inc()
		}
		// Once the merged span outgrows the commit interval, commit it
		// and start a fresh span from the incoming heartbeat.
		if last.Duration >= c.config.CommitInterval {
			if err := c.dispatcher.Enqueue(endpoint, merged); err != nil {
				return err
			}
			if c.metrics != nil {
				c.metrics.HeartbeatCommitsTotal.Inc()
			}
			c.lastHeartbeat[bucketID] = event
		} else {
			c.lastHeartbeat[bucketID] = merged
		}
		return nil
	}

	// Unmergeable: commit the previous span, start a new one.
	if err := c.dispatcher.Enqueue(endpoint, last); err != nil {
		return err
	}
	if c.metrics != nil {
		c.metrics.HeartbeatCommitsTotal.Inc()
	}
	c.lastHeartbeat[bucketID] = event
	return nil
}

//
// Buckets
//

// GetBuckets returns all buckets on the server, keyed by bucket ID.
func (c *Client) GetBuckets(ctx context.Context) (map[string]models.Bucket, error) {
	body, err := c.get(ctx, "get_buckets", "buckets/", nil)
	if err != nil {
		return nil, err
	}
	var buckets map[string]models.Bucket
	if err := json.Unmarshal(body, &buckets); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeServer, "Failed to decode buckets", err.Error())
	}
	return buckets, nil
}

// CreateBucket creates a bucket, idempotently. Also used by the
// dispatcher to replay registered buckets on reconnect.
func (c *Client) CreateBucket(bucketID, eventType string) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.RequestTimeout)
	defer cancel()

	endpoint := fmt.Sprintf("buckets/%s", bucketID)
	data := map[string]string{
		"client":   c.config.ClientName,
		"hostname": c.config.Hostname,
		"type":     eventType,
	}
	_, err := c.post(ctx, "create_bucket", endpoint, nil, data)
	if err != nil {
		// An already existing bucket is not an error.
		if httpErr, ok := err.(*utils.HTTPError); ok && httpErr.StatusCode == http.StatusNotModified {
			return nil
		}
		return err
	}
	return nil
}

// CreateBucketQueued registers a bucket with the dispatcher; it will be
// created when the connection to the server is (re)established.
func (c *Client) CreateBucketQueued(bucketID, eventType string) {
	c.dispatcher.RegisterBucket(bucketID, eventType)
}

// DeleteBucket deletes a bucket. The server requires force for non-empty
// buckets.
func (c *Client) DeleteBucket(ctx context.Context, bucketID string, force bool) error {
	endpoint := fmt.Sprintf("buckets/%s", bucketID)
	if force {
		endpoint += "?force=1"
	}
	_, err := c.delete(ctx, "delete_bucket", endpoint, nil)
	return err
}

//
// Import & export
//

// ExportAll exports all buckets with their events.
func (c *Client) ExportAll(ctx context.Context) (map[string]interface{}, error) {
	body, err := c.get(ctx, "export", "export", nil)
	if err != nil {
		return nil, err
	}
	var export map[string]interface{}
	if err := json.Unmarshal(body, &export); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeServer, "Failed to decode export", err.Error())
	}
	return export, nil
}

// ExportBucket exports a single bucket with its events.
func (c *Client) ExportBucket(ctx context.Context, bucketID string) (map[string]interface{}, error) {
	body, err := c.get(ctx, "export_bucket", fmt.Sprintf("buckets/%s/export", bucketID), nil)
	if err != nil {
		return nil, err
	}
	var export map[string]interface{}
	if err := json.Unmarshal(body, &export); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeServer, "Failed to decode bucket export", err.Error())
	}
	return export, nil
}

// ImportBucket imports a previously exported bucket.
func (c *Client) ImportBucket(ctx context.Context, bucket map[string]interface{}) error {
	id, ok := bucket["id"].(string)
	if !ok || id == "" {
		return utils.NewAppError(utils.ErrCodeValidation, "Bucket import requires an id", "")
	}
	payload := map[string]interface{}{
		"buckets": map[string]interface{}{id: bucket},
	}
	_, err := c.post(ctx, "import_bucket", "import", nil, payload)
	return err
}

//
// Query (server-side transformation)
//

// Query runs a query on the server over the given time periods. The query
// source is split into lines; each period yields one result.
func (c *Client) Query(ctx context.Context, query string, timeperiods []TimePeriod, name string, cache bool) ([]interface{}, error) {
	params := url.Values{}
	if cache {
		if name == "" {
			return nil, utils.NewAppError(utils.ErrCodeValidation,
				"Caching requires a query name", "")
		}
		params.Set("name", name)
		params.Set("cache", "1")
	}

	periods := make([]string, 0, len(timeperiods))
	for _, tp := range timeperiods {
		if tp.Start.IsZero() || tp.End.IsZero() {
			return nil, utils.NewAppError(utils.ErrCodeValidation,
				"Query periods need both start and end set", "")
		}
		periods = append(periods,
			tp.Start.Format(time.RFC3339Nano)+"/"+tp.End.Format(time.RFC3339Nano))
	}

	data := map[string]interface{}{
		"timeperiods": periods,
		"query":       splitQueryLines(query),
	}

	body, err := c.post(ctx, "query", "query/", params, data)
	if err != nil {
		return nil, err
	}
	var results []interface{}
	if err := json.Unmarshal(body, &results); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeServer, "Failed to decode query results", err.Error())
	}
	return results, nil
}

//
// Settings
//

// GetSettings fetches all server settings.
func (c *Client) GetSettings(ctx context.Context) (map[string]interface{}, error) {
	body, err := c.get(ctx, "get_settings", "settings", nil)
	if err != nil {
		return nil, err
	}
	var settings map[string]interface{}
	if err := json.Unmarshal(body, &settings); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeServer, "Failed to decode settings", err.Error())
	}
	return settings, nil
}

// GetSetting fetches a single setting by key.
func (c *Client) GetSetting(ctx context.Context, key string) (interface{}, error) {
	settings, err := c.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	return settings[key], nil
}

// SetSetting stores a setting.
func (c *Client) SetSetting(ctx context.Context, key string, value interface{}) error {
	_, err := c.post(ctx, "set_setting", fmt.Sprintf("settings/%s", key), nil, value)
	return err
}

//
// Connect and disconnect
//

// Connect starts the request queue dispatcher.
func (c *Client) Connect() error {
	return c.dispatcher.Start()
}

// Disconnect flushes the in-memory heartbeat spans to the queue and stops
// the dispatcher. Spooled requests persist to the next run.
func (c *Client) Disconnect() error {
	c.mu.Lock()
	for bucketID, last := range c.lastHeartbeat {
		endpoint := fmt.Sprintf("buckets/%s/heartbeat?pulsetime=0", bucketID)
		if err := c.dispatcher.Enqueue(endpoint, last); err != nil {
			c.logger.WithError(err).WithField("bucket", bucketID).Warn("Failed to flush pending heartbeat")
		}
		delete(c.lastHeartbeat, bucketID)
	}
	c.mu.Unlock()

	return c.dispatcher.Stop()
}

// PostQueued delivers a spooled request body. The endpoint may carry its
// own query string (heartbeats spool the pulsetime with the endpoint).
func (c *Client) PostQueued(endpoint string, data json.RawMessage) error {
	ctx, cancel := context.WithTimeout(context.Background(), c.config.RequestTimeout)
	defer cancel()
	_, err := c.do(ctx, "queued", http.MethodPost, endpoint, nil, data)
	return err
}
