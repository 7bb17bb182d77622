package watcher

import (
	"context"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/dholendar-27/sd-watcher-window/internal/metrics"
	"github.com/dholendar-27/sd-watcher-window/internal/models"
	"github.com/dholendar-27/sd-watcher-window/pkg/utils"
)

// HeartbeatSender is the part of the client the watcher needs.
type HeartbeatSender interface {
	Heartbeat(ctx context.Context, bucketID string, event models.Event, pulsetime float64, queued bool) error
}

// Config contains the poll loop configuration
type Config struct {
	BucketID     string
	PollTime     time.Duration
	PulseMargin  time.Duration
	ExcludeTitle bool
}

// Watcher polls the active window and emits queued heartbeats.
type Watcher struct {
	config   *Config
	client   HeartbeatSender
	provider WindowProvider
	logger   *logrus.Logger
	metrics  *metrics.Metrics

	mu      sync.Mutex
	running bool
	stats   Stats

	stopCh chan struct{}
	doneCh chan struct{}
}

// Stats carries watcher counters exposed on the status server.
type Stats struct {
	Polls          int64      `json:"polls"`
	PollErrors     int64      `json:"poll_errors"`
	Heartbeats     int64      `json:"heartbeats"`
	WindowChanges  int64      `json:"window_changes"`
	LastWindow     *Window    `json:"last_window,omitempty"`
	LastPollAt     *time.Time `json:"last_poll_at,omitempty"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	LastFatalError string     `json:"last_fatal_error,omitempty"`
}

// Health describes watcher health for the status endpoints.
type Health struct {
	Healthy bool   `json:"healthy"`
	Running bool   `json:"running"`
	Details string `json:"details,omitempty"`
}

// NewWatcher creates a watcher over the given provider and client.
func NewWatcher(config *Config, client HeartbeatSender, provider WindowProvider, m *metrics.Metrics) *Watcher {
	return &Watcher{
		config:   config,
		client:   client,
		provider: provider,
		logger:   utils.GetLogger(),
		metrics:  m,
	}
}

// Start launches the poll loop.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return utils.NewAppError(utils.ErrCodeValidation, "Watcher already running", "")
	}
	w.running = true
	now := time.Now().UTC()
	w.stats.StartedAt = &now
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	go w.run(ctx)
	w.logger.WithField("bucket", w.config.BucketID).Info("Window watcher started")
	return nil
}

// Stop halts the poll loop and waits for it to finish.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	w.logger.Info("Window watcher stopped")
	return nil
}

// IsRunning reports whether the poll loop is active.
func (w *Watcher) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// GetStats returns a snapshot of the watcher counters.
func (w *Watcher) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// GetHealth reports watcher health.
func (w *Watcher) GetHealth() Health {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Health{
		Healthy: w.running && w.stats.LastFatalError == "",
		Running: w.running,
		Details: w.stats.LastFatalError,
	}
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.PollTime)
	defer ticker.Stop()

	// Poll immediately, then on every tick.
	w.poll(ctx)

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			w.setStopped()
			return
		case <-ticker.C:
			// Exit when reparented to init: the launcher died.
			if os.Getppid() == 1 {
				w.logger.Info("Window watcher stopped because parent process died")
				w.setStopped()
				return
			}
			if !w.poll(ctx) {
				w.setStopped()
				return
			}
		}
	}
}

// poll reads the active window and sends a heartbeat. Returns false when
// the loop must stop.
func (w *Watcher) poll(ctx context.Context) bool {
	start := time.Now()
	window, err := w.provider.CurrentWindow()
	if w.metrics != nil {
		w.metrics.WindowPollDuration.Observe(time.Since(start).Seconds())
	}

	w.mu.Lock()
	w.stats.Polls++
	now := time.Now().UTC()
	w.stats.LastPollAt = &now
	w.mu.Unlock()

	if err != nil {
		var fatal *FatalError
		if errors.As(err, &fatal) {
			w.logger.WithError(fatal).Error("Fatal error, stopping")
			w.mu.Lock()
			w.stats.LastFatalError = fatal.Reason
			w.mu.Unlock()
			if w.metrics != nil {
				w.metrics.WindowPollsTotal.WithLabelValues("fatal").Inc()
			}
			return false
		}
		w.logger.WithError(err).Warn("Failed to get active window")
		w.mu.Lock()
		w.stats.PollErrors++
		w.mu.Unlock()
		if w.metrics != nil {
			w.metrics.WindowPollsTotal.WithLabelValues("error").Inc()
		}
		return true
	}

	if window == nil {
		w.logger.Debug("Unable to fetch window, trying again on next poll")
		if w.metrics != nil {
			w.metrics.WindowPollsTotal.WithLabelValues("empty").Inc()
		}
		return true
	}

	if w.config.ExcludeTitle {
		window.Title = "excluded"
	}

	w.mu.Lock()
	if w.stats.LastWindow == nil || *w.stats.LastWindow != *window {
		w.stats.WindowChanges++
		if w.metrics != nil {
			w.metrics.CurrentWindowChange.Inc()
		}
	}
	w.stats.LastWindow = window
	w.mu.Unlock()

	event := models.Event{
		Timestamp: time.Now().UTC(),
		Data:      window.Data(),
	}

	// The pulse window exceeds the poll time by a margin so that slow
	// ticks still merge into the previous span.
	pulsetime := (w.config.PollTime + w.config.PulseMargin).Seconds()

	status := "success"
	if err := w.client.Heartbeat(ctx, w.config.BucketID, event, pulsetime, true); err != nil {
		w.logger.WithError(err).Warn("Failed to send heartbeat")
		status = "error"
	} else {
		w.mu.Lock()
		w.stats.Heartbeats++
		w.mu.Unlock()
	}

	if w.metrics != nil {
		w.metrics.WindowPollsTotal.WithLabelValues("success").Inc()
		w.metrics.HeartbeatsTotal.WithLabelValues(w.config.BucketID, status).Inc()
	}
	return true
}

func (w *Watcher) setStopped() {
	w.mu.Lock()
	w.running = false
	w.mu.Unlock()
}
