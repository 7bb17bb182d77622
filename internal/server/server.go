// Package server exposes a local status HTTP API for the watcher:
// health, stats, queue depth and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/dholendar-27/sd-watcher-window/internal/metrics"
	"github.com/dholendar-27/sd-watcher-window/internal/queue"
	"github.com/dholendar-27/sd-watcher-window/internal/watcher"
	"github.com/dholendar-27/sd-watcher-window/pkg/utils"
)

// Config holds status server configuration
type Config struct {
	Host          string
	Port          int
	ReadTimeout   time.Duration
	WriteTimeout  time.Duration
	EnableMetrics bool
}

// StatusServer serves the local status API.
type StatusServer struct {
	config  *Config
	server  *http.Server
	router  *mux.Router
	watcher *watcher.Watcher
	queue   *queue.Dispatcher
	metrics *metrics.Metrics
	logger  *logrus.Logger
	version string
}

// NewStatusServer creates the status server.
func NewStatusServer(config *Config, w *watcher.Watcher, q *queue.Dispatcher, m *metrics.Metrics, version string) *StatusServer {
	s := &StatusServer{
		config:  config,
		watcher: w,
		queue:   q,
		metrics: m,
		logger:  utils.GetLogger(),
		version: version,
	}

	s.setupRouter()

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      s.router,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}

	return s
}

// setupRouter sets up the HTTP routes
func (s *StatusServer) setupRouter() {
	s.router = mux.NewRouter()

	s.router.Use(s.loggingMiddleware)
	s.router.Use(s.corsMiddleware)
	if s.metrics != nil {
		s.router.Use(s.metricsMiddleware)
	}

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/health", s.healthHandler).Methods("GET")
	api.HandleFunc("/status", s.statusHandler).Methods("GET")
	api.HandleFunc("/queue", s.queueHandler).Methods("GET")

	if s.config.EnableMetrics {
		s.router.Handle("/metrics", promhttp.Handler())
	}
}

// Start starts the HTTP server
func (s *StatusServer) Start() error {
	s.logger.WithFields(logrus.Fields{
		"address":         s.server.Addr,
		"metrics_enabled": s.config.EnableMetrics,
	}).Info("Starting status server")

	errChan := make(chan error, 1)

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("Status server error")
			errChan <- err
		}
	}()

	// Catch immediate binding errors
	select {
	case err := <-errChan:
		return fmt.Errorf("failed to start status server: %w", err)
	case <-time.After(100 * time.Millisecond):
		return nil
	}
}

// Stop stops the HTTP server
func (s *StatusServer) Stop() error {
	s.logger.Info("Stopping status server")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return s.server.Shutdown(ctx)
}

// Middleware

func (s *StatusServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).String(),
		}).Debug("HTTP request")
	})
}

func (s *StatusServer) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *StatusServer) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.metrics.RecordHTTPRequest(r.Method, r.URL.Path, fmt.Sprintf("%d", rec.status), time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Handlers

func (s *StatusServer) healthHandler(w http.ResponseWriter, r *http.Request) {
	health := s.watcher.GetHealth()

	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}

	s.writeJSON(w, status, map[string]interface{}{
		"healthy":   health.Healthy,
		"running":   health.Running,
		"details":   health.Details,
		"version":   s.version,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *StatusServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	queueSize, err := s.queue.Size()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to read queue size", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"watcher":          s.watcher.GetStats(),
		"queue":            s.queue.GetStats(),
		"queue_depth":      queueSize,
		"server_connected": s.queue.IsConnected(),
		"version":          s.version,
		"timestamp":        time.Now().UTC(),
	})
}

func (s *StatusServer) queueHandler(w http.ResponseWriter, r *http.Request) {
	size, err := s.queue.Size()
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "Failed to read queue size", err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"depth":     size,
		"connected": s.queue.IsConnected(),
		"stats":     s.queue.GetStats(),
	})
}

// Utility methods

func (s *StatusServer) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}

func (s *StatusServer) writeError(w http.ResponseWriter, status int, message string, err error) {
	errorResponse := map[string]interface{}{
		"error":     message,
		"status":    status,
		"timestamp": time.Now().UTC(),
	}

	if err != nil {
		errorResponse["details"] = err.Error()
		s.logger.WithFields(logrus.Fields{
			"status":  status,
			"message": message,
		}).WithError(err).Error("HTTP error")
	}

	s.writeJSON(w, status, errorResponse)
}
