package queue

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/dholendar-27/sd-watcher-window/pkg/utils"
)

// StoreConfig contains queue database configuration
type StoreConfig struct {
	Path           string
	MaxConnections int
	MaxIdleTime    time.Duration
}

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db         *sql.DB
	config     *StoreConfig
	logger     *logrus.Logger
	migrations []*Migration
}

// NewSQLiteStore creates a new SQLite queue store
func NewSQLiteStore(config *StoreConfig) *SQLiteStore {
	return &SQLiteStore{
		config:     config,
		logger:     utils.GetLogger(),
		migrations: GetSQLiteMigrations(),
	}
}

// Connect establishes the database connection
func (s *SQLiteStore) Connect() error {
	// Ensure directory exists
	dir := filepath.Dir(s.config.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return utils.NewAppError(utils.ErrCodeQueue, "Failed to create queue directory", err.Error())
		}
	}

	db, err := sql.Open("sqlite", s.config.Path)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeQueue, "Failed to open queue database", err.Error())
	}

	// Configure connection pool
	if s.config.MaxConnections > 0 {
		db.SetMaxOpenConns(s.config.MaxConnections)
		db.SetMaxIdleConns(s.config.MaxConnections / 2)
	}
	if s.config.MaxIdleTime > 0 {
		db.SetConnMaxLifetime(s.config.MaxIdleTime)
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return utils.NewAppError(utils.ErrCodeQueue, "Failed to enable WAL mode", err.Error())
	}

	s.db = db
	s.logger.WithField("path", s.config.Path).Info("Queue database connected")

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("Queue database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *SQLiteStore) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeQueue, "Queue database not connected", "")
	}
	return s.db.Ping()
}

// Migrate runs database migrations
func (s *SQLiteStore) Migrate() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeQueue, "Queue database not connected", "")
	}

	for _, migration := range s.migrations {
		s.logger.WithFields(logrus.Fields{
			"version":     migration.Version,
			"description": migration.Description,
		}).Debug("Applying queue migration")

		if _, err := s.db.Exec(migration.SQL); err != nil {
			return utils.NewAppError(utils.ErrCodeQueue,
				fmt.Sprintf("Migration %s failed", migration.Version),
				err.Error())
		}
	}

	return nil
}

// Put appends a request to the queue
func (s *SQLiteStore) Put(req *QueuedRequest) error {
	query := `
		INSERT INTO queued_requests (id, endpoint, data, created_at)
		VALUES (?, ?, ?, ?)
	`

	_, err := s.db.Exec(query, req.ID, req.Endpoint, string(req.Data), req.CreatedAt)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeQueue, "Failed to enqueue request", err.Error())
	}

	return nil
}

// Next returns the oldest queued request, or nil when the queue is empty
func (s *SQLiteStore) Next() (*QueuedRequest, error) {
	query := `
		SELECT id, endpoint, data, created_at
		FROM queued_requests ORDER BY rowid ASC LIMIT 1
	`

	row := s.db.QueryRow(query)

	var req QueuedRequest
	var data string

	err := row.Scan(&req.ID, &req.Endpoint, &data, &req.CreatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, utils.NewAppError(utils.ErrCodeQueue, "Failed to read queue head", err.Error())
	}

	req.Data = []byte(data)
	return &req, nil
}

// Done removes a delivered request
func (s *SQLiteStore) Done(id string) error {
	result, err := s.db.Exec("DELETE FROM queued_requests WHERE id = ?", id)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeQueue, "Failed to remove queued request", err.Error())
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return utils.NewAppError(utils.ErrCodeQueue, "Failed to get rows affected", err.Error())
	}

	if rowsAffected == 0 {
		return utils.NewAppError(utils.ErrCodeNotFound, "Queued request not found", id)
	}

	return nil
}

// Size returns the number of queued requests
func (s *SQLiteStore) Size() (int64, error) {
	var count int64
	err := s.db.QueryRow("SELECT COUNT(*) FROM queued_requests").Scan(&count)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeQueue, "Failed to count queued requests", err.Error())
	}
	return count, nil
}

// Clear removes all queued requests
func (s *SQLiteStore) Clear() error {
	if _, err := s.db.Exec("DELETE FROM queued_requests"); err != nil {
		return utils.NewAppError(utils.ErrCodeQueue, "Failed to clear queue", err.Error())
	}
	return nil
}
