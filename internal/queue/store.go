// Package queue implements the persistent offline request queue used to
// spool heartbeats while the server is unreachable. Requests survive
// restarts in a local SQLite database and are replayed in FIFO order.
package queue

import (
	"encoding/json"
	"time"
)

// QueuedRequest is a single spooled API request.
type QueuedRequest struct {
	ID        string          `json:"id"`
	Endpoint  string          `json:"endpoint"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
}

// Store is the persistence backend for queued requests.
type Store interface {
	Connect() error
	Close() error
	Migrate() error
	Ping() error

	// Put appends a request to the queue.
	Put(req *QueuedRequest) error
	// Next returns the oldest request without removing it, or nil when empty.
	Next() (*QueuedRequest, error)
	// Done removes a request previously returned by Next.
	Done(id string) error
	// Size returns the number of queued requests.
	Size() (int64, error)
	// Clear removes all queued requests.
	Clear() error
}

// Migration represents a schema migration for the queue database.
type Migration struct {
	Version     string
	Description string
	SQL         string
}
