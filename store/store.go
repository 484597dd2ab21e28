// Package store persists chat sessions, their message history, and saved
// server configurations, so conversations can resume and servers reconnect
// across process restarts. MemoryStore is the volatile implementation; the
// SQLite-backed one lives in store/sqlite. Additional backends belong in
// their own sub-packages so callers only depend on the interface.
package store

import (
	"time"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/registry"
)

// SessionInfo summarizes one stored session.
type SessionInfo struct {
	ID           string    `json:"id"`
	CreatedAt    time.Time `json:"created_at"`
	MessageCount int       `json:"message_count"`
}

// Store is the persistence contract. Sessions are created lazily: appending
// to an unknown session creates it, and reading an unknown session yields an
// empty history rather than an error.
type Store interface {
	// EnsureSession creates the session if it does not exist yet.
	EnsureSession(sessionID string) error

	// AppendMessages appends messages to a session's history in order,
	// creating the session when needed.
	AppendMessages(sessionID string, msgs []core.Message) error

	// Messages returns a session's history in append order.
	Messages(sessionID string) ([]core.Message, error)

	// Sessions lists stored sessions, most recently created first.
	Sessions() ([]SessionInfo, error)

	// DeleteSession removes a session and its messages.
	DeleteSession(sessionID string) error

	// SaveServer inserts or updates a server configuration keyed by name.
	SaveServer(cfg registry.ServerConfig) error

	// Servers returns all saved server configurations, sorted by name.
	Servers() ([]registry.ServerConfig, error)

	// DeleteServer removes a saved server configuration.
	DeleteServer(name string) error

	// Close releases underlying resources.
	Close() error
}
