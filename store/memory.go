package store

import (
	"sort"
	"sync"
	"time"

	"github.com/hupe1980/toolmesh/core"
	"github.com/hupe1980/toolmesh/registry"
)

// MemoryStore is a volatile Store keeping everything in process-local maps.
// It is safe for concurrent access and best suited for tests or ephemeral
// use. Returned histories are copies, so callers cannot mutate stored state.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
	servers  map[string]registry.ServerConfig
}

type memorySession struct {
	createdAt time.Time
	messages  []core.Message
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*memorySession),
		servers:  make(map[string]registry.ServerConfig),
	}
}

// EnsureSession creates the session if it does not exist yet.
func (s *MemoryStore) EnsureSession(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLocked(sessionID)
	return nil
}

// AppendMessages appends messages to a session, creating it when needed.
func (s *MemoryStore) AppendMessages(sessionID string, msgs []core.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.ensureLocked(sessionID)
	sess.messages = append(sess.messages, msgs...)

	return nil
}

// Messages returns a copy of the session's history; unknown sessions yield
// an empty history.
func (s *MemoryStore) Messages(sessionID string) ([]core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}

	return core.CloneHistory(sess.messages), nil
}

// Sessions lists stored sessions, most recently created first.
func (s *MemoryStore) Sessions() ([]SessionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	infos := make([]SessionInfo, 0, len(s.sessions))
	for id, sess := range s.sessions {
		infos = append(infos, SessionInfo{
			ID:           id,
			CreatedAt:    sess.createdAt,
			MessageCount: len(sess.messages),
		})
	}

	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].CreatedAt.Equal(infos[j].CreatedAt) {
			return infos[i].CreatedAt.After(infos[j].CreatedAt)
		}
		return infos[i].ID < infos[j].ID
	})

	return infos, nil
}

// DeleteSession removes a session and its messages. Unknown ids are a no-op.
func (s *MemoryStore) DeleteSession(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// SaveServer inserts or updates a server configuration keyed by name.
func (s *MemoryStore) SaveServer(cfg registry.ServerConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.servers[cfg.Name] = cfg
	return nil
}

// Servers returns all saved server configurations, sorted by name.
func (s *MemoryStore) Servers() ([]registry.ServerConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.servers))
	for name := range s.servers {
		names = append(names, name)
	}
	sort.Strings(names)

	cfgs := make([]registry.ServerConfig, 0, len(names))
	for _, name := range names {
		cfgs = append(cfgs, s.servers[name])
	}

	return cfgs, nil
}

// DeleteServer removes a saved server configuration. Unknown names are a no-op.
func (s *MemoryStore) DeleteServer(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.servers, name)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *MemoryStore) Close() error {
	return nil
}

// ensureLocked creates the session if absent; caller holds the write lock.
func (s *MemoryStore) ensureLocked(sessionID string) *memorySession {
	sess, ok := s.sessions[sessionID]
	if !ok {
		sess = &memorySession{createdAt: time.Now()}
		s.sessions[sessionID] = sess
	}
	return sess
}
