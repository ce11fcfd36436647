package session

import (
	"context"
	"fmt"
	"sync"
)

// Factory builds a fully wired Session for a new connection running the
// named profile. Implementations construct per-session state (records,
// controllers, tool registries) so no two sessions share any of it.
type Factory func(id, profile string) (*Session, error)

// Manager tracks live sessions by id. All methods are safe for concurrent
// use.
type Manager struct {
	mu       sync.Mutex
	factory  Factory
	sessions map[string]*Session
}

// NewManager returns a Manager that builds sessions with factory.
func NewManager(factory Factory) *Manager {
	return &Manager{
		factory:  factory,
		sessions: make(map[string]*Session),
	}
}

// Open builds and starts a session for id running the named profile.
// Opening an id that is already live is an error.
func (m *Manager) Open(ctx context.Context, id, profile string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[id]; exists {
		return nil, fmt.Errorf("session: %q is already open", id)
	}
	sess, err := m.factory(id, profile)
	if err != nil {
		return nil, fmt.Errorf("session: building %q: %w", id, err)
	}
	sess.Start(ctx)
	m.sessions[id] = sess
	return sess, nil
}

// Get returns the live session for id, if any.
func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[id]
	return sess, ok
}

// Close shuts down the session for id. Closing an unknown id is a no-op.
func (m *Manager) Close(id string) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		sess.Close()
	}
}

// CloseAll shuts down every live session.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for id, sess := range m.sessions {
		sessions = append(sessions, sess)
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	for _, sess := range sessions {
		sess.Close()
	}
}

// Count returns the number of live sessions.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}
