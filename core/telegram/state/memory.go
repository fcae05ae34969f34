package state

import (
	"context"
	"sync"
)

// MemoryStore keeps sessions in process memory. Data is lost on restart,
// so it suits tests and local development.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
}

// NewMemoryStore constructs an empty in-memory Store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[int64]*Session)}
}

// Get returns a copy of the stored session.
func (m *MemoryStore) Get(_ context.Context, id int64) (*Session, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, false, nil
	}
	return s.Clone(), true, nil
}

// Set stores a copy of s.
func (m *MemoryStore) Set(_ context.Context, id int64, s *Session) error {
	if s == nil {
		return ErrNilSession
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[id] = s.Clone()
	return nil
}

// Clear removes the session for id.
func (m *MemoryStore) Clear(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

// Active counts sessions that are not idle.
func (m *MemoryStore) Active(context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, s := range m.sessions {
		if s.State != StateIdle {
			n++
		}
	}
	return n, nil
}
