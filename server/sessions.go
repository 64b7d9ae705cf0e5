package server

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Session groups the handles created by one client so they can be
// released together.
type Session struct {
	ID      string
	Name    string
	Created time.Time
}

// SessionStore manages sessions.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewSessionStore creates a new session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{sessions: make(map[string]*Session)}
}

// Create creates a new session with an optional name.
func (s *SessionStore) Create(name string) *Session {
	session := &Session{
		ID:      uuid.NewString(),
		Name:    name,
		Created: time.Now(),
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	return session
}

// Get retrieves a session by ID.
func (s *SessionStore) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[id]
	return session, ok
}

// Remove forgets a session, reporting whether it existed. The caller
// releases its handles.
func (s *SessionStore) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.sessions[id]
	delete(s.sessions, id)
	return ok
}
