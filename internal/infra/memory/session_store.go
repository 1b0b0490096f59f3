package memory

import (
	"context"
	"sync"

	"live-classroom-service/internal/app"
)

// SessionStore is an in-memory implementation of app.SessionRepository.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*app.HostSession
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*app.HostSession),
	}
}

func (s *SessionStore) Put(_ context.Context, session *app.HostSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.Code()] = session
	return nil
}

func (s *SessionStore) Get(code string) (*app.HostSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[code]
	return session, ok
}

func (s *SessionStore) Lookup(_ context.Context, code string) (string, bool, error) {
	session, ok := s.Get(code)
	if !ok {
		return "", false, nil
	}
	return session.Quiz().ID, true, nil
}

func (s *SessionStore) Delete(_ context.Context, code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, code)
}
