package memory

import (
	"context"
	"sync"

	"exam-prep-service/internal/domain"
)

// SessionStore is an in-memory implementation of app.SessionStore. Snapshots
// only survive the process, so orphan recovery works across engine restarts
// within one process (and in tests); the Redis store covers real restarts.
type SessionStore struct {
	mu        sync.RWMutex
	snapshots map[string]domain.SessionSnapshot
}

func NewSessionStore() *SessionStore {
	return &SessionStore{snapshots: make(map[string]domain.SessionSnapshot)}
}

func (s *SessionStore) Load(_ context.Context, subject string) (domain.SessionSnapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[subject]
	return snap, ok, nil
}

func (s *SessionStore) Save(_ context.Context, snap domain.SessionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshots[snap.Subject] = snap
	return nil
}

func (s *SessionStore) Clear(_ context.Context, subject string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.snapshots, subject)
	return nil
}
