package memory

import (
	"context"
	"sync"

	"gitlab.com/timkado/api/travel-session-client/internal/domain"
)

// SessionStorage is a process-local domain.SessionStorage. Its lifetime is the
// process, which mirrors a browser tab's session storage.
type SessionStorage struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewSessionStorage creates an empty in-memory session storage.
func NewSessionStorage() *SessionStorage {
	return &SessionStorage{values: make(map[string]string)}
}

func (s *SessionStorage) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[key]
	if !ok {
		return "", domain.ErrStorageMiss
	}
	return v, nil
}

func (s *SessionStorage) Set(_ context.Context, key string, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *SessionStorage) Delete(_ context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		delete(s.values, k)
	}
	return nil
}

func (s *SessionStorage) Ping(context.Context) error { return nil }
