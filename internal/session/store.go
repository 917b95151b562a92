package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned by Load for unknown session ids.
var ErrNotFound = errors.New("session not found")

// Store is the persistence contract. Saves must be safe to call with a
// session whose state has just changed; callers treat save failures as
// non-fatal for the current turn but surface them before shutdown.
type Store interface {
	Save(ctx context.Context, s *Session) error
	Load(ctx context.Context, id string) (*Session, error)
	ListActiveIDs(ctx context.Context) ([]string, error)
	// CleanupExpired deactivates non-terminal sessions idle longer than ttl
	// and returns how many were swept.
	CleanupExpired(ctx context.Context, ttl time.Duration) (int, error)
	Close() error
}

// MemoryStore keeps sessions in a map. Used by tests and the simulate
// command; production wiring uses SQLiteStore.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	touched  map[string]time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		touched:  make(map[string]time.Time),
	}
}

func (m *MemoryStore) Save(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s.Clone()
	m.touched[s.ID] = time.Now()
	return nil
}

func (m *MemoryStore) Load(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return s.Clone(), nil
}

func (m *MemoryStore) ListActiveIDs(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.sessions))
	for id, s := range m.sessions {
		if !s.Terminal() {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (m *MemoryStore) CleanupExpired(_ context.Context, ttl time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-ttl)
	n := 0
	for id, s := range m.sessions {
		if s.Terminal() {
			continue
		}
		if m.touched[id].Before(cutoff) {
			s.Complete(ReasonError)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Close() error { return nil }
