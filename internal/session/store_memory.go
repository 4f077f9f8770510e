package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"tunnus/pkg/platform/sentinel"
)

// InMemoryStore backs single-instance deployments and tests.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string]timedEntry
	// now is swappable for expiry tests.
	now func() time.Time
}

type timedEntry struct {
	entry     Entry
	expiresAt time.Time
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		entries: make(map[string]timedEntry),
		now:     time.Now,
	}
}

func (s *InMemoryStore) Put(_ context.Context, entry Entry, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.SID] = timedEntry{entry: entry, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *InMemoryStore) Get(_ context.Context, sid string) (Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	timed, ok := s.entries[sid]
	if !ok || s.now().After(timed.expiresAt) {
		return Entry{}, sentinel.ErrNotFound
	}
	return timed.entry, nil
}

func (s *InMemoryStore) Delete(_ context.Context, sid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, sid)
	return nil
}

func (s *InMemoryStore) DeleteByUser(_ context.Context, userID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for sid, timed := range s.entries {
		if timed.entry.UserID == userID {
			delete(s.entries, sid)
			removed++
		}
	}
	return removed, nil
}
