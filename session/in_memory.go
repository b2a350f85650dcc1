package session

import (
	"sync"
	"time"
)

type memoryEntry struct {
	state     State
	expiresAt time.Time
}

// InMemoryStore is a volatile Store keeping sessions in a process local map.
// It is safe for concurrent access and best suited for tests or ephemeral
// demo servers.
type InMemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	now     func() time.Time
}

// NewInMemoryStore constructs an empty in-memory session store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

// Get returns the stored state for a session id. Expired entries are treated
// as absent and dropped lazily.
func (s *InMemoryStore) Get(sessionID string) (State, bool, error) {
	s.mu.RLock()
	entry, ok := s.entries[sessionID]
	s.mu.RUnlock()

	if !ok {
		return State{}, false, nil
	}
	if !entry.expiresAt.IsZero() && s.now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, sessionID)
		s.mu.Unlock()
		return State{}, false, nil
	}
	return entry.state, true, nil
}

// Set stores a state snapshot, replacing any previous one.
func (s *InMemoryStore) Set(sessionID string, state State, ttl time.Duration) error {
	entry := memoryEntry{state: state}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[sessionID] = entry
	return nil
}

// Delete removes a session if present.
func (s *InMemoryStore) Delete(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, sessionID)
	return nil
}
