package api

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// stateTTL bounds how long a consent round-trip may take. Authorization
// servers time out long before this.
const stateTTL = 10 * time.Minute

// StateStore maps opaque OAuth state values to store keys for the
// duration of one consent round-trip. Entries are single-use.
type StateStore struct {
	mu      sync.Mutex
	entries map[string]stateEntry
	now     func() time.Time
}

type stateEntry struct {
	storeKey  string
	expiresAt time.Time
}

func NewStateStore() *StateStore {
	return &StateStore{
		entries: make(map[string]stateEntry),
		now:     time.Now,
	}
}

// Issue mints a fresh state value bound to the store key.
func (s *StateStore) Issue(storeKey string) string {
	state := uuid.New().String()

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sweep()
	s.entries[state] = stateEntry{storeKey: storeKey, expiresAt: s.now().Add(stateTTL)}
	return state
}

// Claim resolves and consumes a state value. A state can be claimed once;
// replays and expired states fail.
func (s *StateStore) Claim(state string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[state]
	if !ok {
		return "", false
	}
	delete(s.entries, state)

	if s.now().After(entry.expiresAt) {
		return "", false
	}
	return entry.storeKey, true
}

// sweep drops expired entries; called under the lock.
func (s *StateStore) sweep() {
	now := s.now()
	for state, entry := range s.entries {
		if now.After(entry.expiresAt) {
			delete(s.entries, state)
		}
	}
}
