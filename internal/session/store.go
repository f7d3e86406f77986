package session

import (
	"log"
	"sync"
	"time"
)

// Store is the process-wide session registry. Entries are created lazily
// on the first join for an unknown id and reaped by the idle sweep.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewStore creates an empty registry.
func NewStore() *Store {
	return &Store{
		sessions: make(map[string]*Session),
	}
}

// GetOrCreate returns the session for id, creating an empty one when
// absent. Creation is atomic with respect to concurrent joins for the
// same id. The second return reports whether a new session was created.
func (st *Store) GetOrCreate(id string) (*Session, bool) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if s, ok := st.sessions[id]; ok {
		return s, false
	}

	s := New(id)
	st.sessions[id] = s
	log.Printf("[Store] Created session: %s", id)
	return s, true
}

// Get looks up an existing session.
func (st *Store) Get(id string) (*Session, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	s, ok := st.sessions[id]
	return s, ok
}

// Remove drops a session from the registry.
func (st *Store) Remove(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.sessions[id]; ok {
		delete(st.sessions, id)
		log.Printf("[Store] Removed session: %s", id)
	}
}

// Count returns the number of registered sessions.
func (st *Store) Count() int {
	st.mu.RLock()
	defer st.mu.RUnlock()

	return len(st.sessions)
}

// CleanupIdle reaps sessions that have no live connection and have been
// inactive for longer than maxAge. Returns how many were removed.
func (st *Store) CleanupIdle(maxAge time.Duration) int {
	st.mu.Lock()
	defer st.mu.Unlock()

	removed := 0
	for id, s := range st.sessions {
		if s.ActiveCount() == 0 && s.IdleFor() > maxAge {
			delete(st.sessions, id)
			removed++
			log.Printf("[Store] Cleaned up idle session: %s", id)
		}
	}
	return removed
}

// RunSweeper reaps idle sessions on a fixed interval until stop is closed.
func (st *Store) RunSweeper(interval, maxAge time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			st.CleanupIdle(maxAge)
		}
	}
}
