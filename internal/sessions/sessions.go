// Package sessions keeps the per-session conversation history used for
// context carryover, and the keyed lock that serializes turns of one session.
package sessions

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/scenepilot/scenepilot/pkg/models"
)

// ErrNotFound is returned for sessions without any recorded turn.
var ErrNotFound = errors.New("session not found")

type history struct {
	turns     []models.ConversationTurn
	updatedAt time.Time
}

// MemoryHistoryStore is a thread-safe in-memory HistoryStore.
type MemoryHistoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*history // key: session ID
}

// NewMemoryHistoryStore creates an empty in-memory history store.
func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{sessions: make(map[string]*history)}
}

// Recent returns the last limit turns, oldest first. limit <= 0 returns all.
func (s *MemoryHistoryStore) Recent(_ context.Context, sessionID string, limit int) ([]models.ConversationTurn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	turns := h.turns
	if limit > 0 && len(turns) > limit {
		turns = turns[len(turns)-limit:]
	}
	out := make([]models.ConversationTurn, len(turns))
	copy(out, turns)
	return out, nil
}

// Append records a completed turn.
func (s *MemoryHistoryStore) Append(_ context.Context, sessionID string, turn models.ConversationTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h, ok := s.sessions[sessionID]
	if !ok {
		h = &history{}
		s.sessions[sessionID] = h
	}
	h.turns = append(h.turns, turn)
	h.updatedAt = time.Now().UTC()
	return nil
}

// Clear drops a session.
func (s *MemoryHistoryStore) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, sessionID)
	return nil
}

// PruneIdle drops sessions whose last turn is older than before and reports
// how many were dropped.
func (s *MemoryHistoryStore) PruneIdle(_ context.Context, before time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for id, h := range s.sessions {
		if h.updatedAt.Before(before) {
			delete(s.sessions, id)
			n++
		}
	}
	return n, nil
}

// Len returns the number of sessions held.
func (s *MemoryHistoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// ── Keyed lock ──────────────────────────────────────────────

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

// KeyedLocker hands out one mutex per key. Entries are dropped once no
// goroutine holds or waits for them.
type KeyedLocker struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

// NewKeyedLocker creates an empty locker.
func NewKeyedLocker() *KeyedLocker {
	return &KeyedLocker{entries: make(map[string]*keyedEntry)}
}

// Lock blocks until key is free and returns its unlock function.
func (l *KeyedLocker) Lock(key string) (unlock func()) {
	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		e = &keyedEntry{}
		l.entries[key] = e
	}
	e.refs++
	l.mu.Unlock()

	e.mu.Lock()
	return func() {
		e.mu.Unlock()
		l.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(l.entries, key)
		}
		l.mu.Unlock()
	}
}

// Len returns the number of keys currently held or awaited.
func (l *KeyedLocker) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
