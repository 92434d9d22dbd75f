package notes

import (
	"context"
	"sync"
	"time"

	"github.com/scenepilot/scenepilot/pkg/models"
)

type sessionNotes struct {
	active bool
	notes  []models.Note
}

// MemoryStore is a thread-safe in-memory Store.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*sessionNotes // key: session ID
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*sessionNotes)}
}

func (s *MemoryStore) session(id string) *sessionNotes {
	sn, ok := s.sessions[id]
	if !ok {
		sn = &sessionNotes{}
		s.sessions[id] = sn
	}
	return sn
}

func (s *MemoryStore) Begin(_ context.Context, sessionID string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session(sessionID).active = true
	return nil
}

func (s *MemoryStore) Active(_ context.Context, sessionID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sn, ok := s.sessions[sessionID]
	return ok && sn.active, nil
}

func (s *MemoryStore) Append(_ context.Context, note models.Note) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sn := s.session(note.SessionID)
	sn.notes = append(sn.notes, note)
	return nil
}

func (s *MemoryStore) Finalize(_ context.Context, sessionID string) ([]models.Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sn, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}
	var out []models.Note
	for i := range sn.notes {
		if !sn.notes[i].Finalized {
			sn.notes[i].Finalized = true
			out = append(out, sn.notes[i])
		}
	}
	sn.active = false
	return out, nil
}

func (s *MemoryStore) List(_ context.Context, sessionID string) ([]models.Note, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sn, ok := s.sessions[sessionID]
	if !ok {
		return []models.Note{}, nil
	}
	out := make([]models.Note, len(sn.notes))
	copy(out, sn.notes)
	return out, nil
}
