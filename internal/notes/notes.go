// Package notes implements per-session note taking: a session is opened with
// note_start, collects notes with note_add and is finalized with note_end.
package notes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/scenepilot/scenepilot/pkg/models"
)

// ErrNoOpenSession is returned when notes are finalized for a session that
// is not taking notes.
var ErrNoOpenSession = errors.New("no open note session")

// Store persists notes and the open/closed state of each session.
type Store interface {
	// Begin marks sessionID as taking notes. It is idempotent.
	Begin(ctx context.Context, sessionID string, at time.Time) error
	// Active reports whether sessionID is taking notes.
	Active(ctx context.Context, sessionID string) (bool, error)
	Append(ctx context.Context, note models.Note) error
	// Finalize marks every open note of sessionID final, closes the session
	// and returns the notes it finalized, oldest first.
	Finalize(ctx context.Context, sessionID string) ([]models.Note, error)
	// List returns every note of sessionID, oldest first.
	List(ctx context.Context, sessionID string) ([]models.Note, error)
}

// Service applies note commands to a store.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService creates a note service.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Apply executes cmd for sessionID and returns the notes it touched: the
// added note for add, the finalized notes for end. Adding to a session that
// was never started opens it implicitly.
func (s *Service) Apply(ctx context.Context, sessionID string, cmd models.NoteCommand) ([]models.Note, error) {
	switch cmd.Op {
	case models.NoteStart:
		if err := s.store.Begin(ctx, sessionID, s.now().UTC()); err != nil {
			return nil, fmt.Errorf("start notes: %w", err)
		}
		log.Debug().Str("session", sessionID).Msg("Note-taking started")
		return nil, nil

	case models.NoteAdd:
		text := strings.TrimSpace(cmd.Text)
		if text == "" {
			return nil, fmt.Errorf("add note: empty text")
		}
		active, err := s.store.Active(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("add note: %w", err)
		}
		now := s.now().UTC()
		if !active {
			if err := s.store.Begin(ctx, sessionID, now); err != nil {
				return nil, fmt.Errorf("add note: %w", err)
			}
		}
		n := models.Note{
			ID:        uuid.New().String(),
			SessionID: sessionID,
			Text:      text,
			CreatedAt: now,
		}
		if err := s.store.Append(ctx, n); err != nil {
			return nil, fmt.Errorf("add note: %w", err)
		}
		return []models.Note{n}, nil

	case models.NoteEnd:
		active, err := s.store.Active(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("end notes: %w", err)
		}
		if !active {
			return nil, ErrNoOpenSession
		}
		notes, err := s.store.Finalize(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("end notes: %w", err)
		}
		log.Info().Str("session", sessionID).Int("notes", len(notes)).Msg("📝 Notes finalized")
		return notes, nil
	}
	return nil, fmt.Errorf("unknown note operation %q", cmd.Op)
}

// List returns every note of sessionID.
func (s *Service) List(ctx context.Context, sessionID string) ([]models.Note, error) {
	notes, err := s.store.List(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	return notes, nil
}
