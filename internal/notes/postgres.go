package notes

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	_ "github.com/lib/pq"
	"github.com/scenepilot/scenepilot/pkg/models"
)

// PostgresStore persists notes in PostgreSQL through database/sql.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres opens a lib/pq connection pool for dsn.
func OpenPostgres(dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate creates the notes tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sp_note_sessions (
			session_id TEXT PRIMARY KEY,
			active     BOOLEAN NOT NULL DEFAULT TRUE,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sp_notes (
			id         TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			text       TEXT NOT NULL,
			finalized  BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS sp_notes_session_idx ON sp_notes (session_id, created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate notes: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) Begin(ctx context.Context, sessionID string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sp_note_sessions (session_id, active, updated_at) VALUES ($1, TRUE, $2)
		 ON CONFLICT (session_id) DO UPDATE SET active = TRUE, updated_at = EXCLUDED.updated_at`,
		sessionID, at)
	if err != nil {
		return fmt.Errorf("begin note session: %w", err)
	}
	return nil
}

func (s *PostgresStore) Active(ctx context.Context, sessionID string) (bool, error) {
	var active bool
	err := s.db.QueryRowContext(ctx,
		`SELECT active FROM sp_note_sessions WHERE session_id = $1`, sessionID).Scan(&active)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query note session: %w", err)
	}
	return active, nil
}

func (s *PostgresStore) Append(ctx context.Context, note models.Note) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sp_notes (id, session_id, text, finalized, created_at) VALUES ($1, $2, $3, FALSE, $4)`,
		note.ID, note.SessionID, note.Text, note.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert note: %w", err)
	}
	return nil
}

func (s *PostgresStore) Finalize(ctx context.Context, sessionID string) ([]models.Note, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	rows, err := tx.QueryContext(ctx,
		`UPDATE sp_notes SET finalized = TRUE WHERE session_id = $1 AND finalized = FALSE
		 RETURNING id, text, created_at`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("finalize notes: %w", err)
	}
	var out []models.Note
	for rows.Next() {
		n := models.Note{SessionID: sessionID, Finalized: true}
		if err := rows.Scan(&n.ID, &n.Text, &n.CreatedAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan note: %w", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("finalize notes: %w", err)
	}
	rows.Close()

	if _, err := tx.ExecContext(ctx,
		`UPDATE sp_note_sessions SET active = FALSE WHERE session_id = $1`, sessionID); err != nil {
		return nil, fmt.Errorf("close note session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	// RETURNING carries no order guarantee.
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *PostgresStore) List(ctx context.Context, sessionID string) ([]models.Note, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, text, finalized, created_at FROM sp_notes WHERE session_id = $1 ORDER BY created_at, id`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	out := []models.Note{}
	for rows.Next() {
		n := models.Note{SessionID: sessionID}
		if err := rows.Scan(&n.ID, &n.Text, &n.Finalized, &n.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
