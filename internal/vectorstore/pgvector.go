package vectorstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
	"github.com/scenepilot/scenepilot/pkg/models"
)

// PgvectorStore implements ChunkIndex using PostgreSQL with the pgvector
// extension. Lexical terms live in a text[] column with a GIN index so both
// retrieval passes run in the database.
type PgvectorStore struct {
	pool       *pgxpool.Pool
	dimensions int
}

// NewPgvectorStore connects, then creates the table and indexes if missing.
func NewPgvectorStore(ctx context.Context, connURL string, dimensions int) (*PgvectorStore, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("pgvector connect: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector ping: %w", err)
	}

	s := &PgvectorStore{pool: pool, dimensions: dimensions}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgvector migrate: %w", err)
	}

	log.Info().Int("dims", dimensions).Msg("pgvector chunk index initialized")
	return s, nil
}

func (s *PgvectorStore) migrate(ctx context.Context) error {
	ddl := fmt.Sprintf(`
		CREATE EXTENSION IF NOT EXISTS vector;

		CREATE TABLE IF NOT EXISTS sp_chunks (
			id            TEXT PRIMARY KEY,
			document_id   TEXT NOT NULL,
			content       TEXT NOT NULL DEFAULT '',
			terms         TEXT[] NOT NULL DEFAULT '{}',
			metadata      JSONB NOT NULL DEFAULT '{}',
			embedding     vector(%d) NOT NULL,
			document_time TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_sp_chunks_document ON sp_chunks (document_id);
		CREATE INDEX IF NOT EXISTS idx_sp_chunks_terms ON sp_chunks USING GIN (terms);
	`, s.dimensions)

	_, err := s.pool.Exec(ctx, ddl)
	return err
}

func (s *PgvectorStore) Kind() string { return "pgvector" }

func (s *PgvectorStore) Upsert(ctx context.Context, chunks []models.RetrievalChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	var sb strings.Builder
	sb.WriteString(`INSERT INTO sp_chunks (id, document_id, content, terms, metadata, embedding, document_time, created_at)
		VALUES `)

	const cols = 8
	args := make([]interface{}, 0, len(chunks)*cols)
	now := time.Now().UTC()
	for i, c := range chunks {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i*cols + 1
		sb.WriteString(fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d::vector, $%d, $%d)",
			base, base+1, base+2, base+3, base+4, base+5, base+6, base+7))
		id := c.ID
		if id == "" {
			id = uuid.NewString()
		}
		created := c.CreatedAt
		if created.IsZero() {
			created = now
		}
		docTime := c.DocumentTime
		if docTime.IsZero() {
			docTime = created
		}
		metadata := c.Metadata
		if metadata == nil {
			metadata = map[string]string{}
		}
		terms := c.LexicalTerms
		if terms == nil {
			terms = []string{}
		}
		args = append(args, id, c.DocumentID, c.Text, terms, metadata, pgvectorArray(c.Embedding), docTime, created)
	}

	sb.WriteString(` ON CONFLICT (id) DO UPDATE SET
		document_id = EXCLUDED.document_id,
		content = EXCLUDED.content,
		terms = EXCLUDED.terms,
		metadata = EXCLUDED.metadata,
		embedding = EXCLUDED.embedding,
		document_time = EXCLUDED.document_time`)

	_, err := s.pool.Exec(ctx, sb.String(), args...)
	return err
}

func (s *PgvectorStore) SemanticSearch(ctx context.Context, vector []float64, limit int) ([]models.ScoredChunk, error) {
	query := `SELECT id, document_id, content, terms, metadata, document_time, created_at,
		1 - (embedding <=> $1::vector) AS score
		FROM sp_chunks
		ORDER BY embedding <=> $1::vector, id`
	args := []interface{}{pgvectorArray(vector)}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}
	return s.query(ctx, "semantic", query, args...)
}

func (s *PgvectorStore) LexicalSearch(ctx context.Context, terms []string, limit int) ([]models.ScoredChunk, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	query := `SELECT id, document_id, content, terms, metadata, document_time, created_at,
		(SELECT COUNT(*) FROM unnest(terms) t WHERE t = ANY($1))::float8 / $2 AS score
		FROM sp_chunks
		WHERE terms && $1
		ORDER BY score DESC, id`
	args := []interface{}{terms, float64(len(terms))}
	if limit > 0 {
		query += " LIMIT $3"
		args = append(args, limit)
	}
	return s.query(ctx, "lexical", query, args...)
}

func (s *PgvectorStore) query(ctx context.Context, pass, query string, args ...interface{}) ([]models.ScoredChunk, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("pgvector %s search: %w", pass, err)
	}
	defer rows.Close()

	var results []models.ScoredChunk
	for rows.Next() {
		var c models.RetrievalChunk
		var score float64
		if err := rows.Scan(&c.ID, &c.DocumentID, &c.Text, &c.LexicalTerms, &c.Metadata, &c.DocumentTime, &c.CreatedAt, &score); err != nil {
			return nil, fmt.Errorf("pgvector scan: %w", err)
		}
		results = append(results, models.ScoredChunk{Chunk: c, Score: score})
	}
	return results, rows.Err()
}

func (s *PgvectorStore) DeleteDocument(ctx context.Context, documentID string) (int, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM sp_chunks WHERE document_id = $1", documentID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PgvectorStore) Count(ctx context.Context) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM sp_chunks").Scan(&count)
	return count, err
}

func (s *PgvectorStore) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the connection pool.
func (s *PgvectorStore) Close() {
	s.pool.Close()
}

// pgvectorArray converts a float64 slice to pgvector's text format: [1,2.5,3]
func pgvectorArray(v []float64) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, f := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(fmt.Sprintf("%g", f))
	}
	sb.WriteByte(']')
	return sb.String()
}
