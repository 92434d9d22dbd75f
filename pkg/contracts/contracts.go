// Package contracts defines the service interfaces of the ScenePilot decision
// service.
//
// The pipeline packages depend on these interfaces rather than on concrete
// drivers, so swapping the in-memory index for pgvector, the hashing embedder
// for Ollama, or the template generator for an LLM is a wiring change in
// pkg/server.
package contracts

import (
	"context"

	"github.com/scenepilot/scenepilot/pkg/models"
)

// ── Embedding Driver ────────────────────────────────────────

// EmbeddingDriver turns text into dense vectors.
// Ships: hashing (offline, deterministic), Ollama, OpenAI.
type EmbeddingDriver interface {
	// Kind returns the driver identifier (e.g., "hashing", "ollama").
	Kind() string

	// Dimensions returns the vector length produced by Embed.
	Dimensions() int

	// MaxBatchSize returns the most texts a single Embed call accepts.
	MaxBatchSize() int

	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float64, error)

	// HealthCheck verifies the backend is reachable.
	HealthCheck(ctx context.Context) error
}

// ── Chunk Index ─────────────────────────────────────────────

// ChunkIndex stores retrieval chunks and answers both passes of hybrid
// retrieval. Chunks are immutable once stored; re-ingesting a document
// replaces its chunks. A limit <= 0 means "every chunk".
type ChunkIndex interface {
	Kind() string

	// Upsert stores chunks, replacing any chunk with the same ID.
	Upsert(ctx context.Context, chunks []models.RetrievalChunk) error

	// SemanticSearch scores chunks by cosine similarity to vector,
	// best first.
	SemanticSearch(ctx context.Context, vector []float64, limit int) ([]models.ScoredChunk, error)

	// LexicalSearch scores chunks by the fraction of terms they contain,
	// best first. Chunks matching no term are omitted.
	LexicalSearch(ctx context.Context, terms []string, limit int) ([]models.ScoredChunk, error)

	// DeleteDocument removes every chunk of a document.
	DeleteDocument(ctx context.Context, documentID string) (int, error)

	// Count returns the number of stored chunks.
	Count(ctx context.Context) (int, error)

	HealthCheck(ctx context.Context) error
}

// ── Generator ───────────────────────────────────────────────

// Generator renders the user-facing message of a routing decision. It only
// phrases what the decision already contains.
type Generator interface {
	Kind() string
	Generate(ctx context.Context, decision *models.RoutingDecision, query string) (string, error)
}

// ── Session History ─────────────────────────────────────────

// HistoryStore persists completed turns per session. Turns are appended after
// a decision completes; only the most recent ones are ever read.
type HistoryStore interface {
	// Recent returns up to limit turns of a session, oldest first.
	Recent(ctx context.Context, sessionID string, limit int) ([]models.ConversationTurn, error)

	// Append records a completed turn.
	Append(ctx context.Context, sessionID string, turn models.ConversationTurn) error

	// Clear drops the session's history.
	Clear(ctx context.Context, sessionID string) error
}
