package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/scenepilot/scenepilot/internal/embeddings"
	"github.com/scenepilot/scenepilot/pkg/models"
)

// DefaultMaxChunks is the default cap for the embedded index (50K).
const DefaultMaxChunks = 50_000

// EmbeddedStore is a lightweight in-memory chunk index using brute-force
// cosine similarity and term matching. Suitable for development, tests and
// small knowledge bases. For larger corpora use pgvector.
type EmbeddedStore struct {
	mu        sync.RWMutex
	chunks    map[string]*models.RetrievalChunk // key: chunk id
	maxChunks int
}

// EmbeddedOption configures the embedded store.
type EmbeddedOption func(*EmbeddedStore)

// WithMaxChunks sets the maximum number of chunks (default 50K).
func WithMaxChunks(max int) EmbeddedOption {
	return func(s *EmbeddedStore) { s.maxChunks = max }
}

// NewEmbeddedStore creates an in-memory chunk index.
func NewEmbeddedStore(opts ...EmbeddedOption) *EmbeddedStore {
	s := &EmbeddedStore{
		chunks:    make(map[string]*models.RetrievalChunk),
		maxChunks: DefaultMaxChunks,
	}
	for _, opt := range opts {
		opt(s)
	}
	log.Debug().Int("max_chunks", s.maxChunks).Msg("Embedded chunk index initialized")
	return s
}

func (s *EmbeddedStore) Kind() string { return "embedded" }

func (s *EmbeddedStore) Upsert(_ context.Context, chunks []models.RetrievalChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	newCount := 0
	for _, c := range chunks {
		if _, exists := s.chunks[c.ID]; !exists || c.ID == "" {
			newCount++
		}
	}
	total := len(s.chunks) + newCount
	if total > s.maxChunks {
		return fmt.Errorf("embedded index capacity exceeded: %d > %d (consider pgvector)", total, s.maxChunks)
	}
	if total > int(float64(s.maxChunks)*0.9) {
		log.Warn().Int("count", total).Int("max", s.maxChunks).Msg("Embedded index nearing capacity, consider pgvector")
	}

	now := time.Now().UTC()
	for _, c := range chunks {
		cp := c
		if cp.ID == "" {
			cp.ID = uuid.NewString()
		}
		if cp.CreatedAt.IsZero() {
			cp.CreatedAt = now
		}
		if cp.DocumentTime.IsZero() {
			cp.DocumentTime = cp.CreatedAt
		}
		s.chunks[cp.ID] = &cp
	}
	return nil
}

func (s *EmbeddedStore) SemanticSearch(ctx context.Context, vector []float64, limit int) ([]models.ScoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]models.ScoredChunk, 0, len(s.chunks))
	for _, c := range s.chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if len(c.Embedding) != len(vector) {
			continue
		}
		results = append(results, models.ScoredChunk{Chunk: *c, Score: embeddings.Cosine(vector, c.Embedding)})
	}
	return rank(results, limit), nil
}

func (s *EmbeddedStore) LexicalSearch(ctx context.Context, terms []string, limit int) ([]models.ScoredChunk, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	want := make(map[string]struct{}, len(terms))
	for _, t := range terms {
		want[t] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []models.ScoredChunk
	for _, c := range s.chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		hits := 0
		for _, t := range c.LexicalTerms {
			if _, ok := want[t]; ok {
				hits++
			}
		}
		if hits == 0 {
			continue
		}
		results = append(results, models.ScoredChunk{Chunk: *c, Score: float64(hits) / float64(len(want))})
	}
	return rank(results, limit), nil
}

func (s *EmbeddedStore) DeleteDocument(_ context.Context, documentID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, c := range s.chunks {
		if c.DocumentID == documentID {
			delete(s.chunks, id)
			n++
		}
	}
	return n, nil
}

func (s *EmbeddedStore) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks), nil
}

func (s *EmbeddedStore) HealthCheck(_ context.Context) error {
	return nil // always healthy, it's in-memory
}

// ── Helpers ─────────────────────────────────────────────────

// rank sorts by score desc, chunk id asc, and truncates to limit.
func rank(results []models.ScoredChunk, limit int) []models.ScoredChunk {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.ID < results[j].Chunk.ID
	})
	if limit > 0 && limit < len(results) {
		results = results[:limit]
	}
	return results
}
