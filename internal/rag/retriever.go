package rag

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/scenepilot/scenepilot/internal/textnorm"
	"github.com/scenepilot/scenepilot/pkg/contracts"
	"github.com/scenepilot/scenepilot/pkg/models"
	"golang.org/x/sync/errgroup"
)

// ErrIndexUnavailable marks retrieval failures caused by the index or the
// embedding backend, as opposed to a query that simply found nothing.
var ErrIndexUnavailable = errors.New("retrieval index unavailable")

// RetrieverConfig configures hybrid retrieval.
type RetrieverConfig struct {
	SemanticWeight float64 // weight of cosine similarity (default 0.7)
	LexicalWeight  float64 // weight of term match ratio (default 0.3)
	RelevanceFloor float64 // fused scores below this are dropped
	TopK           int     // default result count
	CandidatePool  int     // per-pass candidates; <= 0 scores every chunk
}

// DefaultRetrieverConfig returns the tuned defaults.
func DefaultRetrieverConfig() RetrieverConfig {
	return RetrieverConfig{
		SemanticWeight: 0.7,
		LexicalWeight:  0.3,
		RelevanceFloor: 0.35,
		TopK:           5,
	}
}

// Retriever fuses a semantic and a lexical pass over the chunk index.
type Retriever struct {
	embeddings contracts.EmbeddingDriver
	index      contracts.ChunkIndex
	cfg        RetrieverConfig
}

// NewRetriever creates a hybrid retriever.
func NewRetriever(emb contracts.EmbeddingDriver, idx contracts.ChunkIndex, cfg RetrieverConfig) *Retriever {
	return &Retriever{embeddings: emb, index: idx, cfg: cfg}
}

type fusedEntry struct {
	chunk    models.RetrievalChunk
	semantic float64
	lexical  float64
}

// Retrieve returns up to topK chunks ranked by fused score. An empty result is
// not an error. Cancellation and deadlines surface as the context's error;
// index and embedding failures wrap ErrIndexUnavailable.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]models.FusedResult, error) {
	if r == nil || r.index == nil || r.embeddings == nil {
		return nil, ErrIndexUnavailable
	}
	if topK <= 0 {
		topK = r.cfg.TopK
	}
	start := time.Now()

	var semantic, lexical []models.ScoredChunk
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		vecs, err := r.embeddings.Embed(gctx, []string{query})
		if err != nil {
			return r.failure(gctx, "embed query", err)
		}
		if len(vecs) != 1 {
			return fmt.Errorf("%w: embed query returned %d vectors", ErrIndexUnavailable, len(vecs))
		}
		res, err := r.index.SemanticSearch(gctx, vecs[0], r.cfg.CandidatePool)
		if err != nil {
			return r.failure(gctx, "semantic search", err)
		}
		semantic = res
		return nil
	})
	g.Go(func() error {
		res, err := r.index.LexicalSearch(gctx, textnorm.Terms(query), r.cfg.CandidatePool)
		if err != nil {
			return r.failure(gctx, "lexical search", err)
		}
		lexical = res
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	entries := make(map[string]*fusedEntry)
	for _, s := range semantic {
		sim := s.Score
		if sim < 0 {
			sim = 0
		}
		entries[s.Chunk.ID] = &fusedEntry{chunk: s.Chunk, semantic: sim}
	}
	for _, s := range lexical {
		if e, ok := entries[s.Chunk.ID]; ok {
			e.lexical = s.Score
			continue
		}
		entries[s.Chunk.ID] = &fusedEntry{chunk: s.Chunk, lexical: s.Score}
	}

	type ranked struct {
		result  models.FusedResult
		docTime time.Time
	}
	var out []ranked
	for _, e := range entries {
		fused := r.cfg.SemanticWeight*e.semantic + r.cfg.LexicalWeight*e.lexical
		if fused < r.cfg.RelevanceFloor {
			continue
		}
		out = append(out, ranked{
			result: models.FusedResult{
				ChunkID:       e.chunk.ID,
				DocumentID:    e.chunk.DocumentID,
				Text:          e.chunk.Text,
				SemanticScore: e.semantic,
				LexicalScore:  e.lexical,
				FusedScore:    fused,
			},
			docTime: e.chunk.DocumentTime,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.result.FusedScore != b.result.FusedScore {
			return a.result.FusedScore > b.result.FusedScore
		}
		if !a.docTime.Equal(b.docTime) {
			return a.docTime.After(b.docTime)
		}
		if a.result.DocumentID != b.result.DocumentID {
			return a.result.DocumentID < b.result.DocumentID
		}
		return a.result.ChunkID < b.result.ChunkID
	})
	if len(out) > topK {
		out = out[:topK]
	}

	results := make([]models.FusedResult, len(out))
	for i, o := range out {
		results[i] = o.result
	}

	log.Debug().
		Int("semantic", len(semantic)).
		Int("lexical", len(lexical)).
		Int("results", len(results)).
		Dur("elapsed", time.Since(start)).
		Msg("Hybrid retrieval complete")
	return results, nil
}

// failure keeps context errors recognizable and marks the rest as index
// unavailability.
func (r *Retriever) failure(ctx context.Context, op string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%s: %w", op, ctxErr)
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrIndexUnavailable, op, err)
}

// BuildContext concatenates result texts, best first, up to maxChars.
func BuildContext(results []models.FusedResult, maxChars int) string {
	if maxChars <= 0 {
		maxChars = 3500
	}
	var parts []string
	size := 0
	seen := make(map[string]bool)
	for _, r := range results {
		if seen[r.ChunkID] || r.Text == "" {
			continue
		}
		seen[r.ChunkID] = true
		if size > 0 && size+len(r.Text) > maxChars {
			break
		}
		parts = append(parts, r.Text)
		size += len(r.Text) + 2
	}
	return strings.Join(parts, "\n\n")
}
