package rag

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/scenepilot/scenepilot/internal/embeddings"
	"github.com/scenepilot/scenepilot/internal/vectorstore"
	"github.com/scenepilot/scenepilot/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ── Chunker ─────────────────────────────────────────────────

func TestChunkTextShortInput(t *testing.T) {
	chunks := ChunkText("  The nerve overlay highlights the canal.  ", DefaultChunkerConfig())
	require.Len(t, chunks, 1)
	assert.Equal(t, "The nerve overlay highlights the canal.", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Empty(t, ChunkText("   \n\n  ", DefaultChunkerConfig()))
}

func TestChunkTextRespectsSize(t *testing.T) {
	var paras []string
	for i := 0; i < 40; i++ {
		paras = append(paras, strings.Repeat("implant sizing guidance ", 6))
	}
	cfg := ChunkerConfig{ChunkSize: 300, ChunkOverlap: 40}
	chunks := ChunkText(strings.Join(paras, "\n\n"), cfg)
	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Text), cfg.ChunkSize)
		assert.NotEmpty(t, strings.TrimSpace(c.Text))
	}
}

func TestChunkTextSplitsUnbrokenText(t *testing.T) {
	chunks := ChunkText(strings.Repeat("a", 250), ChunkerConfig{ChunkSize: 100})
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[2].Text, 50)
}

func TestChunkTextPassthrough(t *testing.T) {
	text := strings.Repeat("word ", 500)
	chunks := ChunkText(text, ChunkerConfig{ChunkSize: 100, Passthrough: true})
	require.Len(t, chunks, 1)
}

// ── Ingestion ───────────────────────────────────────────────

func TestIngestReplacesDocumentChunks(t *testing.T) {
	ctx := context.Background()
	store := vectorstore.NewEmbeddedStore()
	ing := NewIngester(embeddings.NewHashingDriver(64), store, DefaultChunkerConfig())

	req := models.IngestRequest{Documents: []models.RawDocument{
		{ID: "manual", Content: "Para one about nerves.\n\nPara two about sinus.", Metadata: map[string]string{"lang": "en"}},
	}, ChunkSize: 30}
	res, err := ing.Ingest(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, res.DocumentsProcessed)
	assert.Equal(t, 2, res.ChunksCreated)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	req.Documents[0].Content = "A single short paragraph."
	res, err = ing.Ingest(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 1, res.ChunksCreated)
	n, err = store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n, "re-ingesting drops the stale chunks")

	hits, err := store.LexicalSearch(ctx, []string{"paragraph"}, 0)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "en", hits[0].Chunk.Metadata["lang"])
	assert.Equal(t, "manual", hits[0].Chunk.Metadata["source"])
	assert.False(t, hits[0].Chunk.DocumentTime.IsZero())
}

func TestIngestRejectsMissingID(t *testing.T) {
	ing := NewIngester(embeddings.NewHashingDriver(64), vectorstore.NewEmbeddedStore(), DefaultChunkerConfig())
	_, err := ing.Ingest(context.Background(), models.IngestRequest{Documents: []models.RawDocument{{Content: "x"}}})
	assert.Error(t, err)
}

// ── Hybrid retrieval ────────────────────────────────────────

type stubIndex struct {
	vectorstore.EmbeddedStore
	semantic []models.ScoredChunk
	lexical  []models.ScoredChunk
	err      error
	block    bool
}

func (s *stubIndex) SemanticSearch(ctx context.Context, _ []float64, _ int) ([]models.ScoredChunk, error) {
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.semantic, s.err
}

func (s *stubIndex) LexicalSearch(context.Context, []string, int) ([]models.ScoredChunk, error) {
	return s.lexical, s.err
}

func scored(id, doc string, at time.Time, score float64) models.ScoredChunk {
	return models.ScoredChunk{Chunk: models.RetrievalChunk{ID: id, DocumentID: doc, Text: id, DocumentTime: at}, Score: score}
}

func TestRetrieveFusesAndOrders(t *testing.T) {
	older := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Hour)
	idx := &stubIndex{
		semantic: []models.ScoredChunk{
			scored("a", "d1", older, 0.6),
			scored("b", "d2", older, 0.6),
			scored("c", "d1", newer, 0.6),
			scored("neg", "d3", older, -0.9),
			scored("low", "d3", older, 0.2),
		},
		lexical: []models.ScoredChunk{
			scored("a", "d1", older, 1),
			scored("neg", "d3", older, 1),
		},
	}
	r := NewRetriever(embeddings.NewHashingDriver(16), idx, DefaultRetrieverConfig())

	res, err := r.Retrieve(context.Background(), "nerve overlay", 10)
	require.NoError(t, err)

	var ids []string
	for _, x := range res {
		ids = append(ids, x.ChunkID)
	}
	// c and b tie at 0.42 and c is newer. neg clamps to 0 and its 0.3 falls
	// under the floor, like low at 0.14.
	assert.Equal(t, []string{"a", "c", "b"}, ids)
	assert.InDelta(t, 0.72, res[0].FusedScore, 1e-9)
	assert.Equal(t, 1.0, res[0].LexicalScore)
	assert.Equal(t, 0.0, res[2].LexicalScore)
}

func TestRetrieveTieBreaksByDocumentThenChunk(t *testing.T) {
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	idx := &stubIndex{semantic: []models.ScoredChunk{
		scored("z", "d2", at, 0.6),
		scored("y", "d1", at, 0.6),
		scored("x", "d1", at, 0.6),
	}}
	r := NewRetriever(embeddings.NewHashingDriver(16), idx, DefaultRetrieverConfig())

	res, err := r.Retrieve(context.Background(), "anything", 2)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "x", res[0].ChunkID)
	assert.Equal(t, "y", res[1].ChunkID)
}

func TestRetrieveIndexFailure(t *testing.T) {
	idx := &stubIndex{err: errors.New("connection refused")}
	r := NewRetriever(embeddings.NewHashingDriver(16), idx, DefaultRetrieverConfig())
	_, err := r.Retrieve(context.Background(), "nerve", 5)
	assert.ErrorIs(t, err, ErrIndexUnavailable)

	var nilRetriever *Retriever
	_, err = nilRetriever.Retrieve(context.Background(), "nerve", 5)
	assert.ErrorIs(t, err, ErrIndexUnavailable)
}

func TestRetrieveDeadline(t *testing.T) {
	r := NewRetriever(embeddings.NewHashingDriver(16), &stubIndex{block: true}, DefaultRetrieverConfig())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := r.Retrieve(ctx, "nerve", 5)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, ErrIndexUnavailable)
}

func TestRetrieveDeterministic(t *testing.T) {
	ctx := context.Background()
	emb := embeddings.NewHashingDriver(256)
	store := vectorstore.NewEmbeddedStore()
	ing := NewIngester(emb, store, DefaultChunkerConfig())
	_, err := ing.Ingest(ctx, models.IngestRequest{Documents: []models.RawDocument{
		{ID: "nerve", Content: "The nerve overlay highlights the mandibular canal in yellow."},
		{ID: "sinus", Content: "The sinus overlay outlines the maxillary sinus floor."},
		{ID: "tray", Content: "The dental tray holds instruments on the right side."},
	}})
	require.NoError(t, err)

	r := NewRetriever(emb, store, DefaultRetrieverConfig())
	first, err := r.Retrieve(ctx, "what does the nerve overlay show", 5)
	require.NoError(t, err)
	require.NotEmpty(t, first)
	assert.Equal(t, "nerve", first[0].DocumentID)
	for i := 0; i < 5; i++ {
		again, err := r.Retrieve(ctx, "what does the nerve overlay show", 5)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}

	none, err := r.Retrieve(ctx, "quarterly revenue forecast", 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestBuildContext(t *testing.T) {
	res := []models.FusedResult{
		{ChunkID: "1", Text: strings.Repeat("a", 30)},
		{ChunkID: "1", Text: strings.Repeat("a", 30)},
		{ChunkID: "2", Text: strings.Repeat("b", 30)},
		{ChunkID: "3", Text: strings.Repeat("c", 30)},
	}
	out := BuildContext(res, 70)
	assert.Equal(t, strings.Repeat("a", 30)+"\n\n"+strings.Repeat("b", 30), out)
}
