package rag

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/scenepilot/scenepilot/internal/textnorm"
	"github.com/scenepilot/scenepilot/pkg/contracts"
	"github.com/scenepilot/scenepilot/pkg/models"
)

// chunkNamespace seeds deterministic chunk IDs, so re-ingesting a document
// overwrites its chunks instead of duplicating them.
var chunkNamespace = uuid.MustParse("6f1c2d0e-8a4b-4f7e-9c55-2b7d3e1a9f60")

// Ingester handles document ingestion: chunk → embed → terms → upsert.
type Ingester struct {
	embeddings contracts.EmbeddingDriver
	index      contracts.ChunkIndex
	chunker    ChunkerConfig
}

// NewIngester creates a document ingester.
func NewIngester(emb contracts.EmbeddingDriver, idx contracts.ChunkIndex, chunker ChunkerConfig) *Ingester {
	return &Ingester{
		embeddings: emb,
		index:      idx,
		chunker:    chunker,
	}
}

// Ingest splits documents into chunks, embeds them, derives their lexical
// terms and stores them. A document's previous chunks are removed first.
func (ing *Ingester) Ingest(ctx context.Context, req models.IngestRequest) (*models.IngestResult, error) {
	start := time.Now()

	if len(req.Documents) == 0 {
		return &models.IngestResult{}, nil
	}

	config := ing.chunker
	if req.ChunkSize > 0 {
		config.ChunkSize = req.ChunkSize
	}
	if req.ChunkOverlap > 0 {
		config.ChunkOverlap = req.ChunkOverlap
	}

	now := time.Now().UTC()
	var records []models.RetrievalChunk
	for _, doc := range req.Documents {
		if doc.ID == "" {
			return nil, fmt.Errorf("document without id")
		}
		docTime := doc.UpdatedAt.UTC()
		if doc.UpdatedAt.IsZero() {
			docTime = now
		}
		for _, c := range ChunkText(doc.Content, config) {
			for k, v := range doc.Metadata {
				c.Metadata[k] = v
			}
			c.Metadata["source"] = doc.ID
			c.Metadata["chunk_index"] = strconv.Itoa(c.Index)
			records = append(records, models.RetrievalChunk{
				ID:           uuid.NewSHA1(chunkNamespace, []byte(doc.ID+"#"+strconv.Itoa(c.Index))).String(),
				Text:         c.Text,
				DocumentID:   doc.ID,
				LexicalTerms: textnorm.Terms(c.Text),
				Metadata:     c.Metadata,
				DocumentTime: docTime,
				CreatedAt:    now,
			})
		}
	}

	log.Debug().
		Int("documents", len(req.Documents)).
		Int("chunks", len(records)).
		Msg("Chunking complete")

	texts := make([]string, len(records))
	for i, r := range records {
		texts[i] = r.Text
	}
	vectors, err := ing.embeddings.Embed(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed chunks: %w", err)
	}
	if len(vectors) != len(records) {
		return nil, fmt.Errorf("embed chunks: expected %d vectors, got %d", len(records), len(vectors))
	}
	for i := range records {
		records[i].Embedding = vectors[i]
	}

	for _, doc := range req.Documents {
		if _, err := ing.index.DeleteDocument(ctx, doc.ID); err != nil {
			return nil, fmt.Errorf("replace document %s: %w", doc.ID, err)
		}
	}
	if err := ing.index.Upsert(ctx, records); err != nil {
		return nil, fmt.Errorf("upsert chunks: %w", err)
	}

	log.Info().
		Int("documents", len(req.Documents)).
		Int("chunks_created", len(records)).
		Dur("elapsed", time.Since(start)).
		Msg("📥 Ingestion complete")

	return &models.IngestResult{
		DocumentsProcessed: len(req.Documents),
		ChunksCreated:      len(records),
		ChunksStored:       len(records),
	}, nil
}
