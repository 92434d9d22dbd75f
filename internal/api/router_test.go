package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/scenepilot/scenepilot/internal/api/handlers"
	"github.com/scenepilot/scenepilot/internal/api/middleware"
	"github.com/scenepilot/scenepilot/internal/catalog"
	"github.com/scenepilot/scenepilot/internal/confidence"
	"github.com/scenepilot/scenepilot/internal/config"
	"github.com/scenepilot/scenepilot/internal/embeddings"
	"github.com/scenepilot/scenepilot/internal/generation"
	"github.com/scenepilot/scenepilot/internal/guardrails"
	"github.com/scenepilot/scenepilot/internal/intent"
	"github.com/scenepilot/scenepilot/internal/notes"
	"github.com/scenepilot/scenepilot/internal/rag"
	"github.com/scenepilot/scenepilot/internal/resolver"
	"github.com/scenepilot/scenepilot/internal/router"
	"github.com/scenepilot/scenepilot/internal/sessions"
	"github.com/scenepilot/scenepilot/internal/turns"
	"github.com/scenepilot/scenepilot/internal/vectorstore"
	"github.com/scenepilot/scenepilot/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(t *testing.T) http.Handler {
	t.Helper()
	snap, err := catalog.LoadDefault()
	require.NoError(t, err)
	provider := catalog.NewProvider(snap, "")

	emb := embeddings.NewHashingDriver(128)
	idx := vectorstore.NewEmbeddedStore()
	retriever := rag.NewRetriever(emb, idx, rag.DefaultRetrieverConfig())
	history := sessions.NewMemoryHistoryStore()
	noteSvc := notes.NewService(notes.NewMemoryStore())

	r := router.New(router.DefaultConfig(), provider,
		intent.New(intent.DefaultConfig(), nil),
		resolver.New(resolver.DefaultConfig(), nil),
		confidence.New(confidence.DefaultConfig()),
		retriever,
	)
	svc := turns.NewService(turns.Options{
		Resolver: r,
		Guard:    guardrails.New(guardrails.Config{MaxInputChars: 100, RelevanceFloor: 0.35}),
		History:  history,
		Notes:    noteSvc,
		Fallback: generation.NewTemplateGenerator(),
	})
	h := &handlers.Handlers{
		Turns:     svc,
		History:   history,
		Notes:     noteSvc,
		Catalog:   provider,
		Ingester:  rag.NewIngester(emb, idx, rag.DefaultChunkerConfig()),
		Retriever: retriever,
		TopK:      5,
	}
	return NewRouter(&config.Config{Version: "test"}, h)
}

func do(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf).WithContext(context.Background())
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndVersion(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")

	rec = do(t, h, http.MethodGet, "/version", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"version":"test"`)

	rec = do(t, h, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateTurn(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/api/v1/turns", models.TurnRequest{SessionID: "s1", Text: "set brightness to 50"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp models.TurnResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "s1", resp.SessionID)
	assert.Equal(t, models.ActionTool, resp.Action)
	assert.Equal(t, "brightness", resp.Target)
	assert.Equal(t, "Setting brightness to 50.", resp.Message)
	assert.NotNil(t, resp.MissingSlots)
	assert.Equal(t, "s1", rec.Header().Get(middleware.HeaderSession))
	assert.Equal(t, "tool_action", rec.Header().Get(middleware.HeaderAction))

	rec = do(t, h, http.MethodGet, "/api/v1/sessions/s1/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "set brightness to 50")
}

func TestCreateTurnRejections(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/api/v1/turns", models.TurnRequest{Text: "turn on handles"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/turns", models.TurnRequest{SessionID: "s1", Text: ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/turns", models.TurnRequest{SessionID: "s1", Text: strings.Repeat("a", 101)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/turns", strings.NewReader("{not json"))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionEndpoints(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodGet, "/api/v1/sessions/unknown/history", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	do(t, h, http.MethodPost, "/api/v1/turns", models.TurnRequest{SessionID: "s1", Text: "Note this: check the nerve"})
	rec = do(t, h, http.MethodGet, "/api/v1/sessions/s1/notes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "check the nerve")

	rec = do(t, h, http.MethodGet, "/api/v1/sessions/empty/notes", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"notes":[]`)

	rec = do(t, h, http.MethodDelete, "/api/v1/sessions/s1/history", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = do(t, h, http.MethodDelete, "/api/v1/sessions/s1/history", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRAGIngestAndQuery(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodPost, "/api/v1/rag/ingest", models.IngestRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/rag/ingest", models.IngestRequest{
		Documents: []models.RawDocument{{Content: "no id"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/rag/ingest", models.IngestRequest{
		Documents: []models.RawDocument{{
			ID:      "osseo",
			Content: "Osseointegration usually takes three to six months before the implant can bear load.",
		}},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	var ing models.IngestResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ing))
	assert.Equal(t, 1, ing.DocumentsProcessed)
	assert.Equal(t, 1, ing.ChunksStored)

	rec = do(t, h, http.MethodPost, "/api/v1/rag/query", models.RetrievalQuery{Question: "osseointegration implant load"})
	require.Equal(t, http.StatusOK, rec.Code)
	var res models.RetrievalResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.NotEmpty(t, res.Results)
	assert.Equal(t, "osseo", res.Results[0].DocumentID)

	rec = do(t, h, http.MethodPost, "/api/v1/rag/query", models.RetrievalQuery{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCatalogEndpoints(t *testing.T) {
	h := newTestRouter(t)

	rec := do(t, h, http.MethodGet, "/api/v1/catalog/", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"name":"handles"`)

	rec = do(t, h, http.MethodPost, "/api/v1/catalog/reload", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"entities"`)
}
