// Package handlers implements the HTTP handlers of the ScenePilot decision
// service. Handlers only decode, delegate and encode; every pipeline rule
// lives in the packages they call.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
	"github.com/scenepilot/scenepilot/internal/api/middleware"
	"github.com/scenepilot/scenepilot/internal/catalog"
	"github.com/scenepilot/scenepilot/internal/guardrails"
	"github.com/scenepilot/scenepilot/internal/notes"
	"github.com/scenepilot/scenepilot/internal/rag"
	"github.com/scenepilot/scenepilot/internal/sessions"
	"github.com/scenepilot/scenepilot/internal/turns"
	"github.com/scenepilot/scenepilot/pkg/contracts"
	"github.com/scenepilot/scenepilot/pkg/models"
)

// maxBodyBytes bounds every request body.
const maxBodyBytes = 4 << 20

// Handlers holds all handler dependencies.
type Handlers struct {
	Turns     *turns.Service
	History   contracts.HistoryStore
	Notes     *notes.Service
	Catalog   *catalog.Provider
	Ingester  *rag.Ingester
	Retriever *rag.Retriever
	TopK      int

	// Checks reports the health of backing services, keyed by component.
	Checks func(ctx context.Context) map[string]error
}

// Health handles GET /health. Any failing component degrades the service
// but the endpoint still answers 200 so the process is not restarted for an
// outage it cannot fix.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	components := map[string]string{}
	if h.Checks != nil {
		for name, err := range h.Checks(r.Context()) {
			if err != nil {
				status = "degraded"
				components[name] = err.Error()
				continue
			}
			components[name] = "ok"
		}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":     status,
		"service":    "scenepilot",
		"components": components,
	})
}

// ══════════════════════════════════════════════════════════════
// ── Turns ────────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// CreateTurn handles POST /api/v1/turns
func (h *Handlers) CreateTurn(w http.ResponseWriter, r *http.Request) {
	var req models.TurnRequest
	if !decode(w, r, &req) {
		return
	}

	resp, err := h.Turns.Handle(r.Context(), req)
	switch {
	case errors.Is(err, turns.ErrMissingSession):
		respondError(w, http.StatusBadRequest, err.Error())
		return
	case guardrails.IsViolation(err, guardrails.KindMaxLength):
		respondError(w, http.StatusRequestEntityTooLarge, err.Error())
		return
	case err != nil:
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	w.Header().Set(middleware.HeaderSession, resp.SessionID)
	w.Header().Set(middleware.HeaderAction, string(resp.Action))
	respondJSON(w, http.StatusOK, resp)
}

// ══════════════════════════════════════════════════════════════
// ── Sessions ─────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// GetHistory handles GET /api/v1/sessions/{sessionId}/history
func (h *Handlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	hist, err := h.History.Recent(r.Context(), sessionID, 0)
	if errors.Is(err, sessions.ErrNotFound) {
		respondError(w, http.StatusNotFound, "session not found: "+sessionID)
		return
	}
	if err != nil {
		log.Error().Err(err).Str("session", sessionID).Msg("History lookup failed")
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"turns":      hist,
	})
}

// DeleteHistory handles DELETE /api/v1/sessions/{sessionId}/history
func (h *Handlers) DeleteHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	err := h.History.Clear(r.Context(), sessionID)
	if errors.Is(err, sessions.ErrNotFound) {
		respondError(w, http.StatusNotFound, "session not found: "+sessionID)
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListNotes handles GET /api/v1/sessions/{sessionId}/notes
func (h *Handlers) ListNotes(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	list, err := h.Notes.List(r.Context(), sessionID)
	if err != nil {
		log.Error().Err(err).Str("session", sessionID).Msg("Note listing failed")
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if list == nil {
		list = []models.Note{}
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"notes":      list,
	})
}

// ══════════════════════════════════════════════════════════════
// ── Catalog ──────────────────────────────────────────────────
// ══════════════════════════════════════════════════════════════

type catalogResponse struct {
	Version  string                   `json:"version"`
	LoadedAt time.Time                `json:"loaded_at"`
	Entities []models.CanonicalEntity `json:"entities"`
}

func newCatalogResponse(s *catalog.Snapshot) catalogResponse {
	return catalogResponse{Version: s.Version, LoadedAt: s.LoadedAt, Entities: s.Entities()}
}

// GetCatalog handles GET /api/v1/catalog
func (h *Handlers) GetCatalog(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Catalog.Snapshot()
	if err != nil {
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, newCatalogResponse(snap))
}

// ReloadCatalog handles POST /api/v1/catalog/reload
func (h *Handlers) ReloadCatalog(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Catalog.Reload()
	if err != nil {
		var verr *catalog.ValidationError
		if errors.As(err, &verr) {
			respondError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, newCatalogResponse(snap))
}

// ══════════════════════════════════════════════════════════════
// ── RAG Ingest / Query ───────────────────────────────────────
// ══════════════════════════════════════════════════════════════

// RAGIngest handles POST /api/v1/rag/ingest
func (h *Handlers) RAGIngest(w http.ResponseWriter, r *http.Request) {
	var req models.IngestRequest
	if !decode(w, r, &req) {
		return
	}
	if len(req.Documents) == 0 {
		respondError(w, http.StatusBadRequest, "documents array is required")
		return
	}
	for _, d := range req.Documents {
		if strings.TrimSpace(d.ID) == "" {
			respondError(w, http.StatusBadRequest, "every document needs an id")
			return
		}
	}
	if h.Ingester == nil {
		respondError(w, http.StatusServiceUnavailable, "RAG ingester not configured")
		return
	}

	result, err := h.Ingester.Ingest(r.Context(), req)
	if err != nil {
		log.Error().Err(err).Msg("RAG ingest failed")
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, result)
}

// RAGQuery handles POST /api/v1/rag/query. It exposes the hybrid retriever
// without routing, for tuning the knowledge base.
func (h *Handlers) RAGQuery(w http.ResponseWriter, r *http.Request) {
	var req models.RetrievalQuery
	if !decode(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		respondError(w, http.StatusBadRequest, "question is required")
		return
	}
	if h.Retriever == nil {
		respondError(w, http.StatusServiceUnavailable, "retriever not configured")
		return
	}
	topK := req.TopK
	if topK <= 0 {
		topK = h.TopK
	}

	start := time.Now()
	results, err := h.Retriever.Retrieve(r.Context(), req.Question, topK)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusGatewayTimeout, err.Error())
		return
	case errors.Is(err, rag.ErrIndexUnavailable):
		respondError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if results == nil {
		results = []models.FusedResult{}
	}
	respondJSON(w, http.StatusOK, models.RetrievalResult{
		Results:   results,
		LatencyMs: time.Since(start).Milliseconds(),
	})
}

// ── Helpers ─────────────────────────────────────────────────

func decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
