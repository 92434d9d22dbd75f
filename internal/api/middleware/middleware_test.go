package middleware

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestResponseWriterCapturesStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := newResponseWriter(rec)
	rw.WriteHeader(http.StatusTeapot)
	n, err := rw.Write([]byte("short and stout"))

	assert.NoError(t, err)
	assert.Equal(t, http.StatusTeapot, rw.statusCode)
	assert.Equal(t, n, rw.bytes)
}

func TestLoggerAndTelemetryPassThrough(t *testing.T) {
	h := Logger(Telemetry(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/turns", nil))
	assert.Equal(t, http.StatusAccepted, rec.Code)
}

func TestScheme(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/health", nil)
	assert.Equal(t, "http", scheme(r))
	r.Header.Set("X-Forwarded-Proto", "https")
	assert.Equal(t, "https", scheme(r))
}

func TestLoggerRecordsTurnFields(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&buf)
	t.Cleanup(func() { log.Logger = prev })

	r := chi.NewRouter()
	r.Use(Logger)
	r.Post("/api/v1/turns", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set(HeaderSession, "s1")
		w.Header().Set(HeaderAction, "tool_action")
		w.WriteHeader(http.StatusOK)
	})
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/v1/turns", nil))

	out := buf.String()
	assert.Contains(t, out, `"route":"/api/v1/turns"`)
	assert.Contains(t, out, `"session":"s1"`)
	assert.Contains(t, out, `"action":"tool_action"`)
}

func TestTelemetryNamesSpanByRoute(t *testing.T) {
	spans := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	r := chi.NewRouter()
	r.Use(Telemetry)
	r.Get("/api/v1/sessions/{sessionId}/notes", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/sessions/abc/notes", nil))

	assert.NotEmpty(t, rec.Header().Get("X-Trace-Id"))
	ended := spans.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "GET /api/v1/sessions/{sessionId}/notes", ended[0].Name())

	attrs := map[string]string{}
	for _, kv := range ended[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "abc", attrs["scenepilot.session_id"])
	assert.Equal(t, "/api/v1/sessions/{sessionId}/notes", attrs["http.route"])
	assert.Equal(t, "200", attrs["http.response.status_code"])
}
