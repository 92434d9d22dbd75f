// Package server wires the ScenePilot decision service from configuration.
//
// It lives in pkg/ so other binaries (the scenectl CLI, embedding hosts) can
// compose the same pipeline the HTTP server runs.
//
// Usage:
//
//	srv, err := server.New(ctx, cfg)
//	go srv.Janitor.Start(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/scenepilot/scenepilot/internal/api"
	"github.com/scenepilot/scenepilot/internal/api/handlers"
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
	"github.com/scenepilot/scenepilot/internal/retention"
	"github.com/scenepilot/scenepilot/internal/router"
	"github.com/scenepilot/scenepilot/internal/sessions"
	"github.com/scenepilot/scenepilot/internal/telemetry"
	"github.com/scenepilot/scenepilot/internal/turns"
	"github.com/scenepilot/scenepilot/internal/vectorstore"
	"github.com/scenepilot/scenepilot/pkg/contracts"
)

// Server holds the initialized decision service.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	Config  *config.Config
	Port    int
	Catalog *catalog.Provider
	Turns   *turns.Service

	// Ingester loads knowledge-base documents into the chunk index.
	Ingester *rag.Ingester

	// Janitor prunes idle in-memory sessions. Start it in a goroutine.
	Janitor *retention.Janitor

	Embeddings *embeddings.Registry
	Indexes    *vectorstore.Registry

	telemetryShutdown func(context.Context) error
	closers           []func() error
	pings             map[string]func(context.Context) error
}

// New initializes every component named by cfg and returns a ready Server.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	s := &Server{Config: cfg, Port: cfg.Port, telemetryShutdown: shutdown}
	if err := s.build(ctx); err != nil {
		_ = s.Shutdown(ctx)
		return nil, err
	}
	return s, nil
}

func (s *Server) build(ctx context.Context) error {
	cfg := s.Config

	// Catalog
	snap, err := loadCatalog(cfg.CatalogPath)
	if err != nil {
		return err
	}
	s.Catalog = catalog.NewProvider(snap, cfg.CatalogPath)
	log.Info().Str("version", snap.Version).Int("entities", len(snap.Entities())).Msg("✅ Catalog loaded")

	// Embeddings + chunk index
	emb, err := embeddings.New(embeddings.Settings{
		Driver:    cfg.Embeddings.Driver,
		Model:     cfg.Embeddings.Model,
		Endpoint:  cfg.Embeddings.Endpoint,
		APIKey:    cfg.Embeddings.APIKey,
		Dims:      cfg.Embeddings.Dims,
		BatchSize: cfg.Embeddings.BatchSize,
	})
	if err != nil {
		return fmt.Errorf("init embeddings: %w", err)
	}
	s.Embeddings = embeddings.NewRegistry()
	s.Embeddings.Register(emb.Kind(), emb)

	idx, err := vectorstore.Open(ctx, cfg.Index.Driver, cfg.Index.URL, emb.Dimensions())
	if err != nil {
		return fmt.Errorf("init chunk index: %w", err)
	}
	if pg, ok := idx.(*vectorstore.PgvectorStore); ok {
		s.closers = append(s.closers, func() error { pg.Close(); return nil })
	}
	s.Indexes = vectorstore.NewRegistry()
	s.Indexes.Register(idx.Kind(), idx)

	retriever := rag.NewRetriever(emb, idx, rag.RetrieverConfig{
		SemanticWeight: cfg.Retrieval.SemanticWeight,
		LexicalWeight:  cfg.Retrieval.LexicalWeight,
		RelevanceFloor: cfg.Retrieval.RelevanceFloor,
		TopK:           cfg.Router.TopK,
		CandidatePool:  cfg.Retrieval.CandidatePool,
	})
	chunking := rag.DefaultChunkerConfig()
	if cfg.Retrieval.ChunkSize > 0 {
		chunking.ChunkSize = cfg.Retrieval.ChunkSize
	}
	if cfg.Retrieval.ChunkOverlap > 0 {
		chunking.ChunkOverlap = cfg.Retrieval.ChunkOverlap
	}
	s.Ingester = rag.NewIngester(emb, idx, chunking)

	// Pipeline
	resCfg := resolver.DefaultConfig()
	resCfg.MinScore = cfg.Resolver.MinScore
	resCfg.Epsilon = cfg.Resolver.Epsilon
	rt := router.New(router.Config{
		ActThreshold:        cfg.Router.ActThreshold,
		RecognizeThreshold:  cfg.Router.RecognizeThreshold,
		CarryoverConfidence: cfg.Router.CarryoverConfidence,
		RetrievalTimeout:    cfg.Router.RetrievalTimeout,
		TopK:                cfg.Router.TopK,
	},
		s.Catalog,
		intent.New(intent.DefaultConfig(), emb),
		resolver.New(resCfg, emb),
		confidence.New(confidence.DefaultConfig()),
		retriever,
	)
	log.Info().Msg("✅ Decision router initialized")

	// Session state
	s.Janitor = retention.NewJanitor(cfg.Retention.Interval, cfg.Retention.IdleTTL)
	history, err := s.openHistory(ctx)
	if err != nil {
		return err
	}
	noteStore, err := s.openNotes(ctx)
	if err != nil {
		return err
	}
	noteSvc := notes.NewService(noteStore)

	// Generation
	template := generation.NewTemplateGenerator()
	var gen contracts.Generator = template
	if cfg.Generation.Driver == "ollama" {
		gen = generation.NewOllamaGenerator(cfg.Generation.Endpoint, cfg.Generation.Model)
	}
	log.Info().Str("generator", gen.Kind()).Msg("✅ Generator initialized")

	s.Turns = turns.NewService(turns.Options{
		Resolver: rt,
		Guard: guardrails.New(guardrails.Config{
			MaxInputChars:  cfg.Guardrails.MaxInputChars,
			RelevanceFloor: cfg.Retrieval.RelevanceFloor,
			Injection:      cfg.Guardrails.Injection,
		}),
		History:       history,
		Notes:         noteSvc,
		Generator:     gen,
		Fallback:      template,
		HistoryWindow: cfg.Router.HistoryWindow,
	})

	h := &handlers.Handlers{
		Turns:     s.Turns,
		History:   history,
		Notes:     noteSvc,
		Catalog:   s.Catalog,
		Ingester:  s.Ingester,
		Retriever: retriever,
		TopK:      cfg.Router.TopK,
		Checks:    s.HealthCheck,
	}
	s.Handler = api.NewRouter(cfg, h)
	return nil
}

func loadCatalog(path string) (*catalog.Snapshot, error) {
	if path == "" {
		snap, err := catalog.LoadDefault()
		if err != nil {
			return nil, fmt.Errorf("load embedded catalog: %w", err)
		}
		return snap, nil
	}
	snap, err := catalog.LoadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load catalog %s: %w", path, err)
	}
	return snap, nil
}

func (s *Server) openHistory(ctx context.Context) (contracts.HistoryStore, error) {
	hc := s.Config.History
	switch hc.Driver {
	case "", "memory":
		store := sessions.NewMemoryHistoryStore()
		s.Janitor.Register("history", store)
		log.Info().Msg("✅ In-memory session history initialized")
		return store, nil
	case "redis":
		store := sessions.NewRedisHistoryStore(
			sessions.NewRedisClient(hc.RedisAddr, hc.RedisPassword, hc.RedisDB), hc.KeyPrefix, hc.TTL)
		s.closers = append(s.closers, store.Close)
		s.addPing("history.redis", store.Ping)
		if err := store.Ping(ctx); err != nil {
			return nil, fmt.Errorf("init session history: %w", err)
		}
		log.Info().Str("addr", hc.RedisAddr).Dur("ttl", hc.TTL).Msg("✅ Redis session history initialized")
		return store, nil
	}
	return nil, fmt.Errorf("unknown history driver %q", hc.Driver)
}

func (s *Server) openNotes(ctx context.Context) (notes.Store, error) {
	nc := s.Config.Notes
	switch nc.Driver {
	case "", "memory":
		return notes.NewMemoryStore(), nil
	case "postgres":
		db, err := notes.OpenPostgres(nc.DSN)
		if err != nil {
			return nil, fmt.Errorf("init notes: %w", err)
		}
		s.closers = append(s.closers, db.Close)
		store := notes.NewPostgresStore(db)
		if err := store.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("init notes: %w", err)
		}
		log.Info().Msg("✅ PostgreSQL notes store initialized")
		return store, nil
	}
	return nil, fmt.Errorf("unknown notes driver %q", nc.Driver)
}

// HealthCheck pings the embedding driver and the chunk index.
func (s *Server) HealthCheck(ctx context.Context) map[string]error {
	out := make(map[string]error)
	for name, err := range s.Embeddings.HealthCheckAll(ctx) {
		out["embeddings."+name] = err
	}
	for name, err := range s.Indexes.HealthCheckAll(ctx) {
		out["index."+name] = err
	}
	if _, err := s.Catalog.Snapshot(); err != nil {
		out["catalog"] = err
	}
	for name, ping := range s.pings {
		out[name] = ping(ctx)
	}
	return out
}

func (s *Server) addPing(name string, ping func(context.Context) error) {
	if s.pings == nil {
		s.pings = make(map[string]func(context.Context) error)
	}
	s.pings[name] = ping
}

// Shutdown flushes telemetry and closes every backing connection.
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	if s.telemetryShutdown != nil {
		if err := s.telemetryShutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
