// ScenePilot decision service: turns spoken or typed utterances about the
// dental implant-planning scene into structured routing decisions.
//
// It provides:
//   - Intent classification, entity resolution and value extraction
//   - Confidence-gated routing (act, clarify, retrieve)
//   - Hybrid retrieval over an ingested knowledge base
//   - Per-session context carryover and note taking
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/scenepilot/scenepilot/internal/catalog"
	"github.com/scenepilot/scenepilot/internal/config"
	"github.com/scenepilot/scenepilot/pkg/server"
)

func main() {
	configPath := flag.String("config", os.Getenv("SCENEPILOT_CONFIG"), "path to scenepilot.yaml")
	debug := flag.Bool("debug", false, "enable debug logging")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	log.Info().Msg("🦷 ScenePilot starting...")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv, err := server.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize server")
	}

	go srv.Janitor.Start(ctx)

	if cfg.WatchCatalog && cfg.CatalogPath != "" {
		w, err := catalog.NewWatcher(srv.Catalog)
		if err != nil {
			log.Warn().Err(err).Msg("Catalog hot reload disabled")
		} else {
			w.Start(ctx)
			defer w.Stop()
		}
	}

	for name, err := range srv.HealthCheck(ctx) {
		if err != nil {
			log.Warn().Err(err).Str("component", name).Msg("Component unhealthy at startup")
		}
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", srv.Port),
		Handler:      srv.Handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info().Msg("🛑 Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("HTTP shutdown incomplete")
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("Backend shutdown incomplete")
		}
	}()

	log.Info().
		Int("port", srv.Port).
		Str("version", cfg.Version).
		Msg("🚀 ScenePilot is ready")

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server failed")
	}
}
