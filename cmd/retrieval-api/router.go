// Package main provides the API router setup.
package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sitesage-ai/retrieval-engine/cmd/retrieval-api/handlers"
	"github.com/sitesage-ai/retrieval-engine/internal/config"
	"github.com/sitesage-ai/retrieval-engine/internal/observability"
	"github.com/sitesage-ai/retrieval-engine/pkg/engine"
)

// NewRouter creates the API router with all routes configured.
func NewRouter(logger *observability.Logger, eng *engine.Engine, cfg *config.Config) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(cfg.Server.ReadTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy","service":"retrieval-engine"}`))
	})

	ingestionHandler := handlers.NewIngestionHandler(logger, eng)
	retrievalHandler := handlers.NewRetrievalHandler(logger, eng)
	adminHandler := handlers.NewAdminHandler(logger, eng)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/domains/{domainID}", func(r chi.Router) {
			r.Post("/ingest", ingestionHandler.IngestPage)
			r.Post("/ingest/batch", ingestionHandler.IngestBatch)
			r.Post("/query", retrievalHandler.Query)
			r.Get("/pages", adminHandler.ListPages)
			r.Post("/index/rebuild", adminHandler.RebuildIndex)
		})

		r.Get("/audit", adminHandler.AuditEvents)
		r.Get("/staleness", adminHandler.StalenessReport)
	})

	return r
}
