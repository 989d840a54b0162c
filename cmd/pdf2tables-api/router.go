package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/spherical/pdf2tables/cmd/pdf2tables-api/handlers"
	"github.com/spherical/pdf2tables/cmd/pdf2tables-api/middleware"
	"github.com/spherical/pdf2tables/internal/app"
)

// NewRouter creates the API router with all routes configured.
func NewRouter(a *app.App) http.Handler {
	cfg := a.Config
	logger := a.Logger

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestContext)
	r.Use(middleware.RequestLogger(logger.WithOperation("http")))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.ProcessTime)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(cfg.Server.AllowedOrigin))
	r.Use(chimiddleware.Compress(5, "application/json", "text/html"))

	healthHandler := handlers.NewHealthHandler(logger, a.Service)
	jobsHandler := handlers.NewJobsHandler(logger, a.Service, handlers.JobsConfig{
		MaxFileBytes: cfg.Upload.MaxFileBytes,
		MaxFiles:     cfg.Upload.MaxFiles,
		Synchronous:  cfg.Synchronous(),
	})

	// Health check stays outside the request timeout
	r.Get("/healthz", healthHandler.Health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(cfg.Server.RequestTimeout))

		r.Route("/requests", func(r chi.Router) {
			r.Post("/", jobsHandler.Submit)
			r.Get("/{requestID}", jobsHandler.Batch)
			r.Delete("/{requestID}", jobsHandler.Release)
		})

		r.Route("/jobs/{jobID}", func(r chi.Router) {
			r.Get("/", jobsHandler.Job)
			r.Get("/result", jobsHandler.Result)
			r.Post("/cancel", jobsHandler.Cancel)
		})
	})

	return r
}
