package main

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dbawebdesign/lailms/internal/api"
	apiMiddleware "github.com/dbawebdesign/lailms/internal/api/middleware"
)

// setupRouter creates and configures the application router with all
// routes and middleware.
func (app *application) setupRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(apiMiddleware.TraceMiddleware)

	jobHandler := api.NewJobHandler(app.orch, app.recovery, app.monitor, app.logger)
	progressHandler := api.NewProgressHandler(app.publisher, app.jobs, app.logger)

	r.Route("/api", func(r chi.Router) {
		r.Route("/jobs", func(r chi.Router) {
			r.Get("/", jobHandler.ListJobs)
			r.Post("/", jobHandler.CreateJob)
			r.Get("/{id}", jobHandler.GetJob)
			r.Post("/{id}/recover", jobHandler.RecoverJob)
			r.Post("/{id}/restart", jobHandler.RestartJob)
			r.Delete("/{id}", jobHandler.DeleteJob)
			r.Post("/{id}/dismiss", jobHandler.DismissJob)
			r.Post("/{id}/cancel", jobHandler.CancelJob)
			r.Get("/{id}/progress", progressHandler.GetProgress)
			r.Get("/{id}/events", progressHandler.StreamEvents)
		})

		r.Post("/tasks/{id}/skip", jobHandler.SkipTask)
	})

	// Liveness and metrics endpoints
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			app.logger.Error("failed to write health check response", "error", err)
		}
	})
	r.Handle("/metrics", promhttp.Handler())

	return r
}
