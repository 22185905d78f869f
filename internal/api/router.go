package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/frak-id/atelier-sub002/internal/progress"
	"github.com/frak-id/atelier-sub002/internal/sandboxes"
	"github.com/frak-id/atelier-sub002/internal/store"
	"github.com/frak-id/atelier-sub002/internal/tasks"
)

// NewRouter creates the Chi router with all routes and middleware.
func NewRouter(
	db *store.DB,
	taskSvc *tasks.Service,
	progressSvc *progress.Service,
	directory SandboxLister,
	subs SubscriptionLister,
	controller sandboxes.Controller,
	logger *slog.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	r.Use(CORS)
	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recovery(logger))

	healthH := NewHealthHandler(db, directory, subs)
	taskH := NewTaskHandler(taskSvc, progressSvc, controller, logger)
	sandboxH := NewSandboxHandler(directory, subs, progressSvc)

	r.Get("/health", healthH.Health)

	r.Route("/tasks", func(r chi.Router) {
		r.Get("/", taskH.List)
		r.Post("/", taskH.Create)
		r.Get("/{id}", taskH.Get)
		r.Patch("/{id}", taskH.Update)
		r.Delete("/{id}", taskH.Delete)
		r.Get("/{id}/progress", taskH.Progress)
		r.Post("/{id}/start", taskH.Start)
		r.Post("/{id}/advance-to-in-progress", taskH.Advance)
		r.Post("/{id}/sessions", taskH.AddSession)
		r.Post("/{id}/move-to-review", taskH.MoveToReview)
		r.Post("/{id}/complete", taskH.Complete)
		r.Post("/{id}/reset", taskH.Reset)
		r.Post("/{id}/reorder", taskH.Reorder)
	})

	r.Route("/sandboxes", func(r chi.Router) {
		r.Get("/", sandboxH.List)
		r.Get("/{id}/sessions", sandboxH.Sessions)
	})

	return r
}
