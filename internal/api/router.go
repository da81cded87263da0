package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc Services, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Session control.
	r.Get("/status", h.GetStatus)
	r.Post("/sessions", h.StartSession)
	r.Post("/sessions/pause", h.PauseSession)
	r.Post("/sessions/resume", h.ResumeSession)
	r.Post("/sessions/stop", h.StopSession)
	r.Get("/sessions", h.ListEntries)
	r.Patch("/sessions/{id}", h.UpdateEntry)
	r.Delete("/sessions/{id}", h.DeleteEntry)

	// Catalog.
	r.Get("/projects", h.ListProjects)
	r.Post("/projects", h.CreateProject)
	r.Patch("/projects/{id}", h.UpdateProject)
	r.Get("/projects/{id}/tasks", h.ListTasks)
	r.Post("/projects/{id}/tasks", h.CreateTask)

	r.Get("/activity", h.ListActivity)

	r.Get("/suggestions", h.Suggestions)
	r.Get("/suggestions/directory", h.DirectorySuggestion)
	r.Post("/suggestions/feedback", h.Feedback)

	r.Post("/commits/sync", h.SyncCommits)

	r.Get("/reports", h.Report)

	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
