package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/assessment"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// events, if non-nil, is mounted at GET /events inside the auth group.
// progress, if non-nil, receives import progress.
func NewRouter(svc *assessment.Service, authEnabled bool, token string, events http.Handler, progress ProgressPublisher) chi.Router {
	h := NewHandler(svc, progress)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	r.Get("/catalog", h.Catalog)

	r.Route("/areas/{areaID}", func(r chi.Router) {
		r.Get("/scores", h.Scores)
		r.Get("/history", h.History)
		r.Put("/ratings", h.SaveRating)
		r.Put("/tags", h.SetTags)
		r.Post("/finalize", h.Finalize)
	})

	r.Get("/rollup", h.Rollup)
	r.Get("/tags", h.Tags)

	r.Post("/import", h.Import)
	r.Get("/export", h.Export)

	r.Get("/backups", h.ListBackups)
	r.Post("/backups", h.CreateBackup)
	r.Post("/backups/restore", h.RestoreBackup)

	r.Post("/attachments", h.UploadAttachment)
	r.Get("/attachments/{id}", h.GetAttachment)

	if events != nil {
		r.Get("/events", events.ServeHTTP)
	}

	return r
}
