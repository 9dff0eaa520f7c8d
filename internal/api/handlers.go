package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/assessment"
)

// ProgressPublisher receives import progress, typically the SSE broker.
type ProgressPublisher interface {
	PublishProgress(percent int, status string)
}

// Handler holds API route handlers.
type Handler struct {
	svc      *assessment.Service
	progress ProgressPublisher
}

// NewHandler creates a new Handler. progress may be nil.
func NewHandler(svc *assessment.Service, progress ProgressPublisher) *Handler {
	return &Handler{svc: svc, progress: progress}
}

func (h *Handler) onProgress(p assessment.Progress) {
	if h.progress != nil {
		h.progress.PublishProgress(p.Percent, p.Status)
	}
}

// Catalog handles GET /api/catalog.
//
//	@Summary		Get the maturity model
//	@Tags			catalog
//	@Produce		json
//	@Success		200	{object}	CatalogResponse
//	@Security		BearerAuth
//	@Router			/catalog [get]
func (h *Handler) Catalog(w http.ResponseWriter, _ *http.Request) {
	cat := h.svc.Catalog()
	writeJSON(w, http.StatusOK, CatalogResponse{
		Version:      cat.Version(),
		TotalAspects: cat.TotalAspectCount(),
		Dimensions:   cat.Dimensions(),
		Domains:      cat.Domains(),
	})
}

// Scores handles GET /api/areas/{areaID}/scores.
//
//	@Summary		Score tree of an area's current assessment
//	@Tags			areas
//	@Produce		json
//	@Param			areaID	path		string	true	"Capability area ID"
//	@Success		200		{object}	assessment.AreaScores
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/areas/{areaID}/scores [get]
func (h *Handler) Scores(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Scores(r.Context(), chi.URLParam(r, "areaID"))
	if err != nil {
		writeError(w, "scores", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// History handles GET /api/areas/{areaID}/history.
//
//	@Summary		History snapshots of an area, newest first
//	@Tags			areas
//	@Produce		json
//	@Param			areaID	path	string	true	"Capability area ID"
//	@Success		200
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/areas/{areaID}/history [get]
func (h *Handler) History(w http.ResponseWriter, r *http.Request) {
	hs, err := h.svc.History(r.Context(), chi.URLParam(r, "areaID"))
	if err != nil {
		writeError(w, "history", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"history": hs})
}

// SaveRating handles PUT /api/areas/{areaID}/ratings.
//
//	@Summary		Record one aspect rating
//	@Tags			areas
//	@Accept			json
//	@Produce		json
//	@Param			areaID	path		string			true	"Capability area ID"
//	@Param			body	body		RatingRequest	true	"Rating"
//	@Success		200		{object}	assessment.AreaScores
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/areas/{areaID}/ratings [put]
func (h *Handler) SaveRating(w http.ResponseWriter, r *http.Request) {
	var req RatingRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	out, err := h.svc.SaveRating(r.Context(), chi.URLParam(r, "areaID"), req.rating())
	if err != nil {
		writeError(w, "save rating", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// SetTags handles PUT /api/areas/{areaID}/tags.
func (h *Handler) SetTags(w http.ResponseWriter, r *http.Request) {
	var req TagsRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	a, err := h.svc.SetTags(r.Context(), chi.URLParam(r, "areaID"), req.Tags)
	if err != nil {
		writeError(w, "set tags", err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// Finalize handles POST /api/areas/{areaID}/finalize.
//
//	@Summary		Finalize an area's assessment and snapshot it into history
//	@Tags			areas
//	@Produce		json
//	@Param			areaID	path		string	true	"Capability area ID"
//	@Success		200		{object}	assessment.FinalizeResult
//	@Failure		404		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/areas/{areaID}/finalize [post]
func (h *Handler) Finalize(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Finalize(r.Context(), chi.URLParam(r, "areaID"))
	if err != nil {
		writeError(w, "finalize", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Rollup handles GET /api/rollup.
//
//	@Summary		Domain and overall scores
//	@Tags			scores
//	@Produce		json
//	@Success		200	{object}	scoring.Rollup
//	@Security		BearerAuth
//	@Router			/rollup [get]
func (h *Handler) Rollup(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.Rollup(r.Context())
	if err != nil {
		writeError(w, "rollup", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// Tags handles GET /api/tags.
func (h *Handler) Tags(w http.ResponseWriter, r *http.Request) {
	tags, err := h.svc.Tags(r.Context())
	if err != nil {
		writeError(w, "tags", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tags": tags})
}
