package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/naretakis/mita-state-self-assessment-tool-sub002/internal/bundle"
)

const maxImportBytes = 256 << 20

// Import handles POST /api/import. The body is a JSON bundle or a zip
// archive; the format is detected from the content. With ?dryRun=true the
// report is computed without writing.
//
//	@Summary		Merge a bundle into the store
//	@Tags			transfer
//	@Accept			json
//	@Accept			application/zip
//	@Produce		json
//	@Param			dryRun	query		bool	false	"Preview only"
//	@Success		200		{object}	assessment.Report
//	@Failure		400		{object}	errResponse
//	@Failure		413		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/import [post]
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxImportBytes)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody("bundle too large"))
			return
		}
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read body"))
		return
	}
	src, err := bundle.Read(data)
	if err != nil {
		writeError(w, "import", err)
		return
	}

	dryRun, _ := strconv.ParseBool(r.URL.Query().Get("dryRun"))
	if dryRun {
		report, err := h.svc.Preview(r.Context(), src)
		if err != nil {
			writeError(w, "preview", err)
			return
		}
		writeJSON(w, http.StatusOK, report)
		return
	}

	report, err := h.svc.Import(r.Context(), src, h.onProgress)
	if err != nil {
		writeError(w, "import", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// Export handles GET /api/export?format=json|zip.
//
//	@Summary		Download the full dataset
//	@Tags			transfer
//	@Produce		json
//	@Produce		application/zip
//	@Param			format	query	string	false	"Bundle format"	Enums(json, zip)
//	@Success		200
//	@Failure		400	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/export [get]
func (h *Handler) Export(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "json"
	}
	if format != "json" && format != "zip" {
		writeJSON(w, http.StatusBadRequest, errorBody("format must be json or zip"))
		return
	}

	b, data, err := h.svc.Export(r.Context())
	if err != nil {
		writeError(w, "export", err)
		return
	}
	name := fmt.Sprintf("mitasat-export-%s.%s", b.ExportedAt.Format("2006-01-02"), format)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))

	if format == "json" {
		writeJSON(w, http.StatusOK, b)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.WriteHeader(http.StatusOK)
	if err := bundle.WriteArchive(w, b, data); err != nil {
		slog.Error("export archive failed", slog.String("error", err.Error()))
	}
}

// ListBackups handles GET /api/backups.
func (h *Handler) ListBackups(w http.ResponseWriter, r *http.Request) {
	objs, err := h.svc.ListBackups(r.Context())
	if err != nil {
		writeError(w, "list backups", err)
		return
	}
	out := make([]BackupInfo, 0, len(objs))
	for _, o := range objs {
		out = append(out, BackupInfo{Key: o.Key, Size: o.Size, CreatedAt: o.ModTime})
	}
	writeJSON(w, http.StatusOK, map[string]any{"backups": out})
}

// CreateBackup handles POST /api/backups.
func (h *Handler) CreateBackup(w http.ResponseWriter, r *http.Request) {
	obj, err := h.svc.Backup(r.Context())
	if err != nil {
		writeError(w, "backup", err)
		return
	}
	writeJSON(w, http.StatusCreated, BackupInfo{Key: obj.Key, Size: obj.Size, CreatedAt: obj.ModTime})
}

// RestoreBackup handles POST /api/backups/restore.
func (h *Handler) RestoreBackup(w http.ResponseWriter, r *http.Request) {
	var req RestoreRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	report, err := h.svc.RestoreBackup(r.Context(), req.Key, h.onProgress)
	if err != nil {
		writeError(w, "restore backup", err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
