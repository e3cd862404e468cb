// Package api exposes the HTTP trigger boundary of the export service:
// creating a job and reading its status. All orchestration happens in the
// export package; handlers are thin.
package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mkuznecov/fileexport/internal/common"
	"github.com/mkuznecov/fileexport/internal/logging"
	"github.com/mkuznecov/fileexport/internal/server/export"
	"github.com/mkuznecov/fileexport/internal/server/models"
	"github.com/mkuznecov/fileexport/internal/server/repositories/repomanager"
)

// Handler wires the HTTP routes to the job repository and the export
// controller.
type Handler struct {
	db      *sql.DB
	repos   repomanager.RepositoryManager
	starter export.Starter
	log     logging.Logger
	secret  []byte
}

func NewHandler(db *sql.DB, repos repomanager.RepositoryManager, starter export.Starter, log logging.Logger, secret string) *Handler {
	return &Handler{
		db:      db,
		repos:   repos,
		starter: starter,
		log:     log.With("module", "api"),
		secret:  []byte(secret),
	}
}

// Router builds the chi route tree.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", h.health)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.authenticate)
		r.Post("/exports", h.createExport)
		r.Get("/exports/{jobID}", h.getExport)
	})

	return r
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createExportRequest struct {
	Kind    models.ExportKind `json:"kind"`
	Filters map[string]string `json:"filters,omitempty"`
}

type jobResponse struct {
	ID         string            `json:"id"`
	Kind       models.ExportKind `json:"kind"`
	Filters    map[string]string `json:"filters,omitempty"`
	Status     models.JobStatus  `json:"status"`
	ArchiveKey string            `json:"archive_key,omitempty"`
	FileCount  int               `json:"file_count,omitempty"`
	SizeBytes  int64             `json:"size_bytes,omitempty"`
	ExpiresAt  *time.Time        `json:"expires_at,omitempty"`
	Error      string            `json:"error,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
}

func toJobResponse(job *models.Job) jobResponse {
	return jobResponse{
		ID:         job.ID,
		Kind:       job.Kind,
		Filters:    job.Filters,
		Status:     job.Status,
		ArchiveKey: job.ArchiveKey,
		FileCount:  job.FileCount,
		SizeBytes:  job.SizeBytes,
		ExpiresAt:  job.ExpiresAt,
		Error:      job.ErrorMsg,
		CreatedAt:  job.CreatedAt,
	}
}

// createExport records a pending job for the authenticated owner and starts
// it. The request returns once the first timer is armed, not once any file
// has been processed.
func (h *Handler) createExport(w http.ResponseWriter, r *http.Request) {
	var req createExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if !models.ValidKind(req.Kind) {
		writeError(w, http.StatusBadRequest, "unknown export kind")
		return
	}

	job := &models.Job{
		ID:      uuid.NewString(),
		OwnerID: ownerFromContext(r.Context()),
		Kind:    req.Kind,
		Filters: req.Filters,
	}

	if err := h.repos.Jobs(h.db).Create(r.Context(), job); err != nil {
		h.log.Error(r.Context(), "job create failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	if err := h.starter.Start(r.Context(), job.ID); err != nil {
		h.log.Error(r.Context(), "job start failed", "job_id", job.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"id": job.ID})
}

// getExport returns the job's current status and, once completed, its
// result fields.
func (h *Handler) getExport(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")

	job, err := h.repos.Jobs(h.db).GetByID(r.Context(), jobID)
	if errors.Is(err, common.ErrorNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		h.log.Error(r.Context(), "job lookup failed", "job_id", jobID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if job.OwnerID != ownerFromContext(r.Context()) {
		// do not reveal other owners' job ids
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	writeJSON(w, http.StatusOK, toJobResponse(job))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
