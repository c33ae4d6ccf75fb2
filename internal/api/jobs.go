package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ignite/catalog-importer/internal/domain"
	"github.com/ignite/catalog-importer/internal/pkg/logger"
	"github.com/ignite/catalog-importer/internal/repository/postgres"
)

// ListJobs returns recent import and bulk-delete jobs, newest first.
//
//	GET {api_prefix}/jobs
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r.URL.Query().Get("limit"), 50)
	if limit > 200 {
		limit = 200
	}

	jobs, err := h.imports.RecentJobs(r.Context(), limit)
	if err != nil {
		logger.Error("job list failed", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []domain.Job{}
	}
	respondJSON(w, http.StatusOK, jobs)
}

// GetJob fetches one job.
//
//	GET {api_prefix}/jobs/{jobID}
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		respondError(w, http.StatusNotFound, "Import job not found")
		return
	}

	job, err := h.imports.Job(r.Context(), jobID)
	if errors.Is(err, postgres.ErrNotFound) {
		respondError(w, http.StatusNotFound, "Import job not found")
		return
	}
	if err != nil {
		logger.Error("job get failed", "job_id", jobID, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to fetch job")
		return
	}
	respondJSON(w, http.StatusOK, job)
}
