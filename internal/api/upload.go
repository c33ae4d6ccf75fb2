package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/ignite/catalog-importer/internal/pkg/logger"
	"github.com/ignite/catalog-importer/internal/validator"
)

// Upload accepts a multipart CSV, validates it, creates an ingest job and
// enqueues the background work item. Returns 202 with the job id and the SSE
// URL to follow progress.
//
//	POST {api_prefix}/upload
func (h *Handlers) Upload(w http.ResponseWriter, r *http.Request) {
	maxBytes := int64(h.cfg.Upload.MaxSizeMB) << 20
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		if isBodyTooLarge(err) {
			respondError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("File exceeds maximum allowed size (%d MB)", h.cfg.Upload.MaxSizeMB))
			return
		}
		respondError(w, http.StatusBadRequest, "multipart field 'file' is required")
		return
	}
	defer file.Close()

	if header.Filename == "" {
		respondError(w, http.StatusBadRequest, "Filename is required")
		return
	}
	if !strings.EqualFold(filepath.Ext(header.Filename), ".csv") {
		respondError(w, http.StatusBadRequest,
			fmt.Sprintf("Invalid file type. Expected .csv, got %s", header.Filename))
		return
	}

	if err := os.MkdirAll(h.cfg.Upload.TmpDir, 0o755); err != nil {
		logger.Error("failed to create upload dir", "dir", h.cfg.Upload.TmpDir, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to process upload")
		return
	}

	tmpPath := filepath.Join(h.cfg.Upload.TmpDir, uuid.NewString()+".csv")
	dst, err := os.Create(tmpPath)
	if err != nil {
		logger.Error("failed to create temp file", "path", tmpPath, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to process upload")
		return
	}

	_, copyErr := io.Copy(dst, file)
	dst.Close()
	if copyErr != nil {
		os.Remove(tmpPath)
		if isBodyTooLarge(copyErr) {
			respondError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("File exceeds maximum allowed size (%d MB)", h.cfg.Upload.MaxSizeMB))
			return
		}
		logger.Error("failed to save upload", "error", copyErr)
		respondError(w, http.StatusInternalServerError, "Failed to process upload")
		return
	}

	result := validator.Validate(tmpPath)
	if !result.OK {
		os.Remove(tmpPath)
		logger.Warn("csv validation failed", "filename", header.Filename, "errors", strings.Join(result.Errors, "; "))
		respondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"message": "CSV validation failed",
			"errors":  result.Errors,
		})
		return
	}
	if len(result.Errors) > 0 {
		logger.Info("csv validation warnings", "filename", header.Filename, "warnings", strings.Join(result.Errors, "; "))
	}

	job, err := h.imports.CreateIngest(r.Context(), header.Filename, result.TotalRows)
	if err != nil {
		os.Remove(tmpPath)
		logger.Error("failed to create import job", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to create import job")
		return
	}

	if err := h.imports.EnqueueIngest(r.Context(), job.ID, tmpPath); err != nil {
		os.Remove(tmpPath)
		logger.Error("failed to enqueue import task", "job_id", job.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to enqueue import task")
		return
	}

	logger.Info("import job accepted", "job_id", job.ID, "filename", header.Filename, "total_rows", result.TotalRows)
	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":  job.ID.String(),
		"sse_url": fmt.Sprintf("%s/progress/%s", h.cfg.Server.APIPrefix, job.ID),
		"message": fmt.Sprintf("CSV upload accepted. Processing %d rows in background.", result.TotalRows),
	})
}

// BulkDeleteProducts creates a bulk-delete job and enqueues its work item.
//
//	POST {api_prefix}/products/bulk-delete
func (h *Handlers) BulkDeleteProducts(w http.ResponseWriter, r *http.Request) {
	job, err := h.imports.CreateBulkDelete(r.Context())
	if err != nil {
		logger.Error("failed to create bulk-delete job", "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to create bulk-delete job")
		return
	}

	if err := h.imports.EnqueueBulkDelete(r.Context(), job.ID); err != nil {
		logger.Error("failed to enqueue bulk-delete task", "job_id", job.ID, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to enqueue bulk-delete task")
		return
	}

	logger.Info("bulk-delete job accepted", "job_id", job.ID)
	respondJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":  job.ID.String(),
		"sse_url": fmt.Sprintf("%s/progress/%s", h.cfg.Server.APIPrefix, job.ID),
		"message": "Bulk delete accepted. All products will be removed in background.",
	})
}

func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
