package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ignite/catalog-importer/internal/domain"
	"github.com/ignite/catalog-importer/internal/pkg/logger"
	"github.com/ignite/catalog-importer/internal/progress"
	"github.com/ignite/catalog-importer/internal/repository/postgres"
)

const (
	liveWaitTimeout = time.Second
	pollInterval    = 2500 * time.Millisecond
)

// StreamProgress is the server-push progress endpoint. It merges the job's
// live channel with periodic snapshot polls into one SSE event sequence and
// terminates once an emitted payload carries a terminal status. The snapshot
// poll is the catch-up path for publishes the subscriber missed.
//
//	GET {api_prefix}/progress/{jobID}
func (h *Handlers) StreamProgress(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		respondError(w, http.StatusNotFound, "Import job not found")
		return
	}

	job, err := h.imports.Job(r.Context(), jobID)
	if errors.Is(err, postgres.ErrNotFound) {
		respondError(w, http.StatusNotFound, fmt.Sprintf("Import job not found: %s", jobID))
		return
	}
	if err != nil {
		logger.Error("job lookup failed", "job_id", jobID, "error", err)
		respondError(w, http.StatusInternalServerError, "Failed to look up job")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		respondError(w, http.StatusInternalServerError, "Streaming not supported")
		return
	}

	ctx := r.Context()
	sub := h.progress.Subscribe(ctx, jobID.String())
	defer sub.Close()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	flusher.Flush()

	log := logger.With("job_id", jobID.String())
	log.Info("progress stream connected")

	emit := func(payload map[string]interface{}) bool {
		recomputePercent(payload)
		data, err := json.Marshal(payload)
		if err != nil {
			log.Warn("progress payload encode failed", "error", err)
			return false
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
		status, _ := payload["status"].(string)
		return domain.JobStatus(status).Terminal()
	}

	closeStream := func() {
		data, _ := json.Marshal(map[string]interface{}{"event": "close", "job_id": jobID.String()})
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
		log.Info("progress stream closed")
	}

	// Initial event: stored snapshot, or one synthesized from the job row.
	initial, err := h.progress.Get(ctx, jobID.String())
	if err != nil {
		log.Warn("initial snapshot read failed", "error", err)
	}
	if initial == nil {
		initial = map[string]interface{}{
			"job_id":         jobID.String(),
			"status":         string(job.Status),
			"stage":          string(job.Status),
			"processed_rows": job.ProcessedRows,
			"total_rows":     job.TotalRows,
			"progress":       0.0,
		}
	}
	if emit(initial) {
		closeStream()
		return
	}

	ch := sub.Channel()
	lastPoll := time.Now()

	for {
		emitted := false

		select {
		case <-ctx.Done():
			log.Info("progress stream client disconnected")
			return

		case msg, open := <-ch:
			if !open {
				log.Warn("progress subscription channel closed")
				return
			}
			var payload map[string]interface{}
			if err := json.Unmarshal([]byte(msg.Payload), &payload); err != nil {
				log.Warn("undecodable live progress message", "error", err)
				break
			}
			emitted = true
			if emit(payload) {
				closeStream()
				return
			}

		case <-time.After(liveWaitTimeout):
			if time.Since(lastPoll) < pollInterval {
				break
			}
			lastPoll = time.Now()
			snapshot, err := h.progress.Get(ctx, jobID.String())
			if err != nil {
				log.Warn("snapshot poll failed", "error", err)
				break
			}
			if snapshot == nil {
				break
			}
			emitted = true
			if emit(snapshot) {
				closeStream()
				return
			}
		}

		if !emitted {
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}

// recomputePercent derives progress from the counters at emit time. Percent
// is null when the total is zero or negative. A payload whose counters are
// missing or not plain numbers (such as the synthesized initial event, whose
// total is a *int64) keeps the progress value it already carries.
func recomputePercent(payload map[string]interface{}) {
	processed, pok := toInt64(payload["processed_rows"])
	total, tok := toInt64(payload["total_rows"])
	if !pok || !tok {
		return
	}
	payload["progress"] = progress.Percent(processed, total)
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	}
	return 0, false
}
