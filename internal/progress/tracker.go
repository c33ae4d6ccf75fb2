package progress

import (
	"context"
	"math"
	"time"

	"github.com/ignite/catalog-importer/internal/pkg/logger"
)

// publishInterval rate-limits non-forced updates to cap broker load.
const publishInterval = 2 * time.Second

// Tracker builds and emits progress payloads for one job. A tracker is owned
// by the single worker task processing that job; batch boundaries and
// terminal transitions are published with force=true, intra-batch updates
// are rate-limited on a monotonic clock.
type Tracker struct {
	store     *Store
	jobID     string
	totalRows int64
	lastPush  time.Time
	log       *logger.Logger
}

// NewTracker creates a tracker for the given job.
func NewTracker(store *Store, jobID string, totalRows int64) *Tracker {
	return &Tracker{
		store:     store,
		jobID:     jobID,
		totalRows: totalRows,
		log:       logger.With("job_id", jobID),
	}
}

// Update describes one progress emission.
type Update struct {
	Status       string
	Stage        string
	Processed    int64
	ErrorMessage string
	Force        bool
}

// Publish writes the snapshot and fans out the live update. Store failures
// are logged and swallowed so a Redis hiccup never fails the job itself.
func (t *Tracker) Publish(ctx context.Context, u Update) {
	if !u.Force && time.Since(t.lastPush) < publishInterval {
		return
	}

	payload := map[string]interface{}{
		"status":         u.Status,
		"processed_rows": u.Processed,
		"total_rows":     t.totalRows,
		"progress":       Percent(u.Processed, t.totalRows),
		"updated_at":     time.Now().UTC().Format(time.RFC3339Nano),
	}
	if u.Stage != "" {
		payload["stage"] = u.Stage
	}
	if u.ErrorMessage != "" {
		payload["error_message"] = u.ErrorMessage
	}

	if err := t.store.Put(ctx, t.jobID, payload); err != nil {
		t.log.Warn("progress snapshot write failed", "error", err)
	}
	if _, err := t.store.Publish(ctx, t.jobID, payload); err != nil {
		t.log.Warn("progress publish failed", "error", err)
	}

	t.lastPush = time.Now()
}

// Percent computes the two-decimal completion percentage, or nil when the
// total is unknown or zero.
func Percent(processed, total int64) interface{} {
	if total <= 0 {
		return nil
	}
	pct := float64(processed) / float64(total) * 100
	if pct > 100 {
		pct = 100
	}
	return math.Round(pct*100) / 100
}
