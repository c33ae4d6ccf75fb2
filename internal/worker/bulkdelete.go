package worker

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/ignite/catalog-importer/internal/domain"
	"github.com/ignite/catalog-importer/internal/pkg/logger"
	"github.com/ignite/catalog-importer/internal/progress"
	"github.com/ignite/catalog-importer/internal/queue"
	"github.com/ignite/catalog-importer/internal/repository/postgres"
	"github.com/ignite/catalog-importer/internal/service/webhook"
)

// BulkDeleteWorker consumes bulk-delete work items. It reuses the ingest
// job state machine: parsing covers preparation (the count), importing
// covers the delete phase.
type BulkDeleteWorker struct {
	jobs     *postgres.JobRepo
	products *postgres.ProductRepo
	progress *progress.Store
	events   *webhook.Service
}

// NewBulkDeleteWorker wires the bulk-delete handler.
func NewBulkDeleteWorker(jobs *postgres.JobRepo, products *postgres.ProductRepo, store *progress.Store, events *webhook.Service) *BulkDeleteWorker {
	return &BulkDeleteWorker{jobs: jobs, products: products, progress: store, events: events}
}

// Handle processes one delivery with the same retry classification as the
// ingest worker.
func (w *BulkDeleteWorker) Handle(ctx context.Context, d queue.Delivery) error {
	jobID, err := uuid.Parse(d.Item.ID)
	if err != nil {
		logger.Error("bulk-delete item has invalid job id", "id", d.Item.ID, "error", err)
		return nil
	}

	log := logger.With("job_id", jobID.String())
	log.Info("bulk delete task started", "attempt", d.Attempt)

	job, err := w.jobs.Get(ctx, jobID)
	if errors.Is(err, postgres.ErrNotFound) {
		log.Error("delete job not found, dropping work item")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job.Kind != domain.KindBulkDelete {
		log.Error("job is not a bulk-delete job, dropping work item", "kind", job.Kind)
		return nil
	}

	total, err := w.products.Count(ctx)
	if err != nil {
		return fmt.Errorf("count products: %w", err)
	}
	tracker := progress.NewTracker(w.progress, jobID.String(), total)

	deleted, err := w.run(ctx, jobID, total, tracker, log)
	if err != nil {
		msg := classify(err)
		log.Error("bulk delete attempt failed", "attempt", d.Attempt, "error", err)
		if d.LastAttempt {
			w.fail(ctx, jobID, tracker, deleted, msg, log)
		}
		return err
	}

	w.events.Publish(ctx, domain.EventProductBulkDeleted, map[string]interface{}{
		"job_id":         jobID.String(),
		"status":         string(domain.JobDone),
		"deleted_count":  deleted,
		"total_products": total,
	})
	log.Info("bulk delete completed", "deleted_count", deleted)
	return nil
}

func (w *BulkDeleteWorker) run(ctx context.Context, jobID uuid.UUID, total int64, tracker *progress.Tracker, log *logger.Logger) (int64, error) {
	if _, err := w.jobs.Advance(ctx, jobID, domain.JobParsing, postgres.AdvanceOpts{}); err != nil {
		return 0, fmt.Errorf("advance to parsing: %w", err)
	}
	tracker.Publish(ctx, progress.Update{Status: string(domain.JobParsing), Stage: "counting", Force: true})

	var zero int64
	if total == 0 {
		if _, err := w.jobs.Advance(ctx, jobID, domain.JobDone, postgres.AdvanceOpts{Processed: &zero}); err != nil {
			return 0, fmt.Errorf("advance to done: %w", err)
		}
		tracker.Publish(ctx, progress.Update{Status: string(domain.JobDone), Stage: "completed", Force: true})
		log.Info("no products to delete")
		return 0, nil
	}

	if _, err := w.jobs.Advance(ctx, jobID, domain.JobImporting, postgres.AdvanceOpts{}); err != nil {
		return 0, fmt.Errorf("advance to importing: %w", err)
	}
	tracker.Publish(ctx, progress.Update{Status: string(domain.JobImporting), Stage: "batch_0", Force: true})

	var deleted int64
	batchNum := 0
	for {
		ids, err := w.products.SelectIDs(ctx, BatchSize)
		if err != nil {
			return deleted, fmt.Errorf("select delete batch: %w", err)
		}
		if len(ids) == 0 {
			break
		}

		batchNum++
		n, err := w.products.DeleteByIDs(ctx, ids)
		if err != nil {
			return deleted, fmt.Errorf("delete batch %d: %w", batchNum, err)
		}
		deleted += n

		if err := w.jobs.IncrementProcessed(ctx, jobID, n); err != nil {
			return deleted, fmt.Errorf("record batch %d progress: %w", batchNum, err)
		}
		tracker.Publish(ctx, progress.Update{
			Status:    string(domain.JobImporting),
			Stage:     fmt.Sprintf("batch_%d", batchNum),
			Processed: deleted,
			Force:     true,
		})
		log.Info("batch deleted", "batch", batchNum, "rows", n, "deleted_count", deleted)
	}

	if _, err := w.jobs.Advance(ctx, jobID, domain.JobDone, postgres.AdvanceOpts{Processed: &deleted}); err != nil {
		return deleted, fmt.Errorf("advance to done: %w", err)
	}
	tracker.Publish(ctx, progress.Update{
		Status:    string(domain.JobDone),
		Stage:     "completed",
		Processed: deleted,
		Force:     true,
	})
	return deleted, nil
}

func (w *BulkDeleteWorker) fail(ctx context.Context, jobID uuid.UUID, tracker *progress.Tracker, deleted int64, msg string, log *logger.Logger) {
	if _, err := w.jobs.Advance(ctx, jobID, domain.JobFailed, postgres.AdvanceOpts{ErrorMessage: &msg}); err != nil {
		log.Error("failed to mark job failed", "error", err)
	}
	tracker.Publish(ctx, progress.Update{
		Status:       string(domain.JobFailed),
		Processed:    deleted,
		ErrorMessage: msg,
		Force:        true,
	})
}
