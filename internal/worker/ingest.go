package worker

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/ignite/catalog-importer/internal/domain"
	"github.com/ignite/catalog-importer/internal/pkg/logger"
	"github.com/ignite/catalog-importer/internal/progress"
	"github.com/ignite/catalog-importer/internal/queue"
	"github.com/ignite/catalog-importer/internal/repository/postgres"
	"github.com/ignite/catalog-importer/internal/service/importer"
	"github.com/ignite/catalog-importer/internal/service/webhook"
	"github.com/ignite/catalog-importer/internal/validator"
	"github.com/lib/pq"
)

// BatchSize bounds how many rows one upsert or delete transaction covers.
const BatchSize = 10_000

// IngestWorker consumes ingest work items: it streams the uploaded CSV in
// batches, upserts each batch, advances the job state machine and publishes
// progress. Re-delivery of the same work item restarts from the top of the
// file; the upsert makes re-application safe.
type IngestWorker struct {
	jobs     *postgres.JobRepo
	products *postgres.ProductRepo
	progress *progress.Store
	events   *webhook.Service
}

// NewIngestWorker wires the ingest handler.
func NewIngestWorker(jobs *postgres.JobRepo, products *postgres.ProductRepo, store *progress.Store, events *webhook.Service) *IngestWorker {
	return &IngestWorker{jobs: jobs, products: products, progress: store, events: events}
}

// Handle processes one delivery. A nil return acknowledges the item; an
// error re-raises to the broker, which retries with backoff until the budget
// runs out and then dead-letters. Bad messages (unparseable id, missing job
// row) return nil so they are not retried.
func (w *IngestWorker) Handle(ctx context.Context, d queue.Delivery) error {
	jobID, err := uuid.Parse(d.Item.ID)
	if err != nil {
		logger.Error("ingest item has invalid job id", "id", d.Item.ID, "error", err)
		return nil
	}

	var payload importer.IngestPayload
	if err := json.Unmarshal(d.Item.Payload, &payload); err != nil {
		logger.Error("ingest item has invalid payload", "job_id", jobID, "error", err)
		return nil
	}

	log := logger.With("job_id", jobID.String())
	log.Info("ingest task started", "attempt", d.Attempt, "file", payload.FilePath)

	job, err := w.jobs.Get(ctx, jobID)
	if errors.Is(err, postgres.ErrNotFound) {
		log.Error("import job not found, dropping work item")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}

	var total int64
	if job.TotalRows != nil {
		total = *job.TotalRows
	}
	tracker := progress.NewTracker(w.progress, jobID.String(), total)

	processed, err := w.run(ctx, jobID, payload.FilePath, total, tracker, log)
	if err != nil {
		msg := classify(err)
		log.Error("ingest attempt failed", "attempt", d.Attempt, "error", err)
		if d.LastAttempt {
			w.fail(ctx, jobID, tracker, processed, msg, log)
			removeFile(payload.FilePath, log)
		}
		return err
	}

	w.events.Publish(ctx, domain.EventImportCompleted, map[string]interface{}{
		"job_id":         jobID.String(),
		"status":         string(domain.JobDone),
		"processed_rows": processed,
		"total_rows":     total,
	})
	removeFile(payload.FilePath, log)
	log.Info("ingest completed", "processed_rows", processed)
	return nil
}

func (w *IngestWorker) run(ctx context.Context, jobID uuid.UUID, filePath string, total int64, tracker *progress.Tracker, log *logger.Logger) (int64, error) {
	if _, err := w.jobs.Advance(ctx, jobID, domain.JobParsing, postgres.AdvanceOpts{}); err != nil {
		return 0, fmt.Errorf("advance to parsing: %w", err)
	}
	tracker.Publish(ctx, progress.Update{Status: string(domain.JobParsing), Stage: "starting", Force: true})

	if _, err := w.jobs.Advance(ctx, jobID, domain.JobImporting, postgres.AdvanceOpts{}); err != nil {
		return 0, fmt.Errorf("advance to importing: %w", err)
	}
	tracker.Publish(ctx, progress.Update{Status: string(domain.JobImporting), Stage: "batch_0", Force: true})

	f, err := os.Open(filePath)
	if err != nil {
		return 0, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(bufio.NewReader(f))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return 0, fmt.Errorf("read csv header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.ToLower(strings.TrimSpace(h))] = i
	}

	var (
		batch     = make([]domain.ProductInput, 0, BatchSize)
		processed int64
		batchNum  int
		rowNum    int64
	)

	flush := func(stage string) error {
		if _, err := w.products.BatchUpsert(ctx, batch); err != nil {
			return fmt.Errorf("upsert batch %d: %w", batchNum, err)
		}
		processed += int64(len(batch))
		if _, err := w.jobs.Advance(ctx, jobID, domain.JobImporting, postgres.AdvanceOpts{Processed: &processed}); err != nil {
			return fmt.Errorf("record batch %d progress: %w", batchNum, err)
		}
		tracker.Publish(ctx, progress.Update{
			Status:    string(domain.JobImporting),
			Stage:     stage,
			Processed: processed,
			Force:     true,
		})
		log.Info("batch upserted", "batch", batchNum, "rows", len(batch), "processed_rows", processed)
		batch = batch[:0]
		return nil
	}

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return processed, fmt.Errorf("read csv row: %w", err)
		}
		rowNum++

		input, ok := parseRow(record, cols)
		if !ok {
			log.Debug("skipping unusable row", "row", rowNum)
			continue
		}
		batch = append(batch, input)

		if len(batch) >= BatchSize {
			batchNum++
			if err := flush(fmt.Sprintf("batch_%d", batchNum)); err != nil {
				return processed, err
			}
		} else {
			tracker.Publish(ctx, progress.Update{
				Status:    string(domain.JobImporting),
				Stage:     fmt.Sprintf("batch_%d", batchNum+1),
				Processed: processed + int64(len(batch)),
			})
		}
	}

	if len(batch) > 0 {
		batchNum++
		if err := flush(fmt.Sprintf("batch_%d_final", batchNum)); err != nil {
			return processed, err
		}
	}

	if _, err := w.jobs.Advance(ctx, jobID, domain.JobDone, postgres.AdvanceOpts{Processed: &processed}); err != nil {
		return processed, fmt.Errorf("advance to done: %w", err)
	}
	tracker.Publish(ctx, progress.Update{
		Status:    string(domain.JobDone),
		Stage:     "completed",
		Processed: processed,
		Force:     true,
	})
	return processed, nil
}

// fail records the terminal failure: job row, final snapshot, failure event.
// Each step is best-effort; by this point the attempt is lost either way.
func (w *IngestWorker) fail(ctx context.Context, jobID uuid.UUID, tracker *progress.Tracker, processed int64, msg string, log *logger.Logger) {
	if _, err := w.jobs.Advance(ctx, jobID, domain.JobFailed, postgres.AdvanceOpts{ErrorMessage: &msg}); err != nil {
		log.Error("failed to mark job failed", "error", err)
	}
	tracker.Publish(ctx, progress.Update{
		Status:       string(domain.JobFailed),
		Processed:    processed,
		ErrorMessage: msg,
		Force:        true,
	})
	w.events.Publish(ctx, domain.EventImportFailed, map[string]interface{}{
		"job_id":         jobID.String(),
		"status":         string(domain.JobFailed),
		"error_message":  msg,
		"processed_rows": processed,
	})
}

// parseRow turns a CSV record into a product candidate, applying the same
// boolean coercion as the validator. Rows with blank sku or name, or an
// uncoercible active flag, are skipped rather than failing the import.
func parseRow(record []string, cols map[string]int) (domain.ProductInput, bool) {
	cell := func(name string) string {
		i, ok := cols[name]
		if !ok || i >= len(record) {
			return ""
		}
		return record[i]
	}

	sku := strings.TrimSpace(cell("sku"))
	name := strings.TrimSpace(cell("name"))
	if sku == "" || name == "" {
		return domain.ProductInput{}, false
	}

	active := true
	if raw := strings.TrimSpace(cell("active")); raw != "" {
		parsed, err := validator.ParseBool(raw)
		if err != nil {
			return domain.ProductInput{}, false
		}
		active = parsed
	}

	var description *string
	if desc := strings.TrimSpace(cell("description")); desc != "" {
		description = &desc
	}

	return domain.ProductInput{SKU: sku, Name: name, Description: description, Active: active}, true
}

// classify maps an error to the "<kind>: <detail>" form stored on failed
// jobs.
func classify(err error) string {
	var (
		pqErr   *pq.Error
		csvErr  *csv.ParseError
		pathErr *os.PathError
	)
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Sprintf("timeout: %v", err)
	case errors.As(err, &pqErr):
		return fmt.Sprintf("database: %v", err)
	case errors.As(err, &csvErr):
		return fmt.Sprintf("parse: %v", err)
	case errors.As(err, &pathErr):
		return fmt.Sprintf("io: %v", err)
	default:
		return fmt.Sprintf("worker: %v", err)
	}
}

func removeFile(path string, log *logger.Logger) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		log.Warn("failed to remove temp file", "path", path, "error", err)
	}
}
