package importer

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/ignite/catalog-importer/internal/domain"
	"github.com/ignite/catalog-importer/internal/queue"
)

// JobStore is the persistence surface the coordinator needs.
type JobStore interface {
	Create(ctx context.Context, kind domain.JobKind, filename string, totalRows *int64) (*domain.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	ListRecent(ctx context.Context, limit int) ([]domain.Job, error)
}

// Enqueuer publishes work items to the broker.
type Enqueuer interface {
	Enqueue(ctx context.Context, item queue.Item) error
}

// IngestPayload is the work-item payload for an ingest task. The job id
// travels as the work-item id, not in the payload, so the broker can keep
// one outstanding task per job.
type IngestPayload struct {
	FilePath string `json:"file_path"`
}

// BulkDeletePayload is the (empty) work-item payload for a bulk delete.
type BulkDeletePayload struct{}

// Service coordinates job creation and work-item enqueueing.
type Service struct {
	jobs     JobStore
	producer Enqueuer
}

// NewService creates the import coordinator.
func NewService(jobs JobStore, producer Enqueuer) *Service {
	return &Service{jobs: jobs, producer: producer}
}

// CreateIngest inserts a queued ingest job carrying the validator's row
// count.
func (s *Service) CreateIngest(ctx context.Context, filename string, totalRows int64) (*domain.Job, error) {
	return s.jobs.Create(ctx, domain.KindIngest, filename, &totalRows)
}

// CreateBulkDelete inserts a queued bulk-delete job.
func (s *Service) CreateBulkDelete(ctx context.Context) (*domain.Job, error) {
	return s.jobs.Create(ctx, domain.KindBulkDelete, "", nil)
}

// EnqueueIngest publishes the ingest work item. The file must exist at
// enqueue time; a missing file is a caller bug, not a worker retry case.
func (s *Service) EnqueueIngest(ctx context.Context, jobID uuid.UUID, filePath string) error {
	if _, err := os.Stat(filePath); err != nil {
		return fmt.Errorf("ingest file %s: %w", filePath, err)
	}
	item, err := queue.NewItem(jobID.String(), queue.TaskImport, queue.QueueIngest, 5, IngestPayload{FilePath: filePath})
	if err != nil {
		return fmt.Errorf("build ingest work item: %w", err)
	}
	return s.producer.Enqueue(ctx, item)
}

// EnqueueBulkDelete publishes the bulk-delete work item.
func (s *Service) EnqueueBulkDelete(ctx context.Context, jobID uuid.UUID) error {
	item, err := queue.NewItem(jobID.String(), queue.TaskBulkDelete, queue.QueueBulkOps, 3, BulkDeletePayload{})
	if err != nil {
		return fmt.Errorf("build bulk-delete work item: %w", err)
	}
	return s.producer.Enqueue(ctx, item)
}

// Job fetches one job.
func (s *Service) Job(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	return s.jobs.Get(ctx, id)
}

// RecentJobs lists recent jobs, newest first.
func (s *Service) RecentJobs(ctx context.Context, limit int) ([]domain.Job, error) {
	return s.jobs.ListRecent(ctx, limit)
}
