package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/ignite/catalog-importer/internal/domain"
)

// JobRepo implements import-job storage against PostgreSQL. Rows are created
// queued, advanced by the owning worker, and become immutable once terminal.
type JobRepo struct{ db *sql.DB }

// NewJobRepo creates a Postgres-backed job repository.
func NewJobRepo(db *sql.DB) *JobRepo { return &JobRepo{db: db} }

const jobColumns = `id, filename, kind, status, total_rows, processed_rows, error_message, created_at, updated_at`

// Create inserts a job in queued with processed_rows = 0.
func (r *JobRepo) Create(ctx context.Context, kind domain.JobKind, filename string, totalRows *int64) (*domain.Job, error) {
	id := uuid.New()
	return r.scanOne(r.db.QueryRowContext(ctx, `
		INSERT INTO import_jobs (id, filename, kind, status, total_rows, processed_rows)
		VALUES ($1, $2, $3, $4, $5, 0)
		RETURNING `+jobColumns,
		id, filename, string(kind), string(domain.JobQueued), totalRows))
}

// Get fetches one job.
func (r *JobRepo) Get(ctx context.Context, id uuid.UUID) (*domain.Job, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM import_jobs WHERE id = $1`, id))
}

// AdvanceOpts carries the optional fields of a status transition.
type AdvanceOpts struct {
	Processed    *int64
	ErrorMessage *string
}

// Advance moves the job state machine forward. It is the only mutation path
// after creation: it refreshes updated_at and rejects regressions. Terminal
// rows are immutable. The one allowed backwards move is importing → parsing,
// the reset a re-delivered work item performs before re-parsing its file.
func (r *JobRepo) Advance(ctx context.Context, id uuid.UUID, status domain.JobStatus, opts AdvanceOpts) (*domain.Job, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin advance tx: %w", err)
	}
	defer tx.Rollback()

	var current domain.JobStatus
	err = tx.QueryRowContext(ctx,
		`SELECT status FROM import_jobs WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock job row: %w", err)
	}

	if current.Terminal() {
		return nil, ErrJobTerminal
	}
	retryReset := status == domain.JobParsing && current == domain.JobImporting
	if status.Rank() < current.Rank() && !retryReset {
		return nil, fmt.Errorf("%w: %s -> %s", ErrStatusRegression, current, status)
	}

	job, err := r.scanOne(tx.QueryRowContext(ctx, `
		UPDATE import_jobs
		SET status = $2,
		    processed_rows = COALESCE($3, processed_rows),
		    error_message = COALESCE($4, error_message),
		    updated_at = now()
		WHERE id = $1
		RETURNING `+jobColumns,
		id, string(status), opts.Processed, opts.ErrorMessage))
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit advance tx: %w", err)
	}
	return job, nil
}

// IncrementProcessed atomically adds n to the processed counter.
func (r *JobRepo) IncrementProcessed(ctx context.Context, id uuid.UUID, n int64) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE import_jobs
		SET processed_rows = processed_rows + $2, updated_at = now()
		WHERE id = $1`, id, n)
	if err != nil {
		return fmt.Errorf("increment processed rows: %w", err)
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRecent returns jobs ordered newest first.
func (r *JobRepo) ListRecent(ctx context.Context, limit int) ([]domain.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM import_jobs ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var out []domain.Job
	for rows.Next() {
		var j domain.Job
		if err := rows.Scan(&j.ID, &j.Filename, &j.Kind, &j.Status, &j.TotalRows,
			&j.ProcessedRows, &j.ErrorMessage, &j.CreatedAt, &j.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}

func (r *JobRepo) scanOne(row *sql.Row) (*domain.Job, error) {
	j := &domain.Job{}
	err := row.Scan(&j.ID, &j.Filename, &j.Kind, &j.Status, &j.TotalRows,
		&j.ProcessedRows, &j.ErrorMessage, &j.CreatedAt, &j.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan job: %w", err)
	}
	return j, nil
}
