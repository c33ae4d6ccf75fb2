package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/ignite/catalog-importer/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jobCols = []string{"id", "filename", "kind", "status", "total_rows", "processed_rows", "error_message", "created_at", "updated_at"}

func newJobRepo(t *testing.T) (*JobRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewJobRepo(db), mock
}

func jobRow(id uuid.UUID, status string, processed int64) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(jobCols).
		AddRow(id.String(), "products.csv", "ingest", status, int64(25000), processed, nil, now, now)
}

func TestCreateInsertsQueuedJob(t *testing.T) {
	repo, mock := newJobRepo(t)
	total := int64(25000)

	mock.ExpectQuery("INSERT INTO import_jobs").
		WithArgs(sqlmock.AnyArg(), "products.csv", "ingest", "queued", total).
		WillReturnRows(jobRow(uuid.New(), "queued", 0))

	job, err := repo.Create(context.Background(), domain.KindIngest, "products.csv", &total)
	require.NoError(t, err)
	assert.Equal(t, domain.JobQueued, job.Status)
	assert.Zero(t, job.ProcessedRows)
	require.NotNil(t, job.TotalRows)
	assert.Equal(t, int64(25000), *job.TotalRows)
}

func TestAdvanceForward(t *testing.T) {
	repo, mock := newJobRepo(t)
	id := uuid.New()
	processed := int64(10000)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM import_jobs").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("importing"))
	mock.ExpectQuery("UPDATE import_jobs").
		WithArgs(id, "importing", processed, nil).
		WillReturnRows(jobRow(id, "importing", processed))
	mock.ExpectCommit()

	job, err := repo.Advance(context.Background(), id, domain.JobImporting, AdvanceOpts{Processed: &processed})
	require.NoError(t, err)
	assert.Equal(t, int64(10000), job.ProcessedRows)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAdvanceRejectsRegression(t *testing.T) {
	repo, mock := newJobRepo(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM import_jobs").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("importing"))
	mock.ExpectRollback()

	_, err := repo.Advance(context.Background(), id, domain.JobQueued, AdvanceOpts{})
	assert.ErrorIs(t, err, ErrStatusRegression)
}

func TestAdvanceAllowsRetryReset(t *testing.T) {
	repo, mock := newJobRepo(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM import_jobs").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("importing"))
	mock.ExpectQuery("UPDATE import_jobs").
		WithArgs(id, "parsing", nil, nil).
		WillReturnRows(jobRow(id, "parsing", 10000))
	mock.ExpectCommit()

	_, err := repo.Advance(context.Background(), id, domain.JobParsing, AdvanceOpts{})
	assert.NoError(t, err)
}

func TestAdvanceRejectsTerminalMutation(t *testing.T) {
	repo, mock := newJobRepo(t)
	id := uuid.New()

	for _, terminal := range []string{"done", "failed"} {
		mock.ExpectBegin()
		mock.ExpectQuery("SELECT status FROM import_jobs").
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(terminal))
		mock.ExpectRollback()

		_, err := repo.Advance(context.Background(), id, domain.JobImporting, AdvanceOpts{})
		assert.ErrorIs(t, err, ErrJobTerminal, terminal)
	}
}

func TestAdvanceMissingJob(t *testing.T) {
	repo, mock := newJobRepo(t)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM import_jobs").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"status"}))
	mock.ExpectRollback()

	_, err := repo.Advance(context.Background(), id, domain.JobParsing, AdvanceOpts{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIncrementProcessed(t *testing.T) {
	repo, mock := newJobRepo(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE import_jobs").
		WithArgs(id, int64(10000)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.IncrementProcessed(context.Background(), id, 10000))
}

func TestIncrementProcessedMissingJob(t *testing.T) {
	repo, mock := newJobRepo(t)
	id := uuid.New()

	mock.ExpectExec("UPDATE import_jobs").
		WithArgs(id, int64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.ErrorIs(t, repo.IncrementProcessed(context.Background(), id, 5), ErrNotFound)
}

func TestGetMissingJob(t *testing.T) {
	repo, mock := newJobRepo(t)
	id := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM import_jobs WHERE id").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(jobCols))

	_, err := repo.Get(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
}
