package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/ignite/catalog-importer/internal/config"
	"github.com/ignite/catalog-importer/internal/progress"
	"github.com/ignite/catalog-importer/internal/queue"
	"github.com/ignite/catalog-importer/internal/repository/postgres"
	"github.com/ignite/catalog-importer/internal/service/importer"
	webhooksvc "github.com/ignite/catalog-importer/internal/service/webhook"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jobCols = []string{"id", "filename", "kind", "status", "total_rows", "processed_rows", "error_message", "created_at", "updated_at"}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server: config.ServerConfig{APIPrefix: "/api"},
		Upload: config.UploadConfig{TmpDir: t.TempDir(), MaxSizeMB: 512},
	}
}

func setupHandlers(t *testing.T) (*Handlers, sqlmock.Sqlmock, *progress.Store) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	store := progress.NewStore(rdb)
	jobs := postgres.NewJobRepo(db)
	products := postgres.NewProductRepo(db)
	webhooks := postgres.NewWebhookRepo(db)
	producer := queue.NewProducer(rdb)
	imports := importer.NewService(jobs, producer)
	events := webhooksvc.NewService(webhooks, producer)

	h := NewHandlers(testConfig(t), imports, products, webhooks, events, store, db, rdb, rdb)
	return h, mock, store
}

func TestStreamProgressUnknownJobReturns404(t *testing.T) {
	h, mock, _ := setupHandlers(t)
	jobID := uuid.New()

	mock.ExpectQuery("SELECT (.+) FROM import_jobs WHERE id").
		WithArgs(jobID).
		WillReturnRows(sqlmock.NewRows(jobCols))

	router := SetupRoutes(h)
	req := httptest.NewRequest(http.MethodGet, "/api/progress/"+jobID.String(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
	// 404 fires before any SSE framing.
	assert.NotContains(t, rec.Body.String(), "data:")
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}

func TestStreamProgressInvalidIDReturns404(t *testing.T) {
	h, _, _ := setupHandlers(t)

	router := SetupRoutes(h)
	req := httptest.NewRequest(http.MethodGet, "/api/progress/not-a-uuid", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStreamProgressTerminalSnapshotClosesImmediately(t *testing.T) {
	h, mock, store := setupHandlers(t)
	jobID := uuid.New()
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT (.+) FROM import_jobs WHERE id").
		WithArgs(jobID).
		WillReturnRows(sqlmock.NewRows(jobCols).
			AddRow(jobID.String(), "products.csv", "ingest", "done", int64(25000), int64(25000), nil, now, now))

	require.NoError(t, store.Put(context.Background(), jobID.String(), map[string]interface{}{
		"status":         "done",
		"stage":          "completed",
		"processed_rows": 25000,
		"total_rows":     25000,
	}))

	router := SetupRoutes(h)
	req := httptest.NewRequest(http.MethodGet, "/api/progress/"+jobID.String(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, `"status":"done"`)
	assert.Contains(t, body, `"progress":100`)
	assert.Contains(t, body, `"event":"close"`)
}

func TestStreamProgressSynthesizesInitialEvent(t *testing.T) {
	h, mock, _ := setupHandlers(t)
	jobID := uuid.New()
	now := time.Now().UTC()

	// No snapshot in the store yet: the job row seeds the first event. The
	// row is terminal so the stream also closes without waiting on the
	// live channel.
	mock.ExpectQuery("SELECT (.+) FROM import_jobs WHERE id").
		WithArgs(jobID).
		WillReturnRows(sqlmock.NewRows(jobCols).
			AddRow(jobID.String(), "products.csv", "ingest", "failed", int64(10), int64(0), "worker: boom", now, now))

	router := SetupRoutes(h)
	req := httptest.NewRequest(http.MethodGet, "/api/progress/"+jobID.String(), nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	body := rec.Body.String()
	assert.Contains(t, body, `"status":"failed"`)
	assert.Contains(t, body, `"event":"close"`)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(body), "data:"))
}
