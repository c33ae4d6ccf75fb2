package worker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/ignite/catalog-importer/internal/domain"
	"github.com/ignite/catalog-importer/internal/progress"
	"github.com/ignite/catalog-importer/internal/queue"
	webhooksvc "github.com/ignite/catalog-importer/internal/service/webhook"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

var jobCols = []string{"id", "filename", "kind", "status", "total_rows", "processed_rows", "error_message", "created_at", "updated_at"}

// captureQueue records enqueued items instead of touching a broker.
type captureQueue struct {
	mu    sync.Mutex
	items []queue.Item
}

func (c *captureQueue) Enqueue(ctx context.Context, item queue.Item) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = append(c.items, item)
	return nil
}

func (c *captureQueue) all() []queue.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]queue.Item{}, c.items...)
}

// stubSubs serves a fixed subscription list to the fan-out service.
type stubSubs struct{ subs []domain.Webhook }

func (s stubSubs) EnabledForEvent(ctx context.Context, eventType string) ([]domain.Webhook, error) {
	var out []domain.Webhook
	for _, w := range s.subs {
		if w.Enabled && w.Subscribed(eventType) {
			out = append(out, w)
		}
	}
	return out, nil
}

func newEvents(subs ...domain.Webhook) (*webhooksvc.Service, *captureQueue) {
	q := &captureQueue{}
	return webhooksvc.NewService(stubSubs{subs: subs}, q), q
}

func allEvents() domain.Webhook {
	return domain.Webhook{
		ID:      1,
		URL:     "https://example.com/hook",
		Enabled: true,
		Events: []string{
			domain.EventImportCompleted,
			domain.EventImportFailed,
			domain.EventProductBulkDeleted,
		},
	}
}

func newProgressStore(t *testing.T) *progress.Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return progress.NewStore(client)
}

func ingestJobRow(id uuid.UUID, status string, total, processed int64) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(jobCols).
		AddRow(id.String(), "products.csv", "ingest", status, total, processed, nil, now, now)
}

func bulkDeleteJobRow(id uuid.UUID, status string, processed int64) *sqlmock.Rows {
	now := time.Now().UTC()
	return sqlmock.NewRows(jobCols).
		AddRow(id.String(), "", "bulk_delete", status, nil, processed, nil, now, now)
}

func expectAdvance(mock sqlmock.Sqlmock, id uuid.UUID, from, to string, rows *sqlmock.Rows, args ...driverArg) {
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT status FROM import_jobs").
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow(from))
	q := mock.ExpectQuery("UPDATE import_jobs")
	if len(args) == 2 {
		q.WithArgs(id, to, args[0], args[1])
	} else {
		q.WithArgs(id, to, nil, nil)
	}
	q.WillReturnRows(rows)
	mock.ExpectCommit()
}

type driverArg = interface{}
