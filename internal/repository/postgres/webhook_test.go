package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/ignite/catalog-importer/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var webhookCols = []string{"id", "url", "events", "enabled", "created_at", "updated_at"}

func newWebhookRepo(t *testing.T) (*WebhookRepo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewWebhookRepo(db), mock
}

func TestEnabledForEventFiltersByEventList(t *testing.T) {
	repo, mock := newWebhookRepo(t)
	now := time.Now().UTC()

	mock.ExpectQuery("SELECT (.+) FROM webhooks WHERE enabled").
		WillReturnRows(sqlmock.NewRows(webhookCols).
			AddRow(int64(1), "https://a.example.com", []byte(`["import.completed","import.failed"]`), true, now, now).
			AddRow(int64(2), "https://b.example.com", []byte(`["product.created"]`), true, now, now))

	subs, err := repo.EnabledForEvent(context.Background(), "import.completed")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, int64(1), subs[0].ID)
}

func TestCreateDeliveryStartsPending(t *testing.T) {
	repo, mock := newWebhookRepo(t)
	now := time.Now().UTC()
	payload := json.RawMessage(`{"job_id":"x"}`)

	mock.ExpectQuery("INSERT INTO webhook_deliveries").
		WithArgs(int64(1), "import.completed", []byte(payload), "pending").
		WillReturnRows(sqlmock.NewRows([]string{"id", "webhook_id", "event_type", "payload", "status",
			"response_code", "response_body", "response_time_ms", "attempted_at", "completed_at"}).
			AddRow(int64(5), int64(1), "import.completed", []byte(payload), "pending", nil, nil, nil, now, nil))

	d, err := repo.CreateDelivery(context.Background(), 1, "import.completed", payload)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryPending, d.Status)
	assert.Nil(t, d.CompletedAt)
}

func TestCompleteDeliveryUpdatesExactlyOnce(t *testing.T) {
	repo, mock := newWebhookRepo(t)
	code := 200
	body := "ok"
	ms := int64(120)

	mock.ExpectExec("UPDATE webhook_deliveries").
		WithArgs(int64(5), "success", code, body, ms, sqlmock.AnyArg(), "pending").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.CompleteDelivery(context.Background(), 5, DeliveryResult{
		Status:         domain.DeliverySuccess,
		ResponseCode:   &code,
		ResponseBody:   &body,
		ResponseTimeMS: &ms,
	})
	require.NoError(t, err)

	// A second completion matches no pending row.
	mock.ExpectExec("UPDATE webhook_deliveries").
		WillReturnResult(sqlmock.NewResult(0, 0))
	err = repo.CompleteDelivery(context.Background(), 5, DeliveryResult{Status: domain.DeliveryFailed})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestWebhookUpdatePartial(t *testing.T) {
	repo, mock := newWebhookRepo(t)
	now := time.Now().UTC()
	enabled := false

	mock.ExpectQuery("UPDATE webhooks SET enabled").
		WithArgs(enabled, int64(3)).
		WillReturnRows(sqlmock.NewRows(webhookCols).
			AddRow(int64(3), "https://a.example.com", []byte(`["import.completed"]`), false, now, now))

	w, err := repo.Update(context.Background(), 3, WebhookUpdate{Enabled: &enabled})
	require.NoError(t, err)
	assert.False(t, w.Enabled)
}
