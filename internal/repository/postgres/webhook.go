package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ignite/catalog-importer/internal/domain"
)

// WebhookRepo implements webhook subscription and delivery storage against
// PostgreSQL. Delivery rows cascade-delete with their subscription.
type WebhookRepo struct{ db *sql.DB }

// NewWebhookRepo creates a Postgres-backed webhook repository.
func NewWebhookRepo(db *sql.DB) *WebhookRepo { return &WebhookRepo{db: db} }

const webhookColumns = `id, url, events, enabled, created_at, updated_at`

// Create inserts one subscription.
func (r *WebhookRepo) Create(ctx context.Context, url string, events []string, enabled bool) (*domain.Webhook, error) {
	eventsJSON, err := json.Marshal(events)
	if err != nil {
		return nil, fmt.Errorf("encode events: %w", err)
	}
	return r.scanOne(r.db.QueryRowContext(ctx, `
		INSERT INTO webhooks (url, events, enabled)
		VALUES ($1, $2, $3)
		RETURNING `+webhookColumns,
		url, eventsJSON, enabled))
}

// Get fetches one subscription.
func (r *WebhookRepo) Get(ctx context.Context, id int64) (*domain.Webhook, error) {
	return r.scanOne(r.db.QueryRowContext(ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE id = $1`, id))
}

// List returns all subscriptions, newest first.
func (r *WebhookRepo) List(ctx context.Context) ([]domain.Webhook, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+webhookColumns+` FROM webhooks ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()
	return r.collect(rows)
}

// WebhookUpdate carries the optional fields of a partial update.
type WebhookUpdate struct {
	URL     *string
	Events  []string
	Enabled *bool
}

// Update applies the provided fields to one subscription.
func (r *WebhookRepo) Update(ctx context.Context, id int64, in WebhookUpdate) (*domain.Webhook, error) {
	set := make([]string, 0, 4)
	args := make([]interface{}, 0, 4)
	idx := 1
	add := func(clause string, val interface{}) {
		set = append(set, fmt.Sprintf(clause, idx))
		args = append(args, val)
		idx++
	}

	if in.URL != nil {
		add("url = $%d", *in.URL)
	}
	if in.Events != nil {
		eventsJSON, err := json.Marshal(in.Events)
		if err != nil {
			return nil, fmt.Errorf("encode events: %w", err)
		}
		add("events = $%d", eventsJSON)
	}
	if in.Enabled != nil {
		add("enabled = $%d", *in.Enabled)
	}
	if len(set) == 0 {
		return r.Get(ctx, id)
	}
	set = append(set, "updated_at = now()")

	query := fmt.Sprintf(`UPDATE webhooks SET %s WHERE id = $%d RETURNING %s`,
		strings.Join(set, ", "), idx, webhookColumns)
	args = append(args, id)
	return r.scanOne(r.db.QueryRowContext(ctx, query, args...))
}

// Delete removes one subscription and, via the cascade, its delivery rows.
func (r *WebhookRepo) Delete(ctx context.Context, id int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM webhooks WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("delete webhook: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// EnabledForEvent returns the enabled subscriptions listing the event type.
// Events are filtered in Go; the enabled set is small and this avoids JSONB
// containment queries that sqlmock-backed tests cannot cover.
func (r *WebhookRepo) EnabledForEvent(ctx context.Context, eventType string) ([]domain.Webhook, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+webhookColumns+` FROM webhooks WHERE enabled = true`)
	if err != nil {
		return nil, fmt.Errorf("list enabled webhooks: %w", err)
	}
	defer rows.Close()

	all, err := r.collect(rows)
	if err != nil {
		return nil, err
	}
	matched := all[:0]
	for _, w := range all {
		if w.Subscribed(eventType) {
			matched = append(matched, w)
		}
	}
	return matched, nil
}

const deliveryColumns = `id, webhook_id, event_type, payload, status, response_code, response_body, response_time_ms, attempted_at, completed_at`

// CreateDelivery appends a pending delivery row capturing the payload at
// dispatch time.
func (r *WebhookRepo) CreateDelivery(ctx context.Context, webhookID int64, eventType string, payload json.RawMessage) (*domain.WebhookDelivery, error) {
	return r.scanDelivery(r.db.QueryRowContext(ctx, `
		INSERT INTO webhook_deliveries (webhook_id, event_type, payload, status)
		VALUES ($1, $2, $3, $4)
		RETURNING `+deliveryColumns,
		webhookID, eventType, payload, string(domain.DeliveryPending)))
}

// DeliveryResult carries the outcome of one delivery attempt.
type DeliveryResult struct {
	Status         domain.DeliveryStatus
	ResponseCode   *int
	ResponseBody   *string
	ResponseTimeMS *int64
}

// CompleteDelivery moves a pending delivery row to its terminal state,
// stamping completed_at. Each row is completed exactly once.
func (r *WebhookRepo) CompleteDelivery(ctx context.Context, deliveryID int64, res DeliveryResult) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE webhook_deliveries
		SET status = $2, response_code = $3, response_body = $4,
		    response_time_ms = $5, completed_at = $6
		WHERE id = $1 AND status = $7`,
		deliveryID, string(res.Status), res.ResponseCode, res.ResponseBody,
		res.ResponseTimeMS, time.Now().UTC(), string(domain.DeliveryPending))
	if err != nil {
		return fmt.Errorf("complete delivery: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// Deliveries returns a page of delivery history for one subscription,
// newest attempt first, plus the total count.
func (r *WebhookRepo) Deliveries(ctx context.Context, webhookID int64, limit, offset int) ([]domain.WebhookDelivery, int, error) {
	if limit <= 0 {
		limit = 50
	}

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM webhook_deliveries WHERE webhook_id = $1`, webhookID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count deliveries: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT `+deliveryColumns+`
		FROM webhook_deliveries
		WHERE webhook_id = $1
		ORDER BY attempted_at DESC
		LIMIT $2 OFFSET $3`, webhookID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list deliveries: %w", err)
	}
	defer rows.Close()

	var out []domain.WebhookDelivery
	for rows.Next() {
		d, err := scanDeliveryRow(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *d)
	}
	return out, total, rows.Err()
}

func (r *WebhookRepo) scanOne(row *sql.Row) (*domain.Webhook, error) {
	w := &domain.Webhook{}
	var eventsJSON []byte
	err := row.Scan(&w.ID, &w.URL, &eventsJSON, &w.Enabled, &w.CreatedAt, &w.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan webhook: %w", err)
	}
	if err := json.Unmarshal(eventsJSON, &w.Events); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	return w, nil
}

func (r *WebhookRepo) collect(rows *sql.Rows) ([]domain.Webhook, error) {
	var out []domain.Webhook
	for rows.Next() {
		var w domain.Webhook
		var eventsJSON []byte
		if err := rows.Scan(&w.ID, &w.URL, &eventsJSON, &w.Enabled, &w.CreatedAt, &w.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		if err := json.Unmarshal(eventsJSON, &w.Events); err != nil {
			return nil, fmt.Errorf("decode events: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (r *WebhookRepo) scanDelivery(row *sql.Row) (*domain.WebhookDelivery, error) {
	d := &domain.WebhookDelivery{}
	err := row.Scan(&d.ID, &d.WebhookID, &d.EventType, &d.Payload, &d.Status,
		&d.ResponseCode, &d.ResponseBody, &d.ResponseTimeMS, &d.AttemptedAt, &d.CompletedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan delivery: %w", err)
	}
	return d, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDeliveryRow(row rowScanner) (*domain.WebhookDelivery, error) {
	d := &domain.WebhookDelivery{}
	var payload []byte
	if err := row.Scan(&d.ID, &d.WebhookID, &d.EventType, &payload, &d.Status,
		&d.ResponseCode, &d.ResponseBody, &d.ResponseTimeMS, &d.AttemptedAt, &d.CompletedAt); err != nil {
		return nil, fmt.Errorf("scan delivery: %w", err)
	}
	d.Payload = payload
	return d, nil
}
