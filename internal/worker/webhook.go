package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ignite/catalog-importer/internal/domain"
	"github.com/ignite/catalog-importer/internal/pkg/logger"
	"github.com/ignite/catalog-importer/internal/queue"
	"github.com/ignite/catalog-importer/internal/repository/postgres"
	"github.com/ignite/catalog-importer/internal/service/webhook"
)

const (
	webhookTimeout  = 10 * time.Second
	maxResponseBody = 1000
)

// WebhookWorker consumes delivery work items: it POSTs the captured payload
// to the subscription URL and records every attempt in the delivery log.
type WebhookWorker struct {
	store  *postgres.WebhookRepo
	client *http.Client
}

// NewWebhookWorker wires the delivery handler.
func NewWebhookWorker(store *postgres.WebhookRepo) *WebhookWorker {
	return &WebhookWorker{
		store:  store,
		client: &http.Client{Timeout: webhookTimeout},
	}
}

// Handle delivers one event. Each attempt appends a pending delivery row and
// moves it to exactly one terminal state. Non-2xx responses, timeouts and
// transport errors all record a failed row and re-raise so the broker
// retries; the rows stay failed per attempt.
func (w *WebhookWorker) Handle(ctx context.Context, d queue.Delivery) error {
	var payload webhook.DeliveryPayload
	if err := json.Unmarshal(d.Item.Payload, &payload); err != nil {
		logger.Error("webhook item has invalid payload", "id", d.Item.ID, "error", err)
		return nil
	}

	log := logger.With("webhook_id", payload.WebhookID, "event_type", payload.EventType)

	sub, err := w.store.Get(ctx, payload.WebhookID)
	if errors.Is(err, postgres.ErrNotFound) {
		log.Error("webhook not found, dropping delivery")
		return nil
	}
	if err != nil {
		return fmt.Errorf("load webhook: %w", err)
	}
	if !sub.Enabled {
		log.Info("webhook disabled, skipping delivery")
		return nil
	}

	delivery, err := w.store.CreateDelivery(ctx, sub.ID, payload.EventType, payload.Payload)
	if err != nil {
		return fmt.Errorf("create delivery log: %w", err)
	}

	start := time.Now()
	code, body, postErr := w.post(ctx, sub.URL, payload.Payload)
	elapsed := time.Since(start).Milliseconds()

	result := postgres.DeliveryResult{ResponseTimeMS: &elapsed}
	success := postErr == nil && code >= 200 && code < 300
	if success {
		result.Status = domain.DeliverySuccess
	} else {
		result.Status = domain.DeliveryFailed
	}
	if postErr == nil {
		result.ResponseCode = &code
	}
	if postErr != nil {
		msg := truncate(postErr.Error(), maxResponseBody)
		result.ResponseBody = &msg
	} else if body != "" {
		trimmed := truncate(body, maxResponseBody)
		result.ResponseBody = &trimmed
	}

	if err := w.store.CompleteDelivery(ctx, delivery.ID, result); err != nil {
		log.Error("failed to record delivery outcome", "delivery_id", delivery.ID, "error", err)
	}

	if success {
		log.Info("webhook delivered", "response_code", code, "response_time_ms", elapsed)
		return nil
	}

	if postErr != nil {
		log.Warn("webhook delivery failed", "attempt", d.Attempt, "error", postErr)
		return fmt.Errorf("deliver webhook %d: %w", sub.ID, postErr)
	}
	log.Warn("webhook returned non-2xx status", "attempt", d.Attempt, "response_code", code)
	return fmt.Errorf("deliver webhook %d: unexpected status %d", sub.ID, code)
}

func (w *WebhookWorker) post(ctx context.Context, url string, payload json.RawMessage) (int, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody+1))
	if err != nil {
		return resp.StatusCode, "", nil
	}
	return resp.StatusCode, string(body), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "... (truncated)"
}
