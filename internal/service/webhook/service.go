package webhook

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/ignite/catalog-importer/internal/domain"
	"github.com/ignite/catalog-importer/internal/pkg/logger"
	"github.com/ignite/catalog-importer/internal/queue"
)

// Store is the subscription surface the fan-out needs.
type Store interface {
	EnabledForEvent(ctx context.Context, eventType string) ([]domain.Webhook, error)
}

// Enqueuer publishes delivery work items to the broker.
type Enqueuer interface {
	Enqueue(ctx context.Context, item queue.Item) error
}

// DeliveryPayload is the work-item payload for one webhook delivery.
type DeliveryPayload struct {
	WebhookID int64           `json:"webhook_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

// Service fans events out to subscribed endpoints by enqueueing one delivery
// work item per enabled subscription.
type Service struct {
	store    Store
	producer Enqueuer
}

// NewService creates the fan-out service.
func NewService(store Store, producer Enqueuer) *Service {
	return &Service{store: store, producer: producer}
}

// Publish enqueues a delivery for every enabled subscription listing the
// event type. Failures never propagate to the caller: a webhook problem must
// not corrupt the primary outcome, so everything here is logged and
// swallowed. A failure to enqueue one subscription does not stop the others.
func (s *Service) Publish(ctx context.Context, eventType string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		logger.Error("webhook payload encode failed", "event_type", eventType, "error", err)
		return
	}

	subs, err := s.store.EnabledForEvent(ctx, eventType)
	if err != nil {
		logger.Error("webhook subscription lookup failed", "event_type", eventType, "error", err)
		return
	}
	if len(subs) == 0 {
		logger.Debug("no enabled webhooks for event", "event_type", eventType)
		return
	}

	for _, sub := range subs {
		item, err := queue.NewItem(uuid.NewString(), queue.TaskWebhookDeliver, queue.QueueWebhook, 3,
			DeliveryPayload{WebhookID: sub.ID, EventType: eventType, Payload: data})
		if err != nil {
			logger.Error("webhook work item build failed", "webhook_id", sub.ID, "error", err)
			continue
		}
		if err := s.producer.Enqueue(ctx, item); err != nil {
			logger.Error("webhook delivery enqueue failed",
				"webhook_id", sub.ID, "event_type", eventType, "error", err)
		}
	}
}
