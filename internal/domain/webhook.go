package domain

import (
	"encoding/json"
	"time"
)

// Event types fanned out to webhook subscriptions.
const (
	EventProductCreated     = "product.created"
	EventProductUpdated     = "product.updated"
	EventProductDeleted     = "product.deleted"
	EventProductBulkDeleted = "product.bulk_deleted"
	EventImportCompleted    = "import.completed"
	EventImportFailed       = "import.failed"
)

// Webhook is a subscription: a destination URL and the event types it wants.
type Webhook struct {
	ID        int64     `json:"id"`
	URL       string    `json:"url"`
	Events    []string  `json:"events"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Subscribed reports whether the webhook wants the given event type.
func (w Webhook) Subscribed(eventType string) bool {
	for _, e := range w.Events {
		if e == eventType {
			return true
		}
	}
	return false
}

// DeliveryStatus enumerates the states of one webhook delivery attempt.
type DeliveryStatus string

const (
	DeliveryPending DeliveryStatus = "pending"
	DeliverySuccess DeliveryStatus = "success"
	DeliveryFailed  DeliveryStatus = "failed"
)

// WebhookDelivery records a single delivery attempt. The row is written once
// as pending and updated exactly once to a terminal status.
type WebhookDelivery struct {
	ID             int64           `json:"id"`
	WebhookID      int64           `json:"webhook_id"`
	EventType      string          `json:"event_type"`
	Payload        json.RawMessage `json:"payload"`
	Status         DeliveryStatus  `json:"status"`
	ResponseCode   *int            `json:"response_code"`
	ResponseBody   *string         `json:"response_body"`
	ResponseTimeMS *int64          `json:"response_time_ms"`
	AttemptedAt    time.Time       `json:"attempted_at"`
	CompletedAt    *time.Time      `json:"completed_at"`
}
