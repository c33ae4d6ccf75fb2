package queue

import (
	"encoding/json"
	"time"
)

// Task names routed to handlers by the consumer.
const (
	TaskImport         = "import.process"
	TaskBulkDelete     = "products.bulk_delete"
	TaskWebhookDeliver = "webhook.deliver"
)

// Item is one work item on a broker queue. The ID doubles as the broker-side
// singleton key: while an item with a given ID is outstanding, enqueueing the
// same ID again is a no-op. Workers that process a job use the job id here.
type Item struct {
	ID         string          `json:"id"`
	Task       string          `json:"task"`
	Queue      string          `json:"queue"`
	Priority   int             `json:"priority"`
	Payload    json.RawMessage `json:"payload"`
	Retries    int             `json:"retries"`
	EnqueuedAt string          `json:"enqueued_at"`
}

// NewItem builds a work item with the payload JSON-encoded.
func NewItem(id, task, queueName string, priority int, payload interface{}) (Item, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Item{}, err
	}
	return Item{
		ID:         id,
		Task:       task,
		Queue:      queueName,
		Priority:   priority,
		Payload:    data,
		EnqueuedAt: time.Now().UTC().Format(time.RFC3339Nano),
	}, nil
}

// Marshal encodes the item for the wire.
func (i Item) Marshal() (string, error) {
	b, err := json.Marshal(i)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// UnmarshalItem decodes a wire payload back into an item.
func UnmarshalItem(s string) (Item, error) {
	var i Item
	err := json.Unmarshal([]byte(s), &i)
	return i, err
}
