package queue

import (
	"fmt"
	"time"
)

// Queue names. Each is a named durable queue with its own TTL, priority band
// and retry policy.
const (
	QueueDefault  = "default"
	QueueIngest   = "ingest"
	QueueBulkOps  = "bulk_ops"
	QueueWebhook  = "webhook"
	DeadLetterKey = "jobs:dlq"
)

// DeadLetterTTL bounds how long failed items are retained for inspection.
const DeadLetterTTL = 7 * 24 * time.Hour

// Spec describes one named queue's contract.
type Spec struct {
	Name        string
	TTL         time.Duration
	MaxPriority int
	DeadLetter  bool
	MaxRetries  int
	BackoffBase time.Duration
	BackoffCap  time.Duration
	TimeLimit   time.Duration
}

var specs = map[string]Spec{
	QueueDefault: {
		Name:        QueueDefault,
		TTL:         time.Hour,
		MaxPriority: 10,
		MaxRetries:  3,
		BackoffBase: 2 * time.Second,
		BackoffCap:  10 * time.Minute,
		TimeLimit:   time.Hour,
	},
	QueueIngest: {
		Name:        QueueIngest,
		TTL:         2 * time.Hour,
		MaxPriority: 10,
		DeadLetter:  true,
		MaxRetries:  3,
		BackoffBase: 2 * time.Second,
		BackoffCap:  10 * time.Minute,
		TimeLimit:   time.Hour,
	},
	QueueBulkOps: {
		Name:        QueueBulkOps,
		TTL:         time.Hour,
		MaxPriority: 5,
		DeadLetter:  true,
		MaxRetries:  3,
		BackoffBase: 2 * time.Second,
		BackoffCap:  10 * time.Minute,
		TimeLimit:   time.Hour,
	},
	QueueWebhook: {
		Name:        QueueWebhook,
		TTL:         time.Hour,
		MaxPriority: 5,
		DeadLetter:  true,
		MaxRetries:  3,
		BackoffBase: time.Second,
		BackoffCap:  time.Minute,
		TimeLimit:   30 * time.Second,
	},
}

// SpecFor returns the contract for a named queue, falling back to default.
func SpecFor(name string) Spec {
	if s, ok := specs[name]; ok {
		return s
	}
	return specs[QueueDefault]
}

// ConsumeOrder lists queues in the order workers drain them.
func ConsumeOrder() []string {
	return []string{QueueIngest, QueueBulkOps, QueueWebhook, QueueDefault}
}

const bandHigh, bandLow = "high", "low"

// band selects the list sub-key for a priority within the queue's band.
func band(priority int, s Spec) string {
	if s.MaxPriority > 0 && priority > s.MaxPriority/2 {
		return bandHigh
	}
	return bandLow
}

func listKey(queueName, b string) string {
	return fmt.Sprintf("jobs:%s:%s", queueName, b)
}

func pendingKey(queueName string) string {
	return fmt.Sprintf("jobs:%s:pending", queueName)
}

func processingKey(workerID string) string {
	return fmt.Sprintf("jobs:worker:%s:processing", workerID)
}

func heartbeatKey(workerID string) string {
	return fmt.Sprintf("jobs:worker:%s:heartbeat", workerID)
}
