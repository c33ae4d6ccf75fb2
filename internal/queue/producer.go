package queue

import (
	"context"
	"fmt"

	"github.com/ignite/catalog-importer/internal/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// Producer enqueues work items onto named queues.
type Producer struct {
	rdb *redis.Client
}

// NewProducer creates a producer on the broker connection.
func NewProducer(rdb *redis.Client) *Producer {
	return &Producer{rdb: rdb}
}

// Enqueue pushes the item onto its queue's priority band. The item id is
// registered in the queue's pending set first; if the id is already
// outstanding the push is skipped, which keeps one task per job id.
func (p *Producer) Enqueue(ctx context.Context, item Item) error {
	spec := SpecFor(item.Queue)
	if item.Priority < 0 {
		item.Priority = 0
	}
	if item.Priority > spec.MaxPriority {
		item.Priority = spec.MaxPriority
	}

	added, err := p.rdb.SAdd(ctx, pendingKey(item.Queue), item.ID).Result()
	if err != nil {
		return fmt.Errorf("register pending item: %w", err)
	}
	if added == 0 {
		logger.Debug("work item already outstanding, skipping enqueue",
			"queue", item.Queue, "id", item.ID)
		return nil
	}

	payload, err := item.Marshal()
	if err != nil {
		return fmt.Errorf("encode work item: %w", err)
	}

	key := listKey(item.Queue, band(item.Priority, spec))
	pipe := p.rdb.TxPipeline()
	pipe.LPush(ctx, key, payload)
	pipe.Expire(ctx, key, spec.TTL)
	pipe.Expire(ctx, pendingKey(item.Queue), spec.TTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue work item: %w", err)
	}

	ItemsEnqueued.WithLabelValues(item.Queue).Inc()
	return nil
}
