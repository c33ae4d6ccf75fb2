package queue

import (
	"context"
	"strings"
	"time"

	"github.com/ignite/catalog-importer/internal/pkg/logger"
	"github.com/redis/go-redis/v9"
)

// Reaper requeues items stranded in the processing list of a worker whose
// heartbeat expired. Re-delivery after a lost worker is the broker contract:
// items are acknowledged after completion, never on receipt.
type Reaper struct {
	rdb      *redis.Client
	interval time.Duration
}

// NewReaper creates a reaper scanning every five seconds.
func NewReaper(rdb *redis.Client) *Reaper {
	return &Reaper{rdb: rdb, interval: 5 * time.Second}
}

// Run blocks until ctx is canceled.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.scanOnce(ctx)
		}
	}
}

func (r *Reaper) scanOnce(ctx context.Context) {
	var cursor uint64
	for {
		keys, cur, err := r.rdb.Scan(ctx, cursor, "jobs:worker:*:processing", 100).Result()
		if err != nil {
			logger.Warn("reaper scan error", "error", err)
			return
		}
		cursor = cur

		for _, procList := range keys {
			// jobs:worker:<id>:processing
			parts := strings.Split(procList, ":")
			if len(parts) < 4 {
				continue
			}
			workerID := strings.Join(parts[2:len(parts)-1], ":")
			exists, _ := r.rdb.Exists(ctx, heartbeatKey(workerID)).Result()
			if exists == 1 {
				continue
			}
			r.drain(ctx, procList)
		}

		if cursor == 0 {
			return
		}
	}
}

func (r *Reaper) drain(ctx context.Context, procList string) {
	for {
		payload, err := r.rdb.RPop(ctx, procList).Result()
		if err == redis.Nil {
			return
		}
		if err != nil {
			logger.Warn("reaper rpop error", "error", err)
			return
		}
		item, err := UnmarshalItem(payload)
		if err != nil {
			logger.Warn("reaper dropping undecodable item", "error", err)
			continue
		}
		spec := SpecFor(item.Queue)
		dest := listKey(item.Queue, band(item.Priority, spec))
		if err := r.rdb.LPush(ctx, dest, payload).Err(); err != nil {
			logger.Error("reaper requeue failed", "queue", item.Queue, "id", item.ID, "error", err)
			return
		}
		logger.Info("reaper requeued orphaned item", "queue", item.Queue, "id", item.ID)
	}
}
