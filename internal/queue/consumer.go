package queue

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ignite/catalog-importer/internal/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const (
	popTimeout    = time.Second
	heartbeatTTL  = 30 * time.Second
	heartbeatBeat = 10 * time.Second
)

// Delivery hands one dequeued item to a handler, along with the attempt
// number (1-based) and whether the retry budget is exhausted after this try.
type Delivery struct {
	Item        Item
	Attempt     int
	LastAttempt bool
}

// HandlerFunc processes one delivery. A nil return acknowledges the item; an
// error requeues it with backoff until retries run out, then dead-letters it
// on queues with a dead-letter list and drops it on the others.
type HandlerFunc func(ctx context.Context, d Delivery) error

// Consumer runs a pool of workers draining the named queues. Each worker
// holds at most one outstanding item, moved into a per-worker processing
// list and guarded by a heartbeat key so the reaper can recover items from
// lost workers. Items are acknowledged only after the handler returns.
type Consumer struct {
	rdb      *redis.Client
	count    int
	baseID   string
	queues   []string
	handlers map[string]HandlerFunc
}

// NewConsumer creates a consumer pool of the given size.
func NewConsumer(rdb *redis.Client, count int) *Consumer {
	if count <= 0 {
		count = 4
	}
	host, _ := os.Hostname()
	base := fmt.Sprintf("%s-%d-%s", host, os.Getpid(), uuid.NewString()[:8])
	return &Consumer{
		rdb:      rdb,
		count:    count,
		baseID:   base,
		queues:   ConsumeOrder(),
		handlers: make(map[string]HandlerFunc),
	}
}

// Register binds a handler to a task name. Must be called before Run.
func (c *Consumer) Register(task string, h HandlerFunc) {
	c.handlers[task] = h
}

// Run blocks until ctx is canceled, draining queues with c.count workers.
func (c *Consumer) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < c.count; i++ {
		wg.Add(1)
		workerID := fmt.Sprintf("%s-%d", c.baseID, i)
		go func() {
			defer wg.Done()
			WorkersActive.Inc()
			defer WorkersActive.Dec()
			c.runOne(ctx, workerID)
		}()
	}
	wg.Wait()
}

func (c *Consumer) runOne(ctx context.Context, workerID string) {
	procList := processingKey(workerID)
	hbKey := heartbeatKey(workerID)

	for ctx.Err() == nil {
		payload, srcKey := c.popNext(ctx, procList)
		if payload == "" {
			continue
		}

		if err := c.rdb.Set(ctx, hbKey, payload, heartbeatTTL).Err(); err != nil {
			logger.Warn("heartbeat set failed", "worker_id", workerID, "error", err)
		}
		c.process(ctx, workerID, srcKey, procList, hbKey, payload)
	}
}

// popNext fetches the next item across queues in priority order, moving it
// into the worker's processing list.
func (c *Consumer) popNext(ctx context.Context, procList string) (payload, srcKey string) {
	for _, name := range c.queues {
		for _, b := range []string{bandHigh, bandLow} {
			key := listKey(name, b)
			v, err := c.rdb.BRPopLPush(ctx, key, procList, popTimeout).Result()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				if ctx.Err() != nil {
					return "", ""
				}
				logger.Warn("BRPOPLPUSH error", "queue", name, "error", err)
				time.Sleep(50 * time.Millisecond)
				continue
			}
			return v, key
		}
	}
	return "", ""
}

func (c *Consumer) process(ctx context.Context, workerID, srcKey, procList, hbKey, payload string) {
	item, err := UnmarshalItem(payload)
	if err != nil {
		// Poison pill: drop it rather than loop on it.
		logger.Error("invalid work item payload", "worker_id", workerID, "error", err)
		c.rdb.LRem(ctx, procList, 1, payload)
		c.rdb.Del(ctx, hbKey)
		return
	}

	log := logger.With("worker_id", workerID, "queue", item.Queue, "task", item.Task, "id", item.ID)
	handler, ok := c.handlers[item.Task]
	if !ok {
		log.Error("no handler registered for task")
		c.ack(ctx, item, procList, hbKey, payload)
		return
	}

	spec := SpecFor(item.Queue)
	attempt := item.Retries + 1
	delivery := Delivery{Item: item, Attempt: attempt, LastAttempt: item.Retries >= spec.MaxRetries}

	hbStop := c.keepHeartbeat(ctx, hbKey, payload)
	hctx, cancel := context.WithTimeout(ctx, spec.TimeLimit)
	start := time.Now()
	err = handler(hctx, delivery)
	cancel()
	hbStop()
	TaskDuration.Observe(time.Since(start).Seconds())

	if err == nil {
		c.ack(ctx, item, procList, hbKey, payload)
		ItemsCompleted.WithLabelValues(item.Queue).Inc()
		log.Info("task completed", "attempt", attempt)
		return
	}

	log.Warn("task failed", "attempt", attempt, "error", err)

	item.Retries++
	if item.Retries <= spec.MaxRetries {
		bo := Backoff(item.Retries, spec.BackoffBase, spec.BackoffCap)
		select {
		case <-ctx.Done():
		case <-time.After(bo):
		}
		requeued, _ := item.Marshal()
		if err := c.rdb.LPush(ctx, srcKey, requeued).Err(); err != nil {
			log.Error("retry requeue failed", "error", err)
		}
		c.rdb.LRem(ctx, procList, 1, payload)
		c.rdb.Del(ctx, hbKey)
		ItemsRetried.WithLabelValues(item.Queue).Inc()
		log.Warn("task requeued", "retries", item.Retries, "backoff", bo.String())
		return
	}

	// Retry budget exhausted. The dead-lettered record carries the final
	// retry count, not the pre-attempt payload.
	if spec.DeadLetter {
		deadLettered, _ := item.Marshal()
		if err := c.rdb.LPush(ctx, DeadLetterKey, deadLettered).Err(); err != nil {
			log.Error("dead-letter push failed", "error", err)
		}
		c.rdb.Expire(ctx, DeadLetterKey, DeadLetterTTL)
	}
	c.ack(ctx, item, procList, hbKey, payload)
	ItemsDeadLettered.WithLabelValues(item.Queue).Inc()
	log.Error("task dead-lettered", "retries", item.Retries)
}

// ack removes every trace of the outstanding item: processing-list entry,
// pending-set registration and heartbeat.
func (c *Consumer) ack(ctx context.Context, item Item, procList, hbKey, payload string) {
	c.rdb.LRem(ctx, procList, 1, payload)
	c.rdb.SRem(ctx, pendingKey(item.Queue), item.ID)
	c.rdb.Del(ctx, hbKey)
}

// keepHeartbeat refreshes the heartbeat key while a handler runs so the
// reaper does not steal an item from a slow but healthy worker.
func (c *Consumer) keepHeartbeat(ctx context.Context, hbKey, payload string) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(heartbeatBeat)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.rdb.Set(ctx, hbKey, payload, heartbeatTTL)
			}
		}
	}()
	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

// Backoff returns the exponential delay for the given retry count with up to
// 50% jitter, capped at max.
func Backoff(retries int, base, max time.Duration) time.Duration {
	d := time.Duration(1<<uint(retries-1)) * base
	if d > max || d < 0 {
		d = max
	}
	jitter := time.Duration(rand.Int63n(int64(d)/2 + 1))
	d += jitter
	if d > max {
		d = max
	}
	return d
}
