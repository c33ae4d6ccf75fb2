package queue

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupBroker(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func mustItem(t *testing.T, id, task, queueName string, priority int) Item {
	t.Helper()
	item, err := NewItem(id, task, queueName, priority, map[string]string{"k": "v"})
	require.NoError(t, err)
	return item
}

func TestEnqueuePushesToBand(t *testing.T) {
	rdb, _ := setupBroker(t)
	producer := NewProducer(rdb)
	ctx := context.Background()

	require.NoError(t, producer.Enqueue(ctx, mustItem(t, "job-1", TaskImport, QueueIngest, 5)))

	n, err := rdb.LLen(ctx, listKey(QueueIngest, bandLow)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// Priority above half the band lands on the high list.
	require.NoError(t, producer.Enqueue(ctx, mustItem(t, "job-2", TaskImport, QueueIngest, 9)))
	n, err = rdb.LLen(ctx, listKey(QueueIngest, bandHigh)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestEnqueueIsSingletonPerItemID(t *testing.T) {
	rdb, _ := setupBroker(t)
	producer := NewProducer(rdb)
	ctx := context.Background()

	require.NoError(t, producer.Enqueue(ctx, mustItem(t, "job-1", TaskImport, QueueIngest, 5)))
	require.NoError(t, producer.Enqueue(ctx, mustItem(t, "job-1", TaskImport, QueueIngest, 5)))

	n, err := rdb.LLen(ctx, listKey(QueueIngest, bandLow)).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "second enqueue of an outstanding id must be a no-op")
}

func TestConsumerAcksAfterSuccess(t *testing.T) {
	rdb, _ := setupBroker(t)
	producer := NewProducer(rdb)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var handled atomic.Int64
	consumer := NewConsumer(rdb, 1)
	consumer.Register(TaskImport, func(ctx context.Context, d Delivery) error {
		assert.Equal(t, "job-1", d.Item.ID)
		assert.Equal(t, 1, d.Attempt)
		assert.False(t, d.LastAttempt)
		var payload map[string]string
		require.NoError(t, json.Unmarshal(d.Item.Payload, &payload))
		assert.Equal(t, "v", payload["k"])
		handled.Add(1)
		return nil
	})

	require.NoError(t, producer.Enqueue(ctx, mustItem(t, "job-1", TaskImport, QueueIngest, 5)))

	done := make(chan struct{})
	go func() { consumer.Run(ctx); close(done) }()

	require.Eventually(t, func() bool { return handled.Load() == 1 }, 5*time.Second, 20*time.Millisecond)
	// The pending registration clears on ack, allowing a future enqueue.
	require.Eventually(t, func() bool {
		n, _ := rdb.SCard(ctx, pendingKey(QueueIngest)).Result()
		return n == 0
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	<-done
}

func TestConsumerDeadLettersAfterRetryBudget(t *testing.T) {
	rdb, _ := setupBroker(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var sawLastAttempt atomic.Bool
	consumer := NewConsumer(rdb, 1)
	consumer.Register(TaskWebhookDeliver, func(ctx context.Context, d Delivery) error {
		if d.LastAttempt {
			sawLastAttempt.Store(true)
		}
		return errors.New("endpoint down")
	})

	// Item arrives with the retry budget already spent: one more failure
	// dead-letters it without backoff sleeps.
	item := mustItem(t, "dlv-1", TaskWebhookDeliver, QueueWebhook, 3)
	item.Retries = SpecFor(QueueWebhook).MaxRetries
	payload, err := item.Marshal()
	require.NoError(t, err)
	require.NoError(t, rdb.SAdd(ctx, pendingKey(QueueWebhook), item.ID).Err())
	require.NoError(t, rdb.LPush(ctx, listKey(QueueWebhook, bandLow), payload).Err())

	done := make(chan struct{})
	go func() { consumer.Run(ctx); close(done) }()

	require.Eventually(t, func() bool {
		n, _ := rdb.LLen(ctx, DeadLetterKey).Result()
		return n == 1
	}, 10*time.Second, 20*time.Millisecond)
	assert.True(t, sawLastAttempt.Load())

	// The dead-lettered record reflects the final retry count.
	raw, err := rdb.LIndex(ctx, DeadLetterKey, 0).Result()
	require.NoError(t, err)
	dead, err := UnmarshalItem(raw)
	require.NoError(t, err)
	assert.Equal(t, "dlv-1", dead.ID)
	assert.Equal(t, SpecFor(QueueWebhook).MaxRetries+1, dead.Retries)

	require.Eventually(t, func() bool {
		n, _ := rdb.SCard(ctx, pendingKey(QueueWebhook)).Result()
		return n == 0
	}, 10*time.Second, 20*time.Millisecond)

	cancel()
	<-done
}

func TestBackoffGrowsAndCaps(t *testing.T) {
	base := 2 * time.Second
	max := 10 * time.Minute

	first := Backoff(1, base, max)
	assert.GreaterOrEqual(t, first, base)
	assert.LessOrEqual(t, first, base+base/2)

	third := Backoff(3, base, max)
	assert.GreaterOrEqual(t, third, 8*time.Second)

	huge := Backoff(40, base, max)
	assert.Equal(t, max, huge)
}

func TestItemRoundTrip(t *testing.T) {
	item := mustItem(t, "job-9", TaskBulkDelete, QueueBulkOps, 3)
	payload, err := item.Marshal()
	require.NoError(t, err)

	got, err := UnmarshalItem(payload)
	require.NoError(t, err)
	assert.Equal(t, item.ID, got.ID)
	assert.Equal(t, item.Task, got.Task)
	assert.Equal(t, item.Queue, got.Queue)
	assert.Equal(t, item.Priority, got.Priority)
	assert.Equal(t, item.Retries, got.Retries)
}

func TestSpecTable(t *testing.T) {
	ingest := SpecFor(QueueIngest)
	assert.Equal(t, 2*time.Hour, ingest.TTL)
	assert.Equal(t, 10, ingest.MaxPriority)
	assert.True(t, ingest.DeadLetter)
	assert.Equal(t, 3, ingest.MaxRetries)
	assert.Equal(t, 10*time.Minute, ingest.BackoffCap)

	wh := SpecFor(QueueWebhook)
	assert.Equal(t, 5, wh.MaxPriority)
	assert.Equal(t, time.Minute, wh.BackoffCap)

	// Unknown names fall back to the default queue contract.
	assert.Equal(t, QueueDefault, SpecFor("mystery").Name)
}
