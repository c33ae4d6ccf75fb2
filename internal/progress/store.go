package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL keeps progress hashes for one hour after the last write.
	DefaultTTL = time.Hour

	namespace = "import_progress"
)

// Store persists per-job progress snapshots in a Redis hash and fans out
// live updates on a per-job pub/sub channel. The channel is fire-and-forget;
// subscribers that were not listening miss updates, which is why readers
// also poll the snapshot.
type Store struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewStore creates a progress store with the default TTL.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb, ttl: DefaultTTL}
}

// HashKey returns the snapshot key for a job.
func HashKey(jobID string) string {
	return fmt.Sprintf("%s:hash:%s", namespace, jobID)
}

// Channel returns the pub/sub channel name for a job.
func Channel(jobID string) string {
	return fmt.Sprintf("%s:channel:%s", namespace, jobID)
}

// Put merges fields into the job's snapshot hash, stamping updated_at if the
// caller did not, and refreshes the TTL. Values are JSON-encoded so that
// numbers, booleans and nulls survive the round trip through Redis.
func (s *Store) Put(ctx context.Context, jobID string, fields map[string]interface{}) error {
	if _, ok := fields["updated_at"]; !ok {
		fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	}

	serialized := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode progress field %s: %w", k, err)
		}
		serialized[k] = string(data)
	}

	key := HashKey(jobID)
	if err := s.rdb.HSet(ctx, key, serialized).Err(); err != nil {
		return fmt.Errorf("write progress snapshot: %w", err)
	}
	if err := s.rdb.Expire(ctx, key, s.ttl).Err(); err != nil {
		return fmt.Errorf("refresh progress ttl: %w", err)
	}
	return nil
}

// Get returns the stored snapshot for a job, or nil if none exists. Values
// that fail to JSON-decode fall back to the raw string.
func (s *Store) Get(ctx context.Context, jobID string) (map[string]interface{}, error) {
	raw, err := s.rdb.HGetAll(ctx, HashKey(jobID)).Result()
	if err != nil {
		return nil, fmt.Errorf("read progress snapshot: %w", err)
	}
	if len(raw) == 0 {
		return nil, nil
	}

	fields := make(map[string]interface{}, len(raw))
	for k, v := range raw {
		var decoded interface{}
		if err := json.Unmarshal([]byte(v), &decoded); err != nil {
			fields[k] = v
			continue
		}
		fields[k] = decoded
	}
	return fields, nil
}

// Publish sends a JSON-encoded update to the job's live channel and returns
// the number of subscribers that received it.
func (s *Store) Publish(ctx context.Context, jobID string, fields map[string]interface{}) (int64, error) {
	if _, ok := fields["updated_at"]; !ok {
		fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)
	}
	message, err := json.Marshal(fields)
	if err != nil {
		return 0, fmt.Errorf("encode progress update: %w", err)
	}
	n, err := s.rdb.Publish(ctx, Channel(jobID), message).Result()
	if err != nil {
		return 0, fmt.Errorf("publish progress update: %w", err)
	}
	return n, nil
}

// Subscribe opens a pub/sub subscription on the job's live channel. The
// caller owns the returned subscription and must Close it.
func (s *Store) Subscribe(ctx context.Context, jobID string) *redis.PubSub {
	return s.rdb.Subscribe(ctx, Channel(jobID))
}
