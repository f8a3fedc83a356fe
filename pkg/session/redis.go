package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	redisKeyPrefix       = "sess:"
	defaultScanBatchSize = 1000
)

// RedisClient is the subset of *redis.Client the store uses
type RedisClient interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
	MGet(ctx context.Context, keys ...string) *redis.SliceCmd
	Scan(ctx context.Context, cursor uint64, match string, count int64) *redis.ScanCmd
}

// RedisStore keeps sessions in Redis under sess:<sid> with a TTL matching
// the session expiry
type RedisStore struct {
	client    RedisClient
	batchSize int64
	now       func() time.Time
}

// NewRedisStore creates a Redis-backed store. batchSize bounds how many
// keys DestroyAllForUser examines per SCAN round.
func NewRedisStore(client RedisClient, batchSize int64) *RedisStore {
	if batchSize <= 0 {
		batchSize = defaultScanBatchSize
	}
	return &RedisStore{client: client, batchSize: batchSize, now: time.Now}
}

func (s *RedisStore) Put(ctx context.Context, sid string, p *Payload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	var ttl time.Duration
	if !p.ExpiresAt.IsZero() {
		ttl = p.ExpiresAt.Sub(s.now())
		if ttl <= 0 {
			return nil
		}
	}
	if err := s.client.Set(ctx, redisKeyPrefix+sid, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, sid string) (*Payload, error) {
	data, err := s.client.Get(ctx, redisKeyPrefix+sid).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		// Corrupt entries are dropped
		s.client.Del(ctx, redisKeyPrefix+sid)
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *RedisStore) Delete(ctx context.Context, sid string) error {
	return s.client.Del(ctx, redisKeyPrefix+sid).Err()
}

// DestroyAllForUser walks the session keyspace batchSize keys at a time,
// decoding each value to find the user's sessions. At most one batch is
// held in memory.
func (s *RedisStore) DestroyAllForUser(ctx context.Context, userID string) (int, error) {
	var cursor uint64
	removed := 0
	for {
		keys, next, err := s.client.Scan(ctx, cursor, redisKeyPrefix+"*", s.batchSize).Result()
		if err != nil {
			return removed, fmt.Errorf("redis scan failed: %w", err)
		}

		if len(keys) > 0 {
			values, err := s.client.MGet(ctx, keys...).Result()
			if err != nil {
				return removed, fmt.Errorf("redis mget failed: %w", err)
			}
			var matches []string
			for i, v := range values {
				raw, ok := v.(string)
				if !ok {
					continue
				}
				var owner struct {
					UserID string `json:"userId"`
				}
				if json.Unmarshal([]byte(raw), &owner) == nil && owner.UserID == userID {
					matches = append(matches, keys[i])
				}
			}
			if len(matches) > 0 {
				n, err := s.client.Del(ctx, matches...).Result()
				if err != nil {
					return removed, fmt.Errorf("redis del failed: %w", err)
				}
				removed += int(n)
			}
		}

		cursor = next
		if cursor == 0 {
			return removed, nil
		}
	}
}
