package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore parks records as plain Redis strings with a native expiry.
type RedisStore struct {
	client redis.Cmdable
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps a Redis client or cluster client.
func NewRedisStore(client redis.Cmdable) *RedisStore {
	return &RedisStore{client: client}
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, id string, record []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, id, record, effectiveTTL(ttl)).Err(); err != nil {
		return fmt.Errorf("redis set interrupt: %w", err)
	}
	return nil
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context, id string) ([]byte, error) {
	b, err := s.client.Get(ctx, id).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("redis get interrupt: %w", err)
	}
	return b, nil
}

// Delete implements Store. DEL is atomic, so only one racing caller sees n == 1.
func (s *RedisStore) Delete(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, id).Result()
	if err != nil {
		return fmt.Errorf("redis del interrupt: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
