package blob

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"legaldemo/internal/redis"
)

const redisKeyPrefix = "demo:doc:"

// RedisStore keeps documents in redis. Every key carries a safety TTL so a
// document outlives its session only briefly even if the reaper never runs.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

func (r *RedisStore) Put(ctx context.Context, data []byte) (string, error) {
	for i := 0; i < 3; i++ {
		id := uuid.NewString()
		ok, err := r.client.SetNX(ctx, redisKeyPrefix+id, data, r.ttl)
		if err != nil {
			return "", fmt.Errorf("store document: %w", err)
		}
		if ok {
			return id, nil
		}
	}
	return "", errors.New("store document: id collision")
}

func (r *RedisStore) Get(ctx context.Context, id string) ([]byte, error) {
	data, err := r.client.GetBytes(ctx, redisKeyPrefix+id)
	if err != nil {
		if errors.Is(err, redis.ErrCacheMiss) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read document: %w", err)
	}
	return data, nil
}

func (r *RedisStore) Delete(ctx context.Context, id string) error {
	if err := r.client.Del(ctx, redisKeyPrefix+id); err != nil {
		return fmt.Errorf("remove document: %w", err)
	}
	return nil
}
