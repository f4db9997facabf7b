package runstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	redisKeyPrefix = "curator:runstate:"

	// DefaultStateTTL bounds how long an orphaned blob outlives its worker
	// before Redis reclaims it.
	DefaultStateTTL = 24 * time.Hour
)

// RedisBackend stores state blobs in Redis, keeping them available across
// worker process boundaries.
type RedisBackend struct {
	client redis.UniversalClient
	ttl    time.Duration
}

func NewRedisBackend(ctx context.Context, redisURL string, ttl time.Duration) (*RedisBackend, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	if ttl <= 0 {
		ttl = DefaultStateTTL
	}

	return &RedisBackend{client: client, ttl: ttl}, nil
}

func (b *RedisBackend) key(executionID string) string {
	return redisKeyPrefix + executionID
}

func (b *RedisBackend) Save(ctx context.Context, executionID string, state *State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to encode state for %s: %w", executionID, err)
	}

	return b.client.Set(ctx, b.key(executionID), data, b.ttl).Err()
}

func (b *RedisBackend) Load(ctx context.Context, executionID string) (*State, error) {
	data, err := b.client.Get(ctx, b.key(executionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrStateNotFound
		}

		return nil, fmt.Errorf("failed to load state for %s: %w", executionID, err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode state for %s: %w", executionID, err)
	}

	return &state, nil
}

func (b *RedisBackend) Delete(ctx context.Context, executionID string) error {
	return b.client.Del(ctx, b.key(executionID)).Err()
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
