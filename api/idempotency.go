package api

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const idempotencyPending = "pending"

// RedisIdempotency remembers the response to a keyed request in Redis so every
// instance replays it instead of creating the resource twice.
type RedisIdempotency struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisIdempotency creates a store using the provided Redis client and TTL.
func NewRedisIdempotency(client *redis.Client, ttl time.Duration) *RedisIdempotency {
	return &RedisIdempotency{client: client, ttl: ttl}
}

func (r *RedisIdempotency) key(userID, key string) string {
	return fmt.Sprintf("idem:%s:%s", userID, key)
}

// Begin reserves key for userID. started is true when the caller owns the
// key and must Complete or Remove it. Otherwise stored holds the recorded
// response, or is nil while the first request is still in flight.
func (r *RedisIdempotency) Begin(ctx context.Context, userID, key string) ([]byte, bool, error) {
	k := r.key(userID, key)
	ok, err := r.client.SetNX(ctx, k, idempotencyPending, r.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if ok {
		return nil, true, nil
	}
	val, err := r.client.Get(ctx, k).Bytes()
	if err == redis.Nil {
		// expired between SETNX and GET; try once more
		ok, err = r.client.SetNX(ctx, k, idempotencyPending, r.ttl).Result()
		return nil, ok, err
	}
	if err != nil {
		return nil, false, err
	}
	if string(val) == idempotencyPending {
		return nil, false, nil
	}
	return val, false, nil
}

// Complete stores the response for a key reserved with Begin.
func (r *RedisIdempotency) Complete(ctx context.Context, userID, key string, payload []byte) error {
	return r.client.Set(ctx, r.key(userID, key), payload, r.ttl).Err()
}

// Remove releases a reserved key so the client may retry after a failure.
func (r *RedisIdempotency) Remove(ctx context.Context, userID, key string) error {
	return r.client.Del(ctx, r.key(userID, key)).Err()
}
