package clientstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend stores one client's keys under "client:<id>:<key>".
// A zero ttl keeps keys until they are removed.
type RedisBackend struct {
	client   *redis.Client
	clientID string
	ttl      time.Duration
}

func NewRedisBackend(client *redis.Client, clientID string, ttl time.Duration) *RedisBackend {
	return &RedisBackend{
		client:   client,
		clientID: clientID,
		ttl:      ttl,
	}
}

func (r *RedisBackend) key(key string) string {
	return fmt.Sprintf("client:%s:%s", r.clientID, key)
}

func (r *RedisBackend) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (r *RedisBackend) Set(ctx context.Context, key, value string) error {
	return r.client.Set(ctx, r.key(key), value, r.ttl).Err()
}

func (r *RedisBackend) Remove(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}
