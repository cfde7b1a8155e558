// Package cache keeps rendered tracking views in Redis.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "ticket:view:"

// Redis implements reports.ViewCache.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedis(client *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Redis{client: client, ttl: ttl}
}

// Connect dials addr and confirms the server answers before returning.
func Connect(ctx context.Context, addr, password string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}

func key(code string) string { return keyPrefix + code }

func (r *Redis) Get(ctx context.Context, code string) ([]byte, bool, error) {
	b, err := r.client.Get(ctx, key(code)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get tracking view: %w", err)
	}
	return b, true, nil
}

func (r *Redis) Set(ctx context.Context, code string, view []byte) error {
	if err := r.client.Set(ctx, key(code), view, r.ttl).Err(); err != nil {
		return fmt.Errorf("set tracking view: %w", err)
	}
	return nil
}

func (r *Redis) Invalidate(ctx context.Context, code string) error {
	if err := r.client.Del(ctx, key(code)).Err(); err != nil {
		return fmt.Errorf("invalidate tracking view: %w", err)
	}
	return nil
}
