package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisClient interface for Redis operations (for testing)
type RedisClient interface {
	Ping(ctx context.Context) *redis.StatusCmd
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Incr(ctx context.Context, key string) *redis.IntCmd
	Close() error
}

// Redis stores each path as one JSON-encoded string key.
type Redis struct {
	client RedisClient
	prefix string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

func NewRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return NewRedisWithClient(client, cfg.Prefix), nil
}

func NewRedisWithClient(client RedisClient, prefix string) *Redis {
	return &Redis{client: client, prefix: prefix}
}

func (r *Redis) key(path string) string {
	return r.prefix + key(path)
}

func (r *Redis) Get(ctx context.Context, path string) ([]byte, bool, error) {
	data, err := r.client.Get(ctx, r.key(path)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get %s: %w", path, err)
	}
	return data, true, nil
}

func (r *Redis) Set(ctx context.Context, path string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", path, err)
	}
	if err := r.client.Set(ctx, r.key(path), data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", path, err)
	}
	return nil
}

// Update merges fields into the stored object. It is a read-modify-write and
// assumes a single writer per path.
func (r *Redis) Update(ctx context.Context, path string, fields map[string]any) error {
	merged := make(map[string]any, len(fields))

	data, ok, err := r.Get(ctx, path)
	if err != nil {
		return err
	}
	if ok {
		if err := json.Unmarshal(data, &merged); err != nil {
			merged = make(map[string]any, len(fields))
		}
	}

	for k, v := range fields {
		merged[k] = v
	}
	return r.Set(ctx, path, merged)
}

func (r *Redis) Incr(ctx context.Context, path string) (int, error) {
	n, err := r.client.Incr(ctx, r.key(path)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment %s: %w", path, err)
	}
	return int(n), nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
