package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/quantmesh/sentinel/internal/errdefs"
)

// Redis is a Store backed by a Redis server. Horizontal scaling of the
// control plane relies on Redis serializing conflicting writes per key.
type Redis struct {
	client *redis.Client
	prefix string
}

// NewRedis connects to the Redis server at url (redis:// form) and
// verifies the connection. All keys are namespaced under prefix.
func NewRedis(ctx context.Context, url, prefix string) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w: %v", errdefs.ErrStore, err)
	}
	return &Redis{client: client, prefix: prefix}, nil
}

func (r *Redis) key(k string) string {
	if r.prefix == "" {
		return k
	}
	return r.prefix + ":" + k
}

// Get returns the value at key, or errdefs.ErrNotFound.
func (r *Redis) Get(ctx context.Context, key string) (string, error) {
	v, err := r.client.Get(ctx, r.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("key %s: %w", key, errdefs.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("get %s: %w: %v", key, errdefs.ErrStore, err)
	}
	return v, nil
}

// Set writes the value at key.
func (r *Redis) Set(ctx context.Context, key, value string) error {
	if err := r.client.Set(ctx, r.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("set %s: %w: %v", key, errdefs.ErrStore, err)
	}
	return nil
}

// Delete removes key.
func (r *Redis) Delete(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.key(key)).Err(); err != nil {
		return fmt.Errorf("del %s: %w: %v", key, errdefs.ErrStore, err)
	}
	return nil
}

// HGet returns a single hash field.
func (r *Redis) HGet(ctx context.Context, key, field string) (string, error) {
	v, err := r.client.HGet(ctx, r.key(key), field).Result()
	if errors.Is(err, redis.Nil) {
		return "", fmt.Errorf("hash %s field %s: %w", key, field, errdefs.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("hget %s %s: %w: %v", key, field, errdefs.ErrStore, err)
	}
	return v, nil
}

// HSet writes a single hash field.
func (r *Redis) HSet(ctx context.Context, key, field, value string) error {
	if err := r.client.HSet(ctx, r.key(key), field, value).Err(); err != nil {
		return fmt.Errorf("hset %s %s: %w: %v", key, field, errdefs.ErrStore, err)
	}
	return nil
}

// HGetAll returns all fields of a hash.
func (r *Redis) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := r.client.HGetAll(ctx, r.key(key)).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w: %v", key, errdefs.ErrStore, err)
	}
	return m, nil
}

// Keys returns all keys matching the glob pattern, scanning in batches
// to avoid blocking the server.
func (r *Redis) Keys(ctx context.Context, pattern string) ([]string, error) {
	var out []string
	iter := r.client.Scan(ctx, 0, r.key(pattern), 256).Iterator()
	for iter.Next(ctx) {
		k := iter.Val()
		if r.prefix != "" {
			k = k[len(r.prefix)+1:]
		}
		out = append(out, k)
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w: %v", pattern, errdefs.ErrStore, err)
	}
	return out, nil
}

// ListPush prepends value to the list at key.
func (r *Redis) ListPush(ctx context.Context, key, value string) error {
	if err := r.client.LPush(ctx, r.key(key), value).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w: %v", key, errdefs.ErrStore, err)
	}
	return nil
}

// ListTrim keeps only the elements between start and stop inclusive.
func (r *Redis) ListTrim(ctx context.Context, key string, start, stop int64) error {
	if err := r.client.LTrim(ctx, r.key(key), start, stop).Err(); err != nil {
		return fmt.Errorf("ltrim %s: %w: %v", key, errdefs.ErrStore, err)
	}
	return nil
}

// ListRange returns the elements between start and stop inclusive.
func (r *Redis) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	v, err := r.client.LRange(ctx, r.key(key), start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange %s: %w: %v", key, errdefs.ErrStore, err)
	}
	return v, nil
}

// Close closes the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}
