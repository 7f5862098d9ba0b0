// Package store provides the keyed store with per-entry expiry used for OTP codes,
// workflow tokens, sessions and rate-limit windows.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const scanBatch = 100

// Store wraps a Redis client. Components never talk to it directly; they receive a
// Bucket bound to their own namespace and TTL.
type Store struct {
	client *redis.Client
}

// New wraps an existing Redis client.
func New(client *redis.Client) *Store {
	return &Store{client: client}
}

// Open connects to Redis using a redis:// URL and verifies the connection.
func Open(ctx context.Context, url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return &Store{client: client}, nil
}

// Ping checks if Redis is available.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Bucket returns a handle whose keys live under name and expire after ttl by default.
// A zero ttl stores entries without expiry.
func (s *Store) Bucket(name string, ttl time.Duration) *Bucket {
	return &Bucket{client: s.client, namespace: name + ":", ttl: ttl}
}

// Bucket is a namespaced view of the store with a default TTL.
type Bucket struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
}

// Set stores value under key with the bucket's default TTL.
func (b *Bucket) Set(ctx context.Context, key, value string) error {
	return b.SetTTL(ctx, key, value, b.ttl)
}

// SetTTL stores value under key with an explicit TTL.
func (b *Bucket) SetTTL(ctx context.Context, key, value string, ttl time.Duration) error {
	if err := b.client.Set(ctx, b.namespace+key, value, ttl).Err(); err != nil {
		return fmt.Errorf("store set %s: %w", b.namespace+key, err)
	}
	return nil
}

// Get returns the value for key. found is false when the key is absent or expired.
func (b *Bucket) Get(ctx context.Context, key string) (value string, found bool, err error) {
	value, err = b.client.Get(ctx, b.namespace+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store get %s: %w", b.namespace+key, err)
	}
	return value, true, nil
}

// GetMany returns the values of the keys that still exist. Keys that expired between
// listing and reading are left out of the result.
func (b *Bucket) GetMany(ctx context.Context, keys []string) (map[string]string, error) {
	out := make(map[string]string, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = b.namespace + k
	}
	vals, err := b.client.MGet(ctx, full...).Result()
	if err != nil {
		return nil, fmt.Errorf("store mget: %w", err)
	}
	for i, v := range vals {
		if s, ok := v.(string); ok {
			out[keys[i]] = s
		}
	}
	return out, nil
}

// Delete removes keys. Missing keys are ignored.
func (b *Bucket) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = b.namespace + k
	}
	if err := b.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("store delete: %w", err)
	}
	return nil
}

// Remove deletes key and reports whether it existed. Of several concurrent callers
// removing the same key, exactly one sees true.
func (b *Bucket) Remove(ctx context.Context, key string) (bool, error) {
	n, err := b.client.Del(ctx, b.namespace+key).Result()
	if err != nil {
		return false, fmt.Errorf("store delete %s: %w", b.namespace+key, err)
	}
	return n > 0, nil
}

// ListKeys returns every key (without the bucket namespace) that starts with prefix.
// The scan is not a snapshot: keys written or expired while it runs may or may not
// appear.
func (b *Bucket) ListKeys(ctx context.Context, prefix string) ([]string, error) {
	match := escapeGlob(b.namespace+prefix) + "*"
	var keys []string
	iter := b.client.Scan(ctx, 0, match, scanBatch).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), b.namespace))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("store scan %s: %w", match, err)
	}
	return keys, nil
}

// DeleteByPrefix removes every key starting with prefix and reports how many keys
// were matched. Keys created after the scan passed them survive.
func (b *Bucket) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	keys, err := b.ListKeys(ctx, prefix)
	if err != nil {
		return 0, err
	}
	for start := 0; start < len(keys); start += scanBatch {
		end := start + scanBatch
		if end > len(keys) {
			end = len(keys)
		}
		if err := b.Delete(ctx, keys[start:end]...); err != nil {
			return start, err
		}
	}
	return len(keys), nil
}

// escapeGlob quotes the characters Redis MATCH treats as patterns.
func escapeGlob(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			sb.WriteByte('\\')
		}
		sb.WriteRune(r)
	}
	return sb.String()
}
