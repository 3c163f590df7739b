package keyvalue

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "tauthclient"

// RedisStore keeps entries in Redis under a namespaced key.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore wraps client; an empty prefix selects the default namespace.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if strings.TrimSpace(prefix) == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// NewRedisStoreFromURL parses a redis:// or rediss:// URL and pings the server.
func NewRedisStoreFromURL(ctx context.Context, storeURL string) (*RedisStore, error) {
	options, err := redis.ParseURL(storeURL)
	if err != nil {
		return nil, fmt.Errorf("keyvalue.redis.parse_url: %w", err)
	}
	client := redis.NewClient(options)
	if pingErr := client.Ping(ctx).Err(); pingErr != nil {
		_ = client.Close()
		return nil, fmt.Errorf("keyvalue.redis.ping: %w", pingErr)
	}
	return NewRedisStore(client, ""), nil
}

func (store *RedisStore) key(key string) string {
	return store.prefix + ":" + key
}

// Get returns the value stored under key.
func (store *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	if strings.TrimSpace(key) == "" {
		return "", false, fmt.Errorf("keyvalue.redis.get: %w", ErrEmptyKey)
	}
	value, err := store.client.Get(ctx, store.key(key)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("keyvalue.redis.get: %w", err)
	}
	return value, true, nil
}

// Set stores value under key without expiry.
func (store *RedisStore) Set(ctx context.Context, key string, value string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("keyvalue.redis.set: %w", ErrEmptyKey)
	}
	if err := store.client.Set(ctx, store.key(key), value, 0).Err(); err != nil {
		return fmt.Errorf("keyvalue.redis.set: %w", err)
	}
	return nil
}

// Remove deletes key; removing an absent key succeeds.
func (store *RedisStore) Remove(ctx context.Context, key string) error {
	if strings.TrimSpace(key) == "" {
		return fmt.Errorf("keyvalue.redis.remove: %w", ErrEmptyKey)
	}
	if err := store.client.Del(ctx, store.key(key)).Err(); err != nil {
		return fmt.Errorf("keyvalue.redis.remove: %w", err)
	}
	return nil
}

// Driver reports the backend label.
func (store *RedisStore) Driver() string {
	return "redis"
}

// Close releases the Redis connection pool.
func (store *RedisStore) Close() error {
	return store.client.Close()
}
