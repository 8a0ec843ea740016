package tokenstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps tokens in Redis so several console processes on one host or
// cluster share a login.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    map[Kind]time.Duration
}

// NewRedisStore connects to redisURL and namespaces keys by profile.
func NewRedisStore(redisURL, profile string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return NewRedisStoreWithClient(client, profile), nil
}

// NewRedisStoreWithClient creates a store from an existing Redis client
func NewRedisStoreWithClient(client *redis.Client, profile string) *RedisStore {
	if profile == "" {
		profile = "default"
	}
	return &RedisStore{
		client: client,
		prefix: "console:" + profile + ":",
		ttl:    map[Kind]time.Duration{},
	}
}

// WithTTL expires a slot after ttl. Zero keeps the key until cleared.
func (s *RedisStore) WithTTL(kind Kind, ttl time.Duration) *RedisStore {
	s.ttl[kind] = ttl
	return s
}

func (s *RedisStore) key(kind Kind) string {
	return s.prefix + string(kind)
}

func (s *RedisStore) Get(ctx context.Context, kind Kind) (string, error) {
	value, err := s.client.Get(ctx, s.key(kind)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup %s token: %w", kind, err)
	}
	return value, nil
}

func (s *RedisStore) Set(ctx context.Context, kind Kind, value string) error {
	if err := s.client.Set(ctx, s.key(kind), value, s.ttl[kind]).Err(); err != nil {
		return fmt.Errorf("save %s token: %w", kind, err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, kind Kind) error {
	if err := s.client.Del(ctx, s.key(kind)).Err(); err != nil {
		return fmt.Errorf("clear %s token: %w", kind, err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis is reachable
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
