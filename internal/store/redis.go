package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore keeps records in Redis and lets Redis expire them.
type RedisStore struct {
	url string

	once   sync.Once
	client *redis.Client
	err    error
}

// NewRedisStore returns a store for the given redis:// URL. The client is
// created on first use.
func NewRedisStore(url string) *RedisStore {
	return &RedisStore{url: url}
}

// NewRedisStoreWithClient wraps an existing client.
func NewRedisStoreWithClient(client *redis.Client) *RedisStore {
	s := &RedisStore{client: client}
	s.once.Do(func() {})
	return s
}

func (s *RedisStore) conn() (*redis.Client, error) {
	s.once.Do(func() {
		opts, err := redis.ParseURL(s.url)
		if err != nil {
			s.err = fmt.Errorf("parse REDIS_URL: %w", err)
			return
		}
		s.client = redis.NewClient(opts)
	})
	return s.client, s.err
}

// Get returns the value stored at key.
func (s *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	client, err := s.conn()
	if err != nil {
		return nil, err
	}
	value, err := client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return value, nil
}

// SetWithTTL writes value at key, replacing any previous value and expiry.
func (s *RedisStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := validateWrite(key, ttl); err != nil {
		return err
	}
	client, err := s.conn()
	if err != nil {
		return err
	}
	if err := client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	client, err := s.conn()
	if err != nil {
		return err
	}
	return client.Ping(ctx).Err()
}

// Close releases the client if one was created.
func (s *RedisStore) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}
