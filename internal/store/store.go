// Package store provides the key-value state store with per-key expiry that
// conversation records live in.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a key does not exist or has expired.
	ErrNotFound = errors.New("key not found")
	// ErrInvalidTTL is returned when a write carries a non-positive TTL.
	ErrInvalidTTL = errors.New("ttl must be greater than zero")
	// ErrNotConfigured is returned when a backend is missing its connection URL.
	ErrNotConfigured = errors.New("store not configured")
)

// Backend names accepted by Open.
const (
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// Store is the contract the conversation manager needs: read a value, or
// write one that expires ttl from now. Implementations are safe for
// concurrent use and offer last-write-wins per key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Purger is implemented by stores that do not evict expired keys on their own.
type Purger interface {
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// Options selects and configures a backend.
type Options struct {
	Backend     string
	RedisURL    string
	DatabaseURL string
}

// Open builds the configured store. Network backends connect lazily on first
// use, so Open itself does no I/O.
func Open(opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Backend)) {
	case BackendRedis, "":
		if strings.TrimSpace(opts.RedisURL) == "" {
			return nil, fmt.Errorf("%w: REDIS_URL is not set", ErrNotConfigured)
		}
		return NewRedisStore(opts.RedisURL), nil
	case BackendPostgres:
		if strings.TrimSpace(opts.DatabaseURL) == "" {
			return nil, fmt.Errorf("%w: DATABASE_URL is not set", ErrNotConfigured)
		}
		return NewPostgresStore(opts.DatabaseURL), nil
	case BackendMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", opts.Backend)
	}
}

func validateWrite(key string, ttl time.Duration) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("key is required")
	}
	if ttl <= 0 {
		return ErrInvalidTTL
	}
	return nil
}
