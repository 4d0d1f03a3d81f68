package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lib/pq"
)

// PostgresStore keeps records in the conversation_state table. Expired rows
// are invisible to Get and removed by PurgeExpired.
type PostgresStore struct {
	url string
	now func() time.Time

	mu sync.Mutex
	db *sql.DB
}

// NewPostgresStore returns a store for the given connection string. The pool
// is built on first use; connections are dialed per call under the caller's
// context.
func NewPostgresStore(url string) *PostgresStore {
	return &PostgresStore{url: url, now: time.Now}
}

// NewPostgresStoreWithDB wraps an open pool.
func NewPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// DB returns the shared pool, building it if needed. It does no network I/O;
// a failed build is retried on the next call.
func (s *PostgresStore) DB() (*sql.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db != nil {
		return s.db, nil
	}

	connector, err := pq.NewConnector(s.url)
	if err != nil {
		return nil, fmt.Errorf("parse DATABASE_URL: %w", err)
	}
	s.db = sql.OpenDB(contextConnector{Connector: connector})
	return s.db, nil
}

// Ping checks connectivity under ctx.
func (s *PostgresStore) Ping(ctx context.Context) error {
	db, err := s.DB()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

// contextConnector bounds a new connection's dial and startup handshake by
// the caller's context. A connection that completes after ctx is done is
// closed.
type contextConnector struct {
	driver.Connector
}

func (c contextConnector) Connect(ctx context.Context) (driver.Conn, error) {
	type dialResult struct {
		conn driver.Conn
		err  error
	}
	done := make(chan dialResult, 1)
	go func() {
		conn, err := c.Connector.Connect(ctx)
		done <- dialResult{conn: conn, err: err}
	}()

	select {
	case r := <-done:
		return r.conn, r.err
	case <-ctx.Done():
		go func() {
			if r := <-done; r.conn != nil {
				_ = r.conn.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

// Get returns the unexpired value stored at key.
func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	db, err := s.DB()
	if err != nil {
		return nil, err
	}

	var value []byte
	err = db.QueryRowContext(
		ctx,
		`SELECT value FROM conversation_state WHERE key = $1 AND expires_at > $2`,
		key,
		s.now().UTC(),
	).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select conversation_state %s: %w", key, err)
	}
	return value, nil
}

// SetWithTTL upserts value at key with a fresh expiry.
func (s *PostgresStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := validateWrite(key, ttl); err != nil {
		return err
	}
	db, err := s.DB()
	if err != nil {
		return err
	}

	now := s.now().UTC()
	_, err = db.ExecContext(
		ctx,
		`INSERT INTO conversation_state (key, value, expires_at, updated_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (key) DO UPDATE
		 SET value = EXCLUDED.value,
		     expires_at = EXCLUDED.expires_at,
		     updated_at = EXCLUDED.updated_at`,
		key,
		value,
		now.Add(ttl),
		now,
	)
	if err != nil {
		return fmt.Errorf("upsert conversation_state %s: %w", key, err)
	}
	return nil
}

// PurgeExpired deletes rows whose expiry is at or before now.
func (s *PostgresStore) PurgeExpired(ctx context.Context, now time.Time) (int64, error) {
	db, err := s.DB()
	if err != nil {
		return 0, err
	}

	result, err := db.ExecContext(ctx, `DELETE FROM conversation_state WHERE expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge conversation_state: %w", err)
	}
	return result.RowsAffected()
}

// Close closes the pool if it was built.
func (s *PostgresStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
