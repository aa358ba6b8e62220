// Package kv provides a key-value store with TTL expiry backed by
// PostgreSQL. It is the exact-match cache tier backend; lookups treat
// expired rows as absent and reloads lazily overwrite them.
package kv

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/relai-dev/relai/internal/log"
)

// ErrNotFound indicates the key is absent or expired.
var ErrNotFound = errors.New("key not found")

// Store is a TTL-aware key-value store.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger log.Logger
}

// NewStore creates a KV store.
func NewStore(pool *pgxpool.Pool, logger log.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &Store{
		pool:   pool,
		logger: logger.With("component", "kv"),
	}, nil
}

// Set stores a value. ttl <= 0 means the entry never expires.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO kv_entries (key, value, expires_at)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE
		 SET value = EXCLUDED.value,
		     expires_at = EXCLUDED.expires_at,
		     updated_at = now()`,
		key, value, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("setting key: %w", err)
	}
	return nil
}

// Get retrieves a value. Expired entries return ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM kv_entries
		 WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`,
		key,
	).Scan(&value)

	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return "", ErrNotFound
	case err != nil:
		return "", fmt.Errorf("getting key: %w", err)
	default:
		return value, nil
	}
}

// Delete removes a key. Missing keys are not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM kv_entries WHERE key = $1`, key)
	if err != nil {
		return fmt.Errorf("deleting key: %w", err)
	}
	return nil
}

// Sweep deletes expired rows. Called opportunistically; correctness does
// not depend on it because Get filters expired entries.
func (s *Store) Sweep(ctx context.Context) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM kv_entries WHERE expires_at IS NOT NULL AND expires_at <= now()`)
	if err != nil {
		return 0, fmt.Errorf("sweeping expired keys: %w", err)
	}
	return tag.RowsAffected(), nil
}
