package postgres

import (
	"context"
	"fmt"

	"journal-core/internal/storage"
)

// CacheStore implements storage.CacheStore using PostgreSQL. Writes are
// last-write-wins upserts keyed by cache_key; the table doubles as the
// durable tier surviving process restarts.
type CacheStore struct {
	pool *Pool
}

// NewCacheStore creates a new CacheStore.
func NewCacheStore(pool *Pool) *CacheStore {
	return &CacheStore{pool: pool}
}

// Compile-time interface check.
var _ storage.CacheStore = (*CacheStore)(nil)

// Get retrieves the value for key. Returns ErrNotFound if absent.
func (s *CacheStore) Get(ctx context.Context, key string) (string, error) {
	query := `SELECT cache_value FROM candle_cache WHERE cache_key = $1`

	var value string
	err := s.pool.QueryRow(ctx, query, key).Scan(&value)
	if err != nil {
		if isNotFoundError(err) {
			return "", storage.ErrNotFound
		}
		return "", fmt.Errorf("get cache entry: %w", err)
	}
	return value, nil
}

// Set writes the value for key, overwriting any existing value.
func (s *CacheStore) Set(ctx context.Context, key, value string) error {
	if key == "" {
		return storage.ErrInvalidInput
	}

	query := `
		INSERT INTO candle_cache (cache_key, cache_value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (cache_key)
		DO UPDATE SET cache_value = EXCLUDED.cache_value, updated_at = NOW()
	`
	if _, err := s.pool.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("set cache entry: %w", err)
	}
	return nil
}

// Delete removes key. Deleting an absent key is not an error.
func (s *CacheStore) Delete(ctx context.Context, key string) error {
	query := `DELETE FROM candle_cache WHERE cache_key = $1`
	if _, err := s.pool.Exec(ctx, query, key); err != nil {
		return fmt.Errorf("delete cache entry: %w", err)
	}
	return nil
}

// DeleteByPrefix removes every key beginning with prefix. The prefix is
// matched literally; LIKE would treat the underscore in the key
// namespace as a wildcard.
func (s *CacheStore) DeleteByPrefix(ctx context.Context, prefix string) error {
	query := `DELETE FROM candle_cache WHERE left(cache_key, length($1)) = $1`
	if _, err := s.pool.Exec(ctx, query, prefix); err != nil {
		return fmt.Errorf("delete cache entries by prefix: %w", err)
	}
	return nil
}
