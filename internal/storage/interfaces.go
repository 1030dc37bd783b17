package storage

import (
	"context"

	"journal-core/internal/domain"
)

// CacheStore is the durable key-value tier behind the candle cache.
// Values are JSON-serialized cache entries; keys follow the
// candles_{symbol}_{interval}_{startSec}_{endSec} scheme. Writers are
// last-write-wins by key; no transactional guarantees are offered.
type CacheStore interface {
	// Get retrieves the value for key. Returns ErrNotFound if absent.
	Get(ctx context.Context, key string) (string, error)

	// Set writes the value for key, overwriting any existing value.
	Set(ctx context.Context, key, value string) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// DeleteByPrefix removes every key beginning with prefix, leaving
	// unrelated keys untouched.
	DeleteByPrefix(ctx context.Context, prefix string) error
}

// CandleArchive is the long-term bar store. Bars are append/overwrite-only
// by (symbol, interval, time); re-inserting an existing bar replaces it.
type CandleArchive interface {
	// InsertBulk stores candles for a symbol/interval. Input need not be
	// ordered; duplicate times within the batch keep the last occurrence.
	InsertBulk(ctx context.Context, symbol string, interval domain.Interval, candles []domain.Candle) error

	// GetRange retrieves candles with Time in [start, end] (ms, inclusive),
	// ordered by Time ASC with unique times.
	GetRange(ctx context.Context, symbol string, interval domain.Interval, start, end int64) ([]domain.Candle, error)
}
