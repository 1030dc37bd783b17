package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"journal-core/internal/domain"
	"journal-core/internal/storage"
)

// CandleArchive is an in-memory implementation of storage.CandleArchive.
type CandleArchive struct {
	mu   sync.RWMutex
	data map[string]domain.Candle // keyed by (symbol, interval, time)
}

// NewCandleArchive creates a new in-memory candle archive.
func NewCandleArchive() *CandleArchive {
	return &CandleArchive{data: make(map[string]domain.Candle)}
}

// candleKey generates a unique key for one archived bar.
func candleKey(symbol string, interval domain.Interval, timeMs int64) string {
	return fmt.Sprintf("%s|%s|%d", symbol, interval, timeMs)
}

// InsertBulk stores candles; an existing bar at the same time is replaced.
func (a *CandleArchive) InsertBulk(_ context.Context, symbol string, interval domain.Interval, candles []domain.Candle) error {
	if symbol == "" || !interval.Valid() {
		return storage.ErrInvalidInput
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, c := range candles {
		a.data[candleKey(symbol, interval, c.Time)] = c
	}
	return nil
}

// GetRange retrieves candles with Time in [start, end], ordered ASC.
func (a *CandleArchive) GetRange(_ context.Context, symbol string, interval domain.Interval, start, end int64) ([]domain.Candle, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	prefix := fmt.Sprintf("%s|%s|", symbol, interval)
	var result []domain.Candle
	for k, c := range a.data {
		if len(k) > len(prefix) && k[:len(prefix)] == prefix && c.Time >= start && c.Time <= end {
			result = append(result, c)
		}
	}

	sort.Slice(result, func(i, j int) bool { return result[i].Time < result[j].Time })
	return result, nil
}

var _ storage.CandleArchive = (*CandleArchive)(nil)
