package clickhouse

import (
	"context"
	"fmt"

	"journal-core/internal/domain"
	"journal-core/internal/storage"
)

// CandleArchive implements storage.CandleArchive using ClickHouse.
// The backing table is a ReplacingMergeTree ordered by
// (symbol, interval, time_ms), so re-inserting an in-progress bar at the
// same time collapses to the latest version at merge time; reads
// deduplicate explicitly with FINAL-free grouping to stay cheap.
type CandleArchive struct {
	conn *Conn
}

// NewCandleArchive creates a new CandleArchive.
func NewCandleArchive(conn *Conn) *CandleArchive {
	return &CandleArchive{conn: conn}
}

// Compile-time interface check.
var _ storage.CandleArchive = (*CandleArchive)(nil)

// InsertBulk stores candles for a symbol/interval.
func (a *CandleArchive) InsertBulk(ctx context.Context, symbol string, interval domain.Interval, candles []domain.Candle) error {
	if symbol == "" || !interval.Valid() {
		return storage.ErrInvalidInput
	}
	if len(candles) == 0 {
		return nil
	}

	batch, err := a.conn.PrepareBatch(ctx, `
		INSERT INTO candle_archive (
			symbol, interval, time_ms, open, high, low, close, volume
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, c := range candles {
		err = batch.Append(
			symbol, string(interval), c.Time,
			c.Open, c.High, c.Low, c.Close, c.Volume,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetRange retrieves candles with Time in [start, end], ordered ASC with
// unique times. argMax picks the most recently inserted version of a bar
// that has not been merge-collapsed yet.
func (a *CandleArchive) GetRange(ctx context.Context, symbol string, interval domain.Interval, start, end int64) ([]domain.Candle, error) {
	query := `
		SELECT
			time_ms,
			argMax(open, inserted_at)   AS open,
			argMax(high, inserted_at)   AS high,
			argMax(low, inserted_at)    AS low,
			argMax(close, inserted_at)  AS close,
			argMax(volume, inserted_at) AS volume
		FROM candle_archive
		WHERE symbol = ? AND interval = ? AND time_ms >= ? AND time_ms <= ?
		GROUP BY time_ms
		ORDER BY time_ms ASC
	`

	rows, err := a.conn.Query(ctx, query, symbol, string(interval), start, end)
	if err != nil {
		return nil, fmt.Errorf("query candle range: %w", err)
	}
	defer rows.Close()

	var result []domain.Candle
	for rows.Next() {
		var c domain.Candle
		if err := rows.Scan(&c.Time, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, fmt.Errorf("scan candle: %w", err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candles: %w", err)
	}

	return result, nil
}
