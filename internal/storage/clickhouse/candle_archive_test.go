package clickhouse

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"journal-core/internal/domain"
	"journal-core/internal/storage"
)

func TestCandleArchive_InsertAndGetRange(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	archive := NewCandleArchive(conn)
	ctx := context.Background()

	candles := []domain.Candle{
		{Time: 1700000000000, Open: 100, High: 102, Low: 99, Close: 101, Volume: 10},
		{Time: 1700003600000, Open: 101, High: 103, Low: 100, Close: 102, Volume: 11},
		{Time: 1700007200000, Open: 102, High: 104, Low: 101, Close: 103, Volume: 12},
	}
	require.NoError(t, archive.InsertBulk(ctx, "BTCUSDT", domain.Interval1h, candles))

	got, err := archive.GetRange(ctx, "BTCUSDT", domain.Interval1h, 1700000000000, 1700007200000)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, int64(1700000000000), got[0].Time)
	assert.Equal(t, 101.0, got[0].Close)
	assert.Equal(t, int64(1700007200000), got[2].Time)
}

func TestCandleArchive_GetRange_Bounds(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	archive := NewCandleArchive(conn)
	ctx := context.Background()

	candles := []domain.Candle{
		{Time: 1700000000000, Close: 1},
		{Time: 1700003600000, Close: 2},
		{Time: 1700007200000, Close: 3},
	}
	require.NoError(t, archive.InsertBulk(ctx, "ETHUSDT", domain.Interval1h, candles))

	// Inclusive bounds
	got, err := archive.GetRange(ctx, "ETHUSDT", domain.Interval1h, 1700003600000, 1700007200000)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(1700003600000), got[0].Time)

	// Other symbols and intervals are not visible
	got, err = archive.GetRange(ctx, "ETHUSDT", domain.Interval4h, 0, 1800000000000)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = archive.GetRange(ctx, "BTCUSDT", domain.Interval1h, 0, 1800000000000)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCandleArchive_ReinsertReplacesBar(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	archive := NewCandleArchive(conn)
	ctx := context.Background()

	first := []domain.Candle{{Time: 1700000000000, Open: 100, Close: 100.5, Volume: 5}}
	require.NoError(t, archive.InsertBulk(ctx, "BTCUSDT", domain.Interval1m, first))

	// Same bar, updated values. Reads must see only the latest version.
	updated := []domain.Candle{{Time: 1700000000000, Open: 100, Close: 101.5, Volume: 9}}
	require.NoError(t, archive.InsertBulk(ctx, "BTCUSDT", domain.Interval1m, updated))

	got, err := archive.GetRange(ctx, "BTCUSDT", domain.Interval1m, 1700000000000, 1700000000000)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 101.5, got[0].Close)
	assert.Equal(t, 9.0, got[0].Volume)
}

func TestCandleArchive_InvalidInput(t *testing.T) {
	conn, cleanup := setupTestDB(t)
	defer cleanup()

	archive := NewCandleArchive(conn)
	ctx := context.Background()

	err := archive.InsertBulk(ctx, "", domain.Interval1h, []domain.Candle{{Time: 1}})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	err = archive.InsertBulk(ctx, "BTCUSDT", domain.Interval("2h"), []domain.Candle{{Time: 1}})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	// Empty batch is a no-op
	assert.NoError(t, archive.InsertBulk(ctx, "BTCUSDT", domain.Interval1h, nil))
}
