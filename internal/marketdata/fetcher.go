// Package marketdata orchestrates historical bar retrieval: cache first,
// then the long-term archive, then the remote kline endpoint, normalizing
// whatever comes back into one deduplicated time-ascending series.
package marketdata

import (
	"context"
	"errors"

	"journal-core/internal/domain"
)

// ErrNoData reports that the remote source has no bars for the requested
// range. It is distinct from a transport failure so the UI can tell
// "no historical data available" from "could not reach data source".
var ErrNoData = errors.New("no historical data available")

// Fetcher retrieves bars from a remote source. Result ordering is not
// part of the contract; callers must sort.
type Fetcher interface {
	FetchCandles(ctx context.Context, symbol string, interval domain.Interval, startMs, endMs int64) ([]domain.Candle, error)
}
