package marketdata

import (
	"journal-core/internal/domain"
)

// CandleAt returns the bar whose window contains target, i.e. the
// closest bar at or before the target timestamp. If every bar opens
// after target, the first bar is returned. Returns ErrNoData if the
// slice is empty. Candles must be sorted ascending by time.
func CandleAt(target int64, candles []domain.Candle) (domain.Candle, error) {
	if len(candles) == 0 {
		return domain.Candle{}, ErrNoData
	}

	// Find closest bar at or before target
	for i := len(candles) - 1; i >= 0; i-- {
		if candles[i].Time <= target {
			return candles[i], nil
		}
	}

	// If no bar opens before target, use first available
	return candles[0], nil
}
