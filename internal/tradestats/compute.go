// Package tradestats derives per-trade and journal-level performance
// statistics. Computations are pure functions over a Trade and a price
// sample; "no trade selected" and "no price yet" are normal states that
// return nil, never errors.
package tradestats

import (
	"journal-core/internal/domain"
	"journal-core/internal/numeric"
)

// Compute returns one statistics snapshot for trade against the given
// price sample. Returns nil only when either argument is absent.
func Compute(trade *domain.Trade, bar *domain.Candle) *domain.TradeStats {
	if trade == nil || bar == nil {
		return nil
	}

	entry := numeric.Finite(trade.EntryPrice)
	size := numeric.Finite(trade.Size)
	fees := numeric.Finite(trade.Fees)
	leverage := numeric.FiniteOr(trade.Leverage, 1)
	if leverage < 1 {
		leverage = 1
	}

	currentPrice := numeric.Finite(bar.Price())
	isLong := trade.IsLong()

	stats := &domain.TradeStats{CurrentPrice: currentPrice}

	// Signed distance in the trade's favor.
	if isLong {
		stats.DistanceFromEntry = currentPrice - entry
	} else {
		stats.DistanceFromEntry = entry - currentPrice
	}
	stats.DistanceFromEntryPct = numeric.SafeDiv(stats.DistanceFromEntry, entry) * 100

	stats.MarginUsed = numeric.SafeDiv(entry*size, leverage)

	stats.UnrealizedPnL = stats.DistanceFromEntry * size
	stats.UnrealizedPnLPct = numeric.SafeDiv(stats.UnrealizedPnL, stats.MarginUsed) * 100

	stats.FinalPnL = finalPnL(trade, isLong, entry, size, fees)
	stats.FinalPnLPct = numeric.SafeDiv(stats.FinalPnL, stats.MarginUsed) * 100

	// Liquidation distance needs both an explicit leverage and a stored
	// liquidation price on the trade record.
	if trade.Leverage >= 1 && trade.LiquidationPrice != nil {
		liq := numeric.Finite(*trade.LiquidationPrice)
		var dist float64
		if isLong {
			dist = currentPrice - liq
		} else {
			dist = liq - currentPrice
		}
		pct := numeric.SafeDiv(dist, currentPrice) * 100
		stats.LiquidationDistance = &dist
		stats.LiquidationDistancePct = &pct
	}

	if trade.TakeProfit != nil {
		tp := numeric.Finite(*trade.TakeProfit)
		var maxProfit float64
		if isLong {
			maxProfit = (tp - entry) * size
		} else {
			maxProfit = (entry - tp) * size
		}
		stats.MaxProfit = &maxProfit
	}
	if trade.StopLoss != nil {
		sl := numeric.Finite(*trade.StopLoss)
		var maxLoss float64
		if isLong {
			maxLoss = (entry - sl) * size
		} else {
			maxLoss = (sl - entry) * size
		}
		stats.MaxLoss = &maxLoss
	}

	stats.Status = status(trade, bar.Time, stats.DistanceFromEntry)
	stats.IsWinningTrade = stats.FinalPnL > 0

	return stats
}

// finalPnL prefers an externally supplied realized value when present and
// non-zero, otherwise derives from the exit fill.
func finalPnL(trade *domain.Trade, isLong bool, entry, size, fees float64) float64 {
	if trade.RealizedPnL != nil {
		if realized := numeric.Finite(*trade.RealizedPnL); realized != 0 {
			return realized
		}
	}

	exit := numeric.Finite(trade.ExitPrice)
	if exit <= 0 {
		return 0
	}

	var distance float64
	if isLong {
		distance = exit - entry
	} else {
		distance = entry - exit
	}
	return numeric.Finite(distance*size - fees)
}

// status classifies the trade relative to the sample time: completed once
// the sample reaches the exit time, in-progress once price has crossed
// entry in the trade's favor, pending otherwise.
func status(trade *domain.Trade, sampleTime int64, distanceFromEntry float64) domain.TradeStatus {
	if trade.ExitTime > 0 && sampleTime >= trade.ExitTime {
		return domain.StatusCompleted
	}
	if distanceFromEntry > 0 {
		return domain.StatusInProgress
	}
	return domain.StatusPending
}
