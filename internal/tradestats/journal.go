package tradestats

import (
	"sort"

	"journal-core/internal/domain"
	"journal-core/internal/numeric"
)

// JournalStats aggregates realized performance over a set of closed
// trades. Like TradeStats it is derived on every call and never stored.
type JournalStats struct {
	TotalTrades int
	Wins        int
	Losses      int

	WinRate      float64 // wins / total
	NetPnL       float64
	GrossProfit  float64
	GrossLoss    float64 // absolute value
	ProfitFactor float64 // gross profit / gross loss, 0 when no losses
	Expectancy   float64 // mean realized PnL per trade

	// Order-dependent, computed over cumulative PnL in exit-time order.
	MaxDrawdown          float64 // absolute value of the deepest equity dip
	MaxConsecutiveLosses int
}

// ComputeJournalStats aggregates all closed trades in the slice; open
// trades are skipped. Order-dependent figures use a deterministic sort by
// ExitTime ASC, EntryTime ASC.
func ComputeJournalStats(trades []domain.Trade) JournalStats {
	closed := make([]domain.Trade, 0, len(trades))
	for _, t := range trades {
		if t.Closed() {
			closed = append(closed, t)
		}
	}

	var stats JournalStats
	stats.TotalTrades = len(closed)
	if len(closed) == 0 {
		return stats
	}

	sort.Slice(closed, func(i, j int) bool {
		if closed[i].ExitTime != closed[j].ExitTime {
			return closed[i].ExitTime < closed[j].ExitTime
		}
		return closed[i].EntryTime < closed[j].EntryTime
	})

	var cumulative, peak float64
	var lossStreak int
	for _, t := range closed {
		pnl := realizedPnL(&t)

		stats.NetPnL += pnl
		if pnl > 0 {
			stats.Wins++
			stats.GrossProfit += pnl
			lossStreak = 0
		} else {
			stats.Losses++
			stats.GrossLoss += -pnl
			lossStreak++
			if lossStreak > stats.MaxConsecutiveLosses {
				stats.MaxConsecutiveLosses = lossStreak
			}
		}

		cumulative += pnl
		if cumulative > peak {
			peak = cumulative
		}
		if dd := peak - cumulative; dd > stats.MaxDrawdown {
			stats.MaxDrawdown = dd
		}
	}

	stats.WinRate = numeric.SafeDiv(float64(stats.Wins), float64(stats.TotalTrades))
	stats.ProfitFactor = numeric.SafeDiv(stats.GrossProfit, stats.GrossLoss)
	stats.Expectancy = numeric.SafeDiv(stats.NetPnL, float64(stats.TotalTrades))

	return stats
}

// realizedPnL mirrors the per-trade preference: an exchange-reported
// realized value wins when non-zero, otherwise the exit fill derivation.
func realizedPnL(t *domain.Trade) float64 {
	if t.RealizedPnL != nil {
		if v := numeric.Finite(*t.RealizedPnL); v != 0 {
			return v
		}
	}

	entry := numeric.Finite(t.EntryPrice)
	exit := numeric.Finite(t.ExitPrice)
	size := numeric.Finite(t.Size)
	fees := numeric.Finite(t.Fees)

	var distance float64
	if t.IsLong() {
		distance = exit - entry
	} else {
		distance = entry - exit
	}
	return numeric.Finite(distance*size - fees)
}
