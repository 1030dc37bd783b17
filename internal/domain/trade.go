package domain

// Side is the direction of a position.
type Side string

// Position sides.
const (
	SideLong  Side = "LONG"
	SideShort Side = "SHORT"
)

// TradeStatus describes where a trade sits relative to a price sample.
type TradeStatus string

// Trade status values.
const (
	StatusPending    TradeStatus = "pending"     // price has not crossed entry in the trade's favor
	StatusInProgress TradeStatus = "in-progress" // price crossed entry, exit time not reached
	StatusCompleted  TradeStatus = "completed"   // sample time at or past exit time
)

// Trade is an immutable record of one open or completed position. Trades
// are constructed by the journal store (manual entry, live-entry flow, or
// CSV import) and treated as read-only by the analytics core. Malformed
// numeric fields are tolerated: every consumer normalizes through the
// numeric package rather than rejecting the record.
type Trade struct {
	Symbol     string
	Side       Side
	EntryPrice float64 // > 0 when set
	ExitPrice  float64 // > 0 when set, 0 while the trade is open
	EntryTime  int64   // epoch ms
	ExitTime   int64   // epoch ms, EntryTime <= ExitTime when set
	Size       float64 // position notional units, >= 0
	Leverage   float64 // >= 1, 0 means unset (treated as 1)
	Fees       float64 // >= 0
	Exchange   string  // venue the position was opened on

	// Optional journal fields; nil when the user never set them.
	StopLoss         *float64
	TakeProfit       *float64
	LiquidationPrice *float64

	// RealizedPnL is the exchange-reported realized PnL, when the import
	// source supplied one. Preferred over the derived value when non-zero.
	RealizedPnL *float64

	Notes string
}

// Closed reports whether the trade has a recorded exit fill.
func (t *Trade) Closed() bool {
	return t.ExitPrice > 0
}

// IsLong reports whether the trade is a long position. Any side other
// than SideShort is treated as long.
func (t *Trade) IsLong() bool {
	return t.Side != SideShort
}
