package domain

// RiskMetrics is the margin and liquidation context of one position.
// It is derived, recomputed on each call, and never persisted.
type RiskMetrics struct {
	InitialMargin         float64 // notional / leverage
	MaintenanceMargin     float64 // notional * MMR
	MaintenanceMarginRate float64 // tier rate actually applied

	// LiquidationPrice is nil when the inputs are degenerate (zero price
	// or leverage) or the isolated-margin formula yields a non-finite or
	// non-positive value. That is the defined policy, not an error.
	LiquidationPrice *float64

	// DistanceToLiquidationPct is |liq - entry| / entry * 100, nil
	// whenever LiquidationPrice is nil.
	DistanceToLiquidationPct *float64
}

// TradeStats is one immutable statistics snapshot for a trade against a
// single price sample. It holds no identity of its own: recomputing with
// identical inputs yields an identical value.
type TradeStats struct {
	CurrentPrice float64

	DistanceFromEntry    float64 // signed in the trade's favor
	DistanceFromEntryPct float64

	MarginUsed float64 // (entry * size) / leverage

	UnrealizedPnL    float64
	UnrealizedPnLPct float64 // relative to margin used

	FinalPnL    float64 // realized when supplied, otherwise derived from exit
	FinalPnLPct float64

	// Liquidation distance in the direction the formula measures: LONG is
	// price above liquidation, SHORT is price below. Nil unless both
	// leverage and the trade's liquidation price are set.
	LiquidationDistance    *float64
	LiquidationDistancePct *float64

	// MaxProfit / MaxLoss are the take-profit and stop-loss distances
	// times size; nil when the respective target was never set.
	MaxProfit *float64
	MaxLoss   *float64

	Status         TradeStatus
	IsWinningTrade bool
}
