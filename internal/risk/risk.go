// Package risk derives margin and liquidation figures for a single
// leveraged position under exchange-specific maintenance-margin rules.
// Every function here is pure: no I/O, no shared state, and every input,
// however malformed, maps to a defined output.
package risk

import (
	"math"
	"strings"

	"journal-core/internal/domain"
	"journal-core/internal/numeric"
)

// mmrTier holds the maintenance-margin rates for one exchange, split at
// the 25x leverage bracket.
type mmrTier struct {
	Base float64 // leverage <= 25
	High float64 // leverage > 25
}

// tierLeverageCutoff separates the base rate from the high-leverage rate.
const tierLeverageCutoff = 25

// Exchange identifiers with a dedicated rate table. Unknown exchanges
// fall back to the Bybit table.
const (
	ExchangeBybit   = "BYBIT"
	ExchangeBinance = "BINANCE"
	ExchangeOKX     = "OKX"
)

// mmrTable is the static per-exchange tier table. Rates are the isolated
// USDT-perpetual baselines published by each venue for the lowest risk
// bracket; positions above 25x land in the next bracket.
var mmrTable = map[string]mmrTier{
	ExchangeBybit:   {Base: 0.005, High: 0.01},
	ExchangeBinance: {Base: 0.004, High: 0.01},
	ExchangeOKX:     {Base: 0.005, High: 0.01},
}

// Params are the inputs for one risk computation. Zero values are legal
// and handled by the degenerate-input policy.
type Params struct {
	Side       domain.Side
	EntryPrice float64
	Size       float64 // position notional units
	Leverage   float64 // floored to an integer >= 1 before rate lookup
	Exchange   string  // case-insensitive
	Fees       float64

	// MMROverride bypasses the tier table when set.
	MMROverride *float64
}

// Compute derives the margin and liquidation context for one position.
func Compute(p Params) domain.RiskMetrics {
	entry := numeric.Finite(p.EntryPrice)
	size := numeric.Finite(p.Size)

	leverage := math.Floor(numeric.Finite(p.Leverage))
	if leverage < 1 {
		leverage = 1
	}

	mmr := maintenanceMarginRate(p.Exchange, leverage, p.MMROverride)

	notional := size
	m := domain.RiskMetrics{
		InitialMargin:         numeric.SafeDiv(notional, leverage),
		MaintenanceMargin:     numeric.Finite(notional * mmr),
		MaintenanceMarginRate: mmr,
	}

	liq := liquidationPrice(p.Side, entry, leverage, mmr)
	if liq != nil {
		m.LiquidationPrice = liq
		dist := math.Abs(*liq-entry) / entry * 100
		dist = numeric.Finite(dist)
		m.DistanceToLiquidationPct = &dist
	}

	return m
}

// maintenanceMarginRate selects the tier rate for an exchange and floored
// leverage, honoring an explicit override.
func maintenanceMarginRate(exchange string, leverage float64, override *float64) float64 {
	if override != nil {
		return numeric.Finite(*override)
	}

	tier, ok := mmrTable[strings.ToUpper(strings.TrimSpace(exchange))]
	if !ok {
		tier = mmrTable[ExchangeBybit]
	}
	if leverage > tierLeverageCutoff {
		return tier.High
	}
	return tier.Base
}

// liquidationPrice is the isolated-margin approximation:
//
//	LONG:  entry * (1 - 1/leverage) / (1 - MMR)
//	SHORT: entry * (1 + 1/leverage) / (1 + MMR)
//
// Returns nil when entry or leverage is degenerate, or when the formula
// yields a non-finite or non-positive price.
func liquidationPrice(side domain.Side, entry, leverage, mmr float64) *float64 {
	if entry <= 0 || leverage < 1 {
		return nil
	}

	var liq float64
	if side == domain.SideShort {
		liq = entry * (1 + 1/leverage) / (1 + mmr)
	} else {
		liq = entry * (1 - 1/leverage) / (1 - mmr)
	}

	if math.IsNaN(liq) || math.IsInf(liq, 0) || liq <= 0 {
		return nil
	}
	return &liq
}
