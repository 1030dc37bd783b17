package risk

import (
	"math"
	"testing"

	"journal-core/internal/domain"
)

func TestCompute_LongLiquidationBelowEntry(t *testing.T) {
	for _, lev := range []float64{2, 5, 10, 25, 50, 100} {
		m := Compute(Params{
			Side:       domain.SideLong,
			EntryPrice: 50000,
			Size:       1,
			Leverage:   lev,
			Exchange:   ExchangeBybit,
		})
		if m.LiquidationPrice == nil {
			t.Fatalf("leverage %v: expected liquidation price, got nil", lev)
		}
		if *m.LiquidationPrice >= 50000 {
			t.Errorf("leverage %v: LONG liquidation %f not below entry", lev, *m.LiquidationPrice)
		}
		if *m.LiquidationPrice <= 0 {
			t.Errorf("leverage %v: liquidation %f not positive", lev, *m.LiquidationPrice)
		}
	}
}

func TestCompute_ShortLiquidationAboveEntry(t *testing.T) {
	for _, lev := range []float64{1, 2, 5, 10, 50} {
		m := Compute(Params{
			Side:       domain.SideShort,
			EntryPrice: 50000,
			Size:       1,
			Leverage:   lev,
			Exchange:   ExchangeBybit,
		})
		if m.LiquidationPrice == nil {
			t.Fatalf("leverage %v: expected liquidation price, got nil", lev)
		}
		if *m.LiquidationPrice <= 50000 {
			t.Errorf("leverage %v: SHORT liquidation %f not above entry", lev, *m.LiquidationPrice)
		}
	}
}

func TestCompute_DegenerateInputs(t *testing.T) {
	// Zero entry price: no liquidation, no panic.
	m := Compute(Params{Side: domain.SideLong, EntryPrice: 0, Size: 10, Leverage: 10})
	if m.LiquidationPrice != nil {
		t.Errorf("expected nil liquidation for zero entry, got %f", *m.LiquidationPrice)
	}
	if m.DistanceToLiquidationPct != nil {
		t.Error("expected nil distance for zero entry")
	}

	// Zero leverage is floored to 1; 1x LONG liquidates at zero equity,
	// which the formula maps to a non-positive price, so nil.
	m = Compute(Params{Side: domain.SideLong, EntryPrice: 100, Size: 10, Leverage: 0})
	if m.LiquidationPrice != nil {
		t.Errorf("expected nil liquidation for 1x long, got %f", *m.LiquidationPrice)
	}
	if m.InitialMargin != 10 {
		t.Errorf("expected initial margin 10 at implied 1x, got %f", m.InitialMargin)
	}

	// NaN inputs normalize to zero instead of propagating.
	m = Compute(Params{Side: domain.SideShort, EntryPrice: math.NaN(), Size: math.Inf(1), Leverage: math.NaN()})
	if m.LiquidationPrice != nil || m.InitialMargin != 0 || m.MaintenanceMargin != 0 {
		t.Errorf("expected zeroed metrics for non-finite inputs, got %+v", m)
	}
}

func TestCompute_MarginFormulas(t *testing.T) {
	m := Compute(Params{
		Side:       domain.SideLong,
		EntryPrice: 100,
		Size:       1000,
		Leverage:   10,
		Exchange:   ExchangeBybit,
	})

	if m.InitialMargin != 100 {
		t.Errorf("initial margin: got %f, want 100", m.InitialMargin)
	}
	if m.MaintenanceMarginRate != 0.005 {
		t.Errorf("MMR: got %f, want 0.005", m.MaintenanceMarginRate)
	}
	if m.MaintenanceMargin != 5 {
		t.Errorf("maintenance margin: got %f, want 5", m.MaintenanceMargin)
	}

	// LONG 10x: 100 * (1 - 0.1) / (1 - 0.005)
	wantLiq := 100 * (1 - 0.1) / (1 - 0.005)
	if math.Abs(*m.LiquidationPrice-wantLiq) > 1e-12 {
		t.Errorf("liquidation: got %f, want %f", *m.LiquidationPrice, wantLiq)
	}

	wantDist := math.Abs(wantLiq-100) / 100 * 100
	if math.Abs(*m.DistanceToLiquidationPct-wantDist) > 1e-12 {
		t.Errorf("distance: got %f, want %f", *m.DistanceToLiquidationPct, wantDist)
	}
}

func TestCompute_HighLeverageTier(t *testing.T) {
	low := Compute(Params{Side: domain.SideLong, EntryPrice: 50000, Size: 1, Leverage: 10, Exchange: "BYBIT"})
	high := Compute(Params{Side: domain.SideLong, EntryPrice: 50000, Size: 1, Leverage: 30, Exchange: "BYBIT"})

	if high.MaintenanceMarginRate != 0.01 {
		t.Errorf("30x MMR: got %f, want the >25x tier rate 0.01", high.MaintenanceMarginRate)
	}
	if low.MaintenanceMarginRate != 0.005 {
		t.Errorf("10x MMR: got %f, want 0.005", low.MaintenanceMarginRate)
	}

	// The higher rate plus tighter leverage leaves less room to liquidation.
	if *high.DistanceToLiquidationPct >= *low.DistanceToLiquidationPct {
		t.Errorf("expected 30x distance %f < 10x distance %f",
			*high.DistanceToLiquidationPct, *low.DistanceToLiquidationPct)
	}
}

func TestCompute_ExchangeNormalizationAndFallback(t *testing.T) {
	a := Compute(Params{Side: domain.SideLong, EntryPrice: 100, Size: 1, Leverage: 5, Exchange: "bybit"})
	b := Compute(Params{Side: domain.SideLong, EntryPrice: 100, Size: 1, Leverage: 5, Exchange: " BYBIT "})
	if a.MaintenanceMarginRate != b.MaintenanceMarginRate {
		t.Error("exchange lookup should be case- and whitespace-insensitive")
	}

	// Unknown venues use the Bybit table.
	unknown := Compute(Params{Side: domain.SideLong, EntryPrice: 100, Size: 1, Leverage: 5, Exchange: "KRAKEN"})
	if unknown.MaintenanceMarginRate != a.MaintenanceMarginRate {
		t.Errorf("unknown exchange MMR: got %f, want %f", unknown.MaintenanceMarginRate, a.MaintenanceMarginRate)
	}
}

func TestCompute_MMROverride(t *testing.T) {
	override := 0.02
	m := Compute(Params{
		Side:        domain.SideShort,
		EntryPrice:  100,
		Size:        1,
		Leverage:    10,
		Exchange:    ExchangeBybit,
		MMROverride: &override,
	})
	if m.MaintenanceMarginRate != 0.02 {
		t.Errorf("override MMR: got %f, want 0.02", m.MaintenanceMarginRate)
	}

	wantLiq := 100 * (1 + 0.1) / (1 + 0.02)
	if math.Abs(*m.LiquidationPrice-wantLiq) > 1e-12 {
		t.Errorf("liquidation with override: got %f, want %f", *m.LiquidationPrice, wantLiq)
	}
}

func TestCompute_FractionalLeverageFloored(t *testing.T) {
	a := Compute(Params{Side: domain.SideLong, EntryPrice: 100, Size: 100, Leverage: 10.9})
	b := Compute(Params{Side: domain.SideLong, EntryPrice: 100, Size: 100, Leverage: 10})
	if a.InitialMargin != b.InitialMargin {
		t.Errorf("10.9x should floor to 10x: margins %f vs %f", a.InitialMargin, b.InitialMargin)
	}
	if *a.LiquidationPrice != *b.LiquidationPrice {
		t.Error("10.9x should floor to 10x for the liquidation formula")
	}
}
