package strategy

import (
	"testing"

	"hyperquant/internal/clock"
	"hyperquant/internal/decimal"
	"hyperquant/internal/quanttypes"
)

func testFill(symbol quanttypes.Symbol, side quanttypes.Side, ts clock.Timestamp) quanttypes.Fill {
	return quanttypes.Fill{
		Symbol: symbol, Side: side, Price: decimal.NewFromInt(2000),
		Quantity: decimal.NewFromInt(1), Timestamp: ts,
	}
}

func TestFlowTracker_NoFills(t *testing.T) {
	ft := NewFlowTracker(60*clock.Second, 0.6, 120*clock.Second, 3.0)

	metrics := ft.CalculateToxicity()
	if metrics.ToxicityScore != 0 {
		t.Errorf("expected toxicity score 0 with no fills, got %f", metrics.ToxicityScore)
	}
	if metrics.IsToxic {
		t.Error("expected IsToxic false with no fills")
	}
	if mult := ft.SpreadMultiplier(); mult != 1.0 {
		t.Errorf("expected spread multiplier 1.0 with no fills, got %f", mult)
	}
}

func TestFlowTracker_DirectionalImbalance(t *testing.T) {
	ft := NewFlowTracker(60*clock.Second, 0.6, 120*clock.Second, 3.0)
	eth := quanttypes.NewSymbol("ETH", "USDC")
	now := clock.Now()

	for i := 0; i < 5; i++ {
		ft.AddFill(testFill(eth, quanttypes.SideBuy, now.Add(clock.Duration(i)*clock.Second)))
	}

	metrics := ft.CalculateToxicity()
	if metrics.DirectionalImbalance != 1.0 {
		t.Errorf("expected directional imbalance 1.0 for all-buy flow, got %f", metrics.DirectionalImbalance)
	}
	if !metrics.IsToxic {
		t.Error("expected all-one-direction flow to be flagged toxic")
	}
}

func TestFlowTracker_BalancedFlowNotToxic(t *testing.T) {
	ft := NewFlowTracker(60*clock.Second, 0.6, 120*clock.Second, 3.0)
	eth := quanttypes.NewSymbol("ETH", "USDC")
	now := clock.Now()

	sides := []quanttypes.Side{quanttypes.SideBuy, quanttypes.SideSell, quanttypes.SideBuy, quanttypes.SideSell}
	for i, side := range sides {
		ft.AddFill(testFill(eth, side, now.Add(clock.Duration(i)*clock.Second)))
	}

	metrics := ft.CalculateToxicity()
	if metrics.DirectionalImbalance != 0.5 {
		t.Errorf("expected directional imbalance 0.5 for balanced flow, got %f", metrics.DirectionalImbalance)
	}
}

func TestFlowTracker_StaleFillsEvicted(t *testing.T) {
	ft := NewFlowTracker(10*clock.Second, 0.6, 30*clock.Second, 3.0)
	eth := quanttypes.NewSymbol("ETH", "USDC")
	now := clock.Now()

	ft.AddFill(testFill(eth, quanttypes.SideBuy, now.Add(-1*clock.Minute)))
	if got := ft.FillCount(); got != 0 {
		t.Fatalf("expected stale fill evicted on next add/evaluate, FillCount=%d", got)
	}
}

func TestFlowTracker_SpreadMultiplierWidensWhenToxic(t *testing.T) {
	ft := NewFlowTracker(60*clock.Second, 0.5, 120*clock.Second, 3.0)
	eth := quanttypes.NewSymbol("ETH", "USDC")
	now := clock.Now()

	for i := 0; i < 6; i++ {
		ft.AddFill(testFill(eth, quanttypes.SideBuy, now.Add(clock.Duration(i)*clock.Second)))
	}

	mult := ft.SpreadMultiplier()
	if mult <= 1.0 {
		t.Errorf("expected widened spread multiplier under toxic flow, got %f", mult)
	}
	if mult > 3.0 {
		t.Errorf("spread multiplier %f exceeds configured max 3.0", mult)
	}
}
