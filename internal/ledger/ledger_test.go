package ledger

import (
	"testing"

	"hyperquant/internal/bus"
	"hyperquant/internal/clock"
	"hyperquant/internal/decimal"
	"hyperquant/internal/quanttypes"
)

func newTestLedger(t *testing.T) *Ledger {
	t.Helper()
	b := bus.New(nil)
	return New(b, nil, decimal.NewFromInt(100000), 0)
}

func fill(symbol quanttypes.Symbol, side quanttypes.Side, price, qty string) quanttypes.Fill {
	return quanttypes.Fill{
		Symbol:    symbol,
		Side:      side,
		Price:     decimal.MustFromString(price),
		Quantity:  decimal.MustFromString(qty),
		Fee:       decimal.Zero,
		Timestamp: clock.Now(),
	}
}

// Scenario 1 — Position math (spec.md §8).
func TestPositionMath_IncreaseThenReduce(t *testing.T) {
	l := newTestLedger(t)
	eth := quanttypes.NewSymbol("ETH", "USDC")

	l.ApplyFill(fill(eth, quanttypes.SideBuy, "2000", "10"))
	l.ApplyFill(fill(eth, quanttypes.SideBuy, "2100", "5"))

	pos := l.Position(eth)
	if pos.Size.String() != "15" {
		t.Fatalf("size = %s, want 15", pos.Size.String())
	}
	wantEntry := decimal.MustFromString("2033.333333333")
	if diff := pos.EntryPrice.Sub(wantEntry).Abs(); diff.GreaterThan(decimal.MustFromString("0.000000001")) {
		t.Fatalf("entry = %s, want ~2033.333333333", pos.EntryPrice.String())
	}
	if !pos.RealizedPnL.IsZero() {
		t.Fatalf("realized = %s, want 0", pos.RealizedPnL.String())
	}

	l.ApplyFill(fill(eth, quanttypes.SideSell, "2150", "8"))
	pos = l.Position(eth)

	if pos.Size.String() != "7" {
		t.Fatalf("size after reduce = %s, want 7", pos.Size.String())
	}
	if !pos.EntryPrice.Equal(wantEntry) {
		t.Fatalf("entry should be unchanged after a reduce, got %s", pos.EntryPrice.String())
	}
	wantRealized := decimal.MustFromString("933.333333336")
	if diff := pos.RealizedPnL.Sub(wantRealized).Abs(); diff.GreaterThan(decimal.MustFromString("0.000000002")) {
		t.Fatalf("realized = %s, want ~933.333333336", pos.RealizedPnL.String())
	}
}

// Scenario 2 — Reversal (spec.md §8).
func TestPositionMath_Reversal(t *testing.T) {
	l := newTestLedger(t)
	btc := quanttypes.NewSymbol("BTC", "USDC")

	l.ApplyFill(fill(btc, quanttypes.SideBuy, "100", "5"))
	l.ApplyFill(fill(btc, quanttypes.SideSell, "110", "8"))

	pos := l.Position(btc)
	if pos.Size.String() != "-3" {
		t.Fatalf("size = %s, want -3", pos.Size.String())
	}
	if pos.EntryPrice.String() != "110" {
		t.Fatalf("entry = %s, want 110", pos.EntryPrice.String())
	}
	if pos.RealizedPnL.String() != "50" {
		t.Fatalf("realized = %s, want 50", pos.RealizedPnL.String())
	}
}

func TestUnrealizedPnLAndEquity(t *testing.T) {
	l := newTestLedger(t)
	eth := quanttypes.NewSymbol("ETH", "USDC")

	l.ApplyFill(fill(eth, quanttypes.SideBuy, "2000", "10"))
	l.UpdateMarkPrice(eth, decimal.MustFromString("2050"))

	pos := l.Position(eth)
	if pos.UnrealizedPnL.String() != "500" {
		t.Fatalf("unrealized = %s, want 500", pos.UnrealizedPnL.String())
	}

	acct := l.Account()
	wantEquity := acct.Balance.Add(decimal.MustFromString("500"))
	if !acct.Equity.Equal(wantEquity) {
		t.Fatalf("equity = %s, want %s", acct.Equity.String(), wantEquity.String())
	}
}

func TestOrderLifecycleTransitions(t *testing.T) {
	l := newTestLedger(t)
	eth := quanttypes.NewSymbol("ETH", "USDC")

	order := l.CreateOrder(quanttypes.Order{
		ClientID: "c1", Symbol: eth, Side: quanttypes.SideBuy,
		Type: quanttypes.OrderTypeLimit, Quantity: decimal.NewFromInt(10),
		Price: decimal.NewFromInt(2000),
	})
	if order.Status != quanttypes.OrderStatusPending {
		t.Fatalf("status = %s, want pending", order.Status)
	}

	// pending -> accepted directly is not a legal transition.
	if _, err := l.transitionForTest("c1", quanttypes.OrderStatusAccepted); err == nil {
		t.Fatal("expected invalid transition error")
	}

	submitted, err := l.MarkSubmitted("c1")
	if err != nil {
		t.Fatalf("MarkSubmitted: %v", err)
	}
	if submitted.Status != quanttypes.OrderStatusSubmitted {
		t.Fatalf("status = %s, want submitted", submitted.Status)
	}
}

// transitionForTest exposes the private transition path for the illegal-jump
// assertion above without adding a second exported mutator just for tests.
func (l *Ledger) transitionForTest(clientID string, to quanttypes.OrderStatus) (quanttypes.Order, error) {
	return l.transition(clientID, to, quanttypes.EventOrderAccepted, "order_accepted")
}

func TestPartialThenFullFillTransitionsOrder(t *testing.T) {
	l := newTestLedger(t)
	eth := quanttypes.NewSymbol("ETH", "USDC")

	l.CreateOrder(quanttypes.Order{
		ClientID: "c2", Symbol: eth, Side: quanttypes.SideBuy,
		Type: quanttypes.OrderTypeLimit, Quantity: decimal.NewFromInt(10),
		Price: decimal.NewFromInt(2000),
	})
	if _, err := l.MarkSubmitted("c2"); err != nil {
		t.Fatalf("MarkSubmitted: %v", err)
	}
	if _, err := l.transitionForTest("c2", quanttypes.OrderStatusAccepted); err != nil {
		t.Fatalf("accept: %v", err)
	}

	l.ApplyFill(quanttypes.Fill{
		OrderClientID: "c2", Symbol: eth, Side: quanttypes.SideBuy,
		Price: decimal.NewFromInt(2000), Quantity: decimal.NewFromInt(4), Timestamp: clock.Now(),
	})
	o, ok := l.Order("c2")
	if !ok || o.Status != quanttypes.OrderStatusPartiallyFilled {
		t.Fatalf("expected partially-filled, got %v ok=%v", o.Status, ok)
	}
	if o.FilledQuantity.String() != "4" {
		t.Fatalf("filled = %s, want 4", o.FilledQuantity.String())
	}

	l.ApplyFill(quanttypes.Fill{
		OrderClientID: "c2", Symbol: eth, Side: quanttypes.SideBuy,
		Price: decimal.NewFromInt(2010), Quantity: decimal.NewFromInt(6), Timestamp: clock.Now(),
	})
	_, ok = l.Order("c2")
	if ok {
		t.Fatal("filled order should no longer be tracked as active")
	}
}
