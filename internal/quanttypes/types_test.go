package quanttypes

import (
	"testing"

	"hyperquant/internal/decimal"
)

func TestNewSymbolNormalizesCase(t *testing.T) {
	t.Parallel()
	s := NewSymbol("btc", "usdc")
	if s.String() != "BTC-USDC" {
		t.Errorf("String() = %q, want BTC-USDC", s.String())
	}
}

func TestOrderStatusIsTerminal(t *testing.T) {
	t.Parallel()
	terminal := []OrderStatus{OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	nonTerminal := []OrderStatus{OrderStatusPending, OrderStatusSubmitted, OrderStatusAccepted, OrderStatusPartiallyFilled}
	for _, s := range nonTerminal {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestOrderRemaining(t *testing.T) {
	t.Parallel()
	o := Order{
		Quantity:       decimal.MustFromString("10"),
		FilledQuantity: decimal.MustFromString("4"),
	}
	rem := o.Remaining()
	if rem.String() != "6" {
		t.Errorf("Remaining() = %s, want 6", rem)
	}
}

func TestPositionSignHelpers(t *testing.T) {
	t.Parallel()
	long := Position{Size: decimal.MustFromString("5")}
	if !long.IsLong() || long.IsShort() || long.IsFlat() {
		t.Error("expected long position to report IsLong only")
	}
	short := Position{Size: decimal.MustFromString("-5")}
	if !short.IsShort() || short.IsLong() || short.IsFlat() {
		t.Error("expected short position to report IsShort only")
	}
	flat := Position{Size: decimal.Zero}
	if !flat.IsFlat() || flat.IsLong() || flat.IsShort() {
		t.Error("expected flat position to report IsFlat only")
	}
}
