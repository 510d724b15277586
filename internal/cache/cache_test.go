package cache

import (
	"testing"

	"hyperquant/internal/book"
	"hyperquant/internal/bus"
	"hyperquant/internal/decimal"
	"hyperquant/internal/quanttypes"
)

func sym(base string) quanttypes.Symbol { return quanttypes.NewSymbol(base, "USDC") }

func TestQuoteUpdatesFromMarketDataTopic(t *testing.T) {
	t.Parallel()
	b := bus.New(nil)
	c := New(nil, b, 0)

	if _, ok := c.Quote(sym("BTC")); ok {
		t.Fatalf("expected no quote before any publish")
	}

	q := quanttypes.Quote{Symbol: sym("BTC"), BidPrice: decimal.NewFromInt(100), AskPrice: decimal.NewFromInt(101)}
	b.Publish("market_data.BTC-USDC", quanttypes.Event{Kind: quanttypes.EventMarketData, Symbol: sym("BTC"), Payload: q})

	got, ok := c.Quote(sym("BTC"))
	if !ok {
		t.Fatalf("expected a quote after publish")
	}
	if !got.BidPrice.Equal(decimal.NewFromInt(100)) {
		t.Errorf("BidPrice = %s, want 100", got.BidPrice)
	}
}

func TestQuoteIgnoresWrongPayloadType(t *testing.T) {
	t.Parallel()
	b := bus.New(nil)
	c := New(nil, b, 0)

	b.Publish("market_data.BTC-USDC", quanttypes.Event{Kind: quanttypes.EventMarketData, Symbol: sym("BTC"), Payload: "not a quote"})

	if _, ok := c.Quote(sym("BTC")); ok {
		t.Fatalf("expected mismatched payload to be dropped, not stored")
	}
}

func TestPositionUpdatesFromBus(t *testing.T) {
	t.Parallel()
	b := bus.New(nil)
	c := New(nil, b, 0)

	pos := quanttypes.Position{Symbol: sym("ETH"), Size: decimal.NewFromInt(2)}
	b.Publish("position_updated", quanttypes.Event{Kind: quanttypes.EventPositionUpdated, Symbol: sym("ETH"), Payload: pos})

	got, ok := c.Position(sym("ETH"))
	if !ok || !got.Size.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("expected position size 2, got %+v ok=%v", got, ok)
	}
}

func TestAccountUpdatesFromBus(t *testing.T) {
	t.Parallel()
	b := bus.New(nil)
	c := New(nil, b, 0)

	if _, ok := c.Account(); ok {
		t.Fatalf("expected no account before any publish")
	}

	acct := quanttypes.Account{Equity: decimal.NewFromInt(1000)}
	b.Publish("account_updated", quanttypes.Event{Kind: quanttypes.EventAccountUpdated, Payload: acct})

	got, ok := c.Account()
	if !ok || !got.Equity.Equal(decimal.NewFromInt(1000)) {
		t.Fatalf("expected equity 1000, got %+v ok=%v", got, ok)
	}
}

func TestActiveOrdersTrackedUntilTerminal(t *testing.T) {
	t.Parallel()
	b := bus.New(nil)
	c := New(nil, b, 0)

	order := quanttypes.Order{ClientID: "c1", Symbol: sym("BTC"), Status: quanttypes.OrderStatusAccepted}
	b.Publish("order_accepted", quanttypes.Event{Kind: quanttypes.EventOrderAccepted, Payload: order})

	got, ok := c.ActiveOrder("c1")
	if !ok || got.Status != quanttypes.OrderStatusAccepted {
		t.Fatalf("expected active order c1, got %+v ok=%v", got, ok)
	}
	if len(c.ActiveOrders()) != 1 {
		t.Fatalf("expected 1 active order, got %d", len(c.ActiveOrders()))
	}

	order.Status = quanttypes.OrderStatusFilled
	b.Publish("order_filled", quanttypes.Event{Kind: quanttypes.EventOrderFilled, Payload: order})

	if _, ok := c.ActiveOrder("c1"); ok {
		t.Fatalf("expected terminal order to be dropped from active set")
	}
	if len(c.ActiveOrders()) != 0 {
		t.Fatalf("expected 0 active orders after terminal transition, got %d", len(c.ActiveOrders()))
	}
}

func TestRegisterAndFetchBook(t *testing.T) {
	t.Parallel()
	b := bus.New(nil)
	c := New(nil, b, 0)

	if _, ok := c.Book(sym("BTC")); ok {
		t.Fatalf("expected no book before registration")
	}

	bk := book.New()
	c.RegisterBook(sym("BTC"), bk)

	got, ok := c.Book(sym("BTC"))
	if !ok || got != bk {
		t.Fatalf("expected the exact registered *book.Book back, ok=%v", ok)
	}
}

func TestRecentEventsReturnsOldestFirstUpToCapacity(t *testing.T) {
	t.Parallel()
	b := bus.New(nil)
	c := New(nil, b, 4)

	for i := 0; i < 6; i++ {
		b.Publish("account_updated", quanttypes.Event{Kind: quanttypes.EventAccountUpdated, Payload: quanttypes.Account{Equity: decimal.NewFromInt(int64(i))}})
	}

	events := c.RecentEvents(0)
	if len(events) != 4 {
		t.Fatalf("expected ring capacity 4 to cap recent events, got %d", len(events))
	}
	first := events[0].Payload.(quanttypes.Account)
	last := events[len(events)-1].Payload.(quanttypes.Account)
	if !first.Equity.Equal(decimal.NewFromInt(2)) {
		t.Errorf("oldest retained event should be publish #2 (0-indexed), got equity %s", first.Equity)
	}
	if !last.Equity.Equal(decimal.NewFromInt(5)) {
		t.Errorf("newest event should be publish #5, got equity %s", last.Equity)
	}
}

func TestRecentEventsNIsClampedToRingLength(t *testing.T) {
	t.Parallel()
	b := bus.New(nil)
	c := New(nil, b, 4)

	b.Publish("account_updated", quanttypes.Event{Kind: quanttypes.EventAccountUpdated, Payload: quanttypes.Account{}})
	b.Publish("account_updated", quanttypes.Event{Kind: quanttypes.EventAccountUpdated, Payload: quanttypes.Account{}})

	events := c.RecentEvents(100)
	if len(events) != 2 {
		t.Fatalf("expected n clamped to the 2 stored events, got %d", len(events))
	}
}
