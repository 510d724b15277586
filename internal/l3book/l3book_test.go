package l3book

import (
	"math/rand/v2"
	"testing"

	"hyperquant/internal/decimal"
)

func d(s string) decimal.Decimal { return decimal.MustFromString(s) }

func TestLevelAddTracksQueuePosition(t *testing.T) {
	t.Parallel()
	lvl := &Level{Price: d("100")}

	a := lvl.Add("a", d("5"), false)
	if a.PositionInQueue != 0 || !a.TotalQtyAhead.IsZero() {
		t.Fatalf("first order should have no one ahead, got pos=%d ahead=%s", a.PositionInQueue, a.TotalQtyAhead)
	}

	b := lvl.Add("b", d("3"), true)
	if b.PositionInQueue != 1 {
		t.Fatalf("second order position = %d, want 1", b.PositionInQueue)
	}
	if !b.TotalQtyAhead.Equal(d("5")) {
		t.Fatalf("second order ahead = %s, want 5", b.TotalQtyAhead)
	}
	if !b.InitialQtyAhead.Equal(b.TotalQtyAhead) {
		t.Fatalf("initial ahead should freeze at insertion value")
	}
}

func TestLevelRemoveDecrementsFollowingOrders(t *testing.T) {
	t.Parallel()
	lvl := &Level{Price: d("100")}
	lvl.Add("a", d("5"), false)
	b := lvl.Add("b", d("3"), true)
	c := lvl.Add("c", d("2"), true)

	if !lvl.Remove("a") {
		t.Fatalf("expected Remove(a) to succeed")
	}
	if b.PositionInQueue != 0 || !b.TotalQtyAhead.IsZero() {
		t.Fatalf("b should now be at head, got pos=%d ahead=%s", b.PositionInQueue, b.TotalQtyAhead)
	}
	if c.PositionInQueue != 1 || !c.TotalQtyAhead.Equal(d("3")) {
		t.Fatalf("c should be behind only b (qty 3), got pos=%d ahead=%s", c.PositionInQueue, c.TotalQtyAhead)
	}

	if lvl.Remove("missing") {
		t.Fatalf("removing an unknown id must report false")
	}
}

func TestQueueOrderNormalizedClampedAndCached(t *testing.T) {
	t.Parallel()
	lvl := &Level{Price: d("100")}
	lvl.Add("a", d("10"), false)
	b := lvl.Add("b", d("1"), true)

	if got := b.Normalized(); got != 1.0 {
		t.Fatalf("Normalized at insertion = %v, want 1.0 (fully behind the ahead quantity)", got)
	}

	// Fully consume the head order via a trade; the order still resting
	// behind it has its ahead quantity reduced by what the trade took.
	lvl.ApplyTrade(d("10"), RiskAverse, rand.New(rand.NewPCG(1, 1)))
	if got := b.Normalized(); got >= 1.0 {
		t.Fatalf("Normalized after the order ahead is fully consumed = %v, want < 1.0", got)
	}
}

func TestFillProbabilityModels(t *testing.T) {
	t.Parallel()
	cases := []struct {
		model Model
		x     float64
		want  float64
	}{
		{RiskAverse, 0.0, 1},
		{RiskAverse, 0.5, 0},
		{Probability, 0.25, 0.75},
		{PowerLaw, 0.5, 0.75},
	}
	for _, c := range cases {
		if got := FillProbability(c.model, c.x); got != c.want {
			t.Errorf("FillProbability(%v, %v) = %v, want %v", c.model, c.x, got, c.want)
		}
	}
	// Logarithmic is monotonically decreasing but not tested against an
	// exact constant beyond its endpoints.
	if got := FillProbability(Logarithmic, 0); got != 1 {
		t.Errorf("Logarithmic at x=0 = %v, want 1", got)
	}
}

func TestApplyTradeHeadOrderAlwaysFillsUnderRiskAverse(t *testing.T) {
	t.Parallel()
	lvl := &Level{Price: d("100")}
	lvl.Add("mine-head", d("2"), true)
	lvl.Add("other", d("5"), false)

	rng := rand.New(rand.NewPCG(7, 7))
	events := lvl.ApplyTrade(d("2"), RiskAverse, rng)

	if len(events) != 1 {
		t.Fatalf("expected exactly one fill event, got %d", len(events))
	}
	ev := events[0]
	if ev.OrderID != "mine-head" || !ev.Filled || !ev.Quantity.Equal(d("2")) {
		t.Fatalf("head order should fully fill at the head of queue, got %+v", ev)
	}
	if len(lvl.Orders()) != 1 || lvl.Orders()[0].ID != "other" {
		t.Fatalf("remaining queue should contain only the untouched order")
	}
}

func TestApplyTradeFIFOConsumesMultipleOrders(t *testing.T) {
	t.Parallel()
	lvl := &Level{Price: d("100")}
	lvl.Add("a", d("3"), false)
	lvl.Add("b", d("3"), false)
	lvl.Add("c", d("3"), false)

	rng := rand.New(rand.NewPCG(1, 1))
	events := lvl.ApplyTrade(d("5"), RiskAverse, rng)

	if len(events) != 2 {
		t.Fatalf("expected 2 fill events for a 5-qty trade against 3+3+3, got %d", len(events))
	}
	if !events[0].Quantity.Equal(d("3")) || events[0].OrderID != "a" {
		t.Fatalf("first event should fully consume a, got %+v", events[0])
	}
	if !events[1].Quantity.Equal(d("2")) || events[1].OrderID != "b" {
		t.Fatalf("second event should partially consume b for the remainder, got %+v", events[1])
	}
	remaining := lvl.Orders()
	if len(remaining) != 2 {
		t.Fatalf("expected b (partially filled) and c left resting, got %d orders", len(remaining))
	}
	if !remaining[0].RemainingQty.Equal(d("1")) {
		t.Fatalf("b should have 1 remaining, got %s", remaining[0].RemainingQty)
	}
}

func TestApplyTradeRejectedProbabilisticOrderKeepsFullQuantity(t *testing.T) {
	t.Parallel()
	lvl := &Level{Price: d("100")}
	lvl.Add("ahead", d("5"), false)
	mine := lvl.Add("mine", d("4"), true)

	// The trade fully consumes "ahead" (qty 5) and still has 3 left over,
	// so FIFO consumption reaches "mine". Its normalized position is 1.0
	// (nothing has been decremented from TotalQtyAhead yet), so under the
	// Probability model P(fill) = 1 - x = 0: any rng draw rejects it.
	rng := rand.New(rand.NewPCG(42, 42))
	events := lvl.ApplyTrade(d("8"), Probability, rng)

	if len(events) != 2 {
		t.Fatalf("expected ahead-consumed plus mine-rejected events, got %d: %+v", len(events), events)
	}
	found := false
	for _, ev := range events {
		if ev.OrderID == "mine" {
			found = true
			if ev.Filled {
				t.Fatalf("mine order should be reported unfilled when probability rejects it")
			}
		}
	}
	if !found {
		t.Fatalf("expected a rejection event for the mine order")
	}
	if !mine.RemainingQty.Equal(d("4")) {
		t.Fatalf("rejected order must keep its full remaining quantity, got %s", mine.RemainingQty)
	}
}

func TestBookLevelCreatesAndReusesPerSide(t *testing.T) {
	t.Parallel()
	b := New()
	bid := b.Level(d("99.5"), true)
	bid2 := b.Level(d("99.5"), true)
	if bid != bid2 {
		t.Fatalf("Level should return the same *Level for the same price/side")
	}
	ask := b.Level(d("99.5"), false)
	if ask == bid {
		t.Fatalf("bid and ask levels at the same price must be distinct")
	}

	b.RemoveLevel(d("99.5"), true)
	reborn := b.Level(d("99.5"), true)
	if reborn == bid {
		t.Fatalf("removed level should be recreated fresh, not reuse the old *Level")
	}
}
