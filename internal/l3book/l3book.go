// Package l3book maintains a per-symbol L3 order book: an ordered FIFO
// queue of resting orders at each price level, with queue-position tracking
// for the subset of orders that belong to this process ("mine"). It backs
// the backtest engine's fill simulation, where queue position and a
// fill-probability model stand in for what a live venue's matching engine
// would otherwise decide.
package l3book

import (
	"math"
	"math/rand/v2"

	"hyperquant/internal/decimal"
)

// QueueOrder is one order resting in a price level's FIFO queue.
type QueueOrder struct {
	ID               string
	RemainingQty     decimal.Decimal
	IsMine           bool
	PositionInQueue  int             // count of orders ahead, at insertion time or after decrements
	TotalQtyAhead    decimal.Decimal // sum of remaining quantity ahead
	InitialQtyAhead  decimal.Decimal // TotalQtyAhead as of insertion, frozen
	cachedNormalized *float64
}

// Normalized returns clamp(TotalQtyAhead / max(InitialQtyAhead, eps), 0, 1),
// the fraction of the line still ahead of this order. The value is cached
// until the next decrement invalidates it.
const epsilon = 1e-9

func (o *QueueOrder) Normalized() float64 {
	if o.cachedNormalized != nil {
		return *o.cachedNormalized
	}
	denom := o.InitialQtyAhead.Float64()
	if denom < epsilon {
		denom = epsilon
	}
	n := o.TotalQtyAhead.Float64() / denom
	n = math.Max(0, math.Min(1, n))
	o.cachedNormalized = &n
	return n
}

func (o *QueueOrder) invalidate() {
	o.cachedNormalized = nil
}

// Model is a fill-probability model, chosen at Level construction (spec
// table in §4.9): the probability a "mine" order at the given normalized
// queue position fills when a trade prints at its price.
type Model int

const (
	// RiskAverse only fills an order effectively at the head of the queue.
	RiskAverse Model = iota
	Probability
	PowerLaw
	Logarithmic
)

// FillProbability returns P(fill) for normalized position x in [0, 1].
func FillProbability(model Model, x float64) float64 {
	switch model {
	case RiskAverse:
		if x < 0.01 {
			return 1
		}
		return 0
	case Probability:
		return 1 - x
	case PowerLaw:
		return 1 - x*x
	case Logarithmic:
		return 1 - math.Log2(1+x)
	default:
		return 0
	}
}

// Level is one price level's FIFO order queue.
type Level struct {
	Price  decimal.Decimal
	orders []*QueueOrder
}

// Add appends a new order to the tail of the queue, recording its queue
// position against the cumulative remaining quantity already resting
// ahead of it.
func (lvl *Level) Add(id string, qty decimal.Decimal, isMine bool) *QueueOrder {
	ahead := decimal.Zero
	for _, o := range lvl.orders {
		ahead = ahead.Add(o.RemainingQty)
	}
	o := &QueueOrder{
		ID: id, RemainingQty: qty, IsMine: isMine,
		PositionInQueue: len(lvl.orders),
		TotalQtyAhead:   ahead,
		InitialQtyAhead: ahead,
	}
	lvl.orders = append(lvl.orders, o)
	return o
}

// Remove drops an order from the queue (cancel), decrementing the
// position/ahead-quantity bookkeeping of every order behind it.
func (lvl *Level) Remove(id string) bool {
	idx := -1
	for i, o := range lvl.orders {
		if o.ID == id {
			idx = i
			break
		}
	}
	if idx == -1 {
		return false
	}
	removed := lvl.orders[idx]
	lvl.orders = append(lvl.orders[:idx], lvl.orders[idx+1:]...)
	for _, o := range lvl.orders[idx:] {
		o.PositionInQueue--
		o.TotalQtyAhead = o.TotalQtyAhead.Sub(removed.RemainingQty)
		o.invalidate()
	}
	return true
}

// FillEvent describes one queue order consumed (fully or partially) by a
// trade print at this level's price.
type FillEvent struct {
	OrderID  string
	IsMine   bool
	Quantity decimal.Decimal
	Filled   bool // for IsMine orders only: whether the probability model fired
}

// ApplyTrade consumes tradeQty FIFO from the head of the queue. "Mine"
// orders are given a chance to fill under model: an order at the head
// (normalized ~ 0) always fills when its turn in the FIFO consumption
// arrives; any other "mine" order surviving the FIFO consumption at this
// price is independently tested against P(fill) using rng. Matches are
// reported in FIFO order via the returned events; an order whose
// probability check fails keeps its full remaining quantity (the backtest
// engine's queue-position approximation does not partially fill a
// probability-rejected order).
func (lvl *Level) ApplyTrade(tradeQty decimal.Decimal, model Model, rng *rand.Rand) []FillEvent {
	var events []FillEvent
	var survivors []*QueueOrder // probability-rejected mine orders, kept queued
	remaining := tradeQty
	consumed := 0

	for consumed < len(lvl.orders) && remaining.Sign() > 0 {
		o := lvl.orders[consumed]
		x := o.Normalized()

		atHead := x < 0.01
		willFill := atHead
		if !atHead {
			willFill = rng.Float64() < FillProbability(model, x)
		}

		if o.IsMine && !willFill {
			// Probability check failed: this order survives the trade
			// untouched. Advance past it without consuming any of the
			// trade's remaining quantity and keep testing orders behind it.
			events = append(events, FillEvent{OrderID: o.ID, IsMine: true, Filled: false})
			survivors = append(survivors, o)
			consumed++
			continue
		}

		take := o.RemainingQty
		if take.GreaterThan(remaining) {
			take = remaining
		}
		o.RemainingQty = o.RemainingQty.Sub(take)
		remaining = remaining.Sub(take)
		events = append(events, FillEvent{OrderID: o.ID, IsMine: o.IsMine, Quantity: take, Filled: true})

		if o.RemainingQty.Sign() <= 0 {
			consumed++
		} else {
			break
		}
	}

	lvl.orders = append(survivors, lvl.orders[consumed:]...)
	if taken := tradeQty.Sub(remaining); taken.Sign() > 0 {
		lvl.decrementAheadLocked(taken)
	}
	return events
}

// decrementAheadLocked reduces every remaining order's TotalQtyAhead by the
// quantity actually consumed from the head of the queue.
func (lvl *Level) decrementAheadLocked(consumedQty decimal.Decimal) {
	for _, o := range lvl.orders {
		o.TotalQtyAhead = o.TotalQtyAhead.Sub(consumedQty)
		if o.TotalQtyAhead.Sign() < 0 {
			o.TotalQtyAhead = decimal.Zero
		}
		o.invalidate()
	}
}

// Orders returns the queue's current order slice, head first. The caller
// must not mutate it.
func (lvl *Level) Orders() []*QueueOrder { return lvl.orders }

// Book is a per-symbol L3 book: one FIFO Level per distinct bid/ask price.
type Book struct {
	bids map[string]*Level
	asks map[string]*Level
}

// New constructs an empty Book.
func New() *Book {
	return &Book{bids: make(map[string]*Level), asks: make(map[string]*Level)}
}

// Level returns (creating if absent) the queue for price on the given side.
func (b *Book) Level(price decimal.Decimal, isBid bool) *Level {
	m := b.asks
	if isBid {
		m = b.bids
	}
	key := price.String()
	lvl, ok := m[key]
	if !ok {
		lvl = &Level{Price: price}
		m[key] = lvl
	}
	return lvl
}

// RemoveLevel drops an empty level's bookkeeping once its queue is empty.
func (b *Book) RemoveLevel(price decimal.Decimal, isBid bool) {
	m := b.asks
	if isBid {
		m = b.bids
	}
	delete(m, price.String())
}
