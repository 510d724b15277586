// Package book maintains a local L2 order book mirror for a single symbol:
// two price->quantity maps (bids, asks), kept consistent through the
// snapshot-then-delta discipline the venue adapter is required to follow.
// It is concurrency-safe so strategy and risk code can read derived values
// (best bid/ask, mid, spread, depth) from any goroutine while the adapter
// keeps applying updates on its own.
package book

import (
	"fmt"
	"sort"
	"sync"

	"hyperquant/internal/decimal"
)

// Level is a single price/quantity pair, the unit snapshots and deltas are
// expressed in.
type Level struct {
	Price    decimal.Decimal
	Quantity decimal.Decimal
}

// Book is the local mirror of one symbol's L2 order book. The zero value is
// not usable; construct with New.
type Book struct {
	mu sync.RWMutex

	bids map[string]decimal.Decimal // price.String() -> quantity
	asks map[string]decimal.Decimal

	bidPrices map[string]decimal.Decimal // price.String() -> Decimal, to avoid re-parsing for sort
	askPrices map[string]decimal.Decimal

	sequence int64
}

// New constructs an empty Book.
func New() *Book {
	return &Book{
		bids:      make(map[string]decimal.Decimal),
		asks:      make(map[string]decimal.Decimal),
		bidPrices: make(map[string]decimal.Decimal),
		askPrices: make(map[string]decimal.Decimal),
	}
}

// ApplySnapshot replaces the entire book with the given levels and sets the
// sequence number. Snapshots are always accepted regardless of the prior
// sequence — this is the recovery path a gap or crossed book falls back to.
func (b *Book) ApplySnapshot(bids, asks []Level, sequence int64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.bids = make(map[string]decimal.Decimal, len(bids))
	b.bidPrices = make(map[string]decimal.Decimal, len(bids))
	for _, lvl := range bids {
		key := lvl.Price.String()
		b.bids[key] = lvl.Quantity
		b.bidPrices[key] = lvl.Price
	}

	b.asks = make(map[string]decimal.Decimal, len(asks))
	b.askPrices = make(map[string]decimal.Decimal, len(asks))
	for _, lvl := range asks {
		key := lvl.Price.String()
		b.asks[key] = lvl.Quantity
		b.askPrices[key] = lvl.Price
	}

	b.sequence = sequence
}

// ErrSequenceGap is returned by ApplyDelta when sequence does not strictly
// follow the book's current sequence, signaling the caller must resubscribe
// and wait for a fresh snapshot.
type ErrSequenceGap struct {
	Expected int64
	Got      int64
}

func (e *ErrSequenceGap) Error() string {
	return fmt.Sprintf("book: sequence gap, expected > %d got %d", e.Expected, e.Got)
}

// ErrCrossedBook is returned by ApplyDelta when applying it would leave the
// book crossed or locked (best bid >= best ask). The caller must drop the
// delta and request a fresh snapshot per the crossed-book policy.
type ErrCrossedBook struct {
	BestBid decimal.Decimal
	BestAsk decimal.Decimal
}

func (e *ErrCrossedBook) Error() string {
	return fmt.Sprintf("book: crossed book, best_bid=%s best_ask=%s", e.BestBid, e.BestAsk)
}

// ApplyDelta applies one batch of level changes atomically: a quantity of
// zero removes the level, otherwise the level is set to the new quantity.
// Sequence numbers must be strictly increasing; on a gap the delta is
// rejected and the book is left unchanged so the caller can resubscribe. If
// applying the delta would cross the book, it is also rejected unchanged.
func (b *Book) ApplyDelta(bidChanges, askChanges []Level, sequence int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sequence <= b.sequence {
		return &ErrSequenceGap{Expected: b.sequence, Got: sequence}
	}

	// Apply to scratch copies first so a crossed result can be rejected
	// without mutating the live book.
	newBids := cloneQty(b.bids)
	newBidPrices := cloneDec(b.bidPrices)
	for _, lvl := range bidChanges {
		key := lvl.Price.String()
		if lvl.Quantity.IsZero() {
			delete(newBids, key)
			delete(newBidPrices, key)
			continue
		}
		newBids[key] = lvl.Quantity
		newBidPrices[key] = lvl.Price
	}

	newAsks := cloneQty(b.asks)
	newAskPrices := cloneDec(b.askPrices)
	for _, lvl := range askChanges {
		key := lvl.Price.String()
		if lvl.Quantity.IsZero() {
			delete(newAsks, key)
			delete(newAskPrices, key)
			continue
		}
		newAsks[key] = lvl.Quantity
		newAskPrices[key] = lvl.Price
	}

	if bestBid, ok := bestPrice(newBidPrices, true); ok {
		if bestAsk, ok := bestPrice(newAskPrices, false); ok {
			if bestBid.GreaterThanOrEqual(bestAsk) {
				return &ErrCrossedBook{BestBid: bestBid, BestAsk: bestAsk}
			}
		}
	}

	b.bids, b.bidPrices = newBids, newBidPrices
	b.asks, b.askPrices = newAsks, newAskPrices
	b.sequence = sequence
	return nil
}

func cloneQty(m map[string]decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneDec(m map[string]decimal.Decimal) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// bestPrice returns the best (highest for bids, lowest for asks) price among
// prices, or false if prices is empty.
func bestPrice(prices map[string]decimal.Decimal, highest bool) (decimal.Decimal, bool) {
	var best decimal.Decimal
	found := false
	for _, p := range prices {
		if !found {
			best = p
			found = true
			continue
		}
		if highest && p.GreaterThan(best) {
			best = p
		}
		if !highest && p.LessThan(best) {
			best = p
		}
	}
	return best, found
}

// Sequence returns the book's current sequence number.
func (b *Book) Sequence() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.sequence
}

// BestBid returns the highest bid price and its quantity, or false if the
// bid side is empty.
func (b *Book) BestBid() (price, quantity decimal.Decimal, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, found := bestPrice(b.bidPrices, true)
	if !found {
		return decimal.Zero, decimal.Zero, false
	}
	return p, b.bids[p.String()], true
}

// BestAsk returns the lowest ask price and its quantity, or false if the ask
// side is empty.
func (b *Book) BestAsk() (price, quantity decimal.Decimal, ok bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, found := bestPrice(b.askPrices, false)
	if !found {
		return decimal.Zero, decimal.Zero, false
	}
	return p, b.asks[p.String()], true
}

// Mid returns (best_bid + best_ask) / 2, or false if either side is empty.
func (b *Book) Mid() (decimal.Decimal, bool) {
	bidPrice, _, ok := b.BestBid()
	if !ok {
		return decimal.Zero, false
	}
	askPrice, _, ok := b.BestAsk()
	if !ok {
		return decimal.Zero, false
	}
	sum := bidPrice.Add(askPrice)
	mid, err := sum.DivChecked(decimal.NewFromInt(2), decimal.Scale)
	if err != nil {
		return decimal.Zero, false
	}
	return mid, true
}

// Spread returns best_ask - best_bid, or false if either side is empty.
func (b *Book) Spread() (decimal.Decimal, bool) {
	bidPrice, _, ok := b.BestBid()
	if !ok {
		return decimal.Zero, false
	}
	askPrice, _, ok := b.BestAsk()
	if !ok {
		return decimal.Zero, false
	}
	return askPrice.Sub(bidPrice), true
}

// Depth returns up to levels price/quantity pairs on each side, best price
// first, sorted by price (bids descending, asks ascending).
func (b *Book) Depth(levels int) (bids, asks []Level) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	bids = sortedLevels(b.bidPrices, b.bids, levels, true)
	asks = sortedLevels(b.askPrices, b.asks, levels, false)
	return bids, asks
}

func sortedLevels(prices, qty map[string]decimal.Decimal, levels int, descending bool) []Level {
	out := make([]Level, 0, len(prices))
	for key, p := range prices {
		out = append(out, Level{Price: p, Quantity: qty[key]})
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price.GreaterThan(out[j].Price)
		}
		return out[i].Price.LessThan(out[j].Price)
	})
	if levels > 0 && len(out) > levels {
		out = out[:levels]
	}
	return out
}

// IsCrossed reports whether the current book has best_bid >= best_ask.
// Under normal operation this is always false; ApplyDelta refuses to
// produce a crossed book, but a snapshot is trusted as-is, so this is
// exposed for adapters to sanity-check what they receive.
func (b *Book) IsCrossed() bool {
	bidPrice, _, bidOK := b.BestBid()
	askPrice, _, askOK := b.BestAsk()
	if !bidOK || !askOK {
		return false
	}
	return bidPrice.GreaterThanOrEqual(askPrice)
}
