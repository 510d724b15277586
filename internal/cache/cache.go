// Package cache is the last-known-value store derived entirely from bus
// traffic. The one setter called from outside is RegisterBook, through which
// a venue data adapter hands over the live L2 book it owns; every other value
// changes only by the cache's own subscriptions observing a published
// event. That keeps every reader consistent with what the rest of
// the system has already seen on the bus.
package cache

import (
	"container/ring"
	"log/slog"
	"sync"

	"hyperquant/internal/book"
	"hyperquant/internal/bus"
	"hyperquant/internal/quanttypes"
)

// DefaultRingCapacity is the default size of the recent-events ring buffer
// kept for debugging.
const DefaultRingCapacity = 1024

// Cache is the read model every component queries instead of reaching into
// another component's live state.
type Cache struct {
	log *slog.Logger

	mu           sync.RWMutex
	quotes       map[quanttypes.Symbol]quanttypes.Quote
	books        map[quanttypes.Symbol]*book.Book
	positions    map[quanttypes.Symbol]quanttypes.Position
	account      quanttypes.Account
	hasAccount   bool
	activeOrders map[string]quanttypes.Order // client_id -> order

	ringMu sync.Mutex
	ring   *ring.Ring
}

// New constructs an empty Cache with the given ring buffer capacity for
// recent events (0 uses DefaultRingCapacity) and wires its subscriptions
// onto b.
func New(log *slog.Logger, b *bus.Bus, ringCapacity int) *Cache {
	if log == nil {
		log = slog.Default()
	}
	if ringCapacity <= 0 {
		ringCapacity = DefaultRingCapacity
	}
	c := &Cache{
		log:          log.With("component", "cache"),
		quotes:       make(map[quanttypes.Symbol]quanttypes.Quote),
		books:        make(map[quanttypes.Symbol]*book.Book),
		positions:    make(map[quanttypes.Symbol]quanttypes.Position),
		activeOrders: make(map[string]quanttypes.Order),
		ring:         ring.New(ringCapacity),
	}
	c.subscribe(b)
	return c
}

func (c *Cache) subscribe(b *bus.Bus) {
	b.Subscribe("market_data.*", func(e quanttypes.Event) error {
		c.recordRing(e)
		quote, ok := e.Payload.(quanttypes.Quote)
		if !ok {
			return nil
		}
		c.mu.Lock()
		c.quotes[e.Symbol] = quote
		c.mu.Unlock()
		return nil
	})

	b.Subscribe("orderbook.*", func(e quanttypes.Event) error {
		c.recordRing(e)
		return nil
	})

	b.Subscribe("position_updated", func(e quanttypes.Event) error {
		c.recordRing(e)
		pos, ok := e.Payload.(quanttypes.Position)
		if !ok {
			return nil
		}
		c.mu.Lock()
		c.positions[pos.Symbol] = pos
		c.mu.Unlock()
		return nil
	})

	b.Subscribe("account_updated", func(e quanttypes.Event) error {
		c.recordRing(e)
		acct, ok := e.Payload.(quanttypes.Account)
		if !ok {
			return nil
		}
		c.mu.Lock()
		c.account = acct
		c.hasAccount = true
		c.mu.Unlock()
		return nil
	})

	orderTopics := []string{
		"order_pending", "order_submitted", "order_accepted", "order_partial",
		"order_filled", "order_cancelled", "order_rejected",
	}
	for _, topic := range orderTopics {
		b.Subscribe(topic, c.onOrderEvent)
	}
}

func (c *Cache) onOrderEvent(e quanttypes.Event) error {
	c.recordRing(e)
	order, ok := e.Payload.(quanttypes.Order)
	if !ok {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if order.Status.IsTerminal() {
		delete(c.activeOrders, order.ClientID)
		return nil
	}
	c.activeOrders[order.ClientID] = order
	return nil
}

func (c *Cache) recordRing(e quanttypes.Event) {
	c.ringMu.Lock()
	defer c.ringMu.Unlock()
	c.ring.Value = e
	c.ring = c.ring.Next()
}

// Quote returns the latest Quote seen for symbol, or false if none has
// arrived yet.
func (c *Cache) Quote(symbol quanttypes.Symbol) (quanttypes.Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[symbol]
	return q, ok
}

// RegisterBook installs the live *book.Book a given symbol's venue adapter
// maintains, so callers can read it through the cache. The book itself is
// still owned and mutated by the adapter; the cache only hands out the
// reference.
func (c *Cache) RegisterBook(symbol quanttypes.Symbol, b *book.Book) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.books[symbol] = b
}

// Book returns the order book registered for symbol, or false if none has
// been registered.
func (c *Cache) Book(symbol quanttypes.Symbol) (*book.Book, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	b, ok := c.books[symbol]
	return b, ok
}

// Position returns the latest Position for symbol, or false if none has
// ever been reported.
func (c *Cache) Position(symbol quanttypes.Symbol) (quanttypes.Position, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.positions[symbol]
	return p, ok
}

// Account returns the latest Account snapshot, or false if none has arrived.
func (c *Cache) Account() (quanttypes.Account, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.account, c.hasAccount
}

// ActiveOrder returns the active order for clientID, or false if it is not
// currently active (either never seen or already terminal).
func (c *Cache) ActiveOrder(clientID string) (quanttypes.Order, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o, ok := c.activeOrders[clientID]
	return o, ok
}

// ActiveOrders returns a snapshot slice of every currently active order.
func (c *Cache) ActiveOrders() []quanttypes.Order {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]quanttypes.Order, 0, len(c.activeOrders))
	for _, o := range c.activeOrders {
		out = append(out, o)
	}
	return out
}

// RecentEvents returns up to n of the most recently observed events, oldest
// first. Intended for debugging and diagnostics only.
func (c *Cache) RecentEvents(n int) []quanttypes.Event {
	c.ringMu.Lock()
	defer c.ringMu.Unlock()
	if n <= 0 || n > c.ring.Len() {
		n = c.ring.Len()
	}
	out := make([]quanttypes.Event, 0, n)
	cursor := c.ring
	for i := 0; i < c.ring.Len()-n; i++ {
		cursor = cursor.Next()
	}
	for i := 0; i < n; i++ {
		if ev, ok := cursor.Value.(quanttypes.Event); ok {
			out = append(out, ev)
		}
		cursor = cursor.Next()
	}
	return out
}
