// Package ledger is the sole owner of Order, Position, and Account state
// (spec.md §4.6, §9 "cyclic references" design note: no back-pointers
// between the three, everything keyed by client_id/symbol, reads handed out
// through Cache). It enforces the order state machine, applies the
// weighted-average position update and realized/unrealized PnL formulas on
// every fill, and rolls the daily-loss snapshot at a configurable UTC hour.
package ledger

import (
	"fmt"
	"log/slog"
	"sync"

	"hyperquant/internal/bus"
	"hyperquant/internal/clock"
	"hyperquant/internal/decimal"
	"hyperquant/internal/errs"
	"hyperquant/internal/quanttypes"
)

// transitions is the allowed state machine of spec.md §4.6. Terminal states
// map to an empty slice.
var transitions = map[quanttypes.OrderStatus][]quanttypes.OrderStatus{
	quanttypes.OrderStatusPending: {
		quanttypes.OrderStatusSubmitted, quanttypes.OrderStatusRejected,
	},
	quanttypes.OrderStatusSubmitted: {
		quanttypes.OrderStatusAccepted, quanttypes.OrderStatusRejected, quanttypes.OrderStatusCancelled,
	},
	quanttypes.OrderStatusAccepted: {
		quanttypes.OrderStatusPartiallyFilled, quanttypes.OrderStatusFilled,
		quanttypes.OrderStatusCancelled, quanttypes.OrderStatusExpired,
	},
	quanttypes.OrderStatusPartiallyFilled: {
		quanttypes.OrderStatusPartiallyFilled, quanttypes.OrderStatusFilled,
		quanttypes.OrderStatusCancelled, quanttypes.OrderStatusExpired,
	},
}

// ErrInvalidTransition is returned when a requested order status change is
// not in the allowed transition table.
type ErrInvalidTransition struct {
	From, To quanttypes.OrderStatus
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("ledger: invalid order transition %s -> %s", e.From, e.To)
}

func canTransition(from, to quanttypes.OrderStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// MarkSource selects the reference price for unrealized PnL (Open
// Question 3 of spec.md §9): last trade, mid, or an explicit mark feed.
type MarkSource string

const (
	MarkLastTrade MarkSource = "last_trade"
	MarkMid       MarkSource = "mid"
	MarkFeed      MarkSource = "mark_feed"
)

// Ledger is the order/position/account engine. The zero value is not
// usable; construct with New.
type Ledger struct {
	log *slog.Logger
	bus *bus.Bus

	mu        sync.Mutex
	orders    map[string]quanttypes.Order // client_id -> order, active only
	positions map[quanttypes.Symbol]quanttypes.Position
	account   quanttypes.Account

	dailyResetHour int // UTC hour, default 0
	lastResetDay   int64
}

// New constructs a Ledger seeded with the given starting account balance
// and subscribes it to the order/fill topics it owns.
func New(b *bus.Bus, log *slog.Logger, startingBalance decimal.Decimal, dailyResetHour int) *Ledger {
	if log == nil {
		log = slog.Default()
	}
	l := &Ledger{
		log:             log.With("component", "ledger"),
		bus:             b,
		orders:          make(map[string]quanttypes.Order),
		positions:       make(map[quanttypes.Symbol]quanttypes.Position),
		dailyResetHour:  dailyResetHour,
		account: quanttypes.Account{
			Equity: startingBalance, Balance: startingBalance, AvailableBalance: startingBalance,
			DayStartEquity: startingBalance, DayStartedAt: clock.Now(),
		},
	}
	l.subscribe(b)
	return l
}

func (l *Ledger) subscribe(b *bus.Bus) {
	b.Subscribe("order_accepted", l.onVenueOrderEvent)
	b.Subscribe("order_rejected", l.onVenueOrderEvent)
	b.Subscribe("order_cancelled", l.onVenueOrderEvent)
	b.Subscribe("fill.*", l.onFill)
}

// CreateOrder registers a new order in the pending state and publishes
// order_pending. Called by the strategy runtime before the risk check.
func (l *Ledger) CreateOrder(order quanttypes.Order) quanttypes.Order {
	now := clock.Now()
	order.Status = quanttypes.OrderStatusPending
	order.CreatedAt = now
	order.UpdatedAt = now

	l.mu.Lock()
	l.orders[order.ClientID] = order
	l.mu.Unlock()

	l.bus.Publish("order_pending", quanttypes.Event{
		Kind: quanttypes.EventOrderPending, Source: now, Symbol: order.Symbol, Payload: order,
	})
	return order
}

// MarkSubmitted transitions clientID's order from pending to submitted,
// right before it's handed to the execution adapter.
func (l *Ledger) MarkSubmitted(clientID string) (quanttypes.Order, error) {
	return l.transition(clientID, quanttypes.OrderStatusSubmitted, quanttypes.EventOrderSubmitted, "order_submitted")
}

// MarkRejected transitions clientID's order (from pending or submitted) to
// rejected, e.g. when the risk engine blocks it pre-submission.
func (l *Ledger) MarkRejected(clientID, reason string) (quanttypes.Order, error) {
	return l.transition(clientID, quanttypes.OrderStatusRejected, quanttypes.EventOrderRejected, "order_rejected")
}

func (l *Ledger) transition(clientID string, to quanttypes.OrderStatus, kind quanttypes.EventKind, topic string) (quanttypes.Order, error) {
	l.mu.Lock()
	order, ok := l.orders[clientID]
	if !ok {
		l.mu.Unlock()
		return quanttypes.Order{}, fmt.Errorf("%w: unknown order %s", errs.StateInvariant, clientID)
	}
	if !canTransition(order.Status, to) {
		l.mu.Unlock()
		return quanttypes.Order{}, fmt.Errorf("%w: %w", errs.StateInvariant, &ErrInvalidTransition{From: order.Status, To: to})
	}
	order.Status = to
	order.UpdatedAt = clock.Now()
	if to.IsTerminal() {
		delete(l.orders, clientID)
	} else {
		l.orders[clientID] = order
	}
	l.mu.Unlock()

	l.bus.Publish(topic, quanttypes.Event{Kind: kind, Source: order.UpdatedAt, Symbol: order.Symbol, Payload: order})
	return order, nil
}

// onVenueOrderEvent reconciles the canonical order record with a lifecycle
// event published by an execution adapter, enforcing the same transition
// table rather than blindly trusting the adapter's view.
func (l *Ledger) onVenueOrderEvent(e quanttypes.Event) error {
	incoming, ok := e.Payload.(quanttypes.Order)
	if !ok {
		return nil
	}
	l.mu.Lock()
	current, ok := l.orders[incoming.ClientID]
	if !ok {
		l.mu.Unlock()
		return nil
	}
	if !canTransition(current.Status, incoming.Status) {
		l.mu.Unlock()
		return &ErrInvalidTransition{From: current.Status, To: incoming.Status}
	}
	merged := current
	merged.ExchangeID = incoming.ExchangeID
	merged.Status = incoming.Status
	merged.UpdatedAt = clock.Now()
	if merged.Status.IsTerminal() {
		delete(l.orders, incoming.ClientID)
	} else {
		l.orders[incoming.ClientID] = merged
	}
	l.mu.Unlock()
	return nil
}

// onFill applies a single execution against an order: updates
// filled_quantity/average_fill_price/status (spec.md §4.6 partial-fill
// semantics), then feeds the fill into the position/account update.
func (l *Ledger) onFill(e quanttypes.Event) error {
	fill, ok := e.Payload.(quanttypes.Fill)
	if !ok {
		return nil
	}
	l.ApplyFill(fill)
	return nil
}

// ApplyFill is the exported entry point backtest and live paths both use to
// drive the ledger from a Fill (spec.md §4.6/§4.10 share this code path).
func (l *Ledger) ApplyFill(fill quanttypes.Fill) {
	l.mu.Lock()
	defer l.mu.Unlock()

	order, hasOrder := l.orders[fill.OrderClientID]
	if hasOrder {
		order = applyFillToOrder(order, fill)
		if order.Status.IsTerminal() {
			delete(l.orders, fill.OrderClientID)
		} else {
			l.orders[fill.OrderClientID] = order
		}
	}

	pos := l.positions[fill.Symbol]
	pos.Symbol = fill.Symbol
	newPos, realizedDelta := applyFillToPosition(pos, fill)
	l.positions[fill.Symbol] = newPos

	l.account.TotalRealizedPnL = l.account.TotalRealizedPnL.Add(realizedDelta)
	l.account.Balance = l.account.Balance.Add(realizedDelta).Sub(fill.Fee)
	l.account.TotalUnrealizedPnL = l.sumUnrealizedLocked()
	l.account.Equity = l.account.Balance.Add(l.account.TotalUnrealizedPnL)

	now := clock.Now()
	if hasOrder {
		topic, kind := orderEventTopic(order.Status)
		l.bus.Publish(topic, quanttypes.Event{Kind: kind, Source: now, Symbol: order.Symbol, Payload: order})
	}
	l.bus.Publish("position_updated", quanttypes.Event{
		Kind: quanttypes.EventPositionUpdated, Source: now, Symbol: fill.Symbol, Payload: newPos,
	})
	l.bus.Publish("account_updated", quanttypes.Event{
		Kind: quanttypes.EventAccountUpdated, Source: now, Payload: l.account,
	})
}

func orderEventTopic(status quanttypes.OrderStatus) (string, quanttypes.EventKind) {
	if status == quanttypes.OrderStatusFilled {
		return "order_filled", quanttypes.EventOrderFilled
	}
	return "order_partial", quanttypes.EventOrderPartial
}

// applyFillToOrder updates filled_quantity as a quantity-weighted running
// average fill price, per spec.md §4.6.
func applyFillToOrder(order quanttypes.Order, fill quanttypes.Fill) quanttypes.Order {
	priorFilled := order.FilledQuantity
	priorNotional := order.AverageFillPrice.Mul(priorFilled)
	newFilled := priorFilled.Add(fill.Quantity)
	newNotional := priorNotional.Add(fill.Price.Mul(fill.Quantity))

	order.FilledQuantity = newFilled
	if !newFilled.IsZero() {
		avg, err := newNotional.DivChecked(newFilled, decimal.Scale)
		if err == nil {
			order.AverageFillPrice = avg
		}
	}
	order.CumulativeFee = order.CumulativeFee.Add(fill.Fee)
	order.UpdatedAt = fill.Timestamp

	if order.FilledQuantity.GreaterThanOrEqual(order.Quantity) {
		order.Status = quanttypes.OrderStatusFilled
	} else {
		order.Status = quanttypes.OrderStatusPartiallyFilled
	}
	return order
}

// applyFillToPosition implements the weighted-average entry / reversal math
// of spec.md §4.6 and the literal worked examples of spec.md §8 scenarios
// 1-2. delta is the signed fill quantity: +fill_qty for buy, -fill_qty for
// sell.
func applyFillToPosition(pos quanttypes.Position, fill quanttypes.Fill) (quanttypes.Position, decimal.Decimal) {
	delta := fill.Quantity
	if fill.Side == quanttypes.SideSell {
		delta = delta.Neg()
	}

	sameSign := pos.Size.IsZero() || (pos.Size.Sign() == delta.Sign())

	if sameSign {
		// Increase: new entry is the quantity-weighted average of the
		// existing position and the new fill.
		absSize := pos.Size.Abs()
		absDelta := delta.Abs()
		newSize := pos.Size.Add(delta)

		notional := absSize.Mul(pos.EntryPrice).Add(absDelta.Mul(fill.Price))
		denom := absSize.Add(absDelta)
		entry := fill.Price
		if !denom.IsZero() {
			if avg, err := notional.DivChecked(denom, decimal.Scale); err == nil {
				entry = avg
			}
		}

		pos.Size = newSize
		pos.EntryPrice = entry
		return pos, decimal.Zero
	}

	// Reduce, possibly reversing.
	absSize := pos.Size.Abs()
	absDelta := delta.Abs()
	closed := absSize
	if absDelta.LessThan(absSize) {
		closed = absDelta
	}

	// realized = sign(size) * closed * (fill_price - entry)
	sign := decimal.NewFromInt(int64(pos.Size.Sign()))
	realizedDelta := sign.Mul(closed).Mul(fill.Price.Sub(pos.EntryPrice))

	newSize := pos.Size.Add(delta)
	pos.RealizedPnL = pos.RealizedPnL.Add(realizedDelta)

	switch {
	case absDelta.LessThanOrEqual(absSize):
		// Partial or exact close: entry unchanged, reset to zero if flat.
		pos.Size = newSize
		if pos.Size.IsZero() {
			pos.EntryPrice = decimal.Zero
			pos.UnrealizedPnL = decimal.Zero
		}
	default:
		// Reversal: the excess opens a fresh position at the fill price.
		pos.Size = newSize
		pos.EntryPrice = fill.Price
	}

	return pos, realizedDelta
}

// UpdateMarkPrice recomputes unrealized PnL for symbol from (size, entry,
// mark) and rolls it into account equity (spec.md §4.6).
func (l *Ledger) UpdateMarkPrice(symbol quanttypes.Symbol, mark decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	pos, ok := l.positions[symbol]
	if !ok {
		return
	}
	pos.MarkPrice = mark
	pos.UnrealizedPnL = unrealizedPnL(pos)
	l.positions[symbol] = pos

	l.account.TotalUnrealizedPnL = l.sumUnrealizedLocked()
	l.account.Equity = l.account.Balance.Add(l.account.TotalUnrealizedPnL)

	now := clock.Now()
	l.bus.Publish("position_updated", quanttypes.Event{
		Kind: quanttypes.EventPositionUpdated, Source: now, Symbol: symbol, Payload: pos,
	})
	l.bus.Publish("account_updated", quanttypes.Event{
		Kind: quanttypes.EventAccountUpdated, Source: now, Payload: l.account,
	})
}

// unrealizedPnL is size * (mark - entry), negated for shorts — since size is
// already signed, the plain product already carries the correct sign.
func unrealizedPnL(pos quanttypes.Position) decimal.Decimal {
	if pos.Size.IsZero() {
		return decimal.Zero
	}
	return pos.Size.Mul(pos.MarkPrice.Sub(pos.EntryPrice))
}

func (l *Ledger) sumUnrealizedLocked() decimal.Decimal {
	total := decimal.Zero
	for _, p := range l.positions {
		total = total.Add(p.UnrealizedPnL)
	}
	return total
}

// MaybeDailyReset snapshots daily_start_equity once per UTC day at
// dailyResetHour (default 00:00), used by the risk engine's daily-loss
// check. Call periodically; the live session calls it once a minute.
func (l *Ledger) MaybeDailyReset(now clock.Timestamp) {
	l.mu.Lock()
	defer l.mu.Unlock()

	t := now.Time()
	if t.Hour() != l.dailyResetHour {
		return
	}
	day := t.Unix() / int64(clock.Day.AsTimeDuration().Seconds())
	if day == l.lastResetDay {
		return
	}
	l.lastResetDay = day
	l.account.DayStartEquity = l.account.Equity
	l.account.DayStartedAt = now
}

// RestorePosition seeds the ledger's in-memory position for symbol from a
// previously persisted snapshot (internal/store), before any bus traffic
// has arrived. Call once at startup, before Run; it does not publish
// position_updated, since nothing downstream has subscribed yet at that
// point in the wiring sequence.
func (l *Ledger) RestorePosition(pos quanttypes.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.positions[pos.Symbol] = pos
	l.account.TotalUnrealizedPnL = l.sumUnrealizedLocked()
	l.account.Equity = l.account.Balance.Add(l.account.TotalUnrealizedPnL)
}

// Account returns a snapshot of the current account state.
func (l *Ledger) Account() quanttypes.Account {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.account
}

// Position returns a snapshot of symbol's current position.
func (l *Ledger) Position(symbol quanttypes.Symbol) quanttypes.Position {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.positions[symbol]
}

// Order returns a snapshot of clientID's order, if still active.
func (l *Ledger) Order(clientID string) (quanttypes.Order, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	o, ok := l.orders[clientID]
	return o, ok
}
