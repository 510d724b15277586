// Package quanttypes is the common vocabulary shared across every other
// package: symbols, orders, positions, accounts, and the tagged event
// variant carried on the bus. It depends on nothing but internal/decimal and
// internal/clock, so any layer can import it.
package quanttypes

import (
	"fmt"
	"strings"

	"hyperquant/internal/clock"
	"hyperquant/internal/decimal"
)

// Symbol is a normalized base/quote trading pair, e.g. base=BTC, quote=USDC.
// Venue-specific symbols are mapped to Symbol by the adapter that owns them.
type Symbol struct {
	Base  string
	Quote string
}

// NewSymbol normalizes base and quote to uppercase.
func NewSymbol(base, quote string) Symbol {
	return Symbol{Base: strings.ToUpper(base), Quote: strings.ToUpper(quote)}
}

// String renders as "BASE-QUOTE", the canonical form used in topic names and
// cache keys.
func (s Symbol) String() string {
	return s.Base + "-" + s.Quote
}

// ParseSymbol parses the canonical "BASE-QUOTE" form produced by String,
// the shape config.TradingConfig.Symbols entries and CLI-supplied symbols
// take.
func ParseSymbol(s string) (Symbol, error) {
	parts := strings.SplitN(s, "-", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Symbol{}, fmt.Errorf("quanttypes: invalid symbol %q, want BASE-QUOTE", s)
	}
	return NewSymbol(parts[0], parts[1]), nil
}

// Side is the direction of an order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType enumerates the supported order kinds.
type OrderType string

const (
	OrderTypeLimit      OrderType = "limit"
	OrderTypeMarket     OrderType = "market"
	OrderTypeStop       OrderType = "stop"
	OrderTypeTakeProfit OrderType = "take-profit"
)

// TimeInForce enumerates order duration semantics.
type TimeInForce string

const (
	TimeInForceGTC      TimeInForce = "GTC"
	TimeInForceIOC      TimeInForce = "IOC"
	TimeInForceFOK      TimeInForce = "FOK"
	TimeInForcePostOnly TimeInForce = "post-only"
)

// OrderStatus is the order lifecycle state. Terminal states admit no further
// transitions: OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected,
// OrderStatusExpired.
type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "pending"
	OrderStatusSubmitted       OrderStatus = "submitted"
	OrderStatusAccepted        OrderStatus = "accepted"
	OrderStatusPartiallyFilled OrderStatus = "partially-filled"
	OrderStatusFilled          OrderStatus = "filled"
	OrderStatusCancelled       OrderStatus = "cancelled"
	OrderStatusRejected        OrderStatus = "rejected"
	OrderStatusExpired         OrderStatus = "expired"
)

// IsTerminal reports whether s admits no further transitions.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// Order is the full lifecycle record for a single order, owned exclusively
// by the ledger. Every other component reads it through a snapshot handed
// out by Cache — nothing holds a pointer back into the ledger's live map.
type Order struct {
	ClientID   string // unique, caller-supplied
	ExchangeID string // populated once the venue accepts the order

	Symbol      Symbol
	Side        Side
	Type        OrderType
	Quantity    decimal.Decimal
	Price       decimal.Decimal // zero/unset for market orders
	TimeInForce TimeInForce
	ReduceOnly  bool

	Status            OrderStatus
	FilledQuantity    decimal.Decimal
	AverageFillPrice  decimal.Decimal
	CumulativeFee     decimal.Decimal

	CreatedAt clock.Timestamp
	UpdatedAt clock.Timestamp
}

// Remaining returns the unfilled quantity.
func (o Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// Position is the per-symbol net holding. Size is signed: positive is long,
// negative is short. When Size returns to zero, EntryPrice and
// UnrealizedPnL reset to zero but the record persists so RealizedPnL keeps
// accumulating across round trips.
type Position struct {
	Symbol         Symbol
	Size           decimal.Decimal
	EntryPrice     decimal.Decimal
	RealizedPnL    decimal.Decimal
	UnrealizedPnL  decimal.Decimal
	MarkPrice      decimal.Decimal
}

// IsLong reports whether the position is net long.
func (p Position) IsLong() bool { return p.Size.Sign() > 0 }

// IsShort reports whether the position is net short.
func (p Position) IsShort() bool { return p.Size.Sign() < 0 }

// IsFlat reports whether the position is exactly zero.
func (p Position) IsFlat() bool { return p.Size.IsZero() }

// Account is the single account-level balance and risk snapshot.
type Account struct {
	Equity            decimal.Decimal
	Balance           decimal.Decimal
	AvailableBalance  decimal.Decimal
	MarginUsed        decimal.Decimal
	TotalRealizedPnL  decimal.Decimal
	TotalUnrealizedPnL decimal.Decimal

	// DayStartEquity is the equity snapshot taken at the start of the
	// current trading day, used by the risk engine's daily-loss cap.
	DayStartEquity decimal.Decimal
	DayStartedAt   clock.Timestamp
}

// EventKind tags the payload carried by an Event.
type EventKind string

const (
	EventMarketData       EventKind = "market_data"
	EventOrderBookSnapshot EventKind = "orderbook_snapshot"
	EventOrderBookDelta   EventKind = "orderbook_delta"
	EventTrade            EventKind = "trade"
	EventCandle           EventKind = "candle"
	EventOrderPending     EventKind = "order_pending"
	EventOrderSubmitted   EventKind = "order_submitted"
	EventOrderAccepted    EventKind = "order_accepted"
	EventOrderPartial     EventKind = "order_partial"
	EventOrderFilled      EventKind = "order_filled"
	EventOrderCancelled   EventKind = "order_cancelled"
	EventOrderRejected    EventKind = "order_rejected"
	EventPositionUpdated  EventKind = "position_updated"
	EventAccountUpdated   EventKind = "account_updated"
	EventTick             EventKind = "tick"
	EventSystemConnected  EventKind = "system_connected"
	EventSystemDisconnected EventKind = "system_disconnected"
	EventKillSwitchActivated EventKind = "system_kill_switch_activated"
	EventShutdown         EventKind = "shutdown"
)

// Event is the tagged variant published on the bus. Payload holds one of the
// typed structs below (Quote, *book.Snapshot-shaped data, Trade, Candle,
// Order, Position, Account, or nil for bare signals like shutdown);
// consumers type-assert based on Kind.
type Event struct {
	Kind      EventKind
	Source    clock.Timestamp // when the underlying fact occurred, not when published
	Symbol    Symbol          // zero value if not symbol-scoped
	Payload   any
}

// Quote is a best-bid/best-ask snapshot, the payload for EventMarketData.
type Quote struct {
	Symbol    Symbol
	BidPrice  decimal.Decimal
	BidSize   decimal.Decimal
	AskPrice  decimal.Decimal
	AskSize   decimal.Decimal
	Timestamp clock.Timestamp
}

// Trade is a single executed trade print, the payload for EventTrade.
type Trade struct {
	Symbol    Symbol
	Price     decimal.Decimal
	Quantity  decimal.Decimal
	Side      Side
	Timestamp clock.Timestamp
}

// Candle is one OHLCV bar, the payload for EventCandle.
type Candle struct {
	Symbol    Symbol
	Interval  clock.KlineInterval
	OpenTime  clock.Timestamp
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    decimal.Decimal
}

// Fill is a single execution against an order, used to update Order,
// Position, and Account together.
type Fill struct {
	OrderClientID string
	Symbol        Symbol
	Side          Side
	Price         decimal.Decimal
	Quantity      decimal.Decimal
	Fee           decimal.Decimal
	Timestamp     clock.Timestamp
}
