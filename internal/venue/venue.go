// Package venue defines the capability-set contracts every venue adapter
// implements (spec.md §4.4/§4.5). Adding a new venue means writing a new
// implementation of DataAdapter and ExecutionAdapter — a new vtable, not a
// new type hierarchy (spec.md §9 "dynamic dispatch" design note) — and
// registering it by name where the engine wires adapters to symbols.
package venue

import (
	"context"

	"hyperquant/internal/quanttypes"
)

// ConnState is the connection lifecycle state machine of spec.md §4.4:
// disconnected -> connecting -> connected -> (disconnecting|reconnecting) -> disconnected.
type ConnState string

const (
	StateDisconnected ConnState = "disconnected"
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateReconnecting ConnState = "reconnecting"
	StateDisconnecting ConnState = "disconnecting"
)

// DataAdapter maintains a persistent streaming connection to a venue and
// publishes normalized market_data/orderbook/trade events onto the bus. It
// never blocks its own receive loop on handler work — handlers subscribed
// downstream enqueue their own work if they need to do anything slow.
type DataAdapter interface {
	// Run connects and maintains the connection, including reconnect with
	// backoff, until ctx is cancelled. It blocks.
	Run(ctx context.Context) error
	// Subscribe adds symbols to the set streamed for the given channels
	// (e.g. "allMids", "l2Book", "trades"). Replayed automatically on
	// reconnect.
	Subscribe(ctx context.Context, symbols []quanttypes.Symbol) error
	Unsubscribe(ctx context.Context, symbols []quanttypes.Symbol) error
	State() ConnState
	Close() error
}

// SubmitResult is the venue's synchronous reply to a submit call.
type SubmitResult struct {
	Accepted   bool
	ExchangeID string
	Reason     string
}

// ExecutionAdapter submits, cancels, and queries orders at the venue, and
// emits order lifecycle / fill events onto the bus as they're observed on
// the venue's user stream (spec.md §4.5).
type ExecutionAdapter interface {
	Submit(ctx context.Context, order quanttypes.Order) (SubmitResult, error)
	Cancel(ctx context.Context, clientID string) (bool, error)
	CancelAll(ctx context.Context) (int, error)
	GetStatus(ctx context.Context, clientID string) (quanttypes.Order, bool)
	GetPosition(ctx context.Context, symbol quanttypes.Symbol) (quanttypes.Position, error)
	GetAccount(ctx context.Context) (quanttypes.Account, error)
}
