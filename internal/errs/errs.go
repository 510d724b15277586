// Package errs defines the error taxonomy shared across the system. Each
// kind is a sentinel comparable with errors.Is; call sites wrap it with
// fmt.Errorf("...: %w", errs.VenueTransport) to attach context while keeping
// the kind inspectable by callers further up the stack.
package errs

import "errors"

// Kind is one of the seven error categories the system distinguishes for
// the purpose of deciding recovery behavior (retry, alert, fatal exit).
type Kind error

var (
	// ConfigInvalid: missing or out-of-range parameter at startup. Fatal —
	// the process exits rather than running with an invalid configuration.
	ConfigInvalid Kind = errors.New("config_invalid")

	// VenueTransport: WebSocket close, HTTP timeout, TLS error. Recovered
	// locally by reconnect with backoff.
	VenueTransport Kind = errors.New("venue_transport")

	// VenueProtocol: unknown frame or parse failure from a venue feed.
	// Counted, logged, and the offending frame is skipped.
	VenueProtocol Kind = errors.New("venue_protocol")

	// VenueSemantic: rejection from the venue itself — insufficient
	// balance, rate limited, invalid order. Surfaced to the emitting
	// strategy and cached on the Order record.
	VenueSemantic Kind = errors.New("venue_semantic")

	// RiskReject: a pre-trade check blocked an order. Surfaced to the
	// strategy via on_order_event(rejected, reason) and counted in metrics.
	RiskReject Kind = errors.New("risk_reject")

	// StateInvariant: an internal invariant was violated — a sequence gap
	// in the order book, an impossible order transition. Triggers a
	// localized reset (resubscribe / requery) and an alert.
	StateInvariant Kind = errors.New("state_invariant")

	// KillSwitchTripped: all further submissions refuse and all open
	// orders are cancelled; only an operator reset clears this state.
	KillSwitchTripped Kind = errors.New("kill_switch_tripped")
)

// ErrEndpointNotFound could fit here too, but request-reply routing is local
// to the bus package — see bus.ErrEndpointNotFound.
