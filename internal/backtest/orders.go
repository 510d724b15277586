package backtest

import (
	"hyperquant/internal/l3book"
	"hyperquant/internal/quanttypes"
)

// orderState is the backtest-local lifecycle a simulated order moves
// through on top of quanttypes.OrderStatus (spec.md §4.10): submitted (the
// strategy called Submit), at_exchange (entry latency elapsed, resting in
// the L3 queue), processed (a trade matched it against the fill-probability
// model), acknowledged (processing+response latency elapsed, the fill is
// now visible to the ledger and the strategy).
type orderState string

const (
	stateSubmitted   orderState = "submitted"
	stateAtExchange  orderState = "at_exchange"
	stateProcessed   orderState = "processed"
	stateAcknowledged orderState = "acknowledged"
	stateCancelled   orderState = "cancelled"
)

// pendingOrder tracks one simulated order's queue position alongside its
// canonical quanttypes.Order view, which GetStatus hands back to callers.
type pendingOrder struct {
	order quanttypes.Order
	state orderState
	isBid bool
	qo    *l3book.QueueOrder
}

func fillModelFromString(s string) l3book.Model {
	switch s {
	case "risk_averse":
		return l3book.RiskAverse
	case "power_law":
		return l3book.PowerLaw
	case "logarithmic":
		return l3book.Logarithmic
	default:
		return l3book.Probability
	}
}
