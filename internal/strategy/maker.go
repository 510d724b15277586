// maker.go implements the reference perpetuals market-making strategy: the
// Avellaneda-Stoikov model adapted from a binary-outcome [0,1] price space
// to signed single-asset perpetual positions. It is the Strategy this
// system ships out of the box, wired through the runtime like any other.
//
// Per-tick flow (every runtime tick):
//  1. Check quote staleness and inventory.
//  2. Compute reservation price:  r = mid - q * gamma * sigma^2 * T
//  3. Compute optimal spread:     delta = gamma*sigma^2*T + (2/gamma)*ln(1+gamma/k)
//  4. Derive bid = r - delta/2, ask = r + delta/2.
//  5. Reconcile: cancel stale quotes, place new ones.
package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"hyperquant/internal/cache"
	"hyperquant/internal/clock"
	"hyperquant/internal/decimal"
	"hyperquant/internal/quanttypes"
)

// MakerParams are the Avellaneda-Stoikov tunables, hot-reloadable via
// ParamValidator.
type MakerParams struct {
	Gamma            float64
	Sigma            float64
	K                float64
	T                float64
	DefaultSpreadBps int
	OrderQuantity    decimal.Decimal
	// InventoryNormalizer caps the position size treated as "fully skewed"
	// (q = ±1) when computing the reservation-price adjustment.
	InventoryNormalizer decimal.Decimal
}

func (p MakerParams) validate() error {
	if p.Gamma <= 0 {
		return fmt.Errorf("gamma must be > 0")
	}
	if p.Sigma <= 0 {
		return fmt.Errorf("sigma must be > 0")
	}
	if p.K <= 0 {
		return fmt.Errorf("k must be > 0")
	}
	if p.T <= 0 {
		return fmt.Errorf("t must be > 0")
	}
	if p.OrderQuantity.Sign() <= 0 {
		return fmt.Errorf("order_quantity must be > 0")
	}
	return nil
}

// Maker is a single-symbol Avellaneda-Stoikov market maker.
type Maker struct {
	symbol           quanttypes.Symbol
	cache            *cache.Cache
	flowTracker      *FlowTracker
	staleQuoteWindow clock.Duration

	params MakerParams

	bid *quanttypes.Order // currently resting bid, nil if none
	ask *quanttypes.Order // currently resting ask, nil if none

	log *slog.Logger
}

// NewMaker constructs a Maker for symbol.
func NewMaker(symbol quanttypes.Symbol, c *cache.Cache, params MakerParams, staleQuoteWindow, flowWindow, flowCooldown clock.Duration, flowThreshold, flowMaxMultiplier float64, log *slog.Logger) *Maker {
	if log == nil {
		log = slog.Default()
	}
	return &Maker{
		symbol:           symbol,
		cache:            c,
		flowTracker:      NewFlowTracker(flowWindow, flowThreshold, flowCooldown, flowMaxMultiplier),
		staleQuoteWindow: staleQuoteWindow,
		params:           params,
		log:              log.With("component", "maker", "symbol", symbol.String()),
	}
}

// Init applies params, validating ranges; used both at startup and for
// hot-reload application at a tick boundary.
func (m *Maker) Init(params map[string]any) error {
	p := m.params
	if v, ok := params["gamma"].(float64); ok {
		p.Gamma = v
	}
	if v, ok := params["sigma"].(float64); ok {
		p.Sigma = v
	}
	if v, ok := params["k"].(float64); ok {
		p.K = v
	}
	if v, ok := params["t"].(float64); ok {
		p.T = v
	}
	if v, ok := params["default_spread_bps"].(float64); ok {
		p.DefaultSpreadBps = int(v)
	}
	if v, ok := params["order_quantity"].(string); ok {
		qty, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("order_quantity: %w", err)
		}
		p.OrderQuantity = qty
	}
	if err := p.validate(); err != nil {
		return err
	}
	m.params = p
	return nil
}

// ValidateParams implements ParamValidator: reject a hot-reload without
// mutating state, so the runtime can keep the prior parameters on failure.
// It runs Init against a throwaway copy of the strategy.
func (m *Maker) ValidateParams(params map[string]any) error {
	shadow := *m
	return (&shadow).Init(params)
}

// OnTick recomputes quotes and reconciles resting orders against them.
func (m *Maker) OnTick(ctx context.Context, rt *Runtime) {
	quote, ok := m.cache.Quote(m.symbol)
	if !ok {
		return
	}
	if clock.Now().Sub(quote.Timestamp) > m.staleQuoteWindow {
		m.log.Warn("quote stale, pulling orders")
		m.cancelResting(ctx, rt)
		return
	}

	mid, err := quote.BidPrice.Add(quote.AskPrice).DivChecked(decimal.NewFromInt(2), decimal.Scale)
	if err != nil {
		return
	}
	pos, _ := m.cache.Position(m.symbol)
	acct, hasAcct := m.cache.Account()
	if !hasAcct {
		return
	}

	bidPrice, askPrice, bidQty, askQty := m.computeQuotes(mid, pos)
	m.reconcile(ctx, rt, acct, bidPrice, askPrice, bidQty, askQty)
}

// computeQuotes implements the Avellaneda-Stoikov formulas described at the
// top of this file, with inventory skew q drawn from the signed position
// normalized against InventoryNormalizer.
func (m *Maker) computeQuotes(mid decimal.Decimal, pos quanttypes.Position) (bidPrice, askPrice, bidQty, askQty decimal.Decimal) {
	midF := mid.Float64()
	q := 0.0
	if m.params.InventoryNormalizer.Sign() > 0 {
		q = pos.Size.Float64() / m.params.InventoryNormalizer.Float64()
		q = clamp(q, -1, 1)
	}

	flowMultiplier := m.flowTracker.SpreadMultiplier()

	reservation := midF - q*m.params.Gamma*m.params.Sigma*m.params.Sigma*m.params.T
	optSpread := m.params.Gamma*m.params.Sigma*m.params.Sigma*m.params.T + (2.0/m.params.Gamma)*math.Log(1+m.params.Gamma/m.params.K)
	optSpread *= flowMultiplier

	minSpread := midF * float64(m.params.DefaultSpreadBps) / 10000.0 * flowMultiplier
	if optSpread < minSpread {
		optSpread = minSpread
	}

	bidF := reservation - optSpread/2
	askF := reservation + optSpread/2
	if bidF >= askF {
		bidF = askF - midF*0.0001
	}

	sizeFactor := 1.0 - 0.5*math.Abs(q)
	baseQty := m.params.OrderQuantity.Mul(decimal.NewFromFloat(sizeFactor))

	bidPrice = decimal.NewFromFloat(bidF).Round(2)
	askPrice = decimal.NewFromFloat(askF).Round(2)
	bidQty, askQty = baseQty, baseQty

	toxicity := m.flowTracker.CalculateToxicity()
	m.log.Debug("quotes computed",
		"mid", midF, "q", q, "reservation", reservation,
		"bid", bidPrice.String(), "ask", askPrice.String(),
		"toxicity_score", toxicity.ToxicityScore, "flow_multiplier", flowMultiplier,
	)
	return bidPrice, askPrice, bidQty, askQty
}

// qtyTolerancePct, with reconcile's price tolerance of 0.05% of the bid
// price, gates order replacement: a resting
// order within tolerance of the freshly computed quote is left alone
// instead of being cancelled and re-posted every tick.
const qtyTolerancePct = 0.10

func (m *Maker) reconcile(ctx context.Context, rt *Runtime, acct quanttypes.Account, bidPrice, askPrice, bidQty, askQty decimal.Decimal) {
	tolerance := bidPrice.Mul(decimal.MustFromString("0.0005"))

	if m.bid == nil || !withinTolerance(m.bid.Price, bidPrice, tolerance) || !withinQtyTolerance(m.bid.Quantity, bidQty) {
		if m.bid != nil {
			rt.CancelOrder(ctx, m.bid.ClientID)
			m.bid = nil
		}
		if bidQty.Sign() > 0 && requiredMargin(bidPrice, bidQty).LessThanOrEqual(acct.AvailableBalance) {
			o := quanttypes.Order{Symbol: m.symbol, Side: quanttypes.SideBuy, Type: quanttypes.OrderTypeLimit, Price: bidPrice, Quantity: bidQty, TimeInForce: quanttypes.TimeInForcePostOnly}
			rt.SubmitOrder(ctx, o)
		}
	}

	if m.ask == nil || !withinTolerance(m.ask.Price, askPrice, tolerance) || !withinQtyTolerance(m.ask.Quantity, askQty) {
		if m.ask != nil {
			rt.CancelOrder(ctx, m.ask.ClientID)
			m.ask = nil
		}
		if askQty.Sign() > 0 && requiredMargin(askPrice, askQty).LessThanOrEqual(acct.AvailableBalance) {
			o := quanttypes.Order{Symbol: m.symbol, Side: quanttypes.SideSell, Type: quanttypes.OrderTypeLimit, Price: askPrice, Quantity: askQty, TimeInForce: quanttypes.TimeInForcePostOnly}
			rt.SubmitOrder(ctx, o)
		}
	}
}

func requiredMargin(price, qty decimal.Decimal) decimal.Decimal {
	return price.Mul(qty)
}

func withinTolerance(current, target, tolerance decimal.Decimal) bool {
	diff := current.Sub(target).Abs()
	return diff.LessThanOrEqual(tolerance)
}

func withinQtyTolerance(current, target decimal.Decimal) bool {
	if target.IsZero() {
		return current.IsZero()
	}
	diff := current.Sub(target).Abs()
	pct, err := diff.DivChecked(target, decimal.Scale)
	if err != nil {
		return false
	}
	return pct.LessThanOrEqual(decimal.NewFromFloat(qtyTolerancePct))
}

func (m *Maker) cancelResting(ctx context.Context, rt *Runtime) {
	if m.bid != nil {
		rt.CancelOrder(ctx, m.bid.ClientID)
		m.bid = nil
	}
	if m.ask != nil {
		rt.CancelOrder(ctx, m.ask.ClientID)
		m.ask = nil
	}
}

// OnFill tracks toxicity off the realized flow.
func (m *Maker) OnFill(fill quanttypes.Fill) {
	m.flowTracker.AddFill(fill)
	if m.flowTracker.IsFlowToxic() {
		m.log.Warn("toxic flow detected", "side", fill.Side, "fill_count", m.flowTracker.FillCount())
	}
}

// OnOrderEvent keeps the resting bid/ask slots in sync with the canonical
// order state published by the ledger/execution adapter.
func (m *Maker) OnOrderEvent(order quanttypes.Order) {
	side := &m.bid
	if order.Side == quanttypes.SideSell {
		side = &m.ask
	}
	if order.Status.IsTerminal() {
		if *side != nil && (*side).ClientID == order.ClientID {
			*side = nil
		}
		return
	}
	*side = &order
}

// OnCandle and OnTrade are not consulted by the Avellaneda-Stoikov
// parameterization used here; present to satisfy the Strategy capability
// set.
func (m *Maker) OnCandle(candle quanttypes.Candle) {}
func (m *Maker) OnTrade(trade quanttypes.Trade)     {}

// Shutdown is a no-op: the runtime cancels all resting orders on its own
// shutdown path.
func (m *Maker) Shutdown() {}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
