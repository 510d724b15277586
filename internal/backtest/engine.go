// engine.go implements the Engine: the event-scheduled replay loop plus a
// venue.ExecutionAdapter backed by internal/l3book instead of a real venue.
// Grounded on the coachpo-meltica-gateway backtest engine's pull-from-feed,
// push-onto-heap, advance-clock-then-dispatch main loop; the queue-position
// fill simulation itself is grounded on internal/l3book, which already
// implements spec.md §4.9's FIFO/probability model.
package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"hyperquant/internal/bus"
	"hyperquant/internal/clock"
	"hyperquant/internal/config"
	"hyperquant/internal/decimal"
	"hyperquant/internal/errs"
	"hyperquant/internal/l3book"
	"hyperquant/internal/ledger"
	"hyperquant/internal/quanttypes"
	"hyperquant/internal/venue"
)

// Ticker is the subset of strategy.Runtime the engine drives each
// simulated tick. Declared as an interface so tests can substitute a
// fake without constructing a full Runtime.
type Ticker interface {
	Tick(ctx context.Context)
}

// Engine replays a Feeder's historical market data through the bus,
// matches the strategy's resting orders against it via internal/l3book,
// and applies the resulting fills through the same ledger.Ledger.ApplyFill
// path the live system uses. It also implements venue.ExecutionAdapter, so
// a strategy.Runtime can be wired against it exactly as it would a real
// venue adapter.
type Engine struct {
	log    *slog.Logger
	bus    *bus.Bus
	ledger *ledger.Ledger
	sched  *scheduler

	feed         Feeder
	feedLatency  LatencyModel
	entryLatency LatencyModel
	procLatency  LatencyModel
	respLatency  LatencyModel
	fillModel    l3book.Model
	commissionBps decimal.Decimal
	slippageBps   decimal.Decimal
	rng          *rand.Rand

	tickInterval clock.Duration
	runtimes     []Ticker

	mu     sync.Mutex
	curTime clock.Timestamp
	books   map[quanttypes.Symbol]*l3book.Book
	quotes  map[quanttypes.Symbol]quanttypes.Quote
	orders  map[string]*pendingOrder

	result *resultAccumulator
}

// New constructs a replay Engine for symbols, driven by feed and
// configured per cfg (spec.md §4.10). startTime seeds the replay clock and
// the first strategy tick.
func New(cfg config.BacktestConfig, symbols []quanttypes.Symbol, feed Feeder, b *bus.Bus, lg *ledger.Ledger, tickInterval time.Duration, startTime clock.Timestamp, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	rng := rand.New(rand.NewPCG(uint64(cfg.Seed), uint64(cfg.Seed)^0x9e3779b9))

	e := &Engine{
		log:          log.With("component", "backtest_engine"),
		bus:          b,
		ledger:       lg,
		sched:        newScheduler(),
		feed:         feed,
		feedLatency:  NewLatencyModel(cfg.FeedLatency, rng),
		entryLatency: NewLatencyModel(cfg.EntryLatency, rng),
		procLatency:  NewLatencyModel(cfg.ProcessingLatency, rng),
		respLatency:  NewLatencyModel(cfg.ResponseLatency, rng),
		fillModel:    fillModelFromString(cfg.FillModel),
		commissionBps: decimal.NewFromFloat(cfg.CommissionBps),
		slippageBps:   decimal.NewFromFloat(cfg.SlippageBps),
		rng:          rng,
		tickInterval: clock.Duration(tickInterval.Milliseconds()),
		curTime:      startTime,
		books:        make(map[quanttypes.Symbol]*l3book.Book, len(symbols)),
		quotes:       make(map[quanttypes.Symbol]quanttypes.Quote),
		orders:       make(map[string]*pendingOrder),
		result:       newResultAccumulator(),
	}
	for _, sym := range symbols {
		e.books[sym] = l3book.New()
	}
	return e
}

// AttachRuntime registers rt to receive a Tick call every tickInterval of
// simulated time. Call before Run.
func (e *Engine) AttachRuntime(rt Ticker) {
	e.runtimes = append(e.runtimes, rt)
}

func (e *Engine) now() clock.Timestamp {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.curTime
}

// Run drives the replay to completion: pulls events from the feed,
// schedules them (and recurring strategy ticks) on the heap keyed by
// visible_time, and dispatches whichever is earliest. Returns when the
// feed is exhausted and no scheduled events remain, or ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	if e.tickInterval > 0 {
		e.scheduleNextTick(e.curTime)
	}

	feedDone := false
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if !feedDone {
			evt, ok := e.feed.Next()
			if !ok {
				feedDone = true
			} else {
				at := visibleAt(evt, e.feedLatency)
				e.sched.At(at, func() { e.dispatchMarket(evt) })
				continue
			}
		}

		next := e.sched.Pop()
		if next == nil {
			if feedDone {
				return nil
			}
			continue
		}
		e.mu.Lock()
		e.curTime = next.VisibleTime
		e.mu.Unlock()
		next.Action()
	}
}

// Result returns the accumulated run statistics (spec.md §9 supplemented
// feature: a backtest is only useful if it reports what happened).
func (e *Engine) Result() Result {
	return e.result.snapshot()
}

func (e *Engine) scheduleNextTick(from clock.Timestamp) {
	next := from.Add(e.tickInterval)
	e.sched.At(next, func() {
		for _, rt := range e.runtimes {
			rt.Tick(context.Background())
		}
		e.result.recordEquity(next, e.ledger.Account())
		e.scheduleNextTick(next)
	})
}

func (e *Engine) dispatchMarket(evt quanttypes.Event) {
	e.bus.Publish(marketTopic(evt), evt)

	switch evt.Kind {
	case quanttypes.EventTrade:
		tr, ok := evt.Payload.(quanttypes.Trade)
		if !ok {
			return
		}
		e.ledger.UpdateMarkPrice(tr.Symbol, tr.Price)
		e.onTrade(tr)
	case quanttypes.EventMarketData:
		q, ok := evt.Payload.(quanttypes.Quote)
		if !ok {
			return
		}
		e.mu.Lock()
		e.quotes[q.Symbol] = q
		e.mu.Unlock()
		mid, err := q.BidPrice.Add(q.AskPrice).DivChecked(decimal.NewFromInt(2), decimal.Scale)
		if err == nil {
			e.ledger.UpdateMarkPrice(q.Symbol, mid)
		}
	}
}

// onTrade matches a public trade print against the resting queue it would
// have consumed: a buy-initiated trade eats the ask side, a sell-initiated
// trade eats the bid side (spec.md §4.9).
func (e *Engine) onTrade(tr quanttypes.Trade) {
	e.mu.Lock()
	book, ok := e.books[tr.Symbol]
	e.mu.Unlock()
	if !ok {
		return
	}
	consumedIsBid := tr.Side == quanttypes.SideSell

	e.mu.Lock()
	lvl := book.Level(tr.Price, consumedIsBid)
	events := lvl.ApplyTrade(tr.Quantity, e.fillModel, e.rng)
	empty := len(lvl.Orders()) == 0
	if empty {
		book.RemoveLevel(tr.Price, consumedIsBid)
	}
	e.mu.Unlock()

	for _, ev := range events {
		if !ev.Filled || !ev.IsMine {
			continue
		}
		e.onMineFilled(tr.Symbol, tr.Price, ev, consumedIsBid)
	}
}

// onMineFilled schedules the processing+response latency before the fill
// becomes visible (spec.md §4.10 pending-order state machine: processed ->
// acknowledged), applying commission and slippage at generation time.
func (e *Engine) onMineFilled(symbol quanttypes.Symbol, tradePrice decimal.Decimal, ev l3book.FillEvent, isBid bool) {
	e.mu.Lock()
	po, ok := e.orders[ev.OrderID]
	if ok {
		po.state = stateProcessed
	}
	e.mu.Unlock()
	if !ok {
		return
	}

	fillPrice := applySlippage(tradePrice, isBid, e.slippageBps)
	fee := applyBps(fillPrice.Mul(ev.Quantity), e.commissionBps)

	ackAt := e.now().Add(e.procLatency.Sample()).Add(e.respLatency.Sample())
	side := po.order.Side
	clientID := po.order.ClientID
	e.sched.At(ackAt, func() {
		e.acknowledgeFill(clientID, symbol, side, fillPrice, ev.Quantity, fee)
	})
}

func (e *Engine) acknowledgeFill(clientID string, symbol quanttypes.Symbol, side quanttypes.Side, price, qty, fee decimal.Decimal) {
	now := e.now()
	fill := quanttypes.Fill{OrderClientID: clientID, Symbol: symbol, Side: side, Price: price, Quantity: qty, Fee: fee, Timestamp: now}

	e.mu.Lock()
	if po, ok := e.orders[clientID]; ok {
		updated := po.order
		updated.FilledQuantity = updated.FilledQuantity.Add(qty)
		updated.UpdatedAt = now
		if updated.FilledQuantity.GreaterThanOrEqual(updated.Quantity) {
			updated.Status = quanttypes.OrderStatusFilled
			po.state = stateAcknowledged
		} else {
			updated.Status = quanttypes.OrderStatusPartiallyFilled
		}
		po.order = updated
	}
	e.mu.Unlock()

	e.bus.Publish("fill."+symbol.String(), quanttypes.Event{
		Kind: quanttypes.EventOrderFilled, Source: now, Symbol: symbol, Payload: fill,
	})
	e.result.recordFill(fill)
}

func applySlippage(price decimal.Decimal, isBid bool, bps decimal.Decimal) decimal.Decimal {
	adj := applyBps(price, bps)
	if isBid {
		return price.Add(adj) // buying: slippage raises the effective fill price
	}
	return price.Sub(adj) // selling: slippage lowers it
}

// applyBps returns notional * bps / 10000. The division is exact to
// decimal.Scale and bps is never zero-denominator, so the error is
// unreachable here.
func applyBps(notional, bps decimal.Decimal) decimal.Decimal {
	v, _ := notional.Mul(bps).DivChecked(decimal.NewFromInt(10000), decimal.Scale)
	return v
}

// Submit implements venue.ExecutionAdapter: the order is accepted
// immediately (matching the live adapters' synchronous ack) but only
// becomes resting in the L3 queue, and visible to the ledger as accepted,
// once entry latency elapses.
func (e *Engine) Submit(ctx context.Context, order quanttypes.Order) (venue.SubmitResult, error) {
	e.mu.Lock()
	_, ok := e.books[order.Symbol]
	e.mu.Unlock()
	if !ok {
		return venue.SubmitResult{}, fmt.Errorf("%w: no backtest book for %s", errs.VenueSemantic, order.Symbol)
	}

	order.ExchangeID = "bt-" + order.ClientID
	po := &pendingOrder{order: order, state: stateSubmitted, isBid: order.Side == quanttypes.SideBuy}

	e.mu.Lock()
	e.orders[order.ClientID] = po
	e.mu.Unlock()

	arriveAt := e.now().Add(e.entryLatency.Sample())
	e.sched.At(arriveAt, func() { e.arriveAtExchange(order.ClientID) })

	return venue.SubmitResult{Accepted: true, ExchangeID: order.ExchangeID}, nil
}

func (e *Engine) arriveAtExchange(clientID string) {
	e.mu.Lock()
	po, ok := e.orders[clientID]
	if !ok || po.state != stateSubmitted {
		e.mu.Unlock()
		return
	}
	book := e.books[po.order.Symbol]
	po.qo = book.Level(po.order.Price, po.isBid).Add(clientID, po.order.Remaining(), true)
	po.state = stateAtExchange
	accepted := po.order
	accepted.Status = quanttypes.OrderStatusAccepted
	accepted.UpdatedAt = e.curTime
	po.order = accepted
	e.mu.Unlock()

	e.bus.Publish("order_accepted", quanttypes.Event{
		Kind: quanttypes.EventOrderAccepted, Source: accepted.UpdatedAt, Symbol: accepted.Symbol, Payload: accepted,
	})
}

// Cancel implements venue.ExecutionAdapter.
func (e *Engine) Cancel(ctx context.Context, clientID string) (bool, error) {
	e.mu.Lock()
	po, ok := e.orders[clientID]
	if !ok || po.order.Status.IsTerminal() || po.state == stateCancelled {
		e.mu.Unlock()
		return false, nil
	}
	if po.state == stateAtExchange {
		e.books[po.order.Symbol].Level(po.order.Price, po.isBid).Remove(clientID)
	}
	po.state = stateCancelled
	cancelled := po.order
	cancelled.Status = quanttypes.OrderStatusCancelled
	cancelled.UpdatedAt = e.curTime
	po.order = cancelled
	e.mu.Unlock()

	e.bus.Publish("order_cancelled", quanttypes.Event{
		Kind: quanttypes.EventOrderCancelled, Source: cancelled.UpdatedAt, Symbol: cancelled.Symbol, Payload: cancelled,
	})
	return true, nil
}

// CancelAll implements venue.ExecutionAdapter.
func (e *Engine) CancelAll(ctx context.Context) (int, error) {
	e.mu.Lock()
	ids := make([]string, 0, len(e.orders))
	for id, po := range e.orders {
		if !po.order.Status.IsTerminal() {
			ids = append(ids, id)
		}
	}
	e.mu.Unlock()

	count := 0
	for _, id := range ids {
		if ok, _ := e.Cancel(ctx, id); ok {
			count++
		}
	}
	return count, nil
}

// GetStatus implements venue.ExecutionAdapter.
func (e *Engine) GetStatus(ctx context.Context, clientID string) (quanttypes.Order, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	po, ok := e.orders[clientID]
	if !ok {
		return quanttypes.Order{}, false
	}
	return po.order, true
}

// GetPosition implements venue.ExecutionAdapter by reading the ledger
// directly: in a backtest the ledger is the only source of truth there
// ever is, live-query re-fetching has no venue to call.
func (e *Engine) GetPosition(ctx context.Context, symbol quanttypes.Symbol) (quanttypes.Position, error) {
	return e.ledger.Position(symbol), nil
}

// GetAccount implements venue.ExecutionAdapter.
func (e *Engine) GetAccount(ctx context.Context) (quanttypes.Account, error) {
	return e.ledger.Account(), nil
}

var _ venue.ExecutionAdapter = (*Engine)(nil)
