// runtime.go implements the strategy runtime: it drives a user-supplied
// Strategy's capability set on a single serialized task per instance,
// routes its order intents through the risk engine and then the execution
// adapter, and hot-reloads its tunable parameters from a watched config
// file.
package strategy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"hyperquant/internal/bus"
	"hyperquant/internal/clock"
	"hyperquant/internal/errs"
	"hyperquant/internal/ledger"
	"hyperquant/internal/quanttypes"
	"hyperquant/internal/risk"
	"hyperquant/internal/venue"
)

// Strategy is the capability set a strategy implementation exposes. Tick
// ordering within one Runtime is serialized by the runtime itself, so
// implementations need no internal locking.
type Strategy interface {
	Init(params map[string]any) error
	OnTick(ctx context.Context, rt *Runtime)
	OnCandle(candle quanttypes.Candle)
	OnTrade(trade quanttypes.Trade)
	OnFill(fill quanttypes.Fill)
	OnOrderEvent(order quanttypes.Order)
	Shutdown()
}

// ParamValidator is an optional Strategy extension: a strategy that
// validates hot-reloaded parameters against its own ranges before they're
// applied. A strategy that doesn't implement it accepts any reload that
// parses.
type ParamValidator interface {
	ValidateParams(params map[string]any) error
}

// Runtime drives one Strategy instance. Construct with New, start with Run.
type Runtime struct {
	name     string
	strategy Strategy
	bus      *bus.Bus
	risk     *risk.Manager
	exec     venue.ExecutionAdapter
	ledger   *ledger.Ledger
	log      *slog.Logger

	tickInterval time.Duration

	reloadPath     string
	reloadInterval time.Duration
	pendingParams  atomic.Pointer[map[string]any]

	tickMu sync.Mutex // serializes every strategy callback

	halted atomic.Bool
	orderSeq atomic.Int64
}

// New constructs a Runtime for strategy name, ticking every tickInterval.
func New(name string, strat Strategy, b *bus.Bus, rm *risk.Manager, exec venue.ExecutionAdapter, lg *ledger.Ledger, tickInterval, reloadInterval time.Duration, reloadPath string, log *slog.Logger) *Runtime {
	if log == nil {
		log = slog.Default()
	}
	rt := &Runtime{
		name: name, strategy: strat, bus: b, risk: rm, exec: exec, ledger: lg,
		log: log.With("component", "strategy_runtime", "strategy", name),
		tickInterval: tickInterval, reloadInterval: reloadInterval, reloadPath: reloadPath,
	}
	rm.RegisterStrategy(name, rt)
	return rt
}

// Halt implements risk.Haltable: the kill switch calls this to stop
// quoting without tearing down the whole runtime.
func (rt *Runtime) Halt() {
	rt.halted.Store(true)
}

// Resume clears a halt applied by the kill switch or an operator action.
func (rt *Runtime) Resume() {
	rt.halted.Store(false)
}

// Subscribe wires the runtime's bus handlers for symbol-scoped market data
// and fill/order events. Call once before Run.
func (rt *Runtime) Subscribe(symbols []quanttypes.Symbol) {
	want := make(map[quanttypes.Symbol]bool, len(symbols))
	for _, s := range symbols {
		want[s] = true
	}

	rt.bus.Subscribe("candle.*", func(e quanttypes.Event) error {
		if c, ok := e.Payload.(quanttypes.Candle); ok && want[c.Symbol] {
			rt.withLock(func() { rt.strategy.OnCandle(c) })
		}
		return nil
	})
	rt.bus.Subscribe("trade.*", func(e quanttypes.Event) error {
		if tr, ok := e.Payload.(quanttypes.Trade); ok && want[tr.Symbol] {
			rt.withLock(func() { rt.strategy.OnTrade(tr) })
		}
		return nil
	})
	rt.bus.Subscribe("fill.*", func(e quanttypes.Event) error {
		if f, ok := e.Payload.(quanttypes.Fill); ok && want[f.Symbol] {
			rt.withLock(func() { rt.strategy.OnFill(f) })
		}
		return nil
	})
	orderTopics := []string{"order_pending", "order_submitted", "order_accepted", "order_partial", "order_filled", "order_cancelled", "order_rejected"}
	for _, topic := range orderTopics {
		rt.bus.Subscribe(topic, func(e quanttypes.Event) error {
			if o, ok := e.Payload.(quanttypes.Order); ok && want[o.Symbol] {
				rt.withLock(func() { rt.strategy.OnOrderEvent(o) })
			}
			return nil
		})
	}
}

func (rt *Runtime) withLock(fn func()) {
	rt.tickMu.Lock()
	defer rt.tickMu.Unlock()
	fn()
}

// Run starts the tick loop and, if reloadPath is set, the hot-reload
// watcher. Blocks until ctx is cancelled.
func (rt *Runtime) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	if rt.reloadPath != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rt.watchReload(ctx)
		}()
	}

	ticker := time.NewTicker(rt.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			rt.withLock(rt.strategy.Shutdown)
			if n, err := rt.exec.CancelAll(context.Background()); err != nil {
				rt.log.Error("shutdown: cancel all orders failed", "error", err)
			} else {
				rt.log.Info("shutdown: cancelled open orders", "count", n)
			}
			wg.Wait()
			return ctx.Err()
		case <-ticker.C:
			rt.Tick(ctx)
		}
	}
}

// Tick runs one tick synchronously: applies any pending hot-reloaded
// parameters, then, unless halted, invokes the strategy's OnTick. Run's
// real-time ticker calls this on a wall-clock cadence; the backtest
// engine's event-scheduled replay calls it directly at simulated tick
// boundaries instead.
func (rt *Runtime) Tick(ctx context.Context) {
	rt.applyPendingParams()
	if rt.halted.Load() {
		return
	}
	rt.withLock(func() { rt.strategy.OnTick(ctx, rt) })
}

func (rt *Runtime) applyPendingParams() {
	p := rt.pendingParams.Swap(nil)
	if p == nil {
		return
	}
	rt.withLock(func() {
		if err := rt.strategy.Init(*p); err != nil {
			rt.log.Error("apply hot-reloaded params failed", "error", err)
		} else {
			rt.log.Info("applied hot-reloaded params")
		}
	})
}

// watchReload watches reloadPath for writes via fsnotify and stages
// validated parameter sets for application at the next tick boundary,
// never mid-tick.
func (rt *Runtime) watchReload(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		rt.log.Error("hot reload: create watcher failed", "error", err)
		return
	}
	defer watcher.Close()

	if err := watcher.Add(rt.reloadPath); err != nil {
		rt.log.Error("hot reload: watch path failed", "path", rt.reloadPath, "error", err)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			rt.handleReloadEvent()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			rt.log.Error("hot reload: watcher error", "error", err)
		}
	}
}

func (rt *Runtime) handleReloadEvent() {
	data, err := os.ReadFile(rt.reloadPath)
	if err != nil {
		rt.log.Error("hot reload: read failed", "error", err)
		return
	}
	var params map[string]any
	if err := json.Unmarshal(data, &params); err != nil {
		rt.log.Warn("hot reload: parse failed, keeping current parameters", "error", err)
		return
	}
	if v, ok := rt.strategy.(ParamValidator); ok {
		if err := v.ValidateParams(params); err != nil {
			rt.log.Warn("hot reload: validation failed, keeping current parameters", "error", err)
			return
		}
	}
	rt.pendingParams.Store(&params)
}

// SubmitOrder creates the order in the ledger, risk-checks it, and — if it
// passes — submits it asynchronously to the execution adapter. The
// strategy observes the outcome later via OnOrderEvent.
func (rt *Runtime) SubmitOrder(ctx context.Context, order quanttypes.Order) {
	order.ClientID = fmt.Sprintf("%s-%d", rt.name, rt.orderSeq.Add(1))
	created := rt.ledger.CreateOrder(order)

	result := rt.risk.CheckOrder(created)
	if !result.Passed {
		rt.log.Info("order rejected by risk engine", "client_id", created.ClientID, "reason", result.Reason)
		if _, err := rt.ledger.MarkRejected(created.ClientID, string(result.Reason)); err != nil {
			rt.log.Error("mark rejected failed", "error", err)
		}
		return
	}

	submitted, err := rt.ledger.MarkSubmitted(created.ClientID)
	if err != nil {
		rt.log.Error("mark submitted failed", "error", err)
		return
	}

	go func() {
		res, err := rt.exec.Submit(ctx, submitted)
		if err != nil {
			if errors.Is(err, errs.VenueTransport) {
				rt.log.Warn("order submit transport error", "client_id", submitted.ClientID, "error", err)
			} else {
				rt.log.Error("order submit failed", "client_id", submitted.ClientID, "error", err)
			}
			return
		}
		if !res.Accepted {
			if _, err := rt.ledger.MarkRejected(submitted.ClientID, res.Reason); err != nil {
				rt.log.Error("mark rejected after venue reject failed", "error", err)
			}
		}
	}()
}

// CancelOrder cancels clientID through the execution adapter.
func (rt *Runtime) CancelOrder(ctx context.Context, clientID string) {
	go func() {
		if _, err := rt.exec.Cancel(ctx, clientID); err != nil {
			rt.log.Error("cancel order failed", "client_id", clientID, "error", err)
		}
	}()
}

// Now returns the current time; a tiny indirection so strategies never
// import time/clock directly for tick bookkeeping.
func Now() clock.Timestamp { return clock.Now() }
