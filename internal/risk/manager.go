// Package risk implements the synchronous pre-trade check chain and the
// process-wide kill switch of spec.md §4.7.
//
// check_order is evaluated in fixed order, short-circuiting on first
// failure: kill switch, notional cap, leverage cap, daily loss cap,
// order-rate cap, margin sufficiency. The manager is side-effect-free on
// caller state; it only reads position/account snapshots mirrored off the
// bus, the same subscribe-and-cache pattern internal/cache uses.
//
// The kill switch itself is the one piece of deliberately global state this
// system carries (spec.md §9): an atomic flag checked by every CheckOrder
// call and tripped automatically on daily-loss, consecutive-loss, or
// min-equity breach.
package risk

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"hyperquant/internal/bus"
	"hyperquant/internal/clock"
	"hyperquant/internal/config"
	"hyperquant/internal/decimal"
	"hyperquant/internal/errs"
	"hyperquant/internal/quanttypes"
	"hyperquant/internal/venue"
)

// Reason enumerates the rejection reasons of spec.md §4.7.
type Reason string

const (
	ReasonNone                Reason = ""
	ReasonKillSwitchActive    Reason = "kill_switch_active"
	ReasonNotionalCapExceeded Reason = "notional_cap_exceeded"
	ReasonLeverageCapExceeded Reason = "leverage_cap_exceeded"
	ReasonDailyLossExceeded   Reason = "daily_loss_exceeded"
	ReasonOrderRateExceeded   Reason = "order_rate_exceeded"
	ReasonMarginInsufficient  Reason = "margin_insufficient"
)

// CheckResult is the outcome of a pre-trade check.
type CheckResult struct {
	Passed bool
	Reason Reason
}

// Executor is the subset of venue.ExecutionAdapter the kill switch needs:
// CancelAll to stop outstanding orders, and Submit to flatten open
// positions with reduce-only market orders when
// RiskConfig.ClosePositionsOnKillSwitch is set.
type Executor interface {
	Submit(ctx context.Context, order quanttypes.Order) (venue.SubmitResult, error)
	CancelAll(ctx context.Context) (int, error)
}

// Haltable is a strategy runtime that can be stopped by the kill switch.
type Haltable interface {
	Halt()
}

// Manager enforces the risk chain and owns the kill switch flag.
type Manager struct {
	cfg config.RiskConfig
	log *slog.Logger
	bus *bus.Bus
	exec Executor

	killed atomic.Bool

	mu           sync.Mutex
	positions    map[quanttypes.Symbol]quanttypes.Position
	account      quanttypes.Account
	orderEvents  []clock.Timestamp // sliding 60s window of submit requests
	lastRealized map[quanttypes.Symbol]decimal.Decimal
	consecutiveLosses int
	strategies   map[string]Haltable
}

// NewManager constructs a risk manager that mirrors position/account state
// off b and cancels open orders through exec when the kill switch trips.
func NewManager(cfg config.RiskConfig, b *bus.Bus, exec Executor, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		cfg:          cfg,
		log:          log.With("component", "risk"),
		bus:          b,
		exec:         exec,
		positions:    make(map[quanttypes.Symbol]quanttypes.Position),
		lastRealized: make(map[quanttypes.Symbol]decimal.Decimal),
		strategies:   make(map[string]Haltable),
	}
	b.Subscribe("position_updated", m.onPositionUpdated)
	b.Subscribe("account_updated", m.onAccountUpdated)
	return m
}

// RegisterStrategy lets the kill switch halt name when it trips.
func (m *Manager) RegisterStrategy(name string, h Haltable) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.strategies[name] = h
}

// DeregisterStrategy removes a stopped strategy from the halt set.
func (m *Manager) DeregisterStrategy(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.strategies, name)
}

// IsKillSwitchActive reports the current kill switch state.
func (m *Manager) IsKillSwitchActive() bool {
	return m.killed.Load()
}

// CheckOrder runs the six-stage pre-trade chain of spec.md §4.7 and must
// complete well under a millisecond: every input is an in-memory snapshot,
// no I/O.
func (m *Manager) CheckOrder(order quanttypes.Order) CheckResult {
	if m.killed.Load() {
		return CheckResult{Passed: false, Reason: ReasonKillSwitchActive}
	}

	m.mu.Lock()
	pos := m.positions[order.Symbol]
	acct := m.account
	m.mu.Unlock()

	delta := order.Quantity
	if order.Side == quanttypes.SideSell {
		delta = delta.Neg()
	}
	newSize := pos.Size.Add(delta)
	projectedNotional := newSize.Abs().Mul(order.Price)

	maxPerSymbol := decimal.NewFromFloat(m.cfg.MaxPositionPerSymbol)
	if m.cfg.MaxPositionPerSymbol > 0 && projectedNotional.GreaterThan(maxPerSymbol) {
		return CheckResult{Passed: false, Reason: ReasonNotionalCapExceeded}
	}

	m.mu.Lock()
	globalExposure := decimal.Zero
	for sym, p := range m.positions {
		sz := p.Size
		if sym == order.Symbol {
			sz = newSize
		}
		globalExposure = globalExposure.Add(sz.Abs().Mul(p.MarkPrice))
	}
	m.mu.Unlock()

	maxGlobal := decimal.NewFromFloat(m.cfg.MaxPositionSize)
	if m.cfg.MaxPositionSize > 0 && globalExposure.GreaterThan(maxGlobal) {
		return CheckResult{Passed: false, Reason: ReasonNotionalCapExceeded}
	}

	if m.cfg.MaxLeverage > 0 && !acct.Equity.IsZero() {
		maxLev := decimal.NewFromFloat(m.cfg.MaxLeverage)
		leverage, err := globalExposure.DivChecked(acct.Equity, decimal.Scale)
		if err == nil && leverage.GreaterThan(maxLev) {
			return CheckResult{Passed: false, Reason: ReasonLeverageCapExceeded}
		}
	}

	if r := m.checkDailyLoss(acct); r.Reason != ReasonNone {
		return r
	}

	if m.cfg.MaxOrdersPerMinute > 0 && m.orderRateExceeded() {
		return CheckResult{Passed: false, Reason: ReasonOrderRateExceeded}
	}

	requiredMargin := projectedNotional
	if m.cfg.MaxLeverage > 0 {
		requiredMargin, _ = projectedNotional.DivChecked(decimal.NewFromFloat(m.cfg.MaxLeverage), decimal.Scale)
	}
	if requiredMargin.GreaterThan(acct.AvailableBalance) {
		return CheckResult{Passed: false, Reason: ReasonMarginInsufficient}
	}

	m.recordOrderEvent()
	return CheckResult{Passed: true}
}

func (m *Manager) checkDailyLoss(acct quanttypes.Account) CheckResult {
	loss := acct.DayStartEquity.Sub(acct.Equity)
	if loss.Sign() <= 0 {
		return CheckResult{Passed: true}
	}
	if m.cfg.MaxDailyLoss > 0 && loss.GreaterThan(decimal.NewFromFloat(m.cfg.MaxDailyLoss)) {
		return CheckResult{Passed: false, Reason: ReasonDailyLossExceeded}
	}
	if m.cfg.MaxDailyLossPct > 0 && !acct.DayStartEquity.IsZero() {
		ratio, err := loss.DivChecked(acct.DayStartEquity, decimal.Scale)
		if err == nil && ratio.GreaterThan(decimal.NewFromFloat(m.cfg.MaxDailyLossPct)) {
			return CheckResult{Passed: false, Reason: ReasonDailyLossExceeded}
		}
	}
	return CheckResult{Passed: true}
}

// orderRateExceeded checks (without mutating) whether recording one more
// event would exceed max_orders_per_minute.
func (m *Manager) orderRateExceeded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneOrderEventsLocked()
	return len(m.orderEvents) >= m.cfg.MaxOrdersPerMinute
}

func (m *Manager) recordOrderEvent() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orderEvents = append(m.orderEvents, clock.Now())
	m.pruneOrderEventsLocked()
}

func (m *Manager) pruneOrderEventsLocked() {
	cutoff := clock.Now().Add(-clock.Minute)
	i := 0
	for i < len(m.orderEvents) && m.orderEvents[i].Before(cutoff) {
		i++
	}
	m.orderEvents = m.orderEvents[i:]
}

func (m *Manager) onPositionUpdated(e quanttypes.Event) error {
	pos, ok := e.Payload.(quanttypes.Position)
	if !ok {
		return nil
	}
	m.mu.Lock()
	prior := m.lastRealized[pos.Symbol]
	m.positions[pos.Symbol] = pos
	realizedDelta := pos.RealizedPnL.Sub(prior)
	m.lastRealized[pos.Symbol] = pos.RealizedPnL
	consecutive := m.consecutiveLosses
	if realizedDelta.Sign() < 0 {
		consecutive++
	} else if realizedDelta.Sign() > 0 {
		consecutive = 0
	}
	m.consecutiveLosses = consecutive
	limit := m.cfg.ConsecutiveLossLimit
	m.mu.Unlock()

	if limit > 0 && consecutive >= limit {
		m.KillSwitch("consecutive_loss_limit_exceeded")
	}
	return nil
}

func (m *Manager) onAccountUpdated(e quanttypes.Event) error {
	acct, ok := e.Payload.(quanttypes.Account)
	if !ok {
		return nil
	}
	m.mu.Lock()
	m.account = acct
	m.mu.Unlock()

	if m.cfg.MinEquity > 0 && acct.Equity.LessThanOrEqual(decimal.NewFromFloat(m.cfg.MinEquity)) {
		m.KillSwitch("min_equity_breached")
		return nil
	}
	if m.cfg.KillSwitchThreshold > 0 {
		loss := acct.DayStartEquity.Sub(acct.Equity)
		if loss.GreaterThan(decimal.NewFromFloat(m.cfg.KillSwitchThreshold)) {
			m.KillSwitch("kill_switch_threshold_breached")
		}
	}
	return nil
}

// KillSwitch atomically trips the process-wide flag, cancels all open
// orders, halts every registered strategy, and publishes
// system_kill_switch_activated. Kill switch activation is visible to any
// concurrent CheckOrder call before this function returns, since the flag
// is set before any of the cancel/halt side effects run.
func (m *Manager) KillSwitch(reason string) {
	if !m.killed.CompareAndSwap(false, true) {
		return // already tripped
	}
	m.log.Error("kill switch activated", "reason", reason, "error_kind", errs.KillSwitchTripped)

	if m.exec != nil {
		if n, err := m.exec.CancelAll(context.Background()); err != nil {
			m.log.Error("kill switch: cancel all failed", "error", err)
		} else {
			m.log.Info("kill switch: cancelled open orders", "count", n)
		}
		if m.cfg.ClosePositionsOnKillSwitch {
			m.flattenPositions()
		}
	}

	m.mu.Lock()
	strategies := make([]Haltable, 0, len(m.strategies))
	for _, h := range m.strategies {
		strategies = append(strategies, h)
	}
	m.mu.Unlock()
	for _, h := range strategies {
		h.Halt()
	}

	m.bus.Publish("system_kill_switch_activated", quanttypes.Event{
		Kind: quanttypes.EventKillSwitchActivated, Source: clock.Now(), Payload: reason,
	})
}

// flattenPositions submits a reduce-only IOC market order against every
// non-flat mirrored position, resolving Open Question 2 of spec.md §9 for
// the ClosePositionsOnKillSwitch=true case. Submission errors are logged,
// not retried — a flatten that fails here leaves a position open under a
// tripped kill switch, which CheckOrder already refuses to let grow.
func (m *Manager) flattenPositions() {
	m.mu.Lock()
	open := make([]quanttypes.Position, 0, len(m.positions))
	for _, p := range m.positions {
		if !p.IsFlat() {
			open = append(open, p)
		}
	}
	m.mu.Unlock()

	for _, p := range open {
		side := quanttypes.SideSell
		if p.IsShort() {
			side = quanttypes.SideBuy
		}
		order := quanttypes.Order{
			ClientID:    fmt.Sprintf("kill-switch-flatten-%s-%d", p.Symbol, clock.Now().Millis()),
			Symbol:      p.Symbol,
			Side:        side,
			Type:        quanttypes.OrderTypeMarket,
			Quantity:    p.Size.Abs(),
			ReduceOnly:  true,
			TimeInForce: quanttypes.TimeInForceIOC,
		}
		if _, err := m.exec.Submit(context.Background(), order); err != nil {
			m.log.Error("kill switch: flatten position failed", "symbol", p.Symbol, "error", err)
		} else {
			m.log.Info("kill switch: submitted flatten order", "symbol", p.Symbol, "size", p.Size.String())
		}
	}
}

// ResetKillSwitch clears the kill switch. token is the operator-supplied
// confirmation string; any non-empty value resets, matching the "explicit
// operator reset" contract of spec.md §4.7 — this core has no separate
// operator-identity system to validate it against.
func (m *Manager) ResetKillSwitch(token string) bool {
	if token == "" {
		return false
	}
	if m.killed.CompareAndSwap(true, false) {
		m.mu.Lock()
		m.consecutiveLosses = 0
		m.mu.Unlock()
		m.log.Info("kill switch reset", "token", token)
		return true
	}
	return false
}
