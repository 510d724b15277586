// Package engine is the Engine Manager (spec.md §4.11, C12): it maintains
// the registry of running strategy sessions — live or backtest — each
// under a unique id, exposes start/stop/pause/resume per entity and an
// aggregate view, and propagates the kill switch by visiting every
// registered session's risk.Manager and issuing KillSwitch.
//
// Structurally grounded on the teacher's Engine (engine/engine.go): the
// same "registry keyed by id, one goroutine per running entity, reconcile
// on scanner/kill events" shape, generalized from Polymarket's per-market
// slots (ConditionID-keyed, Scanner-driven) to per-exchange-session slots
// (operator-driven: one LiveSession per configured venue, trading every
// configured symbol through one shared ledger/risk manager, since spec.md
// §3 makes Account a single process-wide record rather than one per
// market).
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"hyperquant/internal/backtest"
	"hyperquant/internal/bus"
	"hyperquant/internal/cache"
	"hyperquant/internal/clock"
	"hyperquant/internal/config"
	"hyperquant/internal/decimal"
	"hyperquant/internal/ledger"
	"hyperquant/internal/metrics"
	"hyperquant/internal/quanttypes"
	"hyperquant/internal/risk"
	"hyperquant/internal/store"
	"hyperquant/internal/strategy"
	"hyperquant/internal/venue"
	"hyperquant/internal/venue/hyperliquid"
)

// Session is one running entity the Manager tracks: a live exchange
// session or a backtest replay. Both wrap a bus/cache/ledger/risk stack
// wired the same way so strategy code is identical across modes
// (spec.md §1 "identical strategy semantics across execution modes").
type Session interface {
	ID() string
	Mode() string // "live" | "backtest"
	Symbols() []quanttypes.Symbol
	Start(ctx context.Context) error
	Stop()
	Pause()
	Resume()
	RiskManager() *risk.Manager
	Ledger() *ledger.Ledger
}

// Snapshot is the Manager's aggregate view (spec.md §4.11: "counts,
// totals").
type Snapshot struct {
	LiveSessions     int
	BacktestSessions int
	TotalEquity      decimal.Decimal
	KillSwitchActive bool
}

// Manager owns the session registry and is the single point through which
// the kill switch fans out fleet-wide (spec.md §4.7 "halts every
// registered strategy runtime").
type Manager struct {
	log     *slog.Logger
	metrics metrics.Sink

	mu       sync.Mutex
	sessions map[string]Session
	cancels  map[string]context.CancelFunc
	killed   bool
}

// NewManager constructs an empty registry.
func NewManager(log *slog.Logger, sink metrics.Sink) *Manager {
	if log == nil {
		log = slog.Default()
	}
	if sink == nil {
		sink = metrics.Noop{}
	}
	return &Manager{
		log:      log.With("component", "engine_manager"),
		metrics:  sink,
		sessions: make(map[string]Session),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Register adds sess under its own ID and immediately starts it, running
// under a child context the Manager controls so Stop(id) can cancel just
// that one session.
func (m *Manager) Register(parent context.Context, sess Session) error {
	m.mu.Lock()
	if _, exists := m.sessions[sess.ID()]; exists {
		m.mu.Unlock()
		return fmt.Errorf("engine: session %q already registered", sess.ID())
	}
	ctx, cancel := context.WithCancel(parent)
	m.sessions[sess.ID()] = sess
	m.cancels[sess.ID()] = cancel
	killed := m.killed
	m.mu.Unlock()

	if killed {
		// A kill switch tripped before this session existed: honor it
		// immediately rather than letting a freshly started session
		// trade under a halted fleet.
		sess.RiskManager().KillSwitch("kill_switch_active_at_registration")
	}

	go func() {
		if err := sess.Start(ctx); err != nil && ctx.Err() == nil {
			m.log.Error("session exited with error", "id", sess.ID(), "mode", sess.Mode(), "error", err)
		}
	}()
	return nil
}

// Stop halts and deregisters id.
func (m *Manager) Stop(id string) {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	cancel := m.cancels[id]
	delete(m.sessions, id)
	delete(m.cancels, id)
	m.mu.Unlock()
	if !ok {
		return
	}
	sess.Stop()
	if cancel != nil {
		cancel()
	}
}

// Pause halts quoting for id without tearing down its connections.
func (m *Manager) Pause(id string) {
	if sess, ok := m.get(id); ok {
		sess.Pause()
	}
}

// Resume clears a Pause for id.
func (m *Manager) Resume(id string) {
	if sess, ok := m.get(id); ok {
		sess.Resume()
	}
}

func (m *Manager) get(id string) (Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// KillSwitch trips every registered session's risk.Manager, per spec.md
// §4.7/§4.11. Sessions registered afterward also start pre-killed (see
// Register), so a reset must explicitly call ResetAll.
func (m *Manager) KillSwitch(reason string) {
	m.mu.Lock()
	m.killed = true
	sessions := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	m.log.Error("fleet-wide kill switch", "reason", reason, "sessions", len(sessions))
	for _, s := range sessions {
		s.RiskManager().KillSwitch(reason)
	}
}

// ResetAll clears the fleet-wide kill switch marker and resets every
// registered session's risk.Manager.
func (m *Manager) ResetAll(token string) {
	m.mu.Lock()
	m.killed = false
	sessions := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	for _, s := range sessions {
		s.RiskManager().ResetKillSwitch(token)
	}
}

// StopAll stops every registered session, e.g. on process shutdown.
func (m *Manager) StopAll() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()
	for _, id := range ids {
		m.Stop(id)
	}
}

// Snapshot returns the aggregate view of spec.md §4.11.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{KillSwitchActive: m.killed}
	total := decimal.Zero
	for _, s := range m.sessions {
		switch s.Mode() {
		case "live":
			snap.LiveSessions++
		case "backtest":
			snap.BacktestSessions++
		}
		total = total.Add(s.Ledger().Account().Equity)
	}
	snap.TotalEquity = total
	return snap
}

// msDuration converts a stdlib time.Duration config field to the internal
// millisecond clock.Duration the strategy package's constructors expect.
func msDuration(d time.Duration) clock.Duration {
	return clock.Duration(d.Milliseconds())
}

// --- Live sessions -----------------------------------------------------

// LiveSession wires one exchange's venue adapters, a shared bus/cache/
// ledger/risk stack, and one strategy runtime per configured symbol
// (spec.md §9 "cyclic references": Ledger is the sole Order/Position/
// Account owner for the whole session, not per symbol).
type LiveSession struct {
	id      string
	cfg     config.Config
	symbols []quanttypes.Symbol
	log     *slog.Logger
	metrics metrics.Sink
	store   *store.Store

	bus    *bus.Bus
	cache  *cache.Cache
	ledger *ledger.Ledger
	risk   *risk.Manager

	data *hyperliquid.DataAdapter
	exec venue.ExecutionAdapter

	runtimes []*strategy.Runtime
}

// NewLiveSession builds (but does not start) a live session against
// excfg, trading cfg.Trading.Symbols, publishing through sink.
func NewLiveSession(id string, cfg config.Config, excfg config.ExchangeConfig, sink metrics.Sink, st *store.Store, log *slog.Logger) (*LiveSession, error) {
	if log == nil {
		log = slog.Default()
	}
	if sink == nil {
		sink = metrics.Noop{}
	}
	log = log.With("component", "live_session", "session", id, "exchange", excfg.Name)

	symbols := make([]quanttypes.Symbol, 0, len(cfg.Trading.Symbols))
	assetIndex := make(map[quanttypes.Symbol]int, len(cfg.Trading.Symbols))
	for i, s := range cfg.Trading.Symbols {
		sym, err := quanttypes.ParseSymbol(s)
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		symbols = append(symbols, sym)
		assetIndex[sym] = i
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("engine: live session %q: no symbols configured", id)
	}

	b := bus.New(log)
	c := cache.New(log, b, cache.DefaultRingCapacity)
	ldgr := ledger.New(b, log, decimal.Zero, cfg.Trading.DailyResetUTCHour)

	for _, sym := range symbols {
		if pos, ok, err := st.LoadPosition(sym); err != nil {
			log.Error("restore position failed", "symbol", sym.String(), "error", err)
		} else if ok {
			ldgr.RestorePosition(pos)
		}
	}

	data := hyperliquid.NewDataAdapter(excfg.WSURL, b, c, log)

	signer, err := venue.NewSigner(excfg.PrivateKey, int64(excfg.ChainID))
	if err != nil {
		return nil, fmt.Errorf("engine: live session %q: %w", id, err)
	}
	exec := hyperliquid.NewExecutionAdapter(excfg.RESTBaseURL, signer, assetIndex, b, cfg.DryRun, log)

	riskMgr := risk.NewManager(cfg.Risk, b, exec, log)

	sess := &LiveSession{
		id: id, cfg: cfg, symbols: symbols,
		log: log, metrics: sink, store: st,
		bus: b, cache: c, ledger: ldgr, risk: riskMgr,
		data: data, exec: exec,
	}

	b.Subscribe("position_updated", sess.onPositionUpdated)

	for _, sym := range symbols {
		maker := strategy.NewMaker(sym, c,
			strategy.MakerParams{
				Gamma: cfg.Strategy.Gamma, Sigma: cfg.Strategy.Sigma, K: cfg.Strategy.K, T: cfg.Strategy.T,
				DefaultSpreadBps:    cfg.Strategy.DefaultSpreadBps,
				OrderQuantity:       decimal.NewFromFloat(cfg.Strategy.OrderQuantity),
				InventoryNormalizer: decimal.NewFromFloat(cfg.Strategy.OrderQuantity * 10),
			},
			msDuration(cfg.Strategy.StaleBookTimeout),
			msDuration(cfg.Strategy.FlowWindow),
			msDuration(cfg.Strategy.FlowCooldownPeriod),
			cfg.Strategy.FlowToxicityThreshold,
			cfg.Strategy.FlowMaxSpreadMultiplier,
			log,
		)
		rt := strategy.New(
			fmt.Sprintf("%s-%s", id, sym.String()), maker, b, riskMgr, exec, ldgr,
			cfg.Strategy.RefreshInterval, cfg.Strategy.ReloadInterval, cfg.Strategy.ReloadPath, log,
		)
		rt.Subscribe([]quanttypes.Symbol{sym})
		sess.runtimes = append(sess.runtimes, rt)
	}

	return sess, nil
}

func (s *LiveSession) ID() string                   { return s.id }
func (s *LiveSession) Mode() string                 { return "live" }
func (s *LiveSession) Symbols() []quanttypes.Symbol { return s.symbols }
func (s *LiveSession) RiskManager() *risk.Manager   { return s.risk }
func (s *LiveSession) Ledger() *ledger.Ledger       { return s.ledger }

func (s *LiveSession) onPositionUpdated(e quanttypes.Event) error {
	pos, ok := e.Payload.(quanttypes.Position)
	if !ok {
		return nil
	}
	if err := s.store.SavePosition(pos); err != nil {
		s.log.Error("persist position failed", "symbol", pos.Symbol.String(), "error", err)
	}
	s.metrics.SetPositionSize(pos.Symbol.String(), pos.Size.Float64())
	s.metrics.SetPositionPnL(pos.Symbol.String(), pos.RealizedPnL.Add(pos.UnrealizedPnL).Float64())
	return nil
}

// Start connects the venue data adapter, subscribes every configured
// symbol, and runs every strategy runtime. Blocks until ctx is cancelled.
func (s *LiveSession) Start(ctx context.Context) error {
	if err := s.data.Subscribe(ctx, s.symbols); err != nil {
		s.log.Error("initial subscribe failed", "error", err)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.data.Run(ctx); err != nil && ctx.Err() == nil {
			s.log.Error("data adapter exited", "error", err)
		}
	}()

	dailyTicker := time.NewTicker(time.Minute)
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer dailyTicker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-dailyTicker.C:
				s.ledger.MaybeDailyReset(clock.Now())
			}
		}
	}()

	for _, rt := range s.runtimes {
		wg.Add(1)
		go func(rt *strategy.Runtime) {
			defer wg.Done()
			if err := rt.Run(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("strategy runtime exited", "error", err)
			}
		}(rt)
	}

	wg.Wait()
	return ctx.Err()
}

// Stop disconnects the data adapter; strategy runtime teardown happens
// when Start's context is cancelled by the Manager.
func (s *LiveSession) Stop() {
	if err := s.data.Close(); err != nil {
		s.log.Error("close data adapter failed", "error", err)
	}
}

// Pause halts every runtime in this session without disconnecting.
func (s *LiveSession) Pause() {
	for _, rt := range s.runtimes {
		rt.Halt()
	}
}

// Resume clears a Pause.
func (s *LiveSession) Resume() {
	for _, rt := range s.runtimes {
		rt.Resume()
	}
}

// --- Backtest sessions ---------------------------------------------------

// BacktestSession wires the same bus/cache/ledger/risk stack as a
// LiveSession, but drives it from backtest.Engine instead of a venue
// adapter pair, so the attached strategy runtimes run unmodified against
// either (spec.md §4.10).
type BacktestSession struct {
	id      string
	symbols []quanttypes.Symbol
	log     *slog.Logger

	bus    *bus.Bus
	cache  *cache.Cache
	ledger *ledger.Ledger
	risk   *risk.Manager
	eng    *backtest.Engine

	runtimes []*strategy.Runtime
}

// NewBacktestSession builds a backtest run over feed, starting the
// simulated clock at startTime.
func NewBacktestSession(id string, cfg config.Config, feed backtest.Feeder, startTime clock.Timestamp, log *slog.Logger) (*BacktestSession, error) {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "backtest_session", "session", id)

	symbols := make([]quanttypes.Symbol, 0, len(cfg.Trading.Symbols))
	for _, s := range cfg.Trading.Symbols {
		sym, err := quanttypes.ParseSymbol(s)
		if err != nil {
			return nil, fmt.Errorf("engine: %w", err)
		}
		symbols = append(symbols, sym)
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("engine: backtest session %q: no symbols configured", id)
	}

	b := bus.New(log)
	c := cache.New(log, b, cache.DefaultRingCapacity)
	ldgr := ledger.New(b, log, decimal.Zero, cfg.Trading.DailyResetUTCHour)

	eng := backtest.New(cfg.Backtest, symbols, feed, b, ldgr, cfg.Strategy.RefreshInterval, startTime, log)
	riskMgr := risk.NewManager(cfg.Risk, b, eng, log)

	sess := &BacktestSession{
		id: id, symbols: symbols, log: log,
		bus: b, cache: c, ledger: ldgr, risk: riskMgr, eng: eng,
	}

	for _, sym := range symbols {
		maker := strategy.NewMaker(sym, c,
			strategy.MakerParams{
				Gamma: cfg.Strategy.Gamma, Sigma: cfg.Strategy.Sigma, K: cfg.Strategy.K, T: cfg.Strategy.T,
				DefaultSpreadBps:    cfg.Strategy.DefaultSpreadBps,
				OrderQuantity:       decimal.NewFromFloat(cfg.Strategy.OrderQuantity),
				InventoryNormalizer: decimal.NewFromFloat(cfg.Strategy.OrderQuantity * 10),
			},
			msDuration(cfg.Strategy.StaleBookTimeout),
			msDuration(cfg.Strategy.FlowWindow),
			msDuration(cfg.Strategy.FlowCooldownPeriod),
			cfg.Strategy.FlowToxicityThreshold,
			cfg.Strategy.FlowMaxSpreadMultiplier,
			log,
		)
		// Hot-reload is irrelevant inside a single deterministic replay:
		// pass an empty reloadPath so no fsnotify watcher is started.
		rt := strategy.New(
			fmt.Sprintf("%s-%s", id, sym.String()), maker, b, riskMgr, eng, ldgr,
			cfg.Strategy.RefreshInterval, cfg.Strategy.ReloadInterval, "", log,
		)
		rt.Subscribe([]quanttypes.Symbol{sym})
		eng.AttachRuntime(rt)
		sess.runtimes = append(sess.runtimes, rt)
	}

	return sess, nil
}

func (s *BacktestSession) ID() string                   { return s.id }
func (s *BacktestSession) Mode() string                 { return "backtest" }
func (s *BacktestSession) Symbols() []quanttypes.Symbol { return s.symbols }
func (s *BacktestSession) RiskManager() *risk.Manager   { return s.risk }
func (s *BacktestSession) Ledger() *ledger.Ledger       { return s.ledger }

// Result returns the accumulated equity curve, fills, and summary
// statistics once Start has returned.
func (s *BacktestSession) Result() backtest.Result { return s.eng.Result() }

// Start runs the replay to completion or until ctx is cancelled.
func (s *BacktestSession) Start(ctx context.Context) error {
	return s.eng.Run(ctx)
}

// Stop is a no-op: a backtest has no external connection to tear down; the
// caller cancels Start's context to abort early.
func (s *BacktestSession) Stop() {}

// Pause halts every attached runtime without aborting the replay.
func (s *BacktestSession) Pause() {
	for _, rt := range s.runtimes {
		rt.Halt()
	}
}

// Resume clears a Pause.
func (s *BacktestSession) Resume() {
	for _, rt := range s.runtimes {
		rt.Resume()
	}
}
