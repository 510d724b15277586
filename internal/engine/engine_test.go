package engine

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"hyperquant/internal/bus"
	"hyperquant/internal/config"
	"hyperquant/internal/decimal"
	"hyperquant/internal/ledger"
	"hyperquant/internal/quanttypes"
	"hyperquant/internal/risk"
	"hyperquant/internal/venue"
)

// noopExecutor satisfies risk.Executor without touching any real venue.
type noopExecutor struct{}

func (noopExecutor) Submit(ctx context.Context, order quanttypes.Order) (venue.SubmitResult, error) {
	return venue.SubmitResult{Accepted: true}, nil
}
func (noopExecutor) CancelAll(ctx context.Context) (int, error) { return 0, nil }

// fakeSession is a minimal Session backed by real risk.Manager/ledger.Ledger
// instances (Session requires the concrete types, not interfaces), so kill
// switch propagation and equity aggregation exercise the real dependency
// rather than a stub.
type fakeSession struct {
	id      string
	mode    string
	symbols []quanttypes.Symbol

	rm  *risk.Manager
	lg  *ledger.Ledger
	b   *bus.Bus

	started atomic.Bool
	stopped atomic.Bool
	paused  atomic.Bool
}

func newFakeSession(id, mode string, startingBalance decimal.Decimal) *fakeSession {
	b := bus.New(nil)
	lg := ledger.New(b, nil, startingBalance, 0)
	rm := risk.NewManager(config.RiskConfig{}, b, noopExecutor{}, nil)
	return &fakeSession{id: id, mode: mode, rm: rm, lg: lg, b: b}
}

func (s *fakeSession) ID() string                      { return s.id }
func (s *fakeSession) Mode() string                    { return s.mode }
func (s *fakeSession) Symbols() []quanttypes.Symbol     { return s.symbols }
func (s *fakeSession) RiskManager() *risk.Manager       { return s.rm }
func (s *fakeSession) Ledger() *ledger.Ledger           { return s.lg }
func (s *fakeSession) Stop()                            { s.stopped.Store(true) }
func (s *fakeSession) Pause()                           { s.paused.Store(true) }
func (s *fakeSession) Resume()                          { s.paused.Store(false) }
func (s *fakeSession) Start(ctx context.Context) error {
	s.started.Store(true)
	<-ctx.Done()
	return ctx.Err()
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met within deadline")
}

func TestRegisterStartsSessionAndRejectsDuplicateID(t *testing.T) {
	t.Parallel()
	m := NewManager(nil, nil)
	sess := newFakeSession("s1", "live", decimal.Zero)

	if err := m.Register(context.Background(), sess); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	waitFor(t, sess.started.Load)

	if err := m.Register(context.Background(), newFakeSession("s1", "live", decimal.Zero)); err == nil {
		t.Fatalf("expected duplicate registration to be rejected")
	}
}

func TestStopCancelsContextAndCallsSessionStop(t *testing.T) {
	t.Parallel()
	m := NewManager(nil, nil)
	sess := newFakeSession("s1", "live", decimal.Zero)
	if err := m.Register(context.Background(), sess); err != nil {
		t.Fatalf("register: %v", err)
	}
	waitFor(t, sess.started.Load)

	m.Stop("s1")
	waitFor(t, sess.stopped.Load)

	if _, ok := m.get("s1"); ok {
		t.Fatalf("session should be deregistered after Stop")
	}
}

func TestPauseAndResumeAreNoOpsForUnknownID(t *testing.T) {
	t.Parallel()
	m := NewManager(nil, nil)
	// Must not panic when the id is not registered.
	m.Pause("missing")
	m.Resume("missing")
}

func TestPauseResumeDelegateToSession(t *testing.T) {
	t.Parallel()
	m := NewManager(nil, nil)
	sess := newFakeSession("s1", "live", decimal.Zero)
	if err := m.Register(context.Background(), sess); err != nil {
		t.Fatalf("register: %v", err)
	}
	waitFor(t, sess.started.Load)

	m.Pause("s1")
	if !sess.paused.Load() {
		t.Fatalf("expected session to be paused")
	}
	m.Resume("s1")
	if sess.paused.Load() {
		t.Fatalf("expected session to no longer be paused")
	}
}

func TestKillSwitchPropagatesToRegisteredSessions(t *testing.T) {
	t.Parallel()
	m := NewManager(nil, nil)
	a := newFakeSession("a", "live", decimal.Zero)
	b := newFakeSession("b", "backtest", decimal.Zero)
	if err := m.Register(context.Background(), a); err != nil {
		t.Fatalf("register a: %v", err)
	}
	if err := m.Register(context.Background(), b); err != nil {
		t.Fatalf("register b: %v", err)
	}

	m.KillSwitch("test_trip")

	if !a.rm.IsKillSwitchActive() {
		t.Errorf("expected session a's risk manager to be killed")
	}
	if !b.rm.IsKillSwitchActive() {
		t.Errorf("expected session b's risk manager to be killed")
	}
	if !m.Snapshot().KillSwitchActive {
		t.Errorf("expected Manager snapshot to report kill switch active")
	}
}

func TestRegisterAfterKillSwitchStartsPreKilled(t *testing.T) {
	t.Parallel()
	m := NewManager(nil, nil)
	m.KillSwitch("fleet_wide")

	sess := newFakeSession("late", "live", decimal.Zero)
	if err := m.Register(context.Background(), sess); err != nil {
		t.Fatalf("register: %v", err)
	}

	if !sess.rm.IsKillSwitchActive() {
		t.Fatalf("expected a session registered after a fleet kill switch to start pre-killed")
	}
}

func TestResetAllClearsKillSwitch(t *testing.T) {
	t.Parallel()
	m := NewManager(nil, nil)
	sess := newFakeSession("s1", "live", decimal.Zero)
	if err := m.Register(context.Background(), sess); err != nil {
		t.Fatalf("register: %v", err)
	}
	m.KillSwitch("trip")
	if !sess.rm.IsKillSwitchActive() {
		t.Fatalf("expected kill switch active before reset")
	}

	m.ResetAll("operator-confirm")

	if sess.rm.IsKillSwitchActive() {
		t.Errorf("expected session's kill switch cleared after ResetAll")
	}
	if m.Snapshot().KillSwitchActive {
		t.Errorf("expected Manager snapshot to report kill switch cleared")
	}
}

func TestSnapshotAggregatesCountsAndEquity(t *testing.T) {
	t.Parallel()
	m := NewManager(nil, nil)
	live1 := newFakeSession("l1", "live", decimal.NewFromInt(1000))
	live2 := newFakeSession("l2", "live", decimal.NewFromInt(500))
	backtest1 := newFakeSession("bt1", "backtest", decimal.NewFromInt(2000))

	for _, s := range []*fakeSession{live1, live2, backtest1} {
		if err := m.Register(context.Background(), s); err != nil {
			t.Fatalf("register %s: %v", s.id, err)
		}
	}

	snap := m.Snapshot()
	if snap.LiveSessions != 2 {
		t.Errorf("LiveSessions = %d, want 2", snap.LiveSessions)
	}
	if snap.BacktestSessions != 1 {
		t.Errorf("BacktestSessions = %d, want 1", snap.BacktestSessions)
	}
	wantEquity := decimal.NewFromInt(3500)
	if !snap.TotalEquity.Equal(wantEquity) {
		t.Errorf("TotalEquity = %s, want %s", snap.TotalEquity, wantEquity)
	}
}

func TestStopAllStopsEverySession(t *testing.T) {
	t.Parallel()
	m := NewManager(nil, nil)
	a := newFakeSession("a", "live", decimal.Zero)
	b := newFakeSession("b", "live", decimal.Zero)
	if err := m.Register(context.Background(), a); err != nil {
		t.Fatalf("register a: %v", err)
	}
	if err := m.Register(context.Background(), b); err != nil {
		t.Fatalf("register b: %v", err)
	}

	m.StopAll()
	waitFor(t, func() bool { return a.stopped.Load() && b.stopped.Load() })

	snap := m.Snapshot()
	if snap.LiveSessions != 0 {
		t.Errorf("expected no sessions left registered after StopAll, got %d", snap.LiveSessions)
	}
}
