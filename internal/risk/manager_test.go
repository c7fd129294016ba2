package risk

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap/zaptest"

	"github.com/ppiankov/tradeguard/internal/durable"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func testConfig(t *testing.T) *RiskConfig {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.TradeCooldownSecs = 0
	cfg.StatePath = filepath.Join(dir, "risk_state.json")
	cfg.JournalPath = filepath.Join(dir, "journal.jsonl")
	cfg.KillSwitchPath = filepath.Join(dir, "STOP")
	return cfg
}

func newTestManager(t *testing.T, cfg *RiskConfig, opts ...Option) *Manager {
	t.Helper()
	base := []Option{
		WithLogger(zaptest.NewLogger(t)),
		WithStoreOptions(func(o *durable.Options[*State]) {
			o.Debounce = 10 * time.Millisecond
			o.RetryDelay = time.Millisecond
		}),
	}
	m, err := NewManager(context.Background(), cfg, append(base, opts...)...)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(func() { m.Close(context.Background()) })
	return m
}

func trade(user string, amount string) TradeContext {
	return TradeContext{
		UserID:           user,
		FromToken:        "USDC",
		ToToken:          "SOL",
		AmountUSD:        decimal.RequireFromString(amount),
		ExpectedSlippage: decimal.RequireFromString("0.5"),
	}
}

func reserve(t *testing.T, m *Manager, tc TradeContext) Decision {
	t.Helper()
	d, err := m.CheckAndReserve(context.Background(), tc)
	if err != nil {
		t.Fatalf("CheckAndReserve: %v", err)
	}
	return d
}

func mustApprove(t *testing.T, m *Manager, tc TradeContext) string {
	t.Helper()
	d := reserve(t, m, tc)
	if !d.Approved {
		t.Fatalf("expected approval for %s, denied: %v", tc.AmountUSD, d.Denial)
	}
	if d.ReservationID == "" {
		t.Fatal("approved decision has no reservation id")
	}
	return d.ReservationID
}

func mustDeny(t *testing.T, m *Manager, tc TradeContext, want Reason) {
	t.Helper()
	d := reserve(t, m, tc)
	if d.Approved {
		t.Fatalf("expected %s denial for %s, got approval", want, tc.AmountUSD)
	}
	if d.Denial.Reason != want {
		t.Fatalf("expected %s, got %s", want, d.Denial)
	}
}

func usage(t *testing.T, m *Manager, user string) Usage {
	t.Helper()
	u, err := m.Usage(context.Background(), user)
	if err != nil {
		t.Fatalf("Usage: %v", err)
	}
	return u
}

func assertDecimal(t *testing.T, what string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Errorf("%s: expected %s, got %s", what, want, got)
	}
}

func TestAmountBoundaryIsInclusive(t *testing.T) {
	m := newTestManager(t, testConfig(t))

	mustApprove(t, m, trade("alice", "10000"))
	mustDeny(t, m, trade("bob", "10000.01"), AmountExceeded)
}

func TestConcurrentReservationsNeverExceedDailyLimit(t *testing.T) {
	cfg := testConfig(t)
	m := newTestManager(t, cfg)

	const callers = 50
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		approved = decimal.Zero
		count    int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := m.CheckAndReserve(context.Background(), trade("alice", "3000"))
			if err != nil {
				t.Errorf("CheckAndReserve: %v", err)
				return
			}
			if d.Approved {
				mu.Lock()
				approved = approved.Add(decimal.NewFromInt(3000))
				count++
				mu.Unlock()
			} else if d.Denial.Reason != DailyVolumeExceeded {
				t.Errorf("unexpected denial: %v", d.Denial)
			}
		}()
	}
	wg.Wait()

	if approved.GreaterThan(cfg.MaxDailyVolumeUSD) {
		t.Fatalf("approved %s beyond daily limit %s", approved, cfg.MaxDailyVolumeUSD)
	}
	if count != 16 {
		t.Errorf("expected 16 approvals of 3000 under 50000, got %d", count)
	}
	u := usage(t, m, "alice")
	assertDecimal(t, "reserved", u.ReservedUSD, "48000")
	assertDecimal(t, "remaining", u.RemainingUSD, "2000")
}

func TestConcurrentCommitsNeverExceedDailyLimit(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxDailyVolumeUSD = decimal.NewFromInt(10000)
	m := newTestManager(t, cfg)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := m.CheckAndReserve(context.Background(), trade("alice", "1500"))
			if err != nil || !d.Approved {
				return
			}
			if err := m.Commit(context.Background(), d.ReservationID); err != nil {
				t.Errorf("Commit: %v", err)
			}
		}()
	}
	wg.Wait()

	u := usage(t, m, "alice")
	assertDecimal(t, "committed", u.CommittedUSD, "9000")
}

func TestCommitWriteFailureRevertsAccumulator(t *testing.T) {
	cfg := testConfig(t)
	var fail atomic.Bool
	m := newTestManager(t, cfg, WithStoreOptions(func(o *durable.Options[*State]) {
		o.WriteFile = func(path string, data []byte) error {
			if fail.Load() {
				return errors.New("disk full")
			}
			return durable.WriteAtomic(path, data)
		}
	}))

	if err := m.Commit(context.Background(), mustApprove(t, m, trade("alice", "100"))); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	id := mustApprove(t, m, trade("alice", "250"))
	fail.Store(true)
	err := m.Commit(context.Background(), id)
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}

	u := usage(t, m, "alice")
	assertDecimal(t, "committed", u.CommittedUSD, "100")
	assertDecimal(t, "reserved", u.ReservedUSD, "0")
	if err := m.Commit(context.Background(), id); !errors.Is(err, ErrUnknownReservation) {
		t.Errorf("expected failed commit to release reservation, got %v", err)
	}

	fail.Store(false)
	restarted := newTestManager(t, cfg)
	assertDecimal(t, "committed after restart", usage(t, restarted, "alice").CommittedUSD, "100")
}

func TestTruncatedSnapshotLoadsPreviousValid(t *testing.T) {
	cfg := testConfig(t)
	m := newTestManager(t, cfg)

	for _, amount := range []string{"100", "200"} {
		if err := m.Commit(context.Background(), mustApprove(t, m, trade("alice", amount))); err != nil {
			t.Fatalf("Commit: %v", err)
		}
	}

	data, err := os.ReadFile(cfg.StatePath)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(cfg.StatePath, data[:len(data)/2], 0600); err != nil {
		t.Fatal(err)
	}

	restarted := newTestManager(t, cfg)
	assertDecimal(t, "committed", usage(t, restarted, "alice").CommittedUSD, "100")
}

func TestCooldownDeniesTradeAfterCommit(t *testing.T) {
	cfg := testConfig(t)
	cfg.TradeCooldownSecs = 5
	clock := newFakeClock(time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC))
	m := newTestManager(t, cfg, WithClock(clock.Now))

	if err := m.Commit(context.Background(), mustApprove(t, m, trade("alice", "10"))); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	clock.Advance(2 * time.Second)
	mustDeny(t, m, trade("alice", "10"), Cooldown)
	mustApprove(t, m, trade("bob", "10"))

	clock.Advance(3 * time.Second)
	mustApprove(t, m, trade("alice", "10"))
}

func TestCooldownStartsAtReservation(t *testing.T) {
	cfg := testConfig(t)
	cfg.TradeCooldownSecs = 5
	clock := newFakeClock(time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC))
	m := newTestManager(t, cfg, WithClock(clock.Now))

	id := mustApprove(t, m, trade("alice", "10"))
	mustDeny(t, m, trade("alice", "10"), Cooldown)

	if err := m.Rollback(context.Background(), id); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	mustApprove(t, m, trade("alice", "10"))
}

func TestDayBoundaryUsesIndependentAccumulators(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxDailyVolumeUSD = decimal.NewFromInt(1000)
	clock := newFakeClock(time.Date(2026, 10, 19, 23, 59, 59, 0, time.UTC))
	m := newTestManager(t, cfg, WithClock(clock.Now))

	if err := m.Commit(context.Background(), mustApprove(t, m, trade("alice", "800"))); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	mustDeny(t, m, trade("alice", "300"), DailyVolumeExceeded)

	clock.Set(time.Date(2026, 10, 20, 0, 0, 1, 0, time.UTC))
	if err := m.Commit(context.Background(), mustApprove(t, m, trade("alice", "800"))); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	u := usage(t, m, "alice")
	if u.CalendarDate != "2026-10-20" {
		t.Errorf("expected calendar date 2026-10-20, got %s", u.CalendarDate)
	}
	assertDecimal(t, "committed", u.CommittedUSD, "800")
	mustDeny(t, m, trade("alice", "300"), DailyVolumeExceeded)
}

func TestInvalidTradeIsRejectedWithoutMutation(t *testing.T) {
	cfg := testConfig(t)
	m := newTestManager(t, cfg)

	tests := []struct {
		name string
		tc   TradeContext
	}{
		{"negative amount", trade("alice", "-100")},
		{"zero amount", trade("alice", "0")},
		{"missing user", trade("", "100")},
		{"negative slippage", func() TradeContext {
			tc := trade("alice", "100")
			tc.ExpectedSlippage = decimal.NewFromInt(-1)
			return tc
		}()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := m.CheckAndReserve(context.Background(), tt.tc)
			if !errors.Is(err, ErrInvalidTrade) {
				t.Fatalf("expected ErrInvalidTrade, got %v", err)
			}
			if d.Approved {
				t.Fatal("invalid trade approved")
			}
		})
	}

	assertDecimal(t, "remaining", usage(t, m, "alice").RemainingUSD, "50000")
	if _, err := os.Stat(cfg.StatePath); !os.IsNotExist(err) {
		t.Errorf("expected no state file, stat returned %v", err)
	}
}

func TestRollbackRestoresRemainingLimit(t *testing.T) {
	m := newTestManager(t, testConfig(t))

	id := mustApprove(t, m, trade("alice", "4000"))
	remaining, err := m.RemainingDailyLimit(context.Background(), "alice")
	if err != nil {
		t.Fatal(err)
	}
	assertDecimal(t, "remaining while reserved", remaining, "46000")

	if err := m.Rollback(context.Background(), id); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	remaining, _ = m.RemainingDailyLimit(context.Background(), "alice")
	assertDecimal(t, "remaining after rollback", remaining, "50000")

	if err := m.Rollback(context.Background(), id); !errors.Is(err, ErrUnknownReservation) {
		t.Errorf("second rollback: expected ErrUnknownReservation, got %v", err)
	}
	if err := m.Commit(context.Background(), id); !errors.Is(err, ErrUnknownReservation) {
		t.Errorf("commit after rollback: expected ErrUnknownReservation, got %v", err)
	}
}

func TestCommitTwiceIsRejected(t *testing.T) {
	m := newTestManager(t, testConfig(t))

	id := mustApprove(t, m, trade("alice", "100"))
	if err := m.Commit(context.Background(), id); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if err := m.Commit(context.Background(), id); !errors.Is(err, ErrUnknownReservation) {
		t.Fatalf("expected ErrUnknownReservation, got %v", err)
	}
	assertDecimal(t, "committed", usage(t, m, "alice").CommittedUSD, "100")
}

func TestExpiredReservationCannotBeCommitted(t *testing.T) {
	cfg := testConfig(t)
	cfg.ReservationTimeout = time.Hour
	clock := newFakeClock(time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC))
	m := newTestManager(t, cfg, WithClock(clock.Now))

	id := mustApprove(t, m, trade("alice", "500"))
	clock.Advance(30 * time.Minute)
	if n, err := m.ExpireStale(context.Background()); err != nil || n != 0 {
		t.Fatalf("ExpireStale before deadline: n=%d err=%v", n, err)
	}

	clock.Advance(31 * time.Minute)
	n, err := m.ExpireStale(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("ExpireStale after deadline: n=%d err=%v", n, err)
	}
	if err := m.Commit(context.Background(), id); !errors.Is(err, ErrReservationExpired) {
		t.Fatalf("expected ErrReservationExpired, got %v", err)
	}
	assertDecimal(t, "remaining", usage(t, m, "alice").RemainingUSD, "50000")
}

func TestReaperReleasesAbandonedReservation(t *testing.T) {
	cfg := testConfig(t)
	cfg.ReservationTimeout = 40 * time.Millisecond
	m := newTestManager(t, cfg)

	mustApprove(t, m, trade("alice", "500"))

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if usage(t, m, "alice").Reservations == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("reservation was not released by the reaper")
}

func TestCommittedVolumeSurvivesRestart(t *testing.T) {
	cfg := testConfig(t)
	m := newTestManager(t, cfg)

	if err := m.Commit(context.Background(), mustApprove(t, m, trade("alice", "1234.56"))); err != nil {
		t.Fatal(err)
	}
	mustApprove(t, m, trade("alice", "100"))
	if err := m.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	restarted := newTestManager(t, cfg)
	u := usage(t, restarted, "alice")
	assertDecimal(t, "committed", u.CommittedUSD, "1234.56")
	assertDecimal(t, "reserved", u.ReservedUSD, "0")
	if u.LastTradeAt == nil {
		t.Error("expected last trade time to survive restart")
	}
}

func TestCloseRejectsLaterCalls(t *testing.T) {
	m := newTestManager(t, testConfig(t))
	if err := m.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := m.CheckAndReserve(context.Background(), trade("alice", "10")); !errors.Is(err, durable.ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if err := m.Close(context.Background()); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

type countingCheck struct {
	commits   atomic.Int32
	rollbacks atomic.Int32
}

func (c *countingCheck) Name() string               { return "counting" }
func (c *countingCheck) Check(TradeContext) *Denial { return nil }
func (c *countingCheck) Commit(TradeContext)        { c.commits.Add(1) }
func (c *countingCheck) Rollback(TradeContext)      { c.rollbacks.Add(1) }

func TestPipelineHooksRunOncePerResolution(t *testing.T) {
	counter := &countingCheck{}
	m := newTestManager(t, testConfig(t), WithChecks(counter))

	committed := mustApprove(t, m, trade("alice", "10"))
	rolledBack := mustApprove(t, m, trade("bob", "10"))

	if err := m.Commit(context.Background(), committed); err != nil {
		t.Fatal(err)
	}
	m.Commit(context.Background(), committed)
	if err := m.Rollback(context.Background(), rolledBack); err != nil {
		t.Fatal(err)
	}
	m.Rollback(context.Background(), rolledBack)

	if got := counter.commits.Load(); got != 1 {
		t.Errorf("expected 1 commit hook, got %d", got)
	}
	if got := counter.rollbacks.Load(); got != 1 {
		t.Errorf("expected 1 rollback hook, got %d", got)
	}
}

func TestPipelineDenialSkipsReservation(t *testing.T) {
	cfg := testConfig(t)
	cfg.TokenBlacklist = []string{"SCAM"}
	m := newTestManager(t, cfg)

	tc := trade("alice", "10")
	tc.ToToken = "scam"
	mustDeny(t, m, tc, TokenBlacklisted)

	tc = trade("alice", "10")
	tc.ExpectedSlippage = decimal.NewFromInt(6)
	mustDeny(t, m, tc, SlippageExceeded)

	if n := usage(t, m, "alice").Reservations; n != 0 {
		t.Errorf("expected no reservations, got %d", n)
	}
}

type memRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *memRecorder) Record(_ context.Context, ev Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *memRecorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]EventKind, len(r.events))
	for i, ev := range r.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

func TestRecorderSeesEveryDecision(t *testing.T) {
	rec := &memRecorder{}
	m := newTestManager(t, testConfig(t), WithRecorder(rec))

	id := mustApprove(t, m, trade("alice", "10"))
	if err := m.Commit(context.Background(), id); err != nil {
		t.Fatal(err)
	}
	mustDeny(t, m, trade("alice", "20000"), AmountExceeded)
	if err := m.Rollback(context.Background(), mustApprove(t, m, trade("alice", "10"))); err != nil {
		t.Fatal(err)
	}

	want := []EventKind{EventApproved, EventCommitted, EventDenied, EventApproved, EventRolledBack}
	got := rec.kinds()
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

// slowWrites delays every state write while enabled.
func slowWrites(enabled *atomic.Bool, d time.Duration) Option {
	return WithStoreOptions(func(o *durable.Options[*State]) {
		o.WriteFile = func(path string, data []byte) error {
			if enabled.Load() {
				time.Sleep(d)
			}
			return durable.WriteAtomic(path, data)
		}
	})
}

func TestCommitOutlivesCallerDeadline(t *testing.T) {
	var slow atomic.Bool
	counter := &countingCheck{}
	rec := &memRecorder{}
	m := newTestManager(t, testConfig(t), slowWrites(&slow, 100*time.Millisecond),
		WithChecks(counter), WithRecorder(rec))

	id := mustApprove(t, m, trade("alice", "700"))
	slow.Store(true)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := m.Commit(ctx, id); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	slow.Store(false)

	if got := counter.commits.Load(); got != 1 {
		t.Errorf("expected 1 commit hook, got %d", got)
	}
	kinds := rec.kinds()
	if len(kinds) == 0 || kinds[len(kinds)-1] != EventCommitted {
		t.Errorf("expected last event %s, got %v", EventCommitted, kinds)
	}
	u := usage(t, m, "alice")
	assertDecimal(t, "committed", u.CommittedUSD, "700")
	assertDecimal(t, "reserved", u.ReservedUSD, "0")
	if err := m.Rollback(context.Background(), id); !errors.Is(err, ErrUnknownReservation) {
		t.Errorf("expected ErrUnknownReservation, got %v", err)
	}
}

func TestRollbackOutlivesCallerDeadline(t *testing.T) {
	var slow atomic.Bool
	counter := &countingCheck{}
	rec := &memRecorder{}
	m := newTestManager(t, testConfig(t), slowWrites(&slow, 200*time.Millisecond),
		WithChecks(counter), WithRecorder(rec))

	committed := mustApprove(t, m, trade("alice", "10"))
	rolledBack := mustApprove(t, m, trade("bob", "10"))
	slow.Store(true)

	done := make(chan error, 1)
	go func() { done <- m.Commit(context.Background(), committed) }()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := m.Rollback(ctx, rolledBack); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Commit: %v", err)
	}
	slow.Store(false)

	if got := counter.rollbacks.Load(); got != 1 {
		t.Errorf("expected 1 rollback hook, got %d", got)
	}
	found := false
	for _, k := range rec.kinds() {
		if k == EventRolledBack {
			found = true
		}
	}
	if !found {
		t.Errorf("expected %s event, got %v", EventRolledBack, rec.kinds())
	}
	if n := usage(t, m, "bob").Reservations; n != 0 {
		t.Errorf("expected bob's reservation released, got %d", n)
	}
}

func TestCancelledCommitLeavesReservationOpen(t *testing.T) {
	counter := &countingCheck{}
	m := newTestManager(t, testConfig(t), WithChecks(counter))
	id := mustApprove(t, m, trade("alice", "300"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Commit(ctx, id); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if err := m.Rollback(ctx, id); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got := counter.commits.Load() + counter.rollbacks.Load(); got != 0 {
		t.Errorf("expected no hooks, got %d", got)
	}

	if err := m.Commit(context.Background(), id); err != nil {
		t.Fatalf("Commit: %v", err)
	}
	assertDecimal(t, "committed", usage(t, m, "alice").CommittedUSD, "300")
}

func TestNewManagerRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxDailyVolumeUSD = decimal.Zero
	cfg.ReservationTimeout = 0

	_, err := NewManager(context.Background(), cfg)
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError, got %v", err)
	}
	if _, err := NewManager(context.Background(), nil); !errors.As(err, &cfgErr) {
		t.Fatalf("expected *ConfigError for nil config, got %v", err)
	}
}
