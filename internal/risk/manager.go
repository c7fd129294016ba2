package risk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ppiankov/tradeguard/internal/durable"
)

const (
	minReapInterval = 10 * time.Millisecond
	tombstoneFactor = 10
)

// EventKind names a step in a trade's lifecycle.
type EventKind string

const (
	EventApproved     EventKind = "approved"
	EventDenied       EventKind = "denied"
	EventCommitted    EventKind = "committed"
	EventCommitFailed EventKind = "commit_failed"
	EventRolledBack   EventKind = "rolled_back"
	EventExpired      EventKind = "expired"
)

// Event is one lifecycle step handed to a Recorder.
type Event struct {
	Kind          EventKind
	ReservationID string
	Trade         TradeContext
	Reason        Reason
	Message       string
	At            time.Time
}

// Recorder receives every decision. Record errors are logged and never
// block a trade.
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the logger. Defaults to zap.NewNop().
func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) { m.log = log }
}

// WithClock replaces time.Now for day-boundary and cooldown decisions.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithRecorder adds r to the recorders that receive every event.
func WithRecorder(r Recorder) Option {
	return func(m *Manager) { m.recorders = append(m.recorders, r) }
}

// WithMetrics exports activity to metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(m *Manager) { m.metrics = metrics }
}

// WithChecks appends checks after the standard pipeline.
func WithChecks(checks ...RiskCheck) Option {
	return func(m *Manager) { m.extra = append(m.extra, checks...) }
}

// WithPipeline replaces the standard pipeline entirely.
func WithPipeline(p *Pipeline) Option {
	return func(m *Manager) { m.pipeline = p }
}

// WithStoreOptions adjusts the risk state store before it opens.
func WithStoreOptions(fn func(opts *durable.Options[*State])) Option {
	return func(m *Manager) { m.storeOpts = append(m.storeOpts, fn) }
}

// Manager is the only component that mutates risk state.
type Manager struct {
	cfg       *RiskConfig
	pipeline  *Pipeline
	extra     []RiskCheck
	store     *durable.Store[*State]
	storeOpts []func(*durable.Options[*State])
	log       *zap.Logger
	now       func() time.Time
	recorders []Recorder
	metrics   *Metrics

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// NewManager validates cfg, loads persisted state and starts the
// reservation reaper. Invalid configuration fails before any trade is
// accepted.
func NewManager(ctx context.Context, cfg *RiskConfig, opts ...Option) (*Manager, error) {
	if cfg == nil {
		return nil, &ConfigError{Field: "config", Reason: "is required"}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	m := &Manager{
		cfg:  cfg,
		log:  zap.NewNop(),
		now:  time.Now,
		stop: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.pipeline == nil {
		m.pipeline = PipelineFromConfig(cfg, m.extra...)
	}
	m.log = m.log.Named("risk")

	storeOpts := durable.Options[*State]{
		Path:   cfg.StatePath,
		Codec:  StateCodec(),
		Logger: m.log,
	}
	for _, fn := range m.storeOpts {
		fn(&storeOpts)
	}
	store, err := durable.Open(ctx, storeOpts)
	if err != nil {
		return nil, fmt.Errorf("open risk state: %w", err)
	}
	m.store = store

	m.wg.Add(1)
	go m.reap()

	m.log.Info("risk manager started",
		zap.String("state_path", cfg.StatePath),
		zap.Strings("checks", m.pipeline.Names()),
		zap.Duration("reservation_timeout", cfg.ReservationTimeout))
	return m, nil
}

// Config returns the configuration the manager was built with.
func (m *Manager) Config() *RiskConfig {
	return m.cfg
}

// CheckAndReserve evaluates tc and, when every check passes, holds its
// volume against the user's daily limit. Malformed proposals return
// ErrInvalidTrade; denials are reported in the Decision.
func (m *Manager) CheckAndReserve(ctx context.Context, tc TradeContext) (Decision, error) {
	start := time.Now()
	defer func() { m.metrics.observe(time.Since(start).Seconds()) }()

	if err := tc.Validate(); err != nil {
		return Decision{}, err
	}
	if d := m.pipeline.Evaluate(tc); d != nil {
		m.denied(ctx, tc, d)
		return Decision{Denial: d}, nil
	}

	id := uuid.NewString()
	var (
		res    *Reservation
		denial *Denial
	)
	err := m.store.Mutate(ctx, func(s *State) (bool, error) {
		now := m.now()
		r := &Reservation{
			ID:           id,
			Trade:        tc,
			CalendarDate: calendarDate(now),
			CreatedAt:    now,
			ExpiresAt:    now.Add(m.cfg.ReservationTimeout),
		}
		if denial = s.reserve(m.cfg, r); denial == nil {
			res = r
		}
		return false, nil
	})
	if err != nil {
		return Decision{}, fmt.Errorf("reserve trade: %w", err)
	}
	if denial != nil {
		m.denied(ctx, tc, denial)
		return Decision{Denial: denial}, nil
	}

	m.metrics.decision("approved", "")
	m.log.Info("trade approved",
		zap.String("reservation_id", id),
		zap.String("user_id", tc.UserID),
		zap.String("to_token", tc.ToToken),
		zap.Stringer("amount_usd", tc.AmountUSD))
	m.record(ctx, Event{Kind: EventApproved, ReservationID: id, Trade: tc, At: res.CreatedAt})
	return Decision{Approved: true, ReservationID: id}, nil
}

func (m *Manager) denied(ctx context.Context, tc TradeContext, d *Denial) {
	m.metrics.decision("denied", d.Reason)
	m.log.Info("trade denied",
		zap.String("user_id", tc.UserID),
		zap.String("reason", string(d.Reason)),
		zap.String("check", d.Check),
		zap.String("message", d.Message))
	m.record(ctx, Event{Kind: EventDenied, Trade: tc, Reason: d.Reason, Message: d.Message, At: m.now()})
}

// Commit durably adds a reservation's volume to its day. If the write
// fails the volume is not counted, the reservation is released and the
// error wraps ErrStoreUnavailable.
//
// ctx is only consulted before the commit is submitted. Once submitted the
// commit is awaited to completion, so its hooks and events are never lost
// to a cancelled caller.
func (m *Manager) Commit(ctx context.Context, reservationID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)

	var (
		res *Reservation
		at  time.Time
	)
	err := m.store.MutateSync(ctx, func(s *State) (bool, error) {
		r, err := s.take(reservationID)
		if err != nil {
			return false, err
		}
		res, at = r, m.now()
		s.commit(r, at)
		return true, nil
	})
	switch {
	case err == nil:
	case errors.Is(err, ErrStoreUnavailable):
		// res is set: the hold was taken before the write failed
		m.pipeline.Rollback(res.Trade)
		m.metrics.resolved("commit_failed", 1)
		m.log.Error("commit not persisted, reservation rolled back",
			zap.String("reservation_id", reservationID),
			zap.String("user_id", res.Trade.UserID),
			zap.Error(err))
		m.record(ctx, Event{Kind: EventCommitFailed, ReservationID: reservationID, Trade: res.Trade, Message: err.Error(), At: at})
		return err
	default:
		return err
	}

	m.pipeline.Commit(res.Trade)
	m.metrics.resolved("committed", 1)
	m.log.Info("trade committed",
		zap.String("reservation_id", reservationID),
		zap.String("user_id", res.Trade.UserID),
		zap.Stringer("amount_usd", res.Trade.AmountUSD))
	m.record(ctx, Event{Kind: EventCommitted, ReservationID: reservationID, Trade: res.Trade, At: at})
	return nil
}

// Rollback releases a reservation without lasting effect. Like Commit, it
// is awaited to completion once submitted.
func (m *Manager) Rollback(ctx context.Context, reservationID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)

	var res *Reservation
	err := m.store.Mutate(ctx, func(s *State) (bool, error) {
		r, err := s.take(reservationID)
		if err != nil {
			return false, err
		}
		res = r
		return false, nil
	})
	if err != nil {
		return err
	}

	m.pipeline.Rollback(res.Trade)
	m.metrics.resolved("rolled_back", 1)
	m.log.Info("trade rolled back",
		zap.String("reservation_id", reservationID),
		zap.String("user_id", res.Trade.UserID))
	m.record(ctx, Event{Kind: EventRolledBack, ReservationID: reservationID, Trade: res.Trade, At: m.now()})
	return nil
}

// ExpireStale releases every reservation past its deadline and returns how
// many were released. The reaper calls it periodically.
func (m *Manager) ExpireStale(ctx context.Context) (int, error) {
	var (
		released []*Reservation
		at       time.Time
	)
	ttl := tombstoneFactor * m.cfg.ReservationTimeout
	err := m.store.Mutate(ctx, func(s *State) (bool, error) {
		at = m.now()
		released = s.expire(at, ttl)
		return false, nil
	})
	if err != nil {
		return 0, err
	}

	for _, r := range released {
		m.pipeline.Rollback(r.Trade)
		m.log.Warn("reservation expired",
			zap.String("reservation_id", r.ID),
			zap.String("user_id", r.Trade.UserID),
			zap.Time("created_at", r.CreatedAt))
		m.record(ctx, Event{Kind: EventExpired, ReservationID: r.ID, Trade: r.Trade, At: at})
	}
	m.metrics.resolved("expired", len(released))
	return len(released), nil
}

// RemainingDailyLimit returns how much more the user may trade today,
// counting live reservations.
func (m *Manager) RemainingDailyLimit(ctx context.Context, userID string) (decimal.Decimal, error) {
	u, err := m.Usage(ctx, userID)
	if err != nil {
		return decimal.Zero, err
	}
	return u.RemainingUSD, nil
}

// Usage reports the user's volume for the current UTC day.
func (m *Manager) Usage(ctx context.Context, userID string) (Usage, error) {
	var u Usage
	err := m.store.Read(ctx, func(s *State) error {
		u = s.usage(m.cfg, userID, calendarDate(m.now()))
		return nil
	})
	return u, err
}

// Users lists users with persisted volume.
func (m *Manager) Users(ctx context.Context) ([]string, error) {
	var users []string
	err := m.store.Read(ctx, func(s *State) error {
		users = s.Users()
		return nil
	})
	return users, err
}

// Snapshot forces the risk state to disk.
func (m *Manager) Snapshot(ctx context.Context) error {
	return m.store.Snapshot(ctx)
}

// Close stops the reaper and shuts the store down. Open reservations are
// dropped; they were never persisted. Later calls return ErrClosed.
func (m *Manager) Close(ctx context.Context) error {
	m.closeOnce.Do(func() {
		close(m.stop)
		m.wg.Wait()
		m.closeErr = m.store.Shutdown(ctx)
	})
	return m.closeErr
}

func (m *Manager) reap() {
	defer m.wg.Done()

	interval := m.cfg.ReservationTimeout / 4
	if interval < minReapInterval {
		interval = minReapInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case <-ticker.C:
			if _, err := m.ExpireStale(context.Background()); err != nil {
				if errors.Is(err, durable.ErrClosed) {
					return
				}
				m.log.Warn("reservation reaper failed", zap.Error(err))
			}
		}
	}
}

func (m *Manager) record(ctx context.Context, ev Event) {
	for _, r := range m.recorders {
		if err := r.Record(ctx, ev); err != nil {
			m.log.Warn("decision not recorded",
				zap.String("event", string(ev.Kind)),
				zap.String("reservation_id", ev.ReservationID),
				zap.Error(err))
		}
	}
}
