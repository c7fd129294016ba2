package risk

import (
	"sort"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"

	"github.com/ppiankov/tradeguard/internal/durable"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const dateLayout = "2006-01-02"

// calendarDate returns the UTC calendar day of t.
func calendarDate(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

// DailyVolumeState is one user's committed volume for one UTC day.
type DailyVolumeState struct {
	CalendarDate   string          `json:"calendar_date"`
	AccumulatedUSD decimal.Decimal `json:"accumulated_usd"`
	LastTradeAt    time.Time       `json:"last_trade_at"`
}

// Reservation is an in-memory hold on a user's daily volume.
type Reservation struct {
	ID           string       `json:"id"`
	Trade        TradeContext `json:"trade"`
	CalendarDate string       `json:"calendar_date"`
	CreatedAt    time.Time    `json:"created_at"`
	ExpiresAt    time.Time    `json:"expires_at"`
}

// State is the payload of the risk state store. Only days is persisted;
// reservations and expiry tombstones live in memory.
type State struct {
	days         map[string]*DailyVolumeState
	reservations map[string]*Reservation
	expired      map[string]time.Time
}

// NewState returns an empty State.
func NewState() *State {
	return &State{
		days:         make(map[string]*DailyVolumeState),
		reservations: make(map[string]*Reservation),
		expired:      make(map[string]time.Time),
	}
}

// StateCodec persists State as a JSON object keyed by user id.
func StateCodec() durable.Codec[*State] {
	return durable.JSONCodec[*State]{NewFunc: NewState}
}

func (s *State) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.days)
}

// UnmarshalJSON replaces the persisted days and keeps in-memory holds.
func (s *State) UnmarshalJSON(data []byte) error {
	var days map[string]*DailyVolumeState
	if err := json.Unmarshal(data, &days); err != nil {
		return err
	}
	s.days = make(map[string]*DailyVolumeState, len(days))
	for user, d := range days {
		if d != nil {
			s.days[user] = d
		}
	}
	return nil
}

// ResetDurable clears the persisted part before a decode.
func (s *State) ResetDurable() {
	s.days = make(map[string]*DailyVolumeState)
}

// committed returns the user's committed volume on date. A record from an
// earlier day counts as zero.
func (s *State) committed(userID, date string) decimal.Decimal {
	d := s.days[userID]
	if d == nil || d.CalendarDate != date {
		return decimal.Zero
	}
	return d.AccumulatedUSD
}

// reserved sums the user's live holds made on date.
func (s *State) reserved(userID, date string) (decimal.Decimal, int) {
	sum := decimal.Zero
	n := 0
	for _, r := range s.reservations {
		if r.Trade.UserID == userID && r.CalendarDate == date {
			sum = sum.Add(r.Trade.AmountUSD)
			n++
		}
	}
	return sum, n
}

// lastActivity is the later of the user's last commit and newest live hold.
func (s *State) lastActivity(userID string) time.Time {
	var last time.Time
	if d := s.days[userID]; d != nil {
		last = d.LastTradeAt
	}
	for _, r := range s.reservations {
		if r.Trade.UserID == userID && r.CreatedAt.After(last) {
			last = r.CreatedAt
		}
	}
	return last
}

// reserve applies the volume and cooldown limits inside the store loop and
// records a hold. It never touches the persisted days.
func (s *State) reserve(cfg *RiskConfig, r *Reservation) *Denial {
	user := r.Trade.UserID
	if cooldown := cfg.Cooldown(); cooldown > 0 {
		if last := s.lastActivity(user); !last.IsZero() {
			if wait := cooldown - r.CreatedAt.Sub(last); wait > 0 {
				return Deny(Cooldown, "cooldown", "trade cooldown active, wait %s", wait.Round(time.Millisecond))
			}
		}
	}

	committed := s.committed(user, r.CalendarDate)
	reserved, _ := s.reserved(user, r.CalendarDate)
	total := committed.Add(reserved).Add(r.Trade.AmountUSD)
	if total.GreaterThan(cfg.MaxDailyVolumeUSD) {
		return Deny(DailyVolumeExceeded, "daily_volume",
			"daily volume $%s would exceed maximum $%s (committed $%s, reserved $%s)",
			total, cfg.MaxDailyVolumeUSD, committed, reserved)
	}

	s.reservations[r.ID] = r
	return nil
}

// take removes a live hold, reporting whether it had already expired.
func (s *State) take(id string) (*Reservation, error) {
	if r, ok := s.reservations[id]; ok {
		delete(s.reservations, id)
		return r, nil
	}
	if _, ok := s.expired[id]; ok {
		return nil, ErrReservationExpired
	}
	return nil, ErrUnknownReservation
}

// commit adds r to the accumulator of the day it was reserved on. A record
// that has already moved to a later day only has its timestamp advanced:
// one record is kept per user, so volume for an earlier day is not kept.
func (s *State) commit(r *Reservation, now time.Time) {
	user := r.Trade.UserID
	d := s.days[user]
	switch {
	case d == nil || d.CalendarDate < r.CalendarDate:
		s.days[user] = &DailyVolumeState{
			CalendarDate:   r.CalendarDate,
			AccumulatedUSD: r.Trade.AmountUSD,
			LastTradeAt:    now,
		}
	case d.CalendarDate == r.CalendarDate:
		d.AccumulatedUSD = d.AccumulatedUSD.Add(r.Trade.AmountUSD)
		d.LastTradeAt = now
	default:
		d.LastTradeAt = now
	}
}

// expire releases holds past their deadline and prunes old tombstones.
func (s *State) expire(now time.Time, tombstoneTTL time.Duration) []*Reservation {
	var released []*Reservation
	for id, r := range s.reservations {
		if !now.Before(r.ExpiresAt) {
			delete(s.reservations, id)
			s.expired[id] = now
			released = append(released, r)
		}
	}
	for id, at := range s.expired {
		if now.Sub(at) > tombstoneTTL {
			delete(s.expired, id)
		}
	}
	sort.Slice(released, func(i, j int) bool {
		return released[i].CreatedAt.Before(released[j].CreatedAt)
	})
	return released
}

// usage summarizes one user on date.
func (s *State) usage(cfg *RiskConfig, userID, date string) Usage {
	committed := s.committed(userID, date)
	reserved, n := s.reserved(userID, date)
	remaining := cfg.MaxDailyVolumeUSD.Sub(committed).Sub(reserved)
	if remaining.IsNegative() {
		remaining = decimal.Zero
	}
	u := Usage{
		UserID:       userID,
		CalendarDate: date,
		CommittedUSD: committed,
		ReservedUSD:  reserved,
		RemainingUSD: remaining,
		Reservations: n,
	}
	if d := s.days[userID]; d != nil && !d.LastTradeAt.IsZero() {
		at := d.LastTradeAt
		u.LastTradeAt = &at
	}
	return u
}

// Users lists user ids with persisted volume, sorted.
func (s *State) Users() []string {
	users := make([]string, 0, len(s.days))
	for u := range s.days {
		users = append(users, u)
	}
	sort.Strings(users)
	return users
}
