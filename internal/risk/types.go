// Package risk approves or denies trade proposals against per-user limits.
//
// A Manager runs a Pipeline of stateless checks, then reserves the trade's
// volume in a durable.Store. The caller reports the outcome of the external
// trade with Commit or Rollback. Unresolved reservations are released after
// RiskConfig.ReservationTimeout.
package risk

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// TradeContext describes one proposed trade. It is never persisted.
type TradeContext struct {
	UserID           string           `json:"user_id"`
	FromToken        string           `json:"from_token"`
	ToToken          string           `json:"to_token"`
	AmountUSD        decimal.Decimal  `json:"amount_usd"`
	ExpectedSlippage decimal.Decimal  `json:"expected_slippage"`
	LiquidityUSD     *decimal.Decimal `json:"liquidity_usd,omitempty"`
	IsFlagged        bool             `json:"is_flagged"`
}

// Validate rejects proposals that no check can meaningfully evaluate.
func (t TradeContext) Validate() error {
	switch {
	case strings.TrimSpace(t.UserID) == "":
		return fmt.Errorf("%w: user_id is required", ErrInvalidTrade)
	case !t.AmountUSD.IsPositive():
		return fmt.Errorf("%w: amount_usd must be positive, got %s", ErrInvalidTrade, t.AmountUSD)
	case t.ExpectedSlippage.IsNegative():
		return fmt.Errorf("%w: expected_slippage must not be negative, got %s", ErrInvalidTrade, t.ExpectedSlippage)
	case t.LiquidityUSD != nil && t.LiquidityUSD.IsNegative():
		return fmt.Errorf("%w: liquidity_usd must not be negative, got %s", ErrInvalidTrade, t.LiquidityUSD)
	}
	return nil
}

// Reason identifies why a trade was denied.
type Reason string

const (
	AmountExceeded      Reason = "AmountExceeded"
	SlippageExceeded    Reason = "SlippageExceeded"
	LiquidityTooLow     Reason = "LiquidityTooLow"
	TokenBlacklisted    Reason = "TokenBlacklisted"
	DailyVolumeExceeded Reason = "DailyVolumeExceeded"
	Cooldown            Reason = "Cooldown"
	EmergencyStop       Reason = "EmergencyStop"
)

// Denial is the first failed check of a proposal.
type Denial struct {
	Reason  Reason `json:"reason"`
	Check   string `json:"check"`
	Message string `json:"message"`
}

func (d *Denial) String() string {
	return fmt.Sprintf("%s (%s): %s", d.Reason, d.Check, d.Message)
}

// Deny builds a Denial with a formatted message.
func Deny(reason Reason, check, format string, args ...any) *Denial {
	return &Denial{Reason: reason, Check: check, Message: fmt.Sprintf(format, args...)}
}

// Decision is the outcome of CheckAndReserve. Denials are values, not errors.
type Decision struct {
	Approved      bool    `json:"approved"`
	ReservationID string  `json:"reservation_id,omitempty"`
	Denial        *Denial `json:"denial,omitempty"`
}

// Usage reports one user's volume for the current UTC day.
type Usage struct {
	UserID       string          `json:"user_id"`
	CalendarDate string          `json:"calendar_date"`
	CommittedUSD decimal.Decimal `json:"committed_usd"`
	ReservedUSD  decimal.Decimal `json:"reserved_usd"`
	RemainingUSD decimal.Decimal `json:"remaining_usd"`
	LastTradeAt  *time.Time      `json:"last_trade_at,omitempty"`
	Reservations int             `json:"reservations"`
}
