// Package tradeguardv1 defines the tradeguard.v1.RiskService wire API.
//
// Messages travel as JSON using the codec registered under CodecName, so
// callers must send content-subtype "json" (NewRiskServiceClient does).
// Decimal amounts are strings to keep them exact.
package tradeguardv1

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ppiankov/tradeguard/internal/risk"
)

type CheckAndReserveRequest struct {
	UserID           string `json:"user_id"`
	FromToken        string `json:"from_token"`
	ToToken          string `json:"to_token"`
	AmountUSD        string `json:"amount_usd"`
	ExpectedSlippage string `json:"expected_slippage,omitempty"`
	LiquidityUSD     string `json:"liquidity_usd,omitempty"`
	IsFlagged        bool   `json:"is_flagged,omitempty"`
}

type CheckAndReserveResponse struct {
	Approved      bool   `json:"approved"`
	ReservationID string `json:"reservation_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
	Check         string `json:"check,omitempty"`
	Message       string `json:"message,omitempty"`
}

type ResolveRequest struct {
	ReservationID string `json:"reservation_id"`
}

type ResolveResponse struct {
	ReservationID string `json:"reservation_id"`
	Status        string `json:"status"`
}

type LimitsRequest struct {
	UserID string `json:"user_id"`
}

type LimitsResponse struct {
	UserID            string `json:"user_id"`
	CalendarDate      string `json:"calendar_date"`
	CommittedUSD      string `json:"committed_usd"`
	ReservedUSD       string `json:"reserved_usd"`
	RemainingUSD      string `json:"remaining_usd"`
	OpenReservations  int    `json:"open_reservations"`
	LastTradeAt       string `json:"last_trade_at,omitempty"`
	MaxSingleTradeUSD string `json:"max_single_trade_usd"`
	MaxDailyVolumeUSD string `json:"max_daily_volume_usd"`
	CooldownSecs      int64  `json:"cooldown_secs"`
	EmergencyStop     bool   `json:"emergency_stop"`
}

// NewCheckAndReserveRequest encodes a trade proposal.
func NewCheckAndReserveRequest(tc risk.TradeContext) *CheckAndReserveRequest {
	req := &CheckAndReserveRequest{
		UserID:           tc.UserID,
		FromToken:        tc.FromToken,
		ToToken:          tc.ToToken,
		AmountUSD:        tc.AmountUSD.String(),
		ExpectedSlippage: tc.ExpectedSlippage.String(),
		IsFlagged:        tc.IsFlagged,
	}
	if tc.LiquidityUSD != nil {
		req.LiquidityUSD = tc.LiquidityUSD.String()
	}
	return req
}

// Trade decodes the proposal. Empty slippage means zero; empty liquidity
// means unknown.
func (r *CheckAndReserveRequest) Trade() (risk.TradeContext, error) {
	tc := risk.TradeContext{
		UserID:    r.UserID,
		FromToken: r.FromToken,
		ToToken:   r.ToToken,
		IsFlagged: r.IsFlagged,
	}
	var err error
	if tc.AmountUSD, err = parseDecimal("amount_usd", r.AmountUSD); err != nil {
		return tc, err
	}
	if r.ExpectedSlippage != "" {
		if tc.ExpectedSlippage, err = parseDecimal("expected_slippage", r.ExpectedSlippage); err != nil {
			return tc, err
		}
	}
	if r.LiquidityUSD != "" {
		liq, err := parseDecimal("liquidity_usd", r.LiquidityUSD)
		if err != nil {
			return tc, err
		}
		tc.LiquidityUSD = &liq
	}
	return tc, nil
}

func parseDecimal(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %s: %q is not a decimal", risk.ErrInvalidTrade, field, s)
	}
	return d, nil
}

// NewCheckAndReserveResponse encodes a decision.
func NewCheckAndReserveResponse(d risk.Decision) *CheckAndReserveResponse {
	resp := &CheckAndReserveResponse{Approved: d.Approved, ReservationID: d.ReservationID}
	if d.Denial != nil {
		resp.Reason = string(d.Denial.Reason)
		resp.Check = d.Denial.Check
		resp.Message = d.Denial.Message
	}
	return resp
}

// Decision decodes the response.
func (r *CheckAndReserveResponse) Decision() risk.Decision {
	d := risk.Decision{Approved: r.Approved, ReservationID: r.ReservationID}
	if !r.Approved {
		d.Denial = &risk.Denial{Reason: risk.Reason(r.Reason), Check: r.Check, Message: r.Message}
	}
	return d
}

// NewLimitsResponse encodes a user's usage against cfg.
func NewLimitsResponse(u risk.Usage, cfg *risk.RiskConfig, emergencyStop bool) *LimitsResponse {
	resp := &LimitsResponse{
		UserID:            u.UserID,
		CalendarDate:      u.CalendarDate,
		CommittedUSD:      u.CommittedUSD.String(),
		ReservedUSD:       u.ReservedUSD.String(),
		RemainingUSD:      u.RemainingUSD.String(),
		OpenReservations:  u.Reservations,
		MaxSingleTradeUSD: cfg.MaxSingleTradeUSD.String(),
		MaxDailyVolumeUSD: cfg.MaxDailyVolumeUSD.String(),
		CooldownSecs:      cfg.TradeCooldownSecs,
		EmergencyStop:     emergencyStop,
	}
	if u.LastTradeAt != nil {
		resp.LastTradeAt = u.LastTradeAt.UTC().Format(time.RFC3339)
	}
	return resp
}
