package mcp

import (
	"context"
	"errors"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	pb "github.com/ppiankov/tradeguard/api/tradeguard/v1"
	"github.com/ppiankov/tradeguard/internal/risk"
)

// --- Input/Output types ---

// ReserveInput defines parameters for the tradeguard_check_and_reserve tool.
type ReserveInput struct {
	UserID           string `json:"user_id" jsonschema:"account the trade is made for"`
	FromToken        string `json:"from_token" jsonschema:"token sold"`
	ToToken          string `json:"to_token" jsonschema:"token bought"`
	AmountUSD        string `json:"amount_usd" jsonschema:"trade size in USD as a decimal string (e.g. 250.50)"`
	ExpectedSlippage string `json:"expected_slippage,omitempty" jsonschema:"expected slippage in percent as a decimal string"`
	LiquidityUSD     string `json:"liquidity_usd,omitempty" jsonschema:"pool liquidity in USD, omit if unknown"`
	IsFlagged        bool   `json:"is_flagged,omitempty" jsonschema:"token was flagged by a security scanner"`
}

// ReserveOutput contains the decision.
type ReserveOutput struct {
	Approved      bool   `json:"approved"`
	ReservationID string `json:"reservation_id,omitempty"`
	Reason        string `json:"reason,omitempty"`
	Check         string `json:"check,omitempty"`
	Message       string `json:"message,omitempty"`
}

// ResolveInput defines parameters for tradeguard_commit and tradeguard_rollback.
type ResolveInput struct {
	ReservationID string `json:"reservation_id" jsonschema:"reservation_id returned by tradeguard_check_and_reserve"`
}

// ResolveOutput reports how a reservation was resolved.
type ResolveOutput struct {
	ReservationID string `json:"reservation_id"`
	Status        string `json:"status"`
	Error         string `json:"error,omitempty"`
}

// LimitsInput defines parameters for the tradeguard_limits tool.
type LimitsInput struct {
	UserID string `json:"user_id" jsonschema:"account to report on"`
}

// LimitsOutput is the user's usage against the configured limits.
type LimitsOutput = pb.LimitsResponse

// --- Handlers ---

func (s *Server) handleCheckAndReserve(ctx context.Context, req *mcpsdk.CallToolRequest, input ReserveInput) (*mcpsdk.CallToolResult, ReserveOutput, error) {
	tc, err := (&pb.CheckAndReserveRequest{
		UserID:           input.UserID,
		FromToken:        input.FromToken,
		ToToken:          input.ToToken,
		AmountUSD:        input.AmountUSD,
		ExpectedSlippage: input.ExpectedSlippage,
		LiquidityUSD:     input.LiquidityUSD,
		IsFlagged:        input.IsFlagged,
	}).Trade()
	if err != nil {
		return nil, ReserveOutput{}, err
	}

	d, err := s.manager.CheckAndReserve(ctx, tc)
	if err != nil {
		return nil, ReserveOutput{}, err
	}

	out := ReserveOutput{Approved: d.Approved, ReservationID: d.ReservationID}
	if d.Denial != nil {
		out.Reason = string(d.Denial.Reason)
		out.Check = d.Denial.Check
		out.Message = d.Denial.Message
	}
	return nil, out, nil
}

func (s *Server) handleCommit(ctx context.Context, req *mcpsdk.CallToolRequest, input ResolveInput) (*mcpsdk.CallToolResult, ResolveOutput, error) {
	return s.resolve(input.ReservationID, "committed", s.manager.Commit(ctx, input.ReservationID))
}

func (s *Server) handleRollback(ctx context.Context, req *mcpsdk.CallToolRequest, input ResolveInput) (*mcpsdk.CallToolResult, ResolveOutput, error) {
	return s.resolve(input.ReservationID, "rolled_back", s.manager.Rollback(ctx, input.ReservationID))
}

// resolve reports expected reservation failures as tool errors the agent
// can act on, and anything else as a protocol error.
func (s *Server) resolve(id, status string, err error) (*mcpsdk.CallToolResult, ResolveOutput, error) {
	out := ResolveOutput{ReservationID: id, Status: status}
	if err == nil {
		return nil, out, nil
	}

	switch {
	case errors.Is(err, risk.ErrReservationExpired):
		out.Status = "expired"
	case errors.Is(err, risk.ErrUnknownReservation):
		out.Status = "unknown"
	case errors.Is(err, risk.ErrStoreUnavailable):
		out.Status = "rolled_back"
	default:
		return nil, ResolveOutput{}, err
	}
	out.Error = err.Error()
	s.log.Warn("reservation not resolved as requested",
		zap.String("reservation_id", id),
		zap.String("status", out.Status),
		zap.Error(err))
	return &mcpsdk.CallToolResult{IsError: true}, out, nil
}

func (s *Server) handleLimits(ctx context.Context, req *mcpsdk.CallToolRequest, input LimitsInput) (*mcpsdk.CallToolResult, LimitsOutput, error) {
	if input.UserID == "" {
		return nil, LimitsOutput{}, errors.New("user_id is required")
	}
	u, err := s.manager.Usage(ctx, input.UserID)
	if err != nil {
		return nil, LimitsOutput{}, err
	}
	return nil, *pb.NewLimitsResponse(u, s.manager.Config(), s.stop != nil && s.stop.Engaged()), nil
}
