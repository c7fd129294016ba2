package mcp

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap/zaptest"

	"github.com/ppiankov/tradeguard/internal/risk"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	cfg := risk.DefaultConfig()
	cfg.TradeCooldownSecs = 0
	cfg.StatePath = filepath.Join(t.TempDir(), "risk_state.json")

	log := zaptest.NewLogger(t)
	manager, err := risk.NewManager(context.Background(), cfg, risk.WithLogger(log))
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	t.Cleanup(func() { manager.Close(context.Background()) })
	return New(manager, WithLogger(log), WithVersion("test"))
}

func reserveInput(amount string) ReserveInput {
	return ReserveInput{
		UserID:           "agent-7",
		FromToken:        "USDC",
		ToToken:          "SOL",
		AmountUSD:        amount,
		ExpectedSlippage: "0.4",
	}
}

func TestCheckAndReserveApproved(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	result, out, err := s.handleCheckAndReserve(ctx, &mcpsdk.CallToolRequest{}, reserveInput("500"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil && result.IsError {
		t.Fatal("expected success, got error result")
	}
	if !out.Approved || out.ReservationID == "" {
		t.Fatalf("expected approval with reservation id, got %+v", out)
	}

	_, limits, err := s.handleLimits(ctx, &mcpsdk.CallToolRequest{}, LimitsInput{UserID: "agent-7"})
	if err != nil {
		t.Fatal(err)
	}
	if limits.ReservedUSD != "500" {
		t.Errorf("expected 500 reserved, got %s", limits.ReservedUSD)
	}
}

func TestCheckAndReserveDenied(t *testing.T) {
	s := newTestServer(t)

	in := reserveInput("100")
	in.IsFlagged = true
	_, out, err := s.handleCheckAndReserve(context.Background(), &mcpsdk.CallToolRequest{}, in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Approved {
		t.Fatal("expected flagged token to be denied")
	}
	if out.Reason != string(risk.TokenBlacklisted) {
		t.Errorf("expected TokenBlacklisted, got %s", out.Reason)
	}
}

func TestCheckAndReserveInvalidInput(t *testing.T) {
	s := newTestServer(t)

	_, _, err := s.handleCheckAndReserve(context.Background(), &mcpsdk.CallToolRequest{}, reserveInput("ten dollars"))
	if !errors.Is(err, risk.ErrInvalidTrade) {
		t.Fatalf("expected ErrInvalidTrade, got %v", err)
	}
}

func TestCommitThenCommitAgain(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, reserved, err := s.handleCheckAndReserve(ctx, &mcpsdk.CallToolRequest{}, reserveInput("75.5"))
	if err != nil || !reserved.Approved {
		t.Fatalf("expected approval, got %+v err=%v", reserved, err)
	}

	result, out, err := s.handleCommit(ctx, &mcpsdk.CallToolRequest{}, ResolveInput{ReservationID: reserved.ReservationID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != nil && result.IsError {
		t.Fatal("expected success")
	}
	if out.Status != "committed" {
		t.Errorf("expected committed, got %s", out.Status)
	}

	result, out, err = s.handleCommit(ctx, &mcpsdk.CallToolRequest{}, ResolveInput{ReservationID: reserved.ReservationID})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result == nil || !result.IsError {
		t.Fatal("expected error result for second commit")
	}
	if out.Status != "unknown" {
		t.Errorf("expected unknown, got %s", out.Status)
	}

	_, limits, _ := s.handleLimits(ctx, &mcpsdk.CallToolRequest{}, LimitsInput{UserID: "agent-7"})
	if limits.CommittedUSD != "75.5" {
		t.Errorf("expected 75.5 committed, got %s", limits.CommittedUSD)
	}
}

func TestRollbackReleasesVolume(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, reserved, _ := s.handleCheckAndReserve(ctx, &mcpsdk.CallToolRequest{}, reserveInput("9000"))
	_, out, err := s.handleRollback(ctx, &mcpsdk.CallToolRequest{}, ResolveInput{ReservationID: reserved.ReservationID})
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != "rolled_back" {
		t.Errorf("expected rolled_back, got %s", out.Status)
	}

	_, limits, _ := s.handleLimits(ctx, &mcpsdk.CallToolRequest{}, LimitsInput{UserID: "agent-7"})
	if limits.RemainingUSD != "50000" || limits.OpenReservations != 0 {
		t.Errorf("expected full limit restored, got %+v", limits)
	}
}

func TestLimitsRequiresUser(t *testing.T) {
	s := newTestServer(t)
	if _, _, err := s.handleLimits(context.Background(), &mcpsdk.CallToolRequest{}, LimitsInput{}); err == nil {
		t.Fatal("expected error without user_id")
	}
}
