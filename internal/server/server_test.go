package server

import (
	"context"
	"net"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	pb "github.com/ppiankov/tradeguard/api/tradeguard/v1"
	"github.com/ppiankov/tradeguard/internal/durable"
	"github.com/ppiankov/tradeguard/internal/killswitch"
	"github.com/ppiankov/tradeguard/internal/risk"
)

// testServer runs an in-process server over bufconn and returns a client.
func testServer(t *testing.T, mutate func(cfg *risk.RiskConfig), opts ...risk.Option) (pb.RiskServiceClient, *killswitch.Switch) {
	t.Helper()
	dir := t.TempDir()
	log := zaptest.NewLogger(t)

	cfg := risk.DefaultConfig()
	cfg.TradeCooldownSecs = 0
	cfg.StatePath = filepath.Join(dir, "risk_state.json")
	cfg.KillSwitchPath = filepath.Join(dir, "STOP")
	if mutate != nil {
		mutate(cfg)
	}

	sw, err := killswitch.New(cfg.KillSwitchPath, log)
	if err != nil {
		t.Fatalf("killswitch.New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go sw.Run(ctx)

	opts = append([]risk.Option{risk.WithLogger(log), risk.WithChecks(sw)}, opts...)
	manager, err := risk.NewManager(context.Background(), cfg, opts...)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	srv := New(Config{}, manager, WithLogger(log), WithKillSwitch(sw))
	lis := bufconn.Listen(1 << 20)
	go srv.ServeOn(lis)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	t.Cleanup(func() {
		conn.Close()
		srv.GracefulStop()
		manager.Close(context.Background())
		cancel()
	})
	return pb.NewRiskServiceClient(conn), sw
}

func callCtx(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func request(user, amount string) *pb.CheckAndReserveRequest {
	return &pb.CheckAndReserveRequest{
		UserID:           user,
		FromToken:        "USDC",
		ToToken:          "SOL",
		AmountUSD:        amount,
		ExpectedSlippage: "0.5",
	}
}

func assertCode(t *testing.T, err error, want codes.Code) {
	t.Helper()
	if got := status.Code(err); got != want {
		t.Fatalf("expected %s, got %s (%v)", want, got, err)
	}
}

func TestCheckAndReserveCommitFlow(t *testing.T) {
	client, _ := testServer(t, nil)
	ctx := callCtx(t)

	resp, err := client.CheckAndReserve(ctx, request("alice", "1500.25"))
	if err != nil {
		t.Fatalf("CheckAndReserve: %v", err)
	}
	if !resp.Approved || resp.ReservationID == "" {
		t.Fatalf("expected approval, got %+v", resp)
	}

	limits, err := client.Limits(ctx, &pb.LimitsRequest{UserID: "alice"})
	if err != nil {
		t.Fatalf("Limits: %v", err)
	}
	if limits.ReservedUSD != "1500.25" || limits.OpenReservations != 1 {
		t.Errorf("unexpected limits while reserved: %+v", limits)
	}

	done, err := client.Commit(ctx, &pb.ResolveRequest{ReservationID: resp.ReservationID})
	if err != nil {
		t.Fatalf("Commit: %v", err)
	}
	if done.Status != "committed" {
		t.Errorf("expected committed, got %s", done.Status)
	}

	limits, _ = client.Limits(ctx, &pb.LimitsRequest{UserID: "alice"})
	if limits.CommittedUSD != "1500.25" || limits.RemainingUSD != "48499.75" {
		t.Errorf("unexpected limits after commit: %+v", limits)
	}
	if limits.LastTradeAt == "" {
		t.Error("expected last trade time")
	}

	_, err = client.Commit(ctx, &pb.ResolveRequest{ReservationID: resp.ReservationID})
	assertCode(t, err, codes.NotFound)
}

func TestCommitSurvivesClientDeadline(t *testing.T) {
	var slow atomic.Bool
	started := make(chan struct{})
	var once sync.Once
	client, _ := testServer(t, nil, risk.WithStoreOptions(func(o *durable.Options[*risk.State]) {
		o.WriteFile = func(path string, data []byte) error {
			if slow.Load() {
				once.Do(func() { close(started) })
				time.Sleep(200 * time.Millisecond)
			}
			return durable.WriteAtomic(path, data)
		}
	}))
	ctx := callCtx(t)

	resp, err := client.CheckAndReserve(ctx, request("alice", "900"))
	if err != nil || !resp.Approved {
		t.Fatalf("CheckAndReserve: %+v, %v", resp, err)
	}

	slow.Store(true)
	short, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = client.Commit(short, &pb.ResolveRequest{ReservationID: resp.ReservationID})
	assertCode(t, err, codes.DeadlineExceeded)

	select {
	case <-started:
	case <-ctx.Done():
		t.Fatal("commit never reached the store")
	}
	slow.Store(false)

	limits, err := client.Limits(ctx, &pb.LimitsRequest{UserID: "alice"})
	if err != nil {
		t.Fatalf("Limits: %v", err)
	}
	if limits.CommittedUSD != "900" || limits.OpenReservations != 0 {
		t.Errorf("expected the commit to land, got %+v", limits)
	}

	_, err = client.Commit(ctx, &pb.ResolveRequest{ReservationID: resp.ReservationID})
	assertCode(t, err, codes.NotFound)
}

func TestCheckAndReserveDenial(t *testing.T) {
	client, _ := testServer(t, nil)

	resp, err := client.CheckAndReserve(callCtx(t), request("alice", "10000.01"))
	if err != nil {
		t.Fatalf("CheckAndReserve: %v", err)
	}
	if resp.Approved {
		t.Fatal("expected denial")
	}
	if resp.Reason != string(risk.AmountExceeded) || resp.Check != "max_trade_amount" {
		t.Errorf("unexpected denial %+v", resp)
	}
	if d := resp.Decision(); d.Denial == nil || d.Denial.Reason != risk.AmountExceeded {
		t.Errorf("unexpected decoded decision %+v", d)
	}
}

func TestInvalidTradeIsInvalidArgument(t *testing.T) {
	client, _ := testServer(t, nil)
	ctx := callCtx(t)

	_, err := client.CheckAndReserve(ctx, request("alice", "-5"))
	assertCode(t, err, codes.InvalidArgument)

	_, err = client.CheckAndReserve(ctx, request("alice", "lots"))
	assertCode(t, err, codes.InvalidArgument)

	_, err = client.Limits(ctx, &pb.LimitsRequest{})
	assertCode(t, err, codes.InvalidArgument)
}

func TestRollbackAndExpiredCodes(t *testing.T) {
	client, _ := testServer(t, func(cfg *risk.RiskConfig) {
		cfg.ReservationTimeout = 200 * time.Millisecond
	})
	ctx := callCtx(t)

	resp, err := client.CheckAndReserve(ctx, request("alice", "10"))
	if err != nil || !resp.Approved {
		t.Fatalf("expected approval, got %+v err=%v", resp, err)
	}
	if _, err := client.Rollback(ctx, &pb.ResolveRequest{ReservationID: resp.ReservationID}); err != nil {
		t.Fatalf("Rollback: %v", err)
	}

	resp, _ = client.CheckAndReserve(ctx, request("alice", "10"))
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		limits, err := client.Limits(ctx, &pb.LimitsRequest{UserID: "alice"})
		if err == nil && limits.OpenReservations == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	_, err = client.Commit(ctx, &pb.ResolveRequest{ReservationID: resp.ReservationID})
	assertCode(t, err, codes.DeadlineExceeded)
}

func TestLimitsReportsEmergencyStop(t *testing.T) {
	client, sw := testServer(t, nil)
	ctx := callCtx(t)

	if err := killswitch.Engage(sw.Path(), "test"); err != nil {
		t.Fatal(err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for !sw.Engaged() && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	limits, err := client.Limits(ctx, &pb.LimitsRequest{UserID: "alice"})
	if err != nil {
		t.Fatal(err)
	}
	if !limits.EmergencyStop {
		t.Error("expected emergency stop in limits")
	}
	resp, err := client.CheckAndReserve(ctx, request("alice", "10"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Approved || resp.Reason != string(risk.EmergencyStop) {
		t.Errorf("expected EmergencyStop denial, got %+v", resp)
	}
}
