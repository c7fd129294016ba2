package client

import (
	"context"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	pb "github.com/ppiankov/tradeguard/api/tradeguard/v1"
	"github.com/ppiankov/tradeguard/internal/durable"
	"github.com/ppiankov/tradeguard/internal/risk"
)

// DefaultTimeout bounds each call that carries no deadline of its own.
const DefaultTimeout = 5 * time.Second

// Client connects to a tradeguard gRPC risk server.
type Client struct {
	conn    *grpc.ClientConn
	client  pb.RiskServiceClient
	timeout time.Duration
}

// New creates a gRPC client for the given address. The connection is
// established lazily on the first call.
func New(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to risk server: %w", err)
	}
	return &Client{
		conn:    conn,
		client:  pb.NewRiskServiceClient(conn),
		timeout: DefaultTimeout,
	}, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.timeout)
}

// CheckAndReserve asks the server to approve tc.
// Fail-closed: on any RPC error the returned Decision is not approved.
func (c *Client) CheckAndReserve(ctx context.Context, tc risk.TradeContext) (risk.Decision, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.client.CheckAndReserve(ctx, pb.NewCheckAndReserveRequest(tc))
	if err != nil {
		return risk.Decision{}, fromStatus(err)
	}
	return resp.Decision(), nil
}

// Commit reports that the approved trade was executed.
func (c *Client) Commit(ctx context.Context, reservationID string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	_, err := c.client.Commit(ctx, &pb.ResolveRequest{ReservationID: reservationID})
	return fromStatus(err)
}

// Rollback reports that the approved trade was not executed.
func (c *Client) Rollback(ctx context.Context, reservationID string) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	_, err := c.client.Rollback(ctx, &pb.ResolveRequest{ReservationID: reservationID})
	return fromStatus(err)
}

// Limits returns the user's usage and the server's limits.
func (c *Client) Limits(ctx context.Context, userID string) (*pb.LimitsResponse, error) {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	resp, err := c.client.Limits(ctx, &pb.LimitsRequest{UserID: userID})
	if err != nil {
		return nil, fromStatus(err)
	}
	return resp, nil
}

// Close closes the gRPC connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// fromStatus restores the guardrail sentinel behind a gRPC status so
// callers can use errors.Is across the wire.
func fromStatus(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	var sentinel error
	switch st.Code() {
	case codes.InvalidArgument:
		sentinel = risk.ErrInvalidTrade
	case codes.NotFound:
		sentinel = risk.ErrUnknownReservation
	case codes.DeadlineExceeded:
		if strings.Contains(st.Message(), risk.ErrReservationExpired.Error()) {
			sentinel = risk.ErrReservationExpired
		}
	case codes.Unavailable:
		if strings.Contains(st.Message(), durable.ErrStoreUnavailable.Error()) {
			sentinel = risk.ErrStoreUnavailable
		}
	}
	if sentinel == nil {
		return err
	}
	return fmt.Errorf("%w: %s", sentinel, st.Message())
}
