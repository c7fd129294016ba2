package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pb "github.com/ppiankov/tradeguard/api/tradeguard/v1"
	"github.com/ppiankov/tradeguard/internal/durable"
	"github.com/ppiankov/tradeguard/internal/killswitch"
	"github.com/ppiankov/tradeguard/internal/risk"
)

// Config holds gRPC server configuration.
type Config struct {
	Port int
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(log *zap.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithKillSwitch reports the switch state in Limits responses.
func WithKillSwitch(sw *killswitch.Switch) Option {
	return func(s *Server) { s.stop = sw }
}

// Server implements the RiskService gRPC server on top of a risk.Manager.
type Server struct {
	pb.UnimplementedRiskServiceServer

	manager    *risk.Manager
	stop       *killswitch.Switch
	log        *zap.Logger
	cfg        Config
	grpcServer *grpc.Server
}

// New creates a gRPC server for manager. The caller keeps ownership of
// manager and closes it after the server stops.
func New(cfg Config, manager *risk.Manager, opts ...Option) *Server {
	s := &Server{
		manager: manager,
		log:     zap.NewNop(),
		cfg:     cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("grpc")
	s.grpcServer = grpc.NewServer(grpc.ChainUnaryInterceptor(s.logCalls))

	pb.RegisterRiskServiceServer(s.grpcServer, s)
	return s
}

// Serve starts the gRPC server on the configured port. Blocks until stopped.
func (s *Server) Serve() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.Port))
	if err != nil {
		return fmt.Errorf("failed to listen on port %d: %w", s.cfg.Port, err)
	}
	return s.ServeOn(lis)
}

// ServeOn starts the gRPC server on the given listener.
func (s *Server) ServeOn(lis net.Listener) error {
	s.log.Info("serving", zap.String("addr", lis.Addr().String()))
	return s.grpcServer.Serve(lis)
}

// GracefulStop waits for in-flight calls, then stops the server.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
}

// CheckAndReserve implements the CheckAndReserve RPC.
func (s *Server) CheckAndReserve(ctx context.Context, req *pb.CheckAndReserveRequest) (*pb.CheckAndReserveResponse, error) {
	tc, err := req.Trade()
	if err != nil {
		return nil, toStatus(err)
	}
	d, err := s.manager.CheckAndReserve(ctx, tc)
	if err != nil {
		return nil, toStatus(err)
	}
	return pb.NewCheckAndReserveResponse(d), nil
}

// Commit implements the Commit RPC.
func (s *Server) Commit(ctx context.Context, req *pb.ResolveRequest) (*pb.ResolveResponse, error) {
	if err := s.manager.Commit(ctx, req.ReservationID); err != nil {
		return nil, toStatus(err)
	}
	return &pb.ResolveResponse{ReservationID: req.ReservationID, Status: "committed"}, nil
}

// Rollback implements the Rollback RPC.
func (s *Server) Rollback(ctx context.Context, req *pb.ResolveRequest) (*pb.ResolveResponse, error) {
	if err := s.manager.Rollback(ctx, req.ReservationID); err != nil {
		return nil, toStatus(err)
	}
	return &pb.ResolveResponse{ReservationID: req.ReservationID, Status: "rolled_back"}, nil
}

// Limits implements the Limits RPC.
func (s *Server) Limits(ctx context.Context, req *pb.LimitsRequest) (*pb.LimitsResponse, error) {
	if req.UserID == "" {
		return nil, status.Error(codes.InvalidArgument, "user_id is required")
	}
	u, err := s.manager.Usage(ctx, req.UserID)
	if err != nil {
		return nil, toStatus(err)
	}
	return pb.NewLimitsResponse(u, s.manager.Config(), s.stop != nil && s.stop.Engaged()), nil
}

func (s *Server) logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	fields := []zap.Field{
		zap.String("method", info.FullMethod),
		zap.Duration("duration", time.Since(start)),
	}
	if err != nil {
		s.log.Warn("call failed", append(fields, zap.Error(err))...)
	} else {
		s.log.Debug("call", fields...)
	}
	return resp, err
}

// toStatus maps guardrail errors onto gRPC codes.
func toStatus(err error) error {
	code := codes.Internal
	switch {
	case errors.Is(err, risk.ErrInvalidTrade):
		code = codes.InvalidArgument
	case errors.Is(err, risk.ErrStoreUnavailable), errors.Is(err, durable.ErrClosed):
		code = codes.Unavailable
	case errors.Is(err, risk.ErrReservationExpired):
		code = codes.DeadlineExceeded
	case errors.Is(err, risk.ErrUnknownReservation):
		code = codes.NotFound
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	}
	return status.Error(code, err.Error())
}
