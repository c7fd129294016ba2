package tradeguardv1

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	RiskService_ServiceName                = "tradeguard.v1.RiskService"
	RiskService_CheckAndReserve_FullMethod = "/tradeguard.v1.RiskService/CheckAndReserve"
	RiskService_Commit_FullMethod          = "/tradeguard.v1.RiskService/Commit"
	RiskService_Rollback_FullMethod        = "/tradeguard.v1.RiskService/Rollback"
	RiskService_Limits_FullMethod          = "/tradeguard.v1.RiskService/Limits"
)

// RiskServiceClient is the client API for RiskService.
type RiskServiceClient interface {
	CheckAndReserve(ctx context.Context, in *CheckAndReserveRequest, opts ...grpc.CallOption) (*CheckAndReserveResponse, error)
	Commit(ctx context.Context, in *ResolveRequest, opts ...grpc.CallOption) (*ResolveResponse, error)
	Rollback(ctx context.Context, in *ResolveRequest, opts ...grpc.CallOption) (*ResolveResponse, error)
	Limits(ctx context.Context, in *LimitsRequest, opts ...grpc.CallOption) (*LimitsResponse, error)
}

type riskServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewRiskServiceClient returns a client that always calls with the JSON codec.
func NewRiskServiceClient(cc grpc.ClientConnInterface) RiskServiceClient {
	return &riskServiceClient{cc}
}

func (c *riskServiceClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, method, in, out, opts...)
}

func (c *riskServiceClient) CheckAndReserve(ctx context.Context, in *CheckAndReserveRequest, opts ...grpc.CallOption) (*CheckAndReserveResponse, error) {
	out := new(CheckAndReserveResponse)
	if err := c.invoke(ctx, RiskService_CheckAndReserve_FullMethod, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *riskServiceClient) Commit(ctx context.Context, in *ResolveRequest, opts ...grpc.CallOption) (*ResolveResponse, error) {
	out := new(ResolveResponse)
	if err := c.invoke(ctx, RiskService_Commit_FullMethod, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *riskServiceClient) Rollback(ctx context.Context, in *ResolveRequest, opts ...grpc.CallOption) (*ResolveResponse, error) {
	out := new(ResolveResponse)
	if err := c.invoke(ctx, RiskService_Rollback_FullMethod, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *riskServiceClient) Limits(ctx context.Context, in *LimitsRequest, opts ...grpc.CallOption) (*LimitsResponse, error) {
	out := new(LimitsResponse)
	if err := c.invoke(ctx, RiskService_Limits_FullMethod, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

// RiskServiceServer is the server API for RiskService.
type RiskServiceServer interface {
	CheckAndReserve(context.Context, *CheckAndReserveRequest) (*CheckAndReserveResponse, error)
	Commit(context.Context, *ResolveRequest) (*ResolveResponse, error)
	Rollback(context.Context, *ResolveRequest) (*ResolveResponse, error)
	Limits(context.Context, *LimitsRequest) (*LimitsResponse, error)
}

// UnimplementedRiskServiceServer can be embedded for forward compatibility.
type UnimplementedRiskServiceServer struct{}

func (UnimplementedRiskServiceServer) CheckAndReserve(context.Context, *CheckAndReserveRequest) (*CheckAndReserveResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method CheckAndReserve not implemented")
}

func (UnimplementedRiskServiceServer) Commit(context.Context, *ResolveRequest) (*ResolveResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Commit not implemented")
}

func (UnimplementedRiskServiceServer) Rollback(context.Context, *ResolveRequest) (*ResolveResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Rollback not implemented")
}

func (UnimplementedRiskServiceServer) Limits(context.Context, *LimitsRequest) (*LimitsResponse, error) {
	return nil, status.Error(codes.Unimplemented, "method Limits not implemented")
}

// RegisterRiskServiceServer registers srv with s.
func RegisterRiskServiceServer(s grpc.ServiceRegistrar, srv RiskServiceServer) {
	s.RegisterService(&RiskService_ServiceDesc, srv)
}

// unary builds a method handler that decodes Req and dispatches to call.
func unary[Req any](method string, call func(RiskServiceServer, context.Context, *Req) (any, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(RiskServiceServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(RiskServiceServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// RiskService_ServiceDesc is the grpc.ServiceDesc for RiskService.
var RiskService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: RiskService_ServiceName,
	HandlerType: (*RiskServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "CheckAndReserve",
			Handler: unary(RiskService_CheckAndReserve_FullMethod, func(s RiskServiceServer, ctx context.Context, in *CheckAndReserveRequest) (any, error) {
				return s.CheckAndReserve(ctx, in)
			}),
		},
		{
			MethodName: "Commit",
			Handler: unary(RiskService_Commit_FullMethod, func(s RiskServiceServer, ctx context.Context, in *ResolveRequest) (any, error) {
				return s.Commit(ctx, in)
			}),
		},
		{
			MethodName: "Rollback",
			Handler: unary(RiskService_Rollback_FullMethod, func(s RiskServiceServer, ctx context.Context, in *ResolveRequest) (any, error) {
				return s.Rollback(ctx, in)
			}),
		},
		{
			MethodName: "Limits",
			Handler: unary(RiskService_Limits_FullMethod, func(s RiskServiceServer, ctx context.Context, in *LimitsRequest) (any, error) {
				return s.Limits(ctx, in)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tradeguard/v1/risk_service",
}
