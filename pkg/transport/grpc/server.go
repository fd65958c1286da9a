package grpc

import (
    "context"
    "net"
    "time"

    "go.uber.org/zap"
    "google.golang.org/grpc"
    "google.golang.org/grpc/codes"
    "google.golang.org/grpc/health"
    healthpb "google.golang.org/grpc/health/grpc_health_v1"
    "google.golang.org/grpc/keepalive"
    "google.golang.org/grpc/status"

    "github.com/amirimatin/go-relay/pkg/internal/logutil"
    "github.com/amirimatin/go-relay/pkg/observability/tracing"
    "github.com/amirimatin/go-relay/pkg/transport"
)

const (
    serviceName     = "relay.v1.Management"
    methodGetStatus = "/" + serviceName + "/GetStatus"
    methodGetRoster = "/" + serviceName + "/GetRoster"
)

// Server implements transport.RPCServer over gRPC using a JSON codec.
type Server struct {
    bind   string
    lis    net.Listener
    srv    *grpc.Server
    health *health.Server
    log    *zap.Logger
}

func NewServer(bind string, logger *zap.Logger) *Server {
    return &Server{bind: bind, log: logutil.OrNop(logger)}
}

// messages carried by the JSON codec
type empty struct{}
type blob struct {
    Data []byte `json:"data"`
}

type managementServer interface {
    GetStatus(ctx context.Context, in *empty) (*blob, error)
    GetRoster(ctx context.Context, in *transport.RosterRequest) (*blob, error)
}

type mgmtImpl struct {
    status transport.StatusFunc
    roster transport.RosterFunc
}

func (m *mgmtImpl) GetStatus(ctx context.Context, _ *empty) (*blob, error) {
    ctx, end := tracing.StartSpan(ctx, "grpc.status")
    defer end()
    b, err := m.status(ctx)
    if err != nil { return nil, status.Error(codes.Internal, err.Error()) }
    return &blob{Data: b}, nil
}

func (m *mgmtImpl) GetRoster(ctx context.Context, in *transport.RosterRequest) (*blob, error) {
    if m.roster == nil { return nil, status.Error(codes.Unimplemented, "roster not supported") }
    if in == nil { in = &transport.RosterRequest{} }
    ctx, end := tracing.StartSpan(ctx, "grpc.roster")
    defer end()
    b, err := m.roster(ctx, in.Listener)
    if err != nil { return nil, status.Error(codes.NotFound, err.Error()) }
    return &blob{Data: b}, nil
}

// Service descriptor and handlers (hand-written, no codegen required)
var managementDesc = grpc.ServiceDesc{
    ServiceName: serviceName,
    HandlerType: (*managementServer)(nil),
    Methods: []grpc.MethodDesc{
        {MethodName: "GetStatus", Handler: getStatusHandler},
        {MethodName: "GetRoster", Handler: getRosterHandler},
    },
}

func getStatusHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
    in := new(empty)
    if err := dec(in); err != nil { return nil, err }
    if interceptor == nil { return srv.(managementServer).GetStatus(ctx, in) }
    info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetStatus}
    handler := func(ctx context.Context, req any) (any, error) {
        return srv.(managementServer).GetStatus(ctx, req.(*empty))
    }
    return interceptor(ctx, in, info, handler)
}

func getRosterHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
    in := new(transport.RosterRequest)
    if err := dec(in); err != nil { return nil, err }
    if interceptor == nil { return srv.(managementServer).GetRoster(ctx, in) }
    info := &grpc.UnaryServerInfo{Server: srv, FullMethod: methodGetRoster}
    handler := func(ctx context.Context, req any) (any, error) {
        return srv.(managementServer).GetRoster(ctx, req.(*transport.RosterRequest))
    }
    return interceptor(ctx, in, info, handler)
}

func (s *Server) Start(ctx context.Context, statusFn transport.StatusFunc, roster transport.RosterFunc) error {
    lis, err := net.Listen("tcp", s.bind)
    if err != nil { return err }
    s.lis = lis
    srv := grpc.NewServer(
        grpc.ForceServerCodec(jsonCodec{}),
        grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{MinTime: 5 * time.Second, PermitWithoutStream: true}),
        grpc.KeepaliveParams(keepalive.ServerParameters{Time: 30 * time.Second, Timeout: 10 * time.Second}),
    )
    s.srv = srv
    s.health = health.NewServer()
    healthpb.RegisterHealthServer(srv, s.health)
    s.health.SetServingStatus(serviceName, healthpb.HealthCheckResponse_SERVING)
    srv.RegisterService(&managementDesc, &mgmtImpl{status: statusFn, roster: roster})

    go func() {
        <-ctx.Done()
        _ = s.Stop(context.Background())
    }()
    go func() {
        if err := srv.Serve(lis); err != nil && err != grpc.ErrServerStopped {
            logutil.Errorf(s.log, "grpc: serve: %v", err)
        }
    }()
    return nil
}

// Addr returns the bound address once started, else the configured one.
func (s *Server) Addr() string {
    if s.lis != nil { return s.lis.Addr().String() }
    return s.bind
}

func (s *Server) Stop(ctx context.Context) error {
    srv := s.srv
    if srv == nil { return nil }
    s.srv = nil
    if s.health != nil { s.health.Shutdown() }
    ch := make(chan struct{})
    go func() { srv.GracefulStop(); close(ch) }()
    c, cancel := context.WithTimeout(ctx, 2*time.Second)
    defer cancel()
    select {
    case <-ch:
    case <-c.Done():
        srv.Stop()
    }
    return nil
}

var _ transport.RPCServer = (*Server)(nil)
