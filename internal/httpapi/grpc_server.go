package httpapi

import (
	"context"
	"errors"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"sysaccess.org/internal/access"
	"sysaccess.org/internal/auth"
)

const decideMethod = "/sysaccess.v1.Decisions/Decide"

// DecisionsServer is the gRPC surface for reviewer tooling. Payloads are
// google.protobuf.Struct so no generated stubs are needed.
type DecisionsServer interface {
	Decide(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

var decisionsServiceDesc = grpc.ServiceDesc{
	ServiceName: "sysaccess.v1.Decisions",
	HandlerType: (*DecisionsServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Decide", Handler: decideHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "sysaccess/v1/decisions.proto",
}

func decideHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(DecisionsServer).Decide(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: decideMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(DecisionsServer).Decide(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// GRPCServer implements Decisions and keeps grpc.health.v1 in step with readiness.
type GRPCServer struct {
	svc       *access.Service
	auth      *auth.Authenticator
	readiness ReadinessChecker
	health    *health.Server
}

// NewGRPCServer creates the gRPC service wrapper.
func NewGRPCServer(svc *access.Service, authn *auth.Authenticator, r ReadinessChecker) *GRPCServer {
	if r == nil {
		r = PingFunc(nil)
	}
	return &GRPCServer{svc: svc, auth: authn, readiness: r, health: health.NewServer()}
}

// Register attaches all services to srv.
func (s *GRPCServer) Register(srv *grpc.Server) {
	srv.RegisterService(&decisionsServiceDesc, s)
	healthpb.RegisterHealthServer(srv, s.health)
}

// RefreshHealth evaluates readiness once and publishes it for the overall and Decisions services.
func (s *GRPCServer) RefreshHealth(ctx context.Context) {
	st := healthpb.HealthCheckResponse_SERVING
	if err := s.readiness.Check(ctx); err != nil {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(decisionsServiceDesc.ServiceName, st)
}

// WatchHealth refreshes health every interval until ctx is done.
func (s *GRPCServer) WatchHealth(ctx context.Context, interval time.Duration) {
	s.RefreshHealth(ctx)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.health.Shutdown()
			return
		case <-ticker.C:
			s.RefreshHealth(ctx)
		}
	}
}

// Decide accepts {entry_id, action, comment, version?} or, with mode "override"
// or "revoke", the matching override/revoke fields.
func (s *GRPCServer) Decide(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.svc == nil || s.auth == nil {
		return nil, status.Error(codes.Unavailable, "decisions are not configured")
	}
	actor, err := s.authenticate(ctx)
	if err != nil {
		return nil, grpcError(err)
	}
	fields := in.AsMap()
	str := func(key string) string {
		v, _ := fields[key].(string)
		return strings.TrimSpace(v)
	}
	entryID := str("entry_id")

	var res access.Result
	switch mode := str("mode"); mode {
	case "", "decision":
		var version int64
		if v, ok := fields["version"].(float64); ok {
			version = int64(v)
		}
		res, err = s.svc.Decide(ctx, actor, access.DecisionInput{
			EntryID: entryID, Action: access.Action(str("action")), Comment: str("comment"), Version: version,
		})
	case "override":
		res, err = s.svc.Override(ctx, actor, access.OverrideInput{
			EntryID: entryID, Stage: access.Stage(str("stage")), Status: access.Status(str("status")), Comment: str("comment"),
		})
	case "revoke":
		res, err = s.svc.Revoke(ctx, actor, access.RevokeInput{EntryID: entryID, Comment: str("comment")})
	default:
		return nil, status.Errorf(codes.InvalidArgument, "unknown mode %q", mode)
	}
	if err != nil {
		return nil, grpcError(err)
	}
	return structpb.NewStruct(map[string]any{
		"entry_id":       res.Entry.ID,
		"stage":          string(res.Outcome.Stage),
		"kind":           string(res.Outcome.Kind),
		"stage_status":   string(res.Entry.StageStatus(res.Outcome.Stage)),
		"request_status": string(res.Record.Request.Status()),
		"version":        float64(res.Entry.Version),
	})
}

func (s *GRPCServer) authenticate(ctx context.Context) (access.Actor, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	var header string
	if vals := md.Get("authorization"); len(vals) > 0 {
		header = vals[0]
	}
	token, err := extractBearerToken(header)
	if err != nil || token == "" {
		return access.Actor{}, auth.ErrInvalidToken
	}
	p, err := s.auth.Authenticate(ctx, token)
	if err != nil {
		return access.Actor{}, err
	}
	var ip string
	if pr, ok := peer.FromContext(ctx); ok && pr.Addr != nil {
		ip = pr.Addr.String()
	}
	return p.Actor(ip), nil
}

func grpcError(err error) error {
	switch {
	case errors.Is(err, access.ErrValidation):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, access.ErrAuthorization):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, access.ErrState):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, access.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrInvalidCredentials):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, auth.ErrMaintenance):
		return status.Error(codes.Unavailable, err.Error())
	}
	return status.Error(codes.Internal, "internal error")
}
