// Package decision serves request-level authorization over gRPC for processes
// that hold a token but no tenant store.
package decision

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"authserver.org/internal/auth"
	"authserver.org/internal/obs"
)

const (
	ServiceName     = "authserver.decision.v1.Decision"
	authorizeMethod = "/" + ServiceName + "/Authorize"
)

var tracer = otel.Tracer("authserver.org/internal/decision")

// AuthorizeServer is the server side of the Decision service.
type AuthorizeServer interface {
	Authorize(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the Decision service. Messages are
// google.protobuf.Struct values so no generated code is involved.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AuthorizeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Authorize", Handler: authorizeHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "authserver/decision/v1/decision.proto",
}

func authorizeHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AuthorizeServer).Authorize(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: authorizeMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AuthorizeServer).Authorize(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// Server verifies a raw token, resolves the caller's current account flags
// and runs the decision engine.
type Server struct {
	tokens     *auth.TokenCodec
	identities IdentityResolver
}

func NewServer(tokens *auth.TokenCodec, identities IdentityResolver) (*Server, error) {
	if tokens == nil || identities == nil {
		return nil, errors.New("decision: token codec and identity resolver are required")
	}
	return &Server{tokens: tokens, identities: identities}, nil
}

// Register installs the Decision service and the standard health service.
func (s *Server) Register(gs *grpc.Server) *health.Server {
	gs.RegisterService(&ServiceDesc, s)
	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)
	return hs
}

// Authorize expects {token, resource, method} and answers
// {allowed, reason, required}. A denial is a normal response; only malformed
// requests and unusable tokens are errors.
func (s *Server) Authorize(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	ctx, span := tracer.Start(ctx, "decision.Authorize")
	defer span.End()

	fields := in.GetFields()
	token := strings.TrimSpace(fields["token"].GetStringValue())
	method := strings.TrimSpace(fields["method"].GetStringValue())
	if method == "" {
		return nil, status.Error(codes.InvalidArgument, "method is required")
	}

	req := auth.Request{Method: method}
	if name := fields["resource"].GetStringValue(); name != "" {
		res, err := auth.NewResource(name)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		req.Resource = res
	}

	if token != "" {
		payload, err := s.tokens.Decode(token)
		if err != nil {
			return nil, status.Error(codes.Unauthenticated, "invalid token")
		}
		id, err := s.identities.Resolve(ctx, payload.Subject)
		switch {
		case errors.Is(err, auth.ErrNotFound):
			return nil, status.Error(codes.Unauthenticated, "user does not exist")
		case err != nil:
			obs.Logger().Error().Err(err).Str("user_id", payload.Subject).Msg("identity lookup failed")
			return nil, status.Error(codes.Unavailable, "identity lookup failed")
		case !id.IsActive:
			return nil, status.Error(codes.Unauthenticated, "user account is disabled")
		}
		req.Payload = &payload
		req.Identity = &id
	}

	d := auth.Authorize(req)
	obs.ObserveDecision(d.Allowed, string(d.Reason))
	span.SetAttributes(
		attribute.Bool("decision.allowed", d.Allowed),
		attribute.String("decision.reason", string(d.Reason)),
	)
	if d.Reason == auth.ReasonMissingResource {
		obs.Logger().Warn().Str("method", method).Msg("decision requested without a resource declaration")
	}

	return structpb.NewStruct(map[string]any{
		"allowed":  d.Allowed,
		"reason":   string(d.Reason),
		"required": d.Required,
	})
}

// LoggingInterceptor writes one line per unary call.
func LoggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	obs.Logger().Info().
		Str("grpc_method", info.FullMethod).
		Str("code", status.Code(err).String()).
		Float64("duration_ms", float64(time.Since(start).Microseconds())/1000).
		Msg("grpc_call")
	return resp, err
}
