package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"meridian.club/internal/auth"
	"meridian.club/internal/gate"
)

const errorDomain = "meridian.club"

// GRPCGuard applies gate rules to unary gRPC methods.
type GRPCGuard struct {
	gate   *gate.Gate
	rules  map[string]gate.Rule
	public map[string]bool
}

// NewGRPCGuard validates rules up front. Methods listed in public skip the
// gate; methods in neither set are refused.
func NewGRPCGuard(g *gate.Gate, rules map[string]gate.Rule, public ...string) (*GRPCGuard, error) {
	if g == nil {
		return nil, fmt.Errorf("grpc guard: gate is required")
	}
	guard := &GRPCGuard{gate: g, rules: make(map[string]gate.Rule, len(rules)), public: map[string]bool{}}
	for method, rule := range rules {
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("grpc guard: rule for %s: %w", method, err)
		}
		guard.rules[method] = rule
	}
	for _, m := range public {
		guard.public[m] = true
	}
	return guard, nil
}

// Unary returns the server interceptor.
func (gg *GRPCGuard) Unary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if gg.public[info.FullMethod] {
			return handler(ctx, req)
		}
		rule, ok := gg.rules[info.FullMethod]
		if !ok {
			return nil, status.Errorf(codes.PermissionDenied, "access denied")
		}
		ctx, greq := incomingRequest(ctx)
		greq.Attributes["method"] = info.FullMethod
		caller, err := gg.gate.Authorize(ctx, rule, greq)
		if err != nil {
			return nil, GRPCStatus(err).Err()
		}
		return handler(auth.ContextWithIdentity(ctx, caller), req)
	}
}

func incomingRequest(ctx context.Context) (context.Context, gate.Request) {
	greq := gate.Request{Attributes: map[string]string{}}
	md, _ := metadata.FromIncomingContext(ctx)
	for key, vals := range md {
		if key == "authorization" || len(vals) == 0 {
			continue
		}
		greq.Attributes["md."+key] = vals[0]
	}
	if vals := md.Get("authorization"); len(vals) > 0 {
		if token, err := extractBearerToken(vals[0]); err == nil {
			ctx = auth.ContextWithToken(ctx, token)
		}
	}
	if vals := md.Get("x-request-id"); len(vals) > 0 {
		greq.RequestID = strings.TrimSpace(vals[0])
	}
	if vals := md.Get("user-agent"); len(vals) > 0 {
		greq.UserAgent = vals[0]
	}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		greq.IP = p.Addr.String()
	}
	return ctx, greq
}

// GRPCStatus converts a gate refusal into a status carrying the reason as
// ErrorInfo.
func GRPCStatus(err error) *status.Status {
	gerr, ok := gate.AsError(err)
	if !ok {
		return status.New(codes.Internal, "internal error")
	}
	code := codes.Internal
	switch gerr.StatusCode {
	case http.StatusUnauthorized:
		code = codes.Unauthenticated
	case http.StatusForbidden:
		code = codes.PermissionDenied
	case http.StatusBadRequest:
		code = codes.InvalidArgument
	}
	st := status.New(code, gerr.Message)
	detailed, derr := st.WithDetails(&errdetails.ErrorInfo{
		Reason: strings.ToUpper(string(gerr.Reason)),
		Domain: errorDomain,
	})
	if derr != nil {
		return st
	}
	return detailed
}
