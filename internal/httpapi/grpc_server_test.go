package httpapi

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"meridian.club/internal/auth"
	"meridian.club/internal/gate"
)

const bufSize = 1024 * 1024

func startBufGRPC(t *testing.T, env *testEnv) *grpc.ClientConn {
	t.Helper()

	guard, err := NewGRPCGuard(env.gate, AccessRules(), healthpb.Health_Check_FullMethodName)
	if err != nil {
		t.Fatalf("NewGRPCGuard: %v", err)
	}
	listener := bufconn.Listen(bufSize)
	server := grpc.NewServer(grpc.UnaryInterceptor(guard.Unary()))
	NewAccessServer(auth.DefaultCatalog(), env.trail).Register(server)
	healthpb.RegisterHealthServer(server, health.NewServer())

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			t.Logf("grpc serve error: %v", err)
		}
	}()

	dialer := func(ctx context.Context, _ string) (net.Conn, error) {
		return listener.Dial()
	}
	conn, err := grpc.NewClient(
		"passthrough:///bufnet",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("dial bufnet: %v", err)
	}
	t.Cleanup(func() {
		_ = conn.Close()
		server.GracefulStop()
		_ = listener.Close()
	})
	return conn
}

func withToken(ctx context.Context, token string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+token, "x-request-id", "grpc-req-1")
}

func TestGRPCHealthIsPublic(t *testing.T) {
	env := newTestEnv(t)
	conn := startBufGRPC(t, env)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("unexpected status: %v", resp.GetStatus())
	}
}

func TestGRPCGetPermissions(t *testing.T) {
	env := newTestEnv(t)
	conn := startBufGRPC(t, env)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	out := new(structpb.Struct)
	err := conn.Invoke(withToken(ctx, env.token("member-1", auth.RoleMember)), MethodGetPermissions, &emptypb.Empty{}, out)
	if err != nil {
		t.Fatalf("GetPermissions: %v", err)
	}
	if out.GetFields()["role"].GetStringValue() != "member" {
		t.Fatalf("unexpected response: %v", out)
	}
	if len(out.GetFields()["permissions"].GetListValue().GetValues()) == 0 {
		t.Fatal("expected permissions")
	}

	err = conn.Invoke(ctx, MethodGetPermissions, &emptypb.Empty{}, new(structpb.Struct))
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Unauthenticated {
		t.Fatalf("expected Unauthenticated, got %v", err)
	}
}

func TestGRPCQueryAuditDenied(t *testing.T) {
	env := newTestEnv(t)
	conn := startBufGRPC(t, env)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	in, _ := structpb.NewStruct(map[string]any{})
	err := conn.Invoke(withToken(ctx, env.token("agent-1", auth.RoleSupportAgent)), MethodQueryAudit, in, new(structpb.Struct))
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.PermissionDenied {
		t.Fatalf("expected PermissionDenied, got %v", err)
	}
	var reason string
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok {
			reason = info.GetReason()
		}
	}
	if reason != "ROLE_NOT_ALLOWED" {
		t.Fatalf("expected ROLE_NOT_ALLOWED detail, got %q", reason)
	}

	filter, _ := structpb.NewStruct(map[string]any{"type": "ACCESS_DENIED", "limit": 10})
	out := new(structpb.Struct)
	if err := conn.Invoke(withToken(ctx, env.token("admin-1", auth.RoleAdmin)), MethodQueryAudit, filter, out); err != nil {
		t.Fatalf("QueryAudit: %v", err)
	}
	if out.GetFields()["count"].GetNumberValue() != 1 {
		t.Fatalf("expected the denied call on the trail, got %v", out)
	}

	bad, _ := structpb.NewStruct(map[string]any{"limit": 5000})
	err = conn.Invoke(withToken(ctx, env.token("admin-1", auth.RoleAdmin)), MethodQueryAudit, bad, new(structpb.Struct))
	if st, _ := status.FromError(err); st.Code() != codes.InvalidArgument {
		t.Fatalf("expected InvalidArgument, got %v", err)
	}
}

func TestGRPCUnlistedMethodIsRefused(t *testing.T) {
	env := newTestEnv(t)
	guard, err := NewGRPCGuard(env.gate, nil)
	if err != nil {
		t.Fatalf("NewGRPCGuard: %v", err)
	}
	_, err = guard.Unary()(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/x.Y/Z"}, func(context.Context, any) (any, error) {
		t.Fatal("handler must not run")
		return nil, nil
	})
	if st, _ := status.FromError(err); st.Code() != codes.PermissionDenied {
		t.Fatalf("expected PermissionDenied, got %v", err)
	}
}

func TestIncomingRequestAttributes(t *testing.T) {
	md := metadata.Pairs("authorization", "Bearer abc", "x-tenant", "club-9", "x-request-id", " rid-1 ")
	ctx, greq := incomingRequest(metadata.NewIncomingContext(context.Background(), md))

	if greq.Attributes["md.x-tenant"] != "club-9" {
		t.Fatalf("expected tenant attribute, got %v", greq.Attributes)
	}
	if _, ok := greq.Attributes["md.authorization"]; ok {
		t.Fatal("credentials must not be copied into attributes")
	}
	if greq.RequestID != "rid-1" {
		t.Fatalf("unexpected request id %q", greq.RequestID)
	}
	if tok, ok := auth.TokenFromContext(ctx); !ok || tok != "abc" {
		t.Fatalf("expected bearer token in context, got %q", tok)
	}
}

func TestGRPCCustomCheckSeesMethod(t *testing.T) {
	env := newTestEnv(t)
	var seen string
	rule := gate.Rule{
		Resource:    auth.ResourceUserProfile,
		Action:      auth.ActionRead,
		RequireAuth: true,
		CustomCheck: func(_ context.Context, _ auth.Identity, req gate.Request) bool {
			seen = req.Attributes["method"]
			return true
		},
	}
	guard, err := NewGRPCGuard(env.gate, map[string]gate.Rule{MethodGetPermissions: rule})
	if err != nil {
		t.Fatalf("NewGRPCGuard: %v", err)
	}
	md := metadata.Pairs("authorization", "Bearer "+env.token("member-1", auth.RoleMember))
	ctx := metadata.NewIncomingContext(context.Background(), md)
	_, err = guard.Unary()(ctx, nil, &grpc.UnaryServerInfo{FullMethod: MethodGetPermissions}, func(context.Context, any) (any, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != MethodGetPermissions {
		t.Fatalf("custom check saw method %q", seen)
	}
}
