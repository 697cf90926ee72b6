package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strconv"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"meridian.club/internal/audit"
	"meridian.club/internal/auth"
	"meridian.club/internal/gate"
)

const (
	accessServiceName    = "meridian.access.v1.AccessService"
	MethodGetPermissions = "/" + accessServiceName + "/GetPermissions"
	MethodQueryAudit     = "/" + accessServiceName + "/QueryAudit"
)

// AccessRules are the gate rules for the access service.
func AccessRules() map[string]gate.Rule {
	return map[string]gate.Rule{
		MethodGetPermissions: rulePermissions,
		MethodQueryAudit:     ruleAuditRead,
	}
}

// AccessServer serves permission and audit lookups over gRPC using
// well-known protobuf types, so no generated stubs are involved.
type AccessServer struct {
	catalog *auth.Catalog
	audit   AuditReader
}

func NewAccessServer(catalog *auth.Catalog, reader AuditReader) *AccessServer {
	return &AccessServer{catalog: catalog, audit: reader}
}

type accessService interface {
	GetPermissions(ctx context.Context, in *emptypb.Empty) (*structpb.Struct, error)
	QueryAudit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)
}

// Register attaches the service to s.
func (s *AccessServer) Register(srv grpc.ServiceRegistrar) {
	srv.RegisterService(&accessServiceDesc, s)
}

func (s *AccessServer) GetPermissions(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	caller, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, "authentication required")
	}
	perms := []any{}
	for _, g := range s.catalog.Permissions(caller.Role) {
		actions := make([]any, len(g.Actions))
		for i, a := range g.Actions {
			actions[i] = string(a)
		}
		perms = append(perms, map[string]any{"resource": string(g.Resource), "actions": actions})
	}
	return structpb.NewStruct(map[string]any{
		"user_id":     caller.ID,
		"role":        string(caller.Role),
		"permissions": perms,
	})
}

func (s *AccessServer) QueryAudit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	values := url.Values{}
	for k, v := range in.GetFields() {
		switch kind := v.GetKind().(type) {
		case *structpb.Value_StringValue:
			values.Set(k, kind.StringValue)
		case *structpb.Value_NumberValue:
			values.Set(k, strconv.FormatInt(int64(kind.NumberValue), 10))
		case *structpb.Value_BoolValue:
			values.Set(k, strconv.FormatBool(kind.BoolValue))
		}
	}
	q, err := parseAuditQuery(values)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	events, err := s.audit.Query(ctx, q)
	if err != nil {
		if errors.Is(err, audit.ErrInvalidQuery) {
			return nil, status.Error(codes.InvalidArgument, err.Error())
		}
		return nil, status.Error(codes.Internal, "internal error")
	}
	raw, err := json.Marshal(events)
	if err != nil {
		return nil, status.Error(codes.Internal, "internal error")
	}
	var list []any
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, status.Error(codes.Internal, "internal error")
	}
	if list == nil {
		list = []any{}
	}
	return structpb.NewStruct(map[string]any{"events": list, "count": len(list)})
}

var accessServiceDesc = grpc.ServiceDesc{
	ServiceName: accessServiceName,
	HandlerType: (*accessService)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetPermissions", Handler: getPermissionsHandler},
		{MethodName: "QueryAudit", Handler: queryAuditHandler},
	},
	Metadata: "meridian/access/v1/access.proto",
}

func getPermissionsHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(accessService).GetPermissions(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodGetPermissions}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(accessService).GetPermissions(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

func queryAuditHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(accessService).QueryAudit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: MethodQueryAudit}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(accessService).QueryAudit(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}
