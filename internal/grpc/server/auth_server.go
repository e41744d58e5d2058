// Package server реализует gRPC-сервис проверки доступа для соседних сервисов.
//
// AuthServer отвечает на два вызова: Authenticate проверяет access-токен и
// возвращает субъекта, HasPermission проверяет право участника в составе, где
// он состоит. Сообщения собраны из стандартных типов protobuf (StringValue,
// Struct, BoolValue), поэтому сервису не нужен сгенерированный код.
package server

import (
	"context"
	"errors"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/magabrotheeeer/tenant-auth/internal/apperr"
	"github.com/magabrotheeeer/tenant-auth/internal/lib/sl"
	"github.com/magabrotheeeer/tenant-auth/internal/models"
)

const (
	// ServiceName полное имя gRPC-сервиса.
	ServiceName = "tenantauth.v1.AuthService"

	AuthenticateMethod  = "/" + ServiceName + "/Authenticate"
	HasPermissionMethod = "/" + ServiceName + "/HasPermission"
)

// Authenticator проверяет access-токен.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*models.Principal, error)
}

// Membership ищет запись состава пользователя.
type Membership interface {
	MembershipOf(ctx context.Context, userID string) (*models.MemberRecord, error)
}

// PermissionChecker проверяет наличие права.
type PermissionChecker interface {
	Has(ctx context.Context, subscriberID, recordID, perm string) (bool, error)
}

// AuthServiceServer контракт сервиса, по которому строится ServiceDesc.
type AuthServiceServer interface {
	Authenticate(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error)
	HasPermission(ctx context.Context, req *structpb.Struct) (*wrapperspb.BoolValue, error)
}

// AuthServer реализует AuthServiceServer.
type AuthServer struct {
	auth       Authenticator
	membership Membership
	perms      PermissionChecker
	log        *slog.Logger
}

// NewAuthServer создает новый экземпляр AuthServer.
func NewAuthServer(auth Authenticator, membership Membership, perms PermissionChecker, logger *slog.Logger) *AuthServer {
	return &AuthServer{
		auth:       auth,
		membership: membership,
		perms:      perms,
		log:        logger,
	}
}

// Register регистрирует сервис на gRPC-сервере.
func Register(s grpc.ServiceRegistrar, srv AuthServiceServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Authenticate проверяет токен и возвращает поля субъекта.
func (s *AuthServer) Authenticate(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error) {
	p, err := s.auth.Authenticate(ctx, req.GetValue())
	if err != nil {
		return nil, s.toStatus("Authenticate", err)
	}
	return structpb.NewStruct(map[string]any{
		"user_id":    p.UserID,
		"role":       string(p.Role),
		"session_id": p.SessionID,
		"platform":   string(p.Platform),
		"timezone":   p.Timezone,
	})
}

// HasPermission ожидает поля user_id и permission. Пользователь вне
// состава не имеет прав.
func (s *AuthServer) HasPermission(ctx context.Context, req *structpb.Struct) (*wrapperspb.BoolValue, error) {
	fields := req.GetFields()
	userID := fields["user_id"].GetStringValue()
	perm := fields["permission"].GetStringValue()
	if userID == "" || perm == "" {
		return nil, status.Error(codes.InvalidArgument, "user_id and permission are required")
	}

	rec, err := s.membership.MembershipOf(ctx, userID)
	if err != nil {
		return nil, s.toStatus("HasPermission", err)
	}
	if rec == nil {
		return wrapperspb.Bool(false), nil
	}
	ok, err := s.perms.Has(ctx, rec.SubscriberID, rec.ID, perm)
	if err != nil {
		return nil, s.toStatus("HasPermission", err)
	}
	return wrapperspb.Bool(ok), nil
}

func (s *AuthServer) toStatus(method string, err error) error {
	switch {
	case errors.Is(err, apperr.ErrTokenInvalid),
		errors.Is(err, apperr.ErrSessionNotFound),
		errors.Is(err, apperr.ErrSessionExpired):
		return status.Error(codes.Unauthenticated, err.Error())
	case errors.Is(err, apperr.ErrInvalidInput), errors.Is(err, apperr.ErrUnknownPermission):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	s.log.Error("grpc call failed", slog.String("method", method), sl.Err(err))
	return status.Error(codes.Internal, "internal error")
}

func authenticateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AuthServiceServer).Authenticate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: AuthenticateMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AuthServiceServer).Authenticate(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

func hasPermissionHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(AuthServiceServer).HasPermission(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: HasPermissionMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(AuthServiceServer).HasPermission(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// ServiceDesc описание сервиса для grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*AuthServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Authenticate", Handler: authenticateHandler},
		{MethodName: "HasPermission", Handler: hasPermissionHandler},
	},
	Streams: []grpc.StreamDesc{},
}
