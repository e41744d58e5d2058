// Package client содержит gRPC-клиент сервиса проверки доступа. Клиент
// удовлетворяет middlewarectx.Authenticator, поэтому соседний сервис может
// подключить ту же HTTP-аутентификацию без собственной проверки токенов.
package client

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/magabrotheeeer/tenant-auth/internal/apperr"
	"github.com/magabrotheeeer/tenant-auth/internal/grpc/server"
	"github.com/magabrotheeeer/tenant-auth/internal/models"
)

// AuthClient клиент AuthService.
type AuthClient struct {
	conn *grpc.ClientConn
}

// NewAuthClient создаёт клиент. Соединение устанавливается лениво при первом вызове.
func NewAuthClient(addr string, opts ...grpc.DialOption) (*AuthClient, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}
	return &AuthClient{conn: conn}, nil
}

// Close закрывает соединение.
func (a *AuthClient) Close() error {
	return a.conn.Close()
}

// Authenticate проверяет access-токен на сервере.
func (a *AuthClient) Authenticate(ctx context.Context, token string) (*models.Principal, error) {
	out := new(structpb.Struct)
	if err := a.conn.Invoke(ctx, server.AuthenticateMethod, wrapperspb.String(token), out); err != nil {
		return nil, fromStatus(err)
	}
	f := out.GetFields()
	return &models.Principal{
		UserID:    f["user_id"].GetStringValue(),
		Role:      models.Role(f["role"].GetStringValue()),
		SessionID: f["session_id"].GetStringValue(),
		Platform:  models.Platform(f["platform"].GetStringValue()),
		Timezone:  f["timezone"].GetStringValue(),
	}, nil
}

// HasPermission проверяет право пользователя в его составе.
func (a *AuthClient) HasPermission(ctx context.Context, userID, perm string) (bool, error) {
	in, err := structpb.NewStruct(map[string]any{"user_id": userID, "permission": perm})
	if err != nil {
		return false, err
	}
	out := new(wrapperspb.BoolValue)
	if err := a.conn.Invoke(ctx, server.HasPermissionMethod, in, out); err != nil {
		return false, fromStatus(err)
	}
	return out.GetValue(), nil
}

func fromStatus(err error) error {
	switch status.Code(err) {
	case codes.Unauthenticated:
		return apperr.ErrTokenInvalid
	case codes.InvalidArgument:
		return apperr.Validation(status.Convert(err).Message())
	}
	return err
}
