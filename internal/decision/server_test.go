package decision

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"authserver.org/internal/auth"
	"authserver.org/internal/store/memory"
)

const bufSize = 1024 * 1024

type fixture struct {
	store  *memory.Store
	rbac   *auth.RBACService
	codec  *auth.TokenCodec
	client *Client
	conn   *grpc.ClientConn
}

func startBufGRPC(t *testing.T) fixture {
	t.Helper()

	st := memory.New()
	rbac, err := auth.NewRBACService(st)
	require.NoError(t, err)
	codec, err := auth.NewTokenCodec("test-secret")
	require.NoError(t, err)
	srv, err := NewServer(codec, StoreResolver{Users: st})
	require.NoError(t, err)

	listener := bufconn.Listen(bufSize)
	server := grpc.NewServer(grpc.UnaryInterceptor(LoggingInterceptor))
	srv.Register(server)

	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			t.Logf("grpc serve error: %v", err)
		}
	}()

	conn, err := grpc.NewClient(
		"passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return listener.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		server.GracefulStop()
		_ = conn.Close()
		_ = listener.Close()
	})
	return fixture{store: st, rbac: rbac, codec: codec, client: NewClient(conn), conn: conn}
}

func (f fixture) token(t *testing.T, email string, superuser bool, perms ...string) (auth.User, string) {
	t.Helper()
	u, err := f.rbac.CreateUser(context.Background(), auth.NewUser{
		Name:        email,
		Email:       email,
		IsSuperuser: superuser,
	})
	require.NoError(t, err)
	raw, _, err := f.codec.Encode(u, perms, time.Time{})
	require.NoError(t, err)
	return u, raw
}

func ctxTimeout(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestAuthorizeDecisions(t *testing.T) {
	f := startBufGRPC(t)
	ctx := ctxTimeout(t)
	_, nurse := f.token(t, "nurse@example.com", false, "Patient-GET")
	_, root := f.token(t, "root@example.com", true)

	cases := []struct {
		name     string
		token    string
		resource string
		method   string
		allowed  bool
		reason   auth.Reason
	}{
		{"granted", nurse, "Patient", "GET", true, auth.ReasonGranted},
		{"not granted", nurse, "Patient", "DELETE", false, auth.ReasonNotGranted},
		{"lowercase method", nurse, "Patient", "get", false, auth.ReasonNotGranted},
		{"undeclared resource", nurse, "", "GET", false, auth.ReasonMissingResource},
		{"anonymous", "", "Patient", "GET", false, auth.ReasonNotAuthenticated},
		{"superuser", root, "", "DELETE", true, auth.ReasonSuperuser},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := f.client.Authorize(ctx, tc.token, tc.resource, tc.method)
			require.NoError(t, err)
			require.Equal(t, tc.allowed, d.Allowed)
			require.Equal(t, tc.reason, d.Reason)
		})
	}
}

func TestAuthorizeRejectsUnusableTokens(t *testing.T) {
	f := startBufGRPC(t)
	ctx := ctxTimeout(t)
	u, raw := f.token(t, "nurse@example.com", false, "Patient-GET")

	_, err := f.client.Authorize(ctx, raw+"x", "Patient", "GET")
	require.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = f.client.Authorize(ctx, raw, "Patient", "")
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	inactive := false
	_, err = f.rbac.UpdateUser(ctx, u.ID, auth.UserUpdate{IsActive: &inactive})
	require.NoError(t, err)
	_, err = f.client.Authorize(ctx, raw, "Patient", "GET")
	require.Equal(t, codes.Unauthenticated, status.Code(err))

	require.NoError(t, f.rbac.DeleteUser(ctx, u.ID))
	_, err = f.client.Authorize(ctx, raw, "Patient", "GET")
	require.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestSuperuserFlagComesFromStore(t *testing.T) {
	f := startBufGRPC(t)
	ctx := ctxTimeout(t)
	u, raw := f.token(t, "staff@example.com", false)

	d, err := f.client.Authorize(ctx, raw, "Patient", "GET")
	require.NoError(t, err)
	require.False(t, d.Allowed)

	super := true
	_, err = f.rbac.UpdateUser(ctx, u.ID, auth.UserUpdate{IsSuperuser: &super})
	require.NoError(t, err)
	d, err = f.client.Authorize(ctx, raw, "Patient", "GET")
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Equal(t, auth.ReasonSuperuser, d.Reason)
}

func TestHealthService(t *testing.T) {
	f := startBufGRPC(t)
	resp, err := healthpb.NewHealthClient(f.conn).Check(ctxTimeout(t), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}
