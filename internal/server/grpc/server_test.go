package grpcserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/and161185/collab-studio/internal/command"
	"github.com/and161185/collab-studio/internal/errs"
	"github.com/and161185/collab-studio/internal/model"
	"github.com/and161185/collab-studio/internal/repository/memory"
	"github.com/and161185/collab-studio/internal/rollup"
	"github.com/and161185/collab-studio/internal/service"
	"github.com/and161185/collab-studio/internal/session"
	"github.com/and161185/collab-studio/internal/session/sessiontest"
)

const bufSize = 1 << 20

type env struct {
	client   *Client
	identity *service.Identity
	content  *memory.ContentRepo
	mgr      *session.Manager
	cc       *grpc.ClientConn
}

func startBufGRPC(t *testing.T, hs service.HandshakeService) *env {
	t.Helper()
	log := zaptest.NewLogger(t)
	db, err := memory.New()
	require.NoError(t, err)
	content := memory.NewContentRepo(db)
	if hs == nil {
		hs = service.NewHandshakeService(memory.NewTokenRepo(db), content, "salt", 0)
	}
	roll := rollup.New(content, memory.NewDesignRepo(db), command.NewJSONPatch(), log)
	mgr := session.NewManager(nil, roll, nil, log)
	identity := service.NewIdentity([]byte("secret"), time.Minute)

	lis := bufconn.Listen(bufSize)
	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(
		RecoverUnary(log),
		LoggingUnary(log),
		AuthUnary(identity),
	))
	RegisterSessionsServer(gs, New(hs, roll, mgr, log))
	healthpb.RegisterHealthServer(gs, health.NewServer())
	go func() { _ = gs.Serve(lis) }()

	dialer := func(context.Context, string) (net.Conn, error) { return lis.Dial() }
	cc, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(dialer), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = cc.Close(); gs.Stop(); _ = lis.Close() })

	return &env{client: NewClient(cc), identity: identity, content: content, mgr: mgr, cc: cc}
}

func (e *env) as(t *testing.T, user string) context.Context {
	t.Helper()
	tok, _, err := e.identity.Issue(user)
	require.NoError(t, err)
	return metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+tok)
}

func TestServer_TokenRoundTrip(t *testing.T) {
	e := startBufGRPC(t, nil)
	ctx := e.as(t, "alice")

	created, err := e.client.CreateToken(ctx, &CreateTokenRequest{DesignID: "d1", Secret: "pw", ContentVersion: 4})
	require.NoError(t, err)
	require.Equal(t, "alice", created.User)

	got, err := e.client.ValidateToken(ctx, &ValidateTokenRequest{UUID: created.UUID, DesignID: "d1", Secret: "pw"})
	require.NoError(t, err)
	require.EqualValues(t, 4, got.ContentVersion)

	_, err = e.client.ValidateToken(ctx, &ValidateTokenRequest{UUID: created.UUID, DesignID: "d1", Secret: "pw"})
	require.Equal(t, codes.NotFound, status.Code(err))
}

func TestServer_TokenIsBoundToCaller(t *testing.T) {
	e := startBufGRPC(t, nil)

	created, err := e.client.CreateToken(e.as(t, "alice"), &CreateTokenRequest{DesignID: "d1", Secret: "pw", ContentVersion: 1})
	require.NoError(t, err)

	_, err = e.client.ValidateToken(e.as(t, "bob"), &ValidateTokenRequest{UUID: created.UUID, DesignID: "d1", Secret: "pw"})
	require.Equal(t, codes.NotFound, status.Code(err))
}

func TestServer_ArgumentsAndAuth(t *testing.T) {
	e := startBufGRPC(t, nil)

	_, err := e.client.CreateToken(context.Background(), &CreateTokenRequest{DesignID: "d1", Secret: "pw"})
	require.Equal(t, codes.Unauthenticated, status.Code(err))

	ctx := e.as(t, "alice")
	_, err = e.client.CreateToken(ctx, &CreateTokenRequest{DesignID: "d1"})
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = e.client.ValidateToken(ctx, &ValidateTokenRequest{UUID: "nope", DesignID: "d1", Secret: "pw"})
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = e.client.Rollup(ctx, &RollupRequest{})
	require.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = e.client.ListEditors(ctx, &ListEditorsRequest{})
	require.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestServer_Rollup(t *testing.T) {
	e := startBufGRPC(t, nil)
	ctx := e.as(t, "carol")
	bg := context.Background()

	_, err := e.client.Rollup(ctx, &RollupRequest{DesignID: "missing"})
	require.Equal(t, codes.NotFound, status.Code(err))

	_, err = e.content.Append(bg, "alice", "d1", model.ContentDocument, `{}`)
	require.NoError(t, err)

	res, err := e.client.Rollup(ctx, &RollupRequest{DesignID: "d1"})
	require.NoError(t, err)
	require.Zero(t, res.ContentVersion, "nothing pending")

	_, err = e.content.Append(bg, "alice", "d1", model.ContentCommand, `[{"op":"add","path":"/a","value":1}]`)
	require.NoError(t, err)

	// an open session must not block the caller forever
	_, err = e.mgr.Join(bg, "d1", sessiontest.New("s1"), "alice", nil)
	require.NoError(t, err)

	res, err = e.client.Rollup(ctx, &RollupRequest{DesignID: "d1"})
	require.NoError(t, err)
	require.EqualValues(t, 3, res.ContentVersion)

	doc, err := e.content.LatestDocument(bg, "d1")
	require.NoError(t, err)
	require.Equal(t, `{"a":1}`, doc.Data)
	require.Equal(t, "carol", doc.CreatedBy)
}

func TestServer_ListEditors(t *testing.T) {
	e := startBufGRPC(t, nil)
	bg := context.Background()
	ctx := e.as(t, "alice")

	res, err := e.client.ListEditors(ctx, &ListEditorsRequest{DesignID: "d1"})
	require.NoError(t, err)
	require.Empty(t, res.Editors)

	_, err = e.mgr.Join(bg, "d1", sessiontest.New("s1"), "alice", nil)
	require.NoError(t, err)
	_, err = e.mgr.Join(bg, "d1", sessiontest.New("s2"), "bob", nil)
	require.NoError(t, err)

	res, err = e.client.ListEditors(ctx, &ListEditorsRequest{DesignID: "d1"})
	require.NoError(t, err)
	require.Equal(t, []Editor{{User: "alice", SessionID: "s1"}, {User: "bob", SessionID: "s2"}}, res.Editors)
}

type fakeHandshake struct {
	service.HandshakeService
	err error
}

func (f fakeHandshake) ValidateWithIP(context.Context, uuid.UUID, string, string, string, string) (int64, error) {
	return 0, f.err
}

func TestServer_ErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want codes.Code
	}{
		{errs.ErrRateLimited, codes.ResourceExhausted},
		{errs.ErrAlreadyExists, codes.AlreadyExists},
		{errs.ErrSessionNotFound, codes.NotFound},
		{errs.ErrUnauthorized, codes.Unauthenticated},
		{context.DeadlineExceeded, codes.DeadlineExceeded},
		{net.ErrClosed, codes.Internal},
	}
	for _, c := range cases {
		e := startBufGRPC(t, fakeHandshake{err: c.err})
		_, err := e.client.ValidateToken(e.as(t, "alice"), &ValidateTokenRequest{
			UUID: uuid.Must(uuid.NewV4()).String(), DesignID: "d1", Secret: "pw",
		})
		require.Equal(t, c.want, status.Code(err), "%v", c.err)
	}
}

func TestServer_HealthIsPublic(t *testing.T) {
	e := startBufGRPC(t, nil)
	res, err := healthpb.NewHealthClient(e.cc).Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, res.GetStatus())
}
