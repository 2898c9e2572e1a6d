package grpcserver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/fleeterp/fms-api/internal/auth"
	"github.com/fleeterp/fms-api/internal/errs"
	"github.com/fleeterp/fms-api/internal/model"
)

type fakeAddr struct{}

func (fakeAddr) Network() string { return "tcp" }
func (fakeAddr) String() string  { return "127.0.0.1:12345" }

type gateFunc func(ctx context.Context, req auth.Request) (model.Session, error)

func (f gateFunc) Authorize(ctx context.Context, req auth.Request) (model.Session, error) {
	return f(ctx, req)
}

func TestLoggingUnary_Passthrough(t *testing.T) {
	t.Parallel()

	log := zaptest.NewLogger(t)
	ic := LoggingUnary(log)

	ctx := context.Background()

	ctx = peer.NewContext(ctx, &peer.Peer{Addr: fakeAddr{}})

	h := func(ctx context.Context, req any) (any, error) { return "ok", nil }
	info := &grpc.UnaryServerInfo{FullMethod: "/fms.Session/Get"}

	resp, err := ic(ctx, "req", info, h)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if s, _ := resp.(string); s != "ok" {
		t.Fatalf("resp mismatch: %v", resp)
	}

	wantErr := errors.New("boom")
	hErr := func(ctx context.Context, req any) (any, error) { return nil, wantErr }
	_, err = ic(ctx, "req", info, hErr)
	if !errors.Is(err, wantErr) {
		t.Fatalf("want original error, got: %v", err)
	}
}

func TestRecoverUnary_CatchesPanic(t *testing.T) {
	t.Parallel()

	log := zaptest.NewLogger(t)
	ic := RecoverUnary(log)

	ctx := context.Background()
	info := &grpc.UnaryServerInfo{FullMethod: "/fms.Session/Panic"}

	panicH := func(ctx context.Context, req any) (any, error) {
		panic("oh no")
	}

	_, err := ic(ctx, "req", info, panicH)
	if err == nil {
		t.Fatalf("expected error from panic")
	}
	st, ok := status.FromError(err)
	if !ok || st.Code() != codes.Internal {
		t.Fatalf("want codes.Internal, got: %v", err)
	}
}

func TestRecoverUnary_NoPanicPassThrough(t *testing.T) {
	t.Parallel()

	log := zaptest.NewLogger(t)
	ic := RecoverUnary(log)

	ctx := context.Background()
	info := &grpc.UnaryServerInfo{FullMethod: "/fms.Session/Ok"}

	h := func(ctx context.Context, req any) (any, error) { return 42, nil }

	resp, err := ic(ctx, "req", info, h)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if resp.(int) != 42 {
		t.Fatalf("resp mismatch: %v", resp)
	}
}

func TestLoggingUnary_DurationFieldDoesNotBlock(t *testing.T) {
	t.Parallel()

	log := zaptest.NewLogger(t)
	ic := LoggingUnary(log)

	ctx := context.Background()
	info := &grpc.UnaryServerInfo{FullMethod: "/fms.Session/Sleep"}
	h := func(ctx context.Context, req any) (any, error) {
		time.Sleep(5 * time.Millisecond)
		return "done", nil
	}

	start := time.Now()
	resp, err := ic(ctx, "req", info, h)
	if err != nil || resp.(string) != "done" {
		t.Fatalf("unexpected result: %v, %v", resp, err)
	}
	if time.Since(start) < 5*time.Millisecond {
		t.Fatalf("duration should reflect handler time")
	}
}

func TestAuthUnary(t *testing.T) {
	t.Parallel()

	var got auth.Request
	gate := gateFunc(func(_ context.Context, req auth.Request) (model.Session, error) {
		got = req
		switch {
		case req.AllowAnonymous:
			return model.Session{Username: model.AnonymousUsername, Anonymous: true}, nil
		case req.Authorization == "Bearer T1" && req.BrowserIdentity == "B1":
			return model.Session{Username: "alice"}, nil
		case req.Authorization == "Bearer infra":
			return model.Session{}, errors.New("unexpected")
		default:
			return model.Session{}, errs.ErrUnauthorized
		}
	})
	ic := AuthUnary(gate, "X-Device", []string{"/fms.Public/Ping"}, zaptest.NewLogger(t))

	var seen model.Session
	h := func(ctx context.Context, req any) (any, error) {
		s, ok := auth.SessionFrom(ctx)
		require.True(t, ok)
		seen = s
		return "ok", nil
	}
	call := func(method string, kv ...string) error {
		ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(kv...))
		_, err := ic(ctx, "req", &grpc.UnaryServerInfo{FullMethod: method}, h)
		return err
	}

	require.NoError(t, call("/fms.Public/Ping", "authorization", "Bearer forged"))
	require.True(t, got.AllowAnonymous)
	require.Equal(t, "admin", seen.Username)

	require.NoError(t, call("/fms.Session/Get", "authorization", "Bearer T1", "x-device", "B1"))
	require.False(t, got.AllowAnonymous)
	require.Equal(t, "alice", seen.Username)

	err := call("/fms.Session/Get", "authorization", "Bearer T1", "x-browseridentity-token", "B1")
	require.Equal(t, codes.Unauthenticated, status.Code(err))
	require.Equal(t, "unauthenticated", status.Convert(err).Message())

	err = call("/fms.Session/Get", "authorization", "Bearer infra")
	require.Equal(t, codes.Internal, status.Code(err))
}

type ctxStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s ctxStream) Context() context.Context { return s.ctx }

func TestRecoverStream_CatchesPanic(t *testing.T) {
	t.Parallel()

	ic := RecoverStream(zaptest.NewLogger(t))
	info := &grpc.StreamServerInfo{FullMethod: "/fms.Session/Watch", IsServerStream: true}
	ss := ctxStream{ctx: context.Background()}

	err := ic(nil, ss, info, func(any, grpc.ServerStream) error { panic("stream blew up") })
	require.Equal(t, codes.Internal, status.Code(err))

	wantErr := errors.New("eof")
	err = ic(nil, ss, info, func(any, grpc.ServerStream) error { return wantErr })
	require.ErrorIs(t, err, wantErr)
}

func TestRecoverUnary_LogsCallScope(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.ErrorLevel)
	ic := RecoverUnary(zap.New(core))

	ctx := peer.NewContext(context.Background(), &peer.Peer{Addr: fakeAddr{}})
	ctx = auth.WithSession(ctx, model.Session{FirmID: "F1", Username: "alice"})
	_, err := ic(ctx, "req", &grpc.UnaryServerInfo{FullMethod: "/fms.Session/Get"}, func(context.Context, any) (any, error) {
		panic("nil map")
	})
	require.Equal(t, codes.Internal, status.Code(err))

	entries := logs.FilterMessage("panic").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	require.Equal(t, "/fms.Session/Get", fields["method"])
	require.Equal(t, "127.0.0.1:12345", fields["peer"])
	require.Equal(t, "F1", fields["firm_id"])
	require.Equal(t, "alice", fields["user"])
}
