package grpcserver

import (
	"context"
	"errors"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/fleeterp/fms-api/internal/auth"
	"github.com/fleeterp/fms-api/internal/errs"
	"github.com/fleeterp/fms-api/internal/model"
)

// LoggingUnary returns a unary server interceptor for structured logging.
func LoggingUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		code := status.Code(err)

		// metadata only, no payloads
		log.Info("grpc",
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("dur", time.Since(start)),
			zap.String("peer", peerAddr(ctx)),
		)
		return resp, err
	}
}

// RecoverUnary returns a unary server interceptor that recovers from panics.
func RecoverUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logPanic(ctx, log, info.FullMethod, r)
				err = status.Error(codes.Internal, "internal")
			}
		}()
		return next(ctx, req)
	}
}

// RecoverStream is the streaming counterpart of RecoverUnary.
func RecoverStream(log *zap.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, next grpc.StreamHandler) (err error) {
		defer func() {
			if r := recover(); r != nil {
				logPanic(ss.Context(), log, info.FullMethod, r)
				err = status.Error(codes.Internal, "internal")
			}
		}()
		return next(srv, ss)
	}
}

func logPanic(ctx context.Context, log *zap.Logger, method string, r any) {
	fields := []zap.Field{
		zap.Any("reason", r),
		zap.ByteString("stack", debug.Stack()),
		zap.String("method", method),
		zap.String("peer", peerAddr(ctx)),
	}
	if s, ok := auth.SessionFrom(ctx); ok {
		fields = append(fields, zap.String("firm_id", s.FirmID), zap.String("user", s.Username))
	}
	log.Error("panic", fields...)
}

func peerAddr(ctx context.Context) string {
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		return p.Addr.String()
	}
	return ""
}

// Authorizer runs the authorization gate for one call.
type Authorizer interface {
	Authorize(ctx context.Context, req auth.Request) (model.Session, error)
}

type authenticator struct {
	gate       Authorizer
	browserKey string
	public     map[string]struct{}
	log        *zap.Logger
}

func newAuthenticator(gate Authorizer, browserHeader string, public []string, log *zap.Logger) *authenticator {
	a := &authenticator{
		gate:       gate,
		browserKey: strings.ToLower(browserHeader),
		public:     make(map[string]struct{}, len(public)),
		log:        log,
	}
	for _, m := range public {
		a.public[m] = struct{}{}
	}
	return a
}

func (a *authenticator) authorize(ctx context.Context, method string) (context.Context, error) {
	authz, browser := credentialsFromMD(ctx, a.browserKey)
	_, anonymous := a.public[method]

	s, err := a.gate.Authorize(ctx, auth.Request{
		AllowAnonymous:  anonymous,
		Authorization:   authz,
		BrowserIdentity: browser,
	})
	switch {
	case err == nil:
		return auth.WithSession(ctx, s), nil
	case errors.Is(err, errs.ErrUnauthorized):
		return nil, status.Error(codes.Unauthenticated, "unauthenticated")
	default:
		a.log.Error("session bootstrap failed", zap.String("method", method), zap.Error(err))
		return nil, status.Error(codes.Internal, "internal")
	}
}

// AuthUnary runs the gate before every unary call. Methods listed in public
// are anonymous-allowed.
func AuthUnary(gate Authorizer, browserHeader string, public []string, log *zap.Logger) grpc.UnaryServerInterceptor {
	a := newAuthenticator(gate, browserHeader, public, log)
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		ctx, err := a.authorize(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return next(ctx, req)
	}
}

type sessionStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *sessionStream) Context() context.Context { return s.ctx }

// AuthStream is the streaming counterpart of AuthUnary.
func AuthStream(gate Authorizer, browserHeader string, public []string, log *zap.Logger) grpc.StreamServerInterceptor {
	a := newAuthenticator(gate, browserHeader, public, log)
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, next grpc.StreamHandler) error {
		ctx, err := a.authorize(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return next(srv, &sessionStream{ServerStream: ss, ctx: ctx})
	}
}
