// Package grpcserver is the gRPC front door of the API. Every call passes
// the authorization gate before reaching a service.
package grpcserver

import (
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/fleeterp/fms-api/internal/config"
)

// HealthMethods are the anonymous-allowed health checking methods.
var HealthMethods = []string{
	healthpb.Health_Check_FullMethodName,
	healthpb.Health_Watch_FullMethodName,
}

// Options configures New.
type Options struct {
	Gate          Authorizer
	Log           *zap.Logger
	BrowserHeader string
	// Public lists full method names that skip token validation.
	Public []string
	// Reflection registers the reflection service (dev only).
	Reflection bool
	// ServerOptions are appended to the interceptor chain options.
	ServerOptions []grpc.ServerOption
}

// New builds a gRPC server with the gate interceptors and the health service.
func New(o Options) (*grpc.Server, *health.Server) {
	if o.Log == nil {
		o.Log = zap.NewNop()
	}
	if o.BrowserHeader == "" {
		o.BrowserHeader = config.DefaultBrowserHeader
	}

	opts := append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			RecoverUnary(o.Log),
			LoggingUnary(o.Log),
			AuthUnary(o.Gate, o.BrowserHeader, o.Public, o.Log),
			// inner recover sees the session
			RecoverUnary(o.Log),
		),
		grpc.ChainStreamInterceptor(
			RecoverStream(o.Log),
			AuthStream(o.Gate, o.BrowserHeader, o.Public, o.Log),
			RecoverStream(o.Log),
		),
	}, o.ServerOptions...)

	s := grpc.NewServer(opts...)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	if o.Reflection {
		reflection.Register(s)
	}
	return s, hs
}
