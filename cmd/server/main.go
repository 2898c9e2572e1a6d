// Command fms-server starts the fleet API session gate over HTTP and gRPC.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/fleeterp/fms-api/internal/auth"
	"github.com/fleeterp/fms-api/internal/config"
	"github.com/fleeterp/fms-api/internal/limiter"
	"github.com/fleeterp/fms-api/internal/metrics"
	"github.com/fleeterp/fms-api/internal/migrate"
	"github.com/fleeterp/fms-api/internal/repository"
	"github.com/fleeterp/fms-api/internal/repository/postgres"
	grpcserver "github.com/fleeterp/fms-api/internal/server/grpc"
	httpserver "github.com/fleeterp/fms-api/internal/server/http"
	"github.com/fleeterp/fms-api/internal/tenant"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads configuration, wires the gate and serves until SIGINT/SIGTERM.
func main() {
	cfg, err := config.Load("fms-server", os.Args[1:])
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(2)
	}

	logger, err := newLogger(cfg)
	if err != nil {
		_, _ = os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("http", cfg.HTTPAddr),
		zap.String("grpc", cfg.GRPCAddr),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MigrateOnStart {
		for _, dsn := range migrationTargets(cfg) {
			if err := migrate.Up(ctx, dsn); err != nil {
				logger.Fatal("migrate up", zap.Error(err))
			}
		}
	}

	pools := postgres.NewTenantPools(int32(cfg.PoolMaxConns))
	defer pools.Close()

	var master *postgres.DB
	if cfg.MasterDSN != "" {
		master, err = postgres.New(ctx, cfg.MasterDSN)
		if err != nil {
			logger.Fatal("master db", zap.Error(err))
		}
		defer master.Close()
	}

	resolver, err := newResolver(cfg, master)
	if err != nil {
		logger.Fatal("tenant resolver", zap.Error(err))
	}

	proxies, err := cfg.Proxies()
	if err != nil {
		logger.Fatal("trusted proxies", zap.Error(err))
	}

	m := metrics.New()
	gate := auth.NewGate(resolver, postgres.NewTokenRepo(pools), logger.Named("gate"), auth.WithMetrics(m))

	opts := httpserver.Options{
		Gate:           gate,
		Pinger:         pools,
		Log:            logger.Named("http"),
		Metrics:        m,
		BrowserHeader:  cfg.BrowserHeader,
		RateLimiter:    httpserver.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		TrustedProxies: proxies,
	}
	if cfg.LockoutFails > 0 {
		opts.Lockout = limiter.NewPG(master.Pool, cfg.LockoutWindow, cfg.LockoutFails, cfg.LockoutFor)
	}
	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpserver.NewHandler(opts),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("listening (http)", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		grpcSrv, _ = grpcserver.New(grpcserver.Options{
			Gate:          gate,
			Log:           logger.Named("grpc"),
			BrowserHeader: cfg.BrowserHeader,
			Public:        grpcserver.HealthMethods,
			Reflection:    cfg.Dev,
		})
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			logger.Fatal("listen", zap.Error(err))
		}
		go func() {
			logger.Info("listening (grpc)", zap.String("addr", cfg.GRPCAddr))
			errCh <- grpcSrv.Serve(lis)
		}()
	}

	// Wait for stop
	select {
	case <-ctx.Done():
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	if grpcSrv != nil {
		done := make(chan struct{})
		go func() {
			grpcSrv.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-shutdownCtx.Done():
			grpcSrv.Stop()
		}
	}

	logger.Info("shutdown complete")
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if cfg.Dev {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(cfg.Level())
	return zc.Build()
}

// newResolver picks the static firm when configured, the master firm
// directory otherwise, and puts the TTL cache in front of the directory.
func newResolver(cfg config.Config, master *postgres.DB) (repository.TenantResolver, error) {
	if cfg.HasStaticTenant() {
		t, err := cfg.StaticTenant()
		if err != nil {
			return nil, err
		}
		return tenant.Static{Tenant: t, MasterDSN: cfg.MasterDSN}, nil
	}
	if master == nil {
		return nil, errors.New("firm directory needs master-dsn")
	}
	return tenant.NewCache(postgres.NewFirmRepo(master, cfg.MasterDSN), cfg.TenantCacheTTL), nil
}

func migrationTargets(cfg config.Config) []string {
	var out []string
	if cfg.MasterDSN != "" {
		out = append(out, cfg.MasterDSN)
	}
	if cfg.Tenant.FirmDSN != "" && cfg.Tenant.FirmDSN != cfg.MasterDSN {
		out = append(out, cfg.Tenant.FirmDSN)
	}
	return out
}
