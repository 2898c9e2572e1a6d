// Package postgres contains PostgreSQL implementations of repository interfaces.
package postgres

import (
	"context"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fleeterp/fms-api/internal/errs"
	"github.com/fleeterp/fms-api/internal/model"
)

// PgxPool is a minimal abstraction over a Postgres connection pool,
// used by repositories. It is implemented by *pgxpool.Pool and pgxmock.PgxPoolIface.
type PgxPool interface {
	// Exec executes a SQL command and returns the command tag.
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	// QueryRow executes a query expected to return at most one row.
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	// Ping checks the database is reachable.
	Ping(ctx context.Context) error
	// Close shuts down the pool and frees resources.
	Close()
}

// DB wraps the master database pool to satisfy repository constructors and allow testing.
type DB struct{ Pool PgxPool }

// New creates a new connection pool for the given DSN.
func New(ctx context.Context, dsn string) (*DB, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return &DB{Pool: pool}, nil
}

// Close closes the underlying pool.
func (db *DB) Close() { db.Pool.Close() }

// Querier is the part of a connection used by tenant repositories.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Connector hands out a connection to a tenant's firm database for the
// duration of one call. The returned release func must always be called.
type Connector interface {
	Conn(ctx context.Context, t model.Tenant) (Querier, func(), error)
}

// TenantPools keeps one pgx pool per firm DSN. Connections are acquired per
// call and returned to the pool by the release func.
type TenantPools struct {
	maxConns int32

	mu    sync.Mutex
	pools map[string]*pgxpool.Pool
}

// NewTenantPools constructs an empty pool registry. maxConns <= 0 keeps the pgx default.
func NewTenantPools(maxConns int32) *TenantPools {
	return &TenantPools{maxConns: maxConns, pools: make(map[string]*pgxpool.Pool)}
}

// Conn acquires a connection to the tenant's firm database.
func (p *TenantPools) Conn(ctx context.Context, t model.Tenant) (Querier, func(), error) {
	c, err := p.acquire(ctx, t)
	if err != nil {
		return nil, nil, err
	}
	return c, c.Release, nil
}

// Ping acquires a connection to the tenant's firm database and pings it.
func (p *TenantPools) Ping(ctx context.Context, t model.Tenant) error {
	c, err := p.acquire(ctx, t)
	if err != nil {
		return err
	}
	defer c.Release()
	return c.Ping(ctx)
}

// Close closes every pool.
func (p *TenantPools) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for dsn, pool := range p.pools {
		pool.Close()
		delete(p.pools, dsn)
	}
}

func (p *TenantPools) acquire(ctx context.Context, t model.Tenant) (*pgxpool.Conn, error) {
	if t.DataClient != model.DataClientPostgres {
		return nil, fmt.Errorf("%w: %s", errs.ErrUnsupportedClient, t.DataClient)
	}
	if t.FirmDSN == "" {
		return nil, fmt.Errorf("%w: firm %q has no connection string", errs.ErrTenantUnavailable, t.FirmID)
	}
	pool, err := p.pool(ctx, t.FirmDSN)
	if err != nil {
		return nil, err
	}
	return pool.Acquire(ctx)
}

func (p *TenantPools) pool(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pool, ok := p.pools[dsn]; ok {
		return pool, nil
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: parse dsn: %v", errs.ErrTenantUnavailable, err)
	}
	if p.maxConns > 0 {
		cfg.MaxConns = p.maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	p.pools[dsn] = pool
	return pool, nil
}
