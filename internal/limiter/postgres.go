package limiter

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PG is a PostgreSQL-backed limiter with a sliding failure window and lockout.
// State lives in the auth_lockout table of the master database.
type PG struct {
	db       querier
	window   time.Duration
	maxFails int
	blockFor time.Duration
	now      func() time.Time
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a limiter that blocks a client for blockFor after
// maxFails failures that are each less than window apart.
func NewPG(db querier, window time.Duration, maxFails int, blockFor time.Duration) *PG {
	return &PG{db: db, window: window, maxFails: maxFails, blockFor: blockFor, now: time.Now}
}

// Allow reports whether key is currently unblocked and a retry-after duration.
func (l *PG) Allow(ctx context.Context, key []byte) (bool, time.Duration, error) {
	const q = `SELECT blocked_until FROM auth_lockout WHERE client_hash=$1`
	var blockedUntil time.Time
	err := l.db.QueryRow(ctx, q, key).Scan(&blockedUntil)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return true, 0, nil
	case err != nil:
		return false, 0, err
	}
	if now := l.now(); blockedUntil.After(now) {
		return false, blockedUntil.Sub(now), nil
	}
	return true, 0, nil
}

// Failure records a failed attempt; may set a block until a future time.
func (l *PG) Failure(ctx context.Context, key []byte) (bool, time.Duration, error) {
	now := l.now().UTC()

	const q = `
INSERT INTO auth_lockout (client_hash, fail_count, blocked_until, updated_at)
VALUES ($1, 1, 'epoch', $2)
ON CONFLICT (client_hash) DO UPDATE
SET
  fail_count = CASE WHEN $2::timestamptz - auth_lockout.updated_at > $3::interval THEN 1 ELSE auth_lockout.fail_count + 1 END,
  updated_at = $2
RETURNING fail_count`
	var fails int
	if err := l.db.QueryRow(ctx, q, key, now, l.window).Scan(&fails); err != nil {
		return false, 0, err
	}
	if fails < l.maxFails {
		return false, 0, nil
	}
	const upd = `UPDATE auth_lockout SET blocked_until=$2 WHERE client_hash=$1`
	if _, err := l.db.Exec(ctx, upd, key, now.Add(l.blockFor)); err != nil {
		return false, 0, err
	}
	return true, l.blockFor, nil
}

// Reset clears the counters of key.
func (l *PG) Reset(ctx context.Context, key []byte) error {
	const q = `DELETE FROM auth_lockout WHERE client_hash=$1`
	_, err := l.db.Exec(ctx, q, key)
	return err
}
