package limiter

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PG keeps handshake failures in PostgreSQL so every node sharing the
// database sees the same lockouts. Time is taken from the database clock.
type PG struct {
	pool     pgxQuerier
	window   time.Duration
	maxFails int
	blockFor time.Duration
}

type pgxQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewPG constructs a PostgreSQL-backed limiter.
func NewPG(pool *pgxpool.Pool, window time.Duration, maxFails int, blockFor time.Duration) *PG {
	return NewPGWithQuerier(pool, window, maxFails, blockFor)
}

// NewPGWithQuerier constructs a limiter over any pgx querier.
func NewPGWithQuerier(q pgxQuerier, window time.Duration, maxFails int, blockFor time.Duration) *PG {
	if maxFails < 1 {
		maxFails = 1
	}
	return &PG{pool: q, window: window, maxFails: maxFails, blockFor: blockFor}
}

// Allow reports whether (user, ip) may attempt a handshake, and how long the
// current block lasts otherwise.
func (l *PG) Allow(ctx context.Context, user string, ipHash []byte) (bool, time.Duration, error) {
	const q = `
SELECT COALESCE(MAX(CEIL(EXTRACT(EPOCH FROM blocked_until - now()) * 1000)::bigint), 0)
FROM handshake_limiter
WHERE user_id=$1 AND ip_hash=$2 AND blocked_until > now()`
	var retryMS int64
	if err := l.pool.QueryRow(ctx, q, user, ipHash).Scan(&retryMS); err != nil {
		return false, 0, fmt.Errorf("limiter allow: %w", err)
	}
	if retryMS > 0 {
		return false, time.Duration(retryMS) * time.Millisecond, nil
	}
	return true, 0, nil
}

// Success forgets earlier failures of (user, ip).
func (l *PG) Success(ctx context.Context, user string, ipHash []byte) error {
	const q = `DELETE FROM handshake_limiter WHERE user_id=$1 AND ip_hash=$2`
	if _, err := l.pool.Exec(ctx, q, user, ipHash); err != nil {
		return fmt.Errorf("limiter success: %w", err)
	}
	return nil
}

// Failure counts a rejected handshake and blocks (user, ip) for blockFor once
// maxFails failures fall within one window. Counting and blocking happen in a
// single statement, so concurrent nodes cannot both miss the threshold.
func (l *PG) Failure(ctx context.Context, user string, ipHash []byte) (bool, time.Duration, error) {
	const q = `
INSERT INTO handshake_limiter AS hl (user_id, ip_hash, fail_count, blocked_until, updated_at)
VALUES ($1, $2, 1, CASE WHEN $3 <= 1 THEN now() + $4::interval ELSE 'epoch' END, now())
ON CONFLICT (user_id, ip_hash) DO UPDATE
SET fail_count = CASE WHEN now() - hl.updated_at > $5::interval THEN 1 ELSE hl.fail_count + 1 END,
    blocked_until = CASE
        WHEN (CASE WHEN now() - hl.updated_at > $5::interval THEN 1 ELSE hl.fail_count + 1 END) >= $3
        THEN now() + $4::interval
        ELSE hl.blocked_until END,
    updated_at = now()
RETURNING blocked_until > now()`
	var blocked bool
	if err := l.pool.QueryRow(ctx, q, user, ipHash, l.maxFails, l.blockFor, l.window).Scan(&blocked); err != nil {
		return false, 0, fmt.Errorf("limiter failure: %w", err)
	}
	if blocked {
		return true, l.blockFor, nil
	}
	return false, 0, nil
}
