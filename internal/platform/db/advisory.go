package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ReindexLockID identifies the reindex advisory lock shared by every
// server process on the same database.
const ReindexLockID int64 = 0x7265696478 // "reidx"

// AdvisoryLock is a session advisory lock on the database. The session
// that acquired it is pinned until Release, so acquire and release always
// run on the same connection.
type AdvisoryLock struct {
	pool *pgxpool.Pool
	id   int64
	conn *pgxpool.Conn
}

func NewAdvisoryLock(pool *pgxpool.Pool, id int64) *AdvisoryLock {
	return &AdvisoryLock{pool: pool, id: id}
}

func (l *AdvisoryLock) TryAcquire(ctx context.Context) (bool, error) {
	conn, err := l.pool.Acquire(ctx)
	if err != nil {
		return false, fmt.Errorf("acquire connection for advisory lock: %w", err)
	}
	var locked bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, l.id).Scan(&locked); err != nil {
		conn.Release()
		return false, fmt.Errorf("take advisory lock %d: %w", l.id, err)
	}
	if !locked {
		conn.Release()
		return false, nil
	}
	l.conn = conn
	return true, nil
}

func (l *AdvisoryLock) Release(ctx context.Context) {
	if l.conn == nil {
		return
	}
	_, _ = l.conn.Exec(ctx, `SELECT pg_advisory_unlock($1)`, l.id)
	l.conn.Release()
	l.conn = nil
}
