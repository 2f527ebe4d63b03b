package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"hash/fnv"

	"github.com/construmedicis/buildtracking/internal/core/domain"
)

// RunLocker serializes ingestion runs per source through session-level
// advisory locks. The lock lives on a dedicated connection pinned for the
// duration of the run; releasing the connection releases the lock even if the
// unlock call itself fails.
type RunLocker struct {
	db *sql.DB
}

func NewRunLocker(db *sql.DB) *RunLocker {
	return &RunLocker{db: db}
}

func (l *RunLocker) Acquire(ctx context.Context, sourceName string) (func(), error) {
	key := lockKey(sourceName)

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire lock connection: %w", err)
	}

	var acquired bool
	row := conn.QueryRowContext(ctx, `SELECT pg_try_advisory_lock($1)`, key)
	if err := row.Scan(&acquired); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("try advisory lock: %w", err)
	}
	if !acquired {
		_ = conn.Close()
		return nil, fmt.Errorf("source %s: %w", sourceName, domain.ErrRunLocked)
	}

	release := func() {
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, key)
		_ = conn.Close()
	}
	return release, nil
}

func lockKey(sourceName string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(sourceName))
	return int64(h.Sum64())
}
