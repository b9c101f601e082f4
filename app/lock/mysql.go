package lock

import (
	"context"
	"database/sql"
	"sync"
	"time"
)

// MySQLLocker uses named advisory locks. A MySQL lock lives as long as the
// session holding it, so the TTL passed to Acquire is not enforced; the lock
// ends on Release or when the connection drops.
type MySQLLocker struct {
	db    *sql.DB
	wait  time.Duration
	mu    sync.Mutex
	conns map[string]*sql.Conn
}

// MySQLOption configures the MySQLLocker.
type MySQLOption func(*MySQLLocker)

// WithWait sets how long Acquire waits for a lock held elsewhere. The default
// of zero fails immediately.
func WithWait(wait time.Duration) MySQLOption {
	return func(l *MySQLLocker) {
		l.wait = wait
	}
}

// NewMySQLLocker constructs a MySQL-based advisory lock manager.
func NewMySQLLocker(db *sql.DB, opts ...MySQLOption) *MySQLLocker {
	l := &MySQLLocker{
		db:    db,
		conns: make(map[string]*sql.Conn),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *MySQLLocker) Acquire(ctx context.Context, key string, _ time.Duration) error {
	l.mu.Lock()
	if _, exists := l.conns[key]; exists {
		l.mu.Unlock()
		return ErrAlreadyHeld
	}
	l.mu.Unlock()

	conn, err := l.db.Conn(ctx)
	if err != nil {
		return err
	}

	var acquired sql.NullInt64
	if err := conn.QueryRowContext(ctx, "SELECT GET_LOCK(?, ?)", key, int(l.wait.Seconds())).Scan(&acquired); err != nil {
		_ = conn.Close()
		return err
	}
	// GET_LOCK returns NULL on error and 0 on timeout.
	if !acquired.Valid || acquired.Int64 != 1 {
		_ = conn.Close()
		return ErrNotAcquired
	}

	l.mu.Lock()
	l.conns[key] = conn
	l.mu.Unlock()

	return nil
}

func (l *MySQLLocker) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	conn, ok := l.conns[key]
	if ok {
		delete(l.conns, key)
	}
	l.mu.Unlock()

	if !ok {
		return nil
	}

	defer conn.Close()
	_, err := conn.ExecContext(ctx, "SELECT RELEASE_LOCK(?)", key)
	return err
}
