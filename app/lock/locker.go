package lock

import (
	"context"
	"errors"
	"strings"
	"time"
)

var ErrAlreadyHeld = errors.New("lock already held by this process")
var ErrNotAcquired = errors.New("lock not acquired")

const keyPrefix = "mailer:lock"

// Locker guards a mail request against concurrent processing by more than one
// listener instance.
type Locker interface {
	// Acquire attempts to lock a key for the given TTL.
	Acquire(ctx context.Context, key string, ttl time.Duration) error
	// Release frees the lock for the given key.
	Release(ctx context.Context, key string) error
}

// Key builds a namespaced lock key, e.g. Key("welcome", id).
func Key(parts ...string) string {
	return keyPrefix + ":" + strings.Join(parts, ":")
}

// NoopLocker never blocks. It is used when no lock backend is configured.
type NoopLocker struct{}

func (NoopLocker) Acquire(context.Context, string, time.Duration) error { return nil }

func (NoopLocker) Release(context.Context, string) error { return nil }
