package lock

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"
)

const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`

// RedisLocker holds locks as SET NX keys that expire after their TTL, so a
// crashed listener never blocks a request forever.
type RedisLocker struct {
	client redis.UniversalClient
	mu     sync.Mutex
	held   map[string]string
}

// NewRedisLocker constructs a Redis-based lock manager.
func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{
		client: client,
		held:   make(map[string]string),
	}
}

// Acquire sets key with a TTL unless another owner holds it.
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) error {
	l.mu.Lock()
	if _, exists := l.held[key]; exists {
		l.mu.Unlock()
		return ErrAlreadyHeld
	}
	l.mu.Unlock()

	owner := ulid.Make().String()
	ok, err := l.client.SetNX(ctx, key, owner, ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotAcquired
	}

	l.mu.Lock()
	l.held[key] = owner
	l.mu.Unlock()
	return nil
}

// Release deletes key only if this locker still owns it.
func (l *RedisLocker) Release(ctx context.Context, key string) error {
	l.mu.Lock()
	owner, ok := l.held[key]
	if ok {
		delete(l.held, key)
	}
	l.mu.Unlock()

	if !ok {
		return nil
	}

	return l.client.Eval(ctx, releaseScript, []string{key}, owner).Err()
}
