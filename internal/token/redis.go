package token

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// releaseScript deletes the lock key only if it still holds the fencing
// value this holder wrote, so a lock that expired and was reacquired by
// another instance is never deleted out from under it.
const releaseScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end`

// RedisLock is a DistributedLock backed by Redis SETNX, for deployments
// running more than one control-plane instance against a shared world-model
// (spec.md §5: "Acquire and Release for the same token must be
// linearizable" across instances, not just goroutines).
type RedisLock struct {
	client  *redis.Client
	ttl     time.Duration
	retry   time.Duration
	timeout time.Duration
}

// NewRedisLock builds a RedisLock. ttl bounds how long a lock key survives
// a crashed holder; retry is the polling interval while spin-waiting.
func NewRedisLock(client *redis.Client, ttl, retry time.Duration) *RedisLock {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	if retry <= 0 {
		retry = 20 * time.Millisecond
	}
	return &RedisLock{client: client, ttl: ttl, retry: retry, timeout: ttl}
}

// WithLock implements DistributedLock by spin-waiting on a SETNX key until
// acquired or ctx is done, then running fn and releasing via a compare-and
// -delete Lua script.
func (l *RedisLock) WithLock(ctx context.Context, name string, fn func() error) error {
	key := "lock:" + name
	fence := uuid.NewString()

	deadline := time.Now().Add(l.timeout)
	for {
		ok, err := l.client.SetNX(ctx, key, fence, l.ttl).Result()
		if err != nil {
			return fmt.Errorf("redis lock %q: %w", name, err)
		}
		if ok {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("redis lock %q: timed out waiting for lock", name)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.retry):
		}
	}

	defer l.client.Eval(context.Background(), releaseScript, []string{key}, fence)

	return fn()
}
