// Package lock serializes state-changing operations on a single pool.
package lock

import (
	"context"
	"time"
)

// Locker hands out exclusive locks on string keys. The returned release
// function is safe to call more than once.
type Locker interface {
	// Blocks until the lock is taken or ctx is done
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
	// Fails with ErrLockHeld instead of waiting
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

func PoolKey(poolID string) string {
	return "pool:" + poolID
}

func SettleKey(poolID string) string {
	return "settle:" + poolID
}
