package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	errorvalues "github.com/limbo/stakepool/internal/error_values"
)

// Deletes the key only while it still carries the caller's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// RedisLocker shares pool locks between several engine processes using
// SETNX with a TTL.
type RedisLocker struct {
	rdb      redis.UniversalClient
	unlockSc *redis.Script
	poll     time.Duration
}

var _ Locker = (*RedisLocker)(nil)

func NewRedisLocker(rdb redis.UniversalClient) *RedisLocker {
	return &RedisLocker{
		rdb:      rdb,
		unlockSc: redis.NewScript(unlockLua),
		poll:     50 * time.Millisecond,
	}
}

func redisKey(key string) string {
	return "stakepool:lock:" + key
}

func (rl *RedisLocker) TryAcquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.New().String()
	lk := redisKey(key)
	ok, err := rl.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, errorvalues.ErrLockHeld
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = rl.unlockSc.Run(unlockCtx, rl.rdb, []string{lk}, token).Err()
		})
	}, nil
}

// Acquire polls TryAcquire until the key frees up or ctx is done.
func (rl *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	var release func()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = rl.poll
	b.MaxInterval = 10 * rl.poll
	b.MaxElapsedTime = 0
	err := backoff.Retry(func() error {
		unlock, err := rl.TryAcquire(ctx, key, ttl)
		if err != nil {
			if errors.Is(err, errorvalues.ErrLockHeld) {
				return err
			}
			return backoff.Permanent(err)
		}
		release = unlock
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return nil, err
	}
	return release, nil
}
