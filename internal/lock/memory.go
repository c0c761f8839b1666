package lock

import (
	"context"
	"sync"
	"time"

	errorvalues "github.com/limbo/stakepool/internal/error_values"
)

// MemoryLocker is a keyed mutex for single-process deployments. TTL is
// ignored: holders always release.
type MemoryLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

var _ Locker = (*MemoryLocker)(nil)

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		slots: make(map[string]chan struct{}),
	}
}

func (ml *MemoryLocker) slot(key string) chan struct{} {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	ch, ok := ml.slots[key]
	if !ok {
		ch = make(chan struct{}, 1)
		ml.slots[key] = ch
	}
	return ch
}

func (ml *MemoryLocker) Acquire(ctx context.Context, key string, _ time.Duration) (func(), error) {
	ch := ml.slot(key)
	select {
	case ch <- struct{}{}:
		return releaser(ch), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (ml *MemoryLocker) TryAcquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	ch := ml.slot(key)
	select {
	case ch <- struct{}{}:
		return releaser(ch), nil
	default:
		return nil, errorvalues.ErrLockHeld
	}
}

func releaser(ch chan struct{}) func() {
	var once sync.Once
	return func() {
		once.Do(func() { <-ch })
	}
}
