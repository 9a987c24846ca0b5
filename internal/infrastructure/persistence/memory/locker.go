package memory

import (
	"context"
	"sync"
	"time"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
)

// Locker is an in-process keyed mutex. TTLs are ignored: a holder that
// never releases only blocks its own process.
type Locker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

// NewLocker creates a Locker.
func NewLocker() *Locker {
	return &Locker{locks: make(map[string]chan struct{})}
}

// Acquire waits for key until ctx ends.
func (l *Locker) Acquire(ctx context.Context, key string, _ time.Duration) (func(context.Context) error, error) {
	for {
		l.mu.Lock()
		held, busy := l.locks[key]
		if !busy {
			done := make(chan struct{})
			l.locks[key] = done
			l.mu.Unlock()

			var once sync.Once
			return func(context.Context) error {
				once.Do(func() {
					l.mu.Lock()
					delete(l.locks, key)
					l.mu.Unlock()
					close(done)
				})
				return nil
			}, nil
		}
		l.mu.Unlock()

		select {
		case <-held:
		case <-ctx.Done():
			return nil, shared.WrapError("lock", "Acquire", shared.ErrLockNotAcquired, key, ctx.Err())
		}
	}
}
