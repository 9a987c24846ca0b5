package redis

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/halaka-hub/halaka-scheduler/internal/domain/shared"
)

// releaseScript deletes the lock only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker is a distributed lock built on SET NX PX. Each acquisition writes a
// random token so a holder whose TTL expired cannot release a successor.
type Locker struct {
	client redis.Cmdable
	poll   time.Duration
}

// NewLocker creates a Locker. poll is the retry interval while waiting
// (default 50ms).
func NewLocker(client redis.Cmdable, poll time.Duration) *Locker {
	if poll <= 0 {
		poll = 50 * time.Millisecond
	}
	return &Locker{client: client, poll: poll}
}

// Acquire implements command.Locker.
func (l *Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	rkey := LockKey(key)
	token := uuid.NewString()

	ticker := time.NewTicker(l.poll)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, rkey, token, ttl).Result()
		if err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return nil, shared.WrapError("lock", "Acquire", shared.ErrServiceUnavailable, "redis unavailable", err)
		}
		if ok {
			return l.releaser(rkey, token), nil
		}
		select {
		case <-ctx.Done():
			return nil, shared.WrapError("lock", "Acquire", shared.ErrLockNotAcquired, key, ctx.Err())
		case <-ticker.C:
		}
	}
}

func (l *Locker) releaser(rkey, token string) func(context.Context) error {
	var done bool
	return func(ctx context.Context) error {
		if done {
			return nil
		}
		done = true
		return releaseScript.Run(ctx, l.client, []string{rkey}, token).Err()
	}
}
