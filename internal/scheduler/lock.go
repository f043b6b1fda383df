package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned by TryLock when another holder owns the lock.
var ErrLockHeld = errors.New("scheduler: lock held by another instance")

// unlockLua deletes the key only if it still holds the caller's token, so a
// holder whose TTL expired cannot release its successor's lock.
const unlockLua = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`

// LeaderLock is a Redis SET NX PX lock with a token-checked release.
type LeaderLock struct {
	client   redis.UniversalClient
	key      string
	ttl      time.Duration
	unlockSc *redis.Script
}

func NewLeaderLock(client redis.UniversalClient, key string, ttl time.Duration) *LeaderLock {
	return &LeaderLock{
		client:   client,
		key:      key,
		ttl:      ttl,
		unlockSc: redis.NewScript(unlockLua),
	}
}

// TryLock acquires the lock without waiting. On success it returns a release
// function that is safe to call more than once.
func (l *LeaderLock) TryLock(ctx context.Context) (func(), error) {
	token := uuid.NewString()

	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s: %w", l.key, err)
	}
	if !ok {
		return nil, ErrLockHeld
	}

	released := false
	release := func() {
		if released {
			return
		}
		released = true

		// the tick context may already be done
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = l.unlockSc.Run(ctx, l.client, []string{l.key}, token).Err()
	}
	return release, nil
}

// Key returns the Redis key guarded by the lock.
func (l *LeaderLock) Key() string {
	return l.key
}
