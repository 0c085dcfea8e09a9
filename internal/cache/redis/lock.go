package redis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/profitfloor/internal/domain"
)

// unlockLua deletes the lock only while it still carries the holder's token.
const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('DEL', KEYS[1])
end
return 0
`

// extendLua resets the lock's expiry only while it still carries the holder's
// token.
const extendLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
    return redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return 0
`

// lockRetryInterval is the polling step of AcquireWait.
const lockRetryInterval = 100 * time.Millisecond

// LockManager implements domain.LockManager with SET NX PX and a
// token-checked Lua unlock. A held lock is renewed every ttl/3 until it is
// released, so ttl only bounds how long a crashed holder blocks others.
type LockManager struct {
	c        *Client
	unlockSc *redis.Script
	extendSc *redis.Script
}

// NewLockManager creates a LockManager backed by the given Client.
func NewLockManager(c *Client) *LockManager {
	return &LockManager{
		c:        c,
		unlockSc: redis.NewScript(unlockLua),
		extendSc: redis.NewScript(extendLua),
	}
}

// Acquire takes the lock once. It returns domain.ErrLockHeld when another
// holder owns it. The returned unlock is idempotent and stops renewal.
func (lm *LockManager) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	token := uuid.NewString()
	lk := lm.c.key("lock:", key)

	ok, err := lm.c.rdb.SetNX(ctx, lk, token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrLockHeld
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go lm.keepAlive(lk, token, ttl, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			// The caller's context may already be cancelled.
			unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = lm.unlockSc.Run(unlockCtx, lm.c.rdb, []string{lk}, token).Err()
		})
	}, nil
}

// Extend resets the expiry of a lock held under token. It reports false when
// the lock expired or passed to another holder.
func (lm *LockManager) Extend(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	n, err := lm.extendSc.Run(ctx, lm.c.rdb, []string{lm.c.key("lock:", key)}, token, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("redis: extend lock %s: %w", key, err)
	}
	return n == 1, nil
}

// keepAlive renews lk until stop is closed or the lock is lost. Transient
// errors are retried on the next tick.
func (lm *LockManager) keepAlive(lk, token string, ttl time.Duration, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	interval := ttl / 3
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		n, err := lm.extendSc.Run(ctx, lm.c.rdb, []string{lk}, token, ttl.Milliseconds()).Int()
		cancel()
		if err == nil && n == 0 {
			return
		}
	}
}

// AcquireWait polls Acquire until the lock is obtained or ctx ends.
func (lm *LockManager) AcquireWait(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	for {
		unlock, err := lm.Acquire(ctx, key, ttl)
		if err == nil {
			return unlock, nil
		}
		if !errors.Is(err, domain.ErrLockHeld) {
			return nil, err
		}
		timer := time.NewTimer(lockRetryInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("redis: wait for lock %s: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}

var _ domain.LockManager = (*LockManager)(nil)
