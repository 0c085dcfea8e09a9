// Package executor serializes swap-submitting work per chain wallet and
// guards against duplicate in-flight intents.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/profitfloor/internal/domain"
)

// DistributedLocker is the blocking lock the wallet serializer takes when
// several instances share one hot wallet. *redis.LockManager satisfies it.
type DistributedLocker interface {
	AcquireWait(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// WalletLocks serializes swap submission per chain: at most one swap from
// the chain's wallet is in flight at a time. The local semaphore is always
// taken; the distributed lock is taken as well when configured.
type WalletLocks struct {
	mu     sync.Mutex
	sems   map[int64]chan struct{}
	dist   DistributedLocker
	ttl    time.Duration
	logger *slog.Logger
}

// NewWalletLocks creates the per-chain serializer. dist may be nil. ttl bounds
// how long a crashed instance can hold the distributed lock and must exceed
// the longest swap confirmation wait.
func NewWalletLocks(dist DistributedLocker, ttl time.Duration, logger *slog.Logger) *WalletLocks {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &WalletLocks{
		sems:   make(map[int64]chan struct{}),
		dist:   dist,
		ttl:    ttl,
		logger: logger.With(slog.String("component", "wallet_locks")),
	}
}

func (w *WalletLocks) sem(chainID int64) chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.sems[chainID]
	if !ok {
		s = make(chan struct{}, 1)
		w.sems[chainID] = s
	}
	return s
}

// Lock blocks until the chain's wallet is free or ctx ends. The returned
// unlock must be called exactly once.
func (w *WalletLocks) Lock(ctx context.Context, chainID int64) (func(), error) {
	s := w.sem(chainID)
	select {
	case s <- struct{}{}:
	case <-ctx.Done():
		return nil, fmt.Errorf("executor: wait for wallet on chain %d: %w", chainID, ctx.Err())
	}
	if w.dist == nil {
		return func() { <-s }, nil
	}

	unlockDist, err := w.dist.AcquireWait(ctx, fmt.Sprintf("wallet:%d", chainID), w.ttl)
	if err != nil {
		<-s
		return nil, fmt.Errorf("executor: distributed wallet lock chain %d: %w", chainID, err)
	}
	return func() {
		unlockDist()
		<-s
	}, nil
}

// IntentLocker is the non-blocking lock used for buy intents across
// instances. *redis.LockManager satisfies it.
type IntentLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// IntentGuard rejects a second in-flight intent for the same key. It uses
// the distributed lock when configured and a local Dedup otherwise.
type IntentGuard struct {
	local *Dedup
	dist  IntentLocker
	ttl   time.Duration
}

// NewIntentGuard creates a guard whose claims lapse after ttl. dist may be nil.
func NewIntentGuard(dist IntentLocker, ttl time.Duration) *IntentGuard {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &IntentGuard{local: NewDedup(ttl), dist: dist, ttl: ttl}
}

// BuyKey names the buy intent for a token on a chain.
func BuyKey(chainID int64, token string) string {
	return fmt.Sprintf("buy:%d:%s", chainID, strings.ToLower(token))
}

// Claim takes key or returns domain.ErrLockHeld when it is already taken.
func (g *IntentGuard) Claim(ctx context.Context, key string) (func(), error) {
	if !g.local.Claim(key) {
		return nil, domain.ErrLockHeld
	}
	if g.dist == nil {
		return func() { g.local.Release(key) }, nil
	}
	unlock, err := g.dist.Acquire(ctx, "intent:"+key, g.ttl)
	if err != nil {
		g.local.Release(key)
		if errors.Is(err, domain.ErrLockHeld) {
			return nil, domain.ErrLockHeld
		}
		return nil, fmt.Errorf("executor: claim %s: %w", key, err)
	}
	return func() {
		unlock()
		g.local.Release(key)
	}, nil
}
