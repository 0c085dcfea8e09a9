package executor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/profitfloor/internal/domain"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWalletLocks_SerializesPerChain(t *testing.T) {
	wl := NewWalletLocks(nil, time.Minute, discardLogger())

	var inFlight, maxInFlight atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock, err := wl.Lock(context.Background(), domain.ChainBSC)
			if !assert.NoError(t, err) {
				return
			}
			n := inFlight.Add(1)
			for {
				m := maxInFlight.Load()
				if n <= m || maxInFlight.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			inFlight.Add(-1)
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInFlight.Load())
}

func TestWalletLocks_ChainsIndependent(t *testing.T) {
	wl := NewWalletLocks(nil, time.Minute, discardLogger())
	unlockBSC, err := wl.Lock(context.Background(), domain.ChainBSC)
	require.NoError(t, err)
	defer unlockBSC()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	unlockSol, err := wl.Lock(ctx, domain.ChainSolana)
	require.NoError(t, err)
	unlockSol()
}

func TestWalletLocks_ContextCancelled(t *testing.T) {
	wl := NewWalletLocks(nil, time.Minute, discardLogger())
	unlock, err := wl.Lock(context.Background(), domain.ChainBSC)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = wl.Lock(ctx, domain.ChainBSC)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type fakeDist struct {
	mu   sync.Mutex
	held map[string]bool
	fail error
}

func (f *fakeDist) take(key string) (func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return nil, f.fail
	}
	if f.held[key] {
		return nil, domain.ErrLockHeld
	}
	f.held[key] = true
	return func() {
		f.mu.Lock()
		delete(f.held, key)
		f.mu.Unlock()
	}, nil
}

func (f *fakeDist) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	return f.take(key)
}

func (f *fakeDist) AcquireWait(_ context.Context, key string, _ time.Duration) (func(), error) {
	return f.take(key)
}

func TestWalletLocks_DistributedFailureReleasesLocal(t *testing.T) {
	dist := &fakeDist{held: map[string]bool{}, fail: errors.New("redis down")}
	wl := NewWalletLocks(dist, time.Minute, discardLogger())

	_, err := wl.Lock(context.Background(), domain.ChainBSC)
	require.Error(t, err)

	dist.fail = nil
	unlock, err := wl.Lock(context.Background(), domain.ChainBSC)
	require.NoError(t, err)
	assert.True(t, dist.held["wallet:56"])
	unlock()
	assert.False(t, dist.held["wallet:56"])
}

func TestIntentGuard(t *testing.T) {
	tests := []struct {
		name string
		dist *fakeDist
	}{
		{name: "local", dist: nil},
		{name: "distributed", dist: &fakeDist{held: map[string]bool{}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var g *IntentGuard
			if tt.dist != nil {
				g = NewIntentGuard(tt.dist, time.Minute)
			} else {
				g = NewIntentGuard(nil, time.Minute)
			}
			key := BuyKey(56, "0xABC")
			assert.Equal(t, "buy:56:0xabc", key)

			release, err := g.Claim(context.Background(), key)
			require.NoError(t, err)

			_, err = g.Claim(context.Background(), key)
			assert.ErrorIs(t, err, domain.ErrLockHeld)

			release()
			release2, err := g.Claim(context.Background(), key)
			require.NoError(t, err)
			release2()
		})
	}
}

func TestIntentGuard_HeldElsewhere(t *testing.T) {
	dist := &fakeDist{held: map[string]bool{"intent:buy:56:0xabc": true}}
	g := NewIntentGuard(dist, time.Minute)

	_, err := g.Claim(context.Background(), BuyKey(56, "0xabc"))
	assert.ErrorIs(t, err, domain.ErrLockHeld)
	assert.Equal(t, 0, g.local.Len(), "local claim is released when the distributed one fails")
}

func TestDedup_Expiry(t *testing.T) {
	d := NewDedup(time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	assert.True(t, d.Claim("a"))
	assert.False(t, d.Claim("a"))

	now = now.Add(2 * time.Minute)
	assert.True(t, d.Claim("a"))
	assert.Equal(t, 1, d.Len())
}

func TestDedup_ClaimDropsAbandonedClaims(t *testing.T) {
	d := NewDedup(time.Minute)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	d.now = func() time.Time { return now }

	for _, k := range []string{"a", "b", "c"} {
		require.True(t, d.Claim(k))
	}
	now = now.Add(30 * time.Second)
	require.True(t, d.Claim("d"))
	assert.Equal(t, 4, d.Len())

	now = now.Add(45 * time.Second)
	require.True(t, d.Claim("e"))
	assert.Equal(t, 2, d.Len(), "a, b and c lapsed and were dropped")
	assert.False(t, d.Claim("d"))
}
