package redis

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/alanyoungcy/profitfloor/internal/domain"
)

func setupRedis(t *testing.T) *Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis container test in -short mode")
	}
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start redis container")
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %v", err)
		}
	})

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "6379")
	require.NoError(t, err)

	c, err := New(ctx, ClientConfig{Addr: fmt.Sprintf("%s:%s", host, port.Port()), KeyPrefix: "test:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestLockManager(t *testing.T) {
	c := setupRedis(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "wallet:56", 5*time.Second)
	require.NoError(t, err)

	_, err = lm.Acquire(ctx, "wallet:56", 5*time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	waitCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	_, err = lm.AcquireWait(waitCtx, "wallet:56", 5*time.Second)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()

	unlock2, err := lm.Acquire(ctx, "wallet:56", 5*time.Second)
	require.NoError(t, err)
	unlock2()
}

func TestLockManager_RenewsWhileHeld(t *testing.T) {
	c := setupRedis(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "wallet:501", 300*time.Millisecond)
	require.NoError(t, err)

	// Well past the original ttl the holder still owns the lock.
	time.Sleep(time.Second)
	_, err = lm.Acquire(ctx, "wallet:501", time.Second)
	assert.ErrorIs(t, err, domain.ErrLockHeld)

	unlock()
	unlock2, err := lm.Acquire(ctx, "wallet:501", time.Second)
	require.NoError(t, err)
	unlock2()
}

func TestLockManager_ExtendChecksToken(t *testing.T) {
	c := setupRedis(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "refresh", 5*time.Second)
	require.NoError(t, err)
	defer unlock()

	ok, err := lm.Extend(ctx, "refresh", "not-the-holder", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	token, err := c.rdb.Get(ctx, c.key("lock:", "refresh")).Result()
	require.NoError(t, err)
	ok, err = lm.Extend(ctx, "refresh", token, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	pttl, err := c.rdb.PTTL(ctx, c.key("lock:", "refresh")).Result()
	require.NoError(t, err)
	assert.Greater(t, pttl, 30*time.Second)
}

func TestPriceCache(t *testing.T) {
	c := setupRedis(t)
	pc := NewPriceCache(c, time.Minute)
	ctx := context.Background()

	_, _, err := pc.GetPrice(ctx, 56, "0xabc")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	ts := time.Unix(1700000000, 42)
	require.NoError(t, pc.SetPrice(ctx, 56, "0xabc", decimal.RequireFromString("0.000001234"), ts))

	price, got, err := pc.GetPrice(ctx, 56, "0xabc")
	require.NoError(t, err)
	assert.Equal(t, "0.000001234", price.String())
	assert.True(t, ts.Equal(got))
}

func TestRateLimiter(t *testing.T) {
	c := setupRedis(t)
	rl := NewRateLimiter(c)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "dexscreener", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok, "request %d", i)
	}
	ok, err := rl.Allow(ctx, "dexscreener", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSignalBusStream(t *testing.T) {
	c := setupRedis(t)
	bus := NewSignalBus(c)
	ctx := context.Background()

	msgs, err := bus.StreamRead(ctx, domain.StreamPositions, "0", 10)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	require.NoError(t, bus.StreamAppend(ctx, domain.StreamPositions, []byte(`{"event":"position_opened"}`)))
	msgs, err = bus.StreamRead(ctx, domain.StreamPositions, "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.JSONEq(t, `{"event":"position_opened"}`, string(msgs[0].Payload))
}

func TestSignalBusPubSub(t *testing.T) {
	c := setupRedis(t)
	bus := NewSignalBus(c)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, domain.ChannelPositions)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, domain.ChannelPositions, []byte("hello")))

	select {
	case msg := <-ch:
		assert.Equal(t, "hello", string(msg))
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
	}
}
