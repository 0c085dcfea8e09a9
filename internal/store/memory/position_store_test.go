package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/profitfloor/internal/domain"
)

func params(token string, chain int64) domain.CreatePositionParams {
	return domain.CreatePositionParams{
		TokenAddress:      token,
		ChainID:           chain,
		BuyPriceUSD:       decimal.NewFromInt(10),
		AmountToken:       decimal.NewFromInt(1),
		AmountUSDInvested: decimal.NewFromInt(10),
		BuyTxRef:          "tx-" + token,
	}
}

func TestPositionStore_OneOpenPerPair(t *testing.T) {
	s := NewPositionStore()
	ctx := context.Background()

	p, err := s.Create(ctx, params("0xabc", domain.ChainBSC))
	require.NoError(t, err)

	_, err = s.Create(ctx, params("0xabc", domain.ChainBSC))
	assert.ErrorIs(t, err, domain.ErrAlreadyOpen)

	_, err = s.Create(ctx, params("0xabc", domain.ChainEthereum))
	assert.NoError(t, err)

	_, err = s.Close(ctx, p.ID, domain.CloseFields{SellTxRef: "sell", ClosedAt: time.Now()})
	require.NoError(t, err)

	_, err = s.Create(ctx, params("0xabc", domain.ChainBSC))
	assert.NoError(t, err, "pair is free again after close")
}

func TestPositionStore_ConcurrentCreate(t *testing.T) {
	s := NewPositionStore()
	ctx := context.Background()

	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Create(ctx, params("0xrace", domain.ChainBSC))
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			if !errors.Is(err, domain.ErrAlreadyOpen) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestPositionStore_UpdatePricesPeakMonotonic(t *testing.T) {
	s := NewPositionStore()
	ctx := context.Background()
	p, err := s.Create(ctx, params("0xpeak", domain.ChainBSC))
	require.NoError(t, err)

	_, err = s.UpdatePrices(ctx, p.ID, domain.PriceUpdate{
		CurrentPriceUSD:  decimal.NewFromInt(55),
		HighestPriceEver: decimal.NewFromInt(55),
		ProfitFloor:      decimal.NewNullDecimal(decimal.NewFromInt(20)),
	})
	require.NoError(t, err)

	got, err := s.UpdatePrices(ctx, p.ID, domain.PriceUpdate{
		CurrentPriceUSD:  decimal.NewFromInt(18),
		HighestPriceEver: decimal.NewFromInt(18),
		ProfitFloor:      decimal.NewNullDecimal(decimal.NewFromInt(20)),
	})
	require.NoError(t, err)
	assert.True(t, got.HighestPriceEver.Equal(decimal.NewFromInt(55)))
	assert.True(t, got.CurrentPriceUSD.Decimal.Equal(decimal.NewFromInt(18)))
}

func TestPositionStore_UpdatePricesNeverLowersFloor(t *testing.T) {
	s := NewPositionStore()
	ctx := context.Background()
	p, err := s.Create(ctx, params("0xfloor", domain.ChainBSC))
	require.NoError(t, err)

	_, err = s.UpdatePrices(ctx, p.ID, domain.PriceUpdate{
		CurrentPriceUSD:  decimal.NewFromInt(120),
		HighestPriceEver: decimal.NewFromInt(120),
		ProfitFloor:      decimal.NewNullDecimal(decimal.NewFromInt(50)),
	})
	require.NoError(t, err)

	for _, floor := range []decimal.NullDecimal{
		decimal.NewNullDecimal(decimal.NewFromInt(20)),
		{},
	} {
		got, err := s.UpdatePrices(ctx, p.ID, domain.PriceUpdate{
			CurrentPriceUSD:  decimal.NewFromInt(40),
			HighestPriceEver: decimal.NewFromInt(40),
			ProfitFloor:      floor,
		})
		require.NoError(t, err)
		require.True(t, got.ProfitFloor.Valid)
		assert.True(t, got.ProfitFloor.Decimal.Equal(decimal.NewFromInt(50)), "got %s", got.ProfitFloor.Decimal)
		assert.True(t, got.HighestPriceEver.Equal(decimal.NewFromInt(120)))
	}

	got, err := s.UpdatePrices(ctx, p.ID, domain.PriceUpdate{
		CurrentPriceUSD:  decimal.NewFromInt(210),
		HighestPriceEver: decimal.NewFromInt(210),
		ProfitFloor:      decimal.NewNullDecimal(decimal.NewFromInt(100)),
	})
	require.NoError(t, err)
	assert.True(t, got.ProfitFloor.Decimal.Equal(decimal.NewFromInt(100)))
}

func TestPositionStore_ClosedIsTerminal(t *testing.T) {
	s := NewPositionStore()
	ctx := context.Background()
	p, err := s.Create(ctx, params("0xterm", domain.ChainBSC))
	require.NoError(t, err)

	fields := domain.CloseFields{
		SellTxRef:     "0xsell",
		PnL:           decimal.NewFromInt(8),
		PnLPercentage: decimal.NewFromInt(80),
		ClosedAt:      time.Now(),
	}
	closed, err := s.Close(ctx, p.ID, fields)
	require.NoError(t, err)
	assert.Equal(t, domain.PositionStatusClosed, closed.Status)
	assert.True(t, closed.PnL.Valid)
	assert.True(t, closed.PnLPercentage.Valid)
	require.NotNil(t, closed.ClosedAt)

	_, err = s.Close(ctx, p.ID, fields)
	assert.ErrorIs(t, err, domain.ErrAlreadyClosed)
	_, err = s.UpdatePrices(ctx, p.ID, domain.PriceUpdate{})
	assert.ErrorIs(t, err, domain.ErrAlreadyClosed)
	_, err = s.Close(ctx, "nope", fields)
	assert.ErrorIs(t, err, domain.ErrPositionNotFound)

	_, err = s.GetOpenByToken(ctx, "0xterm", domain.ChainBSC)
	assert.ErrorIs(t, err, domain.ErrPositionNotFound)
}

func TestPositionStore_ReturnsCopies(t *testing.T) {
	s := NewPositionStore()
	ctx := context.Background()
	p, err := s.Create(ctx, params("0xcopy", domain.ChainBSC))
	require.NoError(t, err)

	p.AmountToken = decimal.NewFromInt(999)
	got, err := s.GetByID(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, got.AmountToken.Equal(decimal.NewFromInt(1)))
}

func TestPositionStore_ListHistoryPagination(t *testing.T) {
	s := NewPositionStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	tick := 0
	s.now = func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	}
	for _, tok := range []string{"a", "b", "c"} {
		_, err := s.Create(ctx, params(tok, domain.ChainBSC))
		require.NoError(t, err)
	}

	page, err := s.ListHistory(ctx, domain.ListOpts{Limit: 2})
	require.NoError(t, err)
	require.Len(t, page, 2)
	assert.Equal(t, "c", page[0].TokenAddress)

	page, err = s.ListHistory(ctx, domain.ListOpts{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "a", page[0].TokenAddress)
}

func TestPositionStore_GetByBuyTxRef(t *testing.T) {
	s := NewPositionStore()
	ctx := context.Background()

	p, err := s.Create(ctx, params("0xfind", domain.ChainBSC))
	require.NoError(t, err)

	got, err := s.GetByBuyTxRef(ctx, domain.ChainBSC, "tx-0xfind")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	_, err = s.GetByBuyTxRef(ctx, domain.ChainSolana, "tx-0xfind")
	assert.ErrorIs(t, err, domain.ErrPositionNotFound)
}

func TestPriceCache(t *testing.T) {
	c := NewPriceCache()
	ctx := context.Background()

	_, _, err := c.GetPrice(ctx, 56, "0xabc")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	at := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	require.NoError(t, c.SetPrice(ctx, 56, "0xabc", decimal.RequireFromString("1.25"), at))
	price, ts, err := c.GetPrice(ctx, 56, "0xabc")
	require.NoError(t, err)
	assert.True(t, price.Equal(decimal.RequireFromString("1.25")))
	assert.Equal(t, at, ts)

	_, _, err = c.GetPrice(ctx, 999, "0xabc")
	assert.ErrorIs(t, err, domain.ErrNotFound, "keyed per chain")
}
