package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/profitfloor/internal/domain"
)

// PriceCache keeps the last observed price per token in process, for
// deployments without Redis.
type PriceCache struct {
	mu     sync.RWMutex
	prices map[string]observation
}

type observation struct {
	price decimal.Decimal
	at    time.Time
}

func NewPriceCache() *PriceCache {
	return &PriceCache{prices: make(map[string]observation)}
}

func priceKey(chainID int64, token string) string {
	return fmt.Sprintf("%d:%s", chainID, token)
}

func (c *PriceCache) SetPrice(_ context.Context, chainID int64, token string, price decimal.Decimal, ts time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prices[priceKey(chainID, token)] = observation{price: price, at: ts}
	return nil
}

// GetPrice returns the cached price, or domain.ErrNotFound.
func (c *PriceCache) GetPrice(_ context.Context, chainID int64, token string) (decimal.Decimal, time.Time, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	o, ok := c.prices[priceKey(chainID, token)]
	if !ok {
		return decimal.Zero, time.Time{}, fmt.Errorf("price %d/%s: %w", chainID, token, domain.ErrNotFound)
	}
	return o.price, o.at, nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
