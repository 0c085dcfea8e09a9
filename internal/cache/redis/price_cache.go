package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/profitfloor/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes at
// "price:{chain}:{token}" with fields "price" (decimal string) and "ts"
// (Unix nanoseconds). Entries expire after ttl so a dead feed is not served
// forever.
type PriceCache struct {
	c   *Client
	ttl time.Duration
}

// NewPriceCache creates a PriceCache. ttl <= 0 disables expiry.
func NewPriceCache(c *Client, ttl time.Duration) *PriceCache {
	return &PriceCache{c: c, ttl: ttl}
}

func (pc *PriceCache) priceKey(chainID int64, token string) string {
	return pc.c.key("price:", strconv.FormatInt(chainID, 10), ":", token)
}

// SetPrice stores the latest observed price for a token.
func (pc *PriceCache) SetPrice(ctx context.Context, chainID int64, token string, price decimal.Decimal, ts time.Time) error {
	key := pc.priceKey(chainID, token)
	_, err := pc.c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]any{
			"price": price.String(),
			"ts":    strconv.FormatInt(ts.UnixNano(), 10),
		})
		if pc.ttl > 0 {
			pipe.Expire(ctx, key, pc.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("redis: set price %s: %w", key, err)
	}
	return nil
}

// GetPrice returns the cached price, or domain.ErrNotFound.
func (pc *PriceCache) GetPrice(ctx context.Context, chainID int64, token string) (decimal.Decimal, time.Time, error) {
	key := pc.priceKey(chainID, token)
	vals, err := pc.c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: get price %s: %w", key, err)
	}
	priceStr, ok := vals["price"]
	if !ok {
		return decimal.Zero, time.Time{}, domain.ErrNotFound
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: parse price %s: %w", key, err)
	}
	tsNano, err := strconv.ParseInt(vals["ts"], 10, 64)
	if err != nil {
		return decimal.Zero, time.Time{}, fmt.Errorf("redis: parse ts %s: %w", key, err)
	}
	return price, time.Unix(0, tsNano), nil
}

var _ domain.PriceCache = (*PriceCache)(nil)
