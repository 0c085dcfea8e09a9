package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// DefaultCoinGeckoURL is the public CoinGecko v3 API root.
const DefaultCoinGeckoURL = "https://api.coingecko.com/api/v3"

// NativeAsset describes how to price one chain's native coin.
type NativeAsset struct {
	CoinGeckoID string          // e.g. "binancecoin", "solana"
	FallbackUSD decimal.Decimal // used whenever the lookup fails
}

// CoinGecko implements NativeRates using /simple/price. Successful rates are
// memoised for ttl.
type CoinGecko struct {
	baseURL string
	client  *http.Client
	assets  map[int64]NativeAsset
	ttl     time.Duration
	logger  *slog.Logger

	mu   sync.Mutex
	memo map[int64]memoRate
}

type memoRate struct {
	rate decimal.Decimal
	at   time.Time
}

// NewCoinGecko creates a native-rate source. ttl <= 0 disables memoisation.
func NewCoinGecko(baseURL string, assets map[int64]NativeAsset, ttl time.Duration, logger *slog.Logger) *CoinGecko {
	base := strings.TrimRight(baseURL, "/")
	if base == "" {
		base = DefaultCoinGeckoURL
	}
	return &CoinGecko{
		baseURL: base,
		client:  &http.Client{Timeout: 10 * time.Second},
		assets:  assets,
		ttl:     ttl,
		logger:  logger.With(slog.String("component", "coingecko")),
		memo:    make(map[int64]memoRate),
	}
}

// NativeUSD returns the USD price of the chain's native coin, or its fallback.
func (c *CoinGecko) NativeUSD(ctx context.Context, chainID int64) decimal.Decimal {
	asset, ok := c.assets[chainID]
	if !ok {
		c.logger.Warn("no native asset configured", slog.Int64("chain_id", chainID))
		return decimal.Zero
	}

	if c.ttl > 0 {
		c.mu.Lock()
		m, hit := c.memo[chainID]
		c.mu.Unlock()
		if hit && time.Since(m.at) < c.ttl {
			return m.rate
		}
	}

	rate, err := c.fetch(ctx, asset.CoinGeckoID)
	if err != nil {
		c.logger.Warn("native rate unavailable, using fallback",
			slog.Int64("chain_id", chainID),
			slog.String("fallback_usd", asset.FallbackUSD.String()),
			slog.String("error", err.Error()),
		)
		return asset.FallbackUSD
	}

	c.mu.Lock()
	c.memo[chainID] = memoRate{rate: rate, at: time.Now()}
	c.mu.Unlock()
	return rate
}

func (c *CoinGecko) fetch(ctx context.Context, id string) (decimal.Decimal, error) {
	if id == "" {
		return decimal.Zero, fmt.Errorf("coingecko: empty coin id")
	}
	q := url.Values{}
	q.Set("ids", id)
	q.Set("vs_currencies", "usd")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/simple/price?"+q.Encode(), nil)
	if err != nil {
		return decimal.Zero, fmt.Errorf("coingecko: build request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("coingecko: get %s: %w", id, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, fmt.Errorf("coingecko: get %s: status %d", id, resp.StatusCode)
	}

	var body map[string]map[string]json.Number
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Zero, fmt.Errorf("coingecko: decode %s: %w", id, err)
	}
	raw, ok := body[id]["usd"]
	if !ok {
		return decimal.Zero, fmt.Errorf("coingecko: no usd price for %s", id)
	}
	rate, err := decimal.NewFromString(raw.String())
	if err != nil || !rate.IsPositive() {
		return decimal.Zero, fmt.Errorf("coingecko: bad usd price %q for %s", raw, id)
	}
	return rate, nil
}

var _ NativeRates = (*CoinGecko)(nil)
