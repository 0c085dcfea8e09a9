package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/profitfloor/internal/domain"
)

// DefaultDexScreenerURL is the public DexScreener API root.
const DefaultDexScreenerURL = "https://api.dexscreener.com"

// DexScreenerConfig configures the DexScreener gateway.
type DexScreenerConfig struct {
	BaseURL string
	Timeout time.Duration
	// ChainIDs maps numeric chain ids to DexScreener chain slugs ("bsc", "solana").
	ChainIDs map[int64]string

	// Optional shared throttle.
	Limiter    domain.RateLimiter
	RateLimit  int
	RateWindow time.Duration
}

// DexScreener implements Gateway against /latest/dex/tokens/{address}.
type DexScreener struct {
	baseURL    string
	client     *http.Client
	chainIDs   map[int64]string
	limiter    domain.RateLimiter
	rateLimit  int
	rateWindow time.Duration
	logger     *slog.Logger
}

// NewDexScreener creates a DexScreener gateway.
func NewDexScreener(cfg DexScreenerConfig, logger *slog.Logger) *DexScreener {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultDexScreenerURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &DexScreener{
		baseURL:    base,
		client:     &http.Client{Timeout: timeout},
		chainIDs:   cfg.ChainIDs,
		limiter:    cfg.Limiter,
		rateLimit:  cfg.RateLimit,
		rateWindow: cfg.RateWindow,
		logger:     logger.With(slog.String("component", "dexscreener")),
	}
}

type dexPair struct {
	ChainID     string `json:"chainId"`
	DexID       string `json:"dexId"`
	PairAddress string `json:"pairAddress"`
	BaseToken   struct {
		Address string `json:"address"`
		Symbol  string `json:"symbol"`
	} `json:"baseToken"`
	PriceUSD  string `json:"priceUsd"`
	Liquidity *struct {
		USD float64 `json:"usd"`
	} `json:"liquidity"`
}

type dexTokensResponse struct {
	Pairs []dexPair `json:"pairs"`
}

// TokenPrice picks, among pairs on the requested chain where the token is the
// base asset, the one with the deepest USD liquidity.
func (d *DexScreener) TokenPrice(ctx context.Context, chainID int64, token string) (PriceQuote, error) {
	if d.limiter != nil && d.rateLimit > 0 {
		if err := d.limiter.Wait(ctx, "dexscreener", d.rateLimit, d.rateWindow); err != nil {
			return PriceQuote{}, fmt.Errorf("dexscreener: throttle: %w", err)
		}
	}

	endpoint := d.baseURL + "/latest/dex/tokens/" + url.PathEscape(token)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return PriceQuote{}, fmt.Errorf("dexscreener: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return PriceQuote{}, fmt.Errorf("dexscreener: get %s: %w", token, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return PriceQuote{}, fmt.Errorf("dexscreener: get %s: %w", token, domain.ErrRateLimited)
	case resp.StatusCode != http.StatusOK:
		return PriceQuote{}, fmt.Errorf("dexscreener: get %s: status %d", token, resp.StatusCode)
	}

	var body dexTokensResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return PriceQuote{}, fmt.Errorf("dexscreener: decode %s: %w", token, err)
	}

	best, ok := d.bestPair(body.Pairs, chainID, token)
	if !ok {
		d.logger.Debug("no usable pair", slog.String("token", token), slog.Int64("chain_id", chainID))
		return PriceQuote{}, fmt.Errorf("dexscreener: %s on chain %d: %w", token, chainID, domain.ErrNoPrice)
	}
	return best, nil
}

func (d *DexScreener) bestPair(pairs []dexPair, chainID int64, token string) (PriceQuote, bool) {
	slug := d.chainIDs[chainID]
	numeric := strconv.FormatInt(chainID, 10)

	var (
		best  PriceQuote
		found bool
	)
	for _, p := range pairs {
		if p.ChainID != slug && p.ChainID != numeric {
			continue
		}
		if !sameAddress(p.BaseToken.Address, token) {
			continue
		}
		price, err := decimal.NewFromString(p.PriceUSD)
		if err != nil || !price.IsPositive() {
			continue
		}
		liq := decimal.Zero
		if p.Liquidity != nil {
			liq = decimal.NewFromFloat(p.Liquidity.USD)
		}
		if found && !liq.GreaterThan(best.LiquidityUSD) {
			continue
		}
		best = PriceQuote{
			PriceUSD:     price,
			LiquidityUSD: liq,
			PairAddress:  p.PairAddress,
			DexID:        p.DexID,
			Symbol:       p.BaseToken.Symbol,
			ObservedAt:   time.Now().UTC(),
		}
		found = true
	}
	return best, found
}

// sameAddress compares hex addresses case-insensitively and base58
// addresses exactly.
func sameAddress(a, b string) bool {
	if strings.HasPrefix(a, "0x") || strings.HasPrefix(a, "0X") {
		return strings.EqualFold(a, b)
	}
	return a == b
}

var _ Gateway = (*DexScreener)(nil)
