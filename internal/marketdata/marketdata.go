// Package marketdata fetches token USD prices and native-asset USD rates from
// public market-data APIs.
package marketdata

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PriceQuote is one market-data observation for a token.
type PriceQuote struct {
	PriceUSD     decimal.Decimal `json:"price_usd"`
	LiquidityUSD decimal.Decimal `json:"liquidity_usd"`
	PairAddress  string          `json:"pair_address,omitempty"`
	DexID        string          `json:"dex_id,omitempty"`
	Symbol       string          `json:"symbol,omitempty"`
	ObservedAt   time.Time       `json:"observed_at"`
}

// Gateway returns the best known USD price for a token on a chain. It fails
// with domain.ErrNoPrice when the source has no usable pair.
type Gateway interface {
	TokenPrice(ctx context.Context, chainID int64, token string) (PriceQuote, error)
}

// NativeRates converts a chain's native asset to USD. It never fails: when the
// upstream source is unavailable it returns the chain's configured fallback.
type NativeRates interface {
	NativeUSD(ctx context.Context, chainID int64) decimal.Decimal
}
