package marketdata

import (
	"context"
	"log/slog"

	"github.com/alanyoungcy/profitfloor/internal/domain"
)

// CachedGateway writes every successful observation of the wrapped gateway
// into a PriceCache. Failed lookups are never answered from the cache: a
// stale price must not drive a sell decision.
type CachedGateway struct {
	next   Gateway
	cache  domain.PriceCache
	logger *slog.Logger
}

// NewCachedGateway wraps next with a write-through price cache.
func NewCachedGateway(next Gateway, cache domain.PriceCache, logger *slog.Logger) *CachedGateway {
	return &CachedGateway{next: next, cache: cache, logger: logger}
}

func (g *CachedGateway) TokenPrice(ctx context.Context, chainID int64, token string) (PriceQuote, error) {
	q, err := g.next.TokenPrice(ctx, chainID, token)
	if err != nil {
		return PriceQuote{}, err
	}
	if err := g.cache.SetPrice(ctx, chainID, token, q.PriceUSD, q.ObservedAt); err != nil {
		g.logger.Warn("marketdata: cache price failed",
			slog.String("token", token),
			slog.String("error", err.Error()),
		)
	}
	return q, nil
}

// LastObserved returns the most recent cached observation, or
// domain.ErrNotFound.
func (g *CachedGateway) LastObserved(ctx context.Context, chainID int64, token string) (PriceQuote, error) {
	price, ts, err := g.cache.GetPrice(ctx, chainID, token)
	if err != nil {
		return PriceQuote{}, err
	}
	return PriceQuote{PriceUSD: price, ObservedAt: ts}, nil
}

var _ Gateway = (*CachedGateway)(nil)
