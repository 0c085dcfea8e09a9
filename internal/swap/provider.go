// Package swap defines the chain-family-agnostic swap contract and the static
// registry that selects an implementation by chain id.
package swap

import (
	"context"
	"math/big"
	"time"

	"github.com/alanyoungcy/profitfloor/internal/domain"
)

// NativeAsset is the asset identifier every provider accepts for the chain's
// native coin.
const NativeAsset = "native"

// RouteKind records which candidate path produced a quote.
type RouteKind string

const (
	RouteDirect RouteKind = "direct"
	RouteRouted RouteKind = "routed"
)

// Quote is the result of a successful quote. Path is the exact asset path the
// swap must follow; Route carries provider-specific data (for aggregators the
// raw quote payload) that Swap replays so settlement uses the quoted path.
type Quote struct {
	Kind        RouteKind
	Path        []string
	AmountIn    *big.Int
	ExpectedOut *big.Int
	Route       []byte
}

// SwapRequest is one swap submission.
type SwapRequest struct {
	Quote        Quote
	MinAmountOut *big.Int
	Recipient    string // empty means the provider's own wallet
	Deadline     time.Time
}

// Provider is implemented once per chain family. All amounts are fixed-point
// integers in the smallest unit of the asset.
type Provider interface {
	ChainID() int64
	WalletAddress() string

	// Quote tries the direct pair first and the path routed through the
	// chain's wrapped native asset second. domain.ErrNoRoute when both fail.
	Quote(ctx context.Context, in, out string, amountIn *big.Int) (Quote, error)

	// Swap submits the quoted path and waits for confirmation.
	// domain.ErrSwapReverted on a mined failure, domain.ErrTimeout when no
	// confirmation is observed in time.
	Swap(ctx context.Context, req SwapRequest) (domain.SwapReceipt, error)

	// EnsureAllowance issues at most one approval so the exchange may spend
	// amount of token. txRef is empty when no approval was needed.
	EnsureAllowance(ctx context.Context, token string, amount *big.Int) (txRef string, err error)

	// Decimals returns the asset's decimals, or DefaultDecimals on failure.
	Decimals(ctx context.Context, asset string) uint8

	// BalanceOf returns the wallet balance of asset (NativeAsset for the coin).
	BalanceOf(ctx context.Context, asset string) (*big.Int, error)
}
