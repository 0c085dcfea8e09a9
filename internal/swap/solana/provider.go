// Package solana implements swap.Provider for Solana through the Jupiter
// aggregator, signing with the wallet's ed25519 key and confirming over
// JSON-RPC.
package solana

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/mr-tron/base58"

	"github.com/alanyoungcy/profitfloor/internal/domain"
	"github.com/alanyoungcy/profitfloor/internal/swap"
)

// WrappedSOL is the mint Jupiter uses for the native coin.
const WrappedSOL = "So11111111111111111111111111111111111111112"

const nativeDecimals uint8 = 9

// Config describes the Solana chain entry.
type Config struct {
	ChainID        int64
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	// QuoteSlippageBps is sent with quotes; Swap rewrites it to match the
	// caller's minimum output.
	QuoteSlippageBps int
}

// Provider implements swap.Provider over Jupiter and Solana RPC.
type Provider struct {
	rpc     *RPCClient
	jup     *JupiterClient
	cfg     Config
	key     ed25519.PrivateKey
	address string
	logger  *slog.Logger

	decimals sync.Map // mint -> uint8
}

// New builds a provider. key must be a 64-byte ed25519 private key.
func New(rpc *RPCClient, jup *JupiterClient, cfg Config, key ed25519.PrivateKey, logger *slog.Logger) (*Provider, error) {
	if len(key) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("solana: private key has %d bytes", len(key))
	}
	address := base58.Encode(key.Public().(ed25519.PublicKey))
	if err := validateWallet(address); err != nil {
		return nil, err
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 90 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.QuoteSlippageBps <= 0 {
		cfg.QuoteSlippageBps = swap.DefaultSlippageBps
	}
	return &Provider{
		rpc:     rpc,
		jup:     jup,
		cfg:     cfg,
		key:     key,
		address: address,
		logger: logger.With(
			slog.String("component", "swap_solana"),
			slog.Int64("chain_id", cfg.ChainID),
		),
	}, nil
}

func (p *Provider) ChainID() int64        { return p.cfg.ChainID }
func (p *Provider) WalletAddress() string { return p.address }

func mint(asset string) string {
	if asset == swap.NativeAsset || asset == "" {
		return WrappedSOL
	}
	return asset
}

// Quote asks Jupiter for a single-hop route first and an unrestricted,
// multi-hop route second. The raw quote travels in Quote.Route so Swap
// settles exactly that route.
func (p *Provider) Quote(ctx context.Context, in, out string, amountIn *big.Int) (swap.Quote, error) {
	candidates := []swap.Candidate{
		{Kind: swap.RouteDirect, Path: []string{in, out}},
		{Kind: swap.RouteRouted, Path: []string{in, WrappedSOL, out}},
	}
	if mint(in) == WrappedSOL || mint(out) == WrappedSOL {
		candidates = candidates[:1]
	}
	return swap.FirstUsable(ctx, candidates, func(ctx context.Context, c swap.Candidate) (swap.Quote, error) {
		parsed, raw, err := p.jup.Quote(ctx, mint(in), mint(out), amountIn, p.cfg.QuoteSlippageBps, c.Kind == swap.RouteDirect)
		if err != nil {
			return swap.Quote{}, err
		}
		expected, ok := new(big.Int).SetString(parsed.OutAmount, 10)
		if !ok {
			return swap.Quote{}, fmt.Errorf("jupiter: bad outAmount %q", parsed.OutAmount)
		}
		return swap.Quote{
			Path:        parsed.path(),
			AmountIn:    new(big.Int).Set(amountIn),
			ExpectedOut: expected,
			Route:       raw,
		}, nil
	})
}

// Swap builds the transaction for the quoted route, signs it and waits for
// confirmation.
func (p *Provider) Swap(ctx context.Context, req swap.SwapRequest) (domain.SwapReceipt, error) {
	if len(req.Quote.Route) == 0 {
		return domain.SwapReceipt{}, errors.New("solana: quote carries no route payload")
	}
	if req.Recipient != "" && req.Recipient != p.address {
		if err := validateWallet(req.Recipient); err != nil {
			return domain.SwapReceipt{}, err
		}
		return domain.SwapReceipt{}, fmt.Errorf("solana: swaps settle to the signing wallet only, got %s", req.Recipient)
	}
	if !req.Deadline.IsZero() && time.Now().After(req.Deadline) {
		return domain.SwapReceipt{}, fmt.Errorf("solana: deadline %s passed before submit", req.Deadline.Format(time.RFC3339))
	}

	payload, err := withMinOut(req.Quote.Route, req.Quote.ExpectedOut, req.MinAmountOut)
	if err != nil {
		return domain.SwapReceipt{}, err
	}
	unsigned, err := p.jup.SwapTransaction(ctx, payload, p.address)
	if err != nil {
		return domain.SwapReceipt{}, err
	}
	signed, sig, err := signTransaction(unsigned, p.key)
	if err != nil {
		return domain.SwapReceipt{}, err
	}
	txRef := base58.Encode(sig)

	if _, err := p.rpc.SendTransaction(ctx, base64.StdEncoding.EncodeToString(signed)); err != nil {
		var rpcErr *RPCError
		if errors.As(err, &rpcErr) {
			// Rejected in preflight: nothing landed.
			return domain.SwapReceipt{}, fmt.Errorf("solana: send %s: %w", txRef, err)
		}
		return domain.SwapReceipt{}, fmt.Errorf("solana: send %s: %v: %w", txRef, err, domain.ErrTimeout)
	}
	p.logger.Info("swap submitted",
		slog.String("tx", txRef),
		slog.String("path", strings.Join(req.Quote.Path, ">")),
		slog.String("amount_in", req.Quote.AmountIn.String()),
	)

	if err := p.waitConfirmed(ctx, txRef); err != nil {
		return domain.SwapReceipt{}, err
	}
	return domain.SwapReceipt{
		TxRef:       txRef,
		ChainID:     p.cfg.ChainID,
		Path:        append([]string(nil), req.Quote.Path...),
		AmountIn:    new(big.Int).Set(req.Quote.AmountIn),
		AmountOut:   p.landedAmount(ctx, txRef, req.Quote),
		ConfirmedAt: time.Now().UTC(),
	}, nil
}

// landedAmount reads what the confirmed transaction credited to the wallet in
// the route's output mint. The quote's expected output is used only when that
// read fails.
func (p *Provider) landedAmount(ctx context.Context, txRef string, q swap.Quote) *big.Int {
	fallback := func(reason string) *big.Int {
		p.logger.Warn("landed amount unavailable, using quoted output",
			slog.String("tx", txRef),
			slog.String("reason", reason),
			slog.String("expected_out", q.ExpectedOut.String()),
		)
		return new(big.Int).Set(q.ExpectedOut)
	}
	if len(q.Path) == 0 {
		return fallback("empty path")
	}
	meta, err := p.rpc.GetTransaction(ctx, txRef)
	if err != nil {
		return fallback(err.Error())
	}
	if meta == nil {
		return fallback("transaction not found")
	}

	out := mint(q.Path[len(q.Path)-1])
	var delta *big.Int
	if out == WrappedSOL {
		// Jupiter unwraps SOL output into the wallet's system account.
		delta, err = meta.LamportDelta(p.address)
	} else {
		delta, err = meta.TokenDelta(p.address, out)
	}
	if err != nil {
		return fallback(err.Error())
	}
	if delta.Sign() <= 0 {
		return fallback("non-positive balance change " + delta.String())
	}
	if delta.Cmp(q.ExpectedOut) != 0 {
		p.logger.Info("landed amount differs from quote",
			slog.String("tx", txRef),
			slog.String("expected_out", q.ExpectedOut.String()),
			slog.String("amount_out", delta.String()),
		)
	}
	return delta
}

func (p *Provider) waitConfirmed(ctx context.Context, sig string) error {
	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		status, err := p.rpc.GetSignatureStatus(waitCtx, sig)
		switch {
		case err != nil:
			p.logger.Debug("status poll failed", slog.String("tx", sig), slog.String("error", err.Error()))
		case status == nil:
		case status.Failed():
			return fmt.Errorf("solana: tx %s failed %s: %w", sig, status.Err, domain.ErrSwapReverted)
		case status.Confirmed():
			return nil
		}

		select {
		case <-waitCtx.Done():
			return fmt.Errorf("solana: tx %s not confirmed: %w", sig, domain.ErrTimeout)
		case <-ticker.C:
		}
	}
}

// EnsureAllowance is a no-op: SPL swaps are authorised by the transaction
// signature itself.
func (p *Provider) EnsureAllowance(context.Context, string, *big.Int) (string, error) {
	return "", nil
}

// Decimals reads the mint's decimals, falling back to swap.DefaultDecimals.
func (p *Provider) Decimals(ctx context.Context, asset string) uint8 {
	m := mint(asset)
	if m == WrappedSOL {
		return nativeDecimals
	}
	if v, ok := p.decimals.Load(m); ok {
		return v.(uint8)
	}
	d, err := p.rpc.GetTokenDecimals(ctx, m)
	if err != nil {
		p.logger.Warn("decimals lookup failed, using default", slog.String("mint", m), slog.String("error", err.Error()))
		return swap.DefaultDecimals
	}
	p.decimals.Store(m, d)
	return d
}

// BalanceOf returns lamports for the native coin or the summed SPL balance.
func (p *Provider) BalanceOf(ctx context.Context, asset string) (*big.Int, error) {
	if mint(asset) == WrappedSOL && (asset == swap.NativeAsset || asset == "") {
		lamports, err := p.rpc.GetBalance(ctx, p.address)
		if err != nil {
			return nil, fmt.Errorf("solana: native balance: %w", err)
		}
		return new(big.Int).SetUint64(lamports), nil
	}
	bal, err := p.rpc.GetTokenBalance(ctx, p.address, mint(asset))
	if err != nil {
		return nil, fmt.Errorf("solana: token balance %s: %w", asset, err)
	}
	return bal, nil
}

func decodeBase64(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("solana: decode transaction: %w", err)
	}
	return b, nil
}

var _ swap.Provider = (*Provider)(nil)
