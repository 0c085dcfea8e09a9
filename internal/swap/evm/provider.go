// Package evm implements swap.Provider for EVM chains with a UniswapV2-style
// router (PancakeSwap V2 on BSC).
package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/alanyoungcy/profitfloor/internal/domain"
	"github.com/alanyoungcy/profitfloor/internal/swap"
)

// Backend is the subset of ethclient.Client the provider needs.
type Backend interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
}

// Config describes one EVM chain.
type Config struct {
	ChainID        int64
	Router         string
	WrappedNative  string
	NativeDecimals uint8
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	GasMarginPct   uint64 // added on top of the estimate, default 20
}

// Provider implements swap.Provider over a UniswapV2-style router.
type Provider struct {
	backend Backend
	cfg     Config
	chainID *big.Int
	key     *ecdsa.PrivateKey
	address common.Address
	router  common.Address
	wrapped common.Address
	logger  *slog.Logger

	decimals sync.Map // common.Address -> uint8
}

// New builds a provider on an existing backend.
func New(backend Backend, cfg Config, key *ecdsa.PrivateKey, logger *slog.Logger) (*Provider, error) {
	if !common.IsHexAddress(cfg.Router) {
		return nil, fmt.Errorf("evm: invalid router address %q", cfg.Router)
	}
	if !common.IsHexAddress(cfg.WrappedNative) {
		return nil, fmt.Errorf("evm: invalid wrapped native address %q", cfg.WrappedNative)
	}
	if key == nil {
		return nil, errors.New("evm: nil private key")
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = 2 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.GasMarginPct == 0 {
		cfg.GasMarginPct = 20
	}
	if cfg.NativeDecimals == 0 {
		cfg.NativeDecimals = 18
	}
	return &Provider{
		backend: backend,
		cfg:     cfg,
		chainID: big.NewInt(cfg.ChainID),
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		router:  common.HexToAddress(cfg.Router),
		wrapped: common.HexToAddress(cfg.WrappedNative),
		logger: logger.With(
			slog.String("component", "swap_evm"),
			slog.Int64("chain_id", cfg.ChainID),
		),
	}, nil
}

// Dial connects to rpcURL and builds a provider. The returned close func
// releases the RPC connection.
func Dial(ctx context.Context, rpcURL string, cfg Config, key *ecdsa.PrivateKey, logger *slog.Logger) (*Provider, func(), error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, nil, fmt.Errorf("evm: dial %s: %w", rpcURL, err)
	}
	p, err := New(client, cfg, key, logger)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	return p, client.Close, nil
}

func (p *Provider) ChainID() int64        { return p.cfg.ChainID }
func (p *Provider) WalletAddress() string { return p.address.Hex() }

func isNative(asset string) bool {
	return asset == swap.NativeAsset || asset == ""
}

// toAddress maps an asset id to a router path element.
func (p *Provider) toAddress(asset string) (common.Address, error) {
	if isNative(asset) {
		return p.wrapped, nil
	}
	if !common.IsHexAddress(asset) {
		return common.Address{}, fmt.Errorf("evm: invalid asset address %q", asset)
	}
	return common.HexToAddress(asset), nil
}

func (p *Provider) toPath(assets []string) ([]common.Address, error) {
	path := make([]common.Address, len(assets))
	for i, a := range assets {
		addr, err := p.toAddress(a)
		if err != nil {
			return nil, err
		}
		path[i] = addr
	}
	return path, nil
}

// Quote asks the router for getAmountsOut on the direct pair, then on the
// path through the wrapped native token.
func (p *Provider) Quote(ctx context.Context, in, out string, amountIn *big.Int) (swap.Quote, error) {
	base := p.wrapped.Hex()
	if isNative(in) || isNative(out) {
		// The native leg already is the base asset.
		base = ""
	}
	candidates := swap.Candidates(in, out, base)
	return swap.FirstUsable(ctx, candidates, func(ctx context.Context, c swap.Candidate) (swap.Quote, error) {
		path, err := p.toPath(c.Path)
		if err != nil {
			return swap.Quote{}, err
		}
		amounts, err := p.getAmountsOut(ctx, amountIn, path)
		if err != nil {
			return swap.Quote{}, err
		}
		return swap.Quote{
			Path:        c.Path,
			AmountIn:    new(big.Int).Set(amountIn),
			ExpectedOut: amounts[len(amounts)-1],
		}, nil
	})
}

func (p *Provider) getAmountsOut(ctx context.Context, amountIn *big.Int, path []common.Address) ([]*big.Int, error) {
	data, err := routerABI.Pack("getAmountsOut", amountIn, path)
	if err != nil {
		return nil, fmt.Errorf("evm: pack getAmountsOut: %w", err)
	}
	res, err := p.backend.CallContract(ctx, ethereum.CallMsg{To: &p.router, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("evm: getAmountsOut: %w", err)
	}
	vals, err := routerABI.Unpack("getAmountsOut", res)
	if err != nil {
		return nil, fmt.Errorf("evm: unpack getAmountsOut: %w", err)
	}
	amounts, ok := vals[0].([]*big.Int)
	if !ok || len(amounts) != len(path) {
		return nil, fmt.Errorf("evm: getAmountsOut: unexpected result")
	}
	return amounts, nil
}

// Swap submits the router call matching the native legs of the quoted path
// and waits for the receipt.
func (p *Provider) Swap(ctx context.Context, req swap.SwapRequest) (domain.SwapReceipt, error) {
	assets := req.Quote.Path
	if len(assets) < 2 {
		return domain.SwapReceipt{}, fmt.Errorf("evm: swap path too short: %v", assets)
	}
	path, err := p.toPath(assets)
	if err != nil {
		return domain.SwapReceipt{}, err
	}
	recipient := p.address
	if req.Recipient != "" {
		if !common.IsHexAddress(req.Recipient) {
			return domain.SwapReceipt{}, fmt.Errorf("evm: invalid recipient %q", req.Recipient)
		}
		recipient = common.HexToAddress(req.Recipient)
	}
	deadline := big.NewInt(req.Deadline.Unix())
	amountIn := req.Quote.AmountIn

	var (
		data  []byte
		value *big.Int
	)
	switch {
	case isNative(assets[0]):
		data, err = routerABI.Pack("swapExactETHForTokens", req.MinAmountOut, path, recipient, deadline)
		value = amountIn
	case isNative(assets[len(assets)-1]):
		data, err = routerABI.Pack("swapExactTokensForETH", amountIn, req.MinAmountOut, path, recipient, deadline)
	default:
		data, err = routerABI.Pack("swapExactTokensForTokens", amountIn, req.MinAmountOut, path, recipient, deadline)
	}
	if err != nil {
		return domain.SwapReceipt{}, fmt.Errorf("evm: pack swap: %w", err)
	}

	hash, err := p.sendTx(ctx, p.router, value, data)
	if err != nil {
		return domain.SwapReceipt{}, err
	}
	p.logger.Info("swap submitted",
		slog.String("tx", hash.Hex()),
		slog.String("path", strings.Join(assets, ">")),
		slog.String("amount_in", amountIn.String()),
	)

	rcpt, err := p.waitMined(ctx, hash)
	if err != nil {
		return domain.SwapReceipt{}, err
	}

	out := p.amountOut(rcpt, path[len(path)-1], recipient, isNative(assets[len(assets)-1]))
	if out == nil {
		out = req.Quote.ExpectedOut
	}
	return domain.SwapReceipt{
		TxRef:       hash.Hex(),
		ChainID:     p.cfg.ChainID,
		Path:        append([]string(nil), assets...),
		AmountIn:    new(big.Int).Set(amountIn),
		AmountOut:   out,
		ConfirmedAt: time.Now().UTC(),
	}, nil
}

// amountOut sums what the recipient received according to the receipt logs:
// ERC20 Transfer events of the output token, or the wrapped-native
// Withdrawal the router performs before paying out the coin.
func (p *Provider) amountOut(rcpt *types.Receipt, outToken, recipient common.Address, nativeOut bool) *big.Int {
	var total *big.Int
	for _, l := range rcpt.Logs {
		if l.Address != outToken || len(l.Topics) == 0 || len(l.Data) < 32 {
			continue
		}
		switch {
		case !nativeOut && l.Topics[0] == transferTopic && len(l.Topics) == 3:
			if common.BytesToAddress(l.Topics[2].Bytes()) != recipient {
				continue
			}
		case nativeOut && l.Topics[0] == withdrawalTopic:
		default:
			continue
		}
		if total == nil {
			total = new(big.Int)
		}
		total.Add(total, new(big.Int).SetBytes(l.Data[len(l.Data)-32:]))
	}
	return total
}

// EnsureAllowance approves the router for exactly amount when the current
// allowance is lower.
func (p *Provider) EnsureAllowance(ctx context.Context, token string, amount *big.Int) (string, error) {
	if isNative(token) {
		return "", nil
	}
	tokenAddr, err := p.toAddress(token)
	if err != nil {
		return "", err
	}

	data, err := erc20ABI.Pack("allowance", p.address, p.router)
	if err != nil {
		return "", fmt.Errorf("evm: pack allowance: %w", err)
	}
	res, err := p.backend.CallContract(ctx, ethereum.CallMsg{To: &tokenAddr, Data: data}, nil)
	if err != nil {
		return "", fmt.Errorf("evm: allowance %s: %w", token, err)
	}
	vals, err := erc20ABI.Unpack("allowance", res)
	if err != nil {
		return "", fmt.Errorf("evm: unpack allowance: %w", err)
	}
	if current, ok := vals[0].(*big.Int); ok && current.Cmp(amount) >= 0 {
		return "", nil
	}

	data, err = erc20ABI.Pack("approve", p.router, amount)
	if err != nil {
		return "", fmt.Errorf("evm: pack approve: %w", err)
	}
	hash, err := p.sendTx(ctx, tokenAddr, nil, data)
	if err != nil {
		return "", err
	}
	if _, err := p.waitMined(ctx, hash); err != nil {
		return hash.Hex(), fmt.Errorf("evm: approve %s: %w", token, err)
	}
	p.logger.Info("allowance approved", slog.String("token", token), slog.String("tx", hash.Hex()))
	return hash.Hex(), nil
}

// Decimals reads ERC20 decimals, caching successes. Failures return
// swap.DefaultDecimals.
func (p *Provider) Decimals(ctx context.Context, asset string) uint8 {
	if isNative(asset) {
		return p.cfg.NativeDecimals
	}
	addr, err := p.toAddress(asset)
	if err != nil {
		return swap.DefaultDecimals
	}
	if v, ok := p.decimals.Load(addr); ok {
		return v.(uint8)
	}

	data, _ := erc20ABI.Pack("decimals")
	res, err := p.backend.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		p.logger.Warn("decimals lookup failed, using default", slog.String("token", asset), slog.String("error", err.Error()))
		return swap.DefaultDecimals
	}
	vals, err := erc20ABI.Unpack("decimals", res)
	if err != nil {
		return swap.DefaultDecimals
	}
	d, ok := vals[0].(uint8)
	if !ok {
		return swap.DefaultDecimals
	}
	p.decimals.Store(addr, d)
	return d
}

// BalanceOf returns the wallet's coin balance or ERC20 balance.
func (p *Provider) BalanceOf(ctx context.Context, asset string) (*big.Int, error) {
	if isNative(asset) {
		bal, err := p.backend.BalanceAt(ctx, p.address, nil)
		if err != nil {
			return nil, fmt.Errorf("evm: native balance: %w", err)
		}
		return bal, nil
	}
	addr, err := p.toAddress(asset)
	if err != nil {
		return nil, err
	}
	data, err := erc20ABI.Pack("balanceOf", p.address)
	if err != nil {
		return nil, fmt.Errorf("evm: pack balanceOf: %w", err)
	}
	res, err := p.backend.CallContract(ctx, ethereum.CallMsg{To: &addr, Data: data}, nil)
	if err != nil {
		return nil, fmt.Errorf("evm: balanceOf %s: %w", asset, err)
	}
	vals, err := erc20ABI.Unpack("balanceOf", res)
	if err != nil {
		return nil, fmt.Errorf("evm: unpack balanceOf: %w", err)
	}
	bal, ok := vals[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("evm: balanceOf %s: unexpected result", asset)
	}
	return bal, nil
}

// sendTx signs and broadcasts a legacy EIP-155 transaction. A failed gas
// estimate means the call would revert, so nothing is sent.
func (p *Provider) sendTx(ctx context.Context, to common.Address, value *big.Int, data []byte) (common.Hash, error) {
	if value == nil {
		value = new(big.Int)
	}
	nonce, err := p.backend.PendingNonceAt(ctx, p.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("evm: get nonce: %w", err)
	}
	gasPrice, err := p.backend.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("evm: get gas price: %w", err)
	}
	gas, err := p.backend.EstimateGas(ctx, ethereum.CallMsg{
		From:  p.address,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("evm: estimate gas: %w", err)
	}
	gas = gas * (100 + p.cfg.GasMarginPct) / 100

	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		To:       &to,
		Value:    value,
		Gas:      gas,
		GasPrice: gasPrice,
		Data:     data,
	})
	signed, err := types.SignTx(tx, types.NewEIP155Signer(p.chainID), p.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("evm: sign tx: %w", err)
	}
	if err := p.backend.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("evm: send tx %s: %w", signed.Hash().Hex(), err)
	}
	return signed.Hash(), nil
}

// waitMined polls for the receipt until ConfirmTimeout. Not observing one is
// reported as domain.ErrTimeout: the tx may still land.
func (p *Provider) waitMined(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	for {
		rcpt, err := p.backend.TransactionReceipt(waitCtx, hash)
		switch {
		case err == nil:
			if rcpt.Status != types.ReceiptStatusSuccessful {
				return rcpt, fmt.Errorf("evm: tx %s: %w", hash.Hex(), domain.ErrSwapReverted)
			}
			return rcpt, nil
		case errors.Is(err, ethereum.NotFound):
		default:
			p.logger.Debug("receipt poll failed", slog.String("tx", hash.Hex()), slog.String("error", err.Error()))
		}

		select {
		case <-waitCtx.Done():
			return nil, fmt.Errorf("evm: tx %s not confirmed: %w", hash.Hex(), domain.ErrTimeout)
		case <-ticker.C:
		}
	}
}

var _ swap.Provider = (*Provider)(nil)
