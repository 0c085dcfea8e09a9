package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/profitfloor/internal/domain"
	"github.com/alanyoungcy/profitfloor/internal/executor"
	"github.com/alanyoungcy/profitfloor/internal/journal"
	"github.com/alanyoungcy/profitfloor/internal/marketdata"
	"github.com/alanyoungcy/profitfloor/internal/notify"
	"github.com/alanyoungcy/profitfloor/internal/profitfloor"
	"github.com/alanyoungcy/profitfloor/internal/store/memory"
	"github.com/alanyoungcy/profitfloor/internal/swap"
)

var testChain = domain.Chain{
	ID:                  domain.ChainBSC,
	Name:                "BSC",
	Family:              domain.FamilyEVM,
	NativeSymbol:        "BNB",
	NativeDecimals:      18,
	WrappedNative:       "wbnb",
	QuoteAsset:          "usdt",
	QuoteAssetUSDPegged: true,
	GasBuffer:           decimal.Zero,
}

func d(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func token(i int) string { return fmt.Sprintf("0x%040x", i+1) }

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// market is the shared price source behind the fake gateway, the fake native
// rate, and the fake provider's quotes.
type market struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	fail   map[string]error
	native decimal.Decimal
	calls  map[string]int
	// gate, when set, blocks TokenPrice until closed; entered is signalled
	// once per call.
	gate    chan struct{}
	entered chan struct{}
}

func newMarket() *market {
	return &market{
		prices: map[string]decimal.Decimal{},
		fail:   map[string]error{},
		native: decimal.NewFromInt(1),
		calls:  map[string]int{},
	}
}

func (m *market) set(tok string, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[tok] = price
}

func (m *market) failFor(tok string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.fail, tok)
		return
	}
	m.fail[tok] = err
}

func (m *market) TokenPrice(ctx context.Context, _ int64, tok string) (marketdata.PriceQuote, error) {
	m.mu.Lock()
	gate, entered := m.gate, m.entered
	m.calls[tok]++
	m.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return marketdata.PriceQuote{}, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.fail[tok]; err != nil {
		return marketdata.PriceQuote{}, err
	}
	p, ok := m.prices[tok]
	if !ok {
		return marketdata.PriceQuote{}, domain.ErrNoPrice
	}
	return marketdata.PriceQuote{PriceUSD: p, Symbol: "TKN", ObservedAt: time.Now()}, nil
}

func (m *market) NativeUSD(context.Context, int64) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.native
}

// usd prices one whole unit of asset.
func (m *market) usd(asset string) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch asset {
	case swap.NativeAsset, testChain.WrappedNative:
		return m.native
	case testChain.QuoteAsset:
		return decimal.NewFromInt(1)
	}
	return m.prices[asset]
}

// fakeProvider quotes at market prices through the real candidate ordering
// and settles exactly the quoted amounts.
type fakeProvider struct {
	m *market

	mu        sync.Mutex
	noDirect  map[string]bool
	noRouted  bool
	balances  map[string]*big.Int
	quoted    [][]string
	swaps     []swap.SwapRequest
	swapErr   error
	swapErrOn map[string]error // keyed by the path's input asset
	n         int
}

func newFakeProvider(m *market) *fakeProvider {
	native, _ := new(big.Int).SetString("1000000000000000000000000", 10)
	return &fakeProvider{
		m:         m,
		noDirect:  map[string]bool{},
		balances:  map[string]*big.Int{swap.NativeAsset: native},
		swapErrOn: map[string]error{},
	}
}

func (p *fakeProvider) ChainID() int64        { return testChain.ID }
func (p *fakeProvider) WalletAddress() string { return "0x000000000000000000000000000000000000beef" }

func (p *fakeProvider) Quote(ctx context.Context, in, out string, amountIn *big.Int) (swap.Quote, error) {
	return swap.FirstUsable(ctx, swap.Candidates(in, out, testChain.WrappedNative), func(_ context.Context, c swap.Candidate) (swap.Quote, error) {
		p.mu.Lock()
		blocked := (c.Kind == swap.RouteDirect && (p.noDirect[in] || p.noDirect[out])) ||
			(c.Kind == swap.RouteRouted && p.noRouted)
		p.mu.Unlock()
		if blocked {
			return swap.Quote{}, errors.New("insufficient liquidity")
		}

		value := swap.FromUnits(amountIn, 18).Mul(p.m.usd(in))
		outPrice := p.m.usd(out)
		if outPrice.Sign() <= 0 {
			return swap.Quote{}, errors.New("unpriced asset")
		}
		expected := swap.ToUnits(value.Div(outPrice), 18)

		p.mu.Lock()
		p.quoted = append(p.quoted, c.Path)
		p.mu.Unlock()
		return swap.Quote{Path: c.Path, AmountIn: amountIn, ExpectedOut: expected}, nil
	})
}

func (p *fakeProvider) Swap(_ context.Context, req swap.SwapRequest) (domain.SwapReceipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.swaps = append(p.swaps, req)

	path := req.Quote.Path
	in, out := path[0], path[len(path)-1]
	if err := p.swapErrOn[in]; err != nil {
		return domain.SwapReceipt{}, err
	}
	if p.swapErr != nil {
		return domain.SwapReceipt{}, p.swapErr
	}
	if len(p.quoted) == 0 || !slices.Equal(p.quoted[len(p.quoted)-1], path) {
		return domain.SwapReceipt{}, fmt.Errorf("swap path %v was not the last quoted path", path)
	}

	p.add(in, new(big.Int).Neg(req.Quote.AmountIn))
	p.add(out, req.Quote.ExpectedOut)
	p.n++
	return domain.SwapReceipt{
		TxRef:       fmt.Sprintf("0xtx%d", p.n),
		ChainID:     testChain.ID,
		Path:        path,
		AmountIn:    req.Quote.AmountIn,
		AmountOut:   req.Quote.ExpectedOut,
		ConfirmedAt: time.Now().UTC(),
	}, nil
}

func (p *fakeProvider) add(asset string, delta *big.Int) {
	b, ok := p.balances[asset]
	if !ok {
		b = new(big.Int)
		p.balances[asset] = b
	}
	b.Add(b, delta)
}

func (p *fakeProvider) EnsureAllowance(context.Context, string, *big.Int) (string, error) {
	return "", nil
}

func (p *fakeProvider) Decimals(context.Context, string) uint8 { return 18 }

func (p *fakeProvider) BalanceOf(_ context.Context, asset string) (*big.Int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if b, ok := p.balances[asset]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

func (p *fakeProvider) setBalance(asset string, v *big.Int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.balances[asset] = new(big.Int).Set(v)
}

func (p *fakeProvider) swapCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.swaps)
}

func (p *fakeProvider) lastSwap() swap.SwapRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.swaps[len(p.swaps)-1]
}

// flakyStore fails the next N Create or Close calls with a transient error.
// afterFail, when set, runs once after the first injected failure.
type flakyStore struct {
	*memory.PositionStore

	mu         sync.Mutex
	createFail int
	closeFail  int
	afterFail  func()
}

var errConnReset = errors.New("connection reset by peer")

func (f *flakyStore) fail(n *int) bool {
	f.mu.Lock()
	if *n == 0 {
		f.mu.Unlock()
		return false
	}
	*n--
	hook := f.afterFail
	f.afterFail = nil
	f.mu.Unlock()
	if hook != nil {
		hook()
	}
	return true
}

func (f *flakyStore) Create(ctx context.Context, params domain.CreatePositionParams) (domain.Position, error) {
	if f.fail(&f.createFail) {
		return domain.Position{}, errConnReset
	}
	return f.PositionStore.Create(ctx, params)
}

func (f *flakyStore) Close(ctx context.Context, id string, fields domain.CloseFields) (domain.Position, error) {
	if f.fail(&f.closeFail) {
		return domain.Position{}, errConnReset
	}
	return f.PositionStore.Close(ctx, id, fields)
}

// flakyJournal fails the next N appends.
type flakyJournal struct {
	*journal.FileJournal

	mu         sync.Mutex
	appendFail int
}

var errDiskFull = errors.New("no space left on device")

func (j *flakyJournal) Append(ctx context.Context, entry domain.JournalEntry) error {
	j.mu.Lock()
	if j.appendFail > 0 {
		j.appendFail--
		j.mu.Unlock()
		return errDiskFull
	}
	j.mu.Unlock()
	return j.FileJournal.Append(ctx, entry)
}

type fakeNotifier struct {
	mu   sync.Mutex
	msgs []notify.Message
	err  error
}

func (n *fakeNotifier) Notify(_ context.Context, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return n.err
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.msgs)
}

type heldLocks struct{}

func (heldLocks) Acquire(context.Context, string, time.Duration) (func(), error) {
	return nil, domain.ErrLockHeld
}

type harness struct {
	store    *memory.PositionStore
	flaky    *flakyStore
	market   *market
	provider *fakeProvider
	registry *swap.Registry
	journal  *journal.FileJournal
	jflaky   *flakyJournal
	audit    *memory.AuditStore
	notifier *fakeNotifier
	trades   *TradeService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    memory.NewPositionStore(),
		market:   newMarket(),
		registry: swap.NewRegistry(),
		audit:    memory.NewAuditStore(),
		notifier: &fakeNotifier{},
	}
	h.flaky = &flakyStore{PositionStore: h.store}
	h.provider = newFakeProvider(h.market)
	require.NoError(t, h.registry.Register(testChain, h.provider))

	j, err := journal.NewFileJournal(t.TempDir())
	require.NoError(t, err)
	h.journal = j
	h.jflaky = &flakyJournal{FileJournal: j}

	logger := discardLogger()
	h.trades = NewTradeService(
		h.flaky,
		h.registry,
		h.market,
		h.market,
		h.jflaky,
		executor.NewWalletLocks(nil, time.Minute, logger),
		executor.NewIntentGuard(nil, time.Minute),
		nil,
		h.audit,
		TradeConfig{StoreRetries: 2, StoreRetryDelay: time.Millisecond},
		logger,
	)
	return h
}

func (h *harness) refresher(cfg RefresherConfig, locks domain.LockManager) *PriceRefresher {
	return NewPriceRefresher(
		h.flaky,
		h.market,
		profitfloor.Relative{},
		h.trades,
		h.notifier,
		h.registry,
		locks,
		nil,
		h.audit,
		cfg,
		discardLogger(),
	)
}

func (h *harness) reconciler() *Reconciler {
	return NewReconciler(h.store, h.journal, nil, nil, h.audit, ReconcilerConfig{}, discardLogger())
}

// buy opens a $10 position in tok at price.
func (h *harness) buy(t *testing.T, tok string, price decimal.Decimal) BuyResult {
	t.Helper()
	h.market.set(tok, price)
	res, err := h.trades.Buy(context.Background(), BuyRequest{
		TokenAddress: tok,
		ChainID:      testChain.ID,
		AmountUSD:    decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	return res
}
