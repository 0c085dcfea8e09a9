package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/profitfloor/internal/domain"
	"github.com/alanyoungcy/profitfloor/internal/executor"
	"github.com/alanyoungcy/profitfloor/internal/marketdata"
	"github.com/alanyoungcy/profitfloor/internal/swap"
)

// TradeConfig tunes the trade orchestrator.
type TradeConfig struct {
	DefaultAmountUSD   decimal.Decimal
	DefaultSlippageBps int
	SwapDeadline       time.Duration
	StoreRetries       int
	StoreRetryDelay    time.Duration
	// TopUpHeadroomPct is added to the reserve amount swapped into the
	// native asset to absorb that swap's own slippage.
	TopUpHeadroomPct int64
}

func (c TradeConfig) withDefaults() TradeConfig {
	if c.DefaultAmountUSD.Sign() <= 0 {
		c.DefaultAmountUSD = decimal.NewFromInt(10)
	}
	if c.DefaultSlippageBps == 0 {
		c.DefaultSlippageBps = swap.DefaultSlippageBps
	}
	if c.SwapDeadline <= 0 {
		c.SwapDeadline = 20 * time.Minute
	}
	if c.StoreRetries <= 0 {
		c.StoreRetries = 3
	}
	if c.StoreRetryDelay <= 0 {
		c.StoreRetryDelay = 500 * time.Millisecond
	}
	if c.TopUpHeadroomPct <= 0 {
		c.TopUpHeadroomPct = 5
	}
	return c
}

// BuyRequest opens a position.
type BuyRequest struct {
	TokenAddress string
	ChainID      int64 // zero infers the chain from the address
	AmountUSD    decimal.Decimal
	SlippageBps  int
	Symbol       string
	CoinID       *int64
}

// BuyResult is returned by a successful buy.
type BuyResult struct {
	PositionID string          `json:"position_id"`
	TxRef      string          `json:"tx_ref"`
	Position   domain.Position `json:"position"`
}

// SellResult is returned by a successful sell.
type SellResult struct {
	TxRef    string          `json:"tx_ref"`
	PnL      decimal.Decimal `json:"pnl"`
	Position domain.Position `json:"position"`
}

// TradeService opens and closes positions. Swap submission is serialized per
// chain wallet; every confirmed swap is journaled before the position write so
// a failed write never causes a second swap.
type TradeService struct {
	positions domain.PositionStore
	registry  *swap.Registry
	prices    marketdata.Gateway
	rates     marketdata.NativeRates
	journal   domain.ReceiptJournal
	wallets   *executor.WalletLocks
	intents   *executor.IntentGuard
	events    emitter
	cfg       TradeConfig
	logger    *slog.Logger

	// unresolved holds swaps whose confirmation timed out, keyed by buy
	// intent or position id, until a balance check shows they did not land.
	mu         sync.Mutex
	unresolved map[string]string
}

// NewTradeService creates a TradeService. bus and audit may be nil.
func NewTradeService(
	positions domain.PositionStore,
	registry *swap.Registry,
	prices marketdata.Gateway,
	rates marketdata.NativeRates,
	journal domain.ReceiptJournal,
	wallets *executor.WalletLocks,
	intents *executor.IntentGuard,
	bus domain.SignalBus,
	audit domain.AuditStore,
	cfg TradeConfig,
	logger *slog.Logger,
) *TradeService {
	logger = logger.With(slog.String("component", "trade_service"))
	return &TradeService{
		positions:  positions,
		registry:   registry,
		prices:     prices,
		rates:      rates,
		journal:    journal,
		wallets:    wallets,
		intents:    intents,
		events:     emitter{bus: bus, audit: audit, logger: logger},
		cfg:        cfg.withDefaults(),
		logger:     logger,
		unresolved: make(map[string]string),
	}
}

// normalizeToken lower-cases EVM addresses; base58 addresses are
// case-sensitive and returned as is.
func normalizeToken(chain domain.Chain, token string) string {
	token = strings.TrimSpace(token)
	if chain.Family == domain.FamilyEVM {
		return strings.ToLower(token)
	}
	return token
}

func (s *TradeService) resolveChain(token string, chainID int64) (domain.Chain, swap.Provider, string, error) {
	if chainID == 0 {
		detected, err := domain.DetectChain(strings.TrimSpace(token))
		if err != nil {
			return domain.Chain{}, nil, "", err
		}
		chainID = detected
	}
	chain, err := s.registry.Chain(chainID)
	if err != nil {
		return domain.Chain{}, nil, "", err
	}
	provider, err := s.registry.Provider(chainID)
	if err != nil {
		return domain.Chain{}, nil, "", err
	}
	return chain, provider, normalizeToken(chain, token), nil
}

func (s *TradeService) slippage(bps int) (int, error) {
	if bps == 0 {
		bps = s.cfg.DefaultSlippageBps
	}
	if err := swap.ValidateSlippage(bps); err != nil {
		return 0, err
	}
	return bps, nil
}

// Buy swaps amountUSD worth of the chain's native asset into the token and
// records the new OPEN position.
func (s *TradeService) Buy(ctx context.Context, req BuyRequest) (BuyResult, error) {
	chain, provider, token, err := s.resolveChain(req.TokenAddress, req.ChainID)
	if err != nil {
		return BuyResult{}, fmt.Errorf("trade_service: buy %s: %w", req.TokenAddress, err)
	}
	bps, err := s.slippage(req.SlippageBps)
	if err != nil {
		return BuyResult{}, err
	}
	amountUSD := req.AmountUSD
	if amountUSD.IsZero() {
		amountUSD = s.cfg.DefaultAmountUSD
	}
	if amountUSD.Sign() <= 0 {
		return BuyResult{}, fmt.Errorf("trade_service: buy amount must be positive, got %s", amountUSD)
	}

	intentKey := executor.BuyKey(chain.ID, token)
	release, err := s.intents.Claim(ctx, intentKey)
	if errors.Is(err, domain.ErrLockHeld) {
		return BuyResult{}, fmt.Errorf("trade_service: buy %s already in flight: %w", token, domain.ErrAlreadyOpen)
	}
	if err != nil {
		return BuyResult{}, fmt.Errorf("trade_service: claim buy %s: %w", token, err)
	}
	defer release()

	if existing, err := s.positions.GetOpenByToken(ctx, token, chain.ID); err == nil {
		return BuyResult{}, fmt.Errorf("trade_service: position %s for %s: %w", existing.ID, token, domain.ErrAlreadyOpen)
	} else if !errors.Is(err, domain.ErrPositionNotFound) {
		return BuyResult{}, fmt.Errorf("trade_service: check open position %s: %w", token, err)
	}

	if err := s.checkUnresolved(ctx, provider, intentKey, token, big.NewInt(1), false); err != nil {
		return BuyResult{}, err
	}

	// The entry price is the market price observed before the swap.
	quote, err := s.prices.TokenPrice(ctx, chain.ID, token)
	if err != nil {
		if !errors.Is(err, domain.ErrNoPrice) {
			err = fmt.Errorf("%w: %w", domain.ErrNoPrice, err)
		}
		return BuyResult{}, fmt.Errorf("trade_service: price %s: %w", token, err)
	}
	if quote.PriceUSD.Sign() <= 0 {
		return BuyResult{}, fmt.Errorf("trade_service: price %s is %s: %w", token, quote.PriceUSD, domain.ErrNoPrice)
	}
	symbol := req.Symbol
	if symbol == "" {
		symbol = quote.Symbol
	}

	nativeUSD := s.rates.NativeUSD(ctx, chain.ID)
	if nativeUSD.Sign() <= 0 {
		return BuyResult{}, fmt.Errorf("trade_service: no %s/USD rate for chain %d", chain.NativeSymbol, chain.ID)
	}
	amountIn := swap.ToUnits(amountUSD.Div(nativeUSD), chain.NativeDecimals)
	if amountIn.Sign() <= 0 {
		return BuyResult{}, fmt.Errorf("trade_service: buy amount %s USD rounds to zero %s", amountUSD, chain.NativeSymbol)
	}

	unlock, err := s.wallets.Lock(ctx, chain.ID)
	if err != nil {
		return BuyResult{}, err
	}
	defer unlock()

	if err := s.ensureNative(ctx, chain, provider, amountIn, nativeUSD, bps); err != nil {
		return BuyResult{}, err
	}

	q, err := provider.Quote(ctx, swap.NativeAsset, token, amountIn)
	if err != nil {
		return BuyResult{}, fmt.Errorf("trade_service: quote buy %s: %w", token, err)
	}
	receipt, err := provider.Swap(ctx, swap.SwapRequest{
		Quote:        q,
		MinAmountOut: swap.MinAmountOut(q.ExpectedOut, bps),
		Deadline:     time.Now().Add(s.cfg.SwapDeadline),
	})
	if err != nil {
		if errors.Is(err, domain.ErrTimeout) {
			s.markUnresolved(intentKey, err.Error())
		}
		return BuyResult{}, fmt.Errorf("trade_service: buy swap %s: %w", token, err)
	}

	// From here on the swap has happened: never swap again, only persist.
	wctx, cancel := detached(ctx)
	defer cancel()

	tokenAmount := swap.FromUnits(receipt.AmountOut, provider.Decimals(wctx, token))
	entry := domain.JournalEntry{
		ID:                uuid.NewString(),
		Kind:              domain.JournalKindBuy,
		ChainID:           chain.ID,
		TokenAddress:      token,
		Symbol:            symbol,
		CoinID:            req.CoinID,
		Receipt:           receipt,
		TokenAmount:       tokenAmount,
		BuyPriceUSD:       quote.PriceUSD,
		AmountUSDInvested: amountUSD,
	}
	jw := s.journalFor(entry)

	var pos domain.Position
	err = retry(wctx, s.cfg.StoreRetries, s.cfg.StoreRetryDelay, isTerminalStoreErr, func() error {
		jw.append(wctx)
		var cerr error
		pos, cerr = s.positions.Create(wctx, domain.CreatePositionParams{
			TokenAddress:      token,
			ChainID:           chain.ID,
			Symbol:            symbol,
			CoinID:            req.CoinID,
			BuyPriceUSD:       quote.PriceUSD,
			AmountToken:       tokenAmount,
			AmountUSDInvested: amountUSD,
			BuyTxRef:          receipt.TxRef,
		})
		if errors.Is(cerr, domain.ErrAlreadyOpen) {
			// The reconciler may have recovered this very buy from the
			// journal while the write was being retried.
			if existing, gerr := s.positions.GetByBuyTxRef(wctx, chain.ID, receipt.TxRef); gerr == nil && existing.IsOpen() {
				pos = existing
				return nil
			}
		}
		return cerr
	})
	if jerr := jw.err; jerr != nil {
		s.logger.ErrorContext(ctx, "trade_service: journal buy receipt failed",
			slog.String("tx", receipt.TxRef),
			slog.String("token", token),
			slog.String("error", jerr.Error()),
		)
		if err != nil {
			err = errors.Join(err, fmt.Errorf("journal: %w", jerr))
		}
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "trade_service: position write failed after buy swap",
			slog.String("tx", receipt.TxRef),
			slog.String("journal_id", entry.ID),
			slog.String("error", err.Error()),
		)
		return BuyResult{}, fmt.Errorf("trade_service: record buy %s (tx %s): %w: %w", token, receipt.TxRef, domain.ErrStoreWriteFailed, err)
	}
	s.settle(wctx, entry.ID)

	s.events.emit(wctx, domain.EventPositionOpened, positionDetail(pos))
	s.logger.InfoContext(ctx, "trade_service: position opened",
		slog.String("position_id", pos.ID),
		slog.String("token", token),
		slog.Int64("chain_id", chain.ID),
		slog.String("buy_price_usd", pos.BuyPriceUSD.String()),
		slog.String("amount_token", pos.AmountToken.String()),
		slog.String("route", string(q.Kind)),
		slog.String("tx", receipt.TxRef),
	)
	return BuyResult{PositionID: pos.ID, TxRef: receipt.TxRef, Position: pos}, nil
}

// ensureNative makes sure the wallet holds amountIn plus the chain's gas
// buffer, topping up once from the reserve asset when it does not.
func (s *TradeService) ensureNative(ctx context.Context, chain domain.Chain, provider swap.Provider, amountIn *big.Int, nativeUSD decimal.Decimal, bps int) error {
	need := new(big.Int).Add(amountIn, swap.ToUnits(chain.GasBuffer, chain.NativeDecimals))
	bal, err := provider.BalanceOf(ctx, swap.NativeAsset)
	if err != nil {
		return fmt.Errorf("trade_service: native balance chain %d: %w", chain.ID, err)
	}
	if bal.Cmp(need) >= 0 {
		return nil
	}
	if chain.ReserveAsset == "" {
		return fmt.Errorf("trade_service: have %s need %s %s: %w",
			swap.FromUnits(bal, chain.NativeDecimals), swap.FromUnits(need, chain.NativeDecimals), chain.NativeSymbol, domain.ErrInsufficientFunds)
	}

	shortfall := swap.FromUnits(new(big.Int).Sub(need, bal), chain.NativeDecimals)
	reserveUSD := shortfall.Mul(nativeUSD).Mul(decimal.NewFromInt(100 + s.cfg.TopUpHeadroomPct)).Div(decimal.NewFromInt(100))
	reserveIn := swap.ToUnits(reserveUSD, chain.ReserveDecimals)

	reserveBal, err := provider.BalanceOf(ctx, chain.ReserveAsset)
	if err != nil {
		return fmt.Errorf("trade_service: reserve balance chain %d: %w", chain.ID, err)
	}
	if reserveBal.Cmp(reserveIn) < 0 {
		return fmt.Errorf("trade_service: native short by %s %s and reserve holds %s, need %s: %w",
			shortfall, chain.NativeSymbol, swap.FromUnits(reserveBal, chain.ReserveDecimals), reserveUSD.StringFixed(2), domain.ErrInsufficientFunds)
	}

	s.logger.InfoContext(ctx, "trade_service: topping up native from reserve",
		slog.Int64("chain_id", chain.ID),
		slog.String("shortfall", shortfall.String()),
		slog.String("reserve_usd", reserveUSD.StringFixed(2)),
	)
	if _, err := provider.EnsureAllowance(ctx, chain.ReserveAsset, reserveIn); err != nil {
		return fmt.Errorf("trade_service: approve reserve: %w", err)
	}
	q, err := provider.Quote(ctx, chain.ReserveAsset, swap.NativeAsset, reserveIn)
	if err != nil {
		return fmt.Errorf("trade_service: quote top-up: %w", err)
	}
	receipt, err := provider.Swap(ctx, swap.SwapRequest{
		Quote:        q,
		MinAmountOut: swap.MinAmountOut(q.ExpectedOut, bps),
		Deadline:     time.Now().Add(s.cfg.SwapDeadline),
	})
	if err != nil {
		return fmt.Errorf("trade_service: top-up swap: %w", err)
	}
	s.events.emit(ctx, "native_topped_up", map[string]any{
		"chain_id":   chain.ID,
		"tx_ref":     receipt.TxRef,
		"amount_in":  receipt.AmountIn.String(),
		"amount_out": receipt.AmountOut.String(),
	})

	bal, err = provider.BalanceOf(ctx, swap.NativeAsset)
	if err != nil {
		return fmt.Errorf("trade_service: native balance after top-up: %w", err)
	}
	if bal.Cmp(need) < 0 {
		return fmt.Errorf("trade_service: still short after top-up %s: %w", receipt.TxRef, domain.ErrInsufficientFunds)
	}
	return nil
}

// Sell swaps the position's full token amount into the chain's quote asset
// and closes it.
func (s *TradeService) Sell(ctx context.Context, positionID string, slippageBps int) (SellResult, error) {
	bps, err := s.slippage(slippageBps)
	if err != nil {
		return SellResult{}, err
	}
	pos, err := s.positions.GetByID(ctx, positionID)
	if err != nil {
		return SellResult{}, fmt.Errorf("trade_service: get position %s: %w", positionID, err)
	}
	chain, provider, _, err := s.resolveChain(pos.TokenAddress, pos.ChainID)
	if err != nil {
		return SellResult{}, fmt.Errorf("trade_service: sell %s: %w", positionID, err)
	}

	unlock, err := s.wallets.Lock(ctx, chain.ID)
	if err != nil {
		return SellResult{}, err
	}
	defer unlock()

	// Re-read under the wallet lock: a sell that finished while we waited
	// must not be repeated.
	pos, err = s.positions.GetByID(ctx, positionID)
	if err != nil {
		return SellResult{}, fmt.Errorf("trade_service: get position %s: %w", positionID, err)
	}
	if !pos.IsOpen() {
		return SellResult{}, fmt.Errorf("trade_service: sell %s: %w", positionID, domain.ErrAlreadyClosed)
	}

	token := pos.TokenAddress
	amountIn := swap.ToUnits(pos.AmountToken, provider.Decimals(ctx, token))
	if amountIn.Sign() <= 0 {
		return SellResult{}, fmt.Errorf("trade_service: position %s holds no tokens", positionID)
	}
	if err := s.checkUnresolved(ctx, provider, positionID, token, amountIn, true); err != nil {
		return SellResult{}, err
	}

	out := chain.QuoteAsset
	if out == "" {
		out = swap.NativeAsset
	}
	if _, err := provider.EnsureAllowance(ctx, token, amountIn); err != nil {
		return SellResult{}, fmt.Errorf("trade_service: approve %s: %w", token, err)
	}
	q, err := provider.Quote(ctx, token, out, amountIn)
	if err != nil {
		return SellResult{}, fmt.Errorf("trade_service: quote sell %s: %w", positionID, err)
	}
	receipt, err := provider.Swap(ctx, swap.SwapRequest{
		Quote:        q,
		MinAmountOut: swap.MinAmountOut(q.ExpectedOut, bps),
		Deadline:     time.Now().Add(s.cfg.SwapDeadline),
	})
	if err != nil {
		if errors.Is(err, domain.ErrTimeout) {
			s.markUnresolved(positionID, err.Error())
		}
		return SellResult{}, fmt.Errorf("trade_service: sell swap %s: %w", positionID, err)
	}

	wctx, cancel := detached(ctx)
	defer cancel()

	proceeds := s.proceedsUSD(wctx, chain, provider, out, receipt.AmountOut)
	pnl := proceeds.Sub(pos.AmountUSDInvested)
	pnlPct := decimal.Zero
	if pos.AmountUSDInvested.Sign() > 0 {
		pnlPct = pnl.Div(pos.AmountUSDInvested).Mul(decimal.NewFromInt(100))
	}

	entry := domain.JournalEntry{
		ID:            uuid.NewString(),
		Kind:          domain.JournalKindSell,
		ChainID:       chain.ID,
		TokenAddress:  token,
		Symbol:        pos.Symbol,
		PositionID:    pos.ID,
		Receipt:       receipt,
		ProceedsUSD:   proceeds,
		PnL:           pnl,
		PnLPercentage: pnlPct,
	}
	jw := s.journalFor(entry)

	fields := domain.CloseFields{
		SellTxRef:     receipt.TxRef,
		PnL:           pnl,
		PnLPercentage: pnlPct,
		ClosedAt:      receipt.ConfirmedAt,
	}
	if fields.ClosedAt.IsZero() {
		fields.ClosedAt = time.Now().UTC()
	}
	var closed domain.Position
	err = retry(wctx, s.cfg.StoreRetries, s.cfg.StoreRetryDelay, isTerminalStoreErr, func() error {
		jw.append(wctx)
		var cerr error
		closed, cerr = s.positions.Close(wctx, pos.ID, fields)
		if errors.Is(cerr, domain.ErrAlreadyClosed) {
			if current, gerr := s.positions.GetByID(wctx, pos.ID); gerr == nil && current.SellTxRef == receipt.TxRef {
				closed = current
				return nil
			}
		}
		return cerr
	})
	if jerr := jw.err; jerr != nil {
		s.logger.ErrorContext(ctx, "trade_service: journal sell receipt failed",
			slog.String("tx", receipt.TxRef),
			slog.String("position_id", pos.ID),
			slog.String("error", jerr.Error()),
		)
		if err != nil {
			err = errors.Join(err, fmt.Errorf("journal: %w", jerr))
		}
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "trade_service: position close failed after sell swap",
			slog.String("tx", receipt.TxRef),
			slog.String("position_id", pos.ID),
			slog.String("journal_id", entry.ID),
			slog.String("error", err.Error()),
		)
		return SellResult{}, fmt.Errorf("trade_service: record sell %s (tx %s): %w: %w", pos.ID, receipt.TxRef, domain.ErrStoreWriteFailed, err)
	}
	s.settle(wctx, entry.ID)

	detail := positionDetail(closed)
	detail["proceeds_usd"] = proceeds.String()
	s.events.emit(wctx, domain.EventPositionClosed, detail)
	s.logger.InfoContext(ctx, "trade_service: position closed",
		slog.String("position_id", closed.ID),
		slog.String("token", token),
		slog.String("proceeds_usd", proceeds.StringFixed(4)),
		slog.String("pnl", pnl.StringFixed(4)),
		slog.String("pnl_pct", pnlPct.StringFixed(2)),
		slog.String("route", string(q.Kind)),
		slog.String("tx", receipt.TxRef),
	)
	return SellResult{TxRef: receipt.TxRef, PnL: pnl, Position: closed}, nil
}

// SellByToken resolves the OPEN position for the token and sells it.
func (s *TradeService) SellByToken(ctx context.Context, tokenAddress string, chainID int64, slippageBps int) (SellResult, error) {
	chain, _, token, err := s.resolveChain(tokenAddress, chainID)
	if err != nil {
		return SellResult{}, fmt.Errorf("trade_service: sell by token %s: %w", tokenAddress, err)
	}
	pos, err := s.positions.GetOpenByToken(ctx, token, chain.ID)
	if err != nil {
		return SellResult{}, fmt.Errorf("trade_service: open position for %s on chain %d: %w", token, chain.ID, err)
	}
	return s.Sell(ctx, pos.ID, slippageBps)
}

// proceedsUSD converts the sell output to USD: taken as is for a USD-pegged
// quote asset, otherwise priced at the native rate.
func (s *TradeService) proceedsUSD(ctx context.Context, chain domain.Chain, provider swap.Provider, out string, amountOut *big.Int) decimal.Decimal {
	decimals := chain.NativeDecimals
	if out != swap.NativeAsset {
		decimals = provider.Decimals(ctx, out)
	}
	amount := swap.FromUnits(amountOut, decimals)
	if chain.QuoteAssetUSDPegged && out != swap.NativeAsset {
		return amount
	}
	return amount.Mul(s.rates.NativeUSD(ctx, chain.ID))
}

// checkUnresolved refuses to act while an earlier swap for key timed out and
// the wallet balance suggests it landed. A buy landed if the wallet holds any
// of the token; a sell landed if the wallet holds less than the position.
func (s *TradeService) checkUnresolved(ctx context.Context, provider swap.Provider, key, token string, amount *big.Int, isSell bool) error {
	s.mu.Lock()
	prev, ok := s.unresolved[key]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	bal, err := provider.BalanceOf(ctx, token)
	if err != nil {
		return fmt.Errorf("trade_service: verify earlier swap for %s: %w", key, err)
	}
	landed := bal.Cmp(amount) >= 0
	if isSell {
		landed = bal.Cmp(amount) < 0
	}
	if landed {
		return fmt.Errorf("trade_service: earlier swap for %s may have landed (%s), reconcile first: %w", key, prev, domain.ErrTimeout)
	}
	s.mu.Lock()
	delete(s.unresolved, key)
	s.mu.Unlock()
	s.logger.InfoContext(ctx, "trade_service: earlier timed-out swap did not land",
		slog.String("key", key))
	return nil
}

func (s *TradeService) markUnresolved(key, detail string) {
	s.mu.Lock()
	s.unresolved[key] = detail
	s.mu.Unlock()
}

// receiptJournal appends one entry, retried alongside the store write until
// an append succeeds.
type receiptJournal struct {
	journal domain.ReceiptJournal
	entry   domain.JournalEntry
	done    bool
	err     error
}

func (s *TradeService) journalFor(entry domain.JournalEntry) *receiptJournal {
	return &receiptJournal{journal: s.journal, entry: entry}
}

func (j *receiptJournal) append(ctx context.Context) {
	if j.done {
		return
	}
	if err := j.journal.Append(ctx, j.entry); err != nil {
		j.err = err
		return
	}
	j.done, j.err = true, nil
}

func (s *TradeService) settle(ctx context.Context, journalID string) {
	if err := s.journal.MarkSettled(ctx, journalID); err != nil && !errors.Is(err, domain.ErrNotFound) {
		s.logger.WarnContext(ctx, "trade_service: settle journal entry failed",
			slog.String("journal_id", journalID),
			slog.String("error", err.Error()),
		)
	}
}

// GetPosition returns one position.
func (s *TradeService) GetPosition(ctx context.Context, id string) (domain.Position, error) {
	pos, err := s.positions.GetByID(ctx, id)
	if err != nil {
		return domain.Position{}, fmt.Errorf("trade_service: get position %s: %w", id, err)
	}
	return pos, nil
}

// GetOpenPositions lists OPEN positions, optionally for one chain.
func (s *TradeService) GetOpenPositions(ctx context.Context, chainID *int64) ([]domain.Position, error) {
	positions, err := s.positions.ListOpen(ctx, chainID)
	if err != nil {
		return nil, fmt.Errorf("trade_service: list open: %w", err)
	}
	return positions, nil
}

// ListHistory lists positions of any status, newest first.
func (s *TradeService) ListHistory(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error) {
	positions, err := s.positions.ListHistory(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("trade_service: list history: %w", err)
	}
	return positions, nil
}

// AuditTrail returns the audit entries of one position, newest first.
func (s *TradeService) AuditTrail(ctx context.Context, id string, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	if _, err := s.GetPosition(ctx, id); err != nil {
		return nil, err
	}
	if s.events.audit == nil {
		return nil, nil
	}
	entries, err := s.events.audit.ListForPosition(ctx, id, opts)
	if err != nil {
		return nil, fmt.Errorf("trade_service: audit trail %s: %w", id, err)
	}
	return entries, nil
}

// WalletBalance reports the wallet's native and reserve balances on a chain.
type WalletBalance struct {
	ChainID       int64           `json:"chain_id"`
	WalletAddress string          `json:"wallet_address"`
	Native        decimal.Decimal `json:"native"`
	NativeSymbol  string          `json:"native_symbol"`
	NativeUSD     decimal.Decimal `json:"native_usd"`
	Reserve       decimal.Decimal `json:"reserve"`
	TotalUSD      decimal.Decimal `json:"total_usd"`
}

// WalletBalance reads balances for the chain's hot wallet.
func (s *TradeService) WalletBalance(ctx context.Context, chainID int64) (WalletBalance, error) {
	chain, err := s.registry.Chain(chainID)
	if err != nil {
		return WalletBalance{}, err
	}
	provider, err := s.registry.Provider(chainID)
	if err != nil {
		return WalletBalance{}, err
	}
	units, err := provider.BalanceOf(ctx, swap.NativeAsset)
	if err != nil {
		return WalletBalance{}, fmt.Errorf("trade_service: native balance chain %d: %w", chainID, err)
	}
	rate := s.rates.NativeUSD(ctx, chainID)
	wb := WalletBalance{
		ChainID:       chainID,
		WalletAddress: provider.WalletAddress(),
		Native:        swap.FromUnits(units, chain.NativeDecimals),
		NativeSymbol:  chain.NativeSymbol,
	}
	wb.NativeUSD = wb.Native.Mul(rate)
	wb.TotalUSD = wb.NativeUSD
	if chain.ReserveAsset != "" {
		r, err := provider.BalanceOf(ctx, chain.ReserveAsset)
		if err != nil {
			return WalletBalance{}, fmt.Errorf("trade_service: reserve balance chain %d: %w", chainID, err)
		}
		wb.Reserve = swap.FromUnits(r, chain.ReserveDecimals)
		wb.TotalUSD = wb.TotalUSD.Add(wb.Reserve)
	}
	return wb, nil
}

// isTerminalStoreErr reports store errors a retry cannot fix.
func isTerminalStoreErr(err error) bool {
	return errors.Is(err, domain.ErrAlreadyOpen) ||
		errors.Is(err, domain.ErrAlreadyClosed) ||
		errors.Is(err, domain.ErrPositionNotFound) ||
		errors.Is(err, context.Canceled)
}

// detached returns a context that survives cancellation of parent, bounded so
// post-swap bookkeeping cannot hang forever.
func detached(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(parent), time.Minute)
}
