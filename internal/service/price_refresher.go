package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/profitfloor/internal/domain"
	"github.com/alanyoungcy/profitfloor/internal/marketdata"
	"github.com/alanyoungcy/profitfloor/internal/notify"
	"github.com/alanyoungcy/profitfloor/internal/profitfloor"
	"github.com/alanyoungcy/profitfloor/internal/swap"
)

// RefresherConfig tunes the price-refresh scheduler.
type RefresherConfig struct {
	Interval    time.Duration
	BatchSize   int
	BatchDelay  time.Duration
	SellDelay   time.Duration
	AutoSell    bool
	SlippageBps int
	// LockTTL bounds the cross-instance refresh lock.
	LockTTL time.Duration
}

func (c RefresherConfig) withDefaults() RefresherConfig {
	if c.Interval <= 0 {
		c.Interval = 45 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 5
	}
	if c.BatchDelay < 0 {
		c.BatchDelay = 0
	}
	if c.SellDelay < 0 {
		c.SellDelay = 0
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 10 * time.Minute
	}
	return c
}

// Seller closes positions. *TradeService satisfies it.
type Seller interface {
	Sell(ctx context.Context, positionID string, slippageBps int) (SellResult, error)
}

// Notifier delivers alerts. *notify.Notifier satisfies it.
type Notifier interface {
	Notify(ctx context.Context, msg notify.Message) error
}

// OutcomeStatus is what happened to one position during a cycle.
type OutcomeStatus string

const (
	OutcomeUpdated    OutcomeStatus = "updated"
	OutcomeSkipped    OutcomeStatus = "skipped"
	OutcomeFailed     OutcomeStatus = "failed"
	OutcomeSold       OutcomeStatus = "sold"
	OutcomeSellFailed OutcomeStatus = "sell_failed"
)

// Outcome is the per-position result of a refresh.
type Outcome struct {
	PositionID       string              `json:"position_id"`
	TokenAddress     string              `json:"token_address"`
	ChainID          int64               `json:"chain_id"`
	Status           OutcomeStatus       `json:"status"`
	CurrentPriceUSD  decimal.Decimal     `json:"current_price_usd"`
	HighestPriceEver decimal.Decimal     `json:"highest_price_ever"`
	ProfitFloor      decimal.NullDecimal `json:"profit_floor"`
	ShouldSell       bool                `json:"should_sell"`
	SellTxRef        string              `json:"sell_tx_ref,omitempty"`
	PnL              decimal.NullDecimal `json:"pnl"`
	Error            string              `json:"error,omitempty"`
}

// CycleReport summarises one RefreshAll.
type CycleReport struct {
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	Outcomes []Outcome `json:"outcomes"`
}

// Sold returns the outcomes that ended in a sell.
func (r CycleReport) Sold() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Status == OutcomeSold {
			out = append(out, o)
		}
	}
	return out
}

// PriceRefresher re-prices open positions on a fixed interval, ratchets their
// peak and profit floor, and sells the ones whose value fell to the floor.
type PriceRefresher struct {
	positions domain.PositionStore
	prices    marketdata.Gateway
	policy    profitfloor.Policy
	seller    Seller
	notifier  Notifier
	registry  *swap.Registry
	locks     domain.LockManager
	events    emitter
	cfg       RefresherConfig
	logger    *slog.Logger

	running atomic.Bool
	// flagged holds the floor each position was last alerted at, so a
	// position resting on its floor is reported once.
	flagged sync.Map
}

// NewPriceRefresher creates a PriceRefresher. notifier, locks, bus and audit
// may be nil.
func NewPriceRefresher(
	positions domain.PositionStore,
	prices marketdata.Gateway,
	policy profitfloor.Policy,
	seller Seller,
	notifier Notifier,
	registry *swap.Registry,
	locks domain.LockManager,
	bus domain.SignalBus,
	audit domain.AuditStore,
	cfg RefresherConfig,
	logger *slog.Logger,
) *PriceRefresher {
	logger = logger.With(slog.String("component", "price_refresher"))
	return &PriceRefresher{
		positions: positions,
		prices:    prices,
		policy:    policy,
		seller:    seller,
		notifier:  notifier,
		registry:  registry,
		locks:     locks,
		events:    emitter{bus: bus, audit: audit, logger: logger},
		cfg:       cfg.withDefaults(),
		logger:    logger,
	}
}

// Run refreshes immediately and then on every tick until ctx ends. A tick
// that arrives while a cycle is still running is skipped.
func (r *PriceRefresher) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "price refresher started",
		slog.Duration("interval", r.cfg.Interval),
		slog.Int("batch_size", r.cfg.BatchSize),
		slog.Bool("auto_sell", r.cfg.AutoSell),
		slog.String("policy", r.policy.Name()),
	)
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		r.runCycle(ctx)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *PriceRefresher) runCycle(ctx context.Context) {
	report, err := r.RefreshAll(ctx, nil)
	switch {
	case errors.Is(err, domain.ErrRefreshInProgress):
		r.logger.DebugContext(ctx, "previous cycle still running, skipping")
	case err != nil:
		r.logger.ErrorContext(ctx, "refresh cycle failed", slog.String("error", err.Error()))
	default:
		r.logger.InfoContext(ctx, "refresh cycle completed",
			slog.Int("positions", len(report.Outcomes)),
			slog.Int("sold", len(report.Sold())),
			slog.Duration("took", report.Finished.Sub(report.Started)),
		)
	}
}

// RefreshAll runs one cycle over the OPEN positions, optionally for one chain.
// It fails with domain.ErrRefreshInProgress when a cycle is already running
// in this process or, with a lock manager, in another instance.
func (r *PriceRefresher) RefreshAll(ctx context.Context, chainID *int64) (CycleReport, error) {
	if !r.running.CompareAndSwap(false, true) {
		return CycleReport{}, domain.ErrRefreshInProgress
	}
	defer r.running.Store(false)

	if r.locks != nil {
		unlock, err := r.locks.Acquire(ctx, "refresh", r.cfg.LockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			return CycleReport{}, domain.ErrRefreshInProgress
		}
		if err != nil {
			return CycleReport{}, fmt.Errorf("price_refresher: acquire refresh lock: %w", err)
		}
		defer unlock()
	}

	report := CycleReport{Started: time.Now().UTC()}
	open, err := r.positions.ListOpen(ctx, chainID)
	if err != nil {
		return CycleReport{}, fmt.Errorf("price_refresher: list open: %w", err)
	}

	report.Outcomes = make([]Outcome, len(open))
	for start := 0; start < len(open); start += r.cfg.BatchSize {
		end := min(start+r.cfg.BatchSize, len(open))

		// Each refresh records its own outcome; one failure never cancels
		// its siblings, so the group never returns an error.
		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				report.Outcomes[i] = r.refreshPosition(ctx, open[i])
				return nil
			})
		}
		_ = g.Wait()

		if end < len(open) && !sleepCtx(ctx, r.cfg.BatchDelay) {
			return report, ctx.Err()
		}
	}

	if r.cfg.AutoSell {
		first := true
		for i := range report.Outcomes {
			if !report.Outcomes[i].ShouldSell {
				continue
			}
			if !first && !sleepCtx(ctx, r.cfg.SellDelay) {
				return report, ctx.Err()
			}
			first = false
			r.sell(ctx, &report.Outcomes[i])
		}
	}

	report.Finished = time.Now().UTC()
	return report, nil
}

// RefreshOne re-prices a single position and sells it when warranted and
// auto-sell is enabled.
func (r *PriceRefresher) RefreshOne(ctx context.Context, positionID string) (Outcome, error) {
	pos, err := r.positions.GetByID(ctx, positionID)
	if err != nil {
		return Outcome{}, fmt.Errorf("price_refresher: get position %s: %w", positionID, err)
	}
	if !pos.IsOpen() {
		return Outcome{}, fmt.Errorf("price_refresher: refresh %s: %w", positionID, domain.ErrAlreadyClosed)
	}
	out := r.refreshPosition(ctx, pos)
	if out.ShouldSell && r.cfg.AutoSell {
		r.sell(ctx, &out)
	}
	return out, nil
}

func (r *PriceRefresher) refreshPosition(ctx context.Context, pos domain.Position) Outcome {
	out := Outcome{
		PositionID:       pos.ID,
		TokenAddress:     pos.TokenAddress,
		ChainID:          pos.ChainID,
		HighestPriceEver: pos.HighestPriceEver,
		ProfitFloor:      pos.ProfitFloor,
	}

	quote, err := r.prices.TokenPrice(ctx, pos.ChainID, pos.TokenAddress)
	if err != nil {
		out.Status = OutcomeSkipped
		out.Error = err.Error()
		r.logger.WarnContext(ctx, "price fetch failed, skipping position this cycle",
			slog.String("position_id", pos.ID),
			slog.String("token", pos.TokenAddress),
			slog.String("error", err.Error()),
		)
		return out
	}
	price := quote.PriceUSD
	out.CurrentPriceUSD = price

	highest := decimal.Max(pos.HighestPriceEver, price)
	floor, active := r.policy.Floor(pos.ValueAt(highest), pos.AmountUSDInvested)
	// A floor, once set, is never lowered or cleared.
	if pos.ProfitFloor.Valid && (!active || floor.LessThan(pos.ProfitFloor.Decimal)) {
		floor, active = pos.ProfitFloor.Decimal, true
	}
	upd := domain.PriceUpdate{
		CurrentPriceUSD:  price,
		HighestPriceEver: highest,
		ProfitFloor:      decimal.NullDecimal{Decimal: floor, Valid: active},
	}

	updated, err := r.positions.UpdatePrices(ctx, pos.ID, upd)
	if err != nil {
		out.Status = OutcomeFailed
		if errors.Is(err, domain.ErrAlreadyClosed) {
			out.Status = OutcomeSkipped
		}
		out.Error = err.Error()
		r.logger.WarnContext(ctx, "persist prices failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
		return out
	}

	// The stored peak may be above the one this refresh read; judge the sell
	// against the floor it implies.
	if f, ok := r.policy.Floor(updated.ValueAt(updated.HighestPriceEver), updated.AmountUSDInvested); ok &&
		(!updated.ProfitFloor.Valid || f.GreaterThan(updated.ProfitFloor.Decimal)) {
		updated.ProfitFloor = decimal.NewNullDecimal(f)
	}

	out.Status = OutcomeUpdated
	out.HighestPriceEver = updated.HighestPriceEver
	out.ProfitFloor = updated.ProfitFloor
	value := updated.ValueAt(price)
	out.ShouldSell = updated.ProfitFloor.Valid && value.LessThanOrEqual(updated.ProfitFloor.Decimal)
	if !r.cfg.AutoSell {
		r.flag(ctx, updated, price, out.ShouldSell)
	}

	r.events.publish(ctx, domain.EventPositionRefreshed, positionDetail(updated))
	r.logger.DebugContext(ctx, "position refreshed",
		slog.String("position_id", pos.ID),
		slog.String("price_usd", price.String()),
		slog.String("value_usd", value.String()),
		slog.String("highest", updated.HighestPriceEver.String()),
		slog.Bool("floor_active", updated.ProfitFloor.Valid),
		slog.Bool("should_sell", out.ShouldSell),
	)
	return out
}

// sell closes one triggered position and notifies. Notification failures are
// logged and never affect the outcome.
func (r *PriceRefresher) sell(ctx context.Context, out *Outcome) {
	r.logger.InfoContext(ctx, "profit floor reached, selling",
		slog.String("position_id", out.PositionID),
		slog.String("price_usd", out.CurrentPriceUSD.String()),
		slog.String("floor", out.ProfitFloor.Decimal.String()),
		slog.String("highest", out.HighestPriceEver.String()),
	)
	res, err := r.seller.Sell(ctx, out.PositionID, r.cfg.SlippageBps)
	if err != nil {
		out.Status = OutcomeSellFailed
		out.Error = err.Error()
		r.logger.ErrorContext(ctx, "auto-sell failed",
			slog.String("position_id", out.PositionID),
			slog.String("error", err.Error()),
		)
		return
	}
	out.Status = OutcomeSold
	out.SellTxRef = res.TxRef
	out.PnL = decimal.NewNullDecimal(res.PnL)

	if r.notifier == nil {
		return
	}
	if err := r.notifier.Notify(ctx, notify.PositionClosed(r.chainName(out.ChainID), res.Position, out.CurrentPriceUSD)); err != nil {
		r.logger.WarnContext(ctx, "sell notification failed",
			slog.String("position_id", out.PositionID),
			slog.String("error", err.Error()),
		)
	}
}

// flag alerts once per floor level for a position at its floor that will not
// be sold. Recovering above the floor re-arms the alert.
func (r *PriceRefresher) flag(ctx context.Context, pos domain.Position, price decimal.Decimal, atFloor bool) {
	if !atFloor {
		r.flagged.Delete(pos.ID)
		return
	}
	level := pos.ProfitFloor.Decimal.String()
	if prev, loaded := r.flagged.Swap(pos.ID, level); loaded && prev.(string) == level {
		return
	}
	r.logger.InfoContext(ctx, "profit floor reached, auto-sell off",
		slog.String("position_id", pos.ID),
		slog.String("price_usd", price.String()),
		slog.String("floor", level),
	)
	if r.notifier == nil {
		return
	}
	if err := r.notifier.Notify(ctx, notify.FloorReached(r.chainName(pos.ChainID), pos, price)); err != nil {
		r.logger.WarnContext(ctx, "floor notification failed",
			slog.String("position_id", pos.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (r *PriceRefresher) chainName(chainID int64) string {
	if r.registry != nil {
		if c, err := r.registry.Chain(chainID); err == nil {
			return c.Name
		}
	}
	return ""
}

// sleepCtx waits for d and reports false if ctx ended first.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
