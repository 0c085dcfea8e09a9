package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/profitfloor/internal/domain"
	"github.com/alanyoungcy/profitfloor/internal/executor"
	"github.com/alanyoungcy/profitfloor/internal/server"
	"github.com/alanyoungcy/profitfloor/internal/server/handler"
	"github.com/alanyoungcy/profitfloor/internal/server/ws"
	"github.com/alanyoungcy/profitfloor/internal/service"
)

// services are the long-lived components every mode picks from.
type services struct {
	trades     *service.TradeService
	refresher  *service.PriceRefresher
	reconciler *service.Reconciler
}

func (a *App) buildServices(deps *Dependencies, autoSell bool) services {
	cfg := a.cfg

	// Left as nil interfaces when Redis is off; a typed nil would read as
	// configured.
	var (
		walletLock  executor.DistributedLocker
		intentLock  executor.IntentLocker
		refreshLock domain.LockManager
	)
	if deps.Locks != nil {
		walletLock, intentLock, refreshLock = deps.Locks, deps.Locks, deps.Locks
	}

	trades := service.NewTradeService(
		deps.Positions,
		deps.Registry,
		deps.Prices,
		deps.Rates,
		deps.Journal,
		executor.NewWalletLocks(walletLock, cfg.Trade.WalletLockTTL.Duration, a.logger),
		executor.NewIntentGuard(intentLock, cfg.Trade.IntentTTL.Duration),
		deps.SignalBus,
		deps.Audit,
		service.TradeConfig{
			DefaultAmountUSD:   decimal.NewFromFloat(cfg.Trade.DefaultAmountUSD),
			DefaultSlippageBps: cfg.Trade.SlippageBps,
			SwapDeadline:       cfg.Trade.SwapDeadline.Duration,
			StoreRetries:       cfg.Trade.StoreRetries,
			TopUpHeadroomPct:   cfg.Trade.TopUpHeadroomPct,
		},
		a.logger,
	)

	refresher := service.NewPriceRefresher(
		deps.Positions,
		deps.Prices,
		deps.Policy,
		trades,
		deps.Notifier,
		deps.Registry,
		refreshLock,
		deps.SignalBus,
		deps.Audit,
		service.RefresherConfig{
			Interval:    cfg.Refresh.Interval.Duration,
			BatchSize:   cfg.Refresh.BatchSize,
			BatchDelay:  cfg.Refresh.BatchDelay.Duration,
			SellDelay:   cfg.Refresh.SellDelay.Duration,
			AutoSell:    autoSell,
			SlippageBps: cfg.Trade.SlippageBps,
			LockTTL:     cfg.Refresh.LockTTL.Duration,
		},
		a.logger,
	)

	reconciler := service.NewReconciler(
		deps.Positions,
		deps.Journal,
		deps.Archiver,
		deps.SignalBus,
		deps.Audit,
		service.ReconcilerConfig{
			Interval:     cfg.Journal.ReconcileInterval.Duration,
			ArchiveAfter: cfg.Journal.ArchiveAfter.Duration,
		},
		a.logger,
	)

	return services{trades: trades, refresher: refresher, reconciler: reconciler}
}

// TradeMode runs the reconciler, the auto-selling price refresher and, when
// enabled, the HTTP API.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode",
		slog.Bool("auto_sell", a.cfg.Refresh.AutoSell),
		slog.String("floor_policy", a.cfg.Trade.FloorPolicy),
	)
	svc := a.buildServices(deps, a.cfg.Refresh.AutoSell)

	// Replay journaled swaps before the refresher can act on stale rows.
	if _, err := svc.reconciler.Reconcile(ctx); err != nil {
		a.logger.WarnContext(ctx, "startup reconcile failed", slog.String("error", err.Error()))
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.reconciler.Run(ctx) })
	g.Go(func() error { return svc.refresher.Run(ctx) })
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svc)
	}
	return ignoreCanceled(g.Wait())
}

// MonitorMode re-prices positions and ratchets floors without selling. A
// position at its floor is flagged in the cycle report and alerted once per
// floor level as floor_reached, never sold.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")
	svc := a.buildServices(deps, false)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return svc.refresher.Run(ctx) })
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svc)
	}
	return ignoreCanceled(g.Wait())
}

// ServerMode serves the API only; refreshes run on request.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")
	svc := a.buildServices(deps, a.cfg.Refresh.AutoSell)

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, svc)
	return ignoreCanceled(g.Wait())
}

// ReconcileMode runs a single reconcile pass and exits.
func (a *App) ReconcileMode(ctx context.Context, deps *Dependencies) error {
	svc := a.buildServices(deps, false)
	report, err := svc.reconciler.Reconcile(ctx)
	if err != nil {
		return err
	}
	a.logger.InfoContext(ctx, "reconcile finished",
		slog.Int("recovered", report.Recovered),
		slog.Int("settled", report.Settled),
		slog.Int("failed", report.Failed),
		slog.Int("archived", report.Archived),
	)
	if report.Failed > 0 {
		return errors.New("app: some journal entries could not be reconciled")
	}
	return nil
}

func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc services) {
	startedAt := time.Now().UTC()
	h := server.Handlers{
		Health:    handler.NewHealthHandler(a.cfg.Mode, startedAt, deps.Checks...),
		Positions: handler.NewPositionHandler(svc.trades, a.logger),
		Refresh:   handler.NewRefreshHandler(svc.refresher, a.logger),
		Wallet:    handler.NewWalletHandler(svc.trades, a.logger),
		Prices:    handler.NewPriceHandler(deps.Prices, a.logger),
	}

	if deps.SignalBus != nil {
		hub := ws.NewHub(deps.SignalBus, ws.Config{
			Mode:      a.cfg.Mode,
			StartedAt: startedAt,
			OpenCount: func(ctx context.Context) (int, error) {
				open, err := deps.Positions.ListOpen(ctx, nil)
				return len(open), err
			},
		}, a.logger)
		h.Hub = hub
		g.Go(func() error { return hub.Run(ctx) })
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, h, deps.RateLimiter, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// ignoreCanceled treats shutdown by signal as a clean exit.
func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
