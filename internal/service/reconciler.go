package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/profitfloor/internal/domain"
)

// ReconcilerConfig tunes the journal reconciler.
type ReconcilerConfig struct {
	Interval     time.Duration
	ArchiveAfter time.Duration
}

// ReconcileReport counts what one pass did.
type ReconcileReport struct {
	Recovered int `json:"recovered"`
	Settled   int `json:"settled"`
	Failed    int `json:"failed"`
	Archived  int `json:"archived"`
}

// Reconciler replays PENDING journal entries whose position write never
// landed, and archives old settled entries.
type Reconciler struct {
	positions domain.PositionStore
	journal   domain.ReceiptJournal
	archiver  domain.Archiver
	events    emitter
	cfg       ReconcilerConfig
	logger    *slog.Logger
}

// NewReconciler creates a Reconciler. archiver, bus and audit may be nil.
func NewReconciler(
	positions domain.PositionStore,
	journal domain.ReceiptJournal,
	archiver domain.Archiver,
	bus domain.SignalBus,
	audit domain.AuditStore,
	cfg ReconcilerConfig,
	logger *slog.Logger,
) *Reconciler {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.ArchiveAfter <= 0 {
		cfg.ArchiveAfter = 7 * 24 * time.Hour
	}
	logger = logger.With(slog.String("component", "reconciler"))
	return &Reconciler{
		positions: positions,
		journal:   journal,
		archiver:  archiver,
		events:    emitter{bus: bus, audit: audit, logger: logger},
		cfg:       cfg,
		logger:    logger,
	}
}

// Run reconciles immediately and then every interval until ctx ends.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()
	for {
		if report, err := r.Reconcile(ctx); err != nil {
			r.logger.ErrorContext(ctx, "reconcile failed", slog.String("error", err.Error()))
		} else if report != (ReconcileReport{}) {
			r.logger.InfoContext(ctx, "reconcile pass completed",
				slog.Int("recovered", report.Recovered),
				slog.Int("settled", report.Settled),
				slog.Int("failed", report.Failed),
				slog.Int("archived", report.Archived),
			)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Reconcile runs one pass.
func (r *Reconciler) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	pending, err := r.journal.Pending(ctx)
	if err != nil {
		return report, fmt.Errorf("reconciler: list pending: %w", err)
	}

	for _, entry := range pending {
		var recovered bool
		switch entry.Kind {
		case domain.JournalKindBuy:
			recovered, err = r.reconcileBuy(ctx, entry)
		case domain.JournalKindSell:
			recovered, err = r.reconcileSell(ctx, entry)
		default:
			err = fmt.Errorf("unknown journal kind %q", entry.Kind)
		}
		if err != nil {
			report.Failed++
			r.logger.ErrorContext(ctx, "reconcile entry failed",
				slog.String("journal_id", entry.ID),
				slog.String("kind", string(entry.Kind)),
				slog.String("tx", entry.Receipt.TxRef),
				slog.String("error", err.Error()),
			)
			continue
		}
		if err := r.journal.MarkSettled(ctx, entry.ID); err != nil {
			report.Failed++
			r.logger.ErrorContext(ctx, "settle journal entry failed",
				slog.String("journal_id", entry.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if recovered {
			report.Recovered++
		} else {
			report.Settled++
		}
	}

	archived, err := r.archive(ctx)
	report.Archived = archived
	if err != nil {
		return report, err
	}
	return report, nil
}

// reconcileBuy creates the position a journaled buy implies unless a
// position already carries its transaction.
func (r *Reconciler) reconcileBuy(ctx context.Context, entry domain.JournalEntry) (bool, error) {
	if _, err := r.positions.GetByBuyTxRef(ctx, entry.ChainID, entry.Receipt.TxRef); err == nil {
		return false, nil
	} else if !errors.Is(err, domain.ErrPositionNotFound) {
		return false, err
	}

	pos, err := r.positions.Create(ctx, domain.CreatePositionParams{
		TokenAddress:      entry.TokenAddress,
		ChainID:           entry.ChainID,
		Symbol:            entry.Symbol,
		CoinID:            entry.CoinID,
		BuyPriceUSD:       entry.BuyPriceUSD,
		AmountToken:       entry.TokenAmount,
		AmountUSDInvested: entry.AmountUSDInvested,
		BuyTxRef:          entry.Receipt.TxRef,
	})
	if err != nil {
		// An OPEN position from another buy holds the pair; the tokens from
		// this swap need manual attention, so the entry stays pending.
		return false, fmt.Errorf("recover buy %s: %w", entry.Receipt.TxRef, err)
	}

	detail := positionDetail(pos)
	detail["journal_id"] = entry.ID
	detail["kind"] = string(entry.Kind)
	r.events.emit(ctx, domain.EventPositionReconciled, detail)
	r.logger.InfoContext(ctx, "recovered position from journaled buy",
		slog.String("position_id", pos.ID),
		slog.String("tx", entry.Receipt.TxRef),
	)
	return true, nil
}

// reconcileSell applies a journaled sell to its position if still OPEN.
func (r *Reconciler) reconcileSell(ctx context.Context, entry domain.JournalEntry) (bool, error) {
	pos, err := r.positions.GetByID(ctx, entry.PositionID)
	if err != nil {
		return false, err
	}
	if !pos.IsOpen() {
		if pos.SellTxRef != entry.Receipt.TxRef {
			return false, fmt.Errorf("position %s closed by %s, journal has %s",
				pos.ID, pos.SellTxRef, entry.Receipt.TxRef)
		}
		return false, nil
	}

	closedAt := entry.Receipt.ConfirmedAt
	if closedAt.IsZero() {
		closedAt = entry.CreatedAt
	}
	closed, err := r.positions.Close(ctx, pos.ID, domain.CloseFields{
		SellTxRef:     entry.Receipt.TxRef,
		PnL:           entry.PnL,
		PnLPercentage: entry.PnLPercentage,
		ClosedAt:      closedAt,
	})
	if err != nil {
		return false, fmt.Errorf("recover sell %s: %w", entry.Receipt.TxRef, err)
	}

	detail := positionDetail(closed)
	detail["journal_id"] = entry.ID
	detail["kind"] = string(entry.Kind)
	r.events.emit(ctx, domain.EventPositionReconciled, detail)
	r.logger.InfoContext(ctx, "recovered close from journaled sell",
		slog.String("position_id", closed.ID),
		slog.String("tx", entry.Receipt.TxRef),
	)
	return true, nil
}

// archive ships settled entries past the retention window to cold storage and
// drops them locally. Without an archiver entries are kept.
func (r *Reconciler) archive(ctx context.Context) (int, error) {
	if r.archiver == nil {
		return 0, nil
	}
	before := time.Now().UTC().Add(-r.cfg.ArchiveAfter)
	if n, err := r.archiver.ArchivePositions(ctx, before); err != nil {
		r.logger.WarnContext(ctx, "archive positions failed", slog.String("error", err.Error()))
	} else if n > 0 {
		r.logger.InfoContext(ctx, "archived closed positions", slog.Int64("count", n))
	}

	old, err := r.journal.SettledBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("reconciler: list settled: %w", err)
	}
	if len(old) == 0 {
		return 0, nil
	}
	if _, err := r.archiver.ArchiveReceipts(ctx, before); err != nil {
		return 0, fmt.Errorf("reconciler: archive receipts: %w", err)
	}
	removed := 0
	for _, e := range old {
		if err := r.journal.Remove(ctx, e.ID); err != nil {
			r.logger.WarnContext(ctx, "remove archived entry failed",
				slog.String("journal_id", e.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		removed++
	}
	return removed, nil
}
