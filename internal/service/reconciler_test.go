package service

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/profitfloor/internal/domain"
)

type recordingArchiver struct {
	positions []time.Time
	receipts  []time.Time
}

func (a *recordingArchiver) ArchivePositions(_ context.Context, before time.Time) (int64, error) {
	a.positions = append(a.positions, before)
	return 0, nil
}

func (a *recordingArchiver) ArchiveReceipts(_ context.Context, before time.Time) (int64, error) {
	a.receipts = append(a.receipts, before)
	return 1, nil
}

func buyEntry(id, tok, tx string) domain.JournalEntry {
	return domain.JournalEntry{
		ID:           id,
		Kind:         domain.JournalKindBuy,
		ChainID:      testChain.ID,
		TokenAddress: tok,
		Receipt: domain.SwapReceipt{
			TxRef:     tx,
			ChainID:   testChain.ID,
			Path:      []string{"native", tok},
			AmountIn:  big.NewInt(1),
			AmountOut: big.NewInt(1),
		},
		TokenAmount:       d("1"),
		BuyPriceUSD:       d("10"),
		AmountUSDInvested: d("10"),
	}
}

func TestReconcile_BuyAlreadyRecordedIsSettled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	bought := h.buy(t, token(1), d("10"))

	require.NoError(t, h.journal.Append(ctx, buyEntry("dup", token(1), bought.TxRef)))

	report, err := h.reconciler().Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Settled)
	assert.Zero(t, report.Recovered)

	open, err := h.store.ListOpen(ctx, nil)
	require.NoError(t, err)
	assert.Len(t, open, 1)
}

// A journaled buy for a pair that another position holds stays pending.
func TestReconcile_BuyConflictStaysPending(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.buy(t, token(2), d("10"))

	require.NoError(t, h.journal.Append(ctx, buyEntry("orphan", token(2), "0xother")))

	report, err := h.reconciler().Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)

	pending, err := h.journal.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "orphan", pending[0].ID)
}

func TestReconcile_SellClosedByOtherTxFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	tok := token(3)
	bought := h.buy(t, tok, d("10"))
	_, err := h.trades.Sell(ctx, bought.PositionID, 0)
	require.NoError(t, err)

	require.NoError(t, h.journal.Append(ctx, domain.JournalEntry{
		ID:           "stale-sell",
		Kind:         domain.JournalKindSell,
		ChainID:      testChain.ID,
		TokenAddress: tok,
		PositionID:   bought.PositionID,
		Receipt:      domain.SwapReceipt{TxRef: "0xdifferent"},
	}))

	report, err := h.reconciler().Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failed)
}

func TestReconcile_ArchivesSettledEntries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.buy(t, token(4), d("10"))

	arch := &recordingArchiver{}
	r := NewReconciler(h.store, h.journal, arch, nil, nil, ReconcilerConfig{}, discardLogger())
	// Cutoff in the future so the entry settled a moment ago qualifies.
	r.cfg.ArchiveAfter = -time.Hour

	report, err := r.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Archived)
	assert.Len(t, arch.positions, 1)
	assert.Len(t, arch.receipts, 1)

	left, err := h.journal.SettledBefore(ctx, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, left)
}
