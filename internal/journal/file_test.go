package journal

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/profitfloor/internal/domain"
)

func buyEntry(id string, at time.Time) domain.JournalEntry {
	return domain.JournalEntry{
		ID:           id,
		Kind:         domain.JournalKindBuy,
		ChainID:      domain.ChainBSC,
		TokenAddress: "0x1111111111111111111111111111111111111111",
		Receipt: domain.SwapReceipt{
			TxRef:     "0xbuy" + id,
			ChainID:   domain.ChainBSC,
			Path:      []string{"native", "0x1111111111111111111111111111111111111111"},
			AmountIn:  big.NewInt(1_000_000),
			AmountOut: big.NewInt(42_000),
		},
		TokenAmount:       decimal.RequireFromString("0.000000000000042"),
		BuyPriceUSD:       decimal.RequireFromString("0.25"),
		AmountUSDInvested: decimal.NewFromInt(10),
		CreatedAt:         at,
	}
}

func TestFileJournal_AppendSettleRemove(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	j, err := NewFileJournal(dir)
	require.NoError(t, err)

	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, j.Append(ctx, buyEntry("b", base.Add(time.Minute))))
	require.NoError(t, j.Append(ctx, buyEntry("a", base)))

	pending, err := j.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "a", pending[0].ID, "oldest first")
	assert.Equal(t, domain.JournalStatePending, pending[0].State)
	assert.Equal(t, "42000", pending[0].Receipt.AmountOut.String())
	assert.True(t, pending[0].AmountUSDInvested.Equal(decimal.NewFromInt(10)))

	info, err := os.Stat(filepath.Join(dir, "a.json"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	err = j.Remove(ctx, "a")
	assert.Error(t, err, "pending entries are kept")

	settleAt := base.Add(time.Hour)
	j.now = func() time.Time { return settleAt }
	require.NoError(t, j.MarkSettled(ctx, "a"))
	require.NoError(t, j.MarkSettled(ctx, "a"))

	pending, err = j.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "b", pending[0].ID)

	old, err := j.SettledBefore(ctx, settleAt.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, old, 1)
	none, err := j.SettledBefore(ctx, settleAt)
	require.NoError(t, err)
	assert.Empty(t, none)

	require.NoError(t, j.Remove(ctx, "a"))
	require.NoError(t, j.Remove(ctx, "a"))
	_, err = os.Stat(filepath.Join(dir, "a.json"))
	assert.True(t, os.IsNotExist(err))
}

func TestFileJournal_Errors(t *testing.T) {
	ctx := context.Background()
	j, err := NewFileJournal(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, j.Append(ctx, buyEntry("x", time.Now())))
	assert.ErrorIs(t, j.Append(ctx, buyEntry("x", time.Now())), domain.ErrAlreadyExists)
	assert.Error(t, j.Append(ctx, buyEntry("../escape", time.Now())))
	assert.ErrorIs(t, j.MarkSettled(ctx, "missing"), domain.ErrNotFound)

	_, err = NewFileJournal("")
	assert.Error(t, err)
}

func TestFileJournal_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	j, err := NewFileJournal(dir)
	require.NoError(t, err)
	require.NoError(t, j.Append(ctx, buyEntry("p", time.Now())))

	// Leftover temp files from a crash mid-write are ignored.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "q.json.tmp"), []byte("{"), 0o600))

	reopened, err := NewFileJournal(dir)
	require.NoError(t, err)
	pending, err := reopened.Pending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "0xbuyp", pending[0].Receipt.TxRef)
}
