package swap

import (
	"context"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/profitfloor/internal/domain"
)

func TestMinAmountOut(t *testing.T) {
	tests := []struct {
		expected int64
		bps      int
		want     int64
	}{
		{1000, 500, 950},
		{1000, 1, 999},
		{999, 500, 949}, // rounds down
		{0, 500, 0},
	}
	for _, tt := range tests {
		got := MinAmountOut(big.NewInt(tt.expected), tt.bps)
		assert.Equal(t, tt.want, got.Int64(), "expected=%d bps=%d", tt.expected, tt.bps)
	}
}

func TestValidateSlippage(t *testing.T) {
	assert.NoError(t, ValidateSlippage(DefaultSlippageBps))
	assert.NoError(t, ValidateSlippage(1))
	assert.NoError(t, ValidateSlippage(9999))
	assert.ErrorIs(t, ValidateSlippage(0), domain.ErrInvalidSlippage)
	assert.ErrorIs(t, ValidateSlippage(10000), domain.ErrInvalidSlippage)
	assert.ErrorIs(t, ValidateSlippage(-5), domain.ErrInvalidSlippage)
}

func TestUnitsConversion(t *testing.T) {
	units := ToUnits(decimal.RequireFromString("1.5"), 18)
	assert.Equal(t, "1500000000000000000", units.String())

	units = ToUnits(decimal.RequireFromString("0.0000001"), 6)
	assert.Equal(t, "0", units.String(), "excess precision truncates")

	back := FromUnits(big.NewInt(123456789), 9)
	assert.True(t, back.Equal(decimal.RequireFromString("0.123456789")))
	assert.True(t, FromUnits(nil, 18).IsZero())
}

type nopProvider struct{ chain int64 }

func (n nopProvider) ChainID() int64        { return n.chain }
func (n nopProvider) WalletAddress() string { return "wallet" }
func (n nopProvider) Quote(context.Context, string, string, *big.Int) (Quote, error) {
	return Quote{}, domain.ErrNoRoute
}
func (n nopProvider) Swap(context.Context, SwapRequest) (domain.SwapReceipt, error) {
	return domain.SwapReceipt{}, nil
}
func (n nopProvider) EnsureAllowance(context.Context, string, *big.Int) (string, error) {
	return "", nil
}
func (n nopProvider) Decimals(context.Context, string) uint8 { return DefaultDecimals }
func (n nopProvider) BalanceOf(context.Context, string) (*big.Int, error) {
	return big.NewInt(0), nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(domain.Chain{ID: 56, Name: "BSC"}, nopProvider{chain: 56}))
	require.NoError(t, r.Register(domain.Chain{ID: 999, Name: "Solana"}, nopProvider{chain: 999}))
	assert.Error(t, r.Register(domain.Chain{ID: 56}, nopProvider{chain: 56}))
	assert.Error(t, r.Register(domain.Chain{ID: 1}, nopProvider{chain: 56}))

	p, err := r.Provider(56)
	require.NoError(t, err)
	assert.Equal(t, int64(56), p.ChainID())

	_, err = r.Provider(137)
	assert.ErrorIs(t, err, domain.ErrUnsupportedChain)

	c, err := r.Chain(999)
	require.NoError(t, err)
	assert.Equal(t, "Solana", c.Name)
	assert.Equal(t, []int64{56, 999}, r.ChainIDs())
}

func TestRegistry_ChainWithoutProvider(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.AddChain(domain.Chain{ID: 56, Name: "BSC"}))
	assert.Error(t, r.AddChain(domain.Chain{ID: 56}))
	assert.Error(t, r.Register(domain.Chain{ID: 56}, nopProvider{chain: 56}))

	c, err := r.Chain(56)
	require.NoError(t, err)
	assert.Equal(t, "BSC", c.Name)

	_, err = r.Provider(56)
	assert.ErrorIs(t, err, domain.ErrUnsupportedChain)
	assert.Empty(t, r.ChainIDs())
}
