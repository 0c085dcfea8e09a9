package swap

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/profitfloor/internal/domain"
)

const (
	// DefaultDecimals is assumed whenever token metadata cannot be read.
	DefaultDecimals uint8 = 18
	// DefaultSlippageBps is 5%.
	DefaultSlippageBps = 500
	maxBps             = 10000
)

// ValidateSlippage rejects tolerances outside (0, 10000) bps.
func ValidateSlippage(bps int) error {
	if bps <= 0 || bps >= maxBps {
		return fmt.Errorf("swap: slippage %d bps: %w", bps, domain.ErrInvalidSlippage)
	}
	return nil
}

// MinAmountOut returns expected * (1 - bps/10000), rounded down.
func MinAmountOut(expected *big.Int, bps int) *big.Int {
	out := new(big.Int).Mul(expected, big.NewInt(int64(maxBps-bps)))
	return out.Quo(out, big.NewInt(maxBps))
}

// ToUnits scales a decimal amount to an integer of the given decimals,
// truncating any excess precision.
func ToUnits(amount decimal.Decimal, decimals uint8) *big.Int {
	return amount.Shift(int32(decimals)).Truncate(0).BigInt()
}

// FromUnits converts an integer amount back to a decimal.
func FromUnits(units *big.Int, decimals uint8) decimal.Decimal {
	if units == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(units, -int32(decimals))
}
