// Package profitfloor computes the trailing sell floor of a position from its
// historical peak value.
//
// All inputs are USD values of the whole position (price x amount), not
// per-token prices.
package profitfloor

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Policy maps a position's peak value and invested amount to a floor value.
// ok is false while the floor is inactive.
type Policy interface {
	Name() string
	Floor(highest, invest decimal.Decimal) (floor decimal.Decimal, ok bool)
}

var (
	two  = decimal.NewFromInt(2)
	five = decimal.NewFromInt(5)
	ten  = decimal.NewFromInt(10)
)

// Relative scales thresholds with the invested amount:
//
//	highest <  5x invest           -> inactive
//	5x invest <= highest < 10x     -> 2x invest
//	highest >= 10x invest          -> floor(highest / 10x invest) * 5x invest
type Relative struct{}

func (Relative) Name() string { return "relative" }

func (Relative) Floor(highest, invest decimal.Decimal) (decimal.Decimal, bool) {
	if !invest.IsPositive() {
		return decimal.Zero, false
	}
	activate := invest.Mul(five)
	band := invest.Mul(ten)
	switch {
	case highest.LessThan(activate):
		return decimal.Zero, false
	case highest.LessThan(band):
		return invest.Mul(two), true
	default:
		steps := highest.Div(band).Floor()
		return steps.Mul(activate), true
	}
}

// Fixed is the legacy absolute-dollar schedule that ignores the invested
// amount: inactive under $50, $20 up to $100, then $50 per $100 band.
type Fixed struct{}

var (
	fixedActivate = decimal.NewFromInt(50)
	fixedBand     = decimal.NewFromInt(100)
	fixedFirst    = decimal.NewFromInt(20)
)

func (Fixed) Name() string { return "fixed" }

func (Fixed) Floor(highest, _ decimal.Decimal) (decimal.Decimal, bool) {
	switch {
	case highest.LessThan(fixedActivate):
		return decimal.Zero, false
	case highest.LessThan(fixedBand):
		return fixedFirst, true
	default:
		return highest.Div(fixedBand).Floor().Mul(fixedActivate), true
	}
}

// ShouldSell reports whether current has retreated to or below the active
// floor derived from highest.
func ShouldSell(p Policy, current, highest, invest decimal.Decimal) bool {
	floor, ok := p.Floor(highest, invest)
	return ok && current.LessThanOrEqual(floor)
}

// ByName returns the policy registered under name. An empty name selects
// Relative.
func ByName(name string) (Policy, error) {
	switch name {
	case "", "relative":
		return Relative{}, nil
	case "fixed":
		return Fixed{}, nil
	default:
		return nil, fmt.Errorf("profitfloor: unknown policy %q", name)
	}
}
