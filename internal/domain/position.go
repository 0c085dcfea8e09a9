package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "OPEN"
	PositionStatusClosed PositionStatus = "CLOSED"
)

// Position represents a single bet on one token. Prices are per-token USD
// prices; ProfitFloor is a USD value for the whole position.
type Position struct {
	ID                string              `json:"id"`
	TokenAddress      string              `json:"token_address"`
	ChainID           int64               `json:"chain_id"`
	Symbol            string              `json:"symbol,omitempty"`
	CoinID            *int64              `json:"coin_id,omitempty"`
	BuyPriceUSD       decimal.Decimal     `json:"buy_price_usd"`
	CurrentPriceUSD   decimal.NullDecimal `json:"current_price_usd"`
	HighestPriceEver  decimal.Decimal     `json:"highest_price_ever"`
	ProfitFloor       decimal.NullDecimal `json:"profit_floor"`
	AmountToken       decimal.Decimal     `json:"amount_token"`
	AmountUSDInvested decimal.Decimal     `json:"amount_usd_invested"`
	Status            PositionStatus      `json:"status"`
	BuyTxRef          string              `json:"buy_tx_ref"`
	SellTxRef         string              `json:"sell_tx_ref,omitempty"`
	PnL               decimal.NullDecimal `json:"pnl"`
	PnLPercentage     decimal.NullDecimal `json:"pnl_percentage"`
	CreatedAt         time.Time           `json:"created_at"`
	UpdatedAt         time.Time           `json:"updated_at"`
	ClosedAt          *time.Time          `json:"closed_at,omitempty"`
}

// IsOpen reports whether the position can still be mutated.
func (p Position) IsOpen() bool {
	return p.Status == PositionStatusOpen
}

// ValueAt returns the USD value of the whole position at the given per-token price.
func (p Position) ValueAt(priceUSD decimal.Decimal) decimal.Decimal {
	return priceUSD.Mul(p.AmountToken)
}

// HighestValue returns the USD value of the position at its historical peak.
func (p Position) HighestValue() decimal.Decimal {
	return p.ValueAt(p.HighestPriceEver)
}

// CreatePositionParams carries the immutable fields captured at buy time.
type CreatePositionParams struct {
	TokenAddress      string
	ChainID           int64
	Symbol            string
	CoinID            *int64
	BuyPriceUSD       decimal.Decimal
	AmountToken       decimal.Decimal
	AmountUSDInvested decimal.Decimal
	BuyTxRef          string
}

// PriceUpdate is the set of fields the refresh loop persists in one write.
type PriceUpdate struct {
	CurrentPriceUSD  decimal.Decimal
	HighestPriceEver decimal.Decimal
	ProfitFloor      decimal.NullDecimal
}

// CloseFields are written together with the OPEN -> CLOSED transition.
type CloseFields struct {
	SellTxRef     string
	PnL           decimal.Decimal
	PnLPercentage decimal.Decimal
	ClosedAt      time.Time
}
