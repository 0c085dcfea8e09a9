package domain

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"
)

// SwapReceipt is the immutable record of one confirmed swap. Amounts are
// fixed-point integers scaled by the decimals of the path's first and last asset.
type SwapReceipt struct {
	TxRef       string    `json:"tx_ref"`
	ChainID     int64     `json:"chain_id"`
	Path        []string  `json:"path"`
	AmountIn    *big.Int  `json:"amount_in"`
	AmountOut   *big.Int  `json:"amount_out"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// JournalKind identifies which position write a journaled receipt belongs to.
type JournalKind string

const (
	JournalKindBuy  JournalKind = "buy"
	JournalKindSell JournalKind = "sell"
)

// JournalState is the lifecycle of a journal entry.
type JournalState string

const (
	JournalStatePending JournalState = "PENDING"
	JournalStateSettled JournalState = "SETTLED"
)

// JournalEntry is a swap receipt logged durably before the position write it
// implies. A PENDING entry whose write never landed is recovered by the
// reconciler.
type JournalEntry struct {
	ID           string       `json:"id"`
	Kind         JournalKind  `json:"kind"`
	State        JournalState `json:"state"`
	ChainID      int64        `json:"chain_id"`
	TokenAddress string       `json:"token_address"`
	Symbol       string       `json:"symbol,omitempty"`
	CoinID       *int64       `json:"coin_id,omitempty"`
	PositionID   string       `json:"position_id,omitempty"`
	Receipt      SwapReceipt  `json:"receipt"`

	// Buy fields.
	TokenAmount       decimal.Decimal `json:"token_amount"`
	BuyPriceUSD       decimal.Decimal `json:"buy_price_usd"`
	AmountUSDInvested decimal.Decimal `json:"amount_usd_invested"`

	// Sell fields.
	ProceedsUSD   decimal.Decimal `json:"proceeds_usd"`
	PnL           decimal.Decimal `json:"pnl"`
	PnLPercentage decimal.Decimal `json:"pnl_percentage"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
	SettledAt *time.Time `json:"settled_at,omitempty"`
}
