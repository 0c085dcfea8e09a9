package notify

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/profitfloor/internal/domain"
)

const (
	// EventAutoSell is the event type of PositionClosed messages.
	EventAutoSell = "auto_sell"
	// EventFloorReached is the event type of FloorReached messages.
	EventFloorReached = "floor_reached"
)

func chainLabel(chainName string, chainID int64) string {
	if chainName == "" {
		return fmt.Sprintf("Chain %d", chainID)
	}
	return chainName
}

func symbolLabel(symbol string) string {
	if symbol == "" {
		return "N/A"
	}
	return symbol
}

// PositionClosed builds the alert sent after the refresher sells a position.
// sellPrice is the per-token price that triggered the sell.
func PositionClosed(chainName string, pos domain.Position, sellPrice decimal.Decimal) Message {
	chainName = chainLabel(chainName, pos.ChainID)
	symbol := symbolLabel(pos.Symbol)
	pnl := pos.PnL.Decimal
	sign := ""
	if pnl.Sign() >= 0 {
		sign = "+"
	}
	pct := "N/A"
	if pos.PnLPercentage.Valid {
		pct = sign + pos.PnLPercentage.Decimal.StringFixed(2) + "%"
	}

	return Message{
		Event: EventAutoSell,
		Title: "AUTO-SELL EXECUTED",
		Fields: []Field{
			{Label: "Position ID", Value: pos.ID},
			{Label: "Token", Value: symbol},
			{Label: "Address", Value: pos.TokenAddress, Code: true},
			{Label: "Chain", Value: chainName},
			{Label: "Invested", Value: "$" + pos.AmountUSDInvested.StringFixed(2)},
			{Label: "Buy Price", Value: "$" + pos.BuyPriceUSD.StringFixed(8)},
			{Label: "Sell Price", Value: "$" + sellPrice.StringFixed(8)},
			{Label: "Highest Price", Value: "$" + pos.HighestPriceEver.StringFixed(8)},
			{Label: "PnL", Value: fmt.Sprintf("%s$%s (%s)", sign, pnl.StringFixed(2), pct)},
			{Label: "TX", Value: pos.SellTxRef, Code: true},
		},
		Footer:   "Sold automatically by profit floor logic",
		Positive: pnl.Sign() >= 0,
	}
}

// FloorReached builds the alert for an open position whose value fell to its
// profit floor while auto-sell is off.
func FloorReached(chainName string, pos domain.Position, price decimal.Decimal) Message {
	value := pos.ValueAt(price)
	return Message{
		Event: EventFloorReached,
		Title: "PROFIT FLOOR REACHED",
		Fields: []Field{
			{Label: "Position ID", Value: pos.ID},
			{Label: "Token", Value: symbolLabel(pos.Symbol)},
			{Label: "Address", Value: pos.TokenAddress, Code: true},
			{Label: "Chain", Value: chainLabel(chainName, pos.ChainID)},
			{Label: "Invested", Value: "$" + pos.AmountUSDInvested.StringFixed(2)},
			{Label: "Current Price", Value: "$" + price.StringFixed(8)},
			{Label: "Highest Price", Value: "$" + pos.HighestPriceEver.StringFixed(8)},
			{Label: "Value", Value: "$" + value.StringFixed(2)},
			{Label: "Profit Floor", Value: "$" + pos.ProfitFloor.Decimal.StringFixed(2)},
		},
		Footer:   "Auto-sell is off; the position stays open",
		Positive: value.GreaterThanOrEqual(pos.AmountUSDInvested),
	}
}
