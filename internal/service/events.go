package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/profitfloor/internal/domain"
)

// emitter publishes position events on the signal bus and writes the audit
// log. Both sinks are optional and their failures are only logged.
type emitter struct {
	bus    domain.SignalBus
	audit  domain.AuditStore
	logger *slog.Logger
}

// emit publishes the event and records it in the audit log.
func (e emitter) emit(ctx context.Context, event string, detail map[string]any) {
	e.publish(ctx, event, detail)
	if e.audit != nil {
		if err := e.audit.Log(ctx, event, detail); err != nil {
			e.logger.WarnContext(ctx, "audit log failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
}

// publish sends the event on the bus only.
func (e emitter) publish(ctx context.Context, event string, detail map[string]any) {
	if e.bus != nil {
		payload := make(map[string]any, len(detail)+2)
		for k, v := range detail {
			payload[k] = v
		}
		payload["event"] = event
		payload["timestamp"] = time.Now().UTC().Format(time.RFC3339)
		evt, _ := json.Marshal(payload)

		if err := e.bus.Publish(ctx, domain.ChannelPositions, evt); err != nil {
			e.logger.WarnContext(ctx, "publish event failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
		if err := e.bus.StreamAppend(ctx, domain.StreamPositions, evt); err != nil {
			e.logger.WarnContext(ctx, "stream append failed",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}
}

func positionDetail(p domain.Position) map[string]any {
	d := map[string]any{
		"position_id":         p.ID,
		"token_address":       p.TokenAddress,
		"chain_id":            p.ChainID,
		"status":              string(p.Status),
		"buy_price_usd":       p.BuyPriceUSD.String(),
		"highest_price_ever":  p.HighestPriceEver.String(),
		"amount_token":        p.AmountToken.String(),
		"amount_usd_invested": p.AmountUSDInvested.String(),
		"buy_tx_ref":          p.BuyTxRef,
	}
	if p.Symbol != "" {
		d["symbol"] = p.Symbol
	}
	if p.CurrentPriceUSD.Valid {
		d["current_price_usd"] = p.CurrentPriceUSD.Decimal.String()
	}
	if p.ProfitFloor.Valid {
		d["profit_floor"] = p.ProfitFloor.Decimal.String()
	}
	if p.SellTxRef != "" {
		d["sell_tx_ref"] = p.SellTxRef
	}
	if p.PnL.Valid {
		d["pnl"] = p.PnL.Decimal.String()
	}
	if p.PnLPercentage.Valid {
		d["pnl_percentage"] = p.PnLPercentage.Decimal.String()
	}
	return d
}

// retry runs fn up to attempts times with linear backoff, stopping early on
// success, on ctx cancellation, or when fatal reports the error as final.
func retry(ctx context.Context, attempts int, delay time.Duration, fatal func(error) bool, fn func() error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(i) * delay):
			}
		}
		if err = fn(); err == nil || fatal(err) {
			return err
		}
	}
	return err
}
