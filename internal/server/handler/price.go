package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/profitfloor/internal/marketdata"
)

// PriceReader returns the last observed price without calling upstream.
type PriceReader interface {
	LastObserved(ctx context.Context, chainID int64, token string) (marketdata.PriceQuote, error)
}

// PriceHandler serves GET /api/prices/{chain_id}/{token}.
type PriceHandler struct {
	prices PriceReader
	logger *slog.Logger
}

func NewPriceHandler(prices PriceReader, logger *slog.Logger) *PriceHandler {
	return &PriceHandler{prices: prices, logger: logger}
}

func (h *PriceHandler) LastObserved(w http.ResponseWriter, r *http.Request) {
	chainID, err := chainIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	token := r.PathValue("token")
	q, err := h.prices.LastObserved(r.Context(), chainID, token)
	if err != nil {
		writeServiceError(w, r, h.logger, "last price", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"chain_id":      chainID,
		"token_address": token,
		"price_usd":     q.PriceUSD,
		"observed_at":   q.ObservedAt,
	})
}
