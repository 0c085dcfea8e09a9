package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/profitfloor/internal/domain"
	"github.com/alanyoungcy/profitfloor/internal/service"
)

// TradeService defines what the position handler needs from the trade layer.
type TradeService interface {
	Buy(ctx context.Context, req service.BuyRequest) (service.BuyResult, error)
	Sell(ctx context.Context, positionID string, slippageBps int) (service.SellResult, error)
	SellByToken(ctx context.Context, tokenAddress string, chainID int64, slippageBps int) (service.SellResult, error)
	GetPosition(ctx context.Context, id string) (domain.Position, error)
	GetOpenPositions(ctx context.Context, chainID *int64) ([]domain.Position, error)
	ListHistory(ctx context.Context, opts domain.ListOpts) ([]domain.Position, error)
	AuditTrail(ctx context.Context, id string, opts domain.ListOpts) ([]domain.AuditEntry, error)
}

// PositionHandler serves position endpoints.
type PositionHandler struct {
	trades TradeService
	logger *slog.Logger
}

// NewPositionHandler creates a PositionHandler.
func NewPositionHandler(trades TradeService, logger *slog.Logger) *PositionHandler {
	return &PositionHandler{trades: trades, logger: logger}
}

type listPositionsResponse struct {
	Positions []domain.Position `json:"positions"`
}

// ListOpen returns open positions, optionally for one chain.
// GET /api/positions?chain_id=56
func (h *PositionHandler) ListOpen(w http.ResponseWriter, r *http.Request) {
	chainID, err := optionalChainID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	positions, err := h.trades.GetOpenPositions(r.Context(), chainID)
	if err != nil {
		writeServiceError(w, r, h.logger, "list positions", err)
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// History returns positions of any status, newest first.
// GET /api/positions/history?limit=50&offset=0
func (h *PositionHandler) History(w http.ResponseWriter, r *http.Request) {
	positions, err := h.trades.ListHistory(r.Context(), parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "list history", err)
		return
	}
	if positions == nil {
		positions = []domain.Position{}
	}
	writeJSON(w, http.StatusOK, listPositionsResponse{Positions: positions})
}

// Get returns one position.
// GET /api/positions/{id}
func (h *PositionHandler) Get(w http.ResponseWriter, r *http.Request) {
	pos, err := h.trades.GetPosition(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "get position", err)
		return
	}
	writeJSON(w, http.StatusOK, pos)
}

// Audit returns the audit trail of one position.
// GET /api/positions/{id}/audit
func (h *PositionHandler) Audit(w http.ResponseWriter, r *http.Request) {
	entries, err := h.trades.AuditTrail(r.Context(), r.PathValue("id"), parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, "audit trail", err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

type buyRequest struct {
	TokenAddress string          `json:"token_address"`
	ChainID      int64           `json:"chain_id"`
	AmountUSD    decimal.Decimal `json:"amount_usd"`
	SlippageBps  int             `json:"slippage_bps"`
	Symbol       string          `json:"symbol"`
	CoinID       *int64          `json:"coin_id"`
}

// Buy opens a position. A zero amount uses the configured default and a
// zero chain_id infers the chain from the address format.
// POST /api/positions
func (h *PositionHandler) Buy(w http.ResponseWriter, r *http.Request) {
	var body buyRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.TokenAddress == "" {
		writeError(w, http.StatusBadRequest, "token_address is required")
		return
	}
	if body.AmountUSD.Sign() < 0 {
		writeError(w, http.StatusBadRequest, "amount_usd must not be negative")
		return
	}

	res, err := h.trades.Buy(r.Context(), service.BuyRequest{
		TokenAddress: body.TokenAddress,
		ChainID:      body.ChainID,
		AmountUSD:    body.AmountUSD,
		SlippageBps:  body.SlippageBps,
		Symbol:       body.Symbol,
		CoinID:       body.CoinID,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "buy", err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

type sellRequest struct {
	SlippageBps int `json:"slippage_bps"`
}

// Sell closes a position at market.
// POST /api/positions/{id}/sell
func (h *PositionHandler) Sell(w http.ResponseWriter, r *http.Request) {
	var body sellRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	res, err := h.trades.Sell(r.Context(), r.PathValue("id"), body.SlippageBps)
	if err != nil {
		writeServiceError(w, r, h.logger, "sell", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type sellByTokenRequest struct {
	TokenAddress string `json:"token_address"`
	ChainID      int64  `json:"chain_id"`
	SlippageBps  int    `json:"slippage_bps"`
}

// SellByToken closes the open position for a token.
// POST /api/positions/sell-by-token
func (h *PositionHandler) SellByToken(w http.ResponseWriter, r *http.Request) {
	var body sellByTokenRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.TokenAddress == "" {
		writeError(w, http.StatusBadRequest, "token_address is required")
		return
	}
	res, err := h.trades.SellByToken(r.Context(), body.TokenAddress, body.ChainID, body.SlippageBps)
	if err != nil {
		writeServiceError(w, r, h.logger, "sell by token", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
