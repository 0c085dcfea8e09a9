package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/profitfloor/internal/service"
)

// WalletReader reports hot-wallet balances.
type WalletReader interface {
	WalletBalance(ctx context.Context, chainID int64) (service.WalletBalance, error)
}

// WalletHandler serves GET /api/wallet/{chain_id}.
type WalletHandler struct {
	wallets WalletReader
	logger  *slog.Logger
}

func NewWalletHandler(wallets WalletReader, logger *slog.Logger) *WalletHandler {
	return &WalletHandler{wallets: wallets, logger: logger}
}

func (h *WalletHandler) Balance(w http.ResponseWriter, r *http.Request) {
	chainID, err := chainIDParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bal, err := h.wallets.WalletBalance(r.Context(), chainID)
	if err != nil {
		writeServiceError(w, r, h.logger, "wallet balance", err)
		return
	}
	writeJSON(w, http.StatusOK, bal)
}
