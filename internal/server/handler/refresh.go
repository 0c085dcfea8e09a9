package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/profitfloor/internal/service"
)

// Refresher triggers price-refresh cycles on demand.
type Refresher interface {
	RefreshAll(ctx context.Context, chainID *int64) (service.CycleReport, error)
	RefreshOne(ctx context.Context, positionID string) (service.Outcome, error)
}

// RefreshHandler serves the manual refresh endpoints.
type RefreshHandler struct {
	refresher Refresher
	logger    *slog.Logger
}

// NewRefreshHandler creates a RefreshHandler.
func NewRefreshHandler(refresher Refresher, logger *slog.Logger) *RefreshHandler {
	return &RefreshHandler{refresher: refresher, logger: logger}
}

// RefreshAll runs one cycle now. A cycle already running returns 409.
// POST /api/refresh?chain_id=56
func (h *RefreshHandler) RefreshAll(w http.ResponseWriter, r *http.Request) {
	chainID, err := optionalChainID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	report, err := h.refresher.RefreshAll(r.Context(), chainID)
	if err != nil {
		writeServiceError(w, r, h.logger, "refresh", err)
		return
	}
	if report.Outcomes == nil {
		report.Outcomes = []service.Outcome{}
	}
	writeJSON(w, http.StatusOK, report)
}

// RefreshOne re-prices a single position and sells it if its floor is hit.
// POST /api/positions/{id}/refresh
func (h *RefreshHandler) RefreshOne(w http.ResponseWriter, r *http.Request) {
	out, err := h.refresher.RefreshOne(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, "refresh position", err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}
