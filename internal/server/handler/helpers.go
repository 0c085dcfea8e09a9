package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/profitfloor/internal/domain"
)

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 16

// writeJSON marshals v as JSON and writes it with the given status. If
// marshaling fails it falls back to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrAlreadyOpen), errors.Is(err, domain.ErrAlreadyClosed),
		errors.Is(err, domain.ErrRefreshInProgress):
		return http.StatusConflict
	case errors.Is(err, domain.ErrPositionNotFound), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrNoPrice), errors.Is(err, domain.ErrNoRoute),
		errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrUnsupportedChain), errors.Is(err, domain.ErrInvalidSlippage):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrSwapReverted):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrTimeout):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

// writeServiceError logs server-side failures and writes the mapped status.
// Client errors carry the wrapped message; 500s do not leak internals.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "handler: "+op+" failed",
			slog.Int("status", status),
			slog.String("error", err.Error()),
		)
	}
	if status == http.StatusInternalServerError {
		writeError(w, status, op+" failed")
		return
	}
	writeError(w, status, err.Error())
}

// decodeJSON reads a bounded JSON body into v, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// parseListOpts extracts pagination parameters from the query string.
// Defaults: limit=50 (max 500), offset=0.
func parseListOpts(r *http.Request) domain.ListOpts {
	q := r.URL.Query()

	limit := 50
	if n, err := strconv.Atoi(q.Get("limit")); err == nil && n > 0 {
		limit = min(n, 500)
	}
	offset := 0
	if n, err := strconv.Atoi(q.Get("offset")); err == nil && n >= 0 {
		offset = n
	}
	return domain.ListOpts{Limit: limit, Offset: offset}
}

// optionalChainID parses the chain_id query parameter. Absent means all chains.
func optionalChainID(r *http.Request) (*int64, error) {
	v := r.URL.Query().Get("chain_id")
	if v == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return nil, fmt.Errorf("invalid chain_id %q", v)
	}
	return &id, nil
}

// chainIDParam parses the {chain_id} path segment.
func chainIDParam(r *http.Request) (int64, error) {
	v := r.PathValue("chain_id")
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid chain_id %q", v)
	}
	return id, nil
}
