package handler

import (
	"context"
	"net/http"
	"time"
)

// HealthCheck pings one backing service.
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthHandler serves the liveness endpoint.
type HealthHandler struct {
	mode      string
	startedAt time.Time
	checks    []HealthCheck
}

// NewHealthHandler creates a HealthHandler reporting the run mode and the
// state of each check.
func NewHealthHandler(mode string, startedAt time.Time, checks ...HealthCheck) *HealthHandler {
	return &HealthHandler{mode: mode, startedAt: startedAt, checks: checks}
}

// HealthCheck responds with the process status. Any failing check turns the
// status to "degraded" with a 503.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status, code := "ok", http.StatusOK
	results := make(map[string]string, len(h.checks))
	for _, c := range h.checks {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		err := c.Check(ctx)
		cancel()
		if err != nil {
			results[c.Name] = err.Error()
			status, code = "degraded", http.StatusServiceUnavailable
			continue
		}
		results[c.Name] = "ok"
	}

	body := map[string]any{
		"status":         status,
		"mode":           h.mode,
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}
	if len(results) > 0 {
		body["checks"] = results
	}
	writeJSON(w, code, body)
}
