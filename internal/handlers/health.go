package handlers

import (
	"net/http"

	"github.com/gatehawk-security/gatehawk/internal/httputil"
)

// Health handles GET /healthz. It reports process liveness only.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// Ready handles GET /readyz. It fails when the event store is unreachable.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if err := h.repo.Ping(r.Context()); err != nil {
		httputil.WriteJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "event store unreachable",
		})
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
