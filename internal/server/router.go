// Package server wires the HTTP routes.
package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gatehawk-security/gatehawk/internal/handlers"
	"github.com/gatehawk-security/gatehawk/internal/middleware"
	"github.com/gatehawk-security/gatehawk/internal/models"
)

// NewRouter constructs a ServeMux with all gatehawk routes registered.
func NewRouter(h *handlers.Handler) http.Handler {
	mux := http.NewServeMux()

	// Inbound webhooks, one endpoint per source
	mux.HandleFunc("/webhooks/access", h.Webhook(models.SourceAccess))
	mux.HandleFunc("/webhooks/protect", h.Webhook(models.SourceProtect))

	// Query API
	mux.HandleFunc("/api/v1/events", h.Events)
	mux.HandleFunc("/api/v1/events/", h.EventByID)
	mux.HandleFunc("/api/v1/summary", h.Summary)
	mux.HandleFunc("/api/v1/correlations", h.Correlations)

	// Notification rules
	mux.HandleFunc("/api/v1/rules", h.Rules)
	mux.HandleFunc("/api/v1/rules/", h.RuleByID)

	// Health endpoints
	mux.HandleFunc("/healthz", h.Health)
	mux.HandleFunc("/readyz", h.Ready)

	// Prometheus metrics
	mux.Handle("/metrics", promhttp.Handler())

	return middleware.RequestID(mux)
}
