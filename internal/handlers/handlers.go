// Package handlers exposes the HTTP surface: webhook ingestion, the
// read-only query API, and notification rule management.
package handlers

import (
	"net/http"
	"strings"

	"github.com/gatehawk-security/gatehawk/internal/httputil"
	"github.com/gatehawk-security/gatehawk/internal/logging"
	"github.com/gatehawk-security/gatehawk/internal/ratelimit"
	"github.com/gatehawk-security/gatehawk/internal/repository"
	"github.com/gatehawk-security/gatehawk/internal/service"
)

// Pagination bounds for list endpoints.
const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Handler carries the dependencies shared by all HTTP handlers.
type Handler struct {
	ingest  *service.IngestService
	repo    repository.Repository
	limiter ratelimit.RateLimiter
	logger  *logging.Logger
}

// New creates the HTTP handler set.
func New(ingest *service.IngestService, repo repository.Repository, limiter ratelimit.RateLimiter, logger *logging.Logger) *Handler {
	if limiter == nil {
		limiter = &ratelimit.NoOpRateLimiter{}
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		ingest:  ingest,
		repo:    repo,
		limiter: limiter,
		logger:  logger,
	}
}

func (h *Handler) methodNotAllowed(w http.ResponseWriter, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	httputil.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
}
