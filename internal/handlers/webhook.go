package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gatehawk-security/gatehawk/internal/httputil"
	"github.com/gatehawk-security/gatehawk/internal/logging"
	"github.com/gatehawk-security/gatehawk/internal/models"
	"github.com/gatehawk-security/gatehawk/internal/normalizer"
	"github.com/gatehawk-security/gatehawk/internal/signature"
)

// maxWebhookBody caps inbound webhook bodies at 1 MiB.
const maxWebhookBody = 1 << 20

// Webhook returns the ingestion handler for one source, mounted at
// POST /webhooks/{source}.
//
// Responses: 200 for stored or duplicate payloads, 401 for a failed
// signature check, 422 for payloads that cannot be normalized, 429 when the
// source exceeds its rate budget.
func (h *Handler) Webhook(source models.Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			h.methodNotAllowed(w, http.MethodPost)
			return
		}

		allowed, err := h.limiter.Allow(r.Context(), string(source))
		if err != nil {
			// A broken limiter must not take ingestion down with it.
			h.logger.WarnContext(r.Context(), "rate limiter unavailable, allowing request",
				logging.Source(string(source)), logging.Error(err))
		} else if !allowed {
			httputil.WriteError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}

		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "failed to read request body")
			return
		}
		defer r.Body.Close()

		sigHeader := r.Header.Get(signature.HeaderSignature)
		if sigHeader == "" {
			sigHeader = r.Header.Get(signature.HeaderHubSig256)
		}

		result, err := h.ingest.Ingest(r.Context(), source, body, sigHeader)
		if err != nil {
			switch {
			case errors.Is(err, signature.ErrInvalidSignature):
				h.logger.WarnContext(r.Context(), "webhook signature rejected",
					logging.Source(string(source)), "client_ip", httputil.GetClientIP(r))
				httputil.WriteError(w, http.StatusUnauthorized, "invalid signature")
			case errors.Is(err, normalizer.ErrMalformedPayload):
				httputil.WriteError(w, http.StatusUnprocessableEntity, err.Error())
			default:
				h.logger.ErrorContext(r.Context(), "webhook ingestion failed",
					logging.Source(string(source)), logging.Error(err))
				httputil.WriteError(w, http.StatusInternalServerError, "ingestion failed")
			}
			return
		}

		httputil.WriteJSON(w, http.StatusOK, result)
	}
}
