package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gatehawk-security/gatehawk/internal/httputil"
	"github.com/gatehawk-security/gatehawk/internal/models"
	"github.com/gatehawk-security/gatehawk/internal/repository"
)

// Events handles GET /api/v1/events.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w, http.MethodGet)
		return
	}

	filter, err := parseEventFilter(r)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	events, total, err := h.repo.QueryEvents(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to query events")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, models.EventListResponse{
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
		Events: events,
	})
}

// EventByID handles /api/v1/events/{id} and /api/v1/events/{id}/ignored.
func (h *Handler) EventByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/events/")

	if id, ok := strings.CutSuffix(path, "/ignored"); ok {
		h.setEventIgnored(w, r, id)
		return
	}

	if path == "" || strings.ContainsRune(path, '/') {
		httputil.WriteError(w, http.StatusBadRequest, "event id must be provided")
		return
	}
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w, http.MethodGet)
		return
	}

	event, err := h.repo.GetEvent(r.Context(), path)
	if err != nil {
		if errors.Is(err, repository.ErrEventNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "event not found")
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, "failed to load event")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, event)
}

// setEventIgnored handles PATCH /api/v1/events/{id}/ignored. Ignored events
// stay queryable but are excluded from summaries and notifications.
func (h *Handler) setEventIgnored(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPatch {
		h.methodNotAllowed(w, http.MethodPatch)
		return
	}
	if id == "" {
		httputil.WriteError(w, http.StatusBadRequest, "event id must be provided")
		return
	}

	var req struct {
		Ignored *bool `json:"ignored"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Ignored == nil {
		httputil.WriteError(w, http.StatusBadRequest, "body must be {\"ignored\": true|false}")
		return
	}

	if err := h.repo.SetEventIgnored(r.Context(), id, *req.Ignored); err != nil {
		if errors.Is(err, repository.ErrEventNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "event not found")
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, "failed to update event")
		return
	}

	event, err := h.repo.GetEvent(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to load event")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, event)
}

// Summary handles GET /api/v1/summary, aggregating the last 24 hours.
func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w, http.MethodGet)
		return
	}

	summary, err := h.repo.Summary(r.Context(), time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to build summary")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, summary)
}

// Correlations handles GET /api/v1/correlations.
func (h *Handler) Correlations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.methodNotAllowed(w, http.MethodGet)
		return
	}

	since, err := parseTimeParam(r, "since")
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	until, err := parseTimeParam(r, "until")
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, _ := httputil.ParseLimitOffset(r, DefaultPageSize, MaxPageSize)

	groups, err := h.repo.ListGroups(r.Context(), since, until, limit)
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list correlation groups")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"total":        len(groups),
		"correlations": groups,
	})
}

func parseEventFilter(r *http.Request) (models.EventFilter, error) {
	q := r.URL.Query()
	filter := models.EventFilter{
		Action:   q.Get("action"),
		Actor:    q.Get("actor"),
		Location: q.Get("location"),
	}

	if src := q.Get("source"); src != "" {
		source := models.Source(src)
		if !source.Valid() {
			return filter, errors.New("source must be 'access' or 'protect'")
		}
		filter.Source = source
	}

	since, err := parseTimeParam(r, "since")
	if err != nil {
		return filter, err
	}
	filter.Since = since

	until, err := parseTimeParam(r, "until")
	if err != nil {
		return filter, err
	}
	filter.Until = until

	if ig := q.Get("ignored"); ig != "" {
		v, err := strconv.ParseBool(ig)
		if err != nil {
			return filter, errors.New("ignored must be a boolean")
		}
		filter.Ignored = &v
	}

	filter.Limit, filter.Offset = httputil.ParseLimitOffset(r, DefaultPageSize, MaxPageSize)
	return filter, nil
}

// parseTimeParam reads an RFC 3339 query parameter, nil when absent.
func parseTimeParam(r *http.Request, name string) (*time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, errors.New(name + " must be RFC 3339")
	}
	t = t.UTC()
	return &t, nil
}
