package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/gatehawk-security/gatehawk/internal/httputil"
	"github.com/gatehawk-security/gatehawk/internal/models"
	"github.com/gatehawk-security/gatehawk/internal/repository"
)

// Rules handles GET/POST /api/v1/rules.
func (h *Handler) Rules(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listRules(w, r)
	case http.MethodPost:
		h.createRule(w, r)
	default:
		h.methodNotAllowed(w, http.MethodGet, http.MethodPost)
	}
}

func (h *Handler) listRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.repo.ListRules(r.Context())
	if err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to list rules")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"total": len(rules),
		"rules": rules,
	})
}

func (h *Handler) createRule(w http.ResponseWriter, r *http.Request) {
	var req models.CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	rule := &models.NotificationRule{
		Name:      strings.TrimSpace(req.Name),
		Source:    req.Source,
		Action:    req.Action,
		Target:    req.Target,
		TargetURL: req.TargetURL,
		Enabled:   req.Enabled == nil || *req.Enabled,
	}
	if err := validateRule(rule); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.repo.CreateRule(r.Context(), rule); err != nil {
		httputil.WriteError(w, http.StatusInternalServerError, "failed to create rule")
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, rule)
}

// RuleByID handles GET/PUT/DELETE /api/v1/rules/{id}.
func (h *Handler) RuleByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/rules/")
	if id == "" || strings.ContainsRune(id, '/') {
		httputil.WriteError(w, http.StatusBadRequest, "rule id must be provided")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getRule(w, r, id)
	case http.MethodPut:
		h.updateRule(w, r, id)
	case http.MethodDelete:
		h.deleteRule(w, r, id)
	default:
		h.methodNotAllowed(w, http.MethodGet, http.MethodPut, http.MethodDelete)
	}
}

func (h *Handler) getRule(w http.ResponseWriter, r *http.Request, id string) {
	rule, err := h.repo.GetRule(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrRuleNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "rule not found")
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, "failed to load rule")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rule)
}

func (h *Handler) updateRule(w http.ResponseWriter, r *http.Request, id string) {
	rule, err := h.repo.GetRule(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrRuleNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "rule not found")
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, "failed to load rule")
		return
	}

	var req models.UpdateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Name != nil {
		rule.Name = strings.TrimSpace(*req.Name)
	}
	if req.Source != nil {
		rule.Source = *req.Source
	}
	if req.Action != nil {
		rule.Action = *req.Action
	}
	if req.Target != nil {
		rule.Target = *req.Target
	}
	if req.TargetURL != nil {
		rule.TargetURL = *req.TargetURL
	}
	if req.Enabled != nil {
		rule.Enabled = *req.Enabled
	}
	if err := validateRule(rule); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.repo.UpdateRule(r.Context(), rule); err != nil {
		if errors.Is(err, repository.ErrRuleNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "rule not found")
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, "failed to update rule")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rule)
}

func (h *Handler) deleteRule(w http.ResponseWriter, r *http.Request, id string) {
	if err := h.repo.DeleteRule(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrRuleNotFound) {
			httputil.WriteError(w, http.StatusNotFound, "rule not found")
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, "failed to delete rule")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func validateRule(rule *models.NotificationRule) error {
	if rule.Name == "" {
		return errors.New("name is required")
	}
	if rule.Source == "" && rule.Action == "" {
		return errors.New("at least one of source or action is required")
	}
	if rule.Source != "" && !rule.Source.Valid() {
		return errors.New("source must be 'access' or 'protect'")
	}
	switch rule.Target {
	case models.TargetSlack, models.TargetDiscord, models.TargetGeneric:
	default:
		return errors.New("target must be 'slack', 'discord', or 'generic'")
	}
	u, err := url.Parse(rule.TargetURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return errors.New("target_url must be a valid http(s) URL")
	}
	return nil
}
