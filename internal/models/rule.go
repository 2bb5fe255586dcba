package models

import "time"

// Notification target types.
const (
	TargetSlack   = "slack"
	TargetDiscord = "discord"
	TargetGeneric = "generic"
)

// NotificationRule maps an action (or a whole source) to an outbound
// delivery target. Rules are created and edited through the configuration
// API and read by the dispatcher on every stored event.
type NotificationRule struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Source    Source    `json:"source,omitempty"` // empty matches any source
	Action    string    `json:"action,omitempty"` // empty matches any action
	Target    string    `json:"target"`           // slack | discord | generic
	TargetURL string    `json:"target_url"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Matches reports whether the rule applies to the given event.
// A rule with neither source nor action set matches nothing; that keeps a
// half-filled rule from alerting on every event.
func (r *NotificationRule) Matches(e *Event) bool {
	if !r.Enabled {
		return false
	}
	if r.Source == "" && r.Action == "" {
		return false
	}
	if r.Source != "" && r.Source != e.Source {
		return false
	}
	if r.Action != "" && r.Action != e.Action {
		return false
	}
	return true
}

// CreateRuleRequest is the API request for creating a notification rule.
type CreateRuleRequest struct {
	Name      string `json:"name"`
	Source    Source `json:"source,omitempty"`
	Action    string `json:"action,omitempty"`
	Target    string `json:"target"`
	TargetURL string `json:"target_url"`
	Enabled   *bool  `json:"enabled,omitempty"`
}

// UpdateRuleRequest is the API request for updating a notification rule.
// Nil fields are left unchanged.
type UpdateRuleRequest struct {
	Name      *string `json:"name,omitempty"`
	Source    *Source `json:"source,omitempty"`
	Action    *string `json:"action,omitempty"`
	Target    *string `json:"target,omitempty"`
	TargetURL *string `json:"target_url,omitempty"`
	Enabled   *bool   `json:"enabled,omitempty"`
}
