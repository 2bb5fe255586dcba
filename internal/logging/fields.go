package logging

import "log/slog"

// Common field names for consistent logging across components.
const (
	FieldSource   = "source"
	FieldEventID  = "event_id"
	FieldExternal = "external_id"
	FieldAction   = "action"
	FieldLocation = "location"
	FieldActor    = "actor"
	FieldGroupID  = "group_id"
	FieldRuleID   = "rule_id"
	FieldTarget   = "target"
	FieldAttempt  = "attempt"
	FieldError    = "error"
)

// Service returns a slog attribute naming the emitting component.
func Service(name string) slog.Attr {
	return slog.String("service", name)
}

// Source returns a slog attribute for the event source.
func Source(s string) slog.Attr {
	return slog.String(FieldSource, s)
}

// EventID returns a slog attribute for the canonical event ID.
func EventID(id string) slog.Attr {
	return slog.String(FieldEventID, id)
}

// ExternalID returns a slog attribute for the source-provided event ID.
func ExternalID(id string) slog.Attr {
	return slog.String(FieldExternal, id)
}

// Action returns a slog attribute for the normalized action tag.
func Action(a string) slog.Attr {
	return slog.String(FieldAction, a)
}

// Location returns a slog attribute for the door/camera name.
func Location(l string) slog.Attr {
	return slog.String(FieldLocation, l)
}

// GroupID returns a slog attribute for a correlation group ID.
func GroupID(id string) slog.Attr {
	return slog.String(FieldGroupID, id)
}

// RuleID returns a slog attribute for a notification rule ID.
func RuleID(id string) slog.Attr {
	return slog.String(FieldRuleID, id)
}

// Target returns a slog attribute for a notification target type.
func Target(t string) slog.Attr {
	return slog.String(FieldTarget, t)
}

// Attempt returns a slog attribute for a delivery attempt number.
func Attempt(n int) slog.Attr {
	return slog.Int(FieldAttempt, n)
}

// Error returns a slog attribute for an error.
func Error(err error) slog.Attr {
	return slog.String(FieldError, err.Error())
}
