package models

import (
	"encoding/json"
	"time"
)

// Source identifies which upstream system produced an event.
type Source string

const (
	SourceAccess  Source = "access"  // door controller
	SourceProtect Source = "protect" // camera NVR
)

// Valid returns true for a known event source.
func (s Source) Valid() bool {
	return s == SourceAccess || s == SourceProtect
}

// Normalized action tags. Unrecognized upstream codes map to ActionUnknown
// and are stored anyway.
const (
	ActionAccessGranted   = "access_granted"
	ActionAccessDenied    = "access_denied"
	ActionDoorUnlocked    = "door_unlocked"
	ActionDoorOpened      = "door_opened"
	ActionDoorClosed      = "door_closed"
	ActionDoorHeldOpen    = "door_held_open"
	ActionMotion          = "motion"
	ActionPersonDetected  = "person_detected"
	ActionVehicleDetected = "vehicle_detected"
	ActionDoorbellRing    = "doorbell_ring"
	ActionRecording       = "recording_event"
	ActionUnknown         = "unknown"
)

// Event is the canonical record of one physical-security occurrence,
// normalized from a source-specific webhook payload.
type Event struct {
	ID                 string          `json:"id"`
	Source             Source          `json:"source"`
	ExternalID         string          `json:"external_id"` // unique per source, dedup key
	Action             string          `json:"action"`
	RawAction          string          `json:"raw_action,omitempty"` // original code from the source
	OccurredAt         time.Time       `json:"occurred_at"`
	ReceivedAt         time.Time       `json:"received_at"`
	ActorID            *string         `json:"actor_id,omitempty"`
	ActorName          *string         `json:"actor_name,omitempty"`
	Location           string          `json:"location"`
	RawPayload         json.RawMessage `json:"raw_payload,omitempty"`
	Ignored            bool            `json:"ignored"`
	CorrelationGroupID *string         `json:"correlation_group_id,omitempty"`
}

// ActorLabel returns the best available human-readable actor identifier.
func (e *Event) ActorLabel() string {
	if e.ActorName != nil && *e.ActorName != "" {
		return *e.ActorName
	}
	if e.ActorID != nil && *e.ActorID != "" {
		return *e.ActorID
	}
	return "Unknown"
}

// CorrelationGroup is a set of events from different sources at the same
// location that occurred within one correlation window.
type CorrelationGroup struct {
	ID          string    `json:"id"`
	Location    string    `json:"location"`
	WindowStart time.Time `json:"window_start"`
	WindowEnd   time.Time `json:"window_end"`
	CreatedAt   time.Time `json:"created_at"`
	EventIDs    []string  `json:"event_ids"`
	Events      []*Event  `json:"events,omitempty"` // resolved members, listing only
}

// EventFilter selects events for the query API. String filters are substring
// matches; Since is inclusive, Until exclusive.
type EventFilter struct {
	Source   Source     `json:"source,omitempty"`
	Action   string     `json:"action,omitempty"`
	Actor    string     `json:"actor,omitempty"`
	Location string     `json:"location,omitempty"`
	Since    *time.Time `json:"since,omitempty"`
	Until    *time.Time `json:"until,omitempty"`
	Ignored  *bool      `json:"ignored,omitempty"`
	Limit    int        `json:"limit,omitempty"`
	Offset   int        `json:"offset,omitempty"`
}

// EventListResponse is the paginated result of an event query.
type EventListResponse struct {
	Total  int      `json:"total"`
	Limit  int      `json:"limit"`
	Offset int      `json:"offset"`
	Events []*Event `json:"events"`
}

// ActionCount is one row of the summary action breakdown.
type ActionCount struct {
	Source Source `json:"source"`
	Action string `json:"action"`
	Count  int    `json:"count"`
}

// ActorCount is one row of the summary top-actors listing.
type ActorCount struct {
	ActorID   string `json:"actor_id"`
	ActorName string `json:"actor_name,omitempty"`
	Count     int    `json:"count"`
}

// Summary aggregates the last 24 hours of stored events.
type Summary struct {
	Totals    map[Source]int `json:"totals_24h"`
	Breakdown []ActionCount  `json:"breakdown"`
	TopActors []ActorCount   `json:"top_actors"`
	Recent    []*Event       `json:"recent_events"`
}
