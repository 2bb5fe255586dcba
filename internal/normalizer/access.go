package normalizer

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/gatehawk-security/gatehawk/internal/models"
)

// accessActionMap is the allow-list mapping from door-controller event codes
// to normalized action tags. Codes outside the list map to "unknown" and the
// event is stored anyway.
var accessActionMap = map[string]string{
	"access.logs.add":       models.ActionAccessGranted,
	"access.logs.denied":    models.ActionAccessDenied,
	"access.door.unlock":    models.ActionDoorUnlocked,
	"access.door.open":      models.ActionDoorOpened,
	"access.door.close":     models.ActionDoorClosed,
	"access.door.held_open": models.ActionDoorHeldOpen,
}

// accessEnvelope covers both webhook shapes the door controller sends:
//
//	{"event": "access.logs.add", "data": {...}}
//	{"type": "access.logs.add", "data": {...}, "timestamp": ...}
type accessEnvelope struct {
	Event     string      `json:"event"`
	Type      string      `json:"type"`
	Timestamp epochMillis `json:"timestamp"`
	Data      *accessData `json:"data"`
}

type accessData struct {
	ID        string      `json:"id"`
	Timestamp epochMillis `json:"timestamp"`
	Actor     *accessActor `json:"actor"`
	ActorID   string      `json:"actor_id"`
	UserID    string      `json:"user_id"`
	Door      *accessDoor `json:"door"`
	DoorName  string      `json:"door_name"`
	Location  string      `json:"location"`
}

type accessActor struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
}

type accessDoor struct {
	Name string `json:"name"`
}

// Access normalizes door-access webhook payloads.
type Access struct{}

// NewAccess creates the access-source normalizer.
func NewAccess() *Access {
	return &Access{}
}

func (a *Access) Source() models.Source {
	return models.SourceAccess
}

// Normalize maps a raw access payload to a canonical Event. It fails only
// when the external id or timestamp is absent; all other fields default.
func (a *Access) Normalize(raw json.RawMessage) (*models.Event, error) {
	var env accessEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	data := env.Data
	if data == nil {
		// Flat payload without a data wrapper.
		data = &accessData{}
		if err := json.Unmarshal(raw, data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
	}

	if data.ID == "" {
		return nil, fmt.Errorf("%w: missing event id", ErrMalformedPayload)
	}

	ts := data.Timestamp
	if !ts.set {
		ts = env.Timestamp
	}
	if !ts.set {
		return nil, fmt.Errorf("%w: missing timestamp", ErrMalformedPayload)
	}

	rawAction := env.Event
	if rawAction == "" {
		rawAction = env.Type
	}
	action, ok := accessActionMap[rawAction]
	if !ok {
		action = models.ActionUnknown
	}

	actorID := data.ActorID
	if actorID == "" {
		actorID = data.UserID
	}
	var actorName string
	if data.Actor != nil {
		if data.Actor.ID != "" {
			actorID = data.Actor.ID
		}
		actorName = data.Actor.DisplayName
		if actorName == "" {
			actorName = strings.TrimSpace(data.Actor.FirstName + " " + data.Actor.LastName)
		}
	}

	location := data.Location
	if data.DoorName != "" {
		location = data.DoorName
	}
	if data.Door != nil && data.Door.Name != "" {
		location = data.Door.Name
	}

	return &models.Event{
		Source:     models.SourceAccess,
		ExternalID: data.ID,
		Action:     action,
		RawAction:  rawAction,
		OccurredAt: ts.Time(),
		ActorID:    optString(actorID),
		ActorName:  optString(actorName),
		Location:   location,
		RawPayload: raw,
	}, nil
}
