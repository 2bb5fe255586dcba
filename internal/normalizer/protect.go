package normalizer

import (
	"encoding/json"
	"fmt"

	"github.com/gatehawk-security/gatehawk/internal/models"
)

// protectActionMap is the allow-list for camera event types. Smart-detect
// events are refined further by their detect types.
var protectActionMap = map[string]string{
	"ring":      models.ActionDoorbellRing,
	"motion":    models.ActionMotion,
	"recording": models.ActionRecording,
}

// protectEnvelope matches the NVR's websocket-style webhook shape:
//
//	{"type": "smartDetectZone", "data": {"camera": "...", "smartDetectTypes": ["person"], ...}}
type protectEnvelope struct {
	Type      string       `json:"type"`
	Event     string       `json:"event"`
	Timestamp epochMillis  `json:"timestamp"`
	Data      *protectData `json:"data"`
}

type protectData struct {
	ID               string      `json:"id"`
	Start            epochMillis `json:"start"`
	Timestamp        epochMillis `json:"timestamp"`
	Camera           string      `json:"camera"`
	CameraID         string      `json:"cameraId"`
	CameraName       string      `json:"cameraName"`
	CameraNameSnake  string      `json:"camera_name"`
	SmartDetectTypes []string    `json:"smartDetectTypes"`
	Zone             string      `json:"zone"`
}

// Protect normalizes camera/motion webhook payloads.
type Protect struct{}

// NewProtect creates the protect-source normalizer.
func NewProtect() *Protect {
	return &Protect{}
}

func (p *Protect) Source() models.Source {
	return models.SourceProtect
}

// Normalize maps a raw protect payload to a canonical Event. The timestamp
// is taken from data.start, then data.timestamp, then the top-level
// timestamp, all millisecond epochs.
func (p *Protect) Normalize(raw json.RawMessage) (*models.Event, error) {
	var env protectEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	data := env.Data
	if data == nil {
		data = &protectData{}
		if err := json.Unmarshal(raw, data); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
		}
	}

	if data.ID == "" {
		return nil, fmt.Errorf("%w: missing event id", ErrMalformedPayload)
	}

	ts := data.Start
	if !ts.set {
		ts = data.Timestamp
	}
	if !ts.set {
		ts = env.Timestamp
	}
	if !ts.set {
		return nil, fmt.Errorf("%w: missing timestamp", ErrMalformedPayload)
	}

	rawAction := env.Type
	if rawAction == "" {
		rawAction = env.Event
	}

	action := models.ActionUnknown
	if mapped, ok := protectActionMap[rawAction]; ok {
		action = mapped
	}
	for _, dt := range data.SmartDetectTypes {
		switch dt {
		case "person":
			action = models.ActionPersonDetected
		case "vehicle":
			action = models.ActionVehicleDetected
		}
		if action == models.ActionPersonDetected {
			// Person takes precedence over vehicle in mixed detections.
			break
		}
	}

	cameraID := data.Camera
	if cameraID == "" {
		cameraID = data.CameraID
	}
	cameraName := data.CameraName
	if cameraName == "" {
		cameraName = data.CameraNameSnake
	}
	if cameraName == "" {
		cameraName = cameraID
	}

	location := cameraName
	if location == "" {
		location = data.Zone
	}

	return &models.Event{
		Source:     models.SourceProtect,
		ExternalID: data.ID,
		Action:     action,
		RawAction:  rawAction,
		OccurredAt: ts.Time(),
		ActorID:    optString(cameraID),
		ActorName:  optString(cameraName),
		Location:   location,
		RawPayload: raw,
	}, nil
}
