// Package normalizer converts source-specific webhook payloads into
// canonical events.
package normalizer

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/gatehawk-security/gatehawk/internal/models"
)

// ErrMalformedPayload is returned when a payload is structurally missing a
// required field (external id or timestamp). Optional fields never fail
// normalization; they default to empty.
var ErrMalformedPayload = errors.New("malformed payload")

// ErrUnknownSource is returned when no normalizer is registered for a source.
var ErrUnknownSource = errors.New("unknown event source")

// Normalizer converts one source's raw payload into a canonical Event.
// Implementations are pure: no I/O, no clock reads beyond ReceivedAt stamping
// done by the caller.
type Normalizer interface {
	Source() models.Source
	Normalize(raw json.RawMessage) (*models.Event, error)
}

// Registry holds normalizers keyed by source.
type Registry struct {
	items map[models.Source]Normalizer
}

// NewRegistry constructs a registry with the provided normalizers.
func NewRegistry(items ...Normalizer) *Registry {
	r := &Registry{items: make(map[models.Source]Normalizer, len(items))}
	for _, n := range items {
		r.items[n.Source()] = n
	}
	return r
}

// Find returns the normalizer for the given source.
func (r *Registry) Find(source models.Source) (Normalizer, error) {
	n, ok := r.items[source]
	if !ok {
		return nil, ErrUnknownSource
	}
	return n, nil
}

// epochMillis is a millisecond epoch timestamp that sources encode as either
// a JSON number or a quoted string.
type epochMillis struct {
	ms  int64
	set bool
}

func (t *epochMillis) UnmarshalJSON(data []byte) error {
	data = bytes.Trim(data, `"`)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}
	ms, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		// Leave unset; required-field checks surface the failure.
		return nil
	}
	t.ms = ms
	t.set = true
	return nil
}

// Time converts the timestamp to UTC.
func (t epochMillis) Time() time.Time {
	return time.UnixMilli(t.ms).UTC()
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
