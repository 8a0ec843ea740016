package push

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrMalformed = errors.New("malformed push frame")

// Event is one push envelope: {"type": ..., ...payload, "timestamp"?: ...}.
// Raw keeps the whole frame so handlers can decode their payload.
type Event struct {
	Type      string
	Timestamp string
	Raw       json.RawMessage
}

// ParseEvent decodes a frame. Frames that are not a JSON object with a non-empty
// string type are malformed.
func ParseEvent(data []byte) (Event, error) {
	var envelope struct {
		Type      *string `json:"type"`
		Timestamp string  `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if envelope.Type == nil || *envelope.Type == "" {
		return Event{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return Event{
		Type:      *envelope.Type,
		Timestamp: envelope.Timestamp,
		Raw:       append(json.RawMessage(nil), data...),
	}, nil
}

// Decode unmarshals the full frame into v.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal(e.Raw, v); err != nil {
		return fmt.Errorf("%w: %s payload: %v", ErrMalformed, e.Type, err)
	}
	return nil
}
