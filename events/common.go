package events

import (
	"encoding/json"

	nanoid "github.com/matoous/go-nanoid/v2"
)

// BaseEvent carries the fields every realtime event has.
type BaseEvent struct {
	EventID string `json:"event_id,omitempty"`
	Type    string `json:"type"`
}

func NewBaseEvent(eventType string) BaseEvent {
	id, err := nanoid.New()
	if err != nil {
		panic(err)
	}
	return BaseEvent{
		EventID: id,
		Type:    eventType,
	}
}

func Parse[T any](data []byte) (*T, error) {
	var x T
	if err := json.Unmarshal(data, &x); err != nil {
		return nil, err
	}
	return &x, nil
}

// TypeOf returns the type discriminator of a raw event. An empty string means
// the payload has no usable type.
func TypeOf(data []byte) (string, error) {
	var x struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &x); err != nil {
		return "", err
	}
	return x.Type, nil
}
