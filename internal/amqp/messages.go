package amqp

import (
	"encoding/json"
	"errors"
	"fmt"

	"mockdash/internal/core"
)

// EventMessage is the wire form of a core.DashboardEvent.
type EventMessage struct {
	core.DashboardEvent
}

func NewEventMessage(ev core.DashboardEvent) *EventMessage {
	return &EventMessage{DashboardEvent: ev}
}

func (m *EventMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// EventMessageFromJSON decodes and validates a message body.
func EventMessageFromJSON(data []byte) (*EventMessage, error) {
	var msg EventMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.ID == "" {
		return nil, errors.New("event message without id")
	}
	if !msg.Type.IsValid() {
		return nil, fmt.Errorf("unknown event type %q", msg.Type)
	}
	return &msg, nil
}
