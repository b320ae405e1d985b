package models

import (
	"encoding/json"
	"fmt"
	"slices"
	"time"
)

// Event is a single occurrence reported by agent-facing business logic.
// Events are built, dispatched and discarded; nothing here persists them.
type Event struct {
	Type      EventType
	AgentID   string
	Timestamp time.Time
	Data      json.RawMessage
}

// NewEvent builds an event stamped with the current UTC time. The payload is
// marshalled immediately so later mutation by the caller cannot leak into
// deliveries that are still in flight.
func NewEvent(eventType EventType, agentID string, payload any) (*Event, error) {
	data, err := marshalPayload(payload)
	if err != nil {
		return nil, err
	}
	return &Event{
		Type:      eventType,
		AgentID:   agentID,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}, nil
}

// Envelope is the wire form of an event. Field order is fixed by the struct,
// so the marshalled bytes are canonical for a given event.
type Envelope struct {
	Event     EventType       `json:"event"`
	AgentID   string          `json:"agentId"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// Envelope returns the wire form of the event.
func (e *Event) Envelope() Envelope {
	data := e.Data
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	return Envelope{
		Event:     e.Type,
		AgentID:   e.AgentID,
		Timestamp: e.Timestamp,
		Data:      data,
	}
}

// Body serialises the envelope. The returned bytes are what gets signed and sent.
func (e *Event) Body() ([]byte, error) {
	b, err := json.Marshal(e.Envelope())
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return b, nil
}

func marshalPayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return json.RawMessage("null"), nil
	case json.RawMessage:
		if !json.Valid(p) {
			return nil, fmt.Errorf("payload is not valid JSON")
		}
		return slices.Clone(p), nil
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return nil, fmt.Errorf("marshal payload: %w", err)
		}
		return b, nil
	}
}
