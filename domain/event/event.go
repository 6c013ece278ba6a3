// Package event defines the append-only domain events, their typed
// payloads, and the registry mapping event type names to decoders.
package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opensciencearchive/server/infrastructure/errors"
)

// Event is an immutable, append-only record. The payload is a
// self-contained snapshot so consumers never need cross-domain reads.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Type      string          `json:"type"`
	CreatedAt time.Time       `json:"created_at"`
	Payload   json.RawMessage `json:"payload"`
}

// Payload is implemented by every event payload type.
type Payload interface {
	EventType() string
}

// registry maps event type names to payload decoders. Populated by
// Register calls at package init; the set is closed at process start.
var registry = map[string]func() Payload{}

// Register adds an event type to the registry. Call from init only;
// duplicate registration panics because it is a programming error.
func Register(name string, factory func() Payload) {
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("event type registered twice: %s", name))
	}
	registry[name] = factory
}

// Registered reports whether the event type name is known.
func Registered(name string) bool {
	_, ok := registry[name]
	return ok
}

// New builds an event envelope around a payload. The id is a fresh UUID
// and created_at is the current UTC time.
func New(payload Payload) (Event, error) {
	return NewAt(payload, time.Now().UTC())
}

// NewAt builds an event envelope with an explicit creation time.
func NewAt(payload Payload, createdAt time.Time) (Event, error) {
	if !Registered(payload.EventType()) {
		return Event{}, errors.Validation(fmt.Sprintf("unregistered event type: %s", payload.EventType()))
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, errors.Internal("marshal event payload", err)
	}
	// V7 ids are time-ordered, so claiming deliveries in event-id order
	// is append order.
	id, err := uuid.NewV7()
	if err != nil {
		return Event{}, errors.Internal("generate event id", err)
	}
	return Event{
		ID:        id,
		Type:      payload.EventType(),
		CreatedAt: createdAt.UTC(),
		Payload:   raw,
	}, nil
}

// Decode unmarshals the envelope payload into its registered type.
func Decode(e Event) (Payload, error) {
	factory, ok := registry[e.Type]
	if !ok {
		return nil, errors.Validation(fmt.Sprintf("unregistered event type: %s", e.Type))
	}
	payload := factory()
	if err := json.Unmarshal(e.Payload, payload); err != nil {
		return nil, errors.Internal(fmt.Sprintf("decode %s payload", e.Type), err)
	}
	return payload, nil
}

// DecodeAs unmarshals the envelope payload into a caller-supplied value,
// checking the envelope type name first.
func DecodeAs[P Payload](e Event, into P) error {
	if e.Type != into.EventType() {
		return errors.Validation(fmt.Sprintf("event type mismatch: envelope %s, target %s", e.Type, into.EventType()))
	}
	if err := json.Unmarshal(e.Payload, into); err != nil {
		return errors.Internal(fmt.Sprintf("decode %s payload", e.Type), err)
	}
	return nil
}
