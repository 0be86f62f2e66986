package eventing

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Event is a domain event that can be written to the outbox.
type Event interface {
	EventType() string
}

// PeriodEvent is implemented by events scoped to a billing period.
type PeriodEvent interface {
	EventPeriod() string
}

// Envelope wraps event payload with metadata.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	OccurredAt    time.Time       `json:"occurred_at"`
	CorrelationID string          `json:"correlation_id"`
	TenantID      string          `json:"tenant_id"`
	Period        string          `json:"period,omitempty"`
	SchemaVersion int             `json:"schema_version"`
	Payload       json.RawMessage `json:"payload"`
}

// Meta provides envelope overrides.
type Meta struct {
	EventID       string
	OccurredAt    time.Time
	CorrelationID string
	TenantID      string
	SchemaVersion int
}

// ErrNilEvent is returned when an envelope is built from nothing.
var ErrNilEvent = errors.New("eventing: nil event")

// NewEventID generates a random event identifier.
func NewEventID() string {
	return "evt-" + uuid.NewString()
}

// BuildEnvelope constructs an envelope from event payload and metadata.
func BuildEnvelope(event Event, meta Meta) (Envelope, error) {
	if event == nil {
		return Envelope{}, ErrNilEvent
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return Envelope{}, err
	}

	env := Envelope{
		EventID:       meta.EventID,
		EventType:     event.EventType(),
		OccurredAt:    meta.OccurredAt,
		CorrelationID: meta.CorrelationID,
		TenantID:      meta.TenantID,
		SchemaVersion: meta.SchemaVersion,
		Payload:       payload,
	}
	if p, ok := event.(PeriodEvent); ok {
		env.Period = p.EventPeriod()
	}
	if env.EventID == "" {
		env.EventID = NewEventID()
	}
	if env.CorrelationID == "" {
		env.CorrelationID = env.EventID
	}
	if env.OccurredAt.IsZero() {
		env.OccurredAt = time.Now()
	}
	env.OccurredAt = env.OccurredAt.UTC()
	if env.SchemaVersion == 0 {
		env.SchemaVersion = 1
	}
	return env, nil
}

// Decode unmarshals the payload into target.
func (e Envelope) Decode(target any) error {
	if len(e.Payload) == 0 {
		return errors.New("eventing: empty payload")
	}
	return json.Unmarshal(e.Payload, target)
}
