package application

import (
	"context"
	"time"

	billing "estate-billing/internal/billing/domain"
	"estate-billing/internal/eventing"
)

// EventTypeChargesCalculated is published after a persisted charge run.
const EventTypeChargesCalculated = "billing.charges_calculated"

// ChargesCalculated summarises a persisted charge run.
type ChargesCalculated struct {
	RunID          string    `json:"run_id"`
	Period         string    `json:"period"`
	Units          []string  `json:"units"`
	TotalDue       int64     `json:"total_due"`
	MissingTariffs int       `json:"missing_tariffs"`
	OccurredAt     time.Time `json:"occurred_at"`
}

func (ChargesCalculated) EventType() string { return EventTypeChargesCalculated }

func (e ChargesCalculated) EventPeriod() string { return e.Period }

// EventPublisher publishes domain events.
type EventPublisher interface {
	Publish(ctx context.Context, event eventing.Event) error
}

func newChargesCalculated(runID string, period billing.Period, records []billing.ChargeRecord, at time.Time) ChargesCalculated {
	event := ChargesCalculated{
		RunID:      runID,
		Period:     period.String(),
		Units:      make([]string, 0, len(records)),
		OccurredAt: at,
	}
	for _, record := range records {
		event.Units = append(event.Units, record.UnitID)
		event.TotalDue += record.TotalDue
		event.MissingTariffs += len(record.MissingTariffs)
	}
	return event
}
