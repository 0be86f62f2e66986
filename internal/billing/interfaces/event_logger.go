package interfaces

import (
	"context"
	"log"

	"estate-billing/internal/billing/application"
	"estate-billing/internal/eventing"
)

// LogChargesCalculated returns an outbox consumer that logs charge run events.
func LogChargesCalculated(logger *log.Logger) eventing.Handler {
	if logger == nil {
		logger = log.Default()
	}
	return func(_ context.Context, env eventing.Envelope) error {
		var event application.ChargesCalculated
		if err := env.Decode(&event); err != nil {
			return err
		}
		logger.Printf("event=charges_calculated event_id=%s tenant_id=%s run_id=%s period=%s units=%d total_due=%d missing_tariffs=%d",
			env.EventID, env.TenantID, event.RunID, event.Period, len(event.Units), event.TotalDue, event.MissingTariffs)
		return nil
	}
}
