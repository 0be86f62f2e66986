package application

import (
	"context"
	"time"

	billing "estate-billing/internal/billing/domain"
)

// ReferenceSnapshot is everything a charge run reads for one period.
type ReferenceSnapshot struct {
	Units         []billing.Unit
	Owners        map[string]billing.Owner
	Vehicles      []billing.Vehicle
	WaterReadings []billing.WaterReading
	Adjustments   []billing.Adjustment
	Tariffs       billing.TariffSnapshot
}

// ReferenceLoader loads the reference snapshot for a period. An empty
// unitIDs loads every unit.
type ReferenceLoader interface {
	LoadSnapshot(ctx context.Context, period billing.Period, unitIDs []string) (ReferenceSnapshot, error)
}

// TariffSource supplies tariffs that replace the snapshot's own.
type TariffSource interface {
	Tariffs(ctx context.Context, period billing.Period) (billing.TariffSnapshot, error)
}

// ChargeStore persists charge records keyed by {period}_{unitId}.
type ChargeStore interface {
	SaveAll(ctx context.Context, runID string, records []billing.ChargeRecord) error
	ListByPeriod(ctx context.Context, period billing.Period) ([]billing.ChargeRecord, error)
	GetByKey(ctx context.Context, key string) (*billing.ChargeRecord, error)
}

// Transactor runs fn so that every store write made with its ctx commits
// together or not at all.
type Transactor interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now().UTC() }
