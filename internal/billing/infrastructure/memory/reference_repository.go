package memory

import (
	"context"
	"sort"
	"sync"

	"estate-billing/internal/billing/application"
	billing "estate-billing/internal/billing/domain"
)

// ReferenceRepository is an in-memory reference data store.
type ReferenceRepository struct {
	mu          sync.RWMutex
	units       map[string]billing.Unit
	owners      map[string]billing.Owner
	vehicles    []billing.Vehicle
	readings    []billing.WaterReading
	adjustments []billing.Adjustment
	tariffs     billing.TariffSnapshot
}

// NewReferenceRepository constructs an empty repository.
func NewReferenceRepository() *ReferenceRepository {
	return &ReferenceRepository{
		units:  make(map[string]billing.Unit),
		owners: make(map[string]billing.Owner),
	}
}

// PutUnit stores or replaces a unit.
func (r *ReferenceRepository) PutUnit(unit billing.Unit) {
	r.mu.Lock()
	r.units[unit.ID] = unit
	r.mu.Unlock()
}

// PutOwner stores or replaces an owner.
func (r *ReferenceRepository) PutOwner(owner billing.Owner) {
	r.mu.Lock()
	r.owners[owner.ID] = owner
	r.mu.Unlock()
}

// AddVehicle registers a vehicle.
func (r *ReferenceRepository) AddVehicle(vehicle billing.Vehicle) {
	r.mu.Lock()
	r.vehicles = append(r.vehicles, vehicle)
	r.mu.Unlock()
}

// AddWaterReading records a reading.
func (r *ReferenceRepository) AddWaterReading(reading billing.WaterReading) {
	r.mu.Lock()
	r.readings = append(r.readings, reading)
	r.mu.Unlock()
}

// AddAdjustment records an adjustment.
func (r *ReferenceRepository) AddAdjustment(adjustment billing.Adjustment) {
	r.mu.Lock()
	r.adjustments = append(r.adjustments, adjustment)
	r.mu.Unlock()
}

// SetTariffs replaces the tariff snapshot.
func (r *ReferenceRepository) SetTariffs(snapshot billing.TariffSnapshot) {
	r.mu.Lock()
	r.tariffs = snapshot
	r.mu.Unlock()
}

// LoadSnapshot returns the period's reference data, units ordered by id.
func (r *ReferenceRepository) LoadSnapshot(_ context.Context, period billing.Period, unitIDs []string) (application.ReferenceSnapshot, error) {
	if period.IsZero() {
		return application.ReferenceSnapshot{}, billing.ErrEmptyPeriod
	}
	var filter map[string]struct{}
	if len(unitIDs) > 0 {
		filter = make(map[string]struct{}, len(unitIDs))
		for _, id := range unitIDs {
			filter[id] = struct{}{}
		}
	}
	wanted := func(unitID string) bool {
		if filter == nil {
			return true
		}
		_, ok := filter[unitID]
		return ok
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	snapshot := application.ReferenceSnapshot{
		Owners:  make(map[string]billing.Owner),
		Tariffs: r.tariffs,
	}
	for id, unit := range r.units {
		if !wanted(id) {
			continue
		}
		snapshot.Units = append(snapshot.Units, unit)
		if owner, ok := r.owners[unit.OwnerID]; ok {
			snapshot.Owners[owner.ID] = owner
		}
	}
	sort.Slice(snapshot.Units, func(i, j int) bool { return snapshot.Units[i].ID < snapshot.Units[j].ID })

	for _, v := range r.vehicles {
		if wanted(v.UnitID) {
			snapshot.Vehicles = append(snapshot.Vehicles, v)
		}
	}
	for _, w := range r.readings {
		if w.Period == period && wanted(w.UnitID) {
			snapshot.WaterReadings = append(snapshot.WaterReadings, w)
		}
	}
	for _, a := range r.adjustments {
		if a.Period == period && wanted(a.UnitID) {
			snapshot.Adjustments = append(snapshot.Adjustments, a)
		}
	}
	return snapshot, nil
}
