package billing

import "time"

// VehicleType tags a registered vehicle.
type VehicleType string

const (
	VehicleCar        VehicleType = "car"
	VehicleCompactCar VehicleType = "compact-car"
	VehicleMotorbike  VehicleType = "motorbike"
	VehicleEBike      VehicleType = "e-bike"
	VehicleBicycle    VehicleType = "bicycle"
)

// SlotStatus is the parking slot assignment of a vehicle.
type SlotStatus string

const (
	SlotPrimary    SlotStatus = "Primary"
	SlotSecondary  SlotStatus = "Secondary"
	SlotWaitlisted SlotStatus = "Waitlisted"
	SlotNone       SlotStatus = ""
)

// Vehicle is a vehicle registered against a unit.
type Vehicle struct {
	ID         string      `json:"id"`
	UnitID     string      `json:"unit_id"`
	Type       VehicleType `json:"type"`
	Active     bool        `json:"active"`
	StartDate  time.Time   `json:"start_date"`
	SlotStatus SlotStatus  `json:"slot_status,omitempty"`
}

// Billable reports whether the vehicle is charged for the period: it must be
// active, registered on or before the period's last day, and hold a slot.
// A vehicle without a registration date is never billable.
func (v Vehicle) Billable(period Period) bool {
	if !v.Active || v.SlotStatus == SlotWaitlisted {
		return false
	}
	if v.StartDate.IsZero() {
		return false
	}
	year, month, day := v.StartDate.Date()
	registered := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	return !registered.After(period.LastDay())
}

// IsTwoWheeler reports whether the vehicle is priced in the motorbike bucket.
func (v Vehicle) IsTwoWheeler() bool {
	return v.Type == VehicleMotorbike || v.Type == VehicleEBike
}
