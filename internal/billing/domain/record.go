package billing

import (
	"fmt"
	"strings"
)

// ChargeRecord is the itemised charge of one unit for one period.
type ChargeRecord struct {
	Period         Period        `json:"period"`
	UnitID         string        `json:"unit_id"`
	OwnerName      string        `json:"owner_name"`
	OwnerPhone     string        `json:"owner_phone"`
	OwnerEmail     string        `json:"owner_email"`
	AreaM2         float64       `json:"area_m2"`
	Service        FeeLine       `json:"service"`
	Parking        FeeLine       `json:"parking"`
	Water          FeeLine       `json:"water"`
	Vehicles       VehicleCounts `json:"vehicles"`
	WaterUsageM3   float64       `json:"water_usage_m3"`
	Adjustments    int64         `json:"adjustments"`
	TotalDue       int64         `json:"total_due"`
	MissingTariffs []string      `json:"missing_tariffs,omitempty"`
}

// Key returns the storage key {period}_{unitId}.
func (r ChargeRecord) Key() string { return RecordKey(r.Period, r.UnitID) }

// RecordKey builds the storage key for a unit and period.
func RecordKey(period Period, unitID string) string {
	return period.String() + "_" + unitID
}

// ParseRecordKey splits a storage key into period and unit id.
func ParseRecordKey(key string) (Period, string, error) {
	raw, unitID, ok := strings.Cut(key, "_")
	if !ok || unitID == "" {
		return Period{}, "", fmt.Errorf("%w: %q", ErrInvalidRecordKey, key)
	}
	period, err := ParsePeriod(raw)
	if err != nil {
		return Period{}, "", fmt.Errorf("%w: %q", ErrInvalidRecordKey, key)
	}
	return period, unitID, nil
}

// ComponentTotal sums the gross fee lines.
func (r ChargeRecord) ComponentTotal() int64 {
	return r.Service.Gross + r.Parking.Gross + r.Water.Gross
}
