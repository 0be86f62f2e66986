package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"estate-billing/internal/billing/application"
	billing "estate-billing/internal/billing/domain"

	"github.com/shopspring/decimal"
)

// ReferenceRepository loads billing reference data from Postgres.
type ReferenceRepository struct {
	db       DBTX
	tenantID string
}

// NewReferenceRepository constructs a repository.
func NewReferenceRepository(db DBTX, opts ...RepositoryOption) *ReferenceRepository {
	o := buildOptions(opts)
	return &ReferenceRepository{db: db, tenantID: o.tenantID}
}

// LoadSnapshot reads units, owners, vehicles, readings, adjustments and
// tariffs for the period. Tariff rows are validated on the way in.
func (r *ReferenceRepository) LoadSnapshot(ctx context.Context, period billing.Period, unitIDs []string) (application.ReferenceSnapshot, error) {
	var snapshot application.ReferenceSnapshot
	if r == nil || r.db == nil {
		return snapshot, errNilDB
	}
	if r.tenantID == "" {
		return snapshot, errEmptyTenant
	}
	if period.IsZero() {
		return snapshot, billing.ErrEmptyPeriod
	}
	filter := unitFilter(unitIDs)

	var err error
	if snapshot.Units, err = r.loadUnits(ctx, filter); err != nil {
		return snapshot, fmt.Errorf("units: %w", err)
	}
	if snapshot.Owners, err = r.loadOwners(ctx, filter); err != nil {
		return snapshot, fmt.Errorf("owners: %w", err)
	}
	if snapshot.Vehicles, err = r.loadVehicles(ctx, filter); err != nil {
		return snapshot, fmt.Errorf("vehicles: %w", err)
	}
	if snapshot.WaterReadings, err = r.loadReadings(ctx, period, filter); err != nil {
		return snapshot, fmt.Errorf("water readings: %w", err)
	}
	if snapshot.Adjustments, err = r.loadAdjustments(ctx, period, filter); err != nil {
		return snapshot, fmt.Errorf("adjustments: %w", err)
	}
	if snapshot.Tariffs, err = r.LoadTariffs(ctx); err != nil {
		return snapshot, fmt.Errorf("tariffs: %w", err)
	}
	return snapshot, nil
}

func (r *ReferenceRepository) loadUnits(ctx context.Context, filter any) ([]billing.Unit, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, owner_id, classification, area_m2::float8, occupancy
FROM units
WHERE tenant_id = $1 AND ($2::text[] IS NULL OR id = ANY($2))
ORDER BY id`, r.tenantID, filter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var units []billing.Unit
	for rows.Next() {
		var unit billing.Unit
		var classification, occupancy string
		if err := rows.Scan(&unit.ID, &unit.OwnerID, &classification, &unit.AreaM2, &occupancy); err != nil {
			return nil, err
		}
		unit.Classification = billing.Classification(classification)
		unit.Occupancy = billing.Occupancy(occupancy)
		units = append(units, unit)
	}
	return units, rows.Err()
}

func (r *ReferenceRepository) loadOwners(ctx context.Context, filter any) (map[string]billing.Owner, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT o.id, o.name, COALESCE(o.phone, ''), COALESCE(o.email, '')
FROM owners o
WHERE o.tenant_id = $1 AND EXISTS (
	SELECT 1 FROM units u
	WHERE u.tenant_id = o.tenant_id AND u.owner_id = o.id AND ($2::text[] IS NULL OR u.id = ANY($2))
)`, r.tenantID, filter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	owners := make(map[string]billing.Owner)
	for rows.Next() {
		var owner billing.Owner
		if err := rows.Scan(&owner.ID, &owner.Name, &owner.Phone, &owner.Email); err != nil {
			return nil, err
		}
		owners[owner.ID] = owner
	}
	return owners, rows.Err()
}

func (r *ReferenceRepository) loadVehicles(ctx context.Context, filter any) ([]billing.Vehicle, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, unit_id, vehicle_type, active, start_date, COALESCE(slot_status, '')
FROM vehicles
WHERE tenant_id = $1 AND ($2::text[] IS NULL OR unit_id = ANY($2))
ORDER BY unit_id, id`, r.tenantID, filter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var vehicles []billing.Vehicle
	for rows.Next() {
		var v billing.Vehicle
		var vehicleType, slot string
		var start sql.NullTime
		if err := rows.Scan(&v.ID, &v.UnitID, &vehicleType, &v.Active, &start, &slot); err != nil {
			return nil, err
		}
		v.Type = billing.VehicleType(vehicleType)
		v.SlotStatus = billing.SlotStatus(slot)
		if start.Valid {
			v.StartDate = start.Time.UTC()
		}
		vehicles = append(vehicles, v)
	}
	return vehicles, rows.Err()
}

func (r *ReferenceRepository) loadReadings(ctx context.Context, period billing.Period, filter any) ([]billing.WaterReading, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT unit_id, usage_m3::float8
FROM water_readings
WHERE tenant_id = $1 AND period = $2 AND ($3::text[] IS NULL OR unit_id = ANY($3))
ORDER BY unit_id`, r.tenantID, period.String(), filter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var readings []billing.WaterReading
	for rows.Next() {
		reading := billing.WaterReading{Period: period}
		if err := rows.Scan(&reading.UnitID, &reading.UsageM3); err != nil {
			return nil, err
		}
		readings = append(readings, reading)
	}
	return readings, rows.Err()
}

func (r *ReferenceRepository) loadAdjustments(ctx context.Context, period billing.Period, filter any) ([]billing.Adjustment, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, unit_id, amount, COALESCE(description, '')
FROM adjustments
WHERE tenant_id = $1 AND period = $2 AND ($3::text[] IS NULL OR unit_id = ANY($3))
ORDER BY unit_id, id`, r.tenantID, period.String(), filter)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var adjustments []billing.Adjustment
	for rows.Next() {
		a := billing.Adjustment{Period: period}
		if err := rows.Scan(&a.ID, &a.UnitID, &a.Amount, &a.Description); err != nil {
			return nil, err
		}
		adjustments = append(adjustments, a)
	}
	return adjustments, rows.Err()
}

// LoadTariffs reads every tariff row of the tenant, newest first.
func (r *ReferenceRepository) LoadTariffs(ctx context.Context) (billing.TariffSnapshot, error) {
	var tariffs []billing.Tariff

	rows, err := r.db.QueryContext(ctx, `
SELECT id, service_key, fee_per_m2, vat_percent, valid_from, valid_to
FROM tariff_service
WHERE tenant_id = $1
ORDER BY created_at DESC, id`, r.tenantID)
	if err != nil {
		return billing.TariffSnapshot{}, err
	}
	for rows.Next() {
		var t billing.ServiceTariff
		var key string
		var from, to sql.NullTime
		if err := rows.Scan(&t.ID, &key, &t.FeePerM2, &t.VATPercent, &from, &to); err != nil {
			rows.Close()
			return billing.TariffSnapshot{}, err
		}
		t.Key = billing.ServiceKey(key)
		t.Validity = validity(from, to)
		tariffs = append(tariffs, t)
	}
	if err := closeRows(rows); err != nil {
		return billing.TariffSnapshot{}, err
	}

	rows, err = r.db.QueryContext(ctx, `
SELECT id, tier, price_per_unit, vat_percent, valid_from, valid_to
FROM tariff_parking
WHERE tenant_id = $1
ORDER BY created_at DESC, id`, r.tenantID)
	if err != nil {
		return billing.TariffSnapshot{}, err
	}
	for rows.Next() {
		var t billing.ParkingTariff
		var tier string
		var from, to sql.NullTime
		if err := rows.Scan(&t.ID, &tier, &t.PricePerUnit, &t.VATPercent, &from, &to); err != nil {
			rows.Close()
			return billing.TariffSnapshot{}, err
		}
		t.Tier = billing.ParkingTier(tier)
		t.Validity = validity(from, to)
		tariffs = append(tariffs, t)
	}
	if err := closeRows(rows); err != nil {
		return billing.TariffSnapshot{}, err
	}

	rows, err = r.db.QueryContext(ctx, `
SELECT id, segment, from_m3, to_m3, unit_price, vat_percent, valid_from, valid_to
FROM tariff_water
WHERE tenant_id = $1
ORDER BY created_at DESC, id`, r.tenantID)
	if err != nil {
		return billing.TariffSnapshot{}, err
	}
	for rows.Next() {
		var t billing.WaterTariff
		var segment string
		var upper decimal.NullDecimal
		var from, to sql.NullTime
		if err := rows.Scan(&t.ID, &segment, &t.FromM3, &upper, &t.UnitPrice, &t.VATPercent, &from, &to); err != nil {
			rows.Close()
			return billing.TariffSnapshot{}, err
		}
		t.Segment = billing.WaterSegment(segment)
		if upper.Valid {
			value := upper.Decimal
			t.ToM3 = &value
		}
		t.Validity = validity(from, to)
		tariffs = append(tariffs, t)
	}
	if err := closeRows(rows); err != nil {
		return billing.TariffSnapshot{}, err
	}

	return billing.NewTariffSnapshot(tariffs...)
}

// Tariffs adapts the repository to application.TariffSource.
func (r *ReferenceRepository) Tariffs(ctx context.Context, _ billing.Period) (billing.TariffSnapshot, error) {
	return r.LoadTariffs(ctx)
}

func validity(from, to sql.NullTime) billing.Validity {
	var v billing.Validity
	if from.Valid {
		v.From = dateOnly(from.Time)
	}
	if to.Valid {
		end := dateOnly(to.Time)
		v.To = &end
	}
	return v
}

func dateOnly(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	return rows.Close()
}
