package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	billing "estate-billing/internal/billing/domain"
	"estate-billing/internal/pgtx"
)

const defaultChargeTable = "charge_records"

// ChargeRepository is a Postgres implementation for charge records.
type ChargeRepository struct {
	db       *sql.DB
	table    string
	tenantID string
	currency string
}

// NewChargeRepository constructs a repository with defaults.
func NewChargeRepository(db *sql.DB, opts ...RepositoryOption) *ChargeRepository {
	o := buildOptions(opts)
	return &ChargeRepository{
		db:       db,
		table:    o.table,
		tenantID: o.tenantID,
		currency: o.currency,
	}
}

const chargeColumns = `period, unit_id, owner_name, owner_phone, owner_email, area_m2,
	service_net, service_vat, service_gross,
	parking_net, parking_vat, parking_gross,
	water_net, water_vat, water_gross,
	cars, compact_cars, two_wheelers, bicycles,
	water_usage_m3, adjustments, total_due, missing_tariffs`

// SaveAll upserts the records in one transaction, keyed by {period}_{unitId}.
// A later run for the same key overwrites the earlier one. A transaction
// already carried by ctx is joined instead of opening a new one.
func (r *ChargeRepository) SaveAll(ctx context.Context, runID string, records []billing.ChargeRecord) error {
	if r == nil || r.db == nil {
		return errNilDB
	}
	if r.tenantID == "" {
		return errEmptyTenant
	}
	if len(records) == 0 {
		return nil
	}

	query := fmt.Sprintf(`
INSERT INTO %s (
	tenant_id, record_key, run_id, currency,
	%s
) VALUES (
	$1, $2, $3, $4,
	$5, $6, $7, $8, $9, $10,
	$11, $12, $13,
	$14, $15, $16,
	$17, $18, $19,
	$20, $21, $22, $23,
	$24, $25, $26, $27
)
ON CONFLICT (tenant_id, record_key)
DO UPDATE SET
	run_id = EXCLUDED.run_id,
	currency = EXCLUDED.currency,
	owner_name = EXCLUDED.owner_name,
	owner_phone = EXCLUDED.owner_phone,
	owner_email = EXCLUDED.owner_email,
	area_m2 = EXCLUDED.area_m2,
	service_net = EXCLUDED.service_net,
	service_vat = EXCLUDED.service_vat,
	service_gross = EXCLUDED.service_gross,
	parking_net = EXCLUDED.parking_net,
	parking_vat = EXCLUDED.parking_vat,
	parking_gross = EXCLUDED.parking_gross,
	water_net = EXCLUDED.water_net,
	water_vat = EXCLUDED.water_vat,
	water_gross = EXCLUDED.water_gross,
	cars = EXCLUDED.cars,
	compact_cars = EXCLUDED.compact_cars,
	two_wheelers = EXCLUDED.two_wheelers,
	bicycles = EXCLUDED.bicycles,
	water_usage_m3 = EXCLUDED.water_usage_m3,
	adjustments = EXCLUDED.adjustments,
	total_due = EXCLUDED.total_due,
	missing_tariffs = EXCLUDED.missing_tariffs,
	version = %s.version + 1,
	updated_at = NOW()`, r.table, chargeColumns, r.table)

	return pgtx.WithinTx(ctx, r.db, func(ctx context.Context) error {
		stmt, err := pgtx.FromContext(ctx).PrepareContext(ctx, query)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, rec := range records {
			if rec.UnitID == "" {
				return billing.ErrEmptyUnitID
			}
			_, err := stmt.ExecContext(ctx,
				r.tenantID, rec.Key(), runID, r.currency,
				rec.Period.String(), rec.UnitID, rec.OwnerName, rec.OwnerPhone, rec.OwnerEmail, rec.AreaM2,
				rec.Service.Net, rec.Service.VAT, rec.Service.Gross,
				rec.Parking.Net, rec.Parking.VAT, rec.Parking.Gross,
				rec.Water.Net, rec.Water.VAT, rec.Water.Gross,
				rec.Vehicles.Cars, rec.Vehicles.CompactCars, rec.Vehicles.TwoWheelers, rec.Vehicles.Bicycles,
				rec.WaterUsageM3, rec.Adjustments, rec.TotalDue, strings.Join(rec.MissingTariffs, ","),
			)
			if err != nil {
				return fmt.Errorf("upsert %s: %w", rec.Key(), err)
			}
		}
		return nil
	})
}

// ListByPeriod returns a period's records ordered by unit id.
func (r *ChargeRepository) ListByPeriod(ctx context.Context, period billing.Period) ([]billing.ChargeRecord, error) {
	if r == nil || r.db == nil {
		return nil, errNilDB
	}
	if r.tenantID == "" {
		return nil, errEmptyTenant
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE tenant_id = $1 AND period = $2
ORDER BY unit_id`, chargeColumns, r.table)

	rows, err := r.db.QueryContext(ctx, query, r.tenantID, period.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []billing.ChargeRecord
	for rows.Next() {
		record, err := scanCharge(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

// GetByKey loads a record; nil when absent.
func (r *ChargeRepository) GetByKey(ctx context.Context, key string) (*billing.ChargeRecord, error) {
	if r == nil || r.db == nil {
		return nil, errNilDB
	}
	if r.tenantID == "" {
		return nil, errEmptyTenant
	}
	query := fmt.Sprintf(`
SELECT %s
FROM %s
WHERE tenant_id = $1 AND record_key = $2
LIMIT 1`, chargeColumns, r.table)

	record, err := scanCharge(r.db.QueryRowContext(ctx, query, r.tenantID, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &record, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCharge(row rowScanner) (billing.ChargeRecord, error) {
	var rec billing.ChargeRecord
	var period, missing string
	err := row.Scan(
		&period, &rec.UnitID, &rec.OwnerName, &rec.OwnerPhone, &rec.OwnerEmail, &rec.AreaM2,
		&rec.Service.Net, &rec.Service.VAT, &rec.Service.Gross,
		&rec.Parking.Net, &rec.Parking.VAT, &rec.Parking.Gross,
		&rec.Water.Net, &rec.Water.VAT, &rec.Water.Gross,
		&rec.Vehicles.Cars, &rec.Vehicles.CompactCars, &rec.Vehicles.TwoWheelers, &rec.Vehicles.Bicycles,
		&rec.WaterUsageM3, &rec.Adjustments, &rec.TotalDue, &missing,
	)
	if err != nil {
		return billing.ChargeRecord{}, err
	}
	if rec.Period, err = billing.ParsePeriod(period); err != nil {
		return billing.ChargeRecord{}, err
	}
	if missing != "" {
		rec.MissingTariffs = strings.Split(missing, ",")
	}
	return rec, nil
}
