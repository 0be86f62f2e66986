package billing

import (
	"fmt"
	"log"
	"math"
	"strings"
)

// CalculationInput is one unit with its joined reference data.
// The caller guarantees the joins (unit, owner) are complete.
type CalculationInput struct {
	Unit        Unit
	Owner       Owner
	Vehicles    []Vehicle
	Adjustments []Adjustment
}

// ReferenceData is the period-wide data shared by all units in a batch.
type ReferenceData struct {
	WaterReadings []WaterReading
	Tariffs       TariffSnapshot
}

// Engine turns calculation inputs into charge records. It performs no I/O and
// keeps no state between calls, so one Engine may serve concurrent batches.
type Engine struct {
	logger *log.Logger
	mode   SelectionMode
	strict bool
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the logger used for missing-tariff warnings.
func WithLogger(logger *log.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithSelectionMode sets how versioned tariff rows are chosen.
func WithSelectionMode(mode SelectionMode) EngineOption {
	return func(e *Engine) {
		if mode != "" {
			e.mode = mode
		}
	}
}

// WithStrictTariffs makes a missing tariff row fail the batch instead of zero-filling.
func WithStrictTariffs(strict bool) EngineOption {
	return func(e *Engine) {
		e.strict = strict
	}
}

// NewEngine constructs an engine. Defaults: first-match selection, zero-fill.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{mode: SelectFirstMatch}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Mode returns the tariff selection mode.
func (e *Engine) Mode() SelectionMode { return e.mode }

// Calculate returns one charge record per input, in input order.
// Duplicate units yield duplicate records.
func (e *Engine) Calculate(period Period, inputs []CalculationInput, ref ReferenceData) ([]ChargeRecord, error) {
	if period.IsZero() {
		return nil, ErrEmptyPeriod
	}
	selector := NewTariffSelector(ref.Tariffs, e.mode, period)
	usage := indexWaterUsage(ref.WaterReadings, period)

	records := make([]ChargeRecord, 0, len(inputs))
	for _, input := range inputs {
		record, err := e.calculateUnit(period, input, usage[input.Unit.ID], selector)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}
	return records, nil
}

func (e *Engine) calculateUnit(period Period, input CalculationInput, usageM3 float64, selector TariffSelector) (ChargeRecord, error) {
	unit := input.Unit
	if err := checkQuantity(unit.ID, "area", unit.AreaM2); err != nil {
		return ChargeRecord{}, err
	}
	if err := checkQuantity(unit.ID, "water usage", usageM3); err != nil {
		return ChargeRecord{}, err
	}

	service := CalculateServiceFee(unit, selector)
	parking := CalculateParkingFee(input.Vehicles, period, selector)
	water := CalculateWaterFee(unit, usageM3, selector)
	adjustments := SumAdjustments(input.Adjustments)

	var missing []string
	missing = append(missing, service.Missing...)
	missing = append(missing, parking.Missing...)
	missing = append(missing, water.Missing...)
	if len(missing) > 0 {
		if e.strict {
			return ChargeRecord{}, fmt.Errorf("%w: unit %s period %s: %s", ErrMissingTariff, unit.ID, period, strings.Join(missing, ","))
		}
		e.warnf("event=tariff_missing period=%s unit_id=%s tariffs=%s", period, unit.ID, strings.Join(missing, ","))
	}

	record := ChargeRecord{
		Period:         period,
		UnitID:         unit.ID,
		OwnerName:      input.Owner.Name,
		OwnerPhone:     input.Owner.Phone,
		OwnerEmail:     input.Owner.Email,
		AreaM2:         unit.AreaM2,
		Service:        service.Line,
		Parking:        parking.Line,
		Water:          water.Line,
		Vehicles:       parking.Counts,
		WaterUsageM3:   water.UsageM3,
		Adjustments:    adjustments,
		MissingTariffs: missing,
	}
	record.TotalDue = record.ComponentTotal() + adjustments
	return record, nil
}

func (e *Engine) warnf(format string, args ...any) {
	if e.logger == nil {
		return
	}
	e.logger.Printf(format, args...)
}

// indexWaterUsage maps unit id to usage for period; the first reading wins.
func indexWaterUsage(readings []WaterReading, period Period) map[string]float64 {
	usage := make(map[string]float64, len(readings))
	for _, r := range readings {
		if r.Period != period {
			continue
		}
		if _, ok := usage[r.UnitID]; ok {
			continue
		}
		usage[r.UnitID] = r.UsageM3
	}
	return usage
}

func checkQuantity(unitID, field string, value float64) error {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return fmt.Errorf("%w: unit %s: %s is not a finite number", ErrInvalidUnitData, unitID, field)
	}
	if value < 0 {
		return fmt.Errorf("%w: unit %s: negative %s %v", ErrInvalidUnitData, unitID, field, value)
	}
	return nil
}
