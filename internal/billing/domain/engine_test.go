package billing_test

import (
	"bytes"
	"errors"
	"log"
	"math"
	"reflect"
	"strings"
	"testing"
	"time"

	billing "estate-billing/internal/billing/domain"
)

func sampleBatch(t *testing.T) (billing.Period, []billing.CalculationInput, billing.ReferenceData) {
	t.Helper()
	period := mustPeriod(t, "2024-03")
	start := date(2022, time.January, 10)
	inputs := []billing.CalculationInput{
		{
			Unit:  apartment("A-101", 70),
			Owner: billing.Owner{ID: "o1", Name: "Nguyen Van A", Phone: "0900000001", Email: "a@example.com"},
			Vehicles: []billing.Vehicle{
				{ID: "v1", UnitID: "A-101", Type: billing.VehicleCar, Active: true, StartDate: start, SlotStatus: billing.SlotPrimary},
				{ID: "v2", UnitID: "A-101", Type: billing.VehicleMotorbike, Active: true, StartDate: start},
			},
			Adjustments: []billing.Adjustment{
				{ID: "adj1", UnitID: "A-101", Period: period, Amount: -50000},
				{ID: "adj2", UnitID: "A-101", Period: period, Amount: 20000},
			},
		},
		{
			Unit:  kiosk("K-01", 12),
			Owner: billing.Owner{ID: "o2", Name: "Kiosk Co"},
		},
		{
			Unit:  apartment("A-102", 55.5),
			Owner: billing.Owner{ID: "o3", Name: "Tran B"},
		},
	}
	ref := billing.ReferenceData{
		WaterReadings: []billing.WaterReading{
			{UnitID: "A-101", Period: period, UsageM3: 11},
			{UnitID: "K-01", Period: period, UsageM3: 45},
			{UnitID: "A-101", Period: period, UsageM3: 99},
			{UnitID: "A-102", Period: mustPeriod(t, "2024-02"), UsageM3: 30},
		},
		Tariffs: mustSnapshot(t, referenceTariffs()...),
	}
	return period, inputs, ref
}

func TestEngineCalculateBatch(t *testing.T) {
	period, inputs, ref := sampleBatch(t)
	records, err := billing.NewEngine().Calculate(period, inputs, ref)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if len(records) != len(inputs) {
		t.Fatalf("expected %d records, got %d", len(inputs), len(records))
	}
	for i, record := range records {
		if record.UnitID != inputs[i].Unit.ID {
			t.Fatalf("record %d out of order: %s", i, record.UnitID)
		}
		if record.Period != period {
			t.Fatalf("record %d: unexpected period %s", i, record.Period)
		}
		if record.TotalDue != record.Service.Gross+record.Parking.Gross+record.Water.Gross+record.Adjustments {
			t.Fatalf("record %d: total does not add up: %+v", i, record)
		}
	}

	first := records[0]
	if first.Key() != "2024-03_A-101" {
		t.Fatalf("unexpected key: %s", first.Key())
	}
	if first.OwnerName != "Nguyen Van A" || first.OwnerEmail != "a@example.com" {
		t.Fatalf("owner fields not copied: %+v", first)
	}
	if first.WaterUsageM3 != 11 || first.Water.Net != 103943 {
		t.Fatalf("unexpected water: usage=%v line=%+v", first.WaterUsageM3, first.Water)
	}
	if first.Adjustments != -30000 {
		t.Fatalf("unexpected adjustments: %d", first.Adjustments)
	}
	if first.Vehicles != (billing.VehicleCounts{Cars: 1, TwoWheelers: 1}) {
		t.Fatalf("unexpected vehicles: %+v", first.Vehicles)
	}
	if first.Parking.Net != 1260000 {
		t.Fatalf("unexpected parking net: %d", first.Parking.Net)
	}

	kioskRecord := records[1]
	if kioskRecord.Water.Net != 1397250 || kioskRecord.Water.VAT != 69862 || kioskRecord.Water.Gross != 1467112 {
		t.Fatalf("unexpected kiosk water: %+v", kioskRecord.Water)
	}
	if kioskRecord.Service.Net != 480000 {
		t.Fatalf("unexpected kiosk service: %+v", kioskRecord.Service)
	}

	noReading := records[2]
	if noReading.WaterUsageM3 != 0 || noReading.Water != (billing.FeeLine{}) {
		t.Fatalf("missing reading should yield zero water: %+v", noReading)
	}
	if len(noReading.MissingTariffs) != 0 {
		t.Fatalf("unexpected missing tariffs: %v", noReading.MissingTariffs)
	}
}

func TestEngineIsIdempotent(t *testing.T) {
	period, inputs, ref := sampleBatch(t)
	engine := billing.NewEngine()
	first, err := engine.Calculate(period, inputs, ref)
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := engine.Calculate(period, inputs, ref)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("runs differ:\n%+v\n%+v", first, second)
	}
}

func TestEngineIsAdditiveAcrossBatches(t *testing.T) {
	period, inputs, ref := sampleBatch(t)
	engine := billing.NewEngine()
	whole, err := engine.Calculate(period, inputs, ref)
	if err != nil {
		t.Fatalf("whole batch: %v", err)
	}
	var split []billing.ChargeRecord
	for _, input := range inputs {
		part, err := engine.Calculate(period, []billing.CalculationInput{input}, ref)
		if err != nil {
			t.Fatalf("single unit %s: %v", input.Unit.ID, err)
		}
		split = append(split, part...)
	}
	if !reflect.DeepEqual(whole, split) {
		t.Fatalf("split batches differ from whole batch")
	}
}

func TestEngineKeepsDuplicateUnits(t *testing.T) {
	period, inputs, ref := sampleBatch(t)
	dup := []billing.CalculationInput{inputs[1], inputs[1]}
	records, err := billing.NewEngine().Calculate(period, dup, ref)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if len(records) != 2 || records[0].Key() != records[1].Key() {
		t.Fatalf("expected two identical records, got %+v", records)
	}
}

func TestEngineTotalMayGoNegative(t *testing.T) {
	period := mustPeriod(t, "2024-03")
	inputs := []billing.CalculationInput{{
		Unit:        apartment("A1", 1),
		Adjustments: []billing.Adjustment{{Amount: -10000000}},
	}}
	ref := billing.ReferenceData{Tariffs: mustSnapshot(t, referenceTariffs()...)}
	records, err := billing.NewEngine().Calculate(period, inputs, ref)
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if records[0].TotalDue >= 0 {
		t.Fatalf("expected negative total, got %d", records[0].TotalDue)
	}
	if records[0].Service.Net < 0 {
		t.Fatalf("line amounts must stay non-negative: %+v", records[0].Service)
	}
}

func TestEngineMissingTariffs(t *testing.T) {
	period := mustPeriod(t, "2024-03")
	inputs := []billing.CalculationInput{{Unit: kiosk("K1", 10)}}
	ref := billing.ReferenceData{
		WaterReadings: []billing.WaterReading{{UnitID: "K1", Period: period, UsageM3: 3}},
	}

	var buf bytes.Buffer
	engine := billing.NewEngine(billing.WithLogger(log.New(&buf, "", 0)))
	records, err := engine.Calculate(period, inputs, ref)
	if err != nil {
		t.Fatalf("zero-fill mode should not fail: %v", err)
	}
	want := []string{"service:kiosk", "water:commercial"}
	if !reflect.DeepEqual(records[0].MissingTariffs, want) {
		t.Fatalf("expected missing %v, got %v", want, records[0].MissingTariffs)
	}
	if records[0].TotalDue != 0 {
		t.Fatalf("expected zero total, got %d", records[0].TotalDue)
	}
	if !strings.Contains(buf.String(), "event=tariff_missing") {
		t.Fatalf("expected warning log, got %q", buf.String())
	}

	strict := billing.NewEngine(billing.WithStrictTariffs(true))
	if _, err := strict.Calculate(period, inputs, ref); !errors.Is(err, billing.ErrMissingTariff) {
		t.Fatalf("expected ErrMissingTariff, got %v", err)
	}
}

func TestEngineRejectsInvalidInput(t *testing.T) {
	period := mustPeriod(t, "2024-03")
	ref := billing.ReferenceData{Tariffs: mustSnapshot(t, referenceTariffs()...)}
	engine := billing.NewEngine()

	if _, err := engine.Calculate(billing.Period{}, nil, ref); !errors.Is(err, billing.ErrEmptyPeriod) {
		t.Fatalf("expected ErrEmptyPeriod, got %v", err)
	}

	for _, area := range []float64{-1, math.NaN(), math.Inf(1)} {
		inputs := []billing.CalculationInput{{Unit: apartment("A1", area)}}
		if _, err := engine.Calculate(period, inputs, ref); !errors.Is(err, billing.ErrInvalidUnitData) {
			t.Fatalf("area %v: expected ErrInvalidUnitData, got %v", area, err)
		}
	}

	inputs := []billing.CalculationInput{{Unit: apartment("A1", 10)}}
	badRef := ref
	badRef.WaterReadings = []billing.WaterReading{{UnitID: "A1", Period: period, UsageM3: math.NaN()}}
	if _, err := engine.Calculate(period, inputs, badRef); !errors.Is(err, billing.ErrInvalidUnitData) {
		t.Fatalf("expected ErrInvalidUnitData for NaN usage, got %v", err)
	}
}

func TestEngineEmptyBatch(t *testing.T) {
	records, err := billing.NewEngine().Calculate(mustPeriod(t, "2024-03"), nil, billing.ReferenceData{})
	if err != nil {
		t.Fatalf("calculate: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
}
