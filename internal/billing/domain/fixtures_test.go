package billing_test

import (
	"testing"
	"time"

	billing "estate-billing/internal/billing/domain"

	"github.com/shopspring/decimal"
)

func dec(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

func decPtr(value string) *decimal.Decimal {
	d := dec(value)
	return &d
}

func mustPeriod(t *testing.T, value string) billing.Period {
	t.Helper()
	period, err := billing.ParsePeriod(value)
	if err != nil {
		t.Fatalf("parse period %q: %v", value, err)
	}
	return period
}

func date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// referenceTariffs mirrors the production tariff sheet.
func referenceTariffs() []billing.Tariff {
	return []billing.Tariff{
		billing.ServiceTariff{ID: "svc-apt", Key: billing.ServiceKeyApartment, FeePerM2: dec("16500"), VATPercent: dec("10")},
		billing.ServiceTariff{ID: "svc-biz", Key: billing.ServiceKeyBusinessApartment, FeePerM2: dec("22000"), VATPercent: dec("10")},
		billing.ServiceTariff{ID: "svc-kiosk", Key: billing.ServiceKeyKiosk, FeePerM2: dec("40000"), VATPercent: dec("10")},
		billing.ParkingTariff{ID: "park-car", Tier: billing.ParkingTierCar, PricePerUnit: dec("1200000"), VATPercent: dec("8")},
		billing.ParkingTariff{ID: "park-compact", Tier: billing.ParkingTierCompactCar, PricePerUnit: dec("900000"), VATPercent: dec("8")},
		billing.ParkingTariff{ID: "park-2w-base", Tier: billing.ParkingTierTwoWheelerFirstTwo, PricePerUnit: dec("60000"), VATPercent: dec("8")},
		billing.ParkingTariff{ID: "park-2w-extra", Tier: billing.ParkingTierTwoWheelerBeyondTwo, PricePerUnit: dec("80000"), VATPercent: dec("8")},
		billing.ParkingTariff{ID: "park-bike", Tier: billing.ParkingTierBicycle, PricePerUnit: dec("30000"), VATPercent: dec("8")},
		billing.WaterTariff{ID: "w1", Segment: billing.WaterSegmentResidential, FromM3: dec("0"), ToM3: decPtr("10"), UnitPrice: dec("9310"), VATPercent: dec("5")},
		billing.WaterTariff{ID: "w2", Segment: billing.WaterSegmentResidential, FromM3: dec("10"), ToM3: decPtr("20"), UnitPrice: dec("10843"), VATPercent: dec("5")},
		billing.WaterTariff{ID: "w3", Segment: billing.WaterSegmentResidential, FromM3: dec("20"), ToM3: decPtr("30"), UnitPrice: dec("17524"), VATPercent: dec("5")},
		billing.WaterTariff{ID: "w4", Segment: billing.WaterSegmentResidential, FromM3: dec("30"), UnitPrice: dec("29571"), VATPercent: dec("5")},
		billing.WaterTariff{ID: "wc", Segment: billing.WaterSegmentCommercial, FromM3: dec("0"), UnitPrice: dec("31050"), VATPercent: dec("5")},
	}
}

func mustSnapshot(t *testing.T, tariffs ...billing.Tariff) billing.TariffSnapshot {
	t.Helper()
	snapshot, err := billing.NewTariffSnapshot(tariffs...)
	if err != nil {
		t.Fatalf("new snapshot: %v", err)
	}
	return snapshot
}

func referenceSelector(t *testing.T, period billing.Period) billing.TariffSelector {
	t.Helper()
	return billing.NewTariffSelector(mustSnapshot(t, referenceTariffs()...), billing.SelectFirstMatch, period)
}

func apartment(id string, area float64) billing.Unit {
	return billing.Unit{ID: id, OwnerID: "owner-" + id, Classification: billing.ClassificationApartment, AreaM2: area, Occupancy: billing.OccupancyOwner}
}

func kiosk(id string, area float64) billing.Unit {
	return billing.Unit{ID: id, OwnerID: "owner-" + id, Classification: billing.ClassificationKiosk, AreaM2: area, Occupancy: billing.OccupancyBusiness}
}
