package billing

import "github.com/shopspring/decimal"

// twoWheelerBaseTier is how many two-wheelers per unit are priced at the lower rate.
const twoWheelerBaseTier = 2

var defaultParkingVATPercent = decimal.NewFromInt(8)

// VehicleCounts tallies billable vehicles by pricing bucket.
type VehicleCounts struct {
	Cars        int `json:"cars"`
	CompactCars int `json:"compact_cars"`
	TwoWheelers int `json:"two_wheelers"`
	Bicycles    int `json:"bicycles"`
}

// ParkingFee is the parking charge of a unit.
type ParkingFee struct {
	Counts  VehicleCounts
	Line    FeeLine
	Missing []string
}

// CountBillableVehicles buckets the vehicles billable in period.
// Motorbikes and e-bikes share the two-wheeler bucket.
func CountBillableVehicles(vehicles []Vehicle, period Period) VehicleCounts {
	var counts VehicleCounts
	for _, v := range vehicles {
		if !v.Billable(period) {
			continue
		}
		switch v.Type {
		case VehicleCar:
			counts.Cars++
		case VehicleCompactCar:
			counts.CompactCars++
		case VehicleMotorbike, VehicleEBike:
			counts.TwoWheelers++
		case VehicleBicycle:
			counts.Bicycles++
		}
	}
	return counts
}

// CalculateParkingFee prices the billable vehicles of a unit.
//
// Two-wheelers are progressive: the first two at the first-two rate, every
// further one at the beyond-two rate. One VAT rate, taken from the car row
// (8% when absent), applies to the combined net. A missing tier row drops
// only that bucket's contribution and is reported in Missing.
func CalculateParkingFee(vehicles []Vehicle, period Period, tariffs TariffSelector) ParkingFee {
	counts := CountBillableVehicles(vehicles, period)
	fee := ParkingFee{Counts: counts}

	net := decimal.Zero
	charge := func(tier ParkingTier, quantity int) {
		if quantity <= 0 {
			return
		}
		tariff, ok := tariffs.Parking(tier)
		if !ok {
			fee.Missing = append(fee.Missing, missingRef(TariffKindParking, string(tier)))
			return
		}
		net = net.Add(tariff.PricePerUnit.Mul(decimal.NewFromInt(int64(quantity))))
	}

	baseTier := min(counts.TwoWheelers, twoWheelerBaseTier)
	charge(ParkingTierCar, counts.Cars)
	charge(ParkingTierCompactCar, counts.CompactCars)
	charge(ParkingTierTwoWheelerFirstTwo, baseTier)
	charge(ParkingTierTwoWheelerBeyondTwo, counts.TwoWheelers-baseTier)
	charge(ParkingTierBicycle, counts.Bicycles)

	vatPercent := defaultParkingVATPercent
	if car, ok := tariffs.Parking(ParkingTierCar); ok {
		vatPercent = car.VATPercent
	}
	fee.Line = SplitVAT(net, vatPercent)
	return fee
}
