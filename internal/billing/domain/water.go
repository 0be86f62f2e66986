package billing

import "github.com/shopspring/decimal"

// WaterReading is the materialised consumption of a unit for a period.
type WaterReading struct {
	UnitID  string  `json:"unit_id"`
	Period  Period  `json:"period"`
	UsageM3 float64 `json:"usage_m3"`
}

// WaterFee is the consumption charge of a unit.
type WaterFee struct {
	UsageM3 float64
	Segment WaterSegment
	Line    FeeLine
	Missing []string
}

// WaterUsage returns the usage recorded for unitID in period.
// Absent readings count as zero usage.
func WaterUsage(readings []WaterReading, unitID string, period Period) float64 {
	for _, r := range readings {
		if r.UnitID == unitID && r.Period == period {
			return r.UsageM3
		}
	}
	return 0
}

// CalculateWaterFee prices usageM3 for the unit.
//
// Commercial units pay the open-ended commercial band for the whole volume.
// Residential units walk the bands in order: each band absorbs usage up to
// its capacity, so a volume on a band boundary stays in the lower band.
// VAT comes from the lowest residential band and is applied once.
func CalculateWaterFee(unit Unit, usageM3 float64, tariffs TariffSelector) WaterFee {
	fee := WaterFee{UsageM3: usageM3, Segment: WaterSegmentResidential}
	if unit.IsCommercial() {
		fee.Segment = WaterSegmentCommercial
	}
	if usageM3 <= 0 {
		return fee
	}
	usage := decimal.NewFromFloat(usageM3)

	if fee.Segment == WaterSegmentCommercial {
		band, ok := tariffs.CommercialWaterBand()
		if !ok {
			fee.Missing = []string{missingRef(TariffKindWater, string(WaterSegmentCommercial))}
			return fee
		}
		fee.Line = SplitVAT(usage.Mul(band.UnitPrice), band.VATPercent)
		return fee
	}

	bands := tariffs.WaterBands(WaterSegmentResidential)
	if len(bands) == 0 {
		fee.Missing = []string{missingRef(TariffKindWater, string(WaterSegmentResidential))}
		return fee
	}
	fee.Line = SplitVAT(tieredNet(usage, bands), bands[0].VATPercent)
	return fee
}

// tieredNet allocates usage across bands sorted by lower bound. A band's
// capacity is its upper bound minus the previous band's upper bound.
func tieredNet(usage decimal.Decimal, bands []WaterTariff) decimal.Decimal {
	net := decimal.Zero
	remaining := usage
	previousUpper := decimal.Zero
	for _, band := range bands {
		if !remaining.IsPositive() {
			break
		}
		absorbed := remaining
		if band.ToM3 != nil {
			capacity := band.ToM3.Sub(previousUpper)
			previousUpper = *band.ToM3
			if !capacity.IsPositive() {
				continue
			}
			absorbed = decimal.Min(remaining, capacity)
		}
		net = net.Add(absorbed.Mul(band.UnitPrice))
		remaining = remaining.Sub(absorbed)
	}
	return net
}
