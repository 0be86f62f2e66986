package billing

import "github.com/shopspring/decimal"

// ServiceFee is the area-based service charge of a unit.
type ServiceFee struct {
	Key     ServiceKey
	Line    FeeLine
	Missing []string
}

// CalculateServiceFee prices the unit's area under its service key.
// A missing tariff row yields a zero line and is reported in Missing.
func CalculateServiceFee(unit Unit, tariffs TariffSelector) ServiceFee {
	key := unit.ServiceKey()
	tariff, ok := tariffs.Service(key)
	if !ok {
		return ServiceFee{Key: key, Missing: []string{missingRef(TariffKindService, string(key))}}
	}
	net := decimal.NewFromFloat(unit.AreaM2).Mul(tariff.FeePerM2)
	return ServiceFee{Key: key, Line: SplitVAT(net, tariff.VATPercent)}
}
