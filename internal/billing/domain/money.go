package billing

import "github.com/shopspring/decimal"

var hundred = decimal.NewFromInt(100)

// FeeLine is a net / VAT / gross triple in whole currency units.
type FeeLine struct {
	Net   int64 `json:"net"`
	VAT   int64 `json:"vat"`
	Gross int64 `json:"gross"`
}

// RoundAmount rounds to the nearest whole currency unit, half to even,
// and floors the result at zero.
func RoundAmount(amount decimal.Decimal) int64 {
	rounded := amount.RoundBank(0)
	if rounded.IsNegative() {
		return 0
	}
	return rounded.IntPart()
}

// SplitVAT derives the fee line for a net amount. VAT is computed from the
// unrounded net; gross is always the sum of the rounded net and VAT.
func SplitVAT(net, vatPercent decimal.Decimal) FeeLine {
	vat := net.Mul(vatPercent).Div(hundred)
	line := FeeLine{
		Net: RoundAmount(net),
		VAT: RoundAmount(vat),
	}
	line.Gross = line.Net + line.VAT
	return line
}
