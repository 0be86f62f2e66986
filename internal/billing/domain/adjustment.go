package billing

// Adjustment is an ad-hoc, already tax-settled correction.
// Positive amounts are surcharges, negative amounts are credits.
type Adjustment struct {
	ID          string `json:"id"`
	UnitID      string `json:"unit_id"`
	Period      Period `json:"period"`
	Amount      int64  `json:"amount"`
	Description string `json:"description"`
}

// SumAdjustments returns the signed sum of the adjustments.
func SumAdjustments(adjustments []Adjustment) int64 {
	var total int64
	for _, a := range adjustments {
		total += a.Amount
	}
	return total
}
