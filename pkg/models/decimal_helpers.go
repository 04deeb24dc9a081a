package models

import "github.com/shopspring/decimal"

// ToFloat64 converts a decimal, ignoring exactness
func ToFloat64(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// PercentChange returns (to-from)/from*100, ok=false when from is zero
func PercentChange(from, to decimal.Decimal) (float64, bool) {
	if from.IsZero() {
		return 0, false
	}
	return ToFloat64(to.Sub(from).Div(from).Mul(decimal.NewFromInt(100))), true
}
