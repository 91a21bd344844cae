package invoice

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var (
	hundred  = decimal.NewFromInt(100)
	maxCents = decimal.NewFromInt(math.MaxInt64)
	minCents = decimal.NewFromInt(math.MinInt64)
)

// ToMinorUnits converts a decimal amount to integer cents, rounding half away
// from zero.
func ToMinorUnits(amount decimal.Decimal) (int64, error) {
	cents := amount.Mul(hundred).Round(0)
	if cents.GreaterThan(maxCents) || cents.LessThan(minCents) {
		return 0, fmt.Errorf("invoice: amount %s out of range", amount.String())
	}
	return cents.IntPart(), nil
}

// FromMinorUnits converts integer cents back to a two-place decimal.
func FromMinorUnits(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
