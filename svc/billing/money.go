package billing

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// minorUnitExponent is the number of decimal places of the minor unit (kobo, cent).
const minorUnitExponent = 2

// ToMinor converts a major unit decimal string such as "250.00" into minor units.
// Amounts with sub-minor precision are rejected rather than rounded.
func ToMinor(major string) (int64, error) {
	d, err := decimal.NewFromString(major)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", major, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("amount %q is negative", major)
	}
	minor := d.Shift(minorUnitExponent)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("amount %q has more than %d decimal places", major, minorUnitExponent)
	}
	if minor.GreaterThan(decimal.NewFromInt(math.MaxInt64)) {
		return 0, fmt.Errorf("amount %q is out of range", major)
	}
	return minor.IntPart(), nil
}

// FormatMinor renders minor units as a major unit string with two decimals.
func FormatMinor(minor int64) string {
	return decimal.New(minor, -minorUnitExponent).StringFixed(minorUnitExponent)
}
