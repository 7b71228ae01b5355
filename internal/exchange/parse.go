package exchange

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ParseDecimal parses an exchange decimal string exactly.
func ParseDecimal(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	return d, nil
}

// ParseFloat parses an exchange decimal string into a float64, going through
// decimal so values like "0.00000001" survive intact.
func ParseFloat(s string) (float64, error) {
	d, err := ParseDecimal(s)
	if err != nil {
		return 0, err
	}
	f, _ := d.Float64()
	return f, nil
}

// ParseFloatOrZero returns 0 for empty or malformed input. Downstream
// validation treats a zero price as invalid, so bad frames surface there.
func ParseFloatOrZero(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := ParseFloat(s)
	if err != nil {
		return 0
	}
	return f
}
