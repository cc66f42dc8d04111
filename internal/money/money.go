// Package money parses monetary values that arrive as decimal strings from
// the database and upstream feeds. Every financial field crosses through
// here so a malformed value surfaces as an error instead of silently
// becoming 0 (or worse, a placeholder mid-price).
package money

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/propdesk/internal/domain"
)

// maxAbs bounds parsed monetary values. Anything beyond this is treated as
// corrupt rather than a real balance.
const maxAbs = 1e15

// Parse converts a decimal string to float64, rejecting empty strings,
// non-numeric input, NaN/Inf and implausibly large magnitudes.
func Parse(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("money: empty value: %w", domain.ErrDataIntegrity)
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("money: parse %q: %w", s, domain.ErrDataIntegrity)
	}

	f, _ := d.Float64()
	return Check(f)
}

// Check validates an already-numeric value against the same guards Parse
// applies. It rejects NaN, Inf and overflow-scale magnitudes.
func Check(f float64) (float64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("money: non-finite value: %w", domain.ErrDataIntegrity)
	}
	if math.Abs(f) > maxAbs {
		return 0, fmt.Errorf("money: value %g out of range: %w", f, domain.ErrDataIntegrity)
	}
	return f, nil
}

// Format serializes a monetary value for storage as an exact decimal string.
func Format(f float64) string {
	return decimal.NewFromFloat(f).String()
}

// Decimal converts a guarded float to a decimal for exact ledger arithmetic.
func Decimal(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}
