// Package marketdata talks to the market data vendor and guards the prices
// it returns before they reach any financial code.
package marketdata

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/propdesk/internal/domain"
	"github.com/alanyoungcy/propdesk/internal/money"
)

// DefaultMaxPriceAge is how old a price may be before it is rejected as
// stale. Evaluation suspends via the outage manager rather than pricing
// portfolios off dead data.
const DefaultMaxPriceAge = 5 * time.Minute

// Validator rejects implausible or placeholder prices.
type Validator struct {
	MaxAge time.Duration
}

// NewValidator creates a Validator; a zero maxAge uses DefaultMaxPriceAge.
func NewValidator(maxAge time.Duration) *Validator {
	if maxAge <= 0 {
		maxAge = DefaultMaxPriceAge
	}
	return &Validator{MaxAge: maxAge}
}

// Validate returns an error when the price point must not be used: non-finite
// or out-of-range values, a flagged placeholder, or a timestamp beyond the
// staleness horizon. A rejected price propagates as an error; it is never
// replaced by a fabricated mid-price.
func (v *Validator) Validate(p domain.PricePoint, now time.Time) error {
	if _, err := money.Check(p.Price); err != nil {
		return fmt.Errorf("marketdata: market %s: %w", p.MarketID, err)
	}
	if p.Price <= 0 || p.Price >= 1 {
		return fmt.Errorf("marketdata: market %s price %g out of range: %w", p.MarketID, p.Price, domain.ErrNoPrice)
	}
	// An exact 0.5 on a feed that marked itself stale is the vendor's known
	// placeholder shape. Real mid prices come with a fresh timestamp.
	if p.Stale && p.Price == 0.5 {
		return fmt.Errorf("marketdata: market %s placeholder price: %w", p.MarketID, domain.ErrNoPrice)
	}
	if p.Time.IsZero() {
		return fmt.Errorf("marketdata: market %s price has no timestamp: %w", p.MarketID, domain.ErrStalePrice)
	}
	if now.Sub(p.Time) > v.MaxAge {
		return fmt.Errorf("marketdata: market %s price is %s old: %w", p.MarketID, now.Sub(p.Time), domain.ErrStalePrice)
	}
	return nil
}
