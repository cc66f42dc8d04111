// Package pricing is the only place position PnL is computed. The formula
// lives in an unexported function and every exported helper funnels through
// it, so no other package can grow a second, drifting copy of the math.
package pricing

import (
	"github.com/alanyoungcy/propdesk/internal/domain"
	"github.com/alanyoungcy/propdesk/internal/money"
)

// pnl is the one legal PnL formula: shares * (effective - entry), both
// prices already direction-adjusted into YES space.
func pnl(shares, entryPrice, effectivePrice float64) float64 {
	return shares * (effectivePrice - entryPrice)
}

// DirectionAdjusted recasts a YES-denominated price into the position's
// direction space. YES passes through; NO becomes 1-p.
func DirectionAdjusted(yesPrice float64, dir domain.Direction) float64 {
	if dir == domain.DirectionNo {
		return 1 - yesPrice
	}
	return yesPrice
}

// Metrics describes the live valuation of a single position.
type Metrics struct {
	EffectivePrice float64
	UnrealizedPnL  float64
	ROI            float64 // fraction of entry cost, 0 when entry cost is 0
}

// PositionMetrics values one position against the given YES price.
func PositionMetrics(shares, entryPrice, yesPrice float64, dir domain.Direction) Metrics {
	effective := DirectionAdjusted(yesPrice, dir)
	unrealized := pnl(shares, entryPrice, effective)

	var roi float64
	if cost := shares * entryPrice; cost != 0 {
		roi = unrealized / cost
	}

	return Metrics{
		EffectivePrice: effective,
		UnrealizedPnL:  unrealized,
		ROI:            roi,
	}
}

// RealizedPnL computes the profit locked in by closing shares at the given
// YES exit price. Same formula, same entry point.
func RealizedPnL(shares, entryPrice, yesExitPrice float64, dir domain.Direction) float64 {
	return pnl(shares, entryPrice, DirectionAdjusted(yesExitPrice, dir))
}

// RealizedAtEffective computes realized PnL when the exit price is already
// in the position's direction space, e.g. a book-walked execution price.
func RealizedAtEffective(shares, entryPrice, effectiveExit float64) float64 {
	return pnl(shares, entryPrice, effectiveExit)
}

// PortfolioValue sums the mark-to-market value of the given positions at the
// given YES prices. Positions with unparseable shares or entry prices are
// skipped, and a market missing from livePrices contributes zero value;
// neither case crashes the sweep or substitutes an assumed mid-price.
func PortfolioValue(positions []domain.Position, livePrices map[string]float64) float64 {
	var total float64
	for _, p := range positions {
		shares, err := money.Check(p.Shares)
		if err != nil {
			continue
		}
		if _, err := money.Check(p.EntryPrice); err != nil {
			continue
		}
		yesPrice, ok := livePrices[p.MarketID]
		if !ok {
			continue
		}
		if _, err := money.Check(yesPrice); err != nil {
			continue
		}
		total += shares * DirectionAdjusted(yesPrice, p.Direction)
	}
	return total
}

// Equity is cash balance plus the mark-to-market value of open positions.
func Equity(cashBalance float64, positions []domain.Position, livePrices map[string]float64) float64 {
	return cashBalance + PortfolioValue(positions, livePrices)
}

// UnrealizedTotal sums live unrealized PnL across positions, skipping
// positions without a usable price. Used by the evaluator's sanity gate.
func UnrealizedTotal(positions []domain.Position, livePrices map[string]float64) float64 {
	var total float64
	for _, p := range positions {
		yesPrice, ok := livePrices[p.MarketID]
		if !ok {
			continue
		}
		if _, err := money.Check(yesPrice); err != nil {
			continue
		}
		total += pnl(p.Shares, p.EntryPrice, DirectionAdjusted(yesPrice, p.Direction))
	}
	return total
}

// WinRate returns the percentage of SELL trades with positive realized PnL
// among SELL trades that have a realized PnL recorded. It returns nil, not
// zero, when no qualifying trade exists: "no data" and "0%" must stay
// distinguishable.
func WinRate(trades []domain.Trade) *float64 {
	var qualifying, wins int
	for _, t := range trades {
		if t.Type != domain.TradeTypeSell || t.RealizedPnL == nil {
			continue
		}
		qualifying++
		if *t.RealizedPnL > 0 {
			wins++
		}
	}
	if qualifying == 0 {
		return nil
	}
	rate := float64(wins) / float64(qualifying) * 100
	return &rate
}
