package pricing

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/propdesk/internal/domain"
)

func TestDirectionAdjusted(t *testing.T) {
	for _, p := range []float64{0, 0.01, 0.25, 0.5, 0.73, 0.99, 1} {
		assert.Equal(t, p, DirectionAdjusted(p, domain.DirectionYes))
		assert.InDelta(t, 1-p, DirectionAdjusted(p, domain.DirectionNo), 1e-12)
	}
}

func TestPositionMetrics(t *testing.T) {
	tests := []struct {
		name       string
		shares     float64
		entry      float64
		yesPrice   float64
		dir        domain.Direction
		wantPnL    float64
		wantROI    float64
		wantEffect float64
	}{
		{
			name:   "yes position gains with price",
			shares: 100, entry: 0.40, yesPrice: 0.55, dir: domain.DirectionYes,
			wantPnL: 15, wantROI: 0.375, wantEffect: 0.55,
		},
		{
			name:   "no position gains when yes falls",
			shares: 200, entry: 0.30, yesPrice: 0.60, dir: domain.DirectionNo,
			wantPnL: 20, wantROI: 20.0 / 60.0, wantEffect: 0.40,
		},
		{
			name:   "no position loses when yes rises",
			shares: 50, entry: 0.50, yesPrice: 0.80, dir: domain.DirectionNo,
			wantPnL: -15, wantROI: -0.6, wantEffect: 0.20,
		},
		{
			name:   "zero entry cost has zero roi",
			shares: 10, entry: 0, yesPrice: 0.10, dir: domain.DirectionYes,
			wantPnL: 1, wantROI: 0, wantEffect: 0.10,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := PositionMetrics(tt.shares, tt.entry, tt.yesPrice, tt.dir)
			assert.InDelta(t, tt.wantEffect, m.EffectivePrice, 1e-10)
			assert.InDelta(t, tt.wantPnL, m.UnrealizedPnL, 1e-10)
			assert.InDelta(t, tt.wantROI, m.ROI, 1e-10)
		})
	}
}

// Three independent call sites of the PnL math must agree: PositionMetrics,
// RealizedPnL and UnrealizedTotal all funnel through the same formula.
func TestPnLPathsAgree(t *testing.T) {
	cases := []struct {
		shares, entry, yes float64
		dir                domain.Direction
	}{
		{100, 0.40, 0.55, domain.DirectionYes},
		{37.5, 0.62, 0.11, domain.DirectionNo},
		{1, 0.0001, 0.9999, domain.DirectionYes},
		{25000, 0.50, 0.50, domain.DirectionNo},
	}

	for _, c := range cases {
		metrics := PositionMetrics(c.shares, c.entry, c.yes, c.dir).UnrealizedPnL
		realized := RealizedPnL(c.shares, c.entry, c.yes, c.dir)
		viaTotal := UnrealizedTotal(
			[]domain.Position{{MarketID: "m", Shares: c.shares, EntryPrice: c.entry, Direction: c.dir}},
			map[string]float64{"m": c.yes},
		)

		assert.InDelta(t, metrics, realized, 1e-10)
		assert.InDelta(t, metrics, viaTotal, 1e-10)
	}
}

func TestPortfolioValue(t *testing.T) {
	positions := []domain.Position{
		{MarketID: "a", Shares: 100, EntryPrice: 0.40, Direction: domain.DirectionYes},
		{MarketID: "b", Shares: 50, EntryPrice: 0.30, Direction: domain.DirectionNo},
	}
	prices := map[string]float64{"a": 0.55, "b": 0.80}

	// a: 100 * 0.55 = 55; b: 50 * (1-0.80) = 10
	assert.InDelta(t, 65, PortfolioValue(positions, prices), 1e-10)
}

func TestPortfolioValueSkipsBadPositions(t *testing.T) {
	positions := []domain.Position{
		{MarketID: "good", Shares: 10, EntryPrice: 0.50, Direction: domain.DirectionYes},
		{MarketID: "nan_shares", Shares: math.NaN(), EntryPrice: 0.50, Direction: domain.DirectionYes},
		{MarketID: "inf_entry", Shares: 10, EntryPrice: math.Inf(1), Direction: domain.DirectionYes},
		{MarketID: "no_price", Shares: 10, EntryPrice: 0.50, Direction: domain.DirectionYes},
	}
	prices := map[string]float64{
		"good":       0.60,
		"nan_shares": 0.60,
		"inf_entry":  0.60,
		// no_price intentionally absent: contributes zero, never a mid-price.
	}

	assert.InDelta(t, 6, PortfolioValue(positions, prices), 1e-10)
}

func TestPortfolioValueRejectsNaNPrice(t *testing.T) {
	positions := []domain.Position{
		{MarketID: "m", Shares: 10, EntryPrice: 0.50, Direction: domain.DirectionYes},
	}
	assert.Zero(t, PortfolioValue(positions, map[string]float64{"m": math.NaN()}))
}

func TestEquity(t *testing.T) {
	positions := []domain.Position{
		{MarketID: "m", Shares: 100, EntryPrice: 0.40, Direction: domain.DirectionYes},
	}
	eq := Equity(9500, positions, map[string]float64{"m": 0.50})
	assert.InDelta(t, 9550, eq, 1e-10)
}

func TestWinRate(t *testing.T) {
	win, loss := 2.5, -1.0

	t.Run("empty is nil not zero", func(t *testing.T) {
		assert.Nil(t, WinRate(nil))
		assert.Nil(t, WinRate([]domain.Trade{}))
	})

	t.Run("buys and nil pnl sells do not qualify", func(t *testing.T) {
		trades := []domain.Trade{
			{Type: domain.TradeTypeBuy},
			{Type: domain.TradeTypeSell, RealizedPnL: nil},
		}
		assert.Nil(t, WinRate(trades))
	})

	t.Run("two wins one loss", func(t *testing.T) {
		trades := []domain.Trade{
			{Type: domain.TradeTypeSell, RealizedPnL: &win},
			{Type: domain.TradeTypeSell, RealizedPnL: &win},
			{Type: domain.TradeTypeSell, RealizedPnL: &loss},
			{Type: domain.TradeTypeBuy},
		}
		rate := WinRate(trades)
		require.NotNil(t, rate)
		assert.InDelta(t, 66.666, *rate, 0.01)
	})
}
