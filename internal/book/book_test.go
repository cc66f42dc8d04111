package book

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/propdesk/internal/domain"
)

func levels(pairs ...float64) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, domain.PriceLevel{Price: pairs[i], Size: pairs[i+1]})
	}
	return out
}

func TestBestLevelsScanNotIndex(t *testing.T) {
	// Bids ascending worst-first, asks descending worst-first: the shapes
	// upstream feeds have actually delivered.
	b := domain.OrderBook{
		Bids: levels(0.40, 100, 0.45, 50, 0.48, 10),
		Asks: levels(0.60, 100, 0.55, 50, 0.50, 10),
	}

	bid, ok := BestBid(b)
	require.True(t, ok)
	assert.Equal(t, 0.48, bid)

	ask, ok := BestAsk(b)
	require.True(t, ok)
	assert.Equal(t, 0.50, ask)
}

func TestIsDead(t *testing.T) {
	tests := []struct {
		name string
		book domain.OrderBook
		dead bool
	}{
		{
			name: "healthy reverse-sorted book is not dead",
			book: domain.OrderBook{
				Bids: levels(0.30, 10, 0.48, 10),
				Asks: levels(0.70, 10, 0.50, 10),
			},
			dead: false,
		},
		{
			name: "empty bid side",
			book: domain.OrderBook{Asks: levels(0.50, 10)},
			dead: true,
		},
		{
			name: "empty ask side",
			book: domain.OrderBook{Bids: levels(0.50, 10)},
			dead: true,
		},
		{
			name: "wide spread",
			book: domain.OrderBook{
				Bids: levels(0.10, 10),
				Asks: levels(0.90, 10),
			},
			dead: true,
		},
		{
			name: "zero-size levels do not count",
			book: domain.OrderBook{
				Bids: levels(0.48, 0),
				Asks: levels(0.50, 10),
			},
			dead: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.dead, IsDead(tt.book, 0))
		})
	}
}

func TestCalculateImpactWalksLiquidity(t *testing.T) {
	b := domain.OrderBook{
		MarketID: "m",
		// Deliberately shuffled: walk must sort, not trust order.
		Asks: levels(0.54, 100, 0.50, 100, 0.52, 100),
	}

	// Top of book holds $50 of depth (0.50 * 100); a $100 buy must consume
	// the 0.52 level too, so the executed price cannot be top-of-book.
	imp, err := CalculateImpact(b, domain.TradeTypeBuy, 100)
	require.NoError(t, err)

	assert.InDelta(t, 100, imp.Filled, 1e-9)
	assert.Equal(t, 2, imp.LevelsConsumed)
	assert.False(t, imp.Partial)
	assert.Greater(t, imp.ExecutedPrice, 0.50)
	assert.LessOrEqual(t, imp.ExecutedPrice, 0.52)
}

func TestCalculateImpactExecutedPriceWithinConsumedRange(t *testing.T) {
	books := []domain.OrderBook{
		{MarketID: "sorted", Asks: levels(0.50, 40, 0.55, 40, 0.60, 40)},
		{MarketID: "reversed", Asks: levels(0.60, 40, 0.55, 40, 0.50, 40)},
		{MarketID: "shuffled", Asks: levels(0.55, 40, 0.60, 40, 0.50, 40)},
	}

	for _, b := range books {
		imp, err := CalculateImpact(b, domain.TradeTypeBuy, 60)
		require.NoError(t, err, b.MarketID)
		assert.GreaterOrEqual(t, imp.ExecutedPrice, 0.50, b.MarketID)
		assert.LessOrEqual(t, imp.ExecutedPrice, 0.60, b.MarketID)
	}
}

func TestCalculateImpactSellWalksBidsDown(t *testing.T) {
	b := domain.OrderBook{
		MarketID: "m",
		Bids:     levels(0.40, 100, 0.48, 50, 0.44, 100),
	}

	imp, err := CalculateImpact(b, domain.TradeTypeSell, 50)
	require.NoError(t, err)
	// Best bid holds 0.48*50 = $24; the 0.44 level is consumed next.
	assert.Equal(t, 2, imp.LevelsConsumed)
	assert.Less(t, imp.ExecutedPrice, 0.48)
	assert.GreaterOrEqual(t, imp.ExecutedPrice, 0.44)
}

func TestCalculateImpactPartialFill(t *testing.T) {
	b := domain.OrderBook{
		MarketID: "m",
		Asks:     levels(0.50, 10), // $5 of depth
	}

	imp, err := CalculateImpact(b, domain.TradeTypeBuy, 100)
	require.NoError(t, err)
	assert.True(t, imp.Partial)
	assert.InDelta(t, 5, imp.Filled, 1e-9)
	assert.InDelta(t, 0.50, imp.ExecutedPrice, 1e-9)
}

func TestCalculateImpactErrors(t *testing.T) {
	_, err := CalculateImpact(domain.OrderBook{MarketID: "m"}, domain.TradeTypeBuy, 100)
	assert.ErrorIs(t, err, domain.ErrDeadBook)

	_, err = CalculateImpact(domain.OrderBook{Asks: levels(0.5, 10)}, domain.TradeTypeBuy, 0)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestInvert(t *testing.T) {
	no := domain.OrderBook{
		MarketID: "m",
		Bids:     levels(0.30, 100), // NO bid 0.30 -> YES ask 0.70
		Asks:     levels(0.35, 50),  // NO ask 0.35 -> YES bid 0.65
	}

	yes := Invert(no)
	require.Len(t, yes.Asks, 1)
	require.Len(t, yes.Bids, 1)
	assert.InDelta(t, 0.70, yes.Asks[0].Price, 1e-12)
	assert.Equal(t, float64(100), yes.Asks[0].Size)
	assert.InDelta(t, 0.65, yes.Bids[0].Price, 1e-12)
	assert.Equal(t, float64(50), yes.Bids[0].Size)
}

func TestBuildSynthetic(t *testing.T) {
	b, err := BuildSynthetic("m", 0.40, SyntheticConfig{})
	require.NoError(t, err)
	assert.True(t, b.Synthetic)
	assert.NotEmpty(t, b.Bids)
	assert.NotEmpty(t, b.Asks)
	assert.False(t, IsDead(b, 0))

	bid, _ := BestBid(b)
	ask, _ := BestAsk(b)
	assert.Less(t, bid, 0.40)
	assert.Greater(t, ask, 0.40)
}

func TestBuildSyntheticRejectsBadReference(t *testing.T) {
	for _, ref := range []float64{0, 1, -0.2, 1.5} {
		_, err := BuildSynthetic("m", ref, SyntheticConfig{})
		assert.Error(t, err, "ref=%v", ref)
	}
}
