package trading

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/propdesk/internal/domain"
	"github.com/alanyoungcy/propdesk/internal/domain/domaintest"
	"github.com/alanyoungcy/propdesk/internal/risk"
)

var testNow = time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)

type fixture struct {
	challenges *domaintest.ChallengeStore
	positions  *domaintest.PositionStore
	trades     *domaintest.TradeStore
	tx         *domaintest.TxRunner
	svc        *Service
}

// stubBooks is an in-memory BookCache for execution pricing tests.
type stubBooks struct {
	books map[string]domain.OrderBook
}

func (s *stubBooks) SetSnapshot(_ context.Context, b domain.OrderBook) error {
	s.books[b.MarketID] = b
	return nil
}

func (s *stubBooks) GetSnapshot(_ context.Context, marketID string) (domain.OrderBook, error) {
	b, ok := s.books[marketID]
	if !ok {
		return domain.OrderBook{}, domain.ErrNotFound
	}
	return b, nil
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)

	challenges := domaintest.NewChallengeStore(domain.Challenge{
		ID:              "ch-1",
		Phase:           domain.PhaseChallenge,
		Status:          domain.StatusActive,
		StartingBalance: 10000,
		CurrentBalance:  10000,
		StartOfDayBal:   10000,
		HighWaterMark:   10000,
		Rules: domain.RulesConfig{
			ProfitTarget:          1000,
			MaxDrawdown:           1000,
			DailyLossLimitPercent: 0.05,
			MaxPositionPercent:    0.25,
			MaxOpenPositions:      10,
			MinMarketLiquidity:    100,
		},
	})
	positions := domaintest.NewPositionStore()
	trades := domaintest.NewTradeStore()
	markets := domaintest.NewMarketStore(domain.Market{
		ID: "mkt-1", Question: "Will it rain?", Status: domain.MarketStatusActive,
		Liquidity: 5000,
	})
	prices := domaintest.NewPriceSource(map[string]float64{"mkt-1": 0.40})
	tx := domaintest.NewTxRunner(challenges, positions, trades)

	engine := risk.NewEngine(challenges, positions, markets, prices, logger)
	svc := New(engine, positions, nil, tx, logger)
	svc.SetClock(func() time.Time { return testNow })

	return &fixture{challenges: challenges, positions: positions, trades: trades, tx: tx, svc: svc}
}

func TestBuyRecordsPositionTradeAndDebit(t *testing.T) {
	f := newFixture(t)

	check, pos, err := f.svc.Buy(context.Background(), BuyRequest{
		ChallengeID: "ch-1",
		MarketID:    "mkt-1",
		Direction:   domain.DirectionNo,
		YesPrice:    0.40,
		Amount:      600,
	})
	require.NoError(t, err)
	require.True(t, check.Allowed)

	// NO at YES price 0.40 costs 0.60 per share.
	assert.InDelta(t, 0.60, pos.EntryPrice, 1e-9)
	assert.InDelta(t, 1000, pos.Shares, 1e-9)

	stored := f.positions.Positions[pos.ID]
	assert.Equal(t, domain.PositionStatusOpen, stored.Status)

	trades, err := f.trades.ListByChallenge(context.Background(), "ch-1", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, domain.TradeTypeBuy, trades[0].Type)
	assert.Nil(t, trades[0].RealizedPnL)

	assert.InDelta(t, 9400, f.challenges.Challenges["ch-1"].CurrentBalance, 1e-9)
	assert.Equal(t, 1, f.tx.TxCalls)
}

func TestBuyWalksOrderBookForEntryPrice(t *testing.T) {
	f := newFixture(t)
	f.svc.books = &stubBooks{books: map[string]domain.OrderBook{
		"mkt-1": {
			MarketID:  "mkt-1",
			Timestamp: testNow,
			Bids:      []domain.PriceLevel{{Price: 0.39, Size: 100}},
			Asks: []domain.PriceLevel{
				{Price: 0.40, Size: 500},  // 200 notional
				{Price: 0.50, Size: 1000}, // 500 notional
			},
		},
	}}

	// 400 notional consumes the whole 0.40 level (500 shares) plus 400
	// shares at 0.50: 900 shares at a weighted 0.4444 instead of spot 0.40.
	check, pos, err := f.svc.Buy(context.Background(), BuyRequest{
		ChallengeID: "ch-1",
		MarketID:    "mkt-1",
		Direction:   domain.DirectionYes,
		YesPrice:    0.40,
		Amount:      400,
	})
	require.NoError(t, err)
	require.True(t, check.Allowed)

	assert.InDelta(t, 400.0/900.0, pos.EntryPrice, 1e-9)
	assert.InDelta(t, 900, pos.Shares, 1e-9)
}

func TestBuyFallsBackToSpotWithoutUsableBook(t *testing.T) {
	f := newFixture(t)
	// One-sided book is dead; the fill prices at spot.
	f.svc.books = &stubBooks{books: map[string]domain.OrderBook{
		"mkt-1": {
			MarketID:  "mkt-1",
			Timestamp: testNow,
			Asks:      []domain.PriceLevel{{Price: 0.40, Size: 500}},
		},
	}}

	_, pos, err := f.svc.Buy(context.Background(), BuyRequest{
		ChallengeID: "ch-1",
		MarketID:    "mkt-1",
		Direction:   domain.DirectionYes,
		YesPrice:    0.40,
		Amount:      400,
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.40, pos.EntryPrice, 1e-9)
}

func TestBuyRejectedByRiskWritesNothing(t *testing.T) {
	f := newFixture(t)

	// 26% of equity against a 25% cap.
	check, _, err := f.svc.Buy(context.Background(), BuyRequest{
		ChallengeID: "ch-1",
		MarketID:    "mkt-1",
		Direction:   domain.DirectionYes,
		YesPrice:    0.40,
		Amount:      2600,
	})
	require.NoError(t, err)
	assert.False(t, check.Allowed)
	assert.Zero(t, f.tx.TxCalls)
	assert.InDelta(t, 10000, f.challenges.Challenges["ch-1"].CurrentBalance, 1e-9)
}

func TestBuyValidatesInput(t *testing.T) {
	f := newFixture(t)

	_, _, err := f.svc.Buy(context.Background(), BuyRequest{
		ChallengeID: "ch-1", MarketID: "mkt-1",
		Direction: domain.DirectionYes, YesPrice: 1.2, Amount: 100,
	})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, _, err = f.svc.Buy(context.Background(), BuyRequest{
		ChallengeID: "ch-1", MarketID: "mkt-1",
		Direction: "MAYBE", YesPrice: 0.5, Amount: 100,
	})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestSellClosesPositionAndCreditsProceeds(t *testing.T) {
	f := newFixture(t)

	_, pos, err := f.svc.Buy(context.Background(), BuyRequest{
		ChallengeID: "ch-1",
		MarketID:    "mkt-1",
		Direction:   domain.DirectionYes,
		YesPrice:    0.40,
		Amount:      400, // 1000 shares at 0.40
	})
	require.NoError(t, err)

	trade, err := f.svc.Sell(context.Background(), SellRequest{
		ChallengeID: "ch-1",
		PositionID:  pos.ID,
		YesPrice:    0.55,
	})
	require.NoError(t, err)

	require.NotNil(t, trade.RealizedPnL)
	assert.InDelta(t, 150, *trade.RealizedPnL, 1e-9) // (0.55-0.40)*1000
	assert.InDelta(t, 550, trade.Amount, 1e-9)

	stored := f.positions.Positions[pos.ID]
	assert.Equal(t, domain.PositionStatusClosed, stored.Status)

	// 10000 - 400 + 550
	assert.InDelta(t, 10150, f.challenges.Challenges["ch-1"].CurrentBalance, 1e-9)
}

func TestSellRejectsClosedOrForeignPositions(t *testing.T) {
	f := newFixture(t)

	_, pos, err := f.svc.Buy(context.Background(), BuyRequest{
		ChallengeID: "ch-1", MarketID: "mkt-1",
		Direction: domain.DirectionYes, YesPrice: 0.40, Amount: 400,
	})
	require.NoError(t, err)

	_, err = f.svc.Sell(context.Background(), SellRequest{
		ChallengeID: "ch-other", PositionID: pos.ID, YesPrice: 0.55,
	})
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.svc.Sell(context.Background(), SellRequest{
		ChallengeID: "ch-1", PositionID: pos.ID, YesPrice: 0.55,
	})
	require.NoError(t, err)

	_, err = f.svc.Sell(context.Background(), SellRequest{
		ChallengeID: "ch-1", PositionID: pos.ID, YesPrice: 0.55,
	})
	require.ErrorIs(t, err, domain.ErrValidation)
}
