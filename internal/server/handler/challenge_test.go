package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/propdesk/internal/activity"
	"github.com/alanyoungcy/propdesk/internal/domain"
	"github.com/alanyoungcy/propdesk/internal/domain/domaintest"
	"github.com/alanyoungcy/propdesk/internal/evaluator"
)

func newChallengeHandler(
	t *testing.T,
	challenges *domaintest.ChallengeStore,
	positions *domaintest.PositionStore,
	trades *domaintest.TradeStore,
	prices *domaintest.PriceSource,
) *ChallengeHandler {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	tx := domaintest.NewTxRunner(challenges, positions, trades)
	eval := evaluator.New(challenges, positions, trades, prices, nil, tx,
		domaintest.NewAuditStore(), nil, logger)
	tracker := activity.New(challenges, trades, logger)
	return NewChallengeHandler(eval, challenges, positions, prices, tracker, logger)
}

func getJSON(t *testing.T, h http.HandlerFunc, path, id string) (int, map[string]any) {
	t.Helper()
	r := httptest.NewRequest(http.MethodGet, path, nil)
	r.SetPathValue("id", id)
	w := httptest.NewRecorder()
	h(w, r)

	var body map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	}
	return w.Code, body
}

func TestSummaryIncludesWinRateAndOpenPositions(t *testing.T) {
	challenges := domaintest.NewChallengeStore(domain.Challenge{ID: "ch-1"})
	win, loss := 50.0, -20.0
	day := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)
	trades := domaintest.NewTradeStore(
		domain.Trade{ID: "t1", ChallengeID: "ch-1", Type: domain.TradeTypeSell, RealizedPnL: &win, ExecutedAt: day},
		domain.Trade{ID: "t2", ChallengeID: "ch-1", Type: domain.TradeTypeSell, RealizedPnL: &loss, ExecutedAt: day},
	)
	positions := domaintest.NewPositionStore(
		domain.Position{ID: "p1", ChallengeID: "ch-1", Status: domain.PositionStatusOpen},
		domain.Position{ID: "p2", ChallengeID: "ch-1", Status: domain.PositionStatusClosed},
	)

	h := newChallengeHandler(t, challenges, positions, trades, domaintest.NewPriceSource(nil))
	code, body := getJSON(t, h.Summary, "/api/challenges/ch-1/summary", "ch-1")

	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, 50.0, body["win_rate"])
	assert.Equal(t, 1.0, body["open_positions"])
}

func TestSummaryWinRateNullWithoutClosedTrades(t *testing.T) {
	challenges := domaintest.NewChallengeStore(domain.Challenge{ID: "ch-1"})
	h := newChallengeHandler(t, challenges, domaintest.NewPositionStore(),
		domaintest.NewTradeStore(), domaintest.NewPriceSource(nil))

	code, body := getJSON(t, h.Summary, "/api/challenges/ch-1/summary", "ch-1")

	require.Equal(t, http.StatusOK, code)
	// "no closed trades yet" must stay distinguishable from a 0% win rate.
	require.Contains(t, body, "win_rate")
	assert.Nil(t, body["win_rate"])
}

func TestPositionsMarksToLivePrices(t *testing.T) {
	challenges := domaintest.NewChallengeStore(domain.Challenge{ID: "ch-1"})
	positions := domaintest.NewPositionStore(
		domain.Position{
			ID: "p1", ChallengeID: "ch-1", MarketID: "mkt-priced",
			Direction: domain.DirectionNo, Shares: 100, EntryPrice: 0.3,
			Status: domain.PositionStatusOpen,
		},
		domain.Position{
			ID: "p2", ChallengeID: "ch-1", MarketID: "mkt-dark",
			Direction: domain.DirectionYes, Shares: 10, EntryPrice: 0.6,
			Status: domain.PositionStatusOpen,
		},
	)
	prices := domaintest.NewPriceSource(map[string]float64{"mkt-priced": 0.4})

	h := newChallengeHandler(t, challenges, positions, domaintest.NewTradeStore(), prices)
	code, body := getJSON(t, h.Positions, "/api/challenges/ch-1/positions", "ch-1")
	require.Equal(t, http.StatusOK, code)

	rows, ok := body["positions"].([]any)
	require.True(t, ok)
	require.Len(t, rows, 2)

	byID := map[string]map[string]any{}
	for _, r := range rows {
		row := r.(map[string]any)
		byID[row["id"].(string)] = row
	}

	// NO position at YES 0.4: effective 0.6, pnl 100*(0.6-0.3)=30, roi 1.0.
	priced := byID["p1"]
	assert.InDelta(t, 0.6, priced["effective_price"].(float64), 1e-9)
	assert.InDelta(t, 30.0, priced["unrealized_pnl"].(float64), 1e-9)
	assert.InDelta(t, 1.0, priced["roi"].(float64), 1e-9)

	// No usable price: listed, but never marked at an assumed mid.
	dark := byID["p2"]
	assert.Equal(t, 10.0, dark["shares"])
	assert.NotContains(t, dark, "effective_price")
	assert.NotContains(t, dark, "unrealized_pnl")
}

func TestPositionsUnknownChallenge(t *testing.T) {
	h := newChallengeHandler(t, domaintest.NewChallengeStore(), domaintest.NewPositionStore(),
		domaintest.NewTradeStore(), domaintest.NewPriceSource(nil))

	code, _ := getJSON(t, h.Positions, "/api/challenges/nope/positions", "nope")
	assert.Equal(t, http.StatusNotFound, code)
}
