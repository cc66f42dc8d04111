package evaluator

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/propdesk/internal/domain"
	"github.com/alanyoungcy/propdesk/internal/domain/domaintest"
	"github.com/alanyoungcy/propdesk/internal/outage"
)

var testNow = time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)

func defaultRules() domain.RulesConfig {
	return domain.RulesConfig{
		ProfitTarget:          500,
		MaxDrawdown:           1000,
		DailyLossLimitPercent: 0.05,
		MaxPositionPercent:    0.25,
		MaxOpenPositions:      10,
	}
}

type harness struct {
	challenges *domaintest.ChallengeStore
	positions  *domaintest.PositionStore
	trades     *domaintest.TradeStore
	prices     *domaintest.PriceSource
	tx         *domaintest.TxRunner
	audit      *domaintest.AuditStore
	eval       *Evaluator
}

func newHarness(t *testing.T, outages *outage.Manager, challenges ...domain.Challenge) *harness {
	t.Helper()
	h := &harness{
		challenges: domaintest.NewChallengeStore(challenges...),
		positions:  domaintest.NewPositionStore(),
		trades:     domaintest.NewTradeStore(),
		prices:     domaintest.NewPriceSource(nil),
		audit:      domaintest.NewAuditStore(),
	}
	h.tx = domaintest.NewTxRunner(h.challenges, h.positions, h.trades)
	h.eval = New(h.challenges, h.positions, h.trades, h.prices, outages, h.tx, h.audit, nil,
		slog.New(slog.DiscardHandler))
	h.eval.SetClock(func() time.Time { return testNow })
	return h
}

func activeChallenge(balance float64) domain.Challenge {
	return domain.Challenge{
		ID:              "ch-1",
		Phase:           domain.PhaseChallenge,
		Status:          domain.StatusActive,
		StartingBalance: 10000,
		CurrentBalance:  balance,
		StartOfDayBal:   balance,
		HighWaterMark:   10000,
		Rules:           defaultRules(),
	}
}

func TestEvaluateTerminalStateShortCircuits(t *testing.T) {
	c := activeChallenge(10000)
	c.Status = domain.StatusFailed
	h := newHarness(t, nil, c)

	first, err := h.eval.Evaluate(context.Background(), "ch-1")
	require.NoError(t, err)
	second, err := h.eval.Evaluate(context.Background(), "ch-1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, domain.StatusFailed, first.Status)
	assert.Zero(t, h.positions.ListOpenCalls)
	assert.Zero(t, h.prices.BatchCalls)
	assert.Zero(t, h.tx.TxCalls)
	assert.Zero(t, h.challenges.WriteCalls)
}

func TestEvaluateMissingChallengeFailsOpen(t *testing.T) {
	h := newHarness(t, nil)

	res, err := h.eval.Evaluate(context.Background(), "ghost")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, res.Status)
	assert.Contains(t, res.Reason, "not found")
	assert.Zero(t, h.positions.ListOpenCalls)
}

func TestEvaluateSuspendedDuringOutage(t *testing.T) {
	outages := domaintest.NewOutageStore(domain.OutageEvent{
		ID:        "out-1",
		StartedAt: testNow.Add(-10 * time.Minute),
		Reason:    "feed down",
	})
	c := activeChallenge(8000) // deep in drawdown, would fail if evaluated
	h := newHarness(t,
		outage.NewManager(outages, nil, nil, 0, slog.New(slog.DiscardHandler)), c)

	res, err := h.eval.Evaluate(context.Background(), "ch-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, res.Status)
	assert.Contains(t, res.Reason, "Exchange halt")
	assert.Zero(t, h.positions.ListOpenCalls)
	assert.Zero(t, h.tx.TxCalls)
}

func TestEvaluateDrawdownBoundary(t *testing.T) {
	t.Run("exactly at limit fails", func(t *testing.T) {
		c := activeChallenge(9500)
		c.HighWaterMark = 10500 // reference
		h := newHarness(t, nil, c)

		res, err := h.eval.Evaluate(context.Background(), "ch-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusFailed, res.Status)
		assert.Contains(t, res.Reason, "drawdown")
		assert.Equal(t, 1, h.tx.TxCalls)
		assert.Equal(t, domain.StatusFailed, h.challenges.Challenges["ch-1"].Status)
	})

	t.Run("one cent inside stays active", func(t *testing.T) {
		c := activeChallenge(9500.01)
		c.HighWaterMark = 10500
		c.StartOfDayBal = 9400 // no daily loss
		h := newHarness(t, nil, c)

		res, err := h.eval.Evaluate(context.Background(), "ch-1")
		require.NoError(t, err)
		assert.Equal(t, domain.StatusActive, res.Status)
		assert.Zero(t, h.tx.TxCalls)
	})
}

func TestEvaluateFundedDrawdownIsStatic(t *testing.T) {
	// Funded: reference is the starting balance even when the high-water
	// mark sits above it, so equity 9200 is only an 800 drawdown.
	c := activeChallenge(9200)
	c.Phase = domain.PhaseFunded
	c.HighWaterMark = 11000
	c.StartOfDayBal = 9200
	h := newHarness(t, nil, c)

	res, err := h.eval.Evaluate(context.Background(), "ch-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, res.Status)

	// The same numbers in the challenge phase trail the high-water mark
	// and breach.
	c2 := c
	c2.ID = "ch-2"
	c2.Phase = domain.PhaseChallenge
	h2 := newHarness(t, nil, c2)

	res2, err := h2.eval.Evaluate(context.Background(), "ch-2")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, res2.Status)
	assert.Contains(t, res2.Reason, "drawdown")
}

func TestEvaluateHighWaterMarkOnlyRises(t *testing.T) {
	c := activeChallenge(10200)
	h := newHarness(t, nil, c)

	_, err := h.eval.Evaluate(context.Background(), "ch-1")
	require.NoError(t, err)
	assert.Equal(t, 10200.0, h.challenges.Challenges["ch-1"].HighWaterMark)

	// Equity falls back: the mark stays where it was.
	c = h.challenges.Challenges["ch-1"]
	c.CurrentBalance = 9900
	c.StartOfDayBal = 9900
	h.challenges.Challenges["ch-1"] = c

	_, err = h.eval.Evaluate(context.Background(), "ch-1")
	require.NoError(t, err)
	assert.Equal(t, 10200.0, h.challenges.Challenges["ch-1"].HighWaterMark)
}

func TestEvaluateDailyLossBoundaryAndRecovery(t *testing.T) {
	ctx := context.Background()

	// Exactly at the limit: not breached.
	c := activeChallenge(9500)
	c.StartOfDayBal = 10000
	h := newHarness(t, nil, c)
	res, err := h.eval.Evaluate(ctx, "ch-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, res.Status)
	assert.Nil(t, h.challenges.Challenges["ch-1"].PendingFailureAt)

	// Strictly past the limit: pending failure, one write, idempotent.
	c2 := activeChallenge(9499)
	c2.StartOfDayBal = 10000
	h2 := newHarness(t, nil, c2)
	res, err = h2.eval.Evaluate(ctx, "ch-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingFailure, res.Status)
	assert.Contains(t, res.Reason, "Daily loss")
	require.NotNil(t, h2.challenges.Challenges["ch-1"].PendingFailureAt)
	writes := h2.challenges.WriteCalls

	res, err = h2.eval.Evaluate(ctx, "ch-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPendingFailure, res.Status)
	assert.Equal(t, writes, h2.challenges.WriteCalls, "repeat breach must not rewrite")

	// Recovery before the reset clears the grace period.
	rec := h2.challenges.Challenges["ch-1"]
	rec.CurrentBalance = 9800
	h2.challenges.Challenges["ch-1"] = rec
	res, err = h2.eval.Evaluate(ctx, "ch-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, res.Status)
	assert.Contains(t, res.Reason, "recovered")
	assert.Nil(t, h2.challenges.Challenges["ch-1"].PendingFailureAt)
}

func TestEvaluateTimeExpiry(t *testing.T) {
	past := testNow.Add(-time.Hour)

	c := activeChallenge(10000)
	c.EndsAt = &past
	h := newHarness(t, nil, c)
	res, err := h.eval.Evaluate(context.Background(), "ch-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.Contains(t, res.Reason, "Time")

	// Funded accounts have no clock.
	c2 := activeChallenge(10000)
	c2.ID = "ch-2"
	c2.Phase = domain.PhaseFunded
	c2.EndsAt = &past
	h2 := newHarness(t, nil, c2)
	res, err = h2.eval.Evaluate(context.Background(), "ch-2")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, res.Status)
}

func TestEvaluatePassFlipsToFundedInOneTransaction(t *testing.T) {
	c := activeChallenge(9000)
	c.StartOfDayBal = 10000
	h := newHarness(t, nil, c)

	// One open YES position bought for 1000 at 0.50, now trading at 0.80.
	require.NoError(t, h.positions.Create(context.Background(), domain.Position{
		ID:          "pos-1",
		ChallengeID: "ch-1",
		MarketID:    "mkt-1",
		Direction:   domain.DirectionYes,
		Shares:      2000,
		EntryPrice:  0.50,
		Status:      domain.PositionStatusOpen,
	}))
	require.NoError(t, h.trades.Insert(context.Background(), domain.Trade{
		ID: "tr-1", ChallengeID: "ch-1", MarketID: "mkt-1",
		Type: domain.TradeTypeBuy, Direction: domain.DirectionYes,
		Price: 0.50, Amount: 1000, Shares: 2000, ExecutedAt: testNow.Add(-time.Hour),
	}))
	h.prices.Prices["mkt-1"] = 0.80

	res, err := h.eval.Evaluate(context.Background(), "ch-1")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusPassed, res.Status)
	assert.Contains(t, res.Reason, "FUNDED")
	assert.InDelta(t, 10600.0, res.Equity, 1e-9)
	assert.Equal(t, 1, h.tx.TxCalls)

	got := h.challenges.Challenges["ch-1"]
	assert.Equal(t, domain.StatusPassed, got.Status)
	assert.Equal(t, domain.PhaseFunded, got.Phase)

	pos := h.positions.Positions["pos-1"]
	assert.Equal(t, domain.PositionStatusClosed, pos.Status)
	require.NotNil(t, pos.ExitPrice)
	assert.InDelta(t, 0.80, *pos.ExitPrice, 1e-9)

	trades, err := h.trades.ListByChallenge(context.Background(), "ch-1", domain.ListOpts{})
	require.NoError(t, err)
	require.Len(t, trades, 2)
	sell := trades[1]
	assert.Equal(t, domain.TradeTypeSell, sell.Type)
	require.NotNil(t, sell.RealizedPnL)
	assert.InDelta(t, 600.0, *sell.RealizedPnL, 1e-9)
}

func TestEvaluatePassRefusedWhenLedgerDiverges(t *testing.T) {
	// Cash is inflated by 1000 the trade ledger cannot account for.
	c := activeChallenge(10000)
	c.StartOfDayBal = 10000
	h := newHarness(t, nil, c)

	require.NoError(t, h.positions.Create(context.Background(), domain.Position{
		ID:          "pos-1",
		ChallengeID: "ch-1",
		MarketID:    "mkt-1",
		Direction:   domain.DirectionYes,
		Shares:      2000,
		EntryPrice:  0.50,
		Status:      domain.PositionStatusOpen,
	}))
	h.prices.Prices["mkt-1"] = 0.80

	res, err := h.eval.Evaluate(context.Background(), "ch-1")
	require.NoError(t, err)

	assert.Equal(t, domain.StatusActive, res.Status)
	assert.Contains(t, res.Reason, "remaining active")
	assert.Zero(t, h.tx.TxCalls)
	assert.Equal(t, domain.StatusActive, h.challenges.Challenges["ch-1"].Status)
	assert.Equal(t, domain.PositionStatusOpen, h.positions.Positions["pos-1"].Status)
}

func TestEvaluateFailedCommitLeavesStateUntouched(t *testing.T) {
	c := activeChallenge(9500)
	c.HighWaterMark = 10540 // equity 9540 with the open position: exactly at the limit
	h := newHarness(t, nil, c)
	require.NoError(t, h.positions.Create(context.Background(), domain.Position{
		ID:          "pos-1",
		ChallengeID: "ch-1",
		MarketID:    "mkt-1",
		Direction:   domain.DirectionYes,
		Shares:      100,
		EntryPrice:  0.40,
		Status:      domain.PositionStatusOpen,
	}))
	h.prices.Prices["mkt-1"] = 0.40
	h.tx.FailCommit = errors.New("connection reset")

	_, err := h.eval.Evaluate(context.Background(), "ch-1")
	require.Error(t, err)

	assert.Equal(t, domain.StatusActive, h.challenges.Challenges["ch-1"].Status)
	assert.Equal(t, domain.PositionStatusOpen, h.positions.Positions["pos-1"].Status)
	trades, err := h.trades.ListByChallenge(context.Background(), "ch-1", domain.ListOpts{})
	require.NoError(t, err)
	assert.Empty(t, trades)
}

func TestEvaluateBatchesPricesOnce(t *testing.T) {
	c := activeChallenge(9000)
	c.StartOfDayBal = 9000
	h := newHarness(t, nil, c)
	for _, id := range []string{"pos-1", "pos-2", "pos-3"} {
		require.NoError(t, h.positions.Create(context.Background(), domain.Position{
			ID: id, ChallengeID: "ch-1", MarketID: "mkt-" + id,
			Direction: domain.DirectionYes, Shares: 100, EntryPrice: 0.5,
			Status: domain.PositionStatusOpen,
		}))
		h.prices.Prices["mkt-"+id] = 0.5
	}

	_, err := h.eval.Evaluate(context.Background(), "ch-1")
	require.NoError(t, err)
	assert.Equal(t, 1, h.positions.ListOpenCalls)
	assert.Equal(t, 1, h.prices.BatchCalls)
	assert.Zero(t, h.prices.SingleCalls)
}

func TestResetDayFinalizesUnrecoveredBreach(t *testing.T) {
	at := testNow.Add(-3 * time.Hour)
	c := activeChallenge(9400)
	c.Status = domain.StatusPendingFailure
	c.StartOfDayBal = 10000
	c.PendingFailureAt = &at
	h := newHarness(t, nil, c)

	res, err := h.eval.ResetDay(context.Background(), "ch-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusFailed, res.Status)
	assert.Contains(t, res.Reason, "Daily loss")
	assert.Equal(t, domain.StatusFailed, h.challenges.Challenges["ch-1"].Status)
}

func TestResetDayClearsRecoveredBreachAndRollsBalance(t *testing.T) {
	at := testNow.Add(-3 * time.Hour)
	c := activeChallenge(9800)
	c.Status = domain.StatusPendingFailure
	c.StartOfDayBal = 10000
	c.PendingFailureAt = &at
	h := newHarness(t, nil, c)

	res, err := h.eval.ResetDay(context.Background(), "ch-1")
	require.NoError(t, err)
	assert.Equal(t, domain.StatusActive, res.Status)

	got := h.challenges.Challenges["ch-1"]
	assert.Nil(t, got.PendingFailureAt)
	assert.Equal(t, 9800.0, got.StartOfDayBal)
	require.NotNil(t, got.LastDailyResetAt)

	// A second sweep inside the same UTC day is a no-op.
	writes := h.challenges.WriteCalls
	res, err = h.eval.ResetDay(context.Background(), "ch-1")
	require.NoError(t, err)
	assert.Contains(t, res.Reason, "already applied")
	assert.Equal(t, writes, h.challenges.WriteCalls)
}
