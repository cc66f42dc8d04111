package activity

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/propdesk/internal/domain"
	"github.com/alanyoungcy/propdesk/internal/domain/domaintest"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newTracker(challenges *domaintest.ChallengeStore, trades *domaintest.TradeStore) *Tracker {
	tr := New(challenges, trades, slog.New(slog.DiscardHandler))
	tr.SetClock(func() time.Time { return testNow })
	return tr
}

func sell(id string, at time.Time, pnl float64) domain.Trade {
	return domain.Trade{
		ID: id, ChallengeID: "ch-1", MarketID: "mkt-1",
		Type: domain.TradeTypeSell, Direction: domain.DirectionYes,
		RealizedPnL: &pnl, ExecutedAt: at,
	}
}

func buy(id string, at time.Time) domain.Trade {
	return domain.Trade{
		ID: id, ChallengeID: "ch-1", MarketID: "mkt-1",
		Type: domain.TradeTypeBuy, Direction: domain.DirectionYes,
		ExecutedAt: at,
	}
}

func TestSummarizeCountsDistinctUTCDays(t *testing.T) {
	challenges := domaintest.NewChallengeStore(domain.Challenge{
		ID: "ch-1", Rules: domain.RulesConfig{ConsistencyMaxShare: 0.5},
	})
	// Two trades on the same UTC day, one the day after, one three days on.
	day1 := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	trades := domaintest.NewTradeStore(
		buy("t1", day1),
		buy("t2", day1.Add(6*time.Hour)),
		buy("t3", day1.AddDate(0, 0, 1)),
		buy("t4", day1.AddDate(0, 0, 3)),
	)

	summary, err := newTracker(challenges, trades).Summarize(context.Background(), "ch-1")
	require.NoError(t, err)
	assert.Equal(t, 3, summary.ActiveTradingDays)
	assert.Equal(t, 1, summary.InactivityDays) // last trade Mar 13, now Mar 14
}

func TestSummarizeNoTradesCountsFromCreation(t *testing.T) {
	challenges := domaintest.NewChallengeStore(domain.Challenge{
		ID:        "ch-1",
		CreatedAt: testNow.AddDate(0, 0, -6),
	})

	summary, err := newTracker(challenges, domaintest.NewTradeStore()).Summarize(context.Background(), "ch-1")
	require.NoError(t, err)
	assert.Zero(t, summary.ActiveTradingDays)
	assert.Equal(t, 6, summary.InactivityDays)
	assert.True(t, summary.Consistent)
	assert.Zero(t, summary.LargestDayShare)
}

func TestSummarizeConsistency(t *testing.T) {
	challenges := domaintest.NewChallengeStore(domain.Challenge{
		ID: "ch-1", Rules: domain.RulesConfig{ConsistencyMaxShare: 0.5},
	})
	day := func(n int) time.Time { return time.Date(2026, 3, n, 10, 0, 0, 0, time.UTC) }

	t.Run("one day dominating breaks consistency", func(t *testing.T) {
		trades := domaintest.NewTradeStore(
			sell("t1", day(10), 900),
			sell("t2", day(11), 50),
			sell("t3", day(12), 50),
		)
		summary, err := newTracker(challenges, trades).Summarize(context.Background(), "ch-1")
		require.NoError(t, err)
		assert.False(t, summary.Consistent)
		assert.InDelta(t, 0.9, summary.LargestDayShare, 1e-9)
	})

	t.Run("even profit is consistent, losses excluded", func(t *testing.T) {
		trades := domaintest.NewTradeStore(
			sell("t1", day(10), 100),
			sell("t2", day(11), 100),
			sell("t3", day(12), -400), // losing day must not dilute shares
		)
		summary, err := newTracker(challenges, trades).Summarize(context.Background(), "ch-1")
		require.NoError(t, err)
		assert.True(t, summary.Consistent)
		assert.InDelta(t, 0.5, summary.LargestDayShare, 1e-9)
	})
}

func TestSummarizeWinRate(t *testing.T) {
	challenges := domaintest.NewChallengeStore(domain.Challenge{ID: "ch-1"})
	day := time.Date(2026, 3, 10, 10, 0, 0, 0, time.UTC)

	t.Run("nil without closed trades", func(t *testing.T) {
		trades := domaintest.NewTradeStore(buy("t1", day))
		summary, err := newTracker(challenges, trades).Summarize(context.Background(), "ch-1")
		require.NoError(t, err)
		assert.Nil(t, summary.WinRate)
	})

	t.Run("percentage of profitable closes", func(t *testing.T) {
		trades := domaintest.NewTradeStore(
			sell("t1", day, 100),
			sell("t2", day, -50),
			buy("t3", day), // opens never count
		)
		summary, err := newTracker(challenges, trades).Summarize(context.Background(), "ch-1")
		require.NoError(t, err)
		require.NotNil(t, summary.WinRate)
		assert.InDelta(t, 50.0, *summary.WinRate, 1e-9)
	})
}

func TestInactive(t *testing.T) {
	challenges := domaintest.NewChallengeStore(domain.Challenge{
		ID:        "ch-1",
		CreatedAt: testNow.AddDate(0, 0, -10),
		Rules:     domain.RulesConfig{MaxInactiveDays: 7},
	})

	idle, err := newTracker(challenges, domaintest.NewTradeStore()).Inactive(context.Background(), "ch-1")
	require.NoError(t, err)
	assert.True(t, idle)

	// A recent trade resets the streak.
	trades := domaintest.NewTradeStore(buy("t1", testNow.AddDate(0, 0, -2)))
	idle, err = newTracker(challenges, trades).Inactive(context.Background(), "ch-1")
	require.NoError(t, err)
	assert.False(t, idle)
}
