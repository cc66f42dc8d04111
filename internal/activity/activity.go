// Package activity derives trading-activity metrics for a challenge from
// its trade ledger: active days, inactivity streak and profit consistency.
package activity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/propdesk/internal/domain"
	"github.com/alanyoungcy/propdesk/internal/pricing"
)

// Tracker computes activity summaries from the trade ledger.
type Tracker struct {
	challenges domain.ChallengeStore
	trades     domain.TradeStore
	logger     *slog.Logger
	clock      func() time.Time
}

func New(challenges domain.ChallengeStore, trades domain.TradeStore, logger *slog.Logger) *Tracker {
	return &Tracker{
		challenges: challenges,
		trades:     trades,
		logger:     logger.With(slog.String("component", "activity")),
		clock:      time.Now,
	}
}

// SetClock overrides the tracker's clock; tests pin time with it.
func (t *Tracker) SetClock(clock func() time.Time) { t.clock = clock }

// Summarize reports a challenge's activity: distinct UTC trading days, days
// since the last trade (since creation when there is none) and whether
// realized profit is spread consistently enough across days.
func (t *Tracker) Summarize(ctx context.Context, challengeID string) (domain.ActivitySummary, error) {
	now := t.clock()

	challenge, err := t.challenges.GetByID(ctx, challengeID)
	if err != nil {
		return domain.ActivitySummary{}, fmt.Errorf("activity: load challenge %s: %w", challengeID, err)
	}

	trades, err := t.trades.ListByChallenge(ctx, challengeID, domain.ListOpts{})
	if err != nil {
		return domain.ActivitySummary{}, fmt.Errorf("activity: load trades %s: %w", challengeID, err)
	}

	days := map[string]bool{}
	dayProfit := map[string]float64{}
	var lastTrade time.Time
	for _, tr := range trades {
		day := tr.ExecutedAt.UTC().Format(time.DateOnly)
		days[day] = true
		if tr.Type == domain.TradeTypeSell && tr.RealizedPnL != nil {
			dayProfit[day] += *tr.RealizedPnL
		}
		if tr.ExecutedAt.After(lastTrade) {
			lastTrade = tr.ExecutedAt
		}
	}

	since := challenge.CreatedAt
	if !lastTrade.IsZero() {
		since = lastTrade
	}
	inactivity := 0
	if !since.IsZero() {
		inactivity = int(now.Sub(since).Hours() / 24)
		if inactivity < 0 {
			inactivity = 0
		}
	}

	largestShare, consistent := consistency(dayProfit, challenge.Rules.ConsistencyMaxShare)

	return domain.ActivitySummary{
		ChallengeID:       challengeID,
		ActiveTradingDays: len(days),
		InactivityDays:    inactivity,
		Consistent:        consistent,
		LargestDayShare:   largestShare,
		WinRate:           pricing.WinRate(trades),
	}, nil
}

// consistency returns the largest single-day share of total positive
// realized profit, and whether it stays within maxShare. Losing days do not
// dilute the denominator. A zero maxShare disables the check.
func consistency(dayProfit map[string]float64, maxShare float64) (float64, bool) {
	var total, largest float64
	for _, p := range dayProfit {
		if p <= 0 {
			continue
		}
		total += p
		if p > largest {
			largest = p
		}
	}
	if total == 0 {
		return 0, true
	}
	share := largest / total
	if maxShare <= 0 {
		return share, true
	}
	return share, share <= maxShare
}

// Inactive reports whether a challenge has been idle past its rule limit.
func (t *Tracker) Inactive(ctx context.Context, challengeID string) (bool, error) {
	challenge, err := t.challenges.GetByID(ctx, challengeID)
	if err != nil {
		return false, fmt.Errorf("activity: load challenge %s: %w", challengeID, err)
	}
	if challenge.Rules.MaxInactiveDays <= 0 {
		return false, nil
	}
	summary, err := t.Summarize(ctx, challengeID)
	if err != nil {
		return false, err
	}
	return summary.InactivityDays > challenge.Rules.MaxInactiveDays, nil
}
