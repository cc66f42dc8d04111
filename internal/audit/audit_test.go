package audit

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

func newAuditor(challenges *domaintest.ChallengeStore, trades *domaintest.TradeStore, store *domaintest.AuditStore) *Auditor {
	return New(challenges, trades, store, nil, slog.New(slog.DiscardHandler))
}

func trade(id string, tp domain.TradeType, amount float64) domain.Trade {
	return domain.Trade{
		ID:          id,
		ChallengeID: "ch-1",
		MarketID:    "mkt-1",
		Type:        tp,
		Direction:   domain.DirectionYes,
		Amount:      amount,
		ExecutedAt:  time.Now(),
	}
}

func TestAuditChallengeBalanced(t *testing.T) {
	challenges := domaintest.NewChallengeStore(domain.Challenge{
		ID:              "ch-1",
		StartingBalance: 10000,
		CurrentBalance:  10250.30,
	})
	trades := domaintest.NewTradeStore(
		trade("t1", domain.TradeTypeBuy, 1200),
		trade("t2", domain.TradeTypeSell, 1450.30),
	)
	store := domaintest.NewAuditStore()

	report, err := newAuditor(challenges, trades, store).AuditChallenge(context.Background(), "ch-1")
	require.NoError(t, err)

	assert.False(t, report.Flagged)
	assert.InDelta(t, 0, report.Discrepancy, 1e-9)
	assert.InDelta(t, 10250.30, report.ExpectedBalance, 1e-9)
	assert.Equal(t, 2, report.TradeCount)
	assert.Empty(t, store.Entries)
}

func TestAuditChallengeFlagsDiscrepancy(t *testing.T) {
	challenges := domaintest.NewChallengeStore(domain.Challenge{
		ID:              "ch-1",
		StartingBalance: 10000,
		CurrentBalance:  10150, // ledger says 10000-500+600 = 10100
	})
	trades := domaintest.NewTradeStore(
		trade("t1", domain.TradeTypeBuy, 500),
		trade("t2", domain.TradeTypeSell, 600),
	)
	store := domaintest.NewAuditStore()

	report, err := newAuditor(challenges, trades, store).AuditChallenge(context.Background(), "ch-1")
	require.NoError(t, err)

	assert.True(t, report.Flagged)
	assert.InDelta(t, 50, report.Discrepancy, 1e-9)
	require.Len(t, store.Entries, 1)
	assert.Equal(t, "balance_discrepancy", store.Entries[0].Event)

	// The stored balance is never auto-corrected.
	got, err := challenges.GetByID(context.Background(), "ch-1")
	require.NoError(t, err)
	assert.Equal(t, 10150.0, got.CurrentBalance)
}

func TestAuditChallengeWithinThresholdNotFlagged(t *testing.T) {
	challenges := domaintest.NewChallengeStore(domain.Challenge{
		ID:              "ch-1",
		StartingBalance: 10000,
		CurrentBalance:  10000.99, // under the $1 threshold
	})
	store := domaintest.NewAuditStore()

	report, err := newAuditor(challenges, domaintest.NewTradeStore(), store).AuditChallenge(context.Background(), "ch-1")
	require.NoError(t, err)
	assert.False(t, report.Flagged)
}

func TestAuditActiveSkipsTerminalAndSurvivesErrors(t *testing.T) {
	failed := domain.Challenge{ID: "ch-dead", Status: domain.StatusFailed, StartingBalance: 10000}
	ok := domain.Challenge{ID: "ch-1", Status: domain.StatusActive, StartingBalance: 10000, CurrentBalance: 10000}
	challenges := domaintest.NewChallengeStore(failed, ok)

	reports, err := newAuditor(challenges, domaintest.NewTradeStore(), domaintest.NewAuditStore()).
		AuditActive(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, "ch-1", reports[0].ChallengeID)
}
