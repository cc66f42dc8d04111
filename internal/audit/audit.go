// Package audit replays a challenge's trade ledger and compares the derived
// cash balance against the stored one. Discrepancies are flagged and
// alerted, never auto-corrected.
package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/propdesk/internal/domain"
	"github.com/alanyoungcy/propdesk/internal/money"
	"github.com/alanyoungcy/propdesk/internal/notify"
)

// DiscrepancyThreshold is the absolute divergence, in account currency,
// above which a balance is flagged.
const DiscrepancyThreshold = 1.0

// Report is the outcome of replaying one challenge's ledger.
type Report struct {
	ChallengeID     string  `json:"challenge_id"`
	StartingBalance float64 `json:"starting_balance"`
	ExpectedBalance float64 `json:"expected_balance"`
	ActualBalance   float64 `json:"actual_balance"`
	Discrepancy     float64 `json:"discrepancy"` // actual minus expected
	TradeCount      int     `json:"trade_count"`
	Flagged         bool    `json:"flagged"`
}

// Auditor replays trade ledgers against stored balances.
type Auditor struct {
	challenges domain.ChallengeStore
	trades     domain.TradeStore
	audit      domain.AuditStore
	notifier   *notify.Notifier
	logger     *slog.Logger
}

func New(
	challenges domain.ChallengeStore,
	trades domain.TradeStore,
	auditStore domain.AuditStore,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *Auditor {
	return &Auditor{
		challenges: challenges,
		trades:     trades,
		audit:      auditStore,
		notifier:   notifier,
		logger:     logger.With(slog.String("component", "audit")),
	}
}

// AuditChallenge replays one ledger: starting balance minus every BUY cost
// plus every SELL proceed must equal the stored cash balance. The replay
// runs on exact decimals so float drift cannot fake a discrepancy.
func (a *Auditor) AuditChallenge(ctx context.Context, challengeID string) (Report, error) {
	challenge, err := a.challenges.GetByID(ctx, challengeID)
	if err != nil {
		return Report{}, fmt.Errorf("audit: load challenge %s: %w", challengeID, err)
	}

	trades, err := a.trades.ListByChallenge(ctx, challengeID, domain.ListOpts{})
	if err != nil {
		return Report{}, fmt.Errorf("audit: load trades %s: %w", challengeID, err)
	}

	expected := money.Decimal(challenge.StartingBalance)
	for _, t := range trades {
		amount := money.Decimal(t.Amount)
		switch t.Type {
		case domain.TradeTypeBuy:
			expected = expected.Sub(amount)
		case domain.TradeTypeSell:
			expected = expected.Add(amount)
		default:
			return Report{}, fmt.Errorf("audit: challenge %s trade %s: unknown type %q: %w",
				challengeID, t.ID, t.Type, domain.ErrDataIntegrity)
		}
	}

	actual := money.Decimal(challenge.CurrentBalance)
	disc := actual.Sub(expected)

	report := Report{
		ChallengeID:     challengeID,
		StartingBalance: challenge.StartingBalance,
		ExpectedBalance: expected.InexactFloat64(),
		ActualBalance:   challenge.CurrentBalance,
		Discrepancy:     disc.InexactFloat64(),
		TradeCount:      len(trades),
		Flagged:         disc.Abs().GreaterThan(decimal.NewFromFloat(DiscrepancyThreshold)),
	}

	if report.Flagged {
		a.flag(ctx, report)
	}
	return report, nil
}

// AuditActive audits every non-terminal challenge and returns all reports.
// A single bad challenge does not stop the sweep.
func (a *Auditor) AuditActive(ctx context.Context) ([]Report, error) {
	active, err := a.challenges.ListActive(ctx, domain.ListOpts{})
	if err != nil {
		return nil, fmt.Errorf("audit: list active: %w", err)
	}

	reports := make([]Report, 0, len(active))
	for _, c := range active {
		report, err := a.AuditChallenge(ctx, c.ID)
		if err != nil {
			a.logger.ErrorContext(ctx, "challenge audit failed",
				slog.String("challenge_id", c.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// flag records the discrepancy and alerts. The balance itself is left alone;
// reconciliation is a human decision.
func (a *Auditor) flag(ctx context.Context, r Report) {
	a.logger.WarnContext(ctx, "balance discrepancy detected",
		slog.String("challenge_id", r.ChallengeID),
		slog.Float64("expected", r.ExpectedBalance),
		slog.Float64("actual", r.ActualBalance),
		slog.Float64("discrepancy", r.Discrepancy),
	)

	if a.audit != nil {
		detail := map[string]any{
			"challenge_id": r.ChallengeID,
			"expected":     r.ExpectedBalance,
			"actual":       r.ActualBalance,
			"discrepancy":  r.Discrepancy,
			"trade_count":  r.TradeCount,
		}
		if err := a.audit.Log(ctx, "balance_discrepancy", detail); err != nil {
			a.logger.WarnContext(ctx, "audit log write failed", slog.String("error", err.Error()))
		}
	}

	if a.notifier != nil {
		msg := fmt.Sprintf("Challenge %s: stored balance %.2f differs from ledger replay %.2f by %.2f",
			r.ChallengeID, r.ActualBalance, r.ExpectedBalance, r.Discrepancy)
		if err := a.notifier.Notify(ctx, notify.EventAuditDiscrepancy, "Balance discrepancy", msg); err != nil {
			a.logger.WarnContext(ctx, "notification failed", slog.String("error", err.Error()))
		}
	}
}
