package evaluator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/propdesk/internal/domain"
)

// ResetDay runs the daily boundary for one challenge: an unrecovered
// grace-period breach is finalized as failed, a recovered one is cleared,
// and the start-of-day balance rolls to current equity. Guarded by the last
// reset timestamp so repeated sweeps within one UTC day are no-ops.
func (e *Evaluator) ResetDay(ctx context.Context, challengeID string) (domain.EvalResult, error) {
	now := e.clock()

	challenge, err := e.challenges.GetByID(ctx, challengeID)
	if err != nil {
		return domain.EvalResult{}, fmt.Errorf("evaluator: reset load challenge %s: %w", challengeID, err)
	}
	if challenge.Status.IsTerminal() {
		return domain.EvalResult{
			ChallengeID: challengeID,
			Status:      challenge.Status,
			Equity:      challenge.CurrentBalance,
			Reason:      fmt.Sprintf("Challenge already %s", challenge.Status),
			EvaluatedAt: now,
		}, nil
	}
	if challenge.LastDailyResetAt != nil && sameUTCDay(*challenge.LastDailyResetAt, now) {
		return domain.EvalResult{
			ChallengeID: challengeID,
			Status:      challenge.Status,
			Equity:      challenge.CurrentBalance,
			Reason:      "Daily reset already applied",
			EvaluatedAt: now,
		}, nil
	}

	ec, err := e.collect(ctx, challenge, now)
	if err != nil {
		return domain.EvalResult{}, err
	}

	if challenge.PendingFailureAt != nil {
		lossPct := 0.0
		if challenge.StartOfDayBal > 0 {
			lossPct = (challenge.StartOfDayBal - ec.equity) / challenge.StartOfDayBal
		}
		if lossPct > challenge.Rules.DailyLossLimitPercent {
			reason := fmt.Sprintf("Daily loss limit breached at reset: %.2f%% (limit %.2f%%)",
				lossPct*100, challenge.Rules.DailyLossLimitPercent*100)
			if err := e.finalize(ctx, ec, domain.StatusFailed, challenge.Phase, reason); err != nil {
				return domain.EvalResult{}, err
			}
			return e.result(ec, domain.StatusFailed, reason), nil
		}
		if err := e.challenges.ClearPendingFailure(ctx, challengeID); err != nil {
			return domain.EvalResult{}, fmt.Errorf("evaluator: reset clear pending failure %s: %w", challengeID, err)
		}
		e.logger.InfoContext(ctx, "pending failure cleared at reset",
			slog.String("challenge_id", challengeID),
			slog.Float64("equity", ec.equity),
		)
	}

	if err := e.challenges.SetStartOfDay(ctx, challengeID, ec.equity, now); err != nil {
		return domain.EvalResult{}, fmt.Errorf("evaluator: set start of day %s: %w", challengeID, err)
	}

	return e.result(ec, domain.StatusActive, "Daily reset applied"), nil
}

func sameUTCDay(a, b time.Time) bool {
	ay, am, ad := a.UTC().Date()
	by, bm, bd := b.UTC().Date()
	return ay == by && am == bm && ad == bd
}
