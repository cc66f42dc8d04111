// Package evaluator implements the challenge risk state machine: it judges
// whether an account stays active, enters a failure grace period, fails,
// passes to the funded phase, or keeps accruing payable profit.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/propdesk/internal/domain"
	"github.com/alanyoungcy/propdesk/internal/notify"
	"github.com/alanyoungcy/propdesk/internal/outage"
	"github.com/alanyoungcy/propdesk/internal/pricing"
)

// sanityTolerance is the maximum divergence, in account currency, allowed
// between the claimed equity profit and the ledger-derived PnL before a
// phase pass is refused.
const sanityTolerance = 1.0

// Evaluator orchestrates per-account evaluation. It holds no per-challenge
// state, so evaluations for different challenges run concurrently; duplicate
// invocations for the same challenge converge because terminal states
// short-circuit and all writes happen once inside one transaction.
type Evaluator struct {
	challenges domain.ChallengeStore
	positions  domain.PositionStore
	trades     domain.TradeStore
	prices     domain.PriceSource
	outages    *outage.Manager
	tx         domain.TxRunner
	audit      domain.AuditStore
	notifier   *notify.Notifier
	logger     *slog.Logger
	clock      func() time.Time
}

// New creates an Evaluator with all required dependencies. outages, audit
// and notifier may be nil (evaluation then runs without suspension checks,
// audit trail or alerts; used by tests of the pure rule machine).
func New(
	challenges domain.ChallengeStore,
	positions domain.PositionStore,
	trades domain.TradeStore,
	prices domain.PriceSource,
	outages *outage.Manager,
	tx domain.TxRunner,
	audit domain.AuditStore,
	notifier *notify.Notifier,
	logger *slog.Logger,
) *Evaluator {
	return &Evaluator{
		challenges: challenges,
		positions:  positions,
		trades:     trades,
		prices:     prices,
		outages:    outages,
		tx:         tx,
		audit:      audit,
		notifier:   notifier,
		logger:     logger.With(slog.String("component", "evaluator")),
		clock:      time.Now,
	}
}

// SetClock overrides the evaluator's clock; tests pin time with it.
func (e *Evaluator) SetClock(clock func() time.Time) { e.clock = clock }

// evalCtx is the per-call context for one evaluation: the challenge, its
// open positions and the batched live prices. It is built once per call and
// never shared, so concurrent evaluations cannot contaminate each other.
type evalCtx struct {
	challenge domain.Challenge
	positions []domain.Position
	prices    map[string]float64
	equity    float64
	now       time.Time
}

// Evaluate runs the full rule pass for one challenge and returns its
// resulting status, live equity and a short reason.
func (e *Evaluator) Evaluate(ctx context.Context, challengeID string) (domain.EvalResult, error) {
	now := e.clock()

	challenge, err := e.challenges.GetByID(ctx, challengeID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Fail open: a missing row must not fail a trader.
			e.logger.WarnContext(ctx, "challenge not found, reporting active",
				slog.String("challenge_id", challengeID),
			)
			return domain.EvalResult{
				ChallengeID: challengeID,
				Status:      domain.StatusActive,
				Reason:      "Challenge not found",
				EvaluatedAt: now,
			}, nil
		}
		return domain.EvalResult{}, fmt.Errorf("evaluator: load challenge %s: %w", challengeID, err)
	}

	// Terminal states return before any position read or write.
	if challenge.Status.IsTerminal() {
		return domain.EvalResult{
			ChallengeID: challengeID,
			Status:      challenge.Status,
			Equity:      challenge.CurrentBalance,
			Reason:      fmt.Sprintf("Challenge already %s", challenge.Status),
			EvaluatedAt: now,
		}, nil
	}

	// Outage suspension: not an error, a recognized state.
	if e.outages != nil {
		suspended, err := e.outages.Suspended(ctx, now)
		if err != nil {
			return domain.EvalResult{}, fmt.Errorf("evaluator: outage state: %w", err)
		}
		if suspended {
			return domain.EvalResult{
				ChallengeID: challengeID,
				Status:      challenge.Status,
				Equity:      challenge.CurrentBalance,
				Reason:      "Exchange halt: evaluation suspended",
				EvaluatedAt: now,
			}, nil
		}
	}

	ec, err := e.collect(ctx, challenge, now)
	if err != nil {
		return domain.EvalResult{}, err
	}

	return e.applyRules(ctx, ec)
}

// collect loads open positions and batch-fetches live prices for all their
// distinct markets in a single round trip, then derives equity.
func (e *Evaluator) collect(ctx context.Context, challenge domain.Challenge, now time.Time) (*evalCtx, error) {
	open, err := e.positions.ListOpenByChallenge(ctx, challenge.ID)
	if err != nil {
		return nil, fmt.Errorf("evaluator: load positions %s: %w", challenge.ID, err)
	}

	distinct := make([]string, 0, len(open))
	seen := make(map[string]bool, len(open))
	for _, p := range open {
		if !seen[p.MarketID] {
			seen[p.MarketID] = true
			distinct = append(distinct, p.MarketID)
		}
	}

	prices := map[string]float64{}
	if len(distinct) > 0 {
		points, err := e.prices.BatchPrices(ctx, distinct)
		if err != nil {
			return nil, fmt.Errorf("evaluator: batch prices %s: %w", challenge.ID, err)
		}
		for id, p := range points {
			prices[id] = p.Price
		}
	}

	return &evalCtx{
		challenge: challenge,
		positions: open,
		prices:    prices,
		equity:    pricing.Equity(challenge.CurrentBalance, open, prices),
		now:       now,
	}, nil
}

// applyRules runs steps 5-11 of the evaluation pass over a collected context.
func (e *Evaluator) applyRules(ctx context.Context, ec *evalCtx) (domain.EvalResult, error) {
	c := ec.challenge

	// High-water mark, persisted only on increase.
	if ec.equity > c.HighWaterMark {
		if err := e.challenges.UpdateHighWaterMark(ctx, c.ID, ec.equity); err != nil {
			return domain.EvalResult{}, fmt.Errorf("evaluator: update hwm %s: %w", c.ID, err)
		}
		c.HighWaterMark = ec.equity
		ec.challenge = c
	}

	// Max drawdown fails immediately with no grace. Exactly at the limit
	// fails; this inclusive boundary is pinned by tests, do not normalize it
	// against the daily-loss boundary below.
	reference := c.DrawdownReference()
	drawdown := reference - ec.equity
	if drawdown >= c.Rules.MaxDrawdown {
		reason := fmt.Sprintf("Maximum drawdown breached: drawdown %.2f limit %.2f", drawdown, c.Rules.MaxDrawdown)
		if err := e.finalize(ctx, ec, domain.StatusFailed, c.Phase, reason); err != nil {
			return domain.EvalResult{}, err
		}
		return e.result(ec, domain.StatusFailed, reason), nil
	}

	// Daily loss breaches only strictly past the limit and gets a grace
	// period; the next daily-reset sweep finalizes or clears it.
	if res, handled, err := e.applyDailyLoss(ctx, ec); handled || err != nil {
		return res, err
	}

	// Time expiry, challenge phase only.
	if c.Phase == domain.PhaseChallenge && c.EndsAt != nil && ec.now.After(*c.EndsAt) {
		reason := "Time limit exceeded"
		if err := e.finalize(ctx, ec, domain.StatusFailed, c.Phase, reason); err != nil {
			return domain.EvalResult{}, err
		}
		return e.result(ec, domain.StatusFailed, reason), nil
	}

	// Profit target, challenge phase only: funded accounts never pass again.
	if c.Phase == domain.PhaseChallenge && ec.equity-c.StartingBalance >= c.Rules.ProfitTarget {
		if diverged, diff := e.sanityGateDiverged(ctx, ec); diverged {
			reason := fmt.Sprintf("Profit target reached but ledger cross-check diverged by %.2f; remaining active", diff)
			e.auditLog(ctx, "sanity_gate_refused", map[string]any{
				"challenge_id": c.ID,
				"equity":       ec.equity,
				"divergence":   diff,
			})
			e.logger.WarnContext(ctx, "refusing pass: sanity gate diverged",
				slog.String("challenge_id", c.ID),
				slog.Float64("divergence", diff),
			)
			return e.result(ec, domain.StatusActive, reason), nil
		}

		reason := fmt.Sprintf("Profit target reached: FUNDED (equity %.2f)", ec.equity)
		if err := e.finalize(ctx, ec, domain.StatusPassed, domain.PhaseFunded, reason); err != nil {
			return domain.EvalResult{}, err
		}
		return e.result(ec, domain.StatusPassed, reason), nil
	}

	return e.result(ec, domain.StatusActive, "Within limits"), nil
}

// applyDailyLoss handles the grace-period rule. handled is true when the
// evaluation ends here (breach or recovery), false when the pass continues.
func (e *Evaluator) applyDailyLoss(ctx context.Context, ec *evalCtx) (domain.EvalResult, bool, error) {
	c := ec.challenge
	if c.StartOfDayBal <= 0 {
		return domain.EvalResult{}, false, nil
	}

	lossPct := (c.StartOfDayBal - ec.equity) / c.StartOfDayBal
	limit := c.Rules.DailyLossLimitPercent

	if lossPct > limit {
		reason := fmt.Sprintf("Daily loss limit breached: %.2f%% of start-of-day balance (limit %.2f%%)", lossPct*100, limit*100)
		if c.PendingFailureAt == nil {
			if err := e.challenges.SetPendingFailure(ctx, c.ID, ec.now); err != nil {
				return domain.EvalResult{}, false, fmt.Errorf("evaluator: set pending failure %s: %w", c.ID, err)
			}
			e.auditLog(ctx, "pending_failure_set", map[string]any{
				"challenge_id": c.ID,
				"loss_pct":     lossPct,
				"equity":       ec.equity,
			})
			e.notify(ctx, notify.EventPendingFailure, "Daily loss breach",
				fmt.Sprintf("Challenge %s: %s", c.ID, reason))
		}
		return e.result(ec, domain.StatusPendingFailure, reason), true, nil
	}

	if c.PendingFailureAt != nil {
		// Recovered before the reset sweep finalized the breach.
		if err := e.challenges.ClearPendingFailure(ctx, c.ID); err != nil {
			return domain.EvalResult{}, false, fmt.Errorf("evaluator: clear pending failure %s: %w", c.ID, err)
		}
		e.auditLog(ctx, "pending_failure_cleared", map[string]any{
			"challenge_id": c.ID,
			"equity":       ec.equity,
		})
		return e.result(ec, domain.StatusActive, "Daily loss recovered"), true, nil
	}

	return domain.EvalResult{}, false, nil
}

// sanityGateDiverged cross-checks the claimed equity profit against the
// ledger: realized PnL of SELL trades plus live unrealized PnL of open
// positions. A corrupted balance must not silently fund an account.
func (e *Evaluator) sanityGateDiverged(ctx context.Context, ec *evalCtx) (bool, float64) {
	c := ec.challenge

	trades, err := e.trades.ListByChallenge(ctx, c.ID, domain.ListOpts{})
	if err != nil {
		e.logger.ErrorContext(ctx, "sanity gate: trade history unavailable, refusing pass",
			slog.String("challenge_id", c.ID),
			slog.String("error", err.Error()),
		)
		return true, math.Inf(1)
	}

	var realized float64
	for _, t := range trades {
		if t.Type == domain.TradeTypeSell && t.RealizedPnL != nil {
			realized += *t.RealizedPnL
		}
	}
	unrealized := pricing.UnrealizedTotal(ec.positions, ec.prices)

	claimed := ec.equity - c.StartingBalance
	diff := math.Abs(claimed - (realized + unrealized))
	return diff > sanityTolerance, diff
}

// finalize applies a terminal transition: the status/phase change and the
// closure of every open position commit inside one transaction. Each closure
// books a SELL trade with its realized PnL so the ledger stays replayable.
func (e *Evaluator) finalize(ctx context.Context, ec *evalCtx, status domain.ChallengeStatus, phase domain.ChallengePhase, reason string) error {
	c := ec.challenge

	err := e.tx.WithinTx(ctx, func(tx domain.EvalTx) error {
		if err := tx.UpdateChallengeState(ctx, c.ID, phase, status, nil); err != nil {
			return err
		}
		for _, p := range ec.positions {
			yesPrice, ok := ec.prices[p.MarketID]
			if !ok {
				// No live price: close at entry, flat PnL. Fabricating a
				// mid-price here would invent phantom profit or loss.
				yesPrice = pricing.DirectionAdjusted(p.EntryPrice, p.Direction)
			}
			exit := pricing.DirectionAdjusted(yesPrice, p.Direction)
			realized := pricing.RealizedPnL(p.Shares, p.EntryPrice, yesPrice, p.Direction)

			if err := tx.ClosePosition(ctx, p.ID, exit, ec.now); err != nil {
				return err
			}
			// Credit the proceeds so the ledger replay still matches the
			// stored balance after liquidation.
			if err := tx.AdjustBalance(ctx, c.ID, p.Shares*exit); err != nil {
				return err
			}
			trade := domain.Trade{
				ID:          uuid.New().String(),
				ChallengeID: c.ID,
				MarketID:    p.MarketID,
				Type:        domain.TradeTypeSell,
				Direction:   p.Direction,
				Price:       exit,
				Amount:      p.Shares * exit,
				Shares:      p.Shares,
				RealizedPnL: &realized,
				ExecutedAt:  ec.now,
			}
			if err := tx.InsertTrade(ctx, trade); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("evaluator: finalize %s -> %s: %w", c.ID, status, err)
	}

	e.auditLog(ctx, "challenge_"+string(status), map[string]any{
		"challenge_id": c.ID,
		"phase":        string(phase),
		"equity":       ec.equity,
		"reason":       reason,
	})

	event := notify.EventChallengeFailed
	title := "Challenge failed"
	if status == domain.StatusPassed {
		event = notify.EventChallengePassed
		title = "Challenge passed"
	}
	e.notify(ctx, event, title, fmt.Sprintf("Challenge %s: %s", c.ID, reason))

	e.logger.InfoContext(ctx, "challenge finalized",
		slog.String("challenge_id", c.ID),
		slog.String("status", string(status)),
		slog.String("phase", string(phase)),
		slog.Float64("equity", ec.equity),
		slog.String("reason", reason),
	)
	return nil
}

func (e *Evaluator) result(ec *evalCtx, status domain.ChallengeStatus, reason string) domain.EvalResult {
	return domain.EvalResult{
		ChallengeID: ec.challenge.ID,
		Status:      status,
		Equity:      ec.equity,
		Reason:      reason,
		EvaluatedAt: ec.now,
	}
}

// auditLog is best-effort; a broken audit trail never aborts evaluation.
func (e *Evaluator) auditLog(ctx context.Context, event string, detail map[string]any) {
	if e.audit == nil {
		return
	}
	if err := e.audit.Log(ctx, event, detail); err != nil {
		e.logger.WarnContext(ctx, "audit log write failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}

// notify is fire-and-forget; alert failures never abort evaluation.
func (e *Evaluator) notify(ctx context.Context, event, title, message string) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.Notify(ctx, event, title, message); err != nil {
		e.logger.WarnContext(ctx, "notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
