package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/propdesk/internal/domain"
)

// SweepSummary is the record of one evaluation sweep, archived to cold
// storage under reports/evaluations/.
type SweepSummary struct {
	SweptAt     time.Time         `json:"swept_at"`
	Challenges  int               `json:"challenges"`
	Errors      int               `json:"errors"`
	ByStatus    map[string]int    `json:"by_status"`
	Transitions []SweepTransition `json:"transitions,omitempty"`
}

// SweepTransition records one challenge changing status during a sweep.
type SweepTransition struct {
	ChallengeID string `json:"challenge_id"`
	From        string `json:"from"`
	To          string `json:"to"`
	Reason      string `json:"reason"`
}

// RunSweep evaluates every non-terminal challenge with bounded concurrency.
// One challenge failing to evaluate never blocks the rest of the sweep.
func (o *Orchestrator) RunSweep(ctx context.Context) error {
	return o.withLock(ctx, "eval_sweep", 2*o.cfg.SweepInterval, func(ctx context.Context) error {
		active, err := o.challenges.ListActive(ctx, domain.ListOpts{})
		if err != nil {
			return fmt.Errorf("list active: %w", err)
		}
		if len(active) == 0 {
			return nil
		}

		start := o.clock()
		summary := SweepSummary{
			SweptAt:    start,
			Challenges: len(active),
			ByStatus:   map[string]int{},
		}

		var mu sync.Mutex
		var g errgroup.Group
		g.SetLimit(o.cfg.SweepConcurrency)

		for _, c := range active {
			g.Go(func() error {
				res, err := o.eval.Evaluate(ctx, c.ID)
				if err != nil {
					o.logger.Error("evaluation failed",
						slog.String("challenge_id", c.ID),
						slog.String("error", err.Error()),
					)
					mu.Lock()
					summary.Errors++
					mu.Unlock()
					return nil // isolate per-challenge failures
				}

				mu.Lock()
				summary.ByStatus[string(res.Status)]++
				if res.Status != c.Status {
					summary.Transitions = append(summary.Transitions, SweepTransition{
						ChallengeID: c.ID,
						From:        string(c.Status),
						To:          string(res.Status),
						Reason:      res.Reason,
					})
				}
				mu.Unlock()

				if res.Status != c.Status {
					o.logger.Info("challenge status changed",
						slog.String("challenge_id", c.ID),
						slog.String("from", string(c.Status)),
						slog.String("to", string(res.Status)),
						slog.String("reason", res.Reason),
					)
				}
				return nil
			})
		}
		_ = g.Wait()

		o.logger.Info("evaluation sweep complete",
			slog.Int("challenges", len(active)),
			slog.Int("errors", summary.Errors),
			slog.Duration("took", o.clock().Sub(start)),
		)

		if o.archiver != nil {
			if err := o.archiver.ArchiveEvaluationSummary(ctx, start, summary); err != nil {
				// Cold storage being down must not fail the sweep itself.
				o.logger.Warn("evaluation summary archive failed", slog.String("error", err.Error()))
			}
		}
		return nil
	})
}

// RunDailyReset applies the day boundary to every non-terminal challenge.
// The evaluator's same-day guard makes repeated runs within a day no-ops.
func (o *Orchestrator) RunDailyReset(ctx context.Context) error {
	return o.withLock(ctx, "daily_reset", 5*time.Minute, func(ctx context.Context) error {
		active, err := o.challenges.ListActive(ctx, domain.ListOpts{})
		if err != nil {
			return fmt.Errorf("list active: %w", err)
		}

		reset := 0
		for _, c := range active {
			res, err := o.eval.ResetDay(ctx, c.ID)
			if err != nil {
				o.logger.Error("daily reset failed",
					slog.String("challenge_id", c.ID),
					slog.String("error", err.Error()),
				)
				continue
			}
			if res.Reason == "Daily reset applied" || res.Status == domain.StatusFailed {
				reset++
			}
		}
		if reset > 0 {
			o.logger.Info("daily reset complete", slog.Int("challenges", reset))
		}
		return nil
	})
}

// RunAudit replays every active challenge's ledger and archives the reports.
func (o *Orchestrator) RunAudit(ctx context.Context) error {
	return o.withLock(ctx, "balance_audit", 10*time.Minute, func(ctx context.Context) error {
		reports, err := o.auditor.AuditActive(ctx)
		if err != nil {
			return fmt.Errorf("audit active: %w", err)
		}

		flagged := 0
		for _, r := range reports {
			if r.Flagged {
				flagged++
			}
		}
		o.logger.Info("balance audit complete",
			slog.Int("audited", len(reports)),
			slog.Int("flagged", flagged),
		)

		if o.archiver != nil && len(reports) > 0 {
			if err := o.archiver.ArchiveAuditReports(ctx, o.clock(), reports); err != nil {
				// Cold storage being down must not fail the audit itself.
				o.logger.Warn("audit report archive failed", slog.String("error", err.Error()))
			}
		}
		return nil
	})
}
