package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/propdesk/internal/domain"
)

// watchOutages probes the market-data vendor and drives the outage state
// machine: enough consecutive failures open an outage, the first successful
// probe afterwards closes it and starts the grace window.
func (o *Orchestrator) watchOutages(ctx context.Context) error {
	ticker := time.NewTicker(o.cfg.ProbeInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		now := o.clock()
		if err := o.probe(ctx); err != nil {
			failures++
			o.logger.Warn("health probe failed",
				slog.Int("consecutive", failures),
				slog.String("error", err.Error()),
			)
			// At or past the threshold on every tick: StartOutage is
			// idempotent, and retrying means a transient store error on the
			// first attempt cannot leave the outage unopened.
			if failures >= o.cfg.FailureThreshold {
				if err := o.outages.StartOutage(ctx, "vendor health probes failing", now); err != nil {
					o.logger.Error("start outage failed", slog.String("error", err.Error()))
				}
			}
			continue
		}

		if failures >= o.cfg.FailureThreshold {
			state, err := o.outages.State(ctx, now)
			if err != nil {
				o.logger.Error("outage state check failed", slog.String("error", err.Error()))
			} else if state == domain.OutageStateOutage {
				if err := o.outages.EndOutage(ctx, now); err != nil {
					o.logger.Error("end outage failed", slog.String("error", err.Error()))
				}
			}
		}
		failures = 0
	}
}
