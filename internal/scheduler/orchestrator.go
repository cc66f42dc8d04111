// Package scheduler runs the background jobs: the evaluation sweep, the
// daily reset, the balance audit and the market-data outage watcher.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/propdesk/internal/audit"
	s3blob "github.com/alanyoungcy/propdesk/internal/blob/s3"
	"github.com/alanyoungcy/propdesk/internal/domain"
	"github.com/alanyoungcy/propdesk/internal/evaluator"
	"github.com/alanyoungcy/propdesk/internal/outage"
)

// Config holds the job cadence and concurrency settings.
type Config struct {
	SweepInterval    time.Duration
	ResetInterval    time.Duration
	AuditInterval    time.Duration
	ProbeInterval    time.Duration
	SweepConcurrency int
	// FailureThreshold is how many consecutive failed health probes open an
	// outage.
	FailureThreshold int
}

// Defaults fills unset fields with production values.
func (c Config) Defaults() Config {
	if c.SweepInterval <= 0 {
		c.SweepInterval = time.Minute
	}
	if c.ResetInterval <= 0 {
		c.ResetInterval = 5 * time.Minute
	}
	if c.AuditInterval <= 0 {
		c.AuditInterval = time.Hour
	}
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = 15 * time.Second
	}
	if c.SweepConcurrency <= 0 {
		c.SweepConcurrency = 8
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 4
	}
	return c
}

// HealthProbe checks whether the market-data vendor is reachable.
type HealthProbe func(ctx context.Context) error

// Orchestrator coordinates all background jobs. Jobs that must not run on
// two instances at once are guarded by a distributed lock.
type Orchestrator struct {
	eval       *evaluator.Evaluator
	auditor    *audit.Auditor
	outages    *outage.Manager
	challenges domain.ChallengeStore
	locks      domain.LockManager
	probe      HealthProbe
	archiver   *s3blob.Archiver
	cfg        Config
	logger     *slog.Logger
	clock      func() time.Time
}

// NewOrchestrator creates an Orchestrator. locks, probe and archiver may be
// nil: without locks jobs assume a single instance, without a probe the
// outage watcher is disabled, without an archiver reports stay in Postgres
// only.
func NewOrchestrator(
	eval *evaluator.Evaluator,
	auditor *audit.Auditor,
	outages *outage.Manager,
	challenges domain.ChallengeStore,
	locks domain.LockManager,
	probe HealthProbe,
	archiver *s3blob.Archiver,
	cfg Config,
	logger *slog.Logger,
) *Orchestrator {
	return &Orchestrator{
		eval:       eval,
		auditor:    auditor,
		outages:    outages,
		challenges: challenges,
		locks:      locks,
		probe:      probe,
		archiver:   archiver,
		cfg:        cfg.Defaults(),
		logger:     logger.With(slog.String("component", "scheduler")),
		clock:      time.Now,
	}
}

// SetClock overrides the orchestrator's clock; tests pin time with it.
func (o *Orchestrator) SetClock(clock func() time.Time) { o.clock = clock }

// Run starts every job loop and blocks until ctx is cancelled or a loop
// fails unrecoverably.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("scheduler starting",
		slog.Duration("sweep_interval", o.cfg.SweepInterval),
		slog.Duration("reset_interval", o.cfg.ResetInterval),
		slog.Duration("audit_interval", o.cfg.AuditInterval),
	)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := o.loop(ctx, "eval_sweep", o.cfg.SweepInterval, o.RunSweep)
		if ctx.Err() != nil {
			return nil // clean shutdown
		}
		return fmt.Errorf("eval sweep: %w", err)
	})

	g.Go(func() error {
		err := o.loop(ctx, "daily_reset", o.cfg.ResetInterval, o.RunDailyReset)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("daily reset: %w", err)
	})

	g.Go(func() error {
		err := o.loop(ctx, "balance_audit", o.cfg.AuditInterval, o.RunAudit)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("balance audit: %w", err)
	})

	if o.probe != nil {
		g.Go(func() error {
			err := o.watchOutages(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("outage watcher: %w", err)
		})
	}

	if err := g.Wait(); err != nil {
		o.logger.Error("scheduler stopped with error", slog.String("error", err.Error()))
		return err
	}
	o.logger.Info("scheduler stopped cleanly")
	return nil
}

// loop runs job on a ticker, once immediately on start. Job errors are
// logged and the loop keeps going; only context cancellation ends it.
func (o *Orchestrator) loop(ctx context.Context, name string, interval time.Duration, job func(context.Context) error) error {
	run := func() {
		if err := job(ctx); err != nil {
			o.logger.Error("job failed",
				slog.String("job", name),
				slog.String("error", err.Error()),
			)
		}
	}

	run()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			run()
		}
	}
}

// withLock runs fn under the named distributed lock. When another instance
// holds the lock the job is silently skipped; it will run on that instance.
func (o *Orchestrator) withLock(ctx context.Context, name string, ttl time.Duration, fn func(context.Context) error) error {
	if o.locks == nil {
		return fn(ctx)
	}
	unlock, err := o.locks.Acquire(ctx, name, ttl)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			o.logger.Debug("job lock held elsewhere, skipping", slog.String("job", name))
			return nil
		}
		return fmt.Errorf("acquire lock %s: %w", name, err)
	}
	defer unlock()
	return fn(ctx)
}
