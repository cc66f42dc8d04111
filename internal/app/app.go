// Package app provides the top-level application lifecycle management for the
// challenge risk engine. It wires together all dependencies (stores, caches,
// market data, blob storage, and notifications), builds the domain services
// on top of them, and runs the HTTP server, the background scheduler, and the
// vendor price feed until the context is cancelled.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/propdesk/internal/activity"
	"github.com/alanyoungcy/propdesk/internal/audit"
	"github.com/alanyoungcy/propdesk/internal/config"
	"github.com/alanyoungcy/propdesk/internal/evaluator"
	"github.com/alanyoungcy/propdesk/internal/outage"
	"github.com/alanyoungcy/propdesk/internal/risk"
	"github.com/alanyoungcy/propdesk/internal/scheduler"
	"github.com/alanyoungcy/propdesk/internal/server"
	"github.com/alanyoungcy/propdesk/internal/server/handler"
	"github.com/alanyoungcy/propdesk/internal/trading"
)

// App is the root application object. It owns the configuration, logger, and
// a list of cleanup functions that are called in reverse order on shutdown.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates a new App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run is the main entry point. It wires all dependencies, builds the domain
// services, starts the server, scheduler, and price feed, and blocks until
// the context is cancelled.
func (a *App) Run(ctx context.Context) error {
	a.logger.InfoContext(ctx, "starting application",
		slog.String("log_level", a.cfg.LogLevel),
	)

	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	// Domain services on top of the wired infrastructure.
	outageMgr := outage.NewManager(
		deps.OutageStore,
		deps.ChallengeStore,
		deps.Notifier,
		a.cfg.Evaluator.OutageGraceWindow.Duration,
		a.logger,
	)
	riskEngine := risk.NewEngine(
		deps.ChallengeStore,
		deps.PositionStore,
		deps.MarketStore,
		deps.PriceSource,
		a.logger,
	)
	eval := evaluator.New(
		deps.ChallengeStore,
		deps.PositionStore,
		deps.TradeStore,
		deps.PriceSource,
		outageMgr,
		deps.TxRunner,
		deps.AuditStore,
		deps.Notifier,
		a.logger,
	)
	auditor := audit.New(
		deps.ChallengeStore,
		deps.TradeStore,
		deps.AuditStore,
		deps.Notifier,
		a.logger,
	)
	tracker := activity.New(deps.ChallengeStore, deps.TradeStore, a.logger)
	trader := trading.New(riskEngine, deps.PositionStore, deps.BookCache, deps.TxRunner, a.logger)

	orch := scheduler.NewOrchestrator(
		eval,
		auditor,
		outageMgr,
		deps.ChallengeStore,
		deps.LockManager,
		deps.VendorClient.Health,
		deps.Archiver,
		scheduler.Config{
			SweepInterval:    a.cfg.Scheduler.SweepInterval.Duration,
			ResetInterval:    a.cfg.Scheduler.ResetInterval.Duration,
			AuditInterval:    a.cfg.Scheduler.AuditInterval.Duration,
			ProbeInterval:    a.cfg.Scheduler.ProbeInterval.Duration,
			SweepConcurrency: a.cfg.Scheduler.SweepConcurrency,
			FailureThreshold: a.cfg.Scheduler.FailureThreshold,
		},
		a.logger,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return orch.Run(gctx)
	})

	if deps.Feed != nil {
		g.Go(func() error {
			return deps.Feed.Run(gctx)
		})
	}

	if a.cfg.Server.Enabled {
		srv := server.NewServer(
			server.Config{
				Port:        a.cfg.Server.Port,
				CORSOrigins: a.cfg.Server.CORSOrigins,
				APIKey:      a.cfg.Server.ApiKey,
				CronSecret:  a.cfg.Server.CronSecret,
				RateLimit:   a.cfg.Server.RateLimit,
				RateWindow:  a.cfg.Server.RateWindow.Duration,
			},
			server.Handlers{
				Health:     handler.NewHealthHandler(a.logger),
				Challenges: handler.NewChallengeHandler(eval, deps.ChallengeStore, deps.PositionStore, deps.PriceSource, tracker, a.logger),
				Trades:     handler.NewTradeHandler(riskEngine, trader, a.logger),
				Outages:    handler.NewOutageHandler(outageMgr, deps.OutageStore, a.logger),
				Cron:       handler.NewCronHandler(orch, a.logger),
			},
			deps.RateLimiter,
			a.logger,
		)

		g.Go(func() error {
			if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("app: http server: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// Close tears down all resources in reverse registration order. It is safe to
// call multiple times; subsequent calls are no-ops.
func (a *App) Close() {
	a.logger.Info("shutting down application")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
