// Package outage tracks market-data outage windows and suspends evaluation
// while trading conditions are not fair to judge.
package outage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/propdesk/internal/domain"
	"github.com/alanyoungcy/propdesk/internal/notify"
)

// DefaultGraceWindow is how long after an outage ends evaluation stays
// suspended so traders can re-orient before rules apply again.
const DefaultGraceWindow = 15 * time.Minute

// Manager owns the outage state machine: healthy -> outage -> grace_window
// -> healthy. On recovery it extends every active challenge's deadline by
// the outage duration so nobody loses challenge time to a dead feed.
type Manager struct {
	outages     domain.OutageStore
	challenges  domain.ChallengeStore
	notifier    *notify.Notifier
	graceWindow time.Duration
	logger      *slog.Logger
}

// NewManager creates a Manager. A zero graceWindow uses DefaultGraceWindow.
func NewManager(
	outages domain.OutageStore,
	challenges domain.ChallengeStore,
	notifier *notify.Notifier,
	graceWindow time.Duration,
	logger *slog.Logger,
) *Manager {
	if graceWindow <= 0 {
		graceWindow = DefaultGraceWindow
	}
	return &Manager{
		outages:     outages,
		challenges:  challenges,
		notifier:    notifier,
		graceWindow: graceWindow,
		logger:      logger.With(slog.String("component", "outage")),
	}
}

// State returns the current outage state. With no recorded events the feed
// is healthy.
func (m *Manager) State(ctx context.Context, now time.Time) (domain.OutageState, error) {
	latest, err := m.outages.Latest(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.OutageStateHealthy, nil
		}
		return "", fmt.Errorf("outage: latest event: %w", err)
	}
	return latest.State(now), nil
}

// Suspended reports whether evaluation must be skipped right now: true
// during an open outage and through its grace window.
func (m *Manager) Suspended(ctx context.Context, now time.Time) (bool, error) {
	state, err := m.State(ctx, now)
	if err != nil {
		return false, err
	}
	return state != domain.OutageStateHealthy, nil
}

// StartOutage opens a new outage event. It is a no-op when an outage is
// already open, so the watcher can call it on every failed probe.
func (m *Manager) StartOutage(ctx context.Context, reason string, now time.Time) error {
	latest, err := m.outages.Latest(ctx)
	if err == nil && latest.EndedAt == nil {
		return nil // already in an outage
	}
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("outage: latest event: %w", err)
	}

	event := domain.OutageEvent{
		ID:        uuid.New().String(),
		StartedAt: now,
		Reason:    reason,
	}
	if err := m.outages.Open(ctx, event); err != nil {
		return fmt.Errorf("outage: open event: %w", err)
	}

	m.logger.WarnContext(ctx, "market data outage started",
		slog.String("reason", reason),
	)
	m.notify(ctx, notify.EventOutageStarted, "Market data outage",
		fmt.Sprintf("Evaluation suspended: %s", reason))
	return nil
}

// EndOutage closes the open outage event. Every active challenge's deadline
// is extended by the outage duration and the count extended is recorded on
// the event; a grace window keeps evaluation suspended a little longer.
func (m *Manager) EndOutage(ctx context.Context, now time.Time) error {
	latest, err := m.outages.Latest(ctx)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("outage: latest event: %w", err)
	}
	if latest.EndedAt != nil {
		return nil // nothing open
	}

	duration := now.Sub(latest.StartedAt)
	extended, err := m.challenges.ExtendDeadlines(ctx, duration)
	if err != nil {
		return fmt.Errorf("outage: extend deadlines: %w", err)
	}

	graceEnds := now.Add(m.graceWindow)
	if err := m.outages.CloseOpen(ctx, now, graceEnds, extended); err != nil {
		return fmt.Errorf("outage: close event: %w", err)
	}

	m.logger.InfoContext(ctx, "market data outage ended",
		slog.Duration("duration", duration),
		slog.Int("challenges_extended", extended),
		slog.Time("grace_until", graceEnds),
	)
	m.notify(ctx, notify.EventOutageEnded, "Market data recovered",
		fmt.Sprintf("Outage lasted %s; %d challenge deadlines extended", duration.Round(time.Second), extended))
	return nil
}

// notify is fire-and-forget: alert failures never abort outage handling.
func (m *Manager) notify(ctx context.Context, event, title, message string) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Notify(ctx, event, title, message); err != nil {
		m.logger.WarnContext(ctx, "outage notification failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
