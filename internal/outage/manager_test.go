package outage

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

func newManager(outages *domaintest.OutageStore, challenges *domaintest.ChallengeStore) *Manager {
	return NewManager(outages, challenges, nil, 15*time.Minute, slog.New(slog.DiscardHandler))
}

func TestStateTransitions(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	outages := domaintest.NewOutageStore()
	challenges := domaintest.NewChallengeStore()
	m := newManager(outages, challenges)

	state, err := m.State(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, domain.OutageStateHealthy, state)

	require.NoError(t, m.StartOutage(ctx, "vendor unreachable", now))
	state, err = m.State(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, domain.OutageStateOutage, state)

	require.NoError(t, m.EndOutage(ctx, now.Add(30*time.Minute)))

	// Inside the grace window evaluation is still suspended.
	state, err = m.State(ctx, now.Add(31*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, domain.OutageStateGrace, state)

	suspended, err := m.Suspended(ctx, now.Add(31*time.Minute))
	require.NoError(t, err)
	assert.True(t, suspended)

	// Past the grace window the feed is healthy again.
	state, err = m.State(ctx, now.Add(50*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, domain.OutageStateHealthy, state)
}

func TestStartOutageIdempotent(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	outages := domaintest.NewOutageStore()
	m := newManager(outages, domaintest.NewChallengeStore())

	require.NoError(t, m.StartOutage(ctx, "probe failed", now))
	require.NoError(t, m.StartOutage(ctx, "probe failed", now.Add(time.Minute)))
	require.NoError(t, m.StartOutage(ctx, "probe failed", now.Add(2*time.Minute)))

	assert.Len(t, outages.Events, 1)
}

func TestEndOutageExtendsActiveChallenges(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)
	deadline := start.Add(24 * time.Hour)
	failedDeadline := deadline

	challenges := domaintest.NewChallengeStore(
		domain.Challenge{ID: "active", Status: domain.StatusActive, EndsAt: &deadline},
		domain.Challenge{ID: "failed", Status: domain.StatusFailed, EndsAt: &failedDeadline},
	)
	outages := domaintest.NewOutageStore()
	m := newManager(outages, challenges)

	require.NoError(t, m.StartOutage(ctx, "halt", start))
	require.NoError(t, m.EndOutage(ctx, start.Add(2*time.Hour)))

	got := challenges.Challenges["active"]
	assert.Equal(t, deadline.Add(2*time.Hour), *got.EndsAt)

	// Terminal challenges keep their original deadline.
	assert.Equal(t, failedDeadline, *challenges.Challenges["failed"].EndsAt)

	event, err := outages.Latest(ctx)
	require.NoError(t, err)
	require.NotNil(t, event.EndedAt)
	assert.Equal(t, 1, event.ChallengesExtended)
	require.NotNil(t, event.GraceWindowEndsAt)
}

func TestEndOutageWithoutOpenEvent(t *testing.T) {
	m := newManager(domaintest.NewOutageStore(), domaintest.NewChallengeStore())
	assert.NoError(t, m.EndOutage(context.Background(), time.Now()))
}
