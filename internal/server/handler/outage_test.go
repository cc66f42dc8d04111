package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/propdesk/internal/domain"
	"github.com/alanyoungcy/propdesk/internal/domain/domaintest"
	"github.com/alanyoungcy/propdesk/internal/outage"
)

func TestListOutagesHonorsLimit(t *testing.T) {
	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	ended := base.Add(time.Hour)
	grace := ended.Add(15 * time.Minute)
	store := domaintest.NewOutageStore(
		domain.OutageEvent{ID: "o1", StartedAt: base, EndedAt: &ended, GraceWindowEndsAt: &grace, Reason: "feed down"},
		domain.OutageEvent{ID: "o2", StartedAt: base.AddDate(0, 0, 1), Reason: "feed down"},
		domain.OutageEvent{ID: "o3", StartedAt: base.AddDate(0, 0, 2), Reason: "vendor maintenance"},
	)
	logger := slog.New(slog.DiscardHandler)
	mgr := outage.NewManager(store, domaintest.NewChallengeStore(), nil, 0, logger)
	h := NewOutageHandler(mgr, store, logger)

	r := httptest.NewRequest(http.MethodGet, "/api/outages?limit=2", nil)
	w := httptest.NewRecorder()
	h.List(w, r)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Outages []map[string]any `json:"outages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Outages, 2)
	assert.Equal(t, "o2", body.Outages[0]["id"])
	assert.Equal(t, "o3", body.Outages[1]["id"])
	// Open events carry no end fields.
	assert.NotContains(t, body.Outages[1], "ended_at")
}
