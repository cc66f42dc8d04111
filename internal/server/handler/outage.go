package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/propdesk/internal/domain"
	"github.com/alanyoungcy/propdesk/internal/outage"
)

// OutageHandler serves the market-data outage state.
type OutageHandler struct {
	manager *outage.Manager
	outages domain.OutageStore
	logger  *slog.Logger
}

// NewOutageHandler creates an OutageHandler.
func NewOutageHandler(manager *outage.Manager, outages domain.OutageStore, logger *slog.Logger) *OutageHandler {
	return &OutageHandler{
		manager: manager,
		outages: outages,
		logger:  logHandler(logger, "outage"),
	}
}

// Current reports the present outage state and, when one exists, the latest
// event.
// GET /api/outages/current
func (h *OutageHandler) Current(w http.ResponseWriter, r *http.Request) {
	now := time.Now()

	state, err := h.manager.State(r.Context(), now)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "outage state failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := map[string]any{"state": string(state)}

	latest, err := h.outages.Latest(r.Context())
	if err == nil {
		event := map[string]any{
			"id":         latest.ID,
			"started_at": latest.StartedAt,
			"reason":     latest.Reason,
		}
		if latest.EndedAt != nil {
			event["ended_at"] = latest.EndedAt
			event["grace_window_ends_at"] = latest.GraceWindowEndsAt
			event["challenges_extended"] = latest.ChallengesExtended
		}
		resp["latest_event"] = event
	} else if !errors.Is(err, domain.ErrNotFound) {
		h.logger.ErrorContext(r.Context(), "latest outage failed", slog.String("error", err.Error()))
	}

	writeJSON(w, http.StatusOK, resp)
}

// List returns recent outage events, newest last.
// GET /api/outages
func (h *OutageHandler) List(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	events, err := h.outages.ListRecent(r.Context(), opts.Limit)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list outages failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	out := make([]map[string]any, 0, len(events))
	for _, e := range events {
		event := map[string]any{
			"id":         e.ID,
			"started_at": e.StartedAt,
			"reason":     e.Reason,
		}
		if e.EndedAt != nil {
			event["ended_at"] = e.EndedAt
			event["grace_window_ends_at"] = e.GraceWindowEndsAt
			event["challenges_extended"] = e.ChallengesExtended
		}
		out = append(out, event)
	}

	writeJSON(w, http.StatusOK, map[string]any{"outages": out})
}
