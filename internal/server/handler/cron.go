package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/propdesk/internal/scheduler"
)

// CronHandler exposes the background jobs as authenticated HTTP triggers so
// an external scheduler can drive them instead of (or alongside) the
// built-in ticker loops. The underlying jobs are lock-guarded and
// idempotent, so concurrent triggers are safe.
type CronHandler struct {
	orch   *scheduler.Orchestrator
	logger *slog.Logger
}

// NewCronHandler creates a CronHandler.
func NewCronHandler(orch *scheduler.Orchestrator, logger *slog.Logger) *CronHandler {
	return &CronHandler{
		orch:   orch,
		logger: logHandler(logger, "cron"),
	}
}

func (h *CronHandler) run(w http.ResponseWriter, r *http.Request, name string, job func() error) {
	if err := job(); err != nil {
		h.logger.ErrorContext(r.Context(), "cron job failed",
			slog.String("job", name), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, name+" failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "job": name})
}

// Sweep triggers an evaluation sweep over every active challenge.
// POST /api/cron/sweep
func (h *CronHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, "sweep", func() error { return h.orch.RunSweep(r.Context()) })
}

// DailyReset triggers the daily boundary job.
// POST /api/cron/daily-reset
func (h *CronHandler) DailyReset(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, "daily-reset", func() error { return h.orch.RunDailyReset(r.Context()) })
}

// Audit triggers a balance audit over every active challenge.
// POST /api/cron/audit
func (h *CronHandler) Audit(w http.ResponseWriter, r *http.Request) {
	h.run(w, r, "audit", func() error { return h.orch.RunAudit(r.Context()) })
}
