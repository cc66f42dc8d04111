package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/propdesk/internal/activity"
	"github.com/alanyoungcy/propdesk/internal/domain"
	"github.com/alanyoungcy/propdesk/internal/evaluator"
	"github.com/alanyoungcy/propdesk/internal/pricing"
)

// ChallengeHandler serves challenge state and on-demand evaluation.
type ChallengeHandler struct {
	eval       *evaluator.Evaluator
	challenges domain.ChallengeStore
	positions  domain.PositionStore
	prices     domain.PriceSource
	activity   *activity.Tracker
	logger     *slog.Logger
}

// NewChallengeHandler creates a ChallengeHandler.
func NewChallengeHandler(
	eval *evaluator.Evaluator,
	challenges domain.ChallengeStore,
	positions domain.PositionStore,
	prices domain.PriceSource,
	tracker *activity.Tracker,
	logger *slog.Logger,
) *ChallengeHandler {
	return &ChallengeHandler{
		eval:       eval,
		challenges: challenges,
		positions:  positions,
		prices:     prices,
		activity:   tracker,
		logger:     logHandler(logger, "challenge"),
	}
}

type challengeResponse struct {
	ID               string             `json:"id"`
	UserID           string             `json:"user_id"`
	Phase            string             `json:"phase"`
	Status           string             `json:"status"`
	StartingBalance  float64            `json:"starting_balance"`
	CurrentBalance   float64            `json:"current_balance"`
	StartOfDayBal    float64            `json:"start_of_day_balance"`
	HighWaterMark    float64            `json:"high_water_mark"`
	EndsAt           *time.Time         `json:"ends_at,omitempty"`
	PendingFailureAt *time.Time         `json:"pending_failure_at,omitempty"`
	Rules            domain.RulesConfig `json:"rules"`
	Platform         string             `json:"platform,omitempty"`
}

func toChallengeResponse(c domain.Challenge) challengeResponse {
	return challengeResponse{
		ID:               c.ID,
		UserID:           c.UserID,
		Phase:            string(c.Phase),
		Status:           string(c.Status),
		StartingBalance:  c.StartingBalance,
		CurrentBalance:   c.CurrentBalance,
		StartOfDayBal:    c.StartOfDayBal,
		HighWaterMark:    c.HighWaterMark,
		EndsAt:           c.EndsAt,
		PendingFailureAt: c.PendingFailureAt,
		Rules:            c.Rules,
		Platform:         c.Platform,
	}
}

// GetChallenge returns the stored state of one challenge.
// GET /api/challenges/{id}
func (h *ChallengeHandler) GetChallenge(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	c, err := h.challenges.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "challenge not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get challenge failed",
			slog.String("challenge_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	writeJSON(w, http.StatusOK, toChallengeResponse(c))
}

// Evaluate runs a full evaluation pass for one challenge and returns the
// outcome.
// POST /api/challenges/{id}/evaluate
func (h *ChallengeHandler) Evaluate(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	res, err := h.eval.Evaluate(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "evaluation failed",
			slog.String("challenge_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "evaluation failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"challenge_id": res.ChallengeID,
		"status":       string(res.Status),
		"equity":       res.Equity,
		"reason":       res.Reason,
		"evaluated_at": res.EvaluatedAt.UTC().Format(time.RFC3339),
	})
}

// Summary returns the challenge's activity metrics.
// GET /api/challenges/{id}/summary
func (h *ChallengeHandler) Summary(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	summary, err := h.activity.Summarize(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "challenge not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "summary failed",
			slog.String("challenge_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	openPositions, err := h.positions.CountOpenByChallenge(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "open position count failed",
			slog.String("challenge_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"challenge_id":        summary.ChallengeID,
		"active_trading_days": summary.ActiveTradingDays,
		"inactivity_days":     summary.InactivityDays,
		"consistent":          summary.Consistent,
		"largest_day_share":   summary.LargestDayShare,
		"win_rate":            summary.WinRate,
		"open_positions":      openPositions,
	})
}

type positionResponse struct {
	ID             string   `json:"id"`
	MarketID       string   `json:"market_id"`
	Direction      string   `json:"direction"`
	Shares         float64  `json:"shares"`
	EntryPrice     float64  `json:"entry_price"`
	EffectivePrice *float64 `json:"effective_price,omitempty"`
	UnrealizedPnL  *float64 `json:"unrealized_pnl,omitempty"`
	ROI            *float64 `json:"roi,omitempty"`
}

// Positions lists a challenge's open positions marked to live prices.
// Positions in markets without a usable price are listed without the live
// fields rather than dropped or priced at an assumed mid.
// GET /api/challenges/{id}/positions
func (h *ChallengeHandler) Positions(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")

	if _, err := h.challenges.GetByID(r.Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "challenge not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "get challenge failed",
			slog.String("challenge_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	open, err := h.positions.ListOpenByChallenge(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "list positions failed",
			slog.String("challenge_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	var live map[string]domain.PricePoint
	if len(open) > 0 {
		ids := make([]string, 0, len(open))
		seen := map[string]bool{}
		for _, p := range open {
			if !seen[p.MarketID] {
				seen[p.MarketID] = true
				ids = append(ids, p.MarketID)
			}
		}
		live, err = h.prices.BatchPrices(r.Context(), ids)
		if err != nil {
			// Positions are still worth listing without marks.
			h.logger.WarnContext(r.Context(), "live prices unavailable for positions",
				slog.String("challenge_id", id), slog.String("error", err.Error()))
		}
	}

	out := make([]positionResponse, 0, len(open))
	for _, p := range open {
		row := positionResponse{
			ID:         p.ID,
			MarketID:   p.MarketID,
			Direction:  string(p.Direction),
			Shares:     p.Shares,
			EntryPrice: p.EntryPrice,
		}
		if point, ok := live[p.MarketID]; ok {
			m := pricing.PositionMetrics(p.Shares, p.EntryPrice, point.Price, p.Direction)
			row.EffectivePrice = &m.EffectivePrice
			row.UnrealizedPnL = &m.UnrealizedPnL
			row.ROI = &m.ROI
		}
		out = append(out, row)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"challenge_id": id,
		"positions":    out,
	})
}
