package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/propdesk/internal/domain"
	"github.com/alanyoungcy/propdesk/internal/risk"
	"github.com/alanyoungcy/propdesk/internal/trading"
)

// TradeHandler serves pre-trade validation and fill recording.
type TradeHandler struct {
	risk    *risk.Engine
	trading *trading.Service
	logger  *slog.Logger
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(engine *risk.Engine, svc *trading.Service, logger *slog.Logger) *TradeHandler {
	return &TradeHandler{
		risk:    engine,
		trading: svc,
		logger:  logHandler(logger, "trade"),
	}
}

type validateRequest struct {
	ChallengeID string  `json:"challenge_id"`
	MarketID    string  `json:"market_id"`
	Amount      float64 `json:"amount"`
}

// Validate checks a proposed trade against the challenge's rules without
// recording anything.
// POST /api/trades/validate
func (h *TradeHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var req validateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ChallengeID == "" || req.MarketID == "" {
		writeError(w, http.StatusBadRequest, "challenge_id and market_id are required")
		return
	}

	check, err := h.risk.ValidateTrade(r.Context(), req.ChallengeID, req.MarketID, req.Amount)
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "trade validation failed",
			slog.String("challenge_id", req.ChallengeID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "validation failed")
		return
	}

	resp := map[string]any{"allowed": check.Allowed}
	if check.Reason != "" {
		resp["reason"] = check.Reason
	}
	writeJSON(w, http.StatusOK, resp)
}

type buyRequest struct {
	ChallengeID string  `json:"challenge_id"`
	MarketID    string  `json:"market_id"`
	Direction   string  `json:"direction"`
	YesPrice    float64 `json:"yes_price"`
	Amount      float64 `json:"amount"`
}

// Buy validates and records an opening fill.
// POST /api/trades/buy
func (h *TradeHandler) Buy(w http.ResponseWriter, r *http.Request) {
	var req buyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	check, pos, err := h.trading.Buy(r.Context(), trading.BuyRequest{
		ChallengeID: req.ChallengeID,
		MarketID:    req.MarketID,
		Direction:   domain.Direction(req.Direction),
		YesPrice:    req.YesPrice,
		Amount:      req.Amount,
	})
	if err != nil {
		if errors.Is(err, domain.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "buy failed",
			slog.String("challenge_id", req.ChallengeID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "buy failed")
		return
	}
	if !check.Allowed {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"allowed": false,
			"reason":  check.Reason,
		})
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"allowed":     true,
		"position_id": pos.ID,
		"shares":      pos.Shares,
		"entry_price": pos.EntryPrice,
	})
}

type sellRequest struct {
	ChallengeID string  `json:"challenge_id"`
	PositionID  string  `json:"position_id"`
	YesPrice    float64 `json:"yes_price"`
}

// Sell records a closing fill for an open position.
// POST /api/trades/sell
func (h *TradeHandler) Sell(w http.ResponseWriter, r *http.Request) {
	var req sellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	trade, err := h.trading.Sell(r.Context(), trading.SellRequest{
		ChallengeID: req.ChallengeID,
		PositionID:  req.PositionID,
		YesPrice:    req.YesPrice,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrValidation):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, domain.ErrNotFound):
			writeError(w, http.StatusNotFound, "position not found")
		default:
			h.logger.ErrorContext(r.Context(), "sell failed",
				slog.String("position_id", req.PositionID), slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "sell failed")
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"trade_id":     trade.ID,
		"exit_price":   trade.Price,
		"proceeds":     trade.Amount,
		"realized_pnl": trade.RealizedPnL,
	})
}
