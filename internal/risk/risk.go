// Package risk implements the pre-trade gate. A validation builds one
// in-memory snapshot (one positions query, one market lookup, one batched
// price fetch) and derives every check from it; no rule re-queries storage.
package risk

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/propdesk/internal/domain"
	"github.com/alanyoungcy/propdesk/internal/money"
	"github.com/alanyoungcy/propdesk/internal/pricing"
)

// Engine provides pre-trade risk checks. It never mutates state.
type Engine struct {
	challenges domain.ChallengeStore
	positions  domain.PositionStore
	markets    domain.MarketStore
	prices     domain.PriceSource
	logger     *slog.Logger
}

// NewEngine creates an Engine with all required dependencies.
func NewEngine(
	challenges domain.ChallengeStore,
	positions domain.PositionStore,
	markets domain.MarketStore,
	prices domain.PriceSource,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		challenges: challenges,
		positions:  positions,
		markets:    markets,
		prices:     prices,
		logger:     logger.With(slog.String("component", "risk")),
	}
}

// snapshot is everything a validation needs, collected up front.
type snapshot struct {
	challenge domain.Challenge
	positions []domain.Position
	markets   map[string]domain.Market
	prices    map[string]float64
}

// ValidateTrade checks whether a proposed trade of the given notional amount
// in the given market is allowed for the challenge. Checks run in order and
// short-circuit on the first failure; the result carries the failing rule's
// reason. Infrastructure failures are returned as errors, not as rejections.
func (e *Engine) ValidateTrade(ctx context.Context, challengeID, marketID string, amount float64) (domain.TradeCheck, error) {
	if _, err := money.Check(amount); err != nil {
		return domain.TradeCheck{}, fmt.Errorf("risk: amount: %w", err)
	}
	if amount <= 0 {
		return domain.TradeCheck{}, fmt.Errorf("risk: amount must be positive: %w", domain.ErrValidation)
	}

	snap, err := e.collect(ctx, challengeID, marketID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.TradeCheck{Allowed: false, Reason: "Challenge not found or inactive"}, nil
		}
		return domain.TradeCheck{}, err
	}

	checks := []func(snapshot, string, float64) (bool, string){
		checkChallengeActive,
		checkMarket,
		checkPositionSize,
		checkCategoryExposure,
		checkOpenPositionCount,
	}
	for _, check := range checks {
		ok, reason := check(*snap, marketID, amount)
		if !ok {
			e.logger.InfoContext(ctx, "trade rejected",
				slog.String("challenge_id", challengeID),
				slog.String("market_id", marketID),
				slog.Float64("amount", amount),
				slog.String("reason", reason),
			)
			return domain.TradeCheck{Allowed: false, Reason: reason}, nil
		}
	}

	return domain.TradeCheck{Allowed: true}, nil
}

// collect builds the validation snapshot: one positions query, one market
// lookup (batched over every market the decision touches), one price fetch.
func (e *Engine) collect(ctx context.Context, challengeID, marketID string) (*snapshot, error) {
	challenge, err := e.challenges.GetByID(ctx, challengeID)
	if err != nil {
		return nil, fmt.Errorf("risk: load challenge %s: %w", challengeID, err)
	}

	open, err := e.positions.ListOpenByChallenge(ctx, challengeID)
	if err != nil {
		return nil, fmt.Errorf("risk: load positions %s: %w", challengeID, err)
	}

	marketIDs := make([]string, 0, len(open)+1)
	marketIDs = append(marketIDs, marketID)
	seen := map[string]bool{marketID: true}
	for _, p := range open {
		if !seen[p.MarketID] {
			seen[p.MarketID] = true
			marketIDs = append(marketIDs, p.MarketID)
		}
	}

	markets, err := e.markets.GetByIDs(ctx, marketIDs)
	if err != nil {
		return nil, fmt.Errorf("risk: load markets: %w", err)
	}

	livePrices, err := e.prices.BatchPrices(ctx, marketIDs)
	if err != nil {
		return nil, fmt.Errorf("risk: load prices: %w", err)
	}
	prices := make(map[string]float64, len(livePrices))
	for id, p := range livePrices {
		prices[id] = p.Price
	}

	return &snapshot{
		challenge: challenge,
		positions: open,
		markets:   markets,
		prices:    prices,
	}, nil
}

func checkChallengeActive(s snapshot, _ string, _ float64) (bool, string) {
	switch s.challenge.Status {
	case domain.StatusActive, domain.StatusPendingFailure:
		return true, ""
	default:
		return false, fmt.Sprintf("Challenge is %s", s.challenge.Status)
	}
}

func checkMarket(s snapshot, marketID string, _ float64) (bool, string) {
	m, ok := s.markets[marketID]
	if !ok {
		return false, "Market not found"
	}
	if m.Status != domain.MarketStatusActive {
		return false, fmt.Sprintf("Market is %s", m.Status)
	}
	if m.Liquidity < s.challenge.Rules.MinMarketLiquidity {
		return false, fmt.Sprintf("Market liquidity %.2f below minimum %.2f",
			m.Liquidity, s.challenge.Rules.MinMarketLiquidity)
	}
	return true, ""
}

func checkPositionSize(s snapshot, _ string, amount float64) (bool, string) {
	equity := pricing.Equity(s.challenge.CurrentBalance, s.positions, s.prices)
	if equity <= 0 {
		return false, "No equity available"
	}
	maxSize := equity * s.challenge.Rules.MaxPositionPercent
	if amount > maxSize {
		return false, fmt.Sprintf("Position size %.2f exceeds %.0f%% of equity (%.2f)",
			amount, s.challenge.Rules.MaxPositionPercent*100, maxSize)
	}
	return true, ""
}

func checkCategoryExposure(s snapshot, marketID string, amount float64) (bool, string) {
	limit := s.challenge.Rules.MaxCategoryExposure
	if limit <= 0 {
		return true, "" // no category cap configured
	}
	m, ok := s.markets[marketID]
	if !ok {
		return false, "Market not found"
	}

	exposure := amount
	for _, p := range s.positions {
		pm, ok := s.markets[p.MarketID]
		if !ok || pm.Category != m.Category {
			continue
		}
		yesPrice, ok := s.prices[p.MarketID]
		if !ok {
			continue
		}
		exposure += p.Shares * pricing.DirectionAdjusted(yesPrice, p.Direction)
	}
	if exposure > limit {
		return false, fmt.Sprintf("Category %q exposure %.2f exceeds cap %.2f", m.Category, exposure, limit)
	}
	return true, ""
}

func checkOpenPositionCount(s snapshot, _ string, _ float64) (bool, string) {
	max := s.challenge.Rules.MaxOpenPositions
	if len(s.positions)+1 > max {
		return false, fmt.Sprintf("Open position limit reached (%d/%d)", len(s.positions), max)
	}
	return true, ""
}
