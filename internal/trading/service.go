// Package trading records fills against challenge accounts. It is the write
// path the risk engine guards: every buy is validated first, and every
// ledger write commits atomically with its balance adjustment.
package trading

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/propdesk/internal/book"
	"github.com/alanyoungcy/propdesk/internal/domain"
	"github.com/alanyoungcy/propdesk/internal/money"
	"github.com/alanyoungcy/propdesk/internal/pricing"
	"github.com/alanyoungcy/propdesk/internal/risk"
)

// BuyRequest opens a position. YesPrice is the raw YES-side price; the
// service derives the direction-adjusted entry from it.
type BuyRequest struct {
	ChallengeID string
	MarketID    string
	Direction   domain.Direction
	YesPrice    float64
	Amount      float64 // notional to spend, account currency
}

// SellRequest closes an existing position at the given YES-side price.
type SellRequest struct {
	ChallengeID string
	PositionID  string
	YesPrice    float64
}

// Service validates and records fills.
type Service struct {
	risk      *risk.Engine
	positions domain.PositionStore
	books     domain.BookCache
	tx        domain.TxRunner
	logger    *slog.Logger
	clock     func() time.Time
}

// New creates a Service. books may be nil; fills then price at the
// direction-adjusted spot instead of walking the order book.
func New(riskEngine *risk.Engine, positions domain.PositionStore, books domain.BookCache, tx domain.TxRunner, logger *slog.Logger) *Service {
	return &Service{
		risk:      riskEngine,
		positions: positions,
		books:     books,
		tx:        tx,
		logger:    logger.With(slog.String("component", "trading")),
		clock:     time.Now,
	}
}

// SetClock overrides the service's clock; tests pin time with it.
func (s *Service) SetClock(clock func() time.Time) { s.clock = clock }

// Buy validates the trade against the challenge's rules, then records the
// position, the BUY fill and the cash debit in one transaction. A rejected
// trade returns the risk reason with no error and no writes.
func (s *Service) Buy(ctx context.Context, req BuyRequest) (domain.TradeCheck, domain.Position, error) {
	if _, err := money.Check(req.Amount); err != nil || req.Amount <= 0 {
		return domain.TradeCheck{}, domain.Position{}, fmt.Errorf("trading: amount %v: %w", req.Amount, domain.ErrValidation)
	}
	if req.YesPrice <= 0 || req.YesPrice >= 1 {
		return domain.TradeCheck{}, domain.Position{}, fmt.Errorf("trading: yes price %v out of range: %w", req.YesPrice, domain.ErrValidation)
	}
	if req.Direction != domain.DirectionYes && req.Direction != domain.DirectionNo {
		return domain.TradeCheck{}, domain.Position{}, fmt.Errorf("trading: direction %q: %w", req.Direction, domain.ErrValidation)
	}

	check, err := s.risk.ValidateTrade(ctx, req.ChallengeID, req.MarketID, req.Amount)
	if err != nil {
		return domain.TradeCheck{}, domain.Position{}, fmt.Errorf("trading: validate: %w", err)
	}
	if !check.Allowed {
		return check, domain.Position{}, nil
	}

	now := s.clock()
	spot := pricing.DirectionAdjusted(req.YesPrice, req.Direction)
	entry := s.executionPrice(ctx, req.MarketID, req.Direction, domain.TradeTypeBuy, spot, req.Amount)
	position := domain.Position{
		ID:          uuid.New().String(),
		ChallengeID: req.ChallengeID,
		MarketID:    req.MarketID,
		Direction:   req.Direction,
		Shares:      req.Amount / entry,
		EntryPrice:  entry,
		Status:      domain.PositionStatusOpen,
		OpenedAt:    now,
	}
	trade := domain.Trade{
		ID:          uuid.New().String(),
		ChallengeID: req.ChallengeID,
		MarketID:    req.MarketID,
		Type:        domain.TradeTypeBuy,
		Direction:   req.Direction,
		Price:       entry,
		Amount:      req.Amount,
		Shares:      position.Shares,
		ExecutedAt:  now,
	}

	err = s.tx.WithinTx(ctx, func(tx domain.EvalTx) error {
		if err := tx.InsertPosition(ctx, position); err != nil {
			return err
		}
		if err := tx.InsertTrade(ctx, trade); err != nil {
			return err
		}
		return tx.AdjustBalance(ctx, req.ChallengeID, -req.Amount)
	})
	if err != nil {
		return domain.TradeCheck{}, domain.Position{}, fmt.Errorf("trading: record buy: %w", err)
	}

	s.logger.InfoContext(ctx, "buy recorded",
		slog.String("challenge_id", req.ChallengeID),
		slog.String("market_id", req.MarketID),
		slog.String("direction", string(req.Direction)),
		slog.Float64("amount", req.Amount),
	)
	return check, position, nil
}

// Sell closes a position, booking the SELL fill with its realized PnL and
// crediting the proceeds, all in one transaction.
func (s *Service) Sell(ctx context.Context, req SellRequest) (domain.Trade, error) {
	if req.YesPrice <= 0 || req.YesPrice >= 1 {
		return domain.Trade{}, fmt.Errorf("trading: yes price %v out of range: %w", req.YesPrice, domain.ErrValidation)
	}

	position, err := s.positions.GetByID(ctx, req.PositionID)
	if err != nil {
		return domain.Trade{}, fmt.Errorf("trading: load position %s: %w", req.PositionID, err)
	}
	if position.ChallengeID != req.ChallengeID {
		return domain.Trade{}, fmt.Errorf("trading: position %s does not belong to challenge %s: %w",
			req.PositionID, req.ChallengeID, domain.ErrValidation)
	}
	if position.Status != domain.PositionStatusOpen {
		return domain.Trade{}, fmt.Errorf("trading: position %s already closed: %w", req.PositionID, domain.ErrValidation)
	}

	now := s.clock()
	spot := pricing.DirectionAdjusted(req.YesPrice, position.Direction)
	exit := s.executionPrice(ctx, position.MarketID, position.Direction, domain.TradeTypeSell, spot, position.Shares*spot)
	realized := pricing.RealizedAtEffective(position.Shares, position.EntryPrice, exit)
	proceeds := position.Shares * exit

	trade := domain.Trade{
		ID:          uuid.New().String(),
		ChallengeID: req.ChallengeID,
		MarketID:    position.MarketID,
		Type:        domain.TradeTypeSell,
		Direction:   position.Direction,
		Price:       exit,
		Amount:      proceeds,
		Shares:      position.Shares,
		RealizedPnL: &realized,
		ExecutedAt:  now,
	}

	err = s.tx.WithinTx(ctx, func(tx domain.EvalTx) error {
		if err := tx.ClosePosition(ctx, position.ID, exit, now); err != nil {
			return err
		}
		if err := tx.InsertTrade(ctx, trade); err != nil {
			return err
		}
		return tx.AdjustBalance(ctx, req.ChallengeID, proceeds)
	})
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Trade{}, fmt.Errorf("trading: position %s vanished: %w", req.PositionID, err)
		}
		return domain.Trade{}, fmt.Errorf("trading: record sell: %w", err)
	}

	s.logger.InfoContext(ctx, "sell recorded",
		slog.String("challenge_id", req.ChallengeID),
		slog.String("position_id", req.PositionID),
		slog.Float64("realized_pnl", realized),
	)
	return trade, nil
}

// executionPrice walks the cached order book for a depth-aware fill price.
// Vendor books are YES-denominated; NO positions trade the inverted book.
// Any gap in the book path (no cache, missing snapshot, dead book, partial
// fill) falls back to the direction-adjusted spot price.
func (s *Service) executionPrice(ctx context.Context, marketID string, dir domain.Direction, side domain.TradeType, spot, notional float64) float64 {
	if s.books == nil {
		return spot
	}
	b, err := s.books.GetSnapshot(ctx, marketID)
	if err != nil {
		return spot
	}
	if dir == domain.DirectionNo {
		b = book.Invert(b)
	}
	if book.IsDead(b, 0) {
		return spot
	}
	impact, err := book.CalculateImpact(b, side, notional)
	if err != nil || impact.Partial {
		return spot
	}
	s.logger.DebugContext(ctx, "book execution price",
		slog.String("market_id", marketID),
		slog.Float64("spot", spot),
		slog.Float64("executed", impact.ExecutedPrice),
		slog.Int("levels", impact.LevelsConsumed),
	)
	return impact.ExecutedPrice
}
