package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/propdesk/internal/domain"
	"github.com/alanyoungcy/propdesk/internal/money"
)

// TradeStore implements domain.TradeStore using PostgreSQL.
type TradeStore struct {
	pool *pgxpool.Pool
}

// NewTradeStore creates a new TradeStore backed by the given pool.
func NewTradeStore(pool *pgxpool.Pool) *TradeStore {
	return &TradeStore{pool: pool}
}

var _ domain.TradeStore = (*TradeStore)(nil)

const tradeSelectCols = `id, challenge_id, market_id, trade_type, direction,
	price::text, amount::text, shares::text, realized_pnl::text, executed_at`

func scanTrade(row pgx.Row) (domain.Trade, error) {
	var t domain.Trade
	var tradeType, direction string
	var price, amount, shares string
	var pnl *string

	err := row.Scan(
		&t.ID, &t.ChallengeID, &t.MarketID, &tradeType, &direction,
		&price, &amount, &shares, &pnl, &t.ExecutedAt,
	)
	if err != nil {
		return domain.Trade{}, err
	}

	if t.Price, err = money.Parse(price); err != nil {
		return domain.Trade{}, fmt.Errorf("trade %s price: %w", t.ID, err)
	}
	if t.Amount, err = money.Parse(amount); err != nil {
		return domain.Trade{}, fmt.Errorf("trade %s amount: %w", t.ID, err)
	}
	if t.Shares, err = money.Parse(shares); err != nil {
		return domain.Trade{}, fmt.Errorf("trade %s shares: %w", t.ID, err)
	}
	if pnl != nil {
		v, err := money.Parse(*pnl)
		if err != nil {
			return domain.Trade{}, fmt.Errorf("trade %s realized_pnl: %w", t.ID, err)
		}
		t.RealizedPnL = &v
	}

	t.Type = domain.TradeType(tradeType)
	t.Direction = domain.Direction(direction)
	return t, nil
}

const tradeInsertQuery = `
	INSERT INTO trades (
		id, challenge_id, market_id, trade_type, direction,
		price, amount, shares, realized_pnl, executed_at
	) VALUES (
		$1, $2, $3, $4, $5,
		$6, $7, $8, $9, $10
	)`

func tradeInsertArgs(t domain.Trade) []any {
	var pnl *string
	if t.RealizedPnL != nil {
		v := money.Format(*t.RealizedPnL)
		pnl = &v
	}
	return []any{
		t.ID, t.ChallengeID, t.MarketID, string(t.Type), string(t.Direction),
		money.Format(t.Price), money.Format(t.Amount), money.Format(t.Shares),
		pnl, t.ExecutedAt,
	}
}

// Insert appends a trade fill to the ledger.
func (s *TradeStore) Insert(ctx context.Context, t domain.Trade) error {
	if _, err := s.pool.Exec(ctx, tradeInsertQuery, tradeInsertArgs(t)...); err != nil {
		return fmt.Errorf("postgres: insert trade %s: %w", t.ID, err)
	}
	return nil
}

// ListByChallenge returns a challenge's trades with pagination and optional
// time filtering, oldest first so ledger replays run in execution order.
func (s *TradeStore) ListByChallenge(ctx context.Context, challengeID string, opts domain.ListOpts) ([]domain.Trade, error) {
	query := `SELECT ` + tradeSelectCols + ` FROM trades WHERE challenge_id = $1`
	args := []any{challengeID}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND executed_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND executed_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY executed_at ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trades %s: %w", challengeID, err)
	}
	defer rows.Close()

	var out []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan trade: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list trades rows: %w", err)
	}
	return out, nil
}
