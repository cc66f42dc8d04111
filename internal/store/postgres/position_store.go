package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/propdesk/internal/domain"
	"github.com/alanyoungcy/propdesk/internal/money"
)

// PositionStore implements domain.PositionStore using PostgreSQL.
type PositionStore struct {
	pool *pgxpool.Pool
}

// NewPositionStore creates a new PositionStore backed by the given pool.
func NewPositionStore(pool *pgxpool.Pool) *PositionStore {
	return &PositionStore{pool: pool}
}

var _ domain.PositionStore = (*PositionStore)(nil)

const positionSelectCols = `id, challenge_id, market_id, direction,
	shares::text, entry_price::text, status, opened_at, closed_at, exit_price::text`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var p domain.Position
	var direction, status string
	var shares, entry string
	var exit *string

	err := row.Scan(
		&p.ID, &p.ChallengeID, &p.MarketID, &direction,
		&shares, &entry, &status,
		&p.OpenedAt, &p.ClosedAt, &exit,
	)
	if err != nil {
		return domain.Position{}, err
	}

	if p.Shares, err = money.Parse(shares); err != nil {
		return domain.Position{}, fmt.Errorf("position %s shares: %w", p.ID, err)
	}
	if p.EntryPrice, err = money.Parse(entry); err != nil {
		return domain.Position{}, fmt.Errorf("position %s entry_price: %w", p.ID, err)
	}
	if exit != nil {
		v, err := money.Parse(*exit)
		if err != nil {
			return domain.Position{}, fmt.Errorf("position %s exit_price: %w", p.ID, err)
		}
		p.ExitPrice = &v
	}

	p.Direction = domain.Direction(direction)
	p.Status = domain.PositionStatus(status)
	return p, nil
}

// Create inserts a new position.
func (s *PositionStore) Create(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, challenge_id, market_id, direction,
			shares, entry_price, status, opened_at, closed_at, exit_price, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9, $10, NOW()
		)`

	var exit *string
	if p.ExitPrice != nil {
		v := money.Format(*p.ExitPrice)
		exit = &v
	}

	_, err := s.pool.Exec(ctx, query,
		p.ID, p.ChallengeID, p.MarketID, string(p.Direction),
		money.Format(p.Shares), money.Format(p.EntryPrice),
		string(p.Status), p.OpenedAt, p.ClosedAt, exit,
	)
	if err != nil {
		return fmt.Errorf("postgres: create position %s: %w", p.ID, err)
	}
	return nil
}

// GetByID retrieves a single position by its ID.
func (s *PositionStore) GetByID(ctx context.Context, id string) (domain.Position, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+positionSelectCols+` FROM positions WHERE id = $1`, id)

	p, err := scanPosition(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, domain.ErrNotFound
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", id, err)
	}
	return p, nil
}

// ListOpenByChallenge returns all open positions for a challenge in one query.
func (s *PositionStore) ListOpenByChallenge(ctx context.Context, challengeID string) ([]domain.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+positionSelectCols+` FROM positions
		 WHERE challenge_id = $1 AND status = 'OPEN'
		 ORDER BY opened_at DESC`, challengeID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list open positions %s: %w", challengeID, err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan open position: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list open positions rows: %w", err)
	}
	return out, nil
}

// CountOpenByChallenge counts open positions without materializing rows.
func (s *PositionStore) CountOpenByChallenge(ctx context.Context, challengeID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM positions WHERE challenge_id = $1 AND status = 'OPEN'`,
		challengeID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("postgres: count open positions %s: %w", challengeID, err)
	}
	return n, nil
}
