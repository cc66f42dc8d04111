package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/propdesk/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

// NewMarketStore creates a new MarketStore backed by the given pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

var _ domain.MarketStore = (*MarketStore)(nil)

const marketSelectCols = `id, question, slug, category, outcome_yes, outcome_no,
	liquidity, volume, status, closed_at, created_at, updated_at`

func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var status string

	err := row.Scan(
		&m.ID, &m.Question, &m.Slug, &m.Category,
		&m.Outcomes[0], &m.Outcomes[1],
		&m.Liquidity, &m.Volume, &status,
		&m.ClosedAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.Status = domain.MarketStatus(status)
	return m, nil
}

// Upsert inserts or refreshes market metadata keyed by market ID.
func (s *MarketStore) Upsert(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			id, question, slug, category, outcome_yes, outcome_no,
			liquidity, volume, status, closed_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, NOW(), NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			question    = EXCLUDED.question,
			slug        = EXCLUDED.slug,
			category    = EXCLUDED.category,
			outcome_yes = EXCLUDED.outcome_yes,
			outcome_no  = EXCLUDED.outcome_no,
			liquidity   = EXCLUDED.liquidity,
			volume      = EXCLUDED.volume,
			status      = EXCLUDED.status,
			closed_at   = EXCLUDED.closed_at,
			updated_at  = NOW()`

	_, err := s.pool.Exec(ctx, query,
		m.ID, m.Question, m.Slug, m.Category,
		m.Outcomes[0], m.Outcomes[1],
		m.Liquidity, m.Volume, string(m.Status), m.ClosedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert market %s: %w", m.ID, err)
	}
	return nil
}

// GetByID retrieves a single market by its ID.
func (s *MarketStore) GetByID(ctx context.Context, id string) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketSelectCols+` FROM markets WHERE id = $1`, id)

	m, err := scanMarket(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", id, err)
	}
	return m, nil
}

// GetByIDs fetches many markets in one query. Unknown IDs are simply absent
// from the result; the caller decides whether that is an error.
func (s *MarketStore) GetByIDs(ctx context.Context, ids []string) (map[string]domain.Market, error) {
	out := make(map[string]domain.Market, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+marketSelectCols+` FROM markets WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("postgres: get markets by ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		out[m.ID] = m
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: get markets by ids rows: %w", err)
	}
	return out, nil
}

// ListActive returns markets currently open for trading.
func (s *MarketStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketSelectCols + ` FROM markets
		WHERE status = 'active' ORDER BY liquidity DESC`
	args := []any{}
	argIdx := 1

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
		return nil, fmt.Errorf("postgres: list active markets: %w", err)
	}
	defer rows.Close()

	var out []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan active market: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active markets rows: %w", err)
	}
	return out, nil
}
