package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/propdesk/internal/domain"
	"github.com/alanyoungcy/propdesk/internal/money"
)

// ChallengeStore implements domain.ChallengeStore using PostgreSQL.
//
// Balance columns are NUMERIC and cross the wire as decimal strings; every
// scan goes through money.Parse so a corrupt value errors out instead of
// leaking into an evaluation.
type ChallengeStore struct {
	pool *pgxpool.Pool
}

// NewChallengeStore creates a new ChallengeStore backed by the given pool.
func NewChallengeStore(pool *pgxpool.Pool) *ChallengeStore {
	return &ChallengeStore{pool: pool}
}

var _ domain.ChallengeStore = (*ChallengeStore)(nil)

const challengeSelectCols = `id, user_id, phase, status,
	starting_balance::text, current_balance::text, start_of_day_balance::text,
	high_water_mark::text, ends_at, pending_failure_at, last_daily_reset_at,
	rules, platform, created_at, updated_at`

func scanChallenge(row pgx.Row) (domain.Challenge, error) {
	var c domain.Challenge
	var phase, status string
	var starting, current, startOfDay, hwm string
	var rulesJSON []byte

	err := row.Scan(
		&c.ID, &c.UserID, &phase, &status,
		&starting, &current, &startOfDay, &hwm,
		&c.EndsAt, &c.PendingFailureAt, &c.LastDailyResetAt,
		&rulesJSON, &c.Platform, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return domain.Challenge{}, err
	}

	if c.StartingBalance, err = money.Parse(starting); err != nil {
		return domain.Challenge{}, fmt.Errorf("challenge %s starting_balance: %w", c.ID, err)
	}
	if c.CurrentBalance, err = money.Parse(current); err != nil {
		return domain.Challenge{}, fmt.Errorf("challenge %s current_balance: %w", c.ID, err)
	}
	if c.StartOfDayBal, err = money.Parse(startOfDay); err != nil {
		return domain.Challenge{}, fmt.Errorf("challenge %s start_of_day_balance: %w", c.ID, err)
	}
	if c.HighWaterMark, err = money.Parse(hwm); err != nil {
		return domain.Challenge{}, fmt.Errorf("challenge %s high_water_mark: %w", c.ID, err)
	}

	if err := json.Unmarshal(rulesJSON, &c.Rules); err != nil {
		return domain.Challenge{}, fmt.Errorf("challenge %s rules: %w: %w", c.ID, err, domain.ErrDataIntegrity)
	}
	if err := c.Rules.Validate(); err != nil {
		return domain.Challenge{}, fmt.Errorf("challenge %s rules: %w: %w", c.ID, err, domain.ErrDataIntegrity)
	}

	c.Phase = domain.ChallengePhase(phase)
	c.Status = domain.ChallengeStatus(status)
	return c, nil
}

// Create inserts a new challenge account.
func (s *ChallengeStore) Create(ctx context.Context, c domain.Challenge) error {
	if err := c.Rules.Validate(); err != nil {
		return fmt.Errorf("postgres: create challenge %s: %w", c.ID, err)
	}
	rulesJSON, err := json.Marshal(c.Rules)
	if err != nil {
		return fmt.Errorf("postgres: marshal rules for %s: %w", c.ID, err)
	}

	const query = `
		INSERT INTO challenges (
			id, user_id, phase, status,
			starting_balance, current_balance, start_of_day_balance, high_water_mark,
			ends_at, pending_failure_at, last_daily_reset_at,
			rules, platform, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8,
			$9, $10, $11,
			$12, $13, NOW(), NOW()
		)`

	_, err = s.pool.Exec(ctx, query,
		c.ID, c.UserID, string(c.Phase), string(c.Status),
		money.Format(c.StartingBalance), money.Format(c.CurrentBalance),
		money.Format(c.StartOfDayBal), money.Format(c.HighWaterMark),
		c.EndsAt, c.PendingFailureAt, c.LastDailyResetAt,
		rulesJSON, c.Platform,
	)
	if err != nil {
		return fmt.Errorf("postgres: create challenge %s: %w", c.ID, err)
	}
	return nil
}

// GetByID retrieves a single challenge by its ID.
func (s *ChallengeStore) GetByID(ctx context.Context, id string) (domain.Challenge, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+challengeSelectCols+` FROM challenges WHERE id = $1`, id)

	c, err := scanChallenge(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Challenge{}, domain.ErrNotFound
		}
		return domain.Challenge{}, fmt.Errorf("postgres: get challenge %s: %w", id, err)
	}
	return c, nil
}

// ListActive returns every non-terminal challenge, oldest first so sweeps
// reach long-waiting accounts before fresh ones.
func (s *ChallengeStore) ListActive(ctx context.Context, opts domain.ListOpts) ([]domain.Challenge, error) {
	query := `SELECT ` + challengeSelectCols + `
		FROM challenges WHERE status IN ('active', 'pending_failure')
		ORDER BY created_at ASC`
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
		return nil, fmt.Errorf("postgres: list active challenges: %w", err)
	}
	defer rows.Close()

	var out []domain.Challenge
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan active challenge: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list active challenges rows: %w", err)
	}
	return out, nil
}

// UpdateHighWaterMark persists a new high-water mark. The WHERE clause keeps
// the mark monotonic even under concurrent evaluations.
func (s *ChallengeStore) UpdateHighWaterMark(ctx context.Context, id string, hwm float64) error {
	const query = `
		UPDATE challenges SET
			high_water_mark = $2,
			updated_at      = NOW()
		WHERE id = $1 AND high_water_mark < $2`

	if _, err := s.pool.Exec(ctx, query, id, money.Format(hwm)); err != nil {
		return fmt.Errorf("postgres: update high water mark %s: %w", id, err)
	}
	return nil
}

// SetPendingFailure opens the daily-loss grace period. Only the first breach
// of the day records a timestamp.
func (s *ChallengeStore) SetPendingFailure(ctx context.Context, id string, at time.Time) error {
	const query = `
		UPDATE challenges SET
			status             = 'pending_failure',
			pending_failure_at = $2,
			updated_at         = NOW()
		WHERE id = $1 AND status = 'active'`

	tag, err := s.pool.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("postgres: set pending failure %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ClearPendingFailure ends a grace period after recovery.
func (s *ChallengeStore) ClearPendingFailure(ctx context.Context, id string) error {
	const query = `
		UPDATE challenges SET
			status             = 'active',
			pending_failure_at = NULL,
			updated_at         = NOW()
		WHERE id = $1 AND status = 'pending_failure'`

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("postgres: clear pending failure %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// SetStartOfDay records the daily reset balance and its idempotency guard.
func (s *ChallengeStore) SetStartOfDay(ctx context.Context, id string, balance float64, resetAt time.Time) error {
	const query = `
		UPDATE challenges SET
			start_of_day_balance = $2,
			last_daily_reset_at  = $3,
			updated_at           = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, money.Format(balance), resetAt)
	if err != nil {
		return fmt.Errorf("postgres: set start of day %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ExtendDeadlines pushes every active challenge's deadline forward, used
// when an exchange outage ends so nobody loses challenge time to it.
func (s *ChallengeStore) ExtendDeadlines(ctx context.Context, by time.Duration) (int, error) {
	const query = `
		UPDATE challenges SET
			ends_at    = ends_at + $1,
			updated_at = NOW()
		WHERE status IN ('active', 'pending_failure') AND ends_at IS NOT NULL`

	tag, err := s.pool.Exec(ctx, query, by)
	if err != nil {
		return 0, fmt.Errorf("postgres: extend deadlines: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
