package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/propdesk/internal/domain"
)

// OutageStore implements domain.OutageStore using PostgreSQL.
type OutageStore struct {
	pool *pgxpool.Pool
}

// NewOutageStore creates a new OutageStore backed by the given pool.
func NewOutageStore(pool *pgxpool.Pool) *OutageStore {
	return &OutageStore{pool: pool}
}

var _ domain.OutageStore = (*OutageStore)(nil)

const outageSelectCols = `id, started_at, ended_at, grace_window_ends_at,
	challenges_extended, reason`

func scanOutage(row pgx.Row) (domain.OutageEvent, error) {
	var e domain.OutageEvent
	err := row.Scan(
		&e.ID, &e.StartedAt, &e.EndedAt, &e.GraceWindowEndsAt,
		&e.ChallengesExtended, &e.Reason,
	)
	return e, err
}

// Open records the start of an outage.
func (s *OutageStore) Open(ctx context.Context, e domain.OutageEvent) error {
	const query = `
		INSERT INTO outage_events (
			id, started_at, ended_at, grace_window_ends_at, challenges_extended, reason
		) VALUES ($1, $2, $3, $4, $5, $6)`

	_, err := s.pool.Exec(ctx, query,
		e.ID, e.StartedAt, e.EndedAt, e.GraceWindowEndsAt, e.ChallengesExtended, e.Reason,
	)
	if err != nil {
		return fmt.Errorf("postgres: open outage %s: %w", e.ID, err)
	}
	return nil
}

// CloseOpen ends the currently-open outage.
func (s *OutageStore) CloseOpen(ctx context.Context, endedAt, graceEndsAt time.Time, extended int) error {
	const query = `
		UPDATE outage_events SET
			ended_at             = $1,
			grace_window_ends_at = $2,
			challenges_extended  = $3
		WHERE ended_at IS NULL`

	tag, err := s.pool.Exec(ctx, query, endedAt, graceEndsAt, extended)
	if err != nil {
		return fmt.Errorf("postgres: close outage: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Latest returns the most recent outage event.
func (s *OutageStore) Latest(ctx context.Context) (domain.OutageEvent, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+outageSelectCols+` FROM outage_events
		 ORDER BY started_at DESC LIMIT 1`)

	e, err := scanOutage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.OutageEvent{}, domain.ErrNotFound
		}
		return domain.OutageEvent{}, fmt.Errorf("postgres: latest outage: %w", err)
	}
	return e, nil
}

// ListRecent returns the most recent outage events, newest first.
func (s *OutageStore) ListRecent(ctx context.Context, limit int) ([]domain.OutageEvent, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+outageSelectCols+` FROM outage_events
		 ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list outages: %w", err)
	}
	defer rows.Close()

	var out []domain.OutageEvent
	for rows.Next() {
		e, err := scanOutage(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan outage: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list outages rows: %w", err)
	}
	return out, nil
}
