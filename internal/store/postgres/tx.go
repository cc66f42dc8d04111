package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/propdesk/internal/domain"
	"github.com/alanyoungcy/propdesk/internal/money"
)

// TxRunner implements domain.TxRunner over a pgx transaction so a status
// change and its position closures commit or roll back together.
type TxRunner struct {
	pool *pgxpool.Pool
}

// NewTxRunner creates a TxRunner backed by the given pool.
func NewTxRunner(pool *pgxpool.Pool) *TxRunner {
	return &TxRunner{pool: pool}
}

var (
	_ domain.TxRunner = (*TxRunner)(nil)
	_ domain.EvalTx   = (*evalTx)(nil)
)

// WithinTx runs fn inside one database transaction. Any error from fn or
// from commit rolls everything back; no partial write is observable.
func (r *TxRunner) WithinTx(ctx context.Context, fn func(tx domain.EvalTx) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&evalTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

type evalTx struct {
	tx pgx.Tx
}

func (t *evalTx) UpdateChallengeState(ctx context.Context, id string, phase domain.ChallengePhase, status domain.ChallengeStatus, pendingFailureAt *time.Time) error {
	const query = `
		UPDATE challenges SET
			phase              = $2,
			status             = $3,
			pending_failure_at = $4,
			updated_at         = NOW()
		WHERE id = $1`

	tag, err := t.tx.Exec(ctx, query, id, string(phase), string(status), pendingFailureAt)
	if err != nil {
		return fmt.Errorf("postgres: update challenge state %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *evalTx) ClosePosition(ctx context.Context, positionID string, exitPrice float64, closedAt time.Time) error {
	const query = `
		UPDATE positions SET
			status     = 'CLOSED',
			exit_price = $2,
			closed_at  = $3,
			updated_at = NOW()
		WHERE id = $1 AND status = 'OPEN'`

	tag, err := t.tx.Exec(ctx, query, positionID, money.Format(exitPrice), closedAt)
	if err != nil {
		return fmt.Errorf("postgres: close position %s: %w", positionID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *evalTx) InsertPosition(ctx context.Context, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			id, challenge_id, market_id, direction,
			shares, entry_price, status, opened_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())`

	_, err := t.tx.Exec(ctx, query,
		p.ID, p.ChallengeID, p.MarketID, string(p.Direction),
		money.Format(p.Shares), money.Format(p.EntryPrice),
		string(p.Status), p.OpenedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert position %s in tx: %w", p.ID, err)
	}
	return nil
}

func (t *evalTx) AdjustBalance(ctx context.Context, challengeID string, delta float64) error {
	const query = `
		UPDATE challenges SET
			current_balance = current_balance + $2::numeric,
			updated_at      = NOW()
		WHERE id = $1`

	tag, err := t.tx.Exec(ctx, query, challengeID, money.Format(delta))
	if err != nil {
		return fmt.Errorf("postgres: adjust balance %s: %w", challengeID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (t *evalTx) InsertTrade(ctx context.Context, trade domain.Trade) error {
	if _, err := t.tx.Exec(ctx, tradeInsertQuery, tradeInsertArgs(trade)...); err != nil {
		return fmt.Errorf("postgres: insert trade %s in tx: %w", trade.ID, err)
	}
	return nil
}
