package domain

import (
	"context"
	"io"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// ChallengeStore persists challenge accounts.
type ChallengeStore interface {
	Create(ctx context.Context, c Challenge) error
	GetByID(ctx context.Context, id string) (Challenge, error)
	ListActive(ctx context.Context, opts ListOpts) ([]Challenge, error)
	// UpdateHighWaterMark persists a new high-water mark. Callers only invoke
	// this on increase; the store guards monotonicity as well.
	UpdateHighWaterMark(ctx context.Context, id string, hwm float64) error
	SetPendingFailure(ctx context.Context, id string, at time.Time) error
	ClearPendingFailure(ctx context.Context, id string) error
	// SetStartOfDay records the daily reset: new start-of-day balance and the
	// reset timestamp used as the idempotency guard.
	SetStartOfDay(ctx context.Context, id string, balance float64, resetAt time.Time) error
	// ExtendDeadlines pushes endsAt forward by the given duration for every
	// active challenge and returns how many rows were extended.
	ExtendDeadlines(ctx context.Context, by time.Duration) (int, error)
}

// EvalTx groups the writes of a single evaluation or fill so a status
// change, its position closures and the matching balance adjustments commit
// or roll back together.
type EvalTx interface {
	UpdateChallengeState(ctx context.Context, id string, phase ChallengePhase, status ChallengeStatus, pendingFailureAt *time.Time) error
	ClosePosition(ctx context.Context, positionID string, exitPrice float64, closedAt time.Time) error
	InsertPosition(ctx context.Context, p Position) error
	InsertTrade(ctx context.Context, t Trade) error
	// AdjustBalance moves cash on a challenge: negative for a buy's cost,
	// positive for a sell's proceeds.
	AdjustBalance(ctx context.Context, challengeID string, delta float64) error
}

// TxRunner runs fn inside a single database transaction. Any error rolls the
// whole transaction back; no partial write is observable.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(tx EvalTx) error) error
}

// PositionStore persists positions.
type PositionStore interface {
	Create(ctx context.Context, p Position) error
	GetByID(ctx context.Context, id string) (Position, error)
	ListOpenByChallenge(ctx context.Context, challengeID string) ([]Position, error)
	CountOpenByChallenge(ctx context.Context, challengeID string) (int, error)
}

// TradeStore persists trade fills.
type TradeStore interface {
	Insert(ctx context.Context, t Trade) error
	ListByChallenge(ctx context.Context, challengeID string, opts ListOpts) ([]Trade, error)
}

// MarketStore persists market metadata.
type MarketStore interface {
	Upsert(ctx context.Context, m Market) error
	GetByID(ctx context.Context, id string) (Market, error)
	// GetByIDs fetches many markets in one query; callers that need several
	// markets for one decision must use this instead of looping GetByID.
	GetByIDs(ctx context.Context, ids []string) (map[string]Market, error)
	ListActive(ctx context.Context, opts ListOpts) ([]Market, error)
}

// OutageStore persists market-data outage events.
type OutageStore interface {
	Open(ctx context.Context, e OutageEvent) error
	// CloseOpen ends the currently-open outage, recording the grace window
	// and the number of challenges whose deadlines were extended.
	CloseOpen(ctx context.Context, endedAt, graceEndsAt time.Time, extended int) error
	Latest(ctx context.Context) (OutageEvent, error)
	ListRecent(ctx context.Context, limit int) ([]OutageEvent, error)
}

// AuditEntry is a single audit log row.
type AuditEntry struct {
	ID        int64
	Event     string
	Detail    map[string]any
	CreatedAt time.Time
}

// AuditStore persists an append-only audit log.
type AuditStore interface {
	Log(ctx context.Context, event string, detail map[string]any) error
	List(ctx context.Context, opts ListOpts) ([]AuditEntry, error)
}

// BlobWriter uploads report objects to cold storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
