package domain

import (
	"context"
	"time"
)

// PriceCache provides fast access to the latest prices. Entries carry the
// timestamp they were stored with so readers can judge staleness themselves.
type PriceCache interface {
	SetPrice(ctx context.Context, marketID string, price float64, ts time.Time) error
	GetPrice(ctx context.Context, marketID string) (float64, time.Time, error)
	GetPrices(ctx context.Context, marketIDs []string) (map[string]PricePoint, error)
}

// BookCache stores live orderbook state.
type BookCache interface {
	SetSnapshot(ctx context.Context, book OrderBook) error
	GetSnapshot(ctx context.Context, marketID string) (OrderBook, error)
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking for scheduled jobs.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// PriceSource returns validated live prices. BatchPrices makes a single
// upstream round trip for all requested markets; markets with no usable
// price are absent from the result rather than defaulted.
type PriceSource interface {
	LatestPrice(ctx context.Context, marketID string) (PricePoint, error)
	BatchPrices(ctx context.Context, marketIDs []string) (map[string]PricePoint, error)
}
