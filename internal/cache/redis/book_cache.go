package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/propdesk/internal/domain"
)

// bookSnapshotTTL expires stale snapshots. A book that has not been
// refreshed within this window is not worth serving; the validator would
// reject its age anyway.
const bookSnapshotTTL = 30 * time.Second

// BookCache implements domain.BookCache. Snapshots are small (a handful of
// levels per side) so they are stored whole as JSON at "book:{marketID}",
// replaced atomically on every update.
type BookCache struct {
	rdb *redis.Client
}

// NewBookCache creates a BookCache backed by the given Client.
func NewBookCache(c *Client) *BookCache {
	return &BookCache{rdb: c.Underlying()}
}

func bookKey(marketID string) string {
	return "book:" + marketID
}

type bookSnapshot struct {
	MarketID  string             `json:"market_id"`
	Bids      []domain.PriceLevel `json:"bids"`
	Asks      []domain.PriceLevel `json:"asks"`
	Synthetic bool               `json:"synthetic"`
	Timestamp int64              `json:"ts"` // Unix nanoseconds
}

// SetSnapshot replaces the stored snapshot for a market.
func (bc *BookCache) SetSnapshot(ctx context.Context, book domain.OrderBook) error {
	data, err := json.Marshal(bookSnapshot{
		MarketID:  book.MarketID,
		Bids:      book.Bids,
		Asks:      book.Asks,
		Synthetic: book.Synthetic,
		Timestamp: book.Timestamp.UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("redis: marshal book %s: %w", book.MarketID, err)
	}
	if err := bc.rdb.Set(ctx, bookKey(book.MarketID), data, bookSnapshotTTL).Err(); err != nil {
		return fmt.Errorf("redis: set book %s: %w", book.MarketID, err)
	}
	return nil
}

// GetSnapshot retrieves the stored snapshot for a market. It returns
// domain.ErrNotFound when no snapshot exists or it has expired.
func (bc *BookCache) GetSnapshot(ctx context.Context, marketID string) (domain.OrderBook, error) {
	data, err := bc.rdb.Get(ctx, bookKey(marketID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.OrderBook{}, domain.ErrNotFound
		}
		return domain.OrderBook{}, fmt.Errorf("redis: get book %s: %w", marketID, err)
	}

	var snap bookSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.OrderBook{}, fmt.Errorf("redis: unmarshal book %s: %w", marketID, err)
	}
	return domain.OrderBook{
		MarketID:  snap.MarketID,
		Bids:      snap.Bids,
		Asks:      snap.Asks,
		Synthetic: snap.Synthetic,
		Timestamp: time.Unix(0, snap.Timestamp),
	}, nil
}

// Compile-time interface check.
var _ domain.BookCache = (*BookCache)(nil)
