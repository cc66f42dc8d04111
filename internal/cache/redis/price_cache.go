package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/propdesk/internal/domain"
)

// PriceCache implements domain.PriceCache using Redis hashes.
// Each market's price is stored as a hash at key "price:{marketID}" with
// fields "price" and "ts" (Unix nanosecond timestamp). The timestamp is the
// time the vendor reported the price, not the time of caching, so staleness
// checks downstream see the real age of the quote.
type PriceCache struct {
	rdb *redis.Client
}

// NewPriceCache creates a PriceCache backed by the given Client.
func NewPriceCache(c *Client) *PriceCache {
	return &PriceCache{rdb: c.Underlying()}
}

func priceKey(marketID string) string {
	return "price:" + marketID
}

// parsePriceEntry decodes a price hash into its price and timestamp.
// Both fields must be present and well formed.
func parsePriceEntry(vals map[string]string) (float64, time.Time, error) {
	priceStr, ok := vals["price"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	price, err := strconv.ParseFloat(priceStr, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("parse price: %w", err)
	}

	tsStr, ok := vals["ts"]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	tsNano, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("parse ts: %w", err)
	}

	return price, time.Unix(0, tsNano), nil
}

// SetPrice stores the latest price and its vendor timestamp for a market.
func (pc *PriceCache) SetPrice(ctx context.Context, marketID string, price float64, ts time.Time) error {
	key := priceKey(marketID)
	fields := map[string]interface{}{
		"price": strconv.FormatFloat(price, 'f', -1, 64),
		"ts":    strconv.FormatInt(ts.UnixNano(), 10),
	}
	if err := pc.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return fmt.Errorf("redis: set price %s: %w", marketID, err)
	}
	return nil
}

// GetPrice retrieves the latest price and timestamp for a market.
// It returns domain.ErrNotFound when the key does not exist.
func (pc *PriceCache) GetPrice(ctx context.Context, marketID string) (float64, time.Time, error) {
	key := priceKey(marketID)
	vals, err := pc.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("redis: get price %s: %w", marketID, err)
	}
	if len(vals) == 0 {
		return 0, time.Time{}, domain.ErrNotFound
	}

	price, ts, err := parsePriceEntry(vals)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return 0, time.Time{}, domain.ErrNotFound
		}
		return 0, time.Time{}, fmt.Errorf("redis: price %s: %w", marketID, err)
	}
	return price, ts, nil
}

// GetPrices retrieves the latest price points for multiple markets using a
// pipeline. Markets whose keys do not exist, or whose entries do not decode,
// are omitted from the result map.
func (pc *PriceCache) GetPrices(ctx context.Context, marketIDs []string) (map[string]domain.PricePoint, error) {
	if len(marketIDs) == 0 {
		return map[string]domain.PricePoint{}, nil
	}

	pipe := pc.rdb.Pipeline()
	cmds := make(map[string]*redis.MapStringStringCmd, len(marketIDs))
	for _, id := range marketIDs {
		cmds[id] = pipe.HGetAll(ctx, priceKey(id))
	}

	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: get prices pipeline: %w", err)
	}

	result := make(map[string]domain.PricePoint, len(marketIDs))
	for id, cmd := range cmds {
		vals, err := cmd.Result()
		if err != nil || len(vals) == 0 {
			continue
		}
		price, ts, err := parsePriceEntry(vals)
		if err != nil {
			continue
		}
		result[id] = domain.PricePoint{MarketID: id, Price: price, Time: ts}
	}

	return result, nil
}

// Compile-time interface check.
var _ domain.PriceCache = (*PriceCache)(nil)
