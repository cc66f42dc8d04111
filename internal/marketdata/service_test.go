package marketdata

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/propdesk/internal/domain"
)

type stubPriceCache struct {
	points map[string]domain.PricePoint
	sets   int
}

func newStubPriceCache() *stubPriceCache {
	return &stubPriceCache{points: map[string]domain.PricePoint{}}
}

func (c *stubPriceCache) SetPrice(_ context.Context, marketID string, price float64, ts time.Time) error {
	c.points[marketID] = domain.PricePoint{MarketID: marketID, Price: price, Time: ts}
	c.sets++
	return nil
}

func (c *stubPriceCache) GetPrice(_ context.Context, marketID string) (float64, time.Time, error) {
	p, ok := c.points[marketID]
	if !ok {
		return 0, time.Time{}, domain.ErrNotFound
	}
	return p.Price, p.Time, nil
}

func (c *stubPriceCache) GetPrices(_ context.Context, marketIDs []string) (map[string]domain.PricePoint, error) {
	out := make(map[string]domain.PricePoint, len(marketIDs))
	for _, id := range marketIDs {
		if p, ok := c.points[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

var _ domain.PriceCache = (*stubPriceCache)(nil)

type stubVendor struct {
	prices       map[string]domain.PricePoint
	latestCalls  int
	batchCalls   int
	lastBatchIDs []string
}

func (v *stubVendor) GetLatestPrice(_ context.Context, marketID string) (domain.PricePoint, error) {
	v.latestCalls++
	p, ok := v.prices[marketID]
	if !ok {
		return domain.PricePoint{}, domain.ErrNoPrice
	}
	return p, nil
}

func (v *stubVendor) GetBatchOrderBookPrices(_ context.Context, marketIDs []string) (map[string]domain.PricePoint, []domain.OrderBook, error) {
	v.batchCalls++
	v.lastBatchIDs = append([]string(nil), marketIDs...)
	out := make(map[string]domain.PricePoint, len(marketIDs))
	for _, id := range marketIDs {
		if p, ok := v.prices[id]; ok {
			out[id] = p
		}
	}
	return out, nil, nil
}

func newServiceFixture(vendor *stubVendor, cache *stubPriceCache) *Service {
	logger := slog.New(slog.DiscardHandler)
	return NewService(vendor, cache, nil, NewValidator(DefaultMaxPriceAge), logger)
}

func TestBatchPricesRejectsStaleCacheEntry(t *testing.T) {
	freshTime := time.Now().Add(-time.Minute)
	vendor := &stubVendor{prices: map[string]domain.PricePoint{
		"m1": {MarketID: "m1", Price: 0.61, Time: freshTime},
	}}
	cache := newStubPriceCache()
	require.NoError(t, cache.SetPrice(context.Background(), "m1", 0.40, time.Now().Add(-3*time.Hour)))

	svc := newServiceFixture(vendor, cache)

	got, err := svc.BatchPrices(context.Background(), []string{"m1"})
	require.NoError(t, err)

	// The 3-hour-old cache entry must not be served; the batch path has to
	// notice its age and refetch, just like the single-market path does.
	require.Contains(t, got, "m1")
	assert.Equal(t, 0.61, got["m1"].Price)
	assert.Equal(t, freshTime, got["m1"].Time)
	assert.Equal(t, 1, vendor.batchCalls)
	assert.Equal(t, []string{"m1"}, vendor.lastBatchIDs)

	// Refetch refreshes the cache entry.
	assert.Equal(t, 0.61, cache.points["m1"].Price)
}

func TestBatchPricesServesFreshCacheWithoutVendor(t *testing.T) {
	cachedTime := time.Now().Add(-30 * time.Second)
	vendor := &stubVendor{prices: map[string]domain.PricePoint{}}
	cache := newStubPriceCache()
	require.NoError(t, cache.SetPrice(context.Background(), "m1", 0.33, cachedTime))

	svc := newServiceFixture(vendor, cache)

	got, err := svc.BatchPrices(context.Background(), []string{"m1"})
	require.NoError(t, err)

	require.Contains(t, got, "m1")
	assert.Equal(t, 0.33, got["m1"].Price)
	assert.Equal(t, cachedTime, got["m1"].Time, "served point carries the cached timestamp, not read time")
	assert.Zero(t, vendor.batchCalls)
}

func TestBatchPricesMixesCachedAndFetched(t *testing.T) {
	now := time.Now()
	vendor := &stubVendor{prices: map[string]domain.PricePoint{
		"m2": {MarketID: "m2", Price: 0.72, Time: now},
	}}
	cache := newStubPriceCache()
	require.NoError(t, cache.SetPrice(context.Background(), "m1", 0.25, now.Add(-time.Minute)))

	svc := newServiceFixture(vendor, cache)

	got, err := svc.BatchPrices(context.Background(), []string{"m1", "m2"})
	require.NoError(t, err)

	assert.Len(t, got, 2)
	assert.Equal(t, 0.25, got["m1"].Price)
	assert.Equal(t, 0.72, got["m2"].Price)
	assert.Equal(t, []string{"m2"}, vendor.lastBatchIDs, "only the cache miss goes to the vendor")
}

func TestLatestPriceRejectsStaleCacheEntry(t *testing.T) {
	freshTime := time.Now().Add(-time.Minute)
	vendor := &stubVendor{prices: map[string]domain.PricePoint{
		"m1": {MarketID: "m1", Price: 0.58, Time: freshTime},
	}}
	cache := newStubPriceCache()
	require.NoError(t, cache.SetPrice(context.Background(), "m1", 0.40, time.Now().Add(-3*time.Hour)))

	svc := newServiceFixture(vendor, cache)

	got, err := svc.LatestPrice(context.Background(), "m1")
	require.NoError(t, err)
	assert.Equal(t, 0.58, got.Price)
	assert.Equal(t, 1, vendor.latestCalls)
}
