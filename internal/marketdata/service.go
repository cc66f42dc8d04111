package marketdata

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/propdesk/internal/domain"
)

// vendorAPI is the slice of the vendor client the service needs; tests
// substitute a fake.
type vendorAPI interface {
	GetLatestPrice(ctx context.Context, marketID string) (domain.PricePoint, error)
	GetBatchOrderBookPrices(ctx context.Context, marketIDs []string) (map[string]domain.PricePoint, []domain.OrderBook, error)
}

// Service implements domain.PriceSource: cache-first reads with a single
// batched vendor round trip for misses, every price validated before use.
type Service struct {
	api       vendorAPI
	cache     domain.PriceCache
	books     domain.BookCache
	validator *Validator
	logger    *slog.Logger
}

// NewService creates a Service. cache and books may be nil in tests.
func NewService(api vendorAPI, cache domain.PriceCache, books domain.BookCache, validator *Validator, logger *slog.Logger) *Service {
	return &Service{
		api:       api,
		cache:     cache,
		books:     books,
		validator: validator,
		logger:    logger.With(slog.String("component", "marketdata")),
	}
}

// LatestPrice returns a validated price for one market, preferring the cache.
func (s *Service) LatestPrice(ctx context.Context, marketID string) (domain.PricePoint, error) {
	now := time.Now()

	if s.cache != nil {
		if price, ts, err := s.cache.GetPrice(ctx, marketID); err == nil {
			p := domain.PricePoint{MarketID: marketID, Price: price, Time: ts}
			if s.validator.Validate(p, now) == nil {
				return p, nil
			}
		}
	}

	p, err := s.api.GetLatestPrice(ctx, marketID)
	if err != nil {
		return domain.PricePoint{}, err
	}
	if err := s.validator.Validate(p, now); err != nil {
		return domain.PricePoint{}, err
	}

	if s.cache != nil {
		if err := s.cache.SetPrice(ctx, marketID, p.Price, p.Time); err != nil {
			s.logger.WarnContext(ctx, "price cache write failed",
				slog.String("market_id", marketID),
				slog.String("error", err.Error()),
			)
		}
	}
	return p, nil
}

// BatchPrices returns validated prices for the given markets. Cached prices
// are read with one pipelined call; the remainder are fetched from the
// vendor in one batched round trip. Markets without a usable price are
// absent from the result, never defaulted.
func (s *Service) BatchPrices(ctx context.Context, marketIDs []string) (map[string]domain.PricePoint, error) {
	now := time.Now()
	out := make(map[string]domain.PricePoint, len(marketIDs))
	if len(marketIDs) == 0 {
		return out, nil
	}

	missing := marketIDs
	if s.cache != nil {
		cached, err := s.cache.GetPrices(ctx, marketIDs)
		if err != nil {
			s.logger.WarnContext(ctx, "price cache batch read failed", slog.String("error", err.Error()))
		} else {
			missing = missing[:0:0]
			for _, id := range marketIDs {
				p, ok := cached[id]
				if !ok {
					missing = append(missing, id)
					continue
				}
				// Cached entries keep their vendor timestamp, so stale ones
				// fail validation here and fall through to the vendor fetch.
				if s.validator.Validate(p, now) != nil {
					missing = append(missing, id)
					continue
				}
				out[id] = p
			}
		}
	}

	if len(missing) == 0 {
		return out, nil
	}

	fetched, books, err := s.api.GetBatchOrderBookPrices(ctx, missing)
	if err != nil {
		if len(out) > 0 {
			// Partial data beats none; missing markets simply stay absent.
			s.logger.WarnContext(ctx, "vendor batch fetch failed, serving cached subset",
				slog.Int("cached", len(out)),
				slog.Int("missing", len(missing)),
				slog.String("error", err.Error()),
			)
			return out, nil
		}
		return nil, fmt.Errorf("marketdata: batch prices: %w", err)
	}

	for _, ob := range books {
		if s.books != nil {
			if err := s.books.SetSnapshot(ctx, ob); err != nil {
				s.logger.WarnContext(ctx, "book cache write failed",
					slog.String("market_id", ob.MarketID),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	for id, p := range fetched {
		if err := s.validator.Validate(p, now); err != nil {
			s.logger.WarnContext(ctx, "rejected vendor price",
				slog.String("market_id", id),
				slog.String("error", err.Error()),
			)
			continue
		}
		out[id] = p
		if s.cache != nil {
			if err := s.cache.SetPrice(ctx, id, p.Price, p.Time); err != nil {
				s.logger.WarnContext(ctx, "price cache write failed",
					slog.String("market_id", id),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	return out, nil
}

// Compile-time interface check.
var _ domain.PriceSource = (*Service)(nil)
