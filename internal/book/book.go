// Package book builds, inverts and walks synthetic limit-order books for
// execution pricing. Input level ordering is never trusted; best prices are
// found by scanning, not by indexing the first level.
package book

import (
	"fmt"
	"math"
	"sort"

	"github.com/alanyoungcy/propdesk/internal/domain"
	"github.com/alanyoungcy/propdesk/internal/money"
)

// DefaultDeadSpread is the spread beyond which a book is considered dead
// even when both sides have liquidity.
const DefaultDeadSpread = 0.20

// BestBid returns the highest bid price, scanning every level. The second
// return is false when the bid side is empty.
func BestBid(b domain.OrderBook) (float64, bool) {
	best := math.Inf(-1)
	found := false
	for _, l := range b.Bids {
		if l.Size <= 0 {
			continue
		}
		if l.Price > best {
			best = l.Price
			found = true
		}
	}
	return best, found
}

// BestAsk returns the lowest ask price, scanning every level. The second
// return is false when the ask side is empty.
func BestAsk(b domain.OrderBook) (float64, bool) {
	best := math.Inf(1)
	found := false
	for _, l := range b.Asks {
		if l.Size <= 0 {
			continue
		}
		if l.Price < best {
			best = l.Price
			found = true
		}
	}
	return best, found
}

// IsDead reports whether the book is unusable for execution pricing: either
// side empty, or the true spread (from scanned best levels) above maxSpread.
// A maxSpread of 0 uses DefaultDeadSpread.
func IsDead(b domain.OrderBook, maxSpread float64) bool {
	if maxSpread <= 0 {
		maxSpread = DefaultDeadSpread
	}
	bid, okB := BestBid(b)
	ask, okA := BestAsk(b)
	if !okB || !okA {
		return true
	}
	return ask-bid > maxSpread
}

// Impact is the result of walking the book with a notional order.
type Impact struct {
	Filled         float64 // notional actually filled
	ExecutedPrice  float64 // size-weighted average price across consumed levels
	LevelsConsumed int
	Partial        bool // book exhausted before the full notional filled
}

// CalculateImpact walks price levels outward from the best price, consuming
// liquidity until notional is filled or the book is exhausted. BUY walks the
// asks upward, SELL walks the bids downward. The executed price is the
// size-weighted average of consumed levels, so it always lies between the
// best price and the worst level consumed; an order larger than top-of-book
// depth never prices at the naive top of book.
func CalculateImpact(b domain.OrderBook, side domain.TradeType, notional float64) (Impact, error) {
	if notional <= 0 {
		return Impact{}, fmt.Errorf("book: notional must be positive: %w", domain.ErrValidation)
	}

	levels := usableLevels(b, side)
	if len(levels) == 0 {
		return Impact{}, fmt.Errorf("book: market %s: %w", b.MarketID, domain.ErrDeadBook)
	}

	var (
		remaining   = notional
		totalShares float64
		totalCost   float64
		consumed    int
	)
	for _, l := range levels {
		levelNotional := l.Price * l.Size
		if levelNotional <= 0 {
			continue
		}
		take := math.Min(remaining, levelNotional)
		shares := take / l.Price
		totalShares += shares
		totalCost += take
		remaining -= take
		consumed++
		if remaining <= 1e-12 {
			remaining = 0
			break
		}
	}

	if totalShares == 0 {
		return Impact{}, fmt.Errorf("book: market %s: %w", b.MarketID, domain.ErrDeadBook)
	}

	return Impact{
		Filled:         notional - remaining,
		ExecutedPrice:  totalCost / totalShares,
		LevelsConsumed: consumed,
		Partial:        remaining > 0,
	}, nil
}

// usableLevels returns the relevant side sorted best-first, dropping levels
// with non-positive size or prices outside (0,1).
func usableLevels(b domain.OrderBook, side domain.TradeType) []domain.PriceLevel {
	var src []domain.PriceLevel
	if side == domain.TradeTypeBuy {
		src = b.Asks
	} else {
		src = b.Bids
	}

	levels := make([]domain.PriceLevel, 0, len(src))
	for _, l := range src {
		if l.Size <= 0 || l.Price <= 0 || l.Price >= 1 {
			continue
		}
		if _, err := money.Check(l.Price); err != nil {
			continue
		}
		if _, err := money.Check(l.Size); err != nil {
			continue
		}
		levels = append(levels, l)
	}

	if side == domain.TradeTypeBuy {
		sort.Slice(levels, func(i, j int) bool { return levels[i].Price < levels[j].Price })
	} else {
		sort.Slice(levels, func(i, j int) bool { return levels[i].Price > levels[j].Price })
	}
	return levels
}

// Invert converts a NO-denominated book into YES space: a NO bid at p is a
// YES ask at 1-p, and a NO ask at p is a YES bid at 1-p.
func Invert(noBook domain.OrderBook) domain.OrderBook {
	yes := domain.OrderBook{
		MarketID:  noBook.MarketID,
		Synthetic: noBook.Synthetic,
		Timestamp: noBook.Timestamp,
		Bids:      make([]domain.PriceLevel, 0, len(noBook.Asks)),
		Asks:      make([]domain.PriceLevel, 0, len(noBook.Bids)),
	}
	for _, l := range noBook.Asks {
		yes.Bids = append(yes.Bids, domain.PriceLevel{Price: 1 - l.Price, Size: l.Size})
	}
	for _, l := range noBook.Bids {
		yes.Asks = append(yes.Asks, domain.PriceLevel{Price: 1 - l.Price, Size: l.Size})
	}
	return yes
}

// SyntheticConfig tunes fabricated books.
type SyntheticConfig struct {
	Levels    int     // levels per side
	Step      float64 // price distance between levels
	LevelSize float64 // shares per level
}

// BuildSynthetic fabricates a thin book around a reference price for markets
// with no real book. The result is flagged Synthetic so downstream risk code
// applies wider margins. The reference price must be a real in-range price;
// there is no placeholder fallback here or anywhere on the execution path.
func BuildSynthetic(marketID string, refPrice float64, cfg SyntheticConfig) (domain.OrderBook, error) {
	if _, err := money.Check(refPrice); err != nil {
		return domain.OrderBook{}, fmt.Errorf("book: synthetic reference: %w", err)
	}
	if refPrice <= 0 || refPrice >= 1 {
		return domain.OrderBook{}, fmt.Errorf("book: synthetic reference %g out of range: %w", refPrice, domain.ErrNoPrice)
	}

	if cfg.Levels <= 0 {
		cfg.Levels = 3
	}
	if cfg.Step <= 0 {
		cfg.Step = 0.01
	}
	if cfg.LevelSize <= 0 {
		cfg.LevelSize = 100
	}

	b := domain.OrderBook{MarketID: marketID, Synthetic: true}
	for i := 1; i <= cfg.Levels; i++ {
		bid := refPrice - cfg.Step*float64(i)
		ask := refPrice + cfg.Step*float64(i)
		if bid > 0 {
			b.Bids = append(b.Bids, domain.PriceLevel{Price: bid, Size: cfg.LevelSize})
		}
		if ask < 1 {
			b.Asks = append(b.Asks, domain.PriceLevel{Price: ask, Size: cfg.LevelSize})
		}
	}
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return domain.OrderBook{}, fmt.Errorf("book: synthetic book for %s has an empty side: %w", marketID, domain.ErrDeadBook)
	}
	return b, nil
}
