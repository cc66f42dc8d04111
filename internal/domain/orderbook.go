package domain

import "time"

// PriceLevel is a single price+size entry in an orderbook.
type PriceLevel struct {
	Price float64
	Size  float64
}

// OrderBook is a snapshot of bids and asks for a market. Level ordering is
// NOT trusted: upstream feeds have delivered bids ascending-worst-first and
// asks descending-worst-first, so consumers must scan rather than index [0].
type OrderBook struct {
	MarketID  string
	Bids      []PriceLevel
	Asks      []PriceLevel
	Synthetic bool // fabricated around a reference price, apply wider margins
	Timestamp time.Time
}

// PricePoint is a validated live price for a market.
type PricePoint struct {
	MarketID string
	Price    float64
	Stale    bool
	Time     time.Time
}
