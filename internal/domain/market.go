package domain

import "time"

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	MarketStatusActive  MarketStatus = "active"
	MarketStatusClosed  MarketStatus = "closed"
	MarketStatusSettled MarketStatus = "settled"
)

// Market represents a binary prediction market tradable on the platform.
type Market struct {
	ID        string
	Question  string
	Slug      string
	Category  string
	Outcomes  [2]string // e.g. ["Yes","No"]
	Liquidity float64   // resting notional across both sides of the book
	Volume    float64
	Status    MarketStatus
	ClosedAt  *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}
