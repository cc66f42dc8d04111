package domain

import "time"

// Direction is the outcome side a position is exposed to. Prices are always
// handled in the YES-denominated space; NO positions are recast as 1-p.
type Direction string

const (
	DirectionYes Direction = "YES"
	DirectionNo  Direction = "NO"
)

// PositionStatus tracks whether a position is open or closed.
type PositionStatus string

const (
	PositionStatusOpen   PositionStatus = "OPEN"
	PositionStatusClosed PositionStatus = "CLOSED"
)

// Position represents an open or historical challenge position.
// EntryPrice is already direction-adjusted (YES space).
type Position struct {
	ID          string
	ChallengeID string
	MarketID    string
	Direction   Direction
	Shares      float64
	EntryPrice  float64
	Status      PositionStatus
	OpenedAt    time.Time
	ClosedAt    *time.Time
	ExitPrice   *float64
}
