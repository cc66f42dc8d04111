package domain

import "time"

// TradeType distinguishes opening buys from closing sells.
type TradeType string

const (
	TradeTypeBuy  TradeType = "BUY"
	TradeTypeSell TradeType = "SELL"
)

// Trade is a recorded fill against a challenge account. RealizedPnL is set
// only on SELL trades; nil means "no data", which is distinct from zero.
type Trade struct {
	ID          string
	ChallengeID string
	MarketID    string
	Type        TradeType
	Direction   Direction
	Price       float64 // direction-adjusted execution price
	Amount      float64 // notional in account currency
	Shares      float64
	RealizedPnL *float64
	ExecutedAt  time.Time
}
