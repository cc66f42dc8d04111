package domain

import "time"

// ChallengePhase is the lifecycle phase of a funded-trading evaluation.
type ChallengePhase string

const (
	PhaseChallenge ChallengePhase = "challenge"
	PhaseFunded    ChallengePhase = "funded"
)

// ChallengeStatus is the evaluation status of a challenge account.
type ChallengeStatus string

const (
	StatusActive         ChallengeStatus = "active"
	StatusPendingFailure ChallengeStatus = "pending_failure"
	StatusFailed         ChallengeStatus = "failed"
	StatusPassed         ChallengeStatus = "passed"
)

// IsTerminal reports whether the status permits no further transitions.
func (s ChallengeStatus) IsTerminal() bool {
	return s == StatusFailed || s == StatusPassed
}

// RulesConfig is the phase-scoped rule set attached to each challenge.
// All monetary values are in account currency (USD).
type RulesConfig struct {
	ProfitTarget          float64
	MaxDrawdown           float64
	DailyLossLimitPercent float64 // e.g. 0.05 = 5% of start-of-day balance
	MaxPositionPercent    float64 // single position cap as fraction of equity
	MaxCategoryExposure   float64 // notional cap per market category
	MaxOpenPositions      int
	MinMarketLiquidity    float64
	MaxInactiveDays       int
	ConsistencyMaxShare   float64 // max share of total profit one day may contribute
}

// Validate checks that every required rule field is present and sane.
// Rules are validated at load time, never accessed as an untyped map.
func (r RulesConfig) Validate() error {
	switch {
	case r.ProfitTarget <= 0:
		return fieldErr("profit_target must be positive")
	case r.MaxDrawdown <= 0:
		return fieldErr("max_drawdown must be positive")
	case r.DailyLossLimitPercent <= 0 || r.DailyLossLimitPercent >= 1:
		return fieldErr("daily_loss_limit_percent must be in (0,1)")
	case r.MaxPositionPercent <= 0 || r.MaxPositionPercent > 1:
		return fieldErr("max_position_percent must be in (0,1]")
	case r.MaxOpenPositions <= 0:
		return fieldErr("max_open_positions must be positive")
	}
	return nil
}

func fieldErr(msg string) error {
	return &RulesError{Msg: msg}
}

// RulesError reports an invalid rules configuration.
type RulesError struct{ Msg string }

func (e *RulesError) Error() string { return "rules: " + e.Msg }

// Challenge is a funded-trading evaluation account.
type Challenge struct {
	ID               string
	UserID           string
	Phase            ChallengePhase
	Status           ChallengeStatus
	StartingBalance  float64
	CurrentBalance   float64 // cash only, never embeds unrealized PnL
	StartOfDayBal    float64
	HighWaterMark    float64
	EndsAt           *time.Time
	PendingFailureAt *time.Time
	LastDailyResetAt *time.Time
	Rules            RulesConfig
	Platform         string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// DrawdownReference returns the balance the max-drawdown rule measures from.
// Before funding the drawdown trails the high-water mark; once funded it is
// static from the starting balance.
func (c Challenge) DrawdownReference() float64 {
	if c.Phase == PhaseFunded {
		return c.StartingBalance
	}
	if c.HighWaterMark > c.StartingBalance {
		return c.HighWaterMark
	}
	return c.StartingBalance
}

// EvalResult is the outcome of a single evaluation pass.
type EvalResult struct {
	ChallengeID string
	Status      ChallengeStatus
	Equity      float64
	Reason      string
	EvaluatedAt time.Time
}

// TradeCheck is the outcome of a pre-trade risk validation.
type TradeCheck struct {
	Allowed bool
	Reason  string
}

// ActivitySummary is the operational per-challenge summary.
type ActivitySummary struct {
	ChallengeID       string
	ActiveTradingDays int
	InactivityDays    int
	Consistent        bool
	LargestDayShare   float64  // share of total profit from the best day
	WinRate           *float64 // percent of closed trades profitable, nil with none closed
}
