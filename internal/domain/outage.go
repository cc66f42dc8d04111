package domain

import "time"

// OutageState is the derived market-data health state.
type OutageState string

const (
	OutageStateHealthy OutageState = "healthy"
	OutageStateOutage  OutageState = "outage"
	OutageStateGrace   OutageState = "grace_window"
)

// OutageEvent records a market-data outage window. EndedAt nil means the
// outage is still in progress.
type OutageEvent struct {
	ID                 string
	StartedAt          time.Time
	EndedAt            *time.Time
	GraceWindowEndsAt  *time.Time
	ChallengesExtended int
	Reason             string
}

// State derives the outage state at the given instant.
func (e OutageEvent) State(now time.Time) OutageState {
	if e.EndedAt == nil {
		return OutageStateOutage
	}
	if e.GraceWindowEndsAt != nil && now.Before(*e.GraceWindowEndsAt) {
		return OutageStateGrace
	}
	return OutageStateHealthy
}
