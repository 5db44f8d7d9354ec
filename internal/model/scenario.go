package model

import "time"

// ScenarioStatus is the lifecycle state of a scenario.
type ScenarioStatus string

const (
	StatusActive    ScenarioStatus = "ACTIVE"
	StatusClosed    ScenarioStatus = "CLOSED"
	StatusReviewing ScenarioStatus = "REVIEWING"
	StatusResolved  ScenarioStatus = "RESOLVED"
	StatusCancelled ScenarioStatus = "CANCELLED"
)

// Terminal reports whether no further transition is allowed.
func (s ScenarioStatus) Terminal() bool {
	return s == StatusResolved || s == StatusCancelled
}

// Valid reports whether s is a known status.
func (s ScenarioStatus) Valid() bool {
	switch s {
	case StatusActive, StatusClosed, StatusReviewing, StatusResolved, StatusCancelled:
		return true
	}
	return false
}

// Outcome is the authoritative real-world result a moderator records.
type Outcome string

const (
	OutcomeFulfilled    Outcome = "FULFILLED"
	OutcomeNotFulfilled Outcome = "NOT_FULFILLED"
)

// Valid reports whether o is one of the known outcomes.
func (o Outcome) Valid() bool {
	return o == OutcomeFulfilled || o == OutcomeNotFulfilled
}

// Scenario is the single contended row of the ownership auction.  It is
// held by exactly one user at a time and accumulates every price paid
// for it in Pool until resolution or cancellation.
//
// Fields:
//
//	ID              – scenarios.id (snowflake).
//	Title           – display title of the prediction.
//	Status          – lifecycle state (ACTIVE, CLOSED, REVIEWING, RESOLVED, CANCELLED).
//	CreatorID       – user who originated the scenario; immutable.
//	CurrentHolderID – user who currently owns the scenario.
//	CreationPrice   – price the creator paid into escrow.
//	CurrentPrice    – price the next successful steal must pay.
//	StealCount      – successful steals since creation.
//	Pool            – escrowed currency.
//	ProtectedUntil  – shield expiry, nil when never shielded.
//	Deadline        – when the scenario stops accepting steals, nil for open ended.
//	Outcome         – recorded at resolution.
//	ResolvedBy      – moderator who resolved it.
//	ResolvedAt      – resolution or cancellation time.
//	PayoutAmount    – amount credited at resolution (0 when forfeited).
//	Version         – bumped by every mutation; guards optimistic updates.
type Scenario struct {
	ID              int64
	Title           string
	Status          ScenarioStatus
	CreatorID       int64
	CurrentHolderID int64
	CreationPrice   int64
	CurrentPrice    int64
	StealCount      int
	Pool            int64
	ProtectedUntil  *time.Time
	Deadline        *time.Time
	Outcome         *Outcome
	ResolvedBy      *int64
	ResolvedAt      *time.Time
	PayoutAmount    int64
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Protected reports whether an active shield blocks steals at now.
func (s *Scenario) Protected(now time.Time) bool {
	return s.ProtectedUntil != nil && now.Before(*s.ProtectedUntil)
}

// PastDeadline reports whether the deadline has been reached at now.
func (s *Scenario) PastDeadline(now time.Time) bool {
	return s.Deadline != nil && !now.Before(*s.Deadline)
}

// Open reports whether the scenario still accepts economic actions:
// ACTIVE and not past its deadline.
func (s *Scenario) Open(now time.Time) bool {
	return s.Status == StatusActive && !s.PastDeadline(now)
}

// Stealable is Open and not shielded.
func (s *Scenario) Stealable(now time.Time) bool {
	return s.Open(now) && !s.Protected(now)
}
