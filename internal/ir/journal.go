package ir

import "time"

// DisposalReason says why a rule's handler tree was torn down.
type DisposalReason string

const (
	// DisposalReplaced: the id was re-registered with a different rule.
	DisposalReplaced DisposalReason = "replaced"
	// DisposalDeregistered: the host deregistered the id.
	DisposalDeregistered DisposalReason = "deregistered"
	// DisposalReset: every rule was dropped by Reset.
	DisposalReset DisposalReason = "reset"
	// DisposalTeardown: the engine was closed.
	DisposalTeardown DisposalReason = "teardown"
)

// Registration records one installation of a rule. A rule id accumulates a
// new Registration each time it is (re-)registered.
type Registration struct {
	ID         string    `json:"id"`
	Rule       Rule      `json:"rule"`
	RuleHash   string    `json:"rule_hash"`
	Generation int64     `json:"generation"`
	At         time.Time `json:"at"`
}

// Disposal records the end of a Registration.
type Disposal struct {
	RegistrationID string         `json:"registration_id"`
	RuleID         string         `json:"rule_id"`
	Reason         DisposalReason `json:"reason"`
	Generation     int64          `json:"generation"`
	At             time.Time      `json:"at"`
}

// Satisfaction is the notification delivered to the host when every
// condition of a registered rule has been satisfied. It carries the full
// rule (id, conditions and payload) so the host can decide what to do next.
type Satisfaction struct {
	Rule           Rule      `json:"rule"`
	RegistrationID string    `json:"registration_id"`
	Generation     int64     `json:"generation"`
	SatisfiedAt    time.Time `json:"satisfied_at"`
}
