package engine

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/satisfy/internal/ir"
)

// ruleHandler owns one registration of a rule: its conditions and the
// aggregation of their satisfactions into a single rule-satisfied signal.
//
// All fields are guarded by Engine.mu. Every method is called from inside an
// engine turn.
type ruleHandler struct {
	rule           ir.Rule
	hash           string
	registrationID string
	generation     int64
	registeredAt   time.Time
	logger         *slog.Logger

	conditions []Condition
	satisfied  []bool
	count      int

	fired    bool
	disposed bool
}

// RuleStatus is a point-in-time view of a registered rule.
type RuleStatus struct {
	Registered     bool      `json:"registered"`
	Satisfied      bool      `json:"satisfied"`
	Total          int       `json:"total"`
	SatisfiedCount int       `json:"satisfied_count"`
	RegistrationID string    `json:"registration_id,omitempty"`
	Generation     int64     `json:"generation,omitempty"`
	RegisteredAt   time.Time `json:"registered_at,omitzero"`
}

func (rh *ruleHandler) start() {
	for _, c := range rh.conditions {
		c.Start()
	}
}

// markSatisfied records that condition i holds. It returns true exactly once
// per registration: at the transition where every condition holds.
//
// A condition that signals twice, or after disposal, is refused with an
// INVARIANT_VIOLATION error and leaves the count untouched.
func (rh *ruleHandler) markSatisfied(i int) (bool, error) {
	switch {
	case rh.disposed:
		return false, rh.violation(i, "condition signalled after disposal")
	case i < 0 || i >= len(rh.satisfied):
		return false, rh.violation(i, fmt.Sprintf("condition index %d out of range", i))
	case rh.satisfied[i]:
		return false, rh.violation(i, "condition signalled twice")
	}

	rh.satisfied[i] = true
	rh.count++

	if rh.count < len(rh.conditions) {
		return false, nil
	}
	if rh.fired {
		return false, rh.violation(i, "rule already fired")
	}
	rh.fired = true
	return true, nil
}

func (rh *ruleHandler) violation(i int, msg string) *RuleError {
	condType := ""
	if i >= 0 && i < len(rh.rule.Conditions) {
		condType = rh.rule.Conditions[i].Type
	}
	return &RuleError{
		Code:           ErrCodeInvariantViolation,
		Message:        msg,
		RuleID:         rh.rule.ID,
		ConditionIndex: i,
		ConditionType:  condType,
	}
}

// dispose tears down every condition. Returns false if already disposed.
func (rh *ruleHandler) dispose() bool {
	if rh.disposed {
		return false
	}
	rh.disposed = true
	for _, c := range rh.conditions {
		if c != nil {
			c.Dispose()
		}
	}
	return true
}

// unsatisfiedWatchers returns the conditions that want FactsChanged.
func (rh *ruleHandler) unsatisfiedWatchers() []FactWatcher {
	if rh.disposed || rh.fired {
		return nil
	}
	var out []FactWatcher
	for i, c := range rh.conditions {
		if rh.satisfied[i] {
			continue
		}
		if w, ok := c.(FactWatcher); ok {
			out = append(out, w)
		}
	}
	return out
}

func (rh *ruleHandler) status() RuleStatus {
	return RuleStatus{
		Registered:     true,
		Satisfied:      rh.fired,
		Total:          len(rh.conditions),
		SatisfiedCount: rh.count,
		RegistrationID: rh.registrationID,
		Generation:     rh.generation,
		RegisteredAt:   rh.registeredAt,
	}
}

func (rh *ruleHandler) registration() ir.Registration {
	return ir.Registration{
		ID:         rh.registrationID,
		Rule:       rh.rule.Clone(),
		RuleHash:   rh.hash,
		Generation: rh.generation,
		At:         rh.registeredAt,
	}
}
