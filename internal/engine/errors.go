package engine

import (
	"errors"
	"fmt"
)

// ErrEngineClosed is returned by operations attempted after Close.
var ErrEngineClosed = errors.New("engine closed")

// RuleError is a structured error about a rule or one of its conditions.
//
// Rule errors include:
//   - Configuration: missing id, no conditions, malformed condition value
//   - Unknown condition type: returned only in strict mode; otherwise the
//     condition is installed as never-satisfied and the error is only logged
//   - Invariant violation: a condition handler signalled twice or after
//     disposal; logged, never returned to a caller
type RuleError struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// RuleID identifies the affected rule, if known.
	RuleID string

	// ConditionIndex is the position of the offending condition, or -1 when
	// the error concerns the rule as a whole.
	ConditionIndex int

	// ConditionType is the offending condition's type, if any.
	ConditionType string

	// Err is the underlying cause, if any.
	Err error
}

// ErrorCode categorizes rule errors.
type ErrorCode string

const (
	// ErrCodeConfiguration indicates a malformed rule rejected at registration.
	ErrCodeConfiguration ErrorCode = "CONFIGURATION"

	// ErrCodeUnknownConditionType indicates no handler is registered for a type.
	ErrCodeUnknownConditionType ErrorCode = "UNKNOWN_CONDITION_TYPE"

	// ErrCodeInvariantViolation indicates a handler broke the fire-at-most-once contract.
	ErrCodeInvariantViolation ErrorCode = "INVARIANT_VIOLATION"
)

// Error implements the error interface.
func (e *RuleError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	switch {
	case e.RuleID != "" && e.ConditionIndex >= 0:
		msg = fmt.Sprintf("%s (rule=%s, condition[%d] type=%s)", msg, e.RuleID, e.ConditionIndex, e.ConditionType)
	case e.RuleID != "":
		msg = fmt.Sprintf("%s (rule=%s)", msg, e.RuleID)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *RuleError) Unwrap() error {
	return e.Err
}

// IsConfigurationError reports whether err rejected a rule at registration.
// This includes unknown condition types when the engine runs in strict mode.
// Uses errors.As to handle wrapped errors.
func IsConfigurationError(err error) bool {
	var re *RuleError
	if errors.As(err, &re) {
		return re.Code == ErrCodeConfiguration || re.Code == ErrCodeUnknownConditionType
	}
	return false
}

// IsUnknownConditionType reports whether err is an unknown condition type error.
func IsUnknownConditionType(err error) bool {
	var re *RuleError
	if errors.As(err, &re) {
		return re.Code == ErrCodeUnknownConditionType
	}
	return false
}

// newConfigError creates a rule-level configuration error.
func newConfigError(ruleID, message string) *RuleError {
	return &RuleError{
		Code:           ErrCodeConfiguration,
		Message:        message,
		RuleID:         ruleID,
		ConditionIndex: -1,
	}
}

// newConditionError creates a configuration error for a single condition.
func newConditionError(ruleID string, index int, condType string, err error) *RuleError {
	return &RuleError{
		Code:           ErrCodeConfiguration,
		Message:        "invalid condition",
		RuleID:         ruleID,
		ConditionIndex: index,
		ConditionType:  condType,
		Err:            err,
	}
}

// newUnknownTypeError creates an unknown condition type error.
func newUnknownTypeError(ruleID string, index int, condType string) *RuleError {
	return &RuleError{
		Code:           ErrCodeUnknownConditionType,
		Message:        fmt.Sprintf("no handler registered for condition type %q", condType),
		RuleID:         ruleID,
		ConditionIndex: index,
		ConditionType:  condType,
	}
}
