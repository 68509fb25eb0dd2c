package compiler

import (
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/roach88/satisfy/internal/clock"
	"github.com/roach88/satisfy/internal/engine"
	"github.com/roach88/satisfy/internal/ir"
)

// Validation error codes (E200-E299)
const (
	ErrRuleIDEmpty          = "E201" // rule id is required
	ErrRuleNoConditions     = "E202" // at least one condition required
	ErrConditionTypeEmpty   = "E203" // condition type is required
	ErrUnknownConditionType = "E204" // no handler registered for type
	ErrInvalidConditionVal  = "E205" // handler rejected the condition value
	ErrDuplicateRuleID      = "E206" // two rules normalize to the same id
)

// ValidationError represents a schema validation error.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Line    int    `json:"line,omitempty"`
}

// Error implements the error interface.
func (e ValidationError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("[%s] line %d: %s: %s", e.Code, e.Line, e.Field, e.Message)
	}
	return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
}

// Validate checks a rule against the condition types known to registry.
// Returns all errors found (does not fail-fast). A nil registry means the
// built-in types.
//
// Unknown types are reported here even though the engine, by default,
// accepts them as never-satisfied conditions.
func Validate(rule ir.Rule, registry *engine.ConditionRegistry) []ValidationError {
	if registry == nil {
		registry = engine.NewDefaultRegistry("")
	}

	var errs []ValidationError

	id := ir.NormalizeID(rule.ID)
	if strings.TrimSpace(id) == "" {
		errs = append(errs, ValidationError{
			Field:   "id",
			Message: "rule id is required and must be non-empty",
			Code:    ErrRuleIDEmpty,
		})
	}

	if len(rule.Conditions) == 0 {
		errs = append(errs, ValidationError{
			Field:   "conditions",
			Message: "at least one condition is required",
			Code:    ErrRuleNoConditions,
		})
	}

	for i, cond := range rule.Conditions {
		field := fmt.Sprintf("conditions[%d]", i)

		if cond.Type == "" {
			errs = append(errs, ValidationError{
				Field:   field + ".type",
				Message: "condition type is required",
				Code:    ErrConditionTypeEmpty,
			})
			continue
		}

		factory, ok := registry.Lookup(cond.Type)
		if !ok {
			errs = append(errs, ValidationError{
				Field:   field + ".type",
				Message: fmt.Sprintf("unknown condition type %q, must be one of %v", cond.Type, registry.Types()),
				Code:    ErrUnknownConditionType,
			})
			continue
		}

		if err := checkConditionValue(factory, id, i, cond); err != nil {
			errs = append(errs, ValidationError{
				Field:   field + ".value",
				Message: err.Error(),
				Code:    ErrInvalidConditionVal,
			})
		}
	}

	return errs
}

// ValidateSet validates each rule and checks that ids are unique after
// normalization.
func ValidateSet(rules []ir.Rule, registry *engine.ConditionRegistry) []ValidationError {
	var errs []ValidationError
	seen := make(map[string]int, len(rules))

	for i, rule := range rules {
		for _, e := range Validate(rule, registry) {
			e.Field = fmt.Sprintf("rule[%q].%s", rule.ID, e.Field)
			errs = append(errs, e)
		}

		id := ir.NormalizeID(rule.ID)
		if id == "" {
			continue
		}
		if first, dup := seen[id]; dup {
			errs = append(errs, ValidationError{
				Field:   fmt.Sprintf("rule[%q]", rule.ID),
				Message: fmt.Sprintf("duplicate rule id (first defined at index %d)", first),
				Code:    ErrDuplicateRuleID,
			})
			continue
		}
		seen[id] = i
	}

	return errs
}

// checkConditionValue runs the factory against an inert context and
// disposes the result without starting it.
func checkConditionValue(factory engine.ConditionFactory, ruleID string, index int, spec ir.ConditionSpec) error {
	cctx := engine.ConditionContext{
		RuleID:   ruleID,
		Index:    index,
		Facts:    engine.NoFacts,
		Clock:    clock.Real(),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
		Schedule: func(time.Duration, func()) clock.Timer { return noopTimer{} },
		Satisfy:  func() {},
	}

	cond, err := factory(spec, cctx)
	if err != nil {
		return err
	}
	cond.Dispose()
	return nil
}

type noopTimer struct{}

func (noopTimer) Stop() bool { return false }
