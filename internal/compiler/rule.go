package compiler

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/roach88/satisfy/internal/ir"
)

// CompileRule parses a CUE value into a Rule.
// Uses CUE SDK's Go API directly (not CLI subprocess).
//
// The CUE value should be the rule struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`rule: "survey": { conditions: [{type: "delay", value: 1000}] }`)
//	rule, err := CompileRule(v.LookupPath(cue.MakePath(cue.Str("rule"), cue.Str("survey"))))
//
// The rule id is the struct's label unless an explicit id field is given.
func CompileRule(v cue.Value) (*ir.Rule, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	rule := &ir.Rule{}

	labels := v.Path().Selectors()
	if len(labels) > 0 {
		rule.ID = selectorName(labels[len(labels)-1])
	}

	idVal := v.LookupPath(cue.ParsePath("id"))
	if idVal.Exists() {
		id, err := idVal.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		rule.ID = id
	}
	if rule.ID == "" {
		return nil, &CompileError{
			Field:   "id",
			Message: "rule id is required",
			Pos:     v.Pos(),
		}
	}

	condsVal := v.LookupPath(cue.ParsePath("conditions"))
	if !condsVal.Exists() {
		return nil, &CompileError{
			Field:   "conditions",
			Message: "conditions are required",
			Pos:     v.Pos(),
		}
	}

	iter, err := condsVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}
	for i := 0; iter.Next(); i++ {
		cond, err := compileCondition(iter.Value(), i)
		if err != nil {
			return nil, err
		}
		rule.Conditions = append(rule.Conditions, cond)
	}
	if len(rule.Conditions) == 0 {
		return nil, &CompileError{
			Field:   "conditions",
			Message: "at least one condition is required",
			Pos:     condsVal.Pos(),
		}
	}

	payloadVal := v.LookupPath(cue.ParsePath("payload"))
	if payloadVal.Exists() {
		pv, err := toValue(payloadVal, "payload")
		if err != nil {
			return nil, err
		}
		obj, ok := pv.(ir.Object)
		if !ok {
			return nil, &CompileError{
				Field:   "payload",
				Message: "payload must be a struct",
				Pos:     payloadVal.Pos(),
			}
		}
		rule.Payload = obj
	}

	return rule, nil
}

func compileCondition(v cue.Value, index int) (ir.ConditionSpec, error) {
	field := fmt.Sprintf("conditions[%d]", index)

	typeVal := v.LookupPath(cue.ParsePath("type"))
	if !typeVal.Exists() {
		return ir.ConditionSpec{}, &CompileError{
			Field:   field + ".type",
			Message: "condition type is required",
			Pos:     v.Pos(),
		}
	}
	condType, err := typeVal.String()
	if err != nil {
		return ir.ConditionSpec{}, formatCUEError(err)
	}

	spec := ir.ConditionSpec{Type: condType, Value: ir.Null{}}

	valueVal := v.LookupPath(cue.ParsePath("value"))
	if valueVal.Exists() {
		spec.Value, err = toValue(valueVal, field+".value")
		if err != nil {
			return ir.ConditionSpec{}, err
		}
	}

	return spec, nil
}

// toValue converts a concrete CUE value to an ir.Value.
// Floats are forbidden: thresholds and timestamps are integral milliseconds.
func toValue(v cue.Value, field string) (ir.Value, error) {
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return nil, formatCUEError(err)
	}

	switch v.Kind() {
	case cue.NullKind:
		return ir.Null{}, nil

	case cue.BoolKind:
		b, err := v.Bool()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.Bool(b), nil

	case cue.IntKind:
		n, err := v.Int64()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.Int(n), nil

	case cue.StringKind:
		s, err := v.String()
		if err != nil {
			return nil, formatCUEError(err)
		}
		return ir.String(s), nil

	case cue.ListKind:
		iter, err := v.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		arr := ir.Array{}
		for i := 0; iter.Next(); i++ {
			elem, err := toValue(iter.Value(), fmt.Sprintf("%s[%d]", field, i))
			if err != nil {
				return nil, err
			}
			arr = append(arr, elem)
		}
		return arr, nil

	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		obj := ir.Object{}
		for iter.Next() {
			name := selectorName(iter.Selector())
			elem, err := toValue(iter.Value(), field+"."+name)
			if err != nil {
				return nil, err
			}
			obj[name] = elem
		}
		return obj, nil

	case cue.FloatKind, cue.NumberKind:
		return nil, &CompileError{
			Field:   field,
			Message: "floats are forbidden, use integer milliseconds",
			Pos:     v.Pos(),
		}

	default:
		return nil, &CompileError{
			Field:   field,
			Message: fmt.Sprintf("unsupported value kind: %v", v.Kind()),
			Pos:     v.Pos(),
		}
	}
}

// selectorName returns a label without CUE quoting, so "survey-after-keyin"
// and survey are both plain ids.
func selectorName(sel cue.Selector) string {
	if sel.LabelType() == cue.StringLabel {
		return sel.Unquoted()
	}
	return sel.String()
}

// CompileRules compiles every rule under the top-level `rule` struct of v,
// in declaration order. All errors are collected; rules that compile are
// returned alongside them.
func CompileRules(v cue.Value) ([]ir.Rule, []error) {
	if err := v.Err(); err != nil {
		return nil, []error{formatCUEError(err)}
	}

	rulesVal := v.LookupPath(cue.ParsePath("rule"))
	if !rulesVal.Exists() {
		return nil, nil
	}

	iter, err := rulesVal.Fields()
	if err != nil {
		return nil, []error{formatCUEError(err)}
	}

	var rules []ir.Rule
	var errs []error
	for iter.Next() {
		rule, err := CompileRule(iter.Value())
		if err != nil {
			errs = append(errs, err)
			continue
		}
		rules = append(rules, *rule)
	}
	return rules, errs
}

// CompileFiles compiles the rules in a set of standalone CUE files. The files
// are unified, so they may not define the same rule twice with conflicting
// content.
func CompileFiles(paths ...string) ([]ir.Rule, error) {
	ctx := cuecontext.New()
	unified := ctx.CompileString("{}")

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		v := ctx.CompileBytes(data, cue.Filename(path))
		if err := v.Err(); err != nil {
			return nil, formatCUEError(err)
		}
		unified = unified.Unify(v)
	}

	rules, errs := CompileRules(unified)
	if len(errs) > 0 {
		return nil, errs[0]
	}
	return rules, nil
}

// CompileError represents a compilation error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	// Return first error with position info
	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
