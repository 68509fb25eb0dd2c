package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/satisfy/internal/clock"
	"github.com/roach88/satisfy/internal/ir"
)

// Fact comparison operators.
const (
	OpEqual                = "equal"
	OpNotEqual             = "notEqual"
	OpLessThan             = "lessThan"
	OpLessThanInclusive    = "lessThanInclusive"
	OpGreaterThan          = "greaterThan"
	OpGreaterThanInclusive = "greaterThanInclusive"
	OpIn                   = "in"
	OpNotIn                = "notIn"
	OpContains             = "contains"
	OpDoesNotContain       = "doesNotContain"
)

// OperatorFunc compares a fact (left) against the condition's value (right).
type OperatorFunc func(fact, want ir.Value) bool

var operators = map[string]OperatorFunc{
	OpEqual:    ir.Equal,
	OpNotEqual: func(a, b ir.Value) bool { return !ir.Equal(a, b) },
	OpLessThan: func(a, b ir.Value) bool {
		c, ok := compareOrdered(a, b)
		return ok && c < 0
	},
	OpLessThanInclusive: func(a, b ir.Value) bool {
		c, ok := compareOrdered(a, b)
		return ok && c <= 0
	},
	OpGreaterThan: func(a, b ir.Value) bool {
		c, ok := compareOrdered(a, b)
		return ok && c > 0
	},
	OpGreaterThanInclusive: func(a, b ir.Value) bool {
		c, ok := compareOrdered(a, b)
		return ok && c >= 0
	},
	OpIn:             func(a, b ir.Value) bool { return memberOf(a, b) },
	OpNotIn:          func(a, b ir.Value) bool { return !memberOf(a, b) },
	OpContains:       contains,
	OpDoesNotContain: func(a, b ir.Value) bool { return !contains(a, b) },
}

// Operators returns the supported operator names in sorted order.
func Operators() []string {
	names := make([]string, 0, len(operators))
	for name := range operators {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// compareOrdered compares two integers or two strings.
// ok is false for any other pairing.
func compareOrdered(a, b ir.Value) (int, bool) {
	switch av := a.(type) {
	case ir.Int:
		bv, ok := b.(ir.Int)
		if !ok {
			return 0, false
		}
		switch {
		case av < bv:
			return -1, true
		case av > bv:
			return 1, true
		}
		return 0, true
	case ir.String:
		bv, ok := b.(ir.String)
		if !ok {
			return 0, false
		}
		return strings.Compare(string(av), string(bv)), true
	}
	return 0, false
}

// memberOf reports whether a is an element of the array b.
func memberOf(a, b ir.Value) bool {
	arr, ok := b.(ir.Array)
	if !ok {
		return false
	}
	for _, elem := range arr {
		if ir.Equal(a, elem) {
			return true
		}
	}
	return false
}

// contains reports whether the array a has element b, or the string a has
// substring b.
func contains(a, b ir.Value) bool {
	switch av := a.(type) {
	case ir.Array:
		return memberOf(b, av)
	case ir.String:
		bv, ok := b.(ir.String)
		return ok && strings.Contains(string(av), string(bv))
	}
	return false
}

// factCondition compares a fact against a value with an operator, e.g.
//
//	{fact: "menuInteraction", path: ".count", operator: "equal", value: 10}
//
// It is evaluated when started and again on every Engine.RefreshFacts until
// it first holds. A missing fact or path never holds. Satisfaction is always
// delivered on the turn after the evaluation that observed it.
type factCondition struct {
	cctx     ConditionContext
	fact     string
	path     string
	opName   string
	op       OperatorFunc
	want     ir.Value
	pending  clock.Timer
	fired    bool
	disposed bool
}

// NewFactCondition is the factory for the "fact" type.
func NewFactCondition(spec ir.ConditionSpec, cctx ConditionContext) (Condition, error) {
	obj, ok := spec.Value.(ir.Object)
	if !ok {
		return nil, fmt.Errorf("fact condition value must be an object {fact, operator, value, path?}, got %T", spec.Value)
	}

	fact, ok := obj["fact"].(ir.String)
	if !ok || fact == "" {
		return nil, fmt.Errorf("fact condition requires non-empty string field \"fact\"")
	}

	opName, ok := obj["operator"].(ir.String)
	if !ok {
		return nil, fmt.Errorf("fact condition requires string field \"operator\"")
	}
	op, ok := operators[string(opName)]
	if !ok {
		return nil, fmt.Errorf("unknown operator %q, must be one of %v", opName, Operators())
	}

	want, ok := obj["value"]
	if !ok {
		return nil, fmt.Errorf("fact condition requires field \"value\"")
	}
	if (opName == OpIn || opName == OpNotIn) && !isArray(want) {
		return nil, fmt.Errorf("operator %q requires an array value", opName)
	}

	var path string
	if p, present := obj["path"]; present {
		ps, ok := p.(ir.String)
		if !ok {
			return nil, fmt.Errorf("fact condition field \"path\" must be a string")
		}
		path = string(ps)
	}

	return &factCondition{
		cctx:   cctx,
		fact:   string(fact),
		path:   path,
		opName: string(opName),
		op:     op,
		want:   want,
	}, nil
}

func isArray(v ir.Value) bool {
	_, ok := v.(ir.Array)
	return ok
}

func (c *factCondition) Start() {
	c.evaluate()
}

func (c *factCondition) FactsChanged() {
	c.evaluate()
}

func (c *factCondition) evaluate() {
	if c.disposed || c.fired || c.pending != nil {
		return
	}

	got, ok := c.lookup()
	if !ok {
		c.cctx.Logger.Debug("fact unavailable", "fact", c.fact, "path", c.path)
		return
	}
	if !c.op(got, c.want) {
		return
	}

	c.cctx.Logger.Debug("fact condition holds", "fact", c.fact, "operator", c.opName)
	c.pending = c.cctx.Schedule(0, c.satisfy)
}

func (c *factCondition) lookup() (ir.Value, bool) {
	v, ok := c.cctx.Facts.Fact(c.fact)
	if !ok {
		return nil, false
	}
	if c.path == "" || c.path == "." {
		return v, true
	}
	obj, ok := v.(ir.Object)
	if !ok {
		return nil, false
	}
	return obj.Lookup(c.path)
}

func (c *factCondition) satisfy() {
	if c.disposed || c.fired {
		return
	}
	c.fired = true
	c.pending = nil
	c.cctx.Satisfy()
}

func (c *factCondition) Dispose() {
	if c.disposed {
		return
	}
	c.disposed = true
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
}
