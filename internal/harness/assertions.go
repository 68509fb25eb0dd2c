package harness

import (
	"fmt"
	"slices"
	"strings"

	"github.com/roach88/satisfy/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		buf.WriteString("  Trace:\n")
		for _, ev := range e.Trace {
			buf.WriteString("    " + formatTraceEvent(ev) + "\n")
		}
	}

	return buf.String()
}

func formatTraceEvent(ev TraceEvent) string {
	s := fmt.Sprintf("[%d] t=%dms %s %s", ev.Seq, ev.At, ev.Kind, ev.Rule)
	if ev.Generation != 0 {
		s += fmt.Sprintf(" gen=%d", ev.Generation)
	}
	if ev.Reason != "" {
		s += " reason=" + ev.Reason
	}
	if ev.Code != "" {
		s += " code=" + ev.Code
	}
	return s
}

// EvaluateAssertions runs every assertion and returns one message per
// failure.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluateAssertion(result.Trace, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertion %d: %v", i, err))
		}
	}
	return errs
}

func evaluateAssertion(trace []TraceEvent, a Assertion) error {
	switch a.Type {
	case AssertSatisfied:
		return assertSatisfied(trace, a)
	case AssertNotSatisfied:
		return assertNotSatisfied(trace, a)
	case AssertSatisfiedCount:
		return assertSatisfiedCount(trace, a)
	case AssertSatisfiedOrder:
		return assertSatisfiedOrder(trace, a)
	default:
		return fmt.Errorf("unknown assertion type %q", a.Type)
	}
}

func satisfactionsOf(trace []TraceEvent, rule string) []TraceEvent {
	id := ir.NormalizeID(rule)
	var out []TraceEvent
	for _, ev := range trace {
		if ev.Kind == KindSatisfied && (rule == "" || ev.Rule == id) {
			out = append(out, ev)
		}
	}
	return out
}

// assertSatisfied checks the rule was satisfied, at the given virtual time
// if one is set.
func assertSatisfied(trace []TraceEvent, a Assertion) error {
	sats := satisfactionsOf(trace, a.Rule)
	if len(sats) == 0 {
		return &AssertionError{
			Type:     AssertSatisfied,
			Expected: fmt.Sprintf("rule %q satisfied", a.Rule),
			Actual:   "never satisfied",
			Trace:    trace,
		}
	}

	if a.At != nil {
		for _, s := range sats {
			if s.At == *a.At {
				return nil
			}
		}
		times := make([]string, len(sats))
		for i, s := range sats {
			times[i] = fmt.Sprintf("%dms", s.At)
		}
		return &AssertionError{
			Type:     AssertSatisfied,
			Expected: fmt.Sprintf("rule %q satisfied at %dms", a.Rule, *a.At),
			Actual:   "satisfied at " + strings.Join(times, ", "),
			Trace:    trace,
		}
	}

	return nil
}

func assertNotSatisfied(trace []TraceEvent, a Assertion) error {
	sats := satisfactionsOf(trace, a.Rule)
	if len(sats) > 0 {
		return &AssertionError{
			Type:     AssertNotSatisfied,
			Expected: fmt.Sprintf("rule %q never satisfied", a.Rule),
			Actual:   fmt.Sprintf("satisfied at %dms", sats[0].At),
			Trace:    trace,
		}
	}
	return nil
}

// assertSatisfiedCount counts satisfactions of one rule, or of every rule
// when no rule is named.
func assertSatisfiedCount(trace []TraceEvent, a Assertion) error {
	got := len(satisfactionsOf(trace, a.Rule))
	if got != a.Count {
		subject := "all rules"
		if a.Rule != "" {
			subject = fmt.Sprintf("rule %q", a.Rule)
		}
		return &AssertionError{
			Type:     AssertSatisfiedCount,
			Expected: fmt.Sprintf("%d satisfaction(s) for %s", a.Count, subject),
			Actual:   fmt.Sprintf("%d satisfaction(s)", got),
			Trace:    trace,
		}
	}
	return nil
}

// assertSatisfiedOrder checks the listed rules were first satisfied in the
// given order. Other rules may be interleaved.
func assertSatisfiedOrder(trace []TraceEvent, a Assertion) error {
	var firsts []string
	for _, ev := range satisfactionsOf(trace, "") {
		if !slices.Contains(firsts, ev.Rule) {
			firsts = append(firsts, ev.Rule)
		}
	}

	want := make([]string, len(a.Rules))
	for i, r := range a.Rules {
		want[i] = ir.NormalizeID(r)
	}

	var got []string
	for _, id := range firsts {
		if slices.Contains(want, id) {
			got = append(got, id)
		}
	}

	if !slices.Equal(got, want) {
		return &AssertionError{
			Type:     AssertSatisfiedOrder,
			Expected: strings.Join(want, " → "),
			Actual:   strings.Join(got, " → "),
			Trace:    trace,
		}
	}
	return nil
}
