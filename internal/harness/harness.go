package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/satisfy/internal/compiler"
	"github.com/roach88/satisfy/internal/engine"
	"github.com/roach88/satisfy/internal/ir"
	"github.com/roach88/satisfy/internal/testutil"
)

// Harness drives one scenario against a real engine.
// Time is virtual: a FakeClock starting at the Unix epoch, advanced only by
// advance steps. Events are delivered with Flush after every step, so the
// trace is identical on every run.
type Harness struct {
	engine *engine.Engine
	clock  *testutil.FakeClock
	facts  *engine.Facts
	rules  map[string]ir.Rule
	order  []ir.Rule
	trace  *traceJournal
	logger *slog.Logger
}

// Run executes a test scenario and returns the result.
//
// Execution flow:
//  1. Compile rule files and inline rules
//  2. Build an engine on a fake clock with the scenario's facts
//  3. Execute steps, delivering queued events after each
//  4. Close the engine so teardown disposals appear in the trace
//  5. Evaluate assertions against the trace
//
// An error is returned only when the scenario cannot be set up; failed
// steps and assertions are reported in the Result.
func Run(scenario *Scenario) (*Result, error) {
	return RunWithLogger(scenario, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// RunWithLogger is Run with engine logs sent to logger.
func RunWithLogger(scenario *Scenario, logger *slog.Logger) (*Result, error) {
	rules, err := loadRules(scenario)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	initial := ir.Object{}
	if scenario.Facts != nil {
		v, err := ir.FromAny(scenario.Facts)
		if err != nil {
			return nil, fmt.Errorf("facts: %w", err)
		}
		initial = v.(ir.Object)
	}

	result := NewResult()
	h := &Harness{
		clock:  testutil.NewFakeClock(time.UnixMilli(0).UTC()),
		facts:  engine.NewFacts(initial),
		rules:  make(map[string]ir.Rule, len(rules)),
		order:  rules,
		trace:  &traceJournal{result: result},
		logger: logger,
	}
	for _, r := range rules {
		h.rules[ir.NormalizeID(r.ID)] = r
	}

	opts := []engine.EngineOption{
		engine.WithClock(h.clock),
		engine.WithIDGenerator(testutil.NewSequentialIDGenerator("reg")),
		engine.WithJournal(h.trace),
		engine.WithLogger(logger),
	}
	if scenario.Options.ReferenceFact != "" {
		opts = append(opts, engine.WithDelayReferenceFact(scenario.Options.ReferenceFact))
	}
	if scenario.Options.Strict {
		opts = append(opts, engine.WithStrictConditionTypes())
	}
	h.engine = engine.New(h.facts, opts...)

	ctx := context.Background()
	for i, step := range scenario.Steps {
		if err := h.executeStep(step); err != nil {
			result.AddError(fmt.Sprintf("step %d: %v", i, err))
		}
		h.engine.Flush(ctx)
	}

	h.engine.Close()
	h.engine.Flush(ctx)

	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}

	return result, nil
}

// loadRules compiles the scenario's rule files and inline rules, files
// first, each in declaration order.
func loadRules(s *Scenario) ([]ir.Rule, error) {
	var rules []ir.Rule
	if len(s.Rules) > 0 {
		compiled, err := compiler.CompileFiles(s.Rules...)
		if err != nil {
			return nil, err
		}
		rules = append(rules, compiled...)
	}

	for i, raw := range s.InlineRules {
		v, err := ir.FromAny(raw)
		if err != nil {
			return nil, fmt.Errorf("inline_rules[%d]: %w", i, err)
		}
		rule, err := ir.RuleFromObject(v.(ir.Object))
		if err != nil {
			return nil, fmt.Errorf("inline_rules[%d]: %w", i, err)
		}
		rules = append(rules, rule)
	}

	return rules, nil
}

// executeStep runs one step. The returned error describes an unexpected
// outcome; an expected registration error is recorded in the trace instead.
func (h *Harness) executeStep(step Step) error {
	switch {
	case step.Register != "":
		rule, ok := h.rules[ir.NormalizeID(step.Register)]
		if !ok {
			return fmt.Errorf("register: no loaded rule %q", step.Register)
		}
		return h.expect(step, rule.ID, h.engine.RegisterRule(rule))

	case step.RegisterAll:
		return h.expect(step, "", h.engine.SetRules(h.order))

	case step.Deregister != "":
		if !h.engine.DeregisterRule(step.Deregister) {
			h.logger.Debug("deregister: rule not registered", "rule", step.Deregister)
		}
		return nil

	case step.Advance != nil:
		h.clock.Advance(time.Duration(*step.Advance) * time.Millisecond)
		return nil

	case step.SetFacts != nil:
		v, err := ir.FromAny(step.SetFacts)
		if err != nil {
			return fmt.Errorf("set_facts: %w", err)
		}
		h.facts.Merge(v.(ir.Object))
		h.engine.RefreshFacts()
		return nil

	case step.Reset:
		h.engine.Reset()
		return nil

	default:
		return fmt.Errorf("empty step")
	}
}

// expect compares a registration error against the step's expect_error.
func (h *Harness) expect(step Step, ruleID string, err error) error {
	var code string
	if err != nil {
		var re *engine.RuleError
		if errors.As(err, &re) {
			code = string(re.Code)
			if ruleID == "" {
				ruleID = re.RuleID
			}
		} else {
			code = err.Error()
		}
		h.trace.recordError(ruleID, code, h.clock.Now())
	}

	switch {
	case step.ExpectError == "" && err != nil:
		return fmt.Errorf("unexpected error: %w", err)
	case step.ExpectError != "" && err == nil:
		return fmt.Errorf("expected error %s, got none", step.ExpectError)
	case step.ExpectError != "" && code != step.ExpectError:
		return fmt.Errorf("expected error %s, got %s", step.ExpectError, code)
	}
	return nil
}

// traceJournal is the engine journal for a scenario: it appends every
// delivered event to the result trace.
type traceJournal struct {
	mu     sync.Mutex
	result *Result
}

func (j *traceJournal) append(e TraceEvent) {
	j.mu.Lock()
	defer j.mu.Unlock()
	e.Seq = int64(len(j.result.Trace) + 1)
	j.result.Trace = append(j.result.Trace, e)
}

func (j *traceJournal) RecordRegistration(_ context.Context, reg ir.Registration) error {
	j.append(TraceEvent{
		Kind:           KindRegistered,
		Rule:           reg.Rule.ID,
		RegistrationID: reg.ID,
		Generation:     reg.Generation,
		At:             reg.At.UnixMilli(),
	})
	return nil
}

func (j *traceJournal) RecordDisposal(_ context.Context, d ir.Disposal) error {
	j.append(TraceEvent{
		Kind:           KindDisposed,
		Rule:           d.RuleID,
		RegistrationID: d.RegistrationID,
		Generation:     d.Generation,
		At:             d.At.UnixMilli(),
		Reason:         string(d.Reason),
	})
	return nil
}

func (j *traceJournal) RecordSatisfaction(_ context.Context, s ir.Satisfaction) error {
	j.append(TraceEvent{
		Kind:           KindSatisfied,
		Rule:           s.Rule.ID,
		RegistrationID: s.RegistrationID,
		Generation:     s.Generation,
		At:             s.SatisfiedAt.UnixMilli(),
		Payload:        s.Rule.Payload,
	})
	return nil
}

func (j *traceJournal) recordError(ruleID, code string, at time.Time) {
	j.append(TraceEvent{
		Kind: KindError,
		Rule: ruleID,
		At:   at.UnixMilli(),
		Code: code,
	})
}
