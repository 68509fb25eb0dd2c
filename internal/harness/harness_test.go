package harness

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func ms(v int64) *int64 { return &v }

func delayRule(id string, delays ...int) map[string]any {
	conds := make([]any, len(delays))
	for i, d := range delays {
		conds[i] = map[string]any{"type": "delay", "value": d}
	}
	return map[string]any{"id": id, "conditions": conds}
}

func TestRun_MinimalScenario(t *testing.T) {
	scenario := &Scenario{
		Name:        "minimal",
		Description: "Minimal test scenario",
		InlineRules: []map[string]any{delayRule("r1", 100)},
		Steps: []Step{
			{Register: "r1"},
			{Advance: ms(100)},
		},
		Assertions: []Assertion{
			{Type: AssertSatisfied, Rule: "r1", At: ms(100)},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Errors)

	// registered, satisfied, teardown
	require.Len(t, result.Trace, 3)
	assert.Equal(t, KindRegistered, result.Trace[0].Kind)
	assert.Equal(t, KindSatisfied, result.Trace[1].Kind)
	assert.Equal(t, KindDisposed, result.Trace[2].Kind)
	assert.Equal(t, "teardown", result.Trace[2].Reason)
}

func TestRun_NotBeforeDeadline(t *testing.T) {
	scenario := &Scenario{
		Name:        "not_yet",
		Description: "Advancing short of the deadline satisfies nothing",
		InlineRules: []map[string]any{delayRule("r1", 1000)},
		Steps: []Step{
			{Register: "r1"},
			{Advance: ms(999)},
		},
		Assertions: []Assertion{
			{Type: AssertNotSatisfied, Rule: "r1"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Satisfactions())
}

func TestRun_ReferenceFactOption(t *testing.T) {
	scenario := &Scenario{
		Name:        "reference_fact",
		Description: "The configured reference fact anchors plain delays",
		InlineRules: []map[string]any{delayRule("r1", 1000)},
		Facts:       map[string]any{"keyedInAt": -700},
		Options:     Options{ReferenceFact: "keyedInAt"},
		Steps: []Step{
			{Register: "r1"},
			{Advance: ms(5000)},
		},
		Assertions: []Assertion{
			{Type: AssertSatisfied, Rule: "r1", At: ms(300)},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_ReplaceCancelsOldTimer(t *testing.T) {
	scenario := &Scenario{
		Name:        "replace",
		Description: "Only the replacement's timer may fire",
		InlineRules: []map[string]any{delayRule("r1", 5000)},
		Facts:       map[string]any{"start": 0},
		Steps: []Step{
			{Register: "r1"},
			{Register: "r1"},
			{Advance: ms(10000)},
		},
		Assertions: []Assertion{
			{Type: AssertSatisfiedCount, Rule: "r1", Count: 1},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	sats := result.Satisfactions()
	require.Len(t, sats, 1)
	assert.Equal(t, int64(2), sats[0].Generation)
	assert.Equal(t, "reg-2", sats[0].RegistrationID)
}

func TestRun_RegisterAllKeepsUnchangedProgress(t *testing.T) {
	scenario := &Scenario{
		Name:        "register_all_twice",
		Description: "Re-applying an unchanged rule set keeps pending delays",
		InlineRules: []map[string]any{delayRule("r1", 1000)},
		Steps: []Step{
			{RegisterAll: true},
			{Advance: ms(600)},
			{RegisterAll: true},
			{Advance: ms(400)},
		},
		Assertions: []Assertion{
			{Type: AssertSatisfied, Rule: "r1", At: ms(1000)},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	var registrations int
	for _, ev := range result.Trace {
		if ev.Kind == KindRegistered {
			registrations++
		}
	}
	assert.Equal(t, 1, registrations)
}

func TestRun_UnknownTypeNeverSatisfied(t *testing.T) {
	scenario := &Scenario{
		Name:        "unknown_lenient",
		Description: "Unknown condition types never hold outside strict mode",
		InlineRules: []map[string]any{{
			"id": "r1",
			"conditions": []any{
				map[string]any{"type": "geofence", "value": map[string]any{"radius": 50}},
				map[string]any{"type": "delay", "value": 0},
			},
		}},
		Steps: []Step{
			{Register: "r1"},
			{Advance: ms(60000)},
		},
		Assertions: []Assertion{
			{Type: AssertNotSatisfied, Rule: "r1"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Equal(t, KindRegistered, result.Trace[0].Kind)
}

func TestRun_WithExpectedError(t *testing.T) {
	scenario := &Scenario{
		Name:        "bad_delay",
		Description: "A negative delay is a configuration error",
		InlineRules: []map[string]any{delayRule("r1", -5)},
		Steps: []Step{
			{Register: "r1", ExpectError: "CONFIGURATION"},
		},
		Assertions: []Assertion{
			{Type: AssertNotSatisfied, Rule: "r1"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	require.Len(t, result.Trace, 1)
	assert.Equal(t, KindError, result.Trace[0].Kind)
	assert.Equal(t, "CONFIGURATION", result.Trace[0].Code)
	assert.Equal(t, "r1", result.Trace[0].Rule)
}

func TestRun_UnexpectedErrorFails(t *testing.T) {
	scenario := &Scenario{
		Name:        "unexpected",
		Description: "An error nobody expected fails the scenario",
		InlineRules: []map[string]any{delayRule("r1", -5)},
		Steps: []Step{
			{Register: "r1"},
		},
		Assertions: []Assertion{
			{Type: AssertNotSatisfied, Rule: "r1"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "step 0: unexpected error")
}

func TestRun_ExpectedErrorMissing(t *testing.T) {
	scenario := &Scenario{
		Name:        "missing_error",
		Description: "expect_error on a valid rule fails the step",
		InlineRules: []map[string]any{delayRule("r1", 5)},
		Steps: []Step{
			{Register: "r1", ExpectError: "CONFIGURATION"},
		},
		Assertions: []Assertion{
			{Type: AssertSatisfiedCount, Count: 0},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], "expected error CONFIGURATION, got none")
}

func TestRun_WrongErrorCode(t *testing.T) {
	scenario := &Scenario{
		Name:        "wrong_code",
		Description: "A different error code fails the step",
		InlineRules: []map[string]any{delayRule("r1", -5)},
		Steps: []Step{
			{Register: "r1", ExpectError: "UNKNOWN_CONDITION_TYPE"},
		},
		Assertions: []Assertion{
			{Type: AssertSatisfiedCount, Count: 0},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], "expected error UNKNOWN_CONDITION_TYPE, got CONFIGURATION")
}

func TestRun_RegisterUnknownRule(t *testing.T) {
	scenario := &Scenario{
		Name:        "unknown_rule",
		Description: "Registering a rule that was never loaded fails the step",
		InlineRules: []map[string]any{delayRule("r1", 5)},
		Steps: []Step{
			{Register: "nope"},
		},
		Assertions: []Assertion{
			{Type: AssertSatisfiedCount, Count: 0},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], `no loaded rule "nope"`)
}

func TestRun_DeregisterMissingIsNoop(t *testing.T) {
	scenario := &Scenario{
		Name:        "deregister_missing",
		Description: "Deregistering an unknown id is not an error",
		InlineRules: []map[string]any{delayRule("r1", 5)},
		Steps: []Step{
			{Deregister: "r1"},
		},
		Assertions: []Assertion{
			{Type: AssertSatisfiedCount, Count: 0},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Empty(t, result.Trace)
}

func TestRun_SetFactsSatisfiesOnNextTurn(t *testing.T) {
	scenario := &Scenario{
		Name:        "set_facts",
		Description: "A fact condition observed true is satisfied on a later turn",
		InlineRules: []map[string]any{{
			"id": "vip",
			"conditions": []any{map[string]any{
				"type":  "fact",
				"value": map[string]any{"fact": "tier", "operator": "equal", "value": "gold"},
			}},
		}},
		Facts: map[string]any{"tier": "silver"},
		Steps: []Step{
			{Register: "vip"},
			{SetFacts: map[string]any{"tier": "gold"}},
		},
		Assertions: []Assertion{
			{Type: AssertNotSatisfied, Rule: "vip"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "no advance, no satisfaction: %v", result.Errors)

	scenario.Steps = append(scenario.Steps, Step{Advance: ms(0)})
	scenario.Assertions = []Assertion{{Type: AssertSatisfied, Rule: "vip", At: ms(0)}}

	result, err = Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_ResetDisposesInIDOrder(t *testing.T) {
	scenario := &Scenario{
		Name:        "reset",
		Description: "Reset disposes every rule",
		InlineRules: []map[string]any{delayRule("b", 1000), delayRule("a", 1000)},
		Steps: []Step{
			{RegisterAll: true},
			{Reset: true},
			{Advance: ms(2000)},
		},
		Assertions: []Assertion{
			{Type: AssertSatisfiedCount, Count: 0},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	require.Len(t, result.Trace, 4)
	assert.Equal(t, "b", result.Trace[0].Rule)
	assert.Equal(t, "a", result.Trace[1].Rule)
	assert.Equal(t, "a", result.Trace[2].Rule)
	assert.Equal(t, "reset", result.Trace[2].Reason)
	assert.Equal(t, "b", result.Trace[3].Rule)
}

func TestRun_Deterministic(t *testing.T) {
	scenario := &Scenario{
		Name:        "deterministic",
		Description: "Identical runs produce identical traces",
		InlineRules: []map[string]any{delayRule("r1", 100, 200), delayRule("r2", 150)},
		Steps: []Step{
			{RegisterAll: true},
			{Advance: ms(300)},
		},
		Assertions: []Assertion{
			{Type: AssertSatisfiedOrder, Rules: []string{"r2", "r1"}},
		},
	}

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	assert.True(t, first.Pass, "errors: %v", first.Errors)
	assert.Equal(t, first.Trace, second.Trace)
}

func TestRun_TraceSeqIsContiguous(t *testing.T) {
	scenario := &Scenario{
		Name:        "seq",
		Description: "Trace sequence numbers start at 1 and have no gaps",
		InlineRules: []map[string]any{delayRule("r1", 10), delayRule("r2", 20)},
		Steps: []Step{
			{RegisterAll: true},
			{Advance: ms(10)},
			{Deregister: "r2"},
		},
		Assertions: []Assertion{
			{Type: AssertSatisfiedCount, Count: 1},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	for i, ev := range result.Trace {
		assert.Equal(t, int64(i+1), ev.Seq)
	}
}

func TestRun_InlineRuleErrors(t *testing.T) {
	scenario := &Scenario{
		Name:        "bad_inline",
		Description: "Malformed inline rules abort setup",
		InlineRules: []map[string]any{{"id": "r1", "conditions": "delay"}},
		Steps:       []Step{{Register: "r1"}},
		Assertions:  []Assertion{{Type: AssertSatisfiedCount}},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inline_rules[0]")
}

func TestRun_InlineRuleFloatRejected(t *testing.T) {
	scenario := &Scenario{
		Name:        "float",
		Description: "Floats are not rule values",
		InlineRules: []map[string]any{{
			"id":         "r1",
			"conditions": []any{map[string]any{"type": "delay", "value": 1.5}},
		}},
		Steps:      []Step{{Register: "r1"}},
		Assertions: []Assertion{{Type: AssertSatisfiedCount}},
	}

	_, err := Run(scenario)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats are not allowed")
}

func TestResult_AddError(t *testing.T) {
	result := NewResult()
	assert.True(t, result.Pass)

	result.AddError("boom")
	assert.False(t, result.Pass)
	assert.Equal(t, []string{"boom"}, result.Errors)
}

func TestResult_Satisfactions(t *testing.T) {
	result := NewResult()
	result.Trace = []TraceEvent{
		{Seq: 1, Kind: KindRegistered, Rule: "r1"},
		{Seq: 2, Kind: KindSatisfied, Rule: "r1"},
		{Seq: 3, Kind: KindDisposed, Rule: "r1"},
	}

	sats := result.Satisfactions()
	require.Len(t, sats, 1)
	assert.Equal(t, int64(2), sats[0].Seq)
}
