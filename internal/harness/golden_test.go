package harness

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/satisfy/internal/ir"
)

func TestRunWithGolden_SingleDelay(t *testing.T) {
	scenario := &Scenario{
		Name:        "single_delay",
		Description: "One delay rule with a payload",
		InlineRules: []map[string]any{{
			"id":         "r1",
			"conditions": []any{map[string]any{"type": "delay", "value": 250}},
			"payload":    map[string]any{"channel": "push"},
		}},
		Steps: []Step{
			{Register: "r1"},
			{Advance: ms(250)},
		},
		Assertions: []Assertion{
			{Type: AssertSatisfied, Rule: "r1", At: ms(250)},
		},
	}

	// To regenerate:
	//   go test ./internal/harness -run TestRunWithGolden_SingleDelay -update
	result, err := RunWithGolden(t, scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestAssertGolden_FromResult(t *testing.T) {
	result, err := Run(loadLibraryScenario(t, "reminder_replaced"))
	require.NoError(t, err)

	require.NoError(t, AssertGolden(t, "reminder_replaced", result))
}

func TestRunWithGolden_SetupError(t *testing.T) {
	scenario := &Scenario{
		Name:        "broken",
		Description: "Rule files that do not exist",
		Rules:       []string{"/nonexistent/rules.cue"},
		Steps:       []Step{{RegisterAll: true}},
		Assertions:  []Assertion{{Type: AssertSatisfiedCount}},
	}

	_, err := RunWithGolden(t, scenario)
	require.Error(t, err)
}

func TestSnapshot_Format(t *testing.T) {
	result := NewResult()
	result.Trace = []TraceEvent{
		{Seq: 1, Kind: KindError, Rule: "x", Code: "CONFIGURATION"},
		{Seq: 2, Kind: KindRegistered, Rule: "r1", RegistrationID: "reg-2", Generation: 2},
		{
			Seq: 3, Kind: KindSatisfied, Rule: "r1", RegistrationID: "reg-2", Generation: 2, At: 10,
			Payload: ir.Object{"b": ir.Int(1), "a": ir.Bool(true)},
		},
	}

	data, err := Snapshot("format", result)
	require.NoError(t, err)

	want := `{"scenario_name":"format","trace":[` +
		`{"at":0,"code":"CONFIGURATION","kind":"error","rule":"x","seq":1},` +
		`{"at":0,"generation":2,"kind":"registered","registration_id":"reg-2","rule":"r1","seq":2},` +
		`{"at":10,"generation":2,"kind":"satisfied","payload":{"a":true,"b":1},"registration_id":"reg-2","rule":"r1","seq":3}]}`
	assert.Equal(t, want, string(data))
	assert.True(t, json.Valid(data))
}

func TestSnapshot_EmptyTrace(t *testing.T) {
	data, err := Snapshot("empty", NewResult())
	require.NoError(t, err)
	assert.Equal(t, `{"scenario_name":"empty","trace":[]}`, string(data))
}

func TestSnapshot_Deterministic(t *testing.T) {
	scenario := loadLibraryScenario(t, "fact_gated_rules")

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	a, err := Snapshot(scenario.Name, first)
	require.NoError(t, err)
	b, err := Snapshot(scenario.Name, second)
	require.NoError(t, err)

	require.Equal(t, a, b, "canonical JSON must be deterministic")
}
