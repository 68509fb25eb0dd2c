package compiler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/satisfy/internal/engine"
	"github.com/roach88/satisfy/internal/ir"
)

func delayRule(id string, ms int64) ir.Rule {
	return ir.Rule{
		ID:         id,
		Conditions: []ir.ConditionSpec{{Type: "delay", Value: ir.Int(ms)}},
	}
}

func TestValidateValid(t *testing.T) {
	rule := ir.Rule{
		ID: "survey",
		Conditions: []ir.ConditionSpec{
			{Type: "delay", Value: ir.Object{"ms": ir.Int(1000), "since": ir.String("keyedInAt")}},
			{Type: "fact", Value: ir.Object{"fact": ir.String("visits"), "operator": ir.String("greaterThan"), "value": ir.Int(3)}},
			{Type: "never", Value: ir.Null{}},
		},
	}

	errs := Validate(rule, nil)
	assert.Empty(t, errs, "valid rule should have no errors")
}

func TestValidateEmptyRule(t *testing.T) {
	errs := Validate(ir.Rule{ID: "  "}, nil)
	require.Len(t, errs, 2)
	assert.Equal(t, ErrRuleIDEmpty, errs[0].Code)
	assert.Equal(t, ErrRuleNoConditions, errs[1].Code)
}

func TestValidateConditionErrors(t *testing.T) {
	tests := []struct {
		name      string
		cond      ir.ConditionSpec
		wantCode  string
		wantField string
	}{
		{"empty type", ir.ConditionSpec{Value: ir.Int(1)}, ErrConditionTypeEmpty, "conditions[0].type"},
		{"unknown type", ir.ConditionSpec{Type: "geofence", Value: ir.Null{}}, ErrUnknownConditionType, "conditions[0].type"},
		{"negative delay", ir.ConditionSpec{Type: "delay", Value: ir.Int(-1)}, ErrInvalidConditionVal, "conditions[0].value"},
		{"delay string", ir.ConditionSpec{Type: "delay", Value: ir.String("5s")}, ErrInvalidConditionVal, "conditions[0].value"},
		{"fact bad operator", ir.ConditionSpec{Type: "fact", Value: ir.Object{
			"fact": ir.String("x"), "operator": ir.String("approximately"), "value": ir.Int(1),
		}}, ErrInvalidConditionVal, "conditions[0].value"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := Validate(ir.Rule{ID: "r", Conditions: []ir.ConditionSpec{tt.cond}}, nil)
			require.Len(t, errs, 1)
			assert.Equal(t, tt.wantCode, errs[0].Code)
			assert.Equal(t, tt.wantField, errs[0].Field)
		})
	}
}

func TestValidateCollectsAll(t *testing.T) {
	rule := ir.Rule{
		ID: "r",
		Conditions: []ir.ConditionSpec{
			{Type: "delay", Value: ir.Int(-5)},
			{Type: "mystery"},
			{Type: "delay", Value: ir.Int(5)},
		},
	}

	errs := Validate(rule, nil)
	require.Len(t, errs, 2)
	assert.Equal(t, "conditions[0].value", errs[0].Field)
	assert.Equal(t, "conditions[1].type", errs[1].Field)
}

func TestValidateCustomRegistry(t *testing.T) {
	reg := engine.NewDefaultRegistry("")
	require.NoError(t, reg.Register("geofence", engine.NewNeverCondition))

	rule := ir.Rule{ID: "r", Conditions: []ir.ConditionSpec{{Type: "geofence"}}}
	assert.Empty(t, Validate(rule, reg))
}

func TestValidateSetDuplicateIDs(t *testing.T) {
	nfc := "caf" + string(rune(0xe9))
	nfd := "cafe" + string(rune(0x301))

	errs := ValidateSet([]ir.Rule{
		delayRule(nfc, 1),
		delayRule("other", 2),
		delayRule(nfd, 3),
	}, nil)

	require.Len(t, errs, 1)
	assert.Equal(t, ErrDuplicateRuleID, errs[0].Code)
	assert.Contains(t, errs[0].Message, "index 0")
}

func TestValidateSetPrefixesField(t *testing.T) {
	errs := ValidateSet([]ir.Rule{{ID: "bad"}}, nil)
	require.Len(t, errs, 1)
	assert.Equal(t, `rule["bad"].conditions`, errs[0].Field)
}

func TestValidationErrorFormat(t *testing.T) {
	e := ValidationError{Field: "id", Message: "required", Code: ErrRuleIDEmpty}
	assert.Equal(t, "[E201] id: required", e.Error())

	e.Line = 4
	assert.Equal(t, "[E201] line 4: id: required", e.Error())
}
