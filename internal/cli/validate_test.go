package cli

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/satisfy/internal/compiler"
)

func executeValidate(t *testing.T, format string, verbose bool, args ...string) (string, string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	errBuf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: format, Verbose: verbose})
	cmd.SetOut(buf)
	cmd.SetErr(errBuf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), errBuf.String(), err
}

func TestValidateValidRules(t *testing.T) {
	out, _, err := executeValidate(t, "text", false, libraryRules)
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ 3 rule(s) valid")
}

func TestValidateValidRulesJSON(t *testing.T) {
	out, _, err := executeValidate(t, "json", false, libraryRules)
	require.NoError(t, err)

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, resp.Data.Valid)
	assert.Equal(t, 3, resp.Data.Rules)
}

func TestValidateNonExistentDirectory(t *testing.T) {
	out, _, err := executeValidate(t, "text", false, "/nonexistent/rules")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeNotFound)
}

func TestValidateEmptyDirectory(t *testing.T) {
	out, _, err := executeValidate(t, "text", false, t.TempDir())
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "no CUE files found")
}

func TestValidateUnknownConditionType(t *testing.T) {
	dir := writeRules(t, `rule: geo: conditions: [{type: "geofence", value: {radius: 50}}]`)

	out, _, err := executeValidate(t, "text", false, dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, compiler.ErrUnknownConditionType)
	assert.Contains(t, out, `unknown condition type "geofence"`)
}

func TestValidateInvalidConditionValue(t *testing.T) {
	dir := writeRules(t, `
rule: "bad-delay": conditions: [{type: "delay", value: -1}]
rule: "bad-op": conditions: [{type: "fact", value: {fact: "plan", operator: "like", value: "pro"}}]
`)

	out, _, err := executeValidate(t, "json", false, dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)
	require.Len(t, resp.Data.Errors, 2)
	for _, ve := range resp.Data.Errors {
		assert.Equal(t, compiler.ErrInvalidConditionVal, ve.Code)
	}
	assert.Contains(t, resp.Data.Errors[0].Message, "non-negative")
	assert.Contains(t, resp.Data.Errors[1].Message, `unknown operator "like"`)
}

func TestValidateDuplicateIDs(t *testing.T) {
	dir := writeRules(t, `
rule: first: {id: "same", conditions: [{type: "never"}]}
rule: second: {id: "same", conditions: [{type: "never"}]}
`)

	out, _, err := executeValidate(t, "text", false, dir)
	require.Error(t, err)
	assert.Contains(t, out, compiler.ErrDuplicateRuleID)
}

func TestValidateReportsCompileErrors(t *testing.T) {
	dir := writeRules(t, `
rule: empty: conditions: []
rule: slow: conditions: [{type: "delay", value: 2.5}]
rule: fine: conditions: [{type: "delay", value: 10}]
`)

	out, _, err := executeValidate(t, "text", false, dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, ErrCodeRuleConditions)
	assert.Contains(t, out, ErrCodeConditionValue)
	assert.Contains(t, out, "floats are forbidden")
}

func TestValidateVerboseOutput(t *testing.T) {
	_, diag, err := executeValidate(t, "text", true, libraryRules)
	require.NoError(t, err)
	assert.Contains(t, diag, "Found 2 CUE file(s)")
	assert.Contains(t, diag, "Validating rule: survey-after-keyin")
}
