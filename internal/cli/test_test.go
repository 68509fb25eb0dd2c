package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	libraryRules     = "../../testdata/rules"
	libraryScenarios = "../../testdata/scenarios"
)

func executeTest(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewTestCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

// writeTestScenario writes a one-rule scenario into dir and returns its path.
func writeTestScenario(t *testing.T, dir, name string, at int) string {
	t.Helper()
	content := `name: ` + name + `
description: "ping after 10ms"
inline_rules:
  - id: ping
    conditions: [{type: delay, value: 10}]
steps:
  - register: ping
  - advance: 10
assertions:
  - type: satisfied
    rule: ping
    at: ` + strconv.Itoa(at) + `
`
	path := filepath.Join(dir, name+".yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestTestCommandMissingArgs(t *testing.T) {
	_, err := executeTest(t, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "accepts 2 arg")
}

func TestTestCommandNonExistentRulesDir(t *testing.T) {
	_, err := executeTest(t, "text", "/nonexistent/rules", t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rules directory not found")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommandNonExistentScenariosDir(t *testing.T) {
	_, err := executeTest(t, "text", t.TempDir(), "/nonexistent/scenarios")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scenarios directory not found")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestTestCommandEmptyScenariosDir(t *testing.T) {
	out, err := executeTest(t, "text", t.TempDir(), t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, out, "No scenarios found")
}

func TestTestCommandEmptyScenariosDirJSON(t *testing.T) {
	out, err := executeTest(t, "json", t.TempDir(), t.TempDir())
	require.NoError(t, err)

	var response CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &response))
	assert.Equal(t, "ok", response.Status)
}

func TestTestCommandLibrary(t *testing.T) {
	out, err := executeTest(t, "text", libraryRules, libraryScenarios)
	require.NoError(t, err, out)

	assert.Contains(t, out, "✓ survey_after_keyin")
	assert.Contains(t, out, "✓ reset_clears_rules")
	assert.Contains(t, out, "0 failed")
	assert.Contains(t, out, "✓ All scenarios passed")
}

func TestTestCommandLibraryJSON(t *testing.T) {
	out, err := executeTest(t, "json", libraryRules, libraryScenarios)
	require.NoError(t, err, out)

	var response struct {
		Status string     `json:"status"`
		Data   TestResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &response))
	assert.Equal(t, "ok", response.Status)
	assert.Equal(t, 0, response.Data.Failed)
	assert.Equal(t, response.Data.Total, response.Data.Passed)

	golden := map[string]string{}
	for _, s := range response.Data.Scenarios {
		golden[s.Name] = s.Golden
	}
	assert.Equal(t, "match", golden["survey_after_keyin"])
	assert.Equal(t, "match", golden["fact_gated_rules"])
	assert.Equal(t, "", golden["reset_clears_rules"], "no golden file")
}

func TestTestCommandFilter(t *testing.T) {
	out, err := executeTest(t, "text", libraryRules, libraryScenarios, "--filter", "survey_*")
	require.NoError(t, err, out)

	assert.Contains(t, out, "2 passed, 0 failed, 2 total")
	assert.NotContains(t, out, "reminder_replaced")
}

func TestTestCommandFailingScenario(t *testing.T) {
	dir := t.TempDir()
	writeTestScenario(t, dir, "late", 11)

	out, err := executeTest(t, "text", t.TempDir(), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ late")
	assert.Contains(t, out, "Expected: rule \"ping\" satisfied at 11ms")
}

func TestTestCommandLoadError(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: broken\n"), 0644))

	out, err := executeTest(t, "json", t.TempDir(), dir)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var response CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &response))
	assert.Equal(t, "error", response.Status)
	require.NotNil(t, response.Error)
	assert.Equal(t, "E_TEST_FAILED", response.Error.Code)
}

func TestTestCommandUpdateThenMatch(t *testing.T) {
	dir := t.TempDir()
	scenarioPath := writeTestScenario(t, dir, "ping", 10)

	out, err := executeTest(t, "text", t.TempDir(), dir, "--update")
	require.NoError(t, err, out)
	assert.Contains(t, out, "✓ ping (golden updated)")

	golden, err := os.ReadFile(goldenFilePath(scenarioPath))
	require.NoError(t, err)
	assert.Contains(t, string(golden), `"scenario_name":"ping"`)
	assert.Contains(t, string(golden), `"kind":"satisfied"`)

	out, err = executeTest(t, "json", t.TempDir(), dir)
	require.NoError(t, err, out)
	assert.Contains(t, out, `"golden": "match"`)
}

func TestTestCommandGoldenMismatch(t *testing.T) {
	dir := t.TempDir()
	scenarioPath := writeTestScenario(t, dir, "ping", 10)

	goldenPath := goldenFilePath(scenarioPath)
	require.NoError(t, os.MkdirAll(filepath.Dir(goldenPath), 0755))
	require.NoError(t, os.WriteFile(goldenPath, []byte(`{"scenario_name":"ping","trace":[]}`), 0644))

	out, err := executeTest(t, "text", t.TempDir(), dir)
	require.Error(t, err)
	assert.Contains(t, out, "✗ ping")
	assert.Contains(t, out, "trace does not match golden file")
}

func TestTestHelpText(t *testing.T) {
	out, err := executeTest(t, "text", "--help")
	require.NoError(t, err)

	assert.Contains(t, out, "scenarios")
	assert.Contains(t, out, "--update")
	assert.Contains(t, out, "--filter")
	assert.Contains(t, out, "rules-dir")
	assert.Contains(t, out, "scenarios-dir")
}

func TestFindScenarioFiles(t *testing.T) {
	tmpDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "test1.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "test2.yml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "ignore.txt"), []byte(""), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(tmpDir, "golden"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "golden", "test1.golden"), []byte(""), 0644))

	files, err := findScenarioFiles(tmpDir, "")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestFindScenarioFilesWithFilter(t *testing.T) {
	tmpDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "survey-a.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "survey-b.yaml"), []byte(""), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "promo.yaml"), []byte(""), 0644))

	files, err := findScenarioFiles(tmpDir, "survey-*")
	require.NoError(t, err)
	require.Len(t, files, 2)
	for _, f := range files {
		assert.Contains(t, filepath.Base(f), "survey-")
	}

	_, err = findScenarioFiles(tmpDir, "[")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid filter pattern")
}

func TestFindScenarioFilesSubdirectories(t *testing.T) {
	tmpDir := t.TempDir()
	sub := filepath.Join(tmpDir, "nested")
	require.NoError(t, os.MkdirAll(sub, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(sub, "deep.yaml"), []byte(""), 0644))

	files, err := findScenarioFiles(tmpDir, "")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(sub, "deep.yaml")}, files)
}

func TestGoldenFilePath(t *testing.T) {
	assert.Equal(t,
		filepath.Join("scenarios", "golden", "ping.golden"),
		goldenFilePath(filepath.Join("scenarios", "ping.yaml")))
	assert.Equal(t,
		filepath.Join("a", "b", "golden", "x.golden"),
		goldenFilePath(filepath.Join("a", "b", "x.yml")))
}
