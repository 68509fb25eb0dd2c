package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance test scenario.
// A scenario registers rules, drives virtual time and facts through a
// sequence of steps, and asserts on which rules were satisfied and when.
type Scenario struct {
	// Name uniquely identifies this scenario.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Rules lists paths to CUE rule files to compile.
	// Paths are relative to the base path the scenario is loaded with.
	Rules []string `yaml:"rules,omitempty"`

	// InlineRules are rules written directly in the scenario, in the same
	// shape as compiled JSON: {id, conditions: [{type, value}], payload}.
	InlineRules []map[string]any `yaml:"inline_rules,omitempty"`

	// Facts are the initial facts. Virtual time starts at the Unix epoch,
	// so an integer timestamp fact is a millisecond offset into the run.
	Facts map[string]any `yaml:"facts,omitempty"`

	// Options configure the engine.
	Options Options `yaml:"options,omitempty"`

	// Steps drive the engine. Queued events are delivered after each step.
	Steps []Step `yaml:"steps"`

	// Assertions validate the satisfactions observed.
	Assertions []Assertion `yaml:"assertions"`
}

// Options configure the engine a scenario runs against.
type Options struct {
	// ReferenceFact overrides the default delay reference fact.
	ReferenceFact string `yaml:"reference_fact,omitempty"`

	// Strict rejects rules with unknown condition types.
	Strict bool `yaml:"strict,omitempty"`
}

// Step is one action against the engine. Exactly one field must be set.
type Step struct {
	// Register registers (or re-registers) the loaded rule with this id.
	Register string `yaml:"register,omitempty"`

	// RegisterAll replaces the rule set with every loaded rule.
	RegisterAll bool `yaml:"register_all,omitempty"`

	// Deregister removes the rule with this id.
	Deregister string `yaml:"deregister,omitempty"`

	// Advance moves virtual time forward by this many milliseconds.
	Advance *int64 `yaml:"advance,omitempty"`

	// SetFacts merges facts and re-evaluates fact conditions.
	SetFacts map[string]any `yaml:"set_facts,omitempty"`

	// Reset drops every rule.
	Reset bool `yaml:"reset,omitempty"`

	// ExpectError is the error code the step must fail with
	// (CONFIGURATION or UNKNOWN_CONDITION_TYPE). Only valid on register steps.
	ExpectError string `yaml:"expect_error,omitempty"`
}

// Assertion validates the observed satisfactions.
type Assertion struct {
	// Type specifies the assertion type:
	// - "satisfied": rule was satisfied (optionally at a given time)
	// - "not_satisfied": rule was never satisfied
	// - "satisfied_count": number of satisfactions (for one rule or all)
	// - "satisfied_order": rules were first satisfied in this order
	Type string `yaml:"type"`

	// Rule is the rule id (used by satisfied, not_satisfied, satisfied_count).
	Rule string `yaml:"rule,omitempty"`

	// At is the expected virtual time in ms (optional, used by satisfied).
	At *int64 `yaml:"at,omitempty"`

	// Count is the expected number of satisfactions (used by satisfied_count).
	Count int `yaml:"count,omitempty"`

	// Rules is the expected order (used by satisfied_order).
	Rules []string `yaml:"rules,omitempty"`
}

// Assertion type constants.
const (
	AssertSatisfied      = "satisfied"
	AssertNotSatisfied   = "not_satisfied"
	AssertSatisfiedCount = "satisfied_count"
	AssertSatisfiedOrder = "satisfied_order"
)

// LoadScenario reads and parses a scenario YAML file. Rule paths are
// resolved relative to the scenario file's directory.
func LoadScenario(path string) (*Scenario, error) {
	return LoadScenarioWithBasePath(path, filepath.Dir(path))
}

// LoadScenarioWithBasePath reads and parses a scenario YAML file,
// resolving rule paths relative to the provided base path.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenarioWithBasePath(path, basePath string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	// Parse YAML with strict field validation (catches typos like "assertion:" vs "assertions:")
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	// Resolve rule paths relative to base path BEFORE validation
	for i, rulePath := range scenario.Rules {
		if !filepath.IsAbs(rulePath) && basePath != "" {
			scenario.Rules[i] = filepath.Join(basePath, rulePath)
		}
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}

	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}

	if s.Description == "" {
		return fmt.Errorf("description is required")
	}

	if len(s.Rules) == 0 && len(s.InlineRules) == 0 {
		return fmt.Errorf("rules or inline_rules is required and must be non-empty")
	}

	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}

	for _, rulePath := range s.Rules {
		if _, err := os.Stat(rulePath); os.IsNotExist(err) {
			return fmt.Errorf("rule file not found: %s", rulePath)
		}
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step); err != nil {
			return err
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}

	return nil
}

func validateStep(index int, s *Step) error {
	set := 0
	if s.Register != "" {
		set++
	}
	if s.RegisterAll {
		set++
	}
	if s.Deregister != "" {
		set++
	}
	if s.Advance != nil {
		set++
		if *s.Advance < 0 {
			return fmt.Errorf("steps[%d]: advance must be non-negative", index)
		}
	}
	if s.SetFacts != nil {
		set++
	}
	if s.Reset {
		set++
	}

	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one of register, register_all, deregister, advance, set_facts, reset is required", index)
	}
	if s.ExpectError != "" && s.Register == "" && !s.RegisterAll {
		return fmt.Errorf("steps[%d]: expect_error is only valid on register steps", index)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertSatisfied, AssertNotSatisfied:
		if a.Rule == "" {
			return fmt.Errorf("assertions[%d]: rule is required for %s", index, a.Type)
		}
	case AssertSatisfiedCount:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for satisfied_count", index)
		}
	case AssertSatisfiedOrder:
		if len(a.Rules) == 0 {
			return fmt.Errorf("assertions[%d]: rules list is required for satisfied_order", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}

	return nil
}
