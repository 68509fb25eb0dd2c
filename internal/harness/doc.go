// Package harness runs conformance scenarios against the rule engine.
//
// A scenario registers rules, drives virtual time and facts through a list
// of steps, and asserts on which rules were satisfied and when. The engine
// is the real one; only the clock and registration ids are deterministic.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: survey_after_keyin
//	description: "Survey fires 30s after key-in for pro users"
//	rules:
//	  - survey.cue
//	inline_rules:
//	  - id: blocked
//	    conditions: [{type: never}]
//	facts:
//	  keyedInAt: 0
//	  plan: pro
//	options:
//	  reference_fact: keyedInAt
//	steps:
//	  - register_all: true
//	  - advance: 30000
//	  - set_facts: {plan: free}
//	  - deregister: blocked
//	assertions:
//	  - type: satisfied
//	    rule: survey-after-keyin
//	    at: 30000
//	  - type: not_satisfied
//	    rule: blocked
//
// Rule file paths are resolved against a base directory: the scenario's own
// directory for LoadScenario, or the one given to LoadScenarioWithBasePath.
//
// # Steps
//
// Each step sets exactly one of:
//
//   - register: register one loaded rule by id
//   - register_all: replace the rule set with every loaded rule
//   - deregister: remove a rule by id
//   - advance: move virtual time forward, in milliseconds
//   - set_facts: merge facts and re-evaluate fact conditions
//   - reset: drop every rule
//
// Register steps may carry expect_error with the expected error code.
//
// # Assertion Types
//
//   - satisfied: the rule was satisfied, optionally at a given time
//   - not_satisfied: the rule was never satisfied
//   - satisfied_count: number of satisfactions for one rule or all rules
//   - satisfied_order: rules were first satisfied in the given order
//
// # Deterministic Testing
//
// Virtual time starts at the Unix epoch, so integer timestamp facts are
// millisecond offsets into the run. Queued events are delivered after every
// step and the engine is closed at the end, so the trace (registrations,
// disposals with reasons, satisfactions) is identical across runs and can be
// compared against golden files.
package harness
