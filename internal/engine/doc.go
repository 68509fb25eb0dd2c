// Package engine implements the satisfy rule engine.
//
// A host registers rules, each a conjunction of typed conditions, and is
// notified once when every condition of a rule has been satisfied.
//
// ARCHITECTURE:
//
// Turns:
// Every mutation runs as a discrete turn under the engine mutex: a public
// call such as RegisterRule, or a timer callback scheduled by a condition.
// Turns never overlap, so a rule's satisfied count changes one increment at
// a time and the "all conditions hold" transition is detected exactly once.
//
// Handler trees:
// A registration builds one ruleHandler and one Condition per condition
// spec, dispatched by type through a ConditionRegistry. Re-registering an id
// disposes the old tree, cancelling its timers, before the new tree starts.
// Each tree carries a generation from a monotonic sequence; a callback or
// delivery belonging to an old generation is discarded.
//
// Delivery:
// Turns queue events (registered, disposed, satisfied). Run, or Flush in
// tests, writes them to the Journal and calls listeners outside the engine
// mutex, re-checking each satisfaction's generation first.
//
// Failure semantics:
//   - Malformed rules are rejected at registration with a CONFIGURATION error
//   - Unknown condition types never satisfy and are logged (strict mode
//     rejects them instead)
//   - A condition that signals twice or after disposal is refused and logged
//     as an INVARIANT_VIOLATION
package engine
