package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/roach88/satisfy/internal/clock"
	"github.com/roach88/satisfy/internal/ir"
)

// Satisfaction is delivered to listeners when a rule's conditions all hold.
type Satisfaction = ir.Satisfaction

// SatisfactionListener receives satisfactions from the delivery loop.
type SatisfactionListener func(Satisfaction)

// Engine owns the live set of registered rules.
//
// Every mutation runs as a turn under e.mu: a public call (RegisterRule,
// DeregisterRule, SetRules, Reset, RefreshFacts, Close) or a timer callback
// scheduled by a condition. No two turns of one engine overlap, so a rule's
// satisfied count is only ever changed one increment at a time.
//
// Turns never call host code. Registrations, disposals and satisfactions are
// queued and handed to the journal and to listeners by Run (or Flush), with
// e.mu released. A listener may therefore call back into the engine, for
// example to deregister the rule it was just told about.
//
// Thread-safety model:
//   - All public methods are safe from any goroutine
//   - Run(): call from one goroutine; Flush may be used instead of Run
//   - Listeners must not call Flush
type Engine struct {
	mu       sync.Mutex
	rules    map[string]*ruleHandler
	facts    FactsProvider
	registry *ConditionRegistry
	clock    clock.Clock
	gens     *clock.Sequence
	ids      IDGenerator
	strict   bool
	closed   bool

	referenceFact string

	queue     *eventQueue
	deliverMu sync.Mutex
	journal   Journal
	metrics   *Metrics
	logger    *slog.Logger

	listenersMu  sync.RWMutex
	listeners    []listenerEntry
	nextListener int
}

type listenerEntry struct {
	id int
	fn SatisfactionListener
}

// EngineOption allows configuration of engine parameters.
type EngineOption func(*Engine)

// WithClock sets the time source. Default: clock.Real().
func WithClock(c clock.Clock) EngineOption {
	return func(e *Engine) {
		e.clock = c
	}
}

// WithLogger sets the logger. Default: slog.Default().
func WithLogger(l *slog.Logger) EngineOption {
	return func(e *Engine) {
		e.logger = l
	}
}

// WithIDGenerator sets the registration id generator. Default: UUIDv7Generator.
func WithIDGenerator(g IDGenerator) EngineOption {
	return func(e *Engine) {
		e.ids = g
	}
}

// WithJournal records every registration, disposal and delivered
// satisfaction to j.
func WithJournal(j Journal) EngineOption {
	return func(e *Engine) {
		e.journal = j
	}
}

// WithMetrics enables Prometheus metrics. A nil m disables them.
func WithMetrics(m *Metrics) EngineOption {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithConditionRegistry replaces the default condition registry.
// WithDelayReferenceFact has no effect when this option is used.
func WithConditionRegistry(r *ConditionRegistry) EngineOption {
	return func(e *Engine) {
		e.registry = r
	}
}

// WithDelayReferenceFact sets the fact a delay condition measures from when
// its value names none. Default: DefaultReferenceFact.
func WithDelayReferenceFact(name string) EngineOption {
	return func(e *Engine) {
		e.referenceFact = name
	}
}

// WithStrictConditionTypes rejects rules that use an unregistered condition
// type with an UNKNOWN_CONDITION_TYPE error. By default such a condition is
// logged and installed as never satisfied.
func WithStrictConditionTypes() EngineOption {
	return func(e *Engine) {
		e.strict = true
	}
}

// New creates an Engine reading facts from facts. A nil facts means NoFacts.
func New(facts FactsProvider, opts ...EngineOption) *Engine {
	if facts == nil {
		facts = NoFacts
	}

	e := &Engine{
		rules:         make(map[string]*ruleHandler),
		facts:         facts,
		clock:         clock.Real(),
		gens:          clock.NewSequence(),
		ids:           UUIDv7Generator{},
		referenceFact: DefaultReferenceFact,
		queue:         newEventQueue(),
		logger:        slog.Default(),
	}

	for _, opt := range opts {
		opt(e)
	}

	if e.registry == nil {
		e.registry = NewDefaultRegistry(e.referenceFact)
	}

	return e
}

// RegisterConditionType adds a condition variant to this engine's registry.
func (e *Engine) RegisterConditionType(condType string, f ConditionFactory) error {
	return e.registry.Register(condType, f)
}

// OnRuleSatisfied subscribes fn to satisfactions. Listeners are called in
// subscription order. The returned function unsubscribes.
func (e *Engine) OnRuleSatisfied(fn SatisfactionListener) (unsubscribe func()) {
	e.listenersMu.Lock()
	defer e.listenersMu.Unlock()

	e.nextListener++
	id := e.nextListener
	e.listeners = append(e.listeners, listenerEntry{id: id, fn: fn})

	return func() {
		e.listenersMu.Lock()
		defer e.listenersMu.Unlock()
		for i, l := range e.listeners {
			if l.id == id {
				e.listeners = append(e.listeners[:i:i], e.listeners[i+1:]...)
				return
			}
		}
	}
}

// RegisterRule installs rule under its id, replacing any rule registered
// under the same id.
//
// The new handler tree is built before the old one is touched. If building
// fails the error is returned and the previous rule, if any, stays active.
// Otherwise the previous tree is disposed, cancelling its pending timers,
// and the new one is started.
//
// Returns a CONFIGURATION error for a missing id, empty conditions or a
// malformed condition value, and UNKNOWN_CONDITION_TYPE in strict mode.
func (e *Engine) RegisterRule(rule ir.Rule) error {
	rule, hash, err := prepareRule(rule)
	if err != nil {
		e.metrics.recordRegistration("rejected")
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEngineClosed
	}

	rh, err := e.buildLocked(rule, hash)
	if err != nil {
		e.metrics.recordRegistration("rejected")
		e.logger.Warn("rule rejected", "rule", rule.ID, "error", err)
		return err
	}

	e.installLocked(rh)
	return nil
}

// prepareRule validates and normalizes a rule and computes its hash.
func prepareRule(rule ir.Rule) (ir.Rule, string, error) {
	rule = rule.Clone()
	rule.ID = ir.NormalizeID(rule.ID)

	if rule.ID == "" {
		return rule, "", newConfigError("", "rule id must be non-empty")
	}
	if len(rule.Conditions) == 0 {
		return rule, "", newConfigError(rule.ID, "rule must have at least one condition")
	}

	hash, err := ir.RuleHash(rule)
	if err != nil {
		re := newConfigError(rule.ID, "rule is not representable as canonical JSON")
		re.Err = err
		return rule, "", re
	}
	return rule, hash, nil
}

// buildLocked constructs a handler tree without starting it.
func (e *Engine) buildLocked(rule ir.Rule, hash string) (*ruleHandler, error) {
	rh := &ruleHandler{
		rule:           rule,
		hash:           hash,
		registrationID: e.ids.Generate(),
		generation:     e.gens.Next(),
		registeredAt:   e.clock.Now(),
		conditions:     make([]Condition, len(rule.Conditions)),
		satisfied:      make([]bool, len(rule.Conditions)),
	}
	rh.logger = e.logger.With("rule", rule.ID, "registration", rh.registrationID)

	for i, spec := range rule.Conditions {
		factory, ok := e.registry.Lookup(spec.Type)
		if !ok {
			if e.strict {
				rh.dispose()
				return nil, newUnknownTypeError(rule.ID, i, spec.Type)
			}
			rh.logger.Warn("unknown condition type, condition will never be satisfied",
				"condition", i,
				"type", spec.Type,
			)
			e.metrics.recordUnknownCondition(spec.Type)
			rh.conditions[i] = neverCondition{}
			continue
		}

		cond, err := factory(spec, e.conditionContext(rh, i, spec.Type))
		if err == nil && cond == nil {
			err = errors.New("factory returned no condition")
		}
		if err != nil {
			rh.dispose()
			return nil, newConditionError(rule.ID, i, spec.Type, err)
		}
		rh.conditions[i] = cond
	}

	return rh, nil
}

func (e *Engine) conditionContext(rh *ruleHandler, i int, condType string) ConditionContext {
	return ConditionContext{
		RuleID: rh.rule.ID,
		Index:  i,
		Facts:  e.facts,
		Clock:  e.clock,
		Logger: rh.logger.With("condition", i, "type", condType),
		Schedule: func(d time.Duration, f func()) clock.Timer {
			return e.clock.AfterFunc(d, e.turn(rh, f))
		},
		Satisfy: func() {
			e.conditionSatisfiedLocked(rh, i)
		},
	}
}

// turn wraps a timer callback so it runs under e.mu and is skipped once rh
// has been disposed. A timer that fired concurrently with its cancellation
// blocks on e.mu and then sees the disposal.
func (e *Engine) turn(rh *ruleHandler, f func()) func() {
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()

		if rh.disposed {
			rh.logger.Debug("callback skipped for disposed rule", "generation", rh.generation)
			return
		}
		f()
	}
}

func (e *Engine) conditionSatisfiedLocked(rh *ruleHandler, i int) {
	complete, err := rh.markSatisfied(i)
	if err != nil {
		rh.logger.Error("condition handler invariant violated", "error", err)
		e.metrics.recordInvariantViolation()
		return
	}

	e.metrics.recordConditionSatisfied(rh.rule.Conditions[i].Type)
	rh.logger.Debug("condition satisfied",
		"condition", i,
		"satisfied", rh.count,
		"total", len(rh.conditions),
	)

	if !complete {
		return
	}

	s := Satisfaction{
		Rule:           rh.rule.Clone(),
		RegistrationID: rh.registrationID,
		Generation:     rh.generation,
		SatisfiedAt:    e.clock.Now(),
	}
	rh.logger.Info("rule satisfied", "generation", rh.generation)
	e.queue.Enqueue(Event{Type: EventTypeSatisfied, Satisfaction: &s})
}

// installLocked replaces any current tree for rh's id with rh and starts it.
func (e *Engine) installLocked(rh *ruleHandler) {
	replaced := false
	if old, ok := e.rules[rh.rule.ID]; ok {
		e.disposeLocked(old, ir.DisposalReplaced)
		replaced = true
	}

	e.rules[rh.rule.ID] = rh
	reg := rh.registration()
	e.queue.Enqueue(Event{Type: EventTypeRegistered, Registration: &reg})

	result := "created"
	if replaced {
		result = "replaced"
	}
	e.metrics.recordRegistration(result)
	e.metrics.setRulesActive(len(e.rules))
	rh.logger.Info("rule registered",
		"conditions", len(rh.conditions),
		"generation", rh.generation,
		"replaced", replaced,
	)

	rh.start()
}

func (e *Engine) disposeLocked(rh *ruleHandler, reason ir.DisposalReason) {
	if !rh.dispose() {
		return
	}
	if cur, ok := e.rules[rh.rule.ID]; ok && cur == rh {
		delete(e.rules, rh.rule.ID)
	}

	d := ir.Disposal{
		RegistrationID: rh.registrationID,
		RuleID:         rh.rule.ID,
		Reason:         reason,
		Generation:     rh.generation,
		At:             e.clock.Now(),
	}
	e.queue.Enqueue(Event{Type: EventTypeDisposed, Disposal: &d})

	e.metrics.recordDisposal(string(reason))
	e.metrics.setRulesActive(len(e.rules))
	rh.logger.Info("rule disposed", "reason", reason, "generation", rh.generation)
}

// DeregisterRule disposes the rule registered under id, cancelling its
// pending timers before returning. Returns false if no such rule exists.
//
// A satisfaction of the disposed rule that is still queued is dropped at
// delivery. One already past its delivery check when DeregisterRule runs on
// another goroutine still reaches the listeners.
func (e *Engine) DeregisterRule(id string) bool {
	id = ir.NormalizeID(id)

	e.mu.Lock()
	defer e.mu.Unlock()

	rh, ok := e.rules[id]
	if !ok {
		return false
	}
	e.disposeLocked(rh, ir.DisposalDeregistered)
	return true
}

// SetRules makes rules the complete set of registered rules.
//
// Rules whose id and content are unchanged keep their handler tree and
// progress. Changed rules are replaced, new ones registered and the rest
// deregistered. The call is all-or-nothing: if any rule is invalid nothing
// changes and the errors are returned joined.
func (e *Engine) SetRules(rules []ir.Rule) error {
	type desired struct {
		rule ir.Rule
		hash string
	}

	var errs []error
	want := make([]desired, 0, len(rules))
	seen := make(map[string]bool, len(rules))
	for _, r := range rules {
		rule, hash, err := prepareRule(r)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[rule.ID] {
			errs = append(errs, newConfigError(rule.ID, "duplicate rule id"))
			continue
		}
		seen[rule.ID] = true
		want = append(want, desired{rule: rule, hash: hash})
	}
	if len(errs) > 0 {
		e.metrics.recordRegistration("rejected")
		return errors.Join(errs...)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return ErrEngineClosed
	}

	var built []*ruleHandler
	for _, d := range want {
		if cur, ok := e.rules[d.rule.ID]; ok && cur.hash == d.hash {
			continue
		}
		rh, err := e.buildLocked(d.rule, d.hash)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		built = append(built, rh)
	}
	if len(errs) > 0 {
		for _, rh := range built {
			rh.dispose()
		}
		e.metrics.recordRegistration("rejected")
		e.logger.Warn("rule set rejected", "errors", len(errs))
		return errors.Join(errs...)
	}

	for _, id := range e.sortedIDsLocked() {
		if !seen[id] {
			e.disposeLocked(e.rules[id], ir.DisposalDeregistered)
		}
	}
	for _, rh := range built {
		e.installLocked(rh)
	}

	e.logger.Debug("rule set applied", "rules", len(want), "changed", len(built))
	return nil
}

// Reset deregisters every rule.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, id := range e.sortedIDsLocked() {
		e.disposeLocked(e.rules[id], ir.DisposalReset)
	}
}

// RefreshFacts re-evaluates every unsatisfied fact-dependent condition.
// Call it after the facts behind the FactsProvider change. Conditions that
// now hold are satisfied on a following turn.
func (e *Engine) RefreshFacts() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, id := range e.sortedIDsLocked() {
		for _, w := range e.rules[id].unsatisfiedWatchers() {
			w.FactsChanged()
		}
	}
}

// Rules returns the registered rules ordered by id.
func (e *Engine) Rules() []ir.Rule {
	e.mu.Lock()
	defer e.mu.Unlock()

	ids := e.sortedIDsLocked()
	out := make([]ir.Rule, len(ids))
	for i, id := range ids {
		out[i] = e.rules[id].rule.Clone()
	}
	return out
}

// Status reports the state of the rule registered under id.
// The zero RuleStatus means no such rule.
func (e *Engine) Status(id string) RuleStatus {
	id = ir.NormalizeID(id)

	e.mu.Lock()
	defer e.mu.Unlock()

	rh, ok := e.rules[id]
	if !ok {
		return RuleStatus{}
	}
	return rh.status()
}

func (e *Engine) sortedIDsLocked() []string {
	ids := make([]string, 0, len(e.rules))
	for id := range e.rules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close disposes every rule and stops the delivery loop once the events
// already queued have been delivered. Further registrations fail with
// ErrEngineClosed. Close is idempotent.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return
	}
	for _, id := range e.sortedIDsLocked() {
		e.disposeLocked(e.rules[id], ir.DisposalTeardown)
	}
	e.closed = true
	e.queue.Close()
	e.logger.Info("engine closed")
}

// Run delivers queued events until ctx is cancelled or the engine is closed
// and drained. Returns ctx.Err() on cancellation and nil after Close.
//
// Delivery failures are logged and delivery continues: a journal write error
// never withholds a satisfaction from listeners.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("engine starting")

	for {
		e.drain(ctx)

		if e.queue.Drained() {
			e.logger.Info("engine stopping: closed")
			return nil
		}

		select {
		case <-ctx.Done():
			e.logger.Info("engine stopping: context cancelled")
			return ctx.Err()
		case <-e.queue.Wait():
		}
	}
}

// Flush delivers every queued event on the calling goroutine and returns.
// Tests and the scenario harness use it in place of Run to keep delivery
// in step with a fake clock.
func (e *Engine) Flush(ctx context.Context) {
	e.drain(ctx)
}

func (e *Engine) drain(ctx context.Context) {
	e.deliverMu.Lock()
	defer e.deliverMu.Unlock()

	for {
		ev, ok := e.queue.TryDequeue()
		if !ok {
			return
		}
		e.deliver(ctx, ev)
	}
}

func (e *Engine) deliver(ctx context.Context, ev Event) {
	if ev.Type == EventTypeSatisfied {
		s := ev.Satisfaction
		if !e.isCurrent(s.Rule.ID, s.Generation) {
			e.metrics.recordStaleDelivery()
			e.logger.Debug("satisfaction dropped: rule no longer registered at this generation",
				"rule", s.Rule.ID,
				"generation", s.Generation,
			)
			return
		}
	}

	if err := record(ctx, e.journal, ev); err != nil {
		logEventError(e.logger, ev, err)
	}

	if ev.Type == EventTypeSatisfied {
		e.metrics.recordSatisfaction()
		e.notify(*ev.Satisfaction)
	}
}

func (e *Engine) isCurrent(id string, generation int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	rh, ok := e.rules[id]
	return ok && rh.generation == generation
}

func (e *Engine) notify(s Satisfaction) {
	e.listenersMu.RLock()
	listeners := make([]listenerEntry, len(e.listeners))
	copy(listeners, e.listeners)
	e.listenersMu.RUnlock()

	for _, l := range listeners {
		e.callListener(l.fn, s)
	}
}

func (e *Engine) callListener(fn SatisfactionListener, s Satisfaction) {
	defer func() {
		if r := recover(); r != nil {
			e.metrics.recordListenerPanic()
			e.logger.Error("satisfaction listener panicked",
				"rule", s.Rule.ID,
				"registration", s.RegistrationID,
				"panic", fmt.Sprint(r),
			)
		}
	}()
	fn(s)
}

// logEventError logs a journal failure with enough context to reconcile the
// journal by hand.
func logEventError(logger *slog.Logger, ev Event, err error) {
	switch ev.Type {
	case EventTypeRegistered:
		logger.Error("journal write failed",
			"event", ev.Type.String(),
			"rule", ev.Registration.Rule.ID,
			"registration", ev.Registration.ID,
			"error", err,
		)
	case EventTypeDisposed:
		logger.Error("journal write failed",
			"event", ev.Type.String(),
			"rule", ev.Disposal.RuleID,
			"registration", ev.Disposal.RegistrationID,
			"error", err,
		)
	case EventTypeSatisfied:
		logger.Error("journal write failed",
			"event", ev.Type.String(),
			"rule", ev.Satisfaction.Rule.ID,
			"registration", ev.Satisfaction.RegistrationID,
			"error", err,
		)
	default:
		logger.Error("journal write failed", "event", ev.Type.String(), "error", err)
	}
}
