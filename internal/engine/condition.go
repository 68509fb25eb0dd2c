package engine

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/roach88/satisfy/internal/clock"
	"github.com/roach88/satisfy/internal/ir"
)

// Built-in condition types.
const (
	TypeDelay = "delay"
	TypeFact  = "fact"
	TypeNever = "never"
)

// Condition is the handler for one condition instance of one registration.
//
// Lifecycle: the factory constructs it (reading facts and validating its
// value), the engine calls Start once the owning rule is installed, and
// Dispose exactly once when the rule is deregistered, replaced or torn down.
//
// A condition signals satisfaction by calling ConditionContext.Satisfy from
// inside an engine turn: from a callback passed to ConditionContext.Schedule,
// or from FactsChanged. It must signal at most once, and never after Dispose.
// The owning rule guards against both, but a well-behaved condition does not
// rely on that.
type Condition interface {
	Start()
	Dispose()
}

// FactWatcher is implemented by conditions that depend on facts which may
// change after registration. The engine calls FactsChanged, inside a turn,
// for every unsatisfied watcher when the host calls Engine.RefreshFacts.
type FactWatcher interface {
	Condition
	FactsChanged()
}

// ConditionContext is everything a condition may touch. It is built by the
// engine for each condition and passed to the factory.
type ConditionContext struct {
	// RuleID and Index identify the condition for diagnostics.
	RuleID string
	Index  int

	// Facts is the read-only facts view.
	Facts FactsProvider

	// Clock reads the current time. Use Schedule rather than
	// Clock.AfterFunc so callbacks run as engine turns.
	Clock clock.Clock

	// Logger is scoped to the rule and condition.
	Logger *slog.Logger

	// Schedule runs f as a separate engine turn after d. A non-positive d
	// runs on the next turn, never inline. f is skipped if the owning rule
	// has been disposed by then.
	Schedule func(d time.Duration, f func()) clock.Timer

	// Satisfy signals that the condition holds. Call only from inside a turn.
	Satisfy func()
}

// ConditionFactory constructs a Condition from its spec. An error means the
// spec's value is malformed and rejects the whole rule.
type ConditionFactory func(spec ir.ConditionSpec, cctx ConditionContext) (Condition, error)

// ConditionRegistry maps condition type tags to factories. New variants are
// added by registering a factory; the engine itself never changes.
//
// Thread-safety: safe for concurrent use.
type ConditionRegistry struct {
	mu        sync.RWMutex
	factories map[string]ConditionFactory
}

// NewConditionRegistry creates an empty registry.
func NewConditionRegistry() *ConditionRegistry {
	return &ConditionRegistry{factories: make(map[string]ConditionFactory)}
}

// NewDefaultRegistry creates a registry with the built-in types.
// referenceFact is the fact a delay condition measures from when its value
// does not name one.
func NewDefaultRegistry(referenceFact string) *ConditionRegistry {
	r := NewConditionRegistry()
	r.MustRegister(TypeDelay, NewDelayFactory(referenceFact))
	r.MustRegister(TypeFact, NewFactCondition)
	r.MustRegister(TypeNever, NewNeverCondition)
	return r
}

// Register adds a factory for condType. Registering a type twice is an error.
func (r *ConditionRegistry) Register(condType string, f ConditionFactory) error {
	if condType == "" {
		return fmt.Errorf("condition type must be non-empty")
	}
	if f == nil {
		return fmt.Errorf("condition type %q: factory must be non-nil", condType)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[condType]; exists {
		return fmt.Errorf("condition type %q already registered", condType)
	}
	r.factories[condType] = f
	return nil
}

// MustRegister is like Register but panics on error.
func (r *ConditionRegistry) MustRegister(condType string, f ConditionFactory) {
	if err := r.Register(condType, f); err != nil {
		panic(err)
	}
}

// Lookup returns the factory for condType.
func (r *ConditionRegistry) Lookup(condType string) (ConditionFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[condType]
	return f, ok
}

// Types returns the registered type tags in sorted order.
func (r *ConditionRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.factories))
	for t := range r.factories {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// neverCondition never signals. It backs the "never" type and stands in for
// conditions whose type has no registered handler.
type neverCondition struct{}

// NewNeverCondition is the factory for the "never" type. Any value is accepted.
func NewNeverCondition(ir.ConditionSpec, ConditionContext) (Condition, error) {
	return neverCondition{}, nil
}

func (neverCondition) Start()   {}
func (neverCondition) Dispose() {}
