package engine

import (
	"sync"

	"github.com/roach88/satisfy/internal/ir"
)

// FactsProvider supplies named facts to condition handlers.
// Implementations must be read-only from the engine's point of view and
// cheap to call: handlers read facts synchronously inside engine turns.
type FactsProvider interface {
	Fact(name string) (ir.Value, bool)
}

// FactsFunc adapts a function to FactsProvider.
type FactsFunc func(name string) (ir.Value, bool)

// Fact implements FactsProvider.
func (f FactsFunc) Fact(name string) (ir.Value, bool) {
	return f(name)
}

// NoFacts is a FactsProvider with no facts at all.
var NoFacts FactsProvider = FactsFunc(func(string) (ir.Value, bool) { return nil, false })

// Facts is a mutable, concurrency-safe FactsProvider for hosts that keep
// their facts in memory. After changing facts the host calls
// Engine.RefreshFacts so fact conditions are re-evaluated.
type Facts struct {
	mu     sync.RWMutex
	values ir.Object
}

// NewFacts creates a Facts store seeded with a copy of initial.
func NewFacts(initial ir.Object) *Facts {
	f := &Facts{values: make(ir.Object, len(initial))}
	for k, v := range initial {
		f.values[k] = v
	}
	return f
}

// Fact implements FactsProvider.
func (f *Facts) Fact(name string) (ir.Value, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.values[name]
	return v, ok
}

// Set stores a fact.
func (f *Facts) Set(name string, v ir.Value) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[name] = v
}

// Merge stores every fact in values, keeping facts not mentioned.
func (f *Facts) Merge(values ir.Object) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, v := range values {
		f.values[k] = v
	}
}

// Delete removes a fact.
func (f *Facts) Delete(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.values, name)
}

// Snapshot returns a copy of all facts.
func (f *Facts) Snapshot() ir.Object {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(ir.Object, len(f.values))
	for k, v := range f.values {
		out[k] = v
	}
	return out
}
