package harness

import "github.com/roach88/satisfy/internal/ir"

// Trace event kinds, in the order the engine delivers them.
const (
	KindRegistered = "registered"
	KindDisposed   = "disposed"
	KindSatisfied  = "satisfied"
	// KindError records a register step the engine rejected.
	KindError = "error"
)

// TraceEvent is one journal entry observed during a scenario.
// At is virtual time in milliseconds since the Unix epoch.
type TraceEvent struct {
	Seq            int64     `json:"seq"`
	Kind           string    `json:"kind"`
	Rule           string    `json:"rule"`
	RegistrationID string    `json:"registration_id,omitempty"`
	Generation     int64     `json:"generation,omitempty"`
	At             int64     `json:"at"`
	Reason         string    `json:"reason,omitempty"`
	Payload        ir.Object `json:"payload,omitempty"`
	Code           string    `json:"code,omitempty"`
}

// Result is the outcome of a test scenario execution.
type Result struct {
	// Pass indicates overall test success.
	// True if every step behaved as expected and every assertion held.
	Pass bool `json:"pass"`

	// Trace contains every registration, disposal and satisfaction in
	// delivery order. Used for assertions and golden comparison.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
// Used as the starting point for test execution.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// Satisfactions returns the satisfied events of the trace.
func (r *Result) Satisfactions() []TraceEvent {
	var out []TraceEvent
	for _, e := range r.Trace {
		if e.Kind == KindSatisfied {
			out = append(out, e)
		}
	}
	return out
}
