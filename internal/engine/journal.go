package engine

import (
	"context"

	"github.com/roach88/satisfy/internal/ir"
)

// Journal is an append-only record of what the engine did. The delivery
// loop writes every event to it, in order, before notifying listeners.
//
// Implemented by store.Store (SQLite). A nil Journal disables journaling.
type Journal interface {
	RecordRegistration(ctx context.Context, reg ir.Registration) error
	RecordDisposal(ctx context.Context, d ir.Disposal) error
	RecordSatisfaction(ctx context.Context, s ir.Satisfaction) error
}

// record writes one event to j. Journaling failures are returned to the
// delivery loop, which logs them and keeps delivering.
func record(ctx context.Context, j Journal, ev Event) error {
	if j == nil {
		return nil
	}
	switch ev.Type {
	case EventTypeRegistered:
		return j.RecordRegistration(ctx, *ev.Registration)
	case EventTypeDisposed:
		return j.RecordDisposal(ctx, *ev.Disposal)
	case EventTypeSatisfied:
		return j.RecordSatisfaction(ctx, *ev.Satisfaction)
	}
	return nil
}
