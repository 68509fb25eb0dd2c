package engine

import (
	"github.com/google/uuid"
)

// IDGenerator produces registration ids. Every (re-)registration of a rule
// gets a fresh id so journal entries and satisfactions can be attributed to
// the exact installation that produced them.
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 registration ids.
//
// UUIDv7 embeds a timestamp in its most significant bits, so ids sort by
// creation time in the journal.
//
// Thread-safety: stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate creates a new UUIDv7 as a hyphenated string.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}
