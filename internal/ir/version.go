package ir

// Version constants for the rule schema and engine.
const (
	// SchemaVersion is the rule schema version recorded in the journal.
	SchemaVersion = "1"

	// EngineVersion is the satisfy engine version.
	EngineVersion = "0.1.0"
)
