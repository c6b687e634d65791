package ir

// Version constants for the kernel schema and engine.
const (
	// SchemaVersion is the persisted schema version.
	SchemaVersion = "1"

	// EngineVersion is recorded on canonical events when the producer does
	// not supply one.
	EngineVersion = "0.1.0"
)
