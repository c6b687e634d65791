package ir

import "time"

// TimeLayout is the fixed-width UTC layout used for persisted timestamps.
// Text ordering of values in this layout equals chronological ordering.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// FormatTime renders t in TimeLayout.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a TimeLayout timestamp.
func ParseTime(s string) (time.Time, error) {
	return time.Parse(TimeLayout, s)
}

// DefaultEventKind is the kind recorded for Program Health evaluations.
const DefaultEventKind = "program_health_evaluation"

// CanonicalEventInput is what a producer submits for append.
type CanonicalEventInput struct {
	ProgramID     string         `json:"programId"`
	Kind          string         `json:"kind"`
	Sport         Sport          `json:"sport"`
	Horizon       Horizon        `json:"horizon"`
	InputsHash    string         `json:"inputsHash"`
	ResultPayload map[string]any `json:"resultPayload"`
	EngineVersion string         `json:"engineVersion"`
	ScopeID       *string        `json:"scopeId"`
	ActorUserID   *string        `json:"actorUserId"`
}

// CanonicalEvent is an immutable accepted fact.
type CanonicalEvent struct {
	ID            string         `json:"id"`
	Seq           int64          `json:"seq"` // Append order, strictly increasing
	ProgramID     string         `json:"programId"`
	Kind          string         `json:"kind"`
	Sport         Sport          `json:"sport"`
	Horizon       Horizon        `json:"horizon"`
	InputsHash    string         `json:"inputsHash"`
	PayloadDigest string         `json:"payloadDigest"` // Canonical digest of ResultPayload
	ResultPayload map[string]any `json:"resultPayload"`
	EngineVersion string         `json:"engineVersion"`
	ScopeID       *string        `json:"scopeId"`
	ActorUserID   *string        `json:"actorUserId"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// LedgerEntry is one-to-one with an accepted CanonicalEvent.
type LedgerEntry struct {
	ID               string    `json:"id"`
	CanonicalEventID string    `json:"canonicalEventId"`
	Seq              int64     `json:"seq"`
	CreatedAt        time.Time `json:"createdAt"`
}

// Projection is the outcome of projecting one canonical event.
type Projection struct {
	LedgerID         string `json:"ledgerId"`
	AbsencesUpserted int    `json:"absencesUpserted"`
	SnapshotWritten  bool   `json:"snapshotWritten"`
}

// EmitResult is returned by the emission procedure.
// Deduplicated is true when the emission matched an already accepted event
// and nothing was written.
type EmitResult struct {
	CanonicalEventID string `json:"canonicalEventId"`
	LedgerID         string `json:"ledgerId"`
	AbsencesUpserted int    `json:"absencesUpserted"`
	SnapshotWritten  bool   `json:"snapshotWritten"`
	Deduplicated     bool   `json:"deduplicated"`
}

// Snapshot is an append-only Program Health summary for one horizon.
type Snapshot struct {
	ID        string         `json:"id"`
	ProgramID string         `json:"programId"`
	Horizon   Horizon        `json:"horizon"`
	LedgerID  string         `json:"ledgerId"`
	Payload   map[string]any `json:"payload"`
	CreatedAt time.Time      `json:"createdAt"`
}

// AbsenceDetermination is the current-state record for one absence key.
type AbsenceDetermination struct {
	ID               string         `json:"id"`
	ProgramID        string         `json:"programId"`
	AbsenceKey       string         `json:"absenceKey"`
	AbsenceType      string         `json:"absenceType"`
	Severity         *float64       `json:"severity"`
	CapabilityNodeID *string        `json:"capabilityNodeId"`
	Details          map[string]any `json:"details"`
	LedgerID         string         `json:"ledgerId"`
	UpdatedAt        time.Time      `json:"updatedAt"`
}

// CapabilityNode is a structural reference owned by the capability graph.
type CapabilityNode struct {
	ID        string `json:"id"`
	ProgramID string `json:"programId"`
	Name      string `json:"name"`
	IsActive  bool   `json:"isActive"`
}

// ImpactRecord is an advisory M3 output. Its Rationale must satisfy the
// rationale contract before the record is accepted.
type ImpactRecord struct {
	ID               string    `json:"id"`
	ProgramID        string    `json:"programId"`
	RecruitID        string    `json:"recruitId"`
	CapabilityNodeID string    `json:"capabilityNodeId"`
	Horizon          Horizon   `json:"horizon"`
	ImpactScore      float64   `json:"impactScore"`
	CohortTier       string    `json:"cohortTier"`
	Rationale        string    `json:"rationale"`
	InputsHash       string    `json:"inputsHash"`
	CreatedAt        time.Time `json:"createdAt"`
}
