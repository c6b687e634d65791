package harness

import "github.com/roach88/programhealth/internal/ir"

// StepResult records what the gateway did with one emission.
// Ids, digests and timestamps are left out so golden output stays stable.
type StepResult struct {
	Index            int        `json:"index"`
	ProgramID        string     `json:"program_id"`
	Horizon          ir.Horizon `json:"horizon"`
	InputsHash       string     `json:"inputs_hash"`
	Outcome          string     `json:"outcome"`
	Code             string     `json:"code,omitempty"`
	AbsencesUpserted int        `json:"absences_upserted"`
	SnapshotWritten  bool       `json:"snapshot_written"`
}

// ProgramState is the projected state of one program after the flow.
type ProgramState struct {
	DefaultHorizon *ir.Horizon                   `json:"default_horizon"`
	Latest         map[ir.Horizon]map[string]any `json:"latest"`
	HistoryDepth   map[ir.Horizon]int            `json:"history_depth"`
	Absences       []AbsenceState                `json:"absences"`
	ActiveNodes    []string                      `json:"active_nodes"`
	Counts         map[string]int64              `json:"counts"`
}

// AbsenceState is the stable part of a normalized absence determination.
type AbsenceState struct {
	AbsenceKey       string   `json:"absence_key"`
	AbsenceType      string   `json:"absence_type"`
	Severity         *float64 `json:"severity"`
	CapabilityNodeID *string  `json:"capability_node_id"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every expect clause and assertion matched.
	Pass bool `json:"pass"`

	// Steps holds one entry per emission, in order.
	Steps []StepResult `json:"steps"`

	// Errors contains expectation and assertion failures.
	// Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Programs is the final state keyed by program id.
	Programs map[string]ProgramState `json:"programs"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:     true,
		Steps:    []StepResult{},
		Errors:   []string{},
		Programs: make(map[string]ProgramState),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
