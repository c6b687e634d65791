package ir

import "time"

// RuntimeMode is the activation posture of an auxiliary module.
type RuntimeMode string

const (
	ModeInactive          RuntimeMode = "inactive"
	ModeActiveUnavailable RuntimeMode = "active_unavailable"
	ModeActiveAvailable   RuntimeMode = "active_available"
)

// EligibilityStatus is the outcome of an eligibility determination.
// Unknown means no determination was possible; it is not a negative result.
type EligibilityStatus string

const (
	EligibilityEligible   EligibilityStatus = "eligible"
	EligibilityIneligible EligibilityStatus = "ineligible"
	EligibilityUnknown    EligibilityStatus = "unknown"
)

// Valid reports whether s is a known status.
func (s EligibilityStatus) Valid() bool {
	switch s {
	case EligibilityEligible, EligibilityIneligible, EligibilityUnknown:
		return true
	}
	return false
}

// ModuleRuntimeState is the derived runtime posture of a module for a program.
type ModuleRuntimeState struct {
	ProgramID              string            `json:"programId"`
	RuntimeKey             string            `json:"runtimeKey"`
	IsActive               bool              `json:"isActive"`
	EligibilityStatus      EligibilityStatus `json:"eligibilityStatus"`
	EligibilityReasonCodes []string          `json:"eligibilityReasonCodes"`
	ComputedAt             time.Time         `json:"computedAt"`
	Mode                   RuntimeMode       `json:"mode"`
}

// ImpactsAvailable reports whether impact displays may be surfaced.
// Consumers gate on this, never on IsActive alone.
func (s ModuleRuntimeState) ImpactsAvailable() bool {
	return s.Mode == ModeActiveAvailable
}
