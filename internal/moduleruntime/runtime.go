// Package moduleruntime derives the runtime posture of an auxiliary module
// for a program.
//
// The posture is a pure function of two inputs: whether the module is
// active, and the eligibility determination for the program. Consumers gate
// impact displays on the resulting mode, never on activation alone.
package moduleruntime

import (
	"context"
	"time"

	"github.com/roach88/programhealth/internal/config"
	"github.com/roach88/programhealth/internal/ir"
)

// Reason codes attached by the resolver itself.
const (
	ReasonNotDetermined = "eligibility_not_determined"
	ReasonNoSnapshot    = "no_program_health_snapshot"
)

const op = "readRuntimeState"

// ModeFor is the runtime transition function.
func ModeFor(isActive bool, status ir.EligibilityStatus) ir.RuntimeMode {
	if !isActive {
		return ir.ModeInactive
	}
	if status == ir.EligibilityEligible {
		return ir.ModeActiveAvailable
	}
	return ir.ModeActiveUnavailable
}

// Target names the program directly or through a team.
type Target struct {
	ProgramID string `json:"programId,omitempty"`
	TeamID    string `json:"teamId,omitempty"`
}

// Directory resolves teams and answers whether a program has Program Health
// data. Implemented by *store.Store.
type Directory interface {
	ResolveTeamProgram(ctx context.Context, teamID string) (string, error)
	HasSnapshot(ctx context.Context, programID string) (bool, error)
}

// ModulesSource supplies the current activation file.
// Implemented by *config.ModulesLoader.
type ModulesSource interface {
	Modules() *config.ModulesFile
}

// Resolver reads runtime state for one module key.
type Resolver struct {
	dir     Directory
	modules ModulesSource
	key     string
	now     func() time.Time
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock overrides the clock used for ComputedAt.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

// NewResolver creates a resolver for the module registered under runtimeKey.
func NewResolver(dir Directory, modules ModulesSource, runtimeKey string, opts ...Option) *Resolver {
	r := &Resolver{dir: dir, modules: modules, key: runtimeKey, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RuntimeKey returns the module key this resolver reads.
func (r *Resolver) RuntimeKey() string { return r.key }

// ResolveProgramID returns the effective program for t. A team id resolves
// to its owning program; when both are given they must agree.
func (r *Resolver) ResolveProgramID(ctx context.Context, t Target) (string, error) {
	if t.TeamID == "" {
		if t.ProgramID == "" {
			return "", ir.InvalidArgument(op, "programId or teamId is required")
		}
		return t.ProgramID, nil
	}

	programID, err := r.dir.ResolveTeamProgram(ctx, t.TeamID)
	if err != nil {
		return "", ir.WithOp(op, err)
	}
	if t.ProgramID != "" && t.ProgramID != programID {
		return "", ir.InvalidArgument(op, "team %s belongs to program %s, not %s", t.TeamID, programID, t.ProgramID)
	}
	return programID, nil
}

// ReadRuntimeState evaluates activation and eligibility for the target's
// program. A program with no determination is unknown, which is distinct
// from ineligible.
func (r *Resolver) ReadRuntimeState(ctx context.Context, t Target) (ir.ModuleRuntimeState, error) {
	programID, err := r.ResolveProgramID(ctx, t)
	if err != nil {
		return ir.ModuleRuntimeState{}, err
	}

	mod := r.modules.Modules().Module(r.key)
	active := mod.Active
	status := mod.DefaultEligibility
	reasons := mod.DefaultReasonCodes

	if p, ok := mod.Programs[programID]; ok {
		if p.Active != nil {
			active = *p.Active
		}
		if p.Eligibility != "" {
			status = p.Eligibility
			reasons = p.ReasonCodes
		} else if p.ReasonCodes != nil {
			reasons = p.ReasonCodes
		}
	}
	if status == "" {
		status = ir.EligibilityUnknown
	}

	codes := append([]string{}, reasons...)
	if status == ir.EligibilityEligible {
		codes = []string{}
	}
	if status == ir.EligibilityUnknown && len(codes) == 0 {
		codes = []string{ReasonNotDetermined}
	}

	if active && mod.RequireSnapshot && status == ir.EligibilityEligible {
		has, err := r.dir.HasSnapshot(ctx, programID)
		if err != nil {
			return ir.ModuleRuntimeState{}, ir.WithOp(op, err)
		}
		if !has {
			status = ir.EligibilityIneligible
			codes = []string{ReasonNoSnapshot}
		}
	}

	return ir.ModuleRuntimeState{
		ProgramID:              programID,
		RuntimeKey:             r.key,
		IsActive:               active,
		EligibilityStatus:      status,
		EligibilityReasonCodes: codes,
		ComputedAt:             r.now().UTC(),
		Mode:                   ModeFor(active, status),
	}, nil
}
