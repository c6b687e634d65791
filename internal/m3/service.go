// Package m3 is the auxiliary recruit impact module. It reads Program Health
// through a read-only interface, computes advisory impacts, and persists them
// only when the module is available for the program and each rationale
// satisfies the contract. It owns the m3_impacts table and nothing else.
package m3

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"github.com/roach88/programhealth/internal/ir"
	"github.com/roach88/programhealth/internal/metrics"
	"github.com/roach88/programhealth/internal/moduleruntime"
	"github.com/roach88/programhealth/internal/rationale"
	"github.com/roach88/programhealth/internal/readmodel"
)

// maxSeverity is the top of the numeric severity scale.
const maxSeverity = 4.0

// ProgramHealthReader is everything M3 may see of Program Health.
// Implemented by *readmodel.Service.
type ProgramHealthReader interface {
	ReadProgramHealthView(ctx context.Context, programID string) (*readmodel.View, error)
}

// RuntimeReader reports the module's runtime state.
// Implemented by *moduleruntime.Resolver.
type RuntimeReader interface {
	ReadRuntimeState(ctx context.Context, t moduleruntime.Target) (ir.ModuleRuntimeState, error)
}

// Candidate is a recruit considered against one capability node.
type Candidate struct {
	RecruitID        string  `json:"recruitId" yaml:"recruit_id"`
	CapabilityNodeID string  `json:"capabilityNodeId" yaml:"capability_node_id"`
	Evidence         float64 `json:"evidence" yaml:"evidence"` // plausibility in [0, 1]
	CohortTier       string  `json:"cohortTier" yaml:"cohort_tier"`
}

// EvaluateRequest asks for an evaluation of candidates at one horizon.
type EvaluateRequest struct {
	Target     moduleruntime.Target `json:"target"`
	Horizon    ir.Horizon           `json:"horizon"` // default H1
	Candidates []Candidate          `json:"candidates"`
}

// Rejection is a computed impact whose rationale failed the contract.
type Rejection struct {
	RecruitID        string   `json:"recruitId"`
	CapabilityNodeID string   `json:"capabilityNodeId"`
	Errors           []string `json:"errors"`
}

// Evaluation is the outcome of DryRun or Evaluate.
type Evaluation struct {
	State     ir.ModuleRuntimeState `json:"state"`
	Impacts   []ir.ImpactRecord     `json:"impacts"`
	Rejected  []Rejection           `json:"rejected"`
	Skipped   []string              `json:"skipped"`
	Persisted int                   `json:"persisted"`
}

// Service is the M3 entry point.
type Service struct {
	health    ProgramHealthReader
	runtime   RuntimeReader
	impacts   *ImpactStore
	rationale rationale.Options
	logger    *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithRationale sets the contract options used when screening dry-run output.
func WithRationale(opts rationale.Options) Option {
	return func(s *Service) { s.rationale = opts }
}

// NewService creates the M3 service.
func NewService(health ProgramHealthReader, runtime RuntimeReader, impacts *ImpactStore, opts ...Option) *Service {
	s := &Service{health: health, runtime: runtime, impacts: impacts, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the module runtime state for the target.
func (s *Service) State(ctx context.Context, t moduleruntime.Target) (ir.ModuleRuntimeState, error) {
	return s.runtime.ReadRuntimeState(ctx, t)
}

// Impacts returns persisted impacts. It returns an empty list whenever the
// mode is not active_available, which is a normal state and not an error.
func (s *Service) Impacts(ctx context.Context, t moduleruntime.Target, horizon *ir.Horizon) ([]ir.ImpactRecord, error) {
	state, err := s.State(ctx, t)
	if err != nil {
		return nil, err
	}
	if !state.ImpactsAvailable() {
		return []ir.ImpactRecord{}, nil
	}

	out, err := s.impacts.List(ctx, state.ProgramID, horizon)
	if ir.IsCode(err, ir.ErrCodeMissingSchemaObject) {
		s.logger.Warn("impacts table missing, reporting no impacts", "program_id", state.ProgramID, "table", ImpactsTable)
		return []ir.ImpactRecord{}, nil
	}
	return out, err
}

// DryRun computes provisional impacts without writing anything.
//
// A candidate produces an impact only when its node is an active capability
// node carrying at least one absence. The score is the candidate's evidence
// scaled by the node's highest absence severity.
func (s *Service) DryRun(ctx context.Context, req EvaluateRequest) (Evaluation, error) {
	state, err := s.State(ctx, req.Target)
	if err != nil {
		return Evaluation{}, err
	}

	horizon := req.Horizon
	if horizon == "" {
		horizon = ir.H1
	}
	if !horizon.Valid() {
		return Evaluation{}, ir.InvalidArgument("dryRun", "invalid horizon %q", horizon)
	}

	view, err := s.health.ReadProgramHealthView(ctx, state.ProgramID)
	if err != nil {
		return Evaluation{}, err
	}

	nodes := make(map[string]ir.CapabilityNode, len(view.CapabilityNodes))
	for _, n := range view.CapabilityNodes {
		nodes[n.ID] = n
	}
	pressure := nodePressure(view.Absences)

	var provenance string
	if snap := view.LatestSnapshotsByHorizon[horizon]; snap != nil {
		provenance = snap.LedgerID
	}

	ev := Evaluation{State: state, Impacts: []ir.ImpactRecord{}, Rejected: []Rejection{}, Skipped: []string{}}
	for _, c := range req.Candidates {
		node, ok := nodes[c.CapabilityNodeID]
		if !ok {
			ev.Skipped = append(ev.Skipped, fmt.Sprintf("%s: capability node %s is not active", c.RecruitID, c.CapabilityNodeID))
			continue
		}
		p, ok := pressure[node.ID]
		if !ok {
			ev.Skipped = append(ev.Skipped, fmt.Sprintf("%s: capability node %s has no absences", c.RecruitID, node.ID))
			continue
		}
		if !(c.Evidence >= 0 && c.Evidence <= 1) {
			return Evaluation{}, ir.InvalidArgument("dryRun", "candidate %s evidence %v is outside [0, 1]", c.RecruitID, c.Evidence)
		}

		score := math.Round(c.Evidence*p.severity/maxSeverity*1000) / 1000
		tier := c.CohortTier
		if tier == "" {
			tier = "unranked"
		}
		rec := ir.ImpactRecord{
			ProgramID:        state.ProgramID,
			RecruitID:        c.RecruitID,
			CapabilityNodeID: node.ID,
			Horizon:          horizon,
			ImpactScore:      score,
			CohortTier:       tier,
			Rationale:        composeRationale(node.Name, p.absenceType, score, horizon),
			InputsHash: ir.MustImpactInputsHash(map[string]any{
				"programId":        state.ProgramID,
				"recruitId":        c.RecruitID,
				"capabilityNodeId": node.ID,
				"horizon":          string(horizon),
				"evidence":         c.Evidence,
				"ledgerId":         provenance,
			}),
		}

		if res := rationale.Validate(rec.Rationale, s.rationale); !res.OK {
			metrics.RationaleChecks.WithLabelValues("rejected").Inc()
			ev.Rejected = append(ev.Rejected, Rejection{RecruitID: c.RecruitID, CapabilityNodeID: node.ID, Errors: res.Errors})
			continue
		}
		metrics.RationaleChecks.WithLabelValues("accepted").Inc()
		ev.Impacts = append(ev.Impacts, rec)
	}

	sort.SliceStable(ev.Impacts, func(i, j int) bool {
		return ev.Impacts[i].ImpactScore > ev.Impacts[j].ImpactScore
	})
	return ev, nil
}

// Evaluate runs DryRun and, when persist is set, writes the accepted impacts.
// Persisting requires mode active_available.
func (s *Service) Evaluate(ctx context.Context, req EvaluateRequest, persist bool) (Evaluation, error) {
	ev, err := s.DryRun(ctx, req)
	if err != nil || !persist {
		return ev, err
	}
	if !ev.State.ImpactsAvailable() {
		return ev, ir.InvalidArgument("evaluate", "module %s is %s for program %s; impacts cannot be persisted",
			ev.State.RuntimeKey, ev.State.Mode, ev.State.ProgramID)
	}

	for i, rec := range ev.Impacts {
		saved, inserted, err := s.impacts.Insert(ctx, rec)
		if err != nil {
			return ev, ir.WithOp("evaluate", err)
		}
		ev.Impacts[i] = saved
		if inserted {
			ev.Persisted++
			metrics.ImpactsPersisted.Inc()
		}
	}

	s.logger.Info("m3 impacts persisted",
		"program_id", ev.State.ProgramID,
		"impacts", len(ev.Impacts),
		"persisted", ev.Persisted,
		"rejected", len(ev.Rejected),
	)
	return ev, nil
}

type pressureEntry struct {
	severity    float64
	absenceType string
}

// nodePressure returns the highest-severity absence per capability node.
// Absences without a severity count as the lowest level.
func nodePressure(absences []ir.AbsenceDetermination) map[string]pressureEntry {
	out := make(map[string]pressureEntry)
	for _, a := range absences {
		if a.CapabilityNodeID == nil {
			continue
		}
		sev := 1.0
		if a.Severity != nil {
			sev = math.Min(math.Max(*a.Severity, 0), maxSeverity)
		}
		cur, ok := out[*a.CapabilityNodeID]
		if !ok || sev > cur.severity {
			out[*a.CapabilityNodeID] = pressureEntry{severity: sev, absenceType: a.AbsenceType}
		}
	}
	return out
}

func composeRationale(nodeName, absenceType string, score float64, horizon ir.Horizon) string {
	framing := "secondary"
	if score >= 0.5 {
		framing = "primary"
	}
	if absenceType == "" {
		absenceType = "program"
	}
	return fmt.Sprintf(
		"Could pressure coverage of the %s gap because alignment to the %s capability is %s, supported by verified performance marks and coach notes for the %s window.",
		absenceType, nodeName, framing, horizon,
	)
}
