// Package isolation verifies that the M3 module's read and dry-run paths
// leave Program Health and the impacts table untouched.
//
// The verifier counts every monitored table, runs the M3 paths, counts
// again, and compares. A failure on one table is recorded against that
// table and never stops the others, so a run always yields a full report.
package isolation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/roach88/programhealth/internal/ir"
	"github.com/roach88/programhealth/internal/m3"
	"github.com/roach88/programhealth/internal/metrics"
	"github.com/roach88/programhealth/internal/moduleruntime"
	"github.com/roach88/programhealth/internal/store"
)

// Per-table statuses.
const (
	StatusOK           = "ok"
	StatusChanged      = "changed"
	StatusSkippedTable = "skipped_missing_table"
	StatusError        = "error"
)

// Counter counts rows in a table, optionally for one program.
type Counter interface {
	CountRows(ctx context.Context, table, programID string) (int64, error)
}

// NodeLister lists a program's active capability nodes.
type NodeLister interface {
	ListActiveCapabilityNodes(ctx context.Context, programID string) ([]ir.CapabilityNode, error)
}

// Store is what the verifier reads from Program Health.
// Implemented by *store.Store.
type Store interface {
	Counter
	NodeLister
}

// Synthetic candidates used when a request carries none.
const (
	syntheticEvidence   = 0.5
	syntheticCohortTier = "isolation"
	syntheticPrefix     = "isolation:"
)

// ProgramResolver maps a team to its program.
// Implemented by *moduleruntime.Resolver.
type ProgramResolver interface {
	ResolveProgramID(ctx context.Context, t moduleruntime.Target) (string, error)
}

// Module is the M3 surface under test. Implemented by *m3.Service.
type Module interface {
	State(ctx context.Context, t moduleruntime.Target) (ir.ModuleRuntimeState, error)
	Impacts(ctx context.Context, t moduleruntime.Target, horizon *ir.Horizon) ([]ir.ImpactRecord, error)
	DryRun(ctx context.Context, req m3.EvaluateRequest) (m3.Evaluation, error)
}

// Request names the program directly or through a team. Candidates feed
// the dry runs; when empty, one synthetic candidate per active capability
// node is used so the scoring path always runs.
type Request struct {
	ProgramID  string         `json:"programId,omitempty"`
	TeamID     string         `json:"teamId,omitempty"`
	Candidates []m3.Candidate `json:"candidates,omitempty"`
}

// TableResult is the before/after comparison for one table.
type TableResult struct {
	Table  string `json:"table"`
	Before *int64 `json:"before"`
	After  *int64 `json:"after"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Report is the outcome of one isolation run.
type Report struct {
	ProgramID             string         `json:"programId"`
	TeamID                string         `json:"teamId,omitempty"`
	Mode                  ir.RuntimeMode `json:"mode,omitempty"`
	StartedAt             time.Time      `json:"startedAt"`
	FinishedAt            time.Time      `json:"finishedAt"`
	Tables                []TableResult  `json:"tables"`
	ProgramHealthMutation bool           `json:"programHealthMutation"`
	ImpactsWritten        bool           `json:"impactsWritten"`
	DryRunCandidates      int            `json:"dryRunCandidates"`
	DryRunImpacts         int            `json:"dryRunImpacts"`
	M3Errors              []string       `json:"m3Errors"`
	OK                    bool           `json:"ok"`
}

// Err returns an ISOLATION_VIOLATION describing the failures, or nil.
func (r Report) Err() error {
	if r.OK {
		return nil
	}
	var details []string
	for _, t := range r.Tables {
		switch t.Status {
		case StatusChanged:
			details = append(details, fmt.Sprintf("%s: %d -> %d", t.Table, *t.Before, *t.After))
		case StatusError:
			details = append(details, fmt.Sprintf("%s: %s", t.Table, t.Error))
		}
	}
	details = append(details, r.M3Errors...)
	return &ir.KernelError{
		Code:    ir.ErrCodeIsolationViolation,
		Op:      "runM3IsolationTest",
		Message: fmt.Sprintf("program %s failed isolation check", r.ProgramID),
		Details: details,
	}
}

// Verifier runs isolation checks.
type Verifier struct {
	store    Store
	resolver ProgramResolver
	module   Module
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithLogger sets the verifier logger.
func WithLogger(l *slog.Logger) Option {
	return func(v *Verifier) { v.logger = l }
}

// WithClock overrides the clock used for report timestamps.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) { v.now = now }
}

// NewVerifier creates a verifier.
func NewVerifier(st Store, resolver ProgramResolver, module Module, opts ...Option) *Verifier {
	v := &Verifier{store: st, resolver: resolver, module: module, logger: slog.Default(), now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// monitoredTables are counted on every run, Program Health first.
func monitoredTables() []string {
	return append(append([]string{}, store.ProgramHealthTables...), m3.ImpactsTable)
}

// Run executes the isolation check.
func (v *Verifier) Run(ctx context.Context, req Request) Report {
	report := Report{
		ProgramID: req.ProgramID,
		TeamID:    req.TeamID,
		StartedAt: v.now().UTC(),
		M3Errors:  []string{},
	}
	target := moduleruntime.Target{ProgramID: req.ProgramID, TeamID: req.TeamID}

	programID, err := v.resolver.ResolveProgramID(ctx, target)
	if err != nil {
		report.M3Errors = append(report.M3Errors, err.Error())
	} else {
		report.ProgramID = programID
	}

	tables := monitoredTables()
	before := v.countAll(ctx, tables, report.ProgramID)

	if err == nil {
		v.exercise(ctx, target, req.Candidates, &report)
	}

	after := v.countAll(ctx, tables, report.ProgramID)

	for i, table := range tables {
		res := compare(table, before[i], after[i])
		if res.Status == StatusChanged {
			if table == m3.ImpactsTable {
				report.ImpactsWritten = true
			} else {
				report.ProgramHealthMutation = true
			}
		}
		if res.Status == StatusSkippedTable {
			v.logger.Warn("isolation check skipped missing table", "program_id", report.ProgramID, "table", table)
		}
		report.Tables = append(report.Tables, res)
	}

	report.OK = !report.ProgramHealthMutation && !report.ImpactsWritten && len(report.M3Errors) == 0
	for _, t := range report.Tables {
		if t.Status == StatusError {
			report.OK = false
		}
	}
	report.FinishedAt = v.now().UTC()

	if report.OK {
		metrics.IsolationRuns.WithLabelValues("ok").Inc()
		v.logger.Info("isolation check passed", "program_id", report.ProgramID, "mode", report.Mode)
	} else {
		metrics.IsolationRuns.WithLabelValues("violation").Inc()
		v.logger.Error("isolation check failed",
			"program_id", report.ProgramID,
			"program_health_mutation", report.ProgramHealthMutation,
			"impacts_written", report.ImpactsWritten,
			"error", report.Err(),
		)
	}
	return report
}

// exercise runs the M3 read path and the dry-run path for every horizon,
// recording the mode, dry-run counts and any errors on the report.
func (v *Verifier) exercise(ctx context.Context, target moduleruntime.Target, candidates []m3.Candidate, report *Report) {
	state, err := v.module.State(ctx, target)
	if err != nil {
		report.M3Errors = append(report.M3Errors, fmt.Sprintf("state: %v", err))
	}
	report.Mode = state.Mode
	if _, err := v.module.Impacts(ctx, target, nil); err != nil {
		report.M3Errors = append(report.M3Errors, fmt.Sprintf("impacts: %v", err))
	}

	if len(candidates) == 0 {
		candidates, err = v.syntheticCandidates(ctx, report.ProgramID)
		if err != nil {
			report.M3Errors = append(report.M3Errors, fmt.Sprintf("candidates: %v", err))
		}
	}
	report.DryRunCandidates = len(candidates)

	for _, h := range ir.Horizons {
		ev, err := v.module.DryRun(ctx, m3.EvaluateRequest{Target: target, Horizon: h, Candidates: candidates})
		if err != nil {
			report.M3Errors = append(report.M3Errors, fmt.Sprintf("dry run %s: %v", h, err))
			continue
		}
		report.DryRunImpacts += len(ev.Impacts)
	}
}

// syntheticCandidates builds one mid-evidence candidate per active
// capability node of the program.
func (v *Verifier) syntheticCandidates(ctx context.Context, programID string) ([]m3.Candidate, error) {
	nodes, err := v.store.ListActiveCapabilityNodes(ctx, programID)
	if err != nil {
		return nil, err
	}
	out := make([]m3.Candidate, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, m3.Candidate{
			RecruitID:        syntheticPrefix + n.ID,
			CapabilityNodeID: n.ID,
			Evidence:         syntheticEvidence,
			CohortTier:       syntheticCohortTier,
		})
	}
	return out, nil
}

type countResult struct {
	n   int64
	err error
}

func (v *Verifier) countAll(ctx context.Context, tables []string, programID string) []countResult {
	out := make([]countResult, len(tables))
	for i, table := range tables {
		n, err := v.store.CountRows(ctx, table, programID)
		out[i] = countResult{n: n, err: err}
	}
	return out
}

func compare(table string, before, after countResult) TableResult {
	res := TableResult{Table: table}
	if before.err == nil {
		res.Before = &before.n
	}
	if after.err == nil {
		res.After = &after.n
	}

	switch {
	case ir.IsCode(before.err, ir.ErrCodeMissingSchemaObject) && ir.IsCode(after.err, ir.ErrCodeMissingSchemaObject):
		res.Status = StatusSkippedTable
	case before.err != nil:
		res.Status = StatusError
		res.Error = before.err.Error()
	case after.err != nil:
		res.Status = StatusError
		res.Error = after.err.Error()
	case before.n != after.n:
		res.Status = StatusChanged
	default:
		res.Status = StatusOK
	}
	return res
}
