package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"

	"github.com/roach88/programhealth/internal/emission"
	"github.com/roach88/programhealth/internal/ir"
	"github.com/roach88/programhealth/internal/logging"
	"github.com/roach88/programhealth/internal/readmodel"
	"github.com/roach88/programhealth/internal/store"
	"github.com/roach88/programhealth/internal/testutil"
)

// Harness executes one scenario against its own store.
type Harness struct {
	store   *store.Store
	gateway *emission.Gateway
	views   *readmodel.Service
	logger  *slog.Logger
}

// Run executes a scenario in a fresh in-memory database and returns the
// result. The returned error covers setup failures only; mismatched
// expectations are reported in Result.Errors.
func Run(ctx context.Context, scenario *Scenario) (*Result, error) {
	st, err := store.Open(":memory:",
		store.WithClock(testutil.NewStepClock().Now),
		store.WithIDGenerator(ir.NewSequenceGenerator("row")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	logger := logging.Discard()
	gw, err := emission.NewGateway(st, emission.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}

	h := &Harness{
		store:   st,
		gateway: gw,
		views:   readmodel.NewService(st, logger),
		logger:  logger,
	}

	if err := h.seed(ctx, scenario); err != nil {
		return nil, err
	}

	result := NewResult()
	for i, step := range scenario.Emissions {
		h.emit(ctx, i, step, result)
	}

	for _, programID := range programIDs(scenario) {
		state, err := h.programState(ctx, programID)
		if err != nil {
			return nil, fmt.Errorf("failed to read program %s: %w", programID, err)
		}
		result.Programs[programID] = state
	}

	for i, a := range scenario.Assertions {
		if err := h.check(ctx, a); err != nil {
			result.AddError(fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}

	return result, nil
}

func (h *Harness) seed(ctx context.Context, scenario *Scenario) error {
	for _, n := range scenario.Nodes {
		node := ir.CapabilityNode{ID: n.ID, ProgramID: n.ProgramID, Name: n.Name, IsActive: n.Active}
		if err := h.store.PutCapabilityNode(ctx, node); err != nil {
			return fmt.Errorf("seed node %s: %w", n.ID, err)
		}
	}
	for _, t := range scenario.Teams {
		if err := h.store.PutTeam(ctx, t.ID, t.ProgramID); err != nil {
			return fmt.Errorf("seed team %s: %w", t.ID, err)
		}
	}
	return nil
}

// emit sends one step through the gateway and checks its expect clause.
func (h *Harness) emit(ctx context.Context, index int, step EmissionStep, result *Result) {
	payload, err := normalizePayload(step.Payload)
	if err != nil {
		result.AddError(fmt.Sprintf("emissions[%d]: %v", index, err))
		return
	}

	req := emission.Request{
		ProgramID:     step.ProgramID,
		Sport:         ir.Sport(step.Sport),
		Horizon:       ir.Horizon(step.Horizon),
		InputsHash:    step.InputsHash,
		ResultPayload: payload,
		Kind:          step.Kind,
	}
	res, err := h.gateway.Emit(ctx, req)

	sr := StepResult{
		Index:      index,
		ProgramID:  step.ProgramID,
		Horizon:    ir.Horizon(step.Horizon),
		InputsHash: step.InputsHash,
	}
	switch {
	case err != nil:
		sr.Outcome = OutcomeRejected
		sr.Code = string(ir.CodeOf(err))
	case res.Deduplicated:
		sr.Outcome = OutcomeDeduplicated
	default:
		sr.Outcome = OutcomeAccepted
		sr.AbsencesUpserted = res.AbsencesUpserted
		sr.SnapshotWritten = res.SnapshotWritten
	}
	result.Steps = append(result.Steps, sr)

	expect := step.Expect
	if expect == nil {
		expect = &ExpectClause{Outcome: OutcomeAccepted}
	}
	if sr.Outcome != expect.Outcome {
		msg := fmt.Sprintf("emissions[%d]: expected outcome %s, got %s", index, expect.Outcome, sr.Outcome)
		if err != nil {
			msg += fmt.Sprintf(" (%s: %v)", sr.Code, err)
		}
		result.AddError(msg)
		return
	}
	if expect.Code != "" && sr.Code != expect.Code {
		result.AddError(fmt.Sprintf("emissions[%d]: expected code %s, got %s", index, expect.Code, sr.Code))
	}
	if expect.AbsencesUpserted != nil && sr.AbsencesUpserted != *expect.AbsencesUpserted {
		result.AddError(fmt.Sprintf("emissions[%d]: expected %d absences upserted, got %d",
			index, *expect.AbsencesUpserted, sr.AbsencesUpserted))
	}
}

func (h *Harness) programState(ctx context.Context, programID string) (ProgramState, error) {
	view, err := h.views.ReadProgramHealthView(ctx, programID)
	if err != nil {
		return ProgramState{}, err
	}

	state := ProgramState{
		DefaultHorizon: view.SnapshotHorizon,
		Latest:         make(map[ir.Horizon]map[string]any),
		HistoryDepth:   make(map[ir.Horizon]int),
		Absences:       make([]AbsenceState, 0, len(view.Absences)),
		ActiveNodes:    make([]string, 0, len(view.CapabilityNodes)),
		Counts:         make(map[string]int64),
	}
	for _, hz := range ir.Horizons {
		if snap := view.LatestSnapshotsByHorizon[hz]; snap != nil {
			state.Latest[hz] = snap.Payload
		}
		state.HistoryDepth[hz] = len(view.SnapshotHistoryByHorizon[hz])
	}
	for _, a := range view.Absences {
		state.Absences = append(state.Absences, AbsenceState{
			AbsenceKey:       a.AbsenceKey,
			AbsenceType:      a.AbsenceType,
			Severity:         a.Severity,
			CapabilityNodeID: a.CapabilityNodeID,
		})
	}
	sort.Slice(state.Absences, func(i, j int) bool {
		return state.Absences[i].AbsenceKey < state.Absences[j].AbsenceKey
	})
	for _, n := range view.CapabilityNodes {
		state.ActiveNodes = append(state.ActiveNodes, n.ID)
	}
	for _, table := range store.ProgramHealthTables {
		n, err := h.store.CountRows(ctx, table, programID)
		if err != nil {
			return ProgramState{}, err
		}
		state.Counts[table] = n
	}
	return state, nil
}

// normalizePayload gives YAML-decoded payloads the same shape a JSON
// request body has.
func normalizePayload(payload map[string]any) (map[string]any, error) {
	if payload == nil {
		return nil, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("payload: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("payload: %w", err)
	}
	return out, nil
}

// programIDs lists every program the scenario touches, in first-seen order.
func programIDs(s *Scenario) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(id string) {
		if id == "" || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, id)
	}
	for _, n := range s.Nodes {
		add(n.ProgramID)
	}
	for _, t := range s.Teams {
		add(t.ProgramID)
	}
	for _, e := range s.Emissions {
		add(e.ProgramID)
	}
	return out
}
