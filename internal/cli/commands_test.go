package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const acceptedRationale = "Could pressure coverage because alignment to the capability node is primary, supported by verified performance marks and coach notes."

type cliResult struct {
	stdout string
	stderr string
	err    error
}

func runCLI(t *testing.T, stdin string, args ...string) cliResult {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return cliResult{stdout: out.String(), stderr: errOut.String(), err: err}
}

// decodeData unmarshals the data field of a JSON CLI response into v.
func decodeData(t *testing.T, stdout string, v any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp), stdout)
	require.Equal(t, "ok", resp.Status, stdout)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func decodeError(t *testing.T, stdout string) CLIError {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp), stdout)
	require.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	return *resp.Error
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func emissionJSON(programID, horizon, inputsHash, label string) string {
	return fmt.Sprintf(`{
  "programId": %q,
  "sport": "xc",
  "horizon": %q,
  "inputsHash": %q,
  "resultPayload": {
    "summary": {"label": %q},
    "absences": [
      {"absence_key": "coverage:10k", "absence_type": "depth", "severity": "high", "capability_node_id": "node-1"}
    ]
  }
}`, programID, horizon, inputsHash, label)
}

type testEnv struct {
	dir string
	db  string
}

func newTestEnv(t *testing.T) testEnv {
	dir := t.TempDir()
	return testEnv{dir: dir, db: filepath.Join(dir, "ph.db")}
}

func (e testEnv) run(t *testing.T, args ...string) cliResult {
	t.Helper()
	return runCLI(t, "", append([]string{"--db", e.db}, args...)...)
}

func (e testEnv) emit(t *testing.T, programID, horizon, inputsHash, label string) cliResult {
	t.Helper()
	name := fmt.Sprintf("%s-%s-%s-%s.json", programID, horizon, inputsHash, label)
	path := writeFile(t, e.dir, name, emissionJSON(programID, horizon, inputsHash, label))
	return e.run(t, "--format", "json", "emit", path)
}

func TestEmitCommand_AcceptedThenDeduplicated(t *testing.T) {
	env := newTestEnv(t)

	res := env.emit(t, "prog-1", "H1", "h-1", "first")
	require.NoError(t, res.err, res.stdout)

	var first struct {
		CanonicalEventID string `json:"canonicalEventId"`
		LedgerID         string `json:"ledgerId"`
		AbsencesUpserted int    `json:"absencesUpserted"`
		SnapshotWritten  bool   `json:"snapshotWritten"`
		Deduplicated     bool   `json:"deduplicated"`
	}
	decodeData(t, res.stdout, &first)
	assert.NotEmpty(t, first.CanonicalEventID)
	assert.NotEmpty(t, first.LedgerID)
	assert.Equal(t, 1, first.AbsencesUpserted)
	assert.True(t, first.SnapshotWritten)
	assert.False(t, first.Deduplicated)

	res = env.emit(t, "prog-1", "H1", "h-1", "first")
	require.NoError(t, res.err, res.stdout)

	second := first
	decodeData(t, res.stdout, &second)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.CanonicalEventID, second.CanonicalEventID)
	assert.Equal(t, 0, second.AbsencesUpserted)
	assert.False(t, second.SnapshotWritten)
}

func TestEmitCommand_DivergentResubmission(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.emit(t, "prog-1", "H1", "h-1", "first").err)

	res := env.emit(t, "prog-1", "H1", "h-1", "changed")
	require.Error(t, res.err)
	assert.Equal(t, ExitFailure, GetExitCode(res.err))
	assert.Equal(t, "DIVERGENT_RESUBMISSION", decodeError(t, res.stdout).Code)
}

func TestEmitCommand_InvalidArgument(t *testing.T) {
	env := newTestEnv(t)

	res := env.emit(t, "", "H1", "h-1", "first")
	require.Error(t, res.err)
	assert.Equal(t, ExitFailure, GetExitCode(res.err))
	assert.Equal(t, "INVALID_ARGUMENT", decodeError(t, res.stdout).Code)
}

func TestEmitCommand_Stdin(t *testing.T) {
	env := newTestEnv(t)

	res := runCLI(t, emissionJSON("prog-1", "H2", "h-9", "piped"), "--db", env.db, "emit", "-")
	require.NoError(t, res.err, res.stdout)
	assert.Contains(t, res.stdout, "✓ Accepted prog-1 H2 (inputs hash h-9)")
	assert.Contains(t, res.stdout, "Absences upserted: 1")
}

func TestEmitCommand_UnreadableRequest(t *testing.T) {
	env := newTestEnv(t)

	res := runCLI(t, "{not json", "--db", env.db, "emit", "-")
	require.Error(t, res.err)
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))

	res = env.run(t, "emit", filepath.Join(env.dir, "missing.json"))
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))
}

func TestEmitCommand_TokenWithoutSecret(t *testing.T) {
	env := newTestEnv(t)
	path := writeFile(t, env.dir, "req.json", emissionJSON("prog-1", "H1", "h-1", "x"))

	res := env.run(t, "emit", "--token", "abc.def.ghi", path)
	require.Error(t, res.err)
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))
	assert.Contains(t, res.err.Error(), "jwt_secret")
}

func TestViewCommand(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.emit(t, "prog-1", "H2", "h-1", "two").err)
	require.NoError(t, env.emit(t, "prog-1", "H1", "h-2", "one").err)

	res := env.run(t, "--format", "json", "view", "prog-1")
	require.NoError(t, res.err, res.stdout)

	var view struct {
		ProgramID       string `json:"programId"`
		SnapshotHorizon string `json:"snapshotHorizon"`
		Snapshot        struct {
			Payload map[string]any `json:"payload"`
		} `json:"snapshot"`
		Absences []struct {
			AbsenceKey string   `json:"absenceKey"`
			Severity   *float64 `json:"severity"`
		} `json:"absences"`
	}
	decodeData(t, res.stdout, &view)
	assert.Equal(t, "prog-1", view.ProgramID)
	assert.Equal(t, "H1", view.SnapshotHorizon)
	assert.Equal(t, map[string]any{"label": "one"}, view.Snapshot.Payload)
	require.Len(t, view.Absences, 1)
	assert.Equal(t, "coverage:10k", view.Absences[0].AbsenceKey)
	require.NotNil(t, view.Absences[0].Severity)
	assert.Equal(t, 3.0, *view.Absences[0].Severity)

	res = env.run(t, "view", "prog-1")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Default horizon: H1")
	assert.Contains(t, res.stdout, "coverage:10k  type=depth severity=3 node=node-1")
}

func TestViewCommand_EmptyProgram(t *testing.T) {
	env := newTestEnv(t)

	res := env.run(t, "view", "nobody")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "No snapshots.")
	assert.Contains(t, res.stdout, "Absences (0):")
}

func TestEventsCommand(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.emit(t, "prog-1", "H1", "h-1", "a").err)
	require.NoError(t, env.emit(t, "prog-2", "H1", "h-2", "b").err)
	require.NoError(t, env.emit(t, "prog-1", "H2", "h-3", "c").err)

	type event struct {
		Seq        int64  `json:"seq"`
		ProgramID  string `json:"programId"`
		InputsHash string `json:"inputsHash"`
	}

	res := env.run(t, "--format", "json", "events", "--program", "prog-1")
	require.NoError(t, res.err, res.stdout)
	var events []event
	decodeData(t, res.stdout, &events)
	require.Len(t, events, 2)
	assert.Equal(t, "h-1", events[0].InputsHash)
	assert.Equal(t, "h-3", events[1].InputsHash)
	assert.Less(t, events[0].Seq, events[1].Seq)

	res = env.run(t, "--format", "json", "events", "--limit", "1")
	require.NoError(t, res.err)
	events = nil
	decodeData(t, res.stdout, &events)
	require.Len(t, events, 1)
	assert.Equal(t, "h-1", events[0].InputsHash)
}

func TestEventsCommand_Empty(t *testing.T) {
	env := newTestEnv(t)

	res := env.run(t, "events")
	require.NoError(t, res.err)
	assert.Equal(t, "No events found.\n", res.stdout)
}

func TestAuditCommand(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.emit(t, "prog-1", "H1", "h-1", "a").err)
	require.NoError(t, env.emit(t, "prog-1", "H1", "h-1", "a").err)

	res := env.run(t, "audit", "prog-1")
	require.NoError(t, res.err, res.stdout)
	assert.Equal(t, "✓ prog-1: events=1 ledger=1 snapshots=1 absences=1\n", res.stdout)
}

func TestRationaleCommand(t *testing.T) {
	res := runCLI(t, "", "rationale", acceptedRationale)
	require.NoError(t, res.err)
	assert.Equal(t, "✓ Rationale satisfies the contract\n", res.stdout)

	res = runCLI(t, "", "--format", "json", "rationale", "--require-temporal", acceptedRationale)
	require.Error(t, res.err)
	assert.Equal(t, ExitFailure, GetExitCode(res.err))
	var out struct {
		OK         bool `json:"ok"`
		Violations []struct {
			Rule string `json:"rule"`
		} `json:"violations"`
	}
	decodeData(t, res.stdout, &out)
	assert.False(t, out.OK)
	require.Len(t, out.Violations, 1)
	assert.Equal(t, "temporal", out.Violations[0].Rule)
}

func TestRationaleCommand_Sources(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "r.txt", acceptedRationale+"\n")

	assert.NoError(t, runCLI(t, "", "rationale", "--file", path).err)
	assert.NoError(t, runCLI(t, acceptedRationale, "rationale", "--file", "-").err)

	res := runCLI(t, "", "rationale")
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))

	res = runCLI(t, "", "rationale", "--file", path, acceptedRationale)
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))
}

func TestRationaleCommand_MaxLengthFromConfig(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "phk.yaml", "rationale:\n  max_length: 40\n")

	res := runCLI(t, "", "--config", cfg, "rationale", acceptedRationale)
	require.Error(t, res.err)
	assert.Contains(t, res.stdout, "[length]")

	// The flag wins over the config file.
	res = runCLI(t, "", "--config", cfg, "rationale", "--max-length", "420", acceptedRationale)
	assert.NoError(t, res.err)
}

const nodesYAML = `- id: node-1
  program_id: prog-1
  name: distance
  active: true
- id: node-2
  program_id: prog-1
  name: speed
  active: false
`

const candidatesYAML = `- recruit_id: r-1
  capability_node_id: node-1
  evidence: 0.8
  cohort_tier: A
- recruit_id: r-2
  capability_node_id: node-2
  evidence: 0.5
`

func TestSeedCommands(t *testing.T) {
	env := newTestEnv(t)
	nodes := writeFile(t, env.dir, "nodes.yaml", nodesYAML)

	res := env.run(t, "seed", "nodes", nodes)
	require.NoError(t, res.err, res.stdout)
	assert.Equal(t, "✓ Wrote 2 capability node(s)\n", res.stdout)

	res = env.run(t, "seed", "team", "team-1", "prog-1")
	require.NoError(t, res.err)
	assert.Equal(t, "✓ Team team-1 -> program prog-1\n", res.stdout)

	res = env.run(t, "view", "prog-1")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Active capability nodes (1):")
	assert.Contains(t, res.stdout, "node-1  distance")

	bad := writeFile(t, env.dir, "bad.yaml", "- id: n\n  colour: red\n")
	res = env.run(t, "seed", "nodes", bad)
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))
}

func TestM3Commands_InactiveByDefault(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.run(t, "seed", "team", "team-1", "prog-1").err)

	res := env.run(t, "--format", "json", "m3", "state", "--team", "team-1")
	require.NoError(t, res.err, res.stdout)
	var state struct {
		ProgramID string `json:"programId"`
		IsActive  bool   `json:"isActive"`
		Mode      string `json:"mode"`
	}
	decodeData(t, res.stdout, &state)
	assert.Equal(t, "prog-1", state.ProgramID)
	assert.False(t, state.IsActive)
	assert.Equal(t, "inactive", state.Mode)

	res = env.run(t, "m3", "impacts", "--program", "prog-1")
	require.NoError(t, res.err)
	assert.Equal(t, "Mode: inactive\nNo impacts.\n", res.stdout)

	// Persisting is refused unless the module is active and the program eligible.
	cands := writeFile(t, env.dir, "c.yaml", candidatesYAML)
	res = env.run(t, "--format", "json", "m3", "evaluate", "--program", "prog-1", "--candidates", cands, "--persist")
	require.Error(t, res.err)
	assert.Equal(t, "INVALID_ARGUMENT", decodeError(t, res.stdout).Code)
}

func TestM3Commands_ActiveEvaluateAndPersist(t *testing.T) {
	env := newTestEnv(t)
	modules := writeFile(t, env.dir, "modules.yaml", `modules:
  m3:
    active: true
    default_eligibility: eligible
`)
	cfg := writeFile(t, env.dir, "phk.yaml", fmt.Sprintf("database:\n  dsn: %s\nm3:\n  modules_file: %s\n", env.db, modules))
	run := func(args ...string) cliResult {
		return runCLI(t, "", append([]string{"--config", cfg}, args...)...)
	}

	require.NoError(t, run("seed", "nodes", writeFile(t, env.dir, "nodes.yaml", nodesYAML)).err)
	require.NoError(t, env.emit(t, "prog-1", "H1", "h-1", "first").err)
	require.NoError(t, run("m3", "migrate").err)

	cands := writeFile(t, env.dir, "c.yaml", candidatesYAML)

	// Dry run writes nothing.
	res := run("--format", "json", "m3", "evaluate", "--program", "prog-1", "--candidates", cands)
	require.NoError(t, res.err, res.stdout)
	var eval struct {
		State struct {
			Mode string `json:"mode"`
		} `json:"state"`
		Impacts []struct {
			RecruitID   string  `json:"recruitId"`
			ImpactScore float64 `json:"impactScore"`
			Rationale   string  `json:"rationale"`
		} `json:"impacts"`
		Skipped   []string `json:"skipped"`
		Persisted int      `json:"persisted"`
	}
	decodeData(t, res.stdout, &eval)
	assert.Equal(t, "active_available", eval.State.Mode)
	require.Len(t, eval.Impacts, 1)
	assert.Equal(t, "r-1", eval.Impacts[0].RecruitID)
	assert.InDelta(t, 0.6, eval.Impacts[0].ImpactScore, 1e-9)
	assert.Len(t, eval.Skipped, 1, "inactive node-2 is skipped")
	assert.Equal(t, 0, eval.Persisted)

	res = run("m3", "impacts", "--program", "prog-1")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "No impacts.")

	res = run("--format", "json", "m3", "evaluate", "--program", "prog-1", "--candidates", cands, "--persist")
	require.NoError(t, res.err, res.stdout)
	decodeData(t, res.stdout, &eval)
	assert.Equal(t, 1, eval.Persisted)

	res = run("m3", "impacts", "--program", "prog-1", "--horizon", "H1")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "Mode: active_available")
	assert.Contains(t, res.stdout, "0.600  r-1 -> node-1  [H1]")

	res = run("m3", "impacts", "--program", "prog-1", "--horizon", "H9")
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))
}

func TestIsolationCommand(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.emit(t, "prog-1", "H1", "h-1", "a").err)

	res := env.run(t, "--format", "json", "isolation-test", "--program", "prog-1")
	require.NoError(t, res.err, res.stdout)

	var report struct {
		OK                    bool `json:"ok"`
		ProgramHealthMutation bool `json:"programHealthMutation"`
		Tables                []struct {
			Table  string `json:"table"`
			Status string `json:"status"`
		} `json:"tables"`
	}
	decodeData(t, res.stdout, &report)
	assert.True(t, report.OK)
	assert.False(t, report.ProgramHealthMutation)

	statuses := make(map[string]string, len(report.Tables))
	for _, tr := range report.Tables {
		statuses[tr.Table] = tr.Status
	}
	assert.Equal(t, "ok", statuses["program_health_ledger"])
	assert.Equal(t, "skipped_missing_table", statuses["m3_impacts"])
}

func TestIsolationCommand_CandidatesFile(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.run(t, "seed", "nodes", writeFile(t, env.dir, "nodes.yaml", nodesYAML)).err)
	require.NoError(t, env.emit(t, "prog-1", "H1", "h-1", "a").err)

	// Without --candidates the active node gets one synthetic candidate.
	res := env.run(t, "--format", "json", "isolation-test", "--program", "prog-1")
	require.NoError(t, res.err, res.stdout)
	var report struct {
		OK               bool `json:"ok"`
		DryRunCandidates int  `json:"dryRunCandidates"`
		DryRunImpacts    int  `json:"dryRunImpacts"`
	}
	decodeData(t, res.stdout, &report)
	assert.True(t, report.OK)
	assert.Equal(t, 1, report.DryRunCandidates)
	assert.Positive(t, report.DryRunImpacts)

	cands := writeFile(t, env.dir, "c.yaml", candidatesYAML)
	res = env.run(t, "--format", "json", "isolation-test", "--program", "prog-1", "--candidates", cands)
	require.NoError(t, res.err, res.stdout)
	decodeData(t, res.stdout, &report)
	assert.True(t, report.OK)
	assert.Equal(t, 2, report.DryRunCandidates)

	res = env.run(t, "isolation-test", "--program", "prog-1", "--candidates", filepath.Join(env.dir, "missing.yaml"))
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))
}

func TestScenarioCommand(t *testing.T) {
	dir := filepath.Join("..", "harness", "testdata", "scenarios")

	res := runCLI(t, "", "--format", "json", "scenario", dir)
	require.NoError(t, res.err, res.stdout)

	var out ScenarioRunResult
	decodeData(t, res.stdout, &out)
	assert.Equal(t, 3, out.Total)
	assert.Equal(t, 3, out.Passed)
	assert.Equal(t, 0, out.Failed)

	res = runCLI(t, "", "scenario", dir, "--filter", "resub*")
	require.NoError(t, res.err)
	assert.Contains(t, res.stdout, "✓ resubmission")
	assert.Contains(t, res.stdout, "1 passed, 0 failed, 1 total")
}

func TestScenarioCommand_FailingAssertion(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "bad.yaml", `name: bad
description: "Expected label does not match"
emissions:
  - program_id: prog-1
    sport: xc
    horizon: H1
    inputs_hash: h-1
    payload:
      summary:
        label: first
assertions:
  - type: latest_snapshot
    program_id: prog-1
    horizon: H1
    expect:
      label: other
`)

	res := runCLI(t, "", "scenario", path)
	require.Error(t, res.err)
	assert.Equal(t, ExitFailure, GetExitCode(res.err))
	assert.Contains(t, res.stdout, "✗ bad")
	assert.Contains(t, res.stdout, "label=")
}

func TestScenarioCommand_UpdateWritesGolden(t *testing.T) {
	root := t.TempDir()
	scenarios := filepath.Join(root, "scenarios")
	require.NoError(t, os.MkdirAll(scenarios, 0755))
	path := writeFile(t, scenarios, "one.yaml", `name: one
description: "Single H0 emission"
emissions:
  - program_id: prog-1
    sport: xc
    horizon: H0
    inputs_hash: h-1
    payload:
      summary:
        label: only
assertions:
  - type: default_horizon
    program_id: prog-1
    horizon: H0
`)

	require.NoError(t, runCLI(t, "", "scenario", "--update", path).err)
	golden := filepath.Join(root, "golden", "one.golden")
	data, err := os.ReadFile(golden)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"scenario_name":"one"`)

	// A matching golden passes, a stale one fails.
	require.NoError(t, runCLI(t, "", "scenario", path).err)
	require.NoError(t, os.WriteFile(golden, []byte("{}"), 0644))
	res := runCLI(t, "", "scenario", path)
	require.Error(t, res.err)
	assert.Contains(t, res.stdout, "does not match golden file")
}

func TestScenarioCommand_MissingPath(t *testing.T) {
	res := runCLI(t, "", "scenario", filepath.Join(t.TempDir(), "nope"))
	assert.Equal(t, ExitCommandError, GetExitCode(res.err))
}
